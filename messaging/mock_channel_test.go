package messaging

import (
	"context"

	"github.com/stretchr/testify/mock"
	amqp "github.com/rabbitmq/amqp091-go"
)

// mockChannel is a testify double for the Channel interface.
type mockChannel struct {
	mock.Mock
}

func (m *mockChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	callArgs := m.Called(name, kind, durable, autoDelete, internal, noWait, args)
	return callArgs.Error(0)
}

func (m *mockChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	callArgs := m.Called(name, durable, autoDelete, exclusive, noWait, args)
	return callArgs.Get(0).(amqp.Queue), callArgs.Error(1)
}

func (m *mockChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	callArgs := m.Called(name, key, exchange, noWait, args)
	return callArgs.Error(0)
}

func (m *mockChannel) QueueDelete(name string, ifUnused, ifEmpty, noWait bool) (int, error) {
	callArgs := m.Called(name, ifUnused, ifEmpty, noWait)
	return callArgs.Int(0), callArgs.Error(1)
}

func (m *mockChannel) QueuePurge(name string, noWait bool) (int, error) {
	callArgs := m.Called(name, noWait)
	return callArgs.Int(0), callArgs.Error(1)
}

func (m *mockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	callArgs := m.Called(ctx, exchange, key, mandatory, immediate, msg)
	return callArgs.Error(0)
}

func (m *mockChannel) Confirm(noWait bool) error {
	callArgs := m.Called(noWait)
	return callArgs.Error(0)
}

func (m *mockChannel) NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation {
	m.Called(confirm)
	return confirm
}

func (m *mockChannel) NotifyReturn(c chan amqp.Return) chan amqp.Return {
	m.Called(c)
	return c
}

func (m *mockChannel) Tx() error {
	callArgs := m.Called()
	return callArgs.Error(0)
}

func (m *mockChannel) TxCommit() error {
	callArgs := m.Called()
	return callArgs.Error(0)
}

func (m *mockChannel) TxRollback() error {
	callArgs := m.Called()
	return callArgs.Error(0)
}

func (m *mockChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	callArgs := m.Called(queue, consumer, autoAck, exclusive, noLocal, noWait, args)
	if ch := callArgs.Get(0); ch != nil {
		return ch.(chan amqp.Delivery), callArgs.Error(1)
	}
	return nil, callArgs.Error(1)
}

func (m *mockChannel) Cancel(consumer string, noWait bool) error {
	callArgs := m.Called(consumer, noWait)
	return callArgs.Error(0)
}

func (m *mockChannel) Get(queue string, autoAck bool) (amqp.Delivery, bool, error) {
	callArgs := m.Called(queue, autoAck)
	return callArgs.Get(0).(amqp.Delivery), callArgs.Bool(1), callArgs.Error(2)
}

func (m *mockChannel) Ack(tag uint64, multiple bool) error {
	callArgs := m.Called(tag, multiple)
	return callArgs.Error(0)
}

func (m *mockChannel) Nack(tag uint64, multiple, requeue bool) error {
	callArgs := m.Called(tag, multiple, requeue)
	return callArgs.Error(0)
}

func (m *mockChannel) Reject(tag uint64, requeue bool) error {
	callArgs := m.Called(tag, requeue)
	return callArgs.Error(0)
}

func (m *mockChannel) Recover(requeue bool) error {
	callArgs := m.Called(requeue)
	return callArgs.Error(0)
}

func (m *mockChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	callArgs := m.Called(prefetchCount, prefetchSize, global)
	return callArgs.Error(0)
}

func (m *mockChannel) Close() error {
	callArgs := m.Called()
	return callArgs.Error(0)
}

func (m *mockChannel) IsClosed() bool {
	callArgs := m.Called()
	return callArgs.Bool(0)
}
