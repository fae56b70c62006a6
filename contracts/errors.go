package contracts

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// Connection errors
	ErrConnectionClosed = errors.New("rabbitline: connection is closed")
	ErrChannelClosed    = errors.New("rabbitline: channel is closed")

	// Producer mode errors
	ErrNotInConfirmMode = errors.New("rabbitline: channel not in confirmation mode")
	ErrNotInTxMode      = errors.New("rabbitline: channel not in transactional mode")
	ErrModeAlreadySet   = errors.New("rabbitline: channel mode already set")

	// Confirmation outcomes
	ErrConfirmTimeout = errors.New("rabbitline: timed out waiting for publish confirmation")
	ErrPublishNacked  = errors.New("rabbitline: publish negatively acknowledged by broker")

	// Consumer errors
	ErrAlreadySubscribed = errors.New("rabbitline: consumer already subscribed")
	ErrNotSubscribed     = errors.New("rabbitline: consumer not subscribed")

	// General errors
	ErrUnknownFormatter = errors.New("rabbitline: unknown formatter")
	ErrProducerClosed   = errors.New("rabbitline: producer is closed")
	ErrConsumerClosed   = errors.New("rabbitline: consumer is closed")
)

// OptionError reports invalid option combinations, raised before any channel
// interaction takes place.
type OptionError struct {
	Op        string
	Offending []string
}

func (e *OptionError) Error() string {
	return fmt.Sprintf("rabbitline option error: %s: invalid options: %s",
		e.Op, strings.Join(e.Offending, ", "))
}

// ConnectionError represents a connection-level failure.
type ConnectionError struct {
	Op        string
	URL       string
	Err       error
	Timestamp time.Time
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("rabbitline connection error: %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TopologyError represents a failed exchange, queue or binding operation.
// The wrapped error carries the broker reason code and message.
type TopologyError struct {
	Component string // exchange, queue or binding
	Name      string
	Op        string
	Err       error
	Timestamp time.Time
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("rabbitline topology error: failed to %s %s %q: %v",
		e.Op, e.Component, e.Name, e.Err)
}

func (e *TopologyError) Unwrap() error {
	return e.Err
}

// PublishError represents a failed publish operation.
type PublishError struct {
	Exchange   string
	RoutingKey string
	Mandatory  bool
	Err        error
	Timestamp  time.Time
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("rabbitline publish error: failed to publish to %s/%s (mandatory=%v): %v",
		e.Exchange, e.RoutingKey, e.Mandatory, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// ConsumeError represents a failed consume-side operation.
type ConsumeError struct {
	Queue       string
	ConsumerTag string
	Op          string
	Err         error
	Timestamp   time.Time
}

func (e *ConsumeError) Error() string {
	return fmt.Sprintf("rabbitline consume error: %s failed for consumer %q on queue %q: %v",
		e.Op, e.ConsumerTag, e.Queue, e.Err)
}

func (e *ConsumeError) Unwrap() error {
	return e.Err
}
