package contracts

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("connection reset by peer")

	t.Run("topology error unwraps to the broker cause", func(t *testing.T) {
		err := &TopologyError{Component: "queue", Name: "jobs", Op: "declare", Err: cause, Timestamp: time.Now()}

		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), `declare queue "jobs"`)
	})

	t.Run("publish error carries routing context", func(t *testing.T) {
		err := &PublishError{Exchange: "orders", RoutingKey: "orders.new", Mandatory: true, Err: cause}

		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "orders/orders.new")
		assert.Contains(t, err.Error(), "mandatory=true")
	})

	t.Run("consume error carries consumer identity", func(t *testing.T) {
		err := &ConsumeError{Queue: "jobs", ConsumerTag: "worker-1", Op: "ack", Err: cause}

		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), `"worker-1"`)
		assert.Contains(t, err.Error(), `"jobs"`)
	})

	t.Run("connection error unwraps", func(t *testing.T) {
		err := &ConnectionError{Op: "dial", URL: "amqp://localhost", Err: cause}
		assert.ErrorIs(t, err, cause)
	})

	t.Run("option error lists every offending option", func(t *testing.T) {
		err := &OptionError{Op: "publish", Offending: []string{"negative timeout", "conflicting modes"}}

		assert.Contains(t, err.Error(), "negative timeout")
		assert.Contains(t, err.Error(), "conflicting modes")
	})
}

func TestSentinelErrorsAreDistinct(t *testing.T) {
	assert.NotErrorIs(t, ErrConfirmTimeout, ErrPublishNacked)
	assert.NotErrorIs(t, ErrNotInConfirmMode, ErrNotInTxMode)
	assert.NotErrorIs(t, ErrAlreadySubscribed, ErrNotSubscribed)
}
