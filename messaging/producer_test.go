package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/glimte/rabbitline/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	amqp "github.com/rabbitmq/amqp091-go"
)

func newTestProducer(t *testing.T, ch *mockChannel, options ...EndpointOption) *Producer {
	t.Helper()
	p, err := NewProducer(ch, options...)
	require.NoError(t, err)
	return p
}

// confirmProducer returns a producer in confirm mode together with the
// confirmation channel the broker side writes to.
func confirmProducer(t *testing.T, ch *mockChannel, options ...EndpointOption) (*Producer, chan amqp.Confirmation) {
	t.Helper()

	var confirms chan amqp.Confirmation
	ch.On("Confirm", false).Return(nil)
	ch.On("NotifyPublish", mock.Anything).Run(func(args mock.Arguments) {
		confirms = args.Get(0).(chan amqp.Confirmation)
	}).Return()

	p := newTestProducer(t, ch, options...)
	require.NoError(t, p.SetMode(ModeConfirm))
	require.NotNil(t, confirms)
	return p, confirms
}

func TestPublish(t *testing.T) {
	t.Run("publishes raw payload with default routing", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("QueueDeclare", "tasks", false, false, false, false, amqp.Table(nil)).
			Return(amqp.Queue{Name: "tasks"}, nil)
		ch.On("PublishWithContext", mock.Anything, "", "tasks", false, false, mock.Anything).Return(nil)

		p := newTestProducer(t, ch, WithQueueDeclare("tasks"))
		err := p.Publish(context.Background(), []byte("hello"))

		assert.NoError(t, err)
		publishing := ch.Calls[len(ch.Calls)-1].Arguments[5].(amqp.Publishing)
		assert.Equal(t, []byte("hello"), publishing.Body)
		assert.Equal(t, "application/octet-stream", publishing.ContentType)
		assert.NotEmpty(t, publishing.MessageId)
	})

	t.Run("attaches headers to raw payload properties", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("PublishWithContext", mock.Anything, "", "jobs", false, false, mock.Anything).Return(nil)

		p := newTestProducer(t, ch, WithQueue("jobs"))
		err := p.Publish(context.Background(), []byte("x"),
			WithHeaders(map[string]interface{}{"retry": int32(3)}),
		)

		assert.NoError(t, err)
		publishing := ch.Calls[len(ch.Calls)-1].Arguments[5].(amqp.Publishing)
		assert.Equal(t, int32(3), publishing.Headers["retry"])
	})

	t.Run("envelope properties win and headers option is dropped", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("PublishWithContext", mock.Anything, "", "jobs", false, false, mock.Anything).Return(nil)

		p := newTestProducer(t, ch, WithQueue("jobs"))
		msg := contracts.NewMessage([]byte("payload"), contracts.WithProperties(contracts.Properties{
			MessageID:     "m-1",
			CorrelationID: "corr-9",
			ContentType:   "text/plain",
		}))

		err := p.Publish(context.Background(), msg,
			WithHeaders(map[string]interface{}{"ignored": true}),
		)

		assert.NoError(t, err)
		publishing := ch.Calls[len(ch.Calls)-1].Arguments[5].(amqp.Publishing)
		assert.Equal(t, "m-1", publishing.MessageId)
		assert.Equal(t, "corr-9", publishing.CorrelationId)
		assert.Equal(t, "text/plain", publishing.ContentType)
		assert.NotContains(t, publishing.Headers, "ignored")
	})

	t.Run("overrides exchange and routing key per publish", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("PublishWithContext", mock.Anything, "audit", "audit.trace", true, false, mock.Anything).Return(nil)

		p := newTestProducer(t, ch, WithQueue("jobs"))
		err := p.Publish(context.Background(), []byte("x"),
			WithPublishExchange("audit"),
			WithRoutingKey("audit.trace"),
			WithMandatory(true),
		)

		assert.NoError(t, err)
		ch.AssertExpectations(t)
	})

	t.Run("applies formatter override", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("PublishWithContext", mock.Anything, "", "jobs", false, false, mock.Anything).Return(nil)

		p := newTestProducer(t, ch, WithQueue("jobs"))
		err := p.Publish(context.Background(), map[string]interface{}{"n": 1}, WithFormatter("json"))

		assert.NoError(t, err)
		publishing := ch.Calls[len(ch.Calls)-1].Arguments[5].(amqp.Publishing)
		assert.JSONEq(t, `{"n":1}`, string(publishing.Body))
		assert.Equal(t, "application/json", publishing.ContentType)
	})

	t.Run("rejects inconsistent options before touching the channel", func(t *testing.T) {
		ch := &mockChannel{}

		p := newTestProducer(t, ch, WithQueue("jobs"))
		err := p.Publish(context.Background(), []byte("x"), WithConfirmTimeout(time.Second))

		var optErr *contracts.OptionError
		assert.ErrorAs(t, err, &optErr)
		assert.Contains(t, optErr.Offending[0], "confirm timeout requires await confirm")
		ch.AssertNotCalled(t, "PublishWithContext",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("await confirm outside confirm mode fails with mode signal", func(t *testing.T) {
		ch := &mockChannel{}

		p := newTestProducer(t, ch, WithQueue("jobs"))
		err := p.Publish(context.Background(), []byte("x"), WithAwaitConfirm(true))

		assert.ErrorIs(t, err, contracts.ErrNotInConfirmMode)
		ch.AssertNotCalled(t, "PublishWithContext",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("fails after shutdown", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("IsClosed").Return(true)

		p := newTestProducer(t, ch, WithQueue("jobs"))
		require.NoError(t, p.Shutdown())

		err := p.Publish(context.Background(), []byte("x"))
		assert.ErrorIs(t, err, contracts.ErrProducerClosed)
	})
}

func TestPublishConfirm(t *testing.T) {
	t.Run("returns once the broker confirms", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("PublishWithContext", mock.Anything, "", "jobs", false, false, mock.Anything).Return(nil)

		p, confirms := confirmProducer(t, ch, WithQueue("jobs"))
		confirms <- amqp.Confirmation{DeliveryTag: 1, Ack: true}

		err := p.Publish(context.Background(), []byte("x"), WithAwaitConfirm(true))
		assert.NoError(t, err)
	})

	t.Run("broker nack is distinguishable from timeout", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("PublishWithContext", mock.Anything, "", "jobs", false, false, mock.Anything).Return(nil)

		p, confirms := confirmProducer(t, ch, WithQueue("jobs"))
		confirms <- amqp.Confirmation{DeliveryTag: 1, Ack: false}

		err := p.Publish(context.Background(), []byte("x"), WithAwaitConfirm(true))
		assert.ErrorIs(t, err, contracts.ErrPublishNacked)
		assert.NotErrorIs(t, err, contracts.ErrConfirmTimeout)
	})

	t.Run("bounded wait expires with timeout signal", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("PublishWithContext", mock.Anything, "", "jobs", false, false, mock.Anything).Return(nil)

		p, _ := confirmProducer(t, ch, WithQueue("jobs"))

		err := p.Publish(context.Background(), []byte("x"),
			WithAwaitConfirm(true),
			WithConfirmTimeout(20*time.Millisecond),
		)
		assert.ErrorIs(t, err, contracts.ErrConfirmTimeout)
	})
}

func TestAwaitConfirms(t *testing.T) {
	t.Run("requires confirm mode", func(t *testing.T) {
		ch := &mockChannel{}

		p := newTestProducer(t, ch, WithQueue("jobs"))
		err := p.AwaitConfirms(context.Background(), 0)

		assert.ErrorIs(t, err, contracts.ErrNotInConfirmMode)
	})

	t.Run("returns nil when all outstanding publishes are acked", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("PublishWithContext", mock.Anything, "", "jobs", false, false, mock.Anything).Return(nil)

		p, confirms := confirmProducer(t, ch, WithQueue("jobs"))
		require.NoError(t, p.Publish(context.Background(), []byte("a")))
		require.NoError(t, p.Publish(context.Background(), []byte("b")))

		confirms <- amqp.Confirmation{DeliveryTag: 1, Ack: true}
		confirms <- amqp.Confirmation{DeliveryTag: 2, Ack: true}

		assert.NoError(t, p.AwaitConfirms(context.Background(), time.Second))
	})

	t.Run("reports negative acknowledgment", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("PublishWithContext", mock.Anything, "", "jobs", false, false, mock.Anything).Return(nil)

		p, confirms := confirmProducer(t, ch, WithQueue("jobs"))
		require.NoError(t, p.Publish(context.Background(), []byte("a")))
		require.NoError(t, p.Publish(context.Background(), []byte("b")))

		confirms <- amqp.Confirmation{DeliveryTag: 1, Ack: true}
		confirms <- amqp.Confirmation{DeliveryTag: 2, Ack: false}

		assert.ErrorIs(t, p.AwaitConfirms(context.Background(), time.Second), contracts.ErrPublishNacked)
	})

	t.Run("times out on missing confirmations", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("PublishWithContext", mock.Anything, "", "jobs", false, false, mock.Anything).Return(nil)

		p, _ := confirmProducer(t, ch, WithQueue("jobs"))
		require.NoError(t, p.Publish(context.Background(), []byte("a")))

		assert.ErrorIs(t, p.AwaitConfirms(context.Background(), 20*time.Millisecond), contracts.ErrConfirmTimeout)
	})
}

func TestTransactions(t *testing.T) {
	t.Run("commit finalizes publishes since the last commit", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("Tx").Return(nil)
		ch.On("PublishWithContext", mock.Anything, "", "jobs", false, false, mock.Anything).Return(nil)
		ch.On("TxCommit").Return(nil)

		p := newTestProducer(t, ch, WithQueue("jobs"))
		require.NoError(t, p.SetMode(ModeTx))
		require.NoError(t, p.Publish(context.Background(), []byte("a")))

		assert.NoError(t, p.Commit())
		ch.AssertExpectations(t)
	})

	t.Run("rollback discards publishes", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("Tx").Return(nil)
		ch.On("PublishWithContext", mock.Anything, "", "jobs", false, false, mock.Anything).Return(nil)
		ch.On("TxRollback").Return(nil)

		p := newTestProducer(t, ch, WithQueue("jobs"))
		require.NoError(t, p.SetMode(ModeTx))
		require.NoError(t, p.Publish(context.Background(), []byte("a")))

		assert.NoError(t, p.Rollback())
		ch.AssertExpectations(t)
	})

	t.Run("commit and rollback require tx mode", func(t *testing.T) {
		ch := &mockChannel{}

		p := newTestProducer(t, ch, WithQueue("jobs"))

		assert.ErrorIs(t, p.Commit(), contracts.ErrNotInTxMode)
		assert.ErrorIs(t, p.Rollback(), contracts.ErrNotInTxMode)
	})

	t.Run("confirm and tx modes are mutually exclusive", func(t *testing.T) {
		ch := &mockChannel{}

		p, _ := confirmProducer(t, ch, WithQueue("jobs"))

		assert.ErrorIs(t, p.SetMode(ModeTx), contracts.ErrModeAlreadySet)
		ch.AssertNotCalled(t, "Tx")
	})

	t.Run("setting the same mode twice is a no-op", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("Tx").Return(nil).Once()

		p := newTestProducer(t, ch, WithQueue("jobs"))
		require.NoError(t, p.SetMode(ModeTx))

		assert.NoError(t, p.SetMode(ModeTx))
		ch.AssertExpectations(t)
	})
}

func TestProducerSink(t *testing.T) {
	t.Run("publishes each payload with default options", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("PublishWithContext", mock.Anything, "", "jobs", false, false, mock.Anything).Return(nil).Times(3)

		p := newTestProducer(t, ch, WithQueue("jobs"))
		err := p.PublishEach(context.Background(), [][]byte{[]byte("a"), []byte("b"), []byte("c")})

		assert.NoError(t, err)
		ch.AssertExpectations(t)
	})

	t.Run("drains a payload channel until closed", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("PublishWithContext", mock.Anything, "", "jobs", false, false, mock.Anything).Return(nil).Times(2)

		p := newTestProducer(t, ch, WithQueue("jobs"))

		payloads := make(chan []byte, 2)
		payloads <- []byte("a")
		payloads <- []byte("b")
		close(payloads)

		assert.NoError(t, p.Sink(context.Background(), payloads))
		ch.AssertExpectations(t)
	})

	t.Run("stops on context cancellation", func(t *testing.T) {
		ch := &mockChannel{}

		p := newTestProducer(t, ch, WithQueue("jobs"))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := p.Sink(ctx, make(chan []byte))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

type fakeCloser struct {
	closed int
}

func (f *fakeCloser) Close() error {
	f.closed++
	return nil
}

func TestProducerShutdown(t *testing.T) {
	t.Run("closes the owned connection once", func(t *testing.T) {
		ch := &mockChannel{}
		closer := &fakeCloser{}

		p := newTestProducer(t, ch, WithQueue("jobs"), WithShutdownCloser(closer))

		assert.NoError(t, p.Shutdown())
		assert.NoError(t, p.Shutdown())
		assert.Equal(t, 1, closer.closed)
	})

	t.Run("releases the channel when nothing is owned", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("IsClosed").Return(false)
		ch.On("Close").Return(nil).Once()

		p := newTestProducer(t, ch, WithQueue("jobs"))

		assert.NoError(t, p.Shutdown())
		ch.AssertExpectations(t)
	})
}
