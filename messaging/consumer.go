package messaging

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/rabbitline/contracts"
	"github.com/glimte/rabbitline/format"
	"github.com/glimte/rabbitline/metrics"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// SubscriptionHandler receives subscription lifecycle events. OnBegin fires
// once when the broker acknowledges the subscription, OnDelivery once per
// delivery, and OnEnd exactly once when the subscription terminates, after
// which no further events arrive.
type SubscriptionHandler interface {
	OnBegin(consumerTag string)
	OnDelivery(ctx context.Context, msg *contracts.Message)
	OnEnd(consumerTag string)
}

// DeliveryFunc adapts a plain function to SubscriptionHandler for callers
// that only care about deliveries.
type DeliveryFunc func(ctx context.Context, msg *contracts.Message)

func (f DeliveryFunc) OnBegin(consumerTag string) {}

func (f DeliveryFunc) OnDelivery(ctx context.Context, msg *contracts.Message) { f(ctx, msg) }

func (f DeliveryFunc) OnEnd(consumerTag string) {}

// Consumer binds a queue to a channel for subscription-based or synchronous
// consumption. A consumer starts unsubscribed; Get works in any subscription
// state.
type Consumer struct {
	ch        Channel
	exchange  string
	queue     string
	formatter format.Formatter
	logger    *slog.Logger
	owned     io.Closer

	mu     sync.Mutex
	sub    *subscription
	closed bool
}

type subscription struct {
	tag        string
	done       chan struct{}
	cancelOnce sync.Once
	cancelErr  error
}

// cancel requests broker-side cancellation once. The delivery stream closes
// after the broker acknowledges the cancel.
func (s *subscription) cancel(ch Channel) error {
	s.cancelOnce.Do(func() {
		s.cancelErr = ch.Cancel(s.tag, false)
	})
	return s.cancelErr
}

// NewConsumer resolves the endpoint topology on the channel and returns an
// unsubscribed consumer bound to the resolved queue.
func NewConsumer(ch Channel, options ...EndpointOption) (*Consumer, error) {
	cfg := newEndpointConfig(options...)

	queue, _, formatter, err := cfg.resolve(ch)
	if err != nil {
		return nil, err
	}

	c := &Consumer{
		ch:        ch,
		exchange:  cfg.exchange,
		queue:     queue,
		formatter: formatter,
		logger:    cfg.logger,
		owned:     cfg.owned,
	}

	c.logger.Debug("consumer ready",
		"exchange", c.exchange,
		"queue", c.queue,
		"formatter", formatter.Name(),
	)

	return c, nil
}

// Queue returns the resolved queue name.
func (c *Consumer) Queue() string { return c.queue }

// ConsumerTag returns the broker-assigned subscription tag, or empty when
// unsubscribed.
func (c *Consumer) ConsumerTag() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub == nil {
		return ""
	}
	return c.sub.tag
}

// Subscribed reports whether a subscription is active.
func (c *Consumer) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub != nil
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscribeConfig)

type subscribeConfig struct {
	noAck       bool
	exclusive   bool
	prefetch    int
	raw         bool
	consumerTag string
}

// WithNoAck controls whether deliveries require explicit acknowledgment.
// Defaults to true; when false the caller must ack or nack every delivery
// tag.
func WithNoAck(noAck bool) SubscribeOption {
	return func(c *subscribeConfig) {
		c.noAck = noAck
	}
}

// WithExclusiveConsumer requests exclusive consumption of the queue.
func WithExclusiveConsumer(exclusive bool) SubscribeOption {
	return func(c *subscribeConfig) {
		c.exclusive = exclusive
	}
}

// WithPrefetch bounds the number of unacknowledged deliveries in flight.
// Only meaningful with explicit acknowledgment.
func WithPrefetch(count int) SubscribeOption {
	return func(c *subscribeConfig) {
		c.prefetch = count
	}
}

// WithRawDelivery delivers the raw envelope without decoding the body; the
// caller decodes explicitly.
func WithRawDelivery(raw bool) SubscribeOption {
	return func(c *subscribeConfig) {
		c.raw = raw
	}
}

// WithConsumerTag sets the consumer tag instead of generating one.
func WithConsumerTag(tag string) SubscribeOption {
	return func(c *subscribeConfig) {
		c.consumerTag = tag
	}
}

func (c *subscribeConfig) validate() error {
	var offending []string
	if c.prefetch < 0 {
		offending = append(offending, "prefetch must not be negative")
	}
	if len(offending) > 0 {
		return &contracts.OptionError{Op: "subscribe", Offending: offending}
	}
	return nil
}

// Subscribe registers the handler for deliveries from the queue and returns
// the assigned consumer tag. Events are delivered in order and exactly once
// on a dedicated goroutine; the context cancels the subscription.
func (c *Consumer) Subscribe(ctx context.Context, handler SubscriptionHandler, options ...SubscribeOption) (string, error) {
	if handler == nil {
		return "", &contracts.OptionError{Op: "subscribe", Offending: []string{"handler cannot be nil"}}
	}

	cfg := &subscribeConfig{noAck: true}
	for _, opt := range options {
		opt(cfg)
	}
	if err := cfg.validate(); err != nil {
		return "", err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", contracts.ErrConsumerClosed
	}
	if c.sub != nil {
		c.mu.Unlock()
		return "", contracts.ErrAlreadySubscribed
	}
	c.mu.Unlock()

	tag := cfg.consumerTag
	if tag == "" {
		tag = "rabbitline-" + uuid.New().String()
	}

	if cfg.prefetch > 0 && !cfg.noAck {
		if err := c.ch.Qos(cfg.prefetch, 0, false); err != nil {
			return "", &contracts.ConsumeError{
				Queue:       c.queue,
				ConsumerTag: tag,
				Op:          "qos",
				Err:         err,
				Timestamp:   time.Now(),
			}
		}
	}

	deliveries, err := c.ch.Consume(c.queue, tag, cfg.noAck, cfg.exclusive, false, false, nil)
	if err != nil {
		return "", &contracts.ConsumeError{
			Queue:       c.queue,
			ConsumerTag: tag,
			Op:          "subscribe",
			Err:         err,
			Timestamp:   time.Now(),
		}
	}

	sub := &subscription{
		tag:  tag,
		done: make(chan struct{}),
	}

	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()

	// basic.consume-ok has arrived once Consume returns.
	handler.OnBegin(tag)

	go c.pump(ctx, sub, deliveries, handler, cfg)

	c.logger.Info("subscribed to queue",
		"queue", c.queue,
		"consumerTag", tag,
		"noAck", cfg.noAck,
	)

	return tag, nil
}

// pump forwards deliveries to the handler until the stream closes, then
// emits the end event. Context cancellation triggers a broker cancel and the
// pump keeps draining until the broker closes the stream, so OnEnd is always
// the last event.
func (c *Consumer) pump(ctx context.Context, sub *subscription, deliveries <-chan amqp.Delivery, handler SubscriptionHandler, cfg *subscribeConfig) {
	defer close(sub.done)
	defer handler.OnEnd(sub.tag)

	ctxDone := ctx.Done()
	for {
		select {
		case <-ctxDone:
			ctxDone = nil
			if err := sub.cancel(c.ch); err != nil {
				c.logger.Warn("failed to cancel subscription",
					"consumerTag", sub.tag,
					"error", err,
				)
				return
			}

		case d, ok := <-deliveries:
			if !ok {
				return
			}

			msg := fromDelivery(d)
			if !cfg.raw {
				decoded, err := c.formatter.Decode(d.Body)
				if err != nil {
					c.logger.Error("failed to decode delivery body",
						"queue", c.queue,
						"deliveryTag", d.DeliveryTag,
						"error", err,
					)
				} else {
					msg.Decoded = decoded
				}
			}

			metrics.DeliveredTotal.WithLabelValues(c.queue).Inc()
			handler.OnDelivery(ctx, msg)
		}
	}
}

// Unsubscribe cancels the broker subscription and blocks until the end event
// has been delivered and the pump goroutine has exited. The consumer returns
// to the unsubscribed state.
func (c *Consumer) Unsubscribe() error {
	c.mu.Lock()
	sub := c.sub
	c.mu.Unlock()

	if sub == nil {
		return contracts.ErrNotSubscribed
	}

	err := sub.cancel(c.ch)
	<-sub.done

	c.mu.Lock()
	c.sub = nil
	c.mu.Unlock()

	c.logger.Info("unsubscribed from queue",
		"queue", c.queue,
		"consumerTag", sub.tag,
	)

	if err != nil {
		return &contracts.ConsumeError{
			Queue:       c.queue,
			ConsumerTag: sub.tag,
			Op:          "unsubscribe",
			Err:         err,
			Timestamp:   time.Now(),
		}
	}
	return nil
}

// GetOption configures a synchronous fetch.
type GetOption func(*getConfig)

type getConfig struct {
	noAck bool
	raw   bool
}

// WithGetNoAck controls whether the fetched message requires explicit
// acknowledgment. Defaults to true.
func WithGetNoAck(noAck bool) GetOption {
	return func(c *getConfig) {
		c.noAck = noAck
	}
}

// WithGetRaw skips body decoding on the fetched message.
func WithGetRaw(raw bool) GetOption {
	return func(c *getConfig) {
		c.raw = raw
	}
}

// Get fetches a single message from the queue. It never blocks waiting for a
// future delivery: when the queue is empty it returns (nil, false, nil)
// immediately. Get works in any subscription state.
func (c *Consumer) Get(options ...GetOption) (*contracts.Message, bool, error) {
	cfg := &getConfig{noAck: true}
	for _, opt := range options {
		opt(cfg)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, false, contracts.ErrConsumerClosed
	}
	c.mu.Unlock()

	d, ok, err := c.ch.Get(c.queue, cfg.noAck)
	if err != nil {
		return nil, false, &contracts.ConsumeError{
			Queue:     c.queue,
			Op:        "get",
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	if !ok {
		metrics.GetTotal.WithLabelValues("empty").Inc()
		return nil, false, nil
	}

	msg := fromDelivery(d)
	if !cfg.raw {
		decoded, decErr := c.formatter.Decode(d.Body)
		if decErr != nil {
			c.logger.Error("failed to decode message body",
				"queue", c.queue,
				"deliveryTag", d.DeliveryTag,
				"error", decErr,
			)
		} else {
			msg.Decoded = decoded
		}
	}

	metrics.GetTotal.WithLabelValues("message").Inc()
	return msg, true, nil
}

// GetBody fetches a single message and returns just the decoded body, or the
// raw body when decoding was skipped or failed.
func (c *Consumer) GetBody(options ...GetOption) (interface{}, bool, error) {
	msg, ok, err := c.Get(options...)
	if err != nil || !ok {
		return nil, ok, err
	}
	if msg.Decoded != nil {
		return msg.Decoded, true, nil
	}
	return msg.Body, true, nil
}

// Ack acknowledges a delivery by tag. Each tag is acknowledged at most once.
func (c *Consumer) Ack(tag uint64) error {
	if err := c.ch.Ack(tag, false); err != nil {
		return &contracts.ConsumeError{
			Queue:     c.queue,
			Op:        "ack",
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	metrics.AckedTotal.Inc()
	return nil
}

// Nack rejects a delivery by tag. With requeue the broker redelivers the
// message, subject to broker policy.
func (c *Consumer) Nack(tag uint64, requeue bool) error {
	if err := c.ch.Nack(tag, false, requeue); err != nil {
		return &contracts.ConsumeError{
			Queue:     c.queue,
			Op:        "nack",
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	metrics.NackedTotal.Inc()
	return nil
}

// Reject rejects a single delivery by tag without batch semantics.
func (c *Consumer) Reject(tag uint64, requeue bool) error {
	if err := c.ch.Reject(tag, requeue); err != nil {
		return &contracts.ConsumeError{
			Queue:     c.queue,
			Op:        "reject",
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	metrics.NackedTotal.Inc()
	return nil
}

// Recover asks the broker to redeliver all unacknowledged deliveries on the
// channel, requeueing them when requested.
func (c *Consumer) Recover(requeue bool) error {
	if err := c.ch.Recover(requeue); err != nil {
		return &contracts.ConsumeError{
			Queue:     c.queue,
			Op:        "recover",
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	return nil
}

// Purge drops all messages from the queue and returns the purged count.
func (c *Consumer) Purge() (int, error) {
	n, err := c.ch.QueuePurge(c.queue, false)
	if err != nil {
		return 0, &contracts.TopologyError{
			Component: "queue",
			Name:      c.queue,
			Op:        "purge",
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	return n, nil
}

// DeleteQueue deletes the queue. Broker-side preconditions (ifUnused,
// ifEmpty) surface as a topology error carrying the broker reason.
func (c *Consumer) DeleteQueue(ifUnused, ifEmpty bool) (int, error) {
	n, err := c.ch.QueueDelete(c.queue, ifUnused, ifEmpty, false)
	if err != nil {
		return 0, &contracts.TopologyError{
			Component: "queue",
			Name:      c.queue,
			Op:        "delete",
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	return n, nil
}

// Shutdown cancels any active subscription and closes the consumer. When the
// consumer opened its own connection that connection is closed with it.
// Shutdown is idempotent.
func (c *Consumer) Shutdown() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if err := c.Unsubscribe(); err != nil && err != contracts.ErrNotSubscribed {
		c.logger.Warn("failed to unsubscribe during shutdown", "error", err)
	}

	if c.owned != nil {
		return c.owned.Close()
	}
	if !c.ch.IsClosed() {
		return c.ch.Close()
	}
	return nil
}
