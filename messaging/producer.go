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

// Mode is the channel publishing mode. Confirm and transactional modes are
// mutually exclusive on one channel.
type Mode int

const (
	// ModeDefault is fire-and-forget publishing.
	ModeDefault Mode = iota
	// ModeConfirm makes the broker acknowledge every publish.
	ModeConfirm
	// ModeTx buffers publishes until Commit.
	ModeTx
)

func (m Mode) String() string {
	switch m {
	case ModeConfirm:
		return "confirm"
	case ModeTx:
		return "tx"
	default:
		return "default"
	}
}

// Producer binds an exchange and routing key to a channel and publishes
// messages through it. Construction resolves the configured topology; see
// EndpointOption. A Producer is not safe for unserialized concurrent use of
// one channel.
type Producer struct {
	ch         Channel
	exchange   string
	queue      string
	routingKey string
	formatter  format.Formatter
	logger     *slog.Logger
	owned      io.Closer

	mu           sync.Mutex
	mode         Mode
	confirms     chan amqp.Confirmation
	publishSeq   uint64 // publishes since confirm mode was enabled
	confirmedSeq uint64 // highest delivery tag confirmed so far
	nacked       bool
	closed       bool
}

// NewProducer resolves the endpoint topology on the channel and returns a
// producer bound to the resolved exchange and default routing key. The
// default routing key is the binding key when given, the queue name
// otherwise.
func NewProducer(ch Channel, options ...EndpointOption) (*Producer, error) {
	cfg := newEndpointConfig(options...)

	queue, routingKey, formatter, err := cfg.resolve(ch)
	if err != nil {
		return nil, err
	}

	p := &Producer{
		ch:         ch,
		exchange:   cfg.exchange,
		queue:      queue,
		routingKey: routingKey,
		formatter:  formatter,
		logger:     cfg.logger,
		owned:      cfg.owned,
	}

	p.logger.Debug("producer ready",
		"exchange", p.exchange,
		"queue", p.queue,
		"routingKey", p.routingKey,
		"formatter", formatter.Name(),
	)

	return p, nil
}

// Exchange returns the bound exchange name.
func (p *Producer) Exchange() string { return p.exchange }

// Queue returns the resolved queue name, if any.
func (p *Producer) Queue() string { return p.queue }

// RoutingKey returns the default routing key.
func (p *Producer) RoutingKey() string { return p.routingKey }

// Mode returns the current channel mode.
func (p *Producer) Mode() Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// PublishOption configures a single publish.
type PublishOption func(*publishConfig)

type publishConfig struct {
	exchange       string
	exchangeSet    bool
	routingKey     string
	routingKeySet  bool
	headers        map[string]interface{}
	mandatory      bool
	immediate      bool
	awaitConfirm   bool
	confirmTimeout time.Duration
	formatterName  string
}

// WithPublishExchange overrides the target exchange for this publish.
func WithPublishExchange(exchange string) PublishOption {
	return func(c *publishConfig) {
		c.exchange = exchange
		c.exchangeSet = true
	}
}

// WithRoutingKey overrides the routing key for this publish.
func WithRoutingKey(key string) PublishOption {
	return func(c *publishConfig) {
		c.routingKey = key
		c.routingKeySet = true
	}
}

// WithHeaders attaches headers to the message properties. Headers are ignored
// when publishing a pre-built envelope; the envelope's own properties take
// precedence.
func WithHeaders(headers map[string]interface{}) PublishOption {
	return func(c *publishConfig) {
		if c.headers == nil {
			c.headers = make(map[string]interface{})
		}
		for k, v := range headers {
			c.headers[k] = v
		}
	}
}

// WithMandatory sets the mandatory delivery flag.
func WithMandatory(mandatory bool) PublishOption {
	return func(c *publishConfig) {
		c.mandatory = mandatory
	}
}

// WithImmediate sets the immediate delivery flag.
func WithImmediate(immediate bool) PublishOption {
	return func(c *publishConfig) {
		c.immediate = immediate
	}
}

// WithAwaitConfirm blocks the publish until the broker confirms it. The
// channel must be in confirm mode.
func WithAwaitConfirm(await bool) PublishOption {
	return func(c *publishConfig) {
		c.awaitConfirm = await
	}
}

// WithConfirmTimeout bounds the confirmation wait. Zero blocks until
// confirmed.
func WithConfirmTimeout(timeout time.Duration) PublishOption {
	return func(c *publishConfig) {
		c.confirmTimeout = timeout
	}
}

// WithFormatter overrides the body formatter for this publish.
func WithFormatter(name string) PublishOption {
	return func(c *publishConfig) {
		c.formatterName = name
	}
}

// validate fails fast on inconsistent options, before any channel
// interaction.
func (c *publishConfig) validate() error {
	var offending []string
	if c.confirmTimeout < 0 {
		offending = append(offending, "confirm timeout must not be negative")
	}
	if c.confirmTimeout > 0 && !c.awaitConfirm {
		offending = append(offending, "confirm timeout requires await confirm")
	}
	if c.exchangeSet && c.exchange == "" && c.routingKeySet && c.routingKey == "" {
		offending = append(offending, "exchange and routing key cannot both be empty")
	}
	if len(offending) > 0 {
		return &contracts.OptionError{Op: "publish", Offending: offending}
	}
	return nil
}

// Publish encodes and publishes a message. The payload is either a raw value
// encoded by the formatter, or a *contracts.Message envelope carrying its own
// properties. With WithAwaitConfirm the call blocks until the broker confirms
// the publish, bounded by WithConfirmTimeout when given.
func (p *Producer) Publish(ctx context.Context, payload interface{}, options ...PublishOption) error {
	cfg := &publishConfig{}
	for _, opt := range options {
		opt(cfg)
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return contracts.ErrProducerClosed
	}
	mode := p.mode
	p.mu.Unlock()

	if cfg.awaitConfirm && mode != ModeConfirm {
		return contracts.ErrNotInConfirmMode
	}

	formatter := p.formatter
	if cfg.formatterName != "" {
		var err error
		formatter, err = format.Lookup(cfg.formatterName)
		if err != nil {
			return err
		}
	}

	publishing, err := p.buildPublishing(payload, formatter, cfg)
	if err != nil {
		return err
	}

	exchange := p.exchange
	if cfg.exchangeSet {
		exchange = cfg.exchange
	}
	routingKey := p.routingKey
	if cfg.routingKeySet {
		routingKey = cfg.routingKey
	}

	var target uint64
	p.mu.Lock()
	err = p.ch.PublishWithContext(ctx, exchange, routingKey, cfg.mandatory, cfg.immediate, publishing)
	if err == nil && p.mode == ModeConfirm {
		p.publishSeq++
		target = p.publishSeq
	}
	p.mu.Unlock()

	if err != nil {
		return &contracts.PublishError{
			Exchange:   exchange,
			RoutingKey: routingKey,
			Mandatory:  cfg.mandatory,
			Err:        err,
			Timestamp:  time.Now(),
		}
	}

	metrics.PublishedTotal.WithLabelValues(exchange).Inc()
	p.logger.Debug("published message",
		"exchange", exchange,
		"routingKey", routingKey,
		"mandatory", cfg.mandatory,
	)

	if !cfg.awaitConfirm {
		return nil
	}
	return p.waitConfirm(ctx, target, cfg.confirmTimeout)
}

// buildPublishing applies the formatter and assembles the wire message. A
// pre-built envelope keeps its own properties; the headers option is dropped
// in that case. Use WithMessageHeaders on the envelope instead.
func (p *Producer) buildPublishing(payload interface{}, formatter format.Formatter, cfg *publishConfig) (amqp.Publishing, error) {
	if msg, ok := payload.(*contracts.Message); ok {
		body := msg.Body
		if msg.Decoded != nil {
			var err error
			body, err = formatter.Encode(msg.Decoded)
			if err != nil {
				return amqp.Publishing{}, err
			}
		}
		env := *msg
		env.Body = body
		if env.Properties.ContentType == "" {
			env.Properties.ContentType = formatter.ContentType()
		}
		return toPublishing(&env), nil
	}

	body, err := formatter.Encode(payload)
	if err != nil {
		return amqp.Publishing{}, err
	}

	msg := &contracts.Message{
		Body: body,
		Properties: contracts.Properties{
			ContentType: formatter.ContentType(),
			MessageID:   uuid.New().String(),
			Timestamp:   time.Now().UTC(),
			Headers:     cfg.headers,
		},
	}
	return toPublishing(msg), nil
}

// SetMode switches the channel into confirm or transactional mode. The two
// are mutually exclusive for the lifetime of the channel.
func (p *Producer) SetMode(mode Mode) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return contracts.ErrProducerClosed
	}
	if p.mode == mode {
		return nil
	}
	if p.mode != ModeDefault {
		return contracts.ErrModeAlreadySet
	}

	switch mode {
	case ModeConfirm:
		if err := p.ch.Confirm(false); err != nil {
			return &contracts.PublishError{
				Exchange:  p.exchange,
				Err:       err,
				Timestamp: time.Now(),
			}
		}
		p.confirms = p.ch.NotifyPublish(make(chan amqp.Confirmation, 128))
	case ModeTx:
		if err := p.ch.Tx(); err != nil {
			return &contracts.PublishError{
				Exchange:  p.exchange,
				Err:       err,
				Timestamp: time.Now(),
			}
		}
	case ModeDefault:
		return contracts.ErrModeAlreadySet
	}

	p.mode = mode
	p.logger.Info("channel mode set", "mode", mode.String())
	return nil
}

// waitConfirm blocks until the broker confirms the publish with the given
// sequence number. Confirmations arrive in delivery-tag order; earlier tags
// drained along the way are recorded for AwaitConfirms.
func (p *Producer) waitConfirm(ctx context.Context, target uint64, timeout time.Duration) error {
	start := time.Now()
	defer func() {
		metrics.ConfirmDuration.Observe(time.Since(start).Seconds())
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		select {
		case conf, ok := <-p.confirms:
			if !ok {
				return contracts.ErrChannelClosed
			}
			p.record(conf)
			if conf.DeliveryTag < target {
				continue
			}
			if !conf.Ack {
				metrics.ConfirmTotal.WithLabelValues("nack").Inc()
				return contracts.ErrPublishNacked
			}
			metrics.ConfirmTotal.WithLabelValues("ack").Inc()
			return nil

		case <-expired:
			metrics.ConfirmTotal.WithLabelValues("timeout").Inc()
			return contracts.ErrConfirmTimeout

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// record tracks a confirmation for AwaitConfirms.
func (p *Producer) record(conf amqp.Confirmation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if conf.DeliveryTag > p.confirmedSeq {
		p.confirmedSeq = conf.DeliveryTag
	}
	if !conf.Ack {
		p.nacked = true
	}
}

// AwaitConfirms blocks until all outstanding publishes on the channel are
// acknowledged, bounded by timeout when non-zero. It returns nil on full
// success, ErrPublishNacked when any publish was negatively acknowledged, and
// ErrConfirmTimeout on expiry.
func (p *Producer) AwaitConfirms(ctx context.Context, timeout time.Duration) error {
	p.mu.Lock()
	if p.mode != ModeConfirm {
		p.mu.Unlock()
		return contracts.ErrNotInConfirmMode
	}
	target := p.publishSeq
	outstanding := p.confirmedSeq < target
	p.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for outstanding {
		select {
		case conf, ok := <-p.confirms:
			if !ok {
				return contracts.ErrChannelClosed
			}
			p.record(conf)
			p.mu.Lock()
			outstanding = p.confirmedSeq < target
			p.mu.Unlock()

		case <-expired:
			return contracts.ErrConfirmTimeout

		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.nacked {
		p.nacked = false
		return contracts.ErrPublishNacked
	}
	return nil
}

// Commit finalizes all publishes since the last commit or rollback. The
// channel must be in transactional mode.
func (p *Producer) Commit() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.mode != ModeTx {
		return contracts.ErrNotInTxMode
	}
	if err := p.ch.TxCommit(); err != nil {
		return &contracts.PublishError{
			Exchange:  p.exchange,
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	p.logger.Debug("transaction committed")
	return nil
}

// Rollback discards all publishes since the last commit or rollback. The
// channel must be in transactional mode.
func (p *Producer) Rollback() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.mode != ModeTx {
		return contracts.ErrNotInTxMode
	}
	if err := p.ch.TxRollback(); err != nil {
		return &contracts.PublishError{
			Exchange:  p.exchange,
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	p.logger.Debug("transaction rolled back")
	return nil
}

// HandleReturns registers a callback for undeliverable mandatory or immediate
// publishes handed back by the broker. The callback runs on its own
// goroutine until the channel closes.
func (p *Producer) HandleReturns(fn func(*contracts.Message)) {
	returns := p.ch.NotifyReturn(make(chan amqp.Return, 16))
	go func() {
		for r := range returns {
			metrics.ReturnedTotal.WithLabelValues(r.Exchange).Inc()
			fn(fromReturn(r))
		}
	}()
}

// PublishEach publishes a sequence of raw payloads with default options,
// stopping at the first failure.
func (p *Producer) PublishEach(ctx context.Context, payloads [][]byte) error {
	for _, payload := range payloads {
		if err := p.Publish(ctx, payload); err != nil {
			return err
		}
	}
	return nil
}

// Sink consumes raw payloads from the channel and publishes each with default
// options until the channel closes, the context is cancelled, or a publish
// fails.
func (p *Producer) Sink(ctx context.Context, payloads <-chan []byte) error {
	for {
		select {
		case payload, ok := <-payloads:
			if !ok {
				return nil
			}
			if err := p.Publish(ctx, payload); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Shutdown closes the producer. When the producer opened its own connection
// that connection is closed with it; otherwise only the channel is released.
// Shutdown is idempotent.
func (p *Producer) Shutdown() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if p.owned != nil {
		return p.owned.Close()
	}
	if !p.ch.IsClosed() {
		return p.ch.Close()
	}
	return nil
}
