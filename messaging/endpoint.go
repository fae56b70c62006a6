package messaging

import (
	"io"
	"log/slog"
	"time"

	"github.com/glimte/rabbitline/contracts"
	"github.com/glimte/rabbitline/format"
)

// endpointConfig holds the exchange/queue/binding resolution shared by
// producers and consumers.
type endpointConfig struct {
	exchange           string
	declareExchange    bool
	exchangeKind       string
	exchangeDurable    bool
	exchangeAutoDelete bool

	queue            string
	declareQueue     bool
	serverNamedQueue bool
	queueDurable     bool
	queueExclusive   bool
	queueAutoDelete  bool

	bindingKey    string
	formatterName string
	logger        *slog.Logger
	owned         io.Closer
}

// EndpointOption configures producer and consumer construction.
type EndpointOption func(*endpointConfig)

// WithExchange targets an existing exchange by name.
func WithExchange(name string) EndpointOption {
	return func(c *endpointConfig) {
		c.exchange = name
	}
}

// WithExchangeDeclare declares the exchange with the given type before use.
func WithExchangeDeclare(name, kind string) EndpointOption {
	return func(c *endpointConfig) {
		c.exchange = name
		c.declareExchange = true
		c.exchangeKind = kind
	}
}

// WithExchangeDurable sets exchange durability for declaration.
func WithExchangeDurable(durable bool) EndpointOption {
	return func(c *endpointConfig) {
		c.exchangeDurable = durable
	}
}

// WithExchangeAutoDelete sets exchange auto-delete for declaration.
func WithExchangeAutoDelete(autoDelete bool) EndpointOption {
	return func(c *endpointConfig) {
		c.exchangeAutoDelete = autoDelete
	}
}

// WithQueue targets an existing queue by name.
func WithQueue(name string) EndpointOption {
	return func(c *endpointConfig) {
		c.queue = name
	}
}

// WithQueueDeclare declares the named queue before use.
func WithQueueDeclare(name string) EndpointOption {
	return func(c *endpointConfig) {
		c.queue = name
		c.declareQueue = true
	}
}

// WithServerNamedQueue declares a broker-named exclusive queue.
func WithServerNamedQueue() EndpointOption {
	return func(c *endpointConfig) {
		c.declareQueue = true
		c.serverNamedQueue = true
		c.queueExclusive = true
	}
}

// WithQueueDurable sets queue durability for declaration.
func WithQueueDurable(durable bool) EndpointOption {
	return func(c *endpointConfig) {
		c.queueDurable = durable
	}
}

// WithQueueExclusive sets queue exclusivity for declaration.
func WithQueueExclusive(exclusive bool) EndpointOption {
	return func(c *endpointConfig) {
		c.queueExclusive = exclusive
	}
}

// WithQueueAutoDelete sets queue auto-delete for declaration.
func WithQueueAutoDelete(autoDelete bool) EndpointOption {
	return func(c *endpointConfig) {
		c.queueAutoDelete = autoDelete
	}
}

// WithBindingKey binds the queue to the exchange with the given key. The
// binding key also becomes the default routing key.
func WithBindingKey(key string) EndpointOption {
	return func(c *endpointConfig) {
		c.bindingKey = key
	}
}

// WithDefaultFormatter selects the default body formatter by registry name.
func WithDefaultFormatter(name string) EndpointOption {
	return func(c *endpointConfig) {
		c.formatterName = name
	}
}

// WithEndpointLogger sets the logger.
func WithEndpointLogger(logger *slog.Logger) EndpointOption {
	return func(c *endpointConfig) {
		c.logger = logger
	}
}

// WithShutdownCloser attaches a resource, typically the connection the
// endpoint opened for itself, that Shutdown closes.
func WithShutdownCloser(closer io.Closer) EndpointOption {
	return func(c *endpointConfig) {
		c.owned = closer
	}
}

func newEndpointConfig(options ...EndpointOption) *endpointConfig {
	c := &endpointConfig{
		formatterName: format.Binary.Name(),
		logger:        slog.Default(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// resolve declares the configured topology on the channel and returns the
// resolved queue name and default routing key. The default routing key is the
// binding key when given, the queue name otherwise.
func (c *endpointConfig) resolve(ch Channel) (queue, routingKey string, f format.Formatter, err error) {
	f, err = format.Lookup(c.formatterName)
	if err != nil {
		return "", "", nil, err
	}

	if c.declareExchange {
		if err := ch.ExchangeDeclare(
			c.exchange,
			c.exchangeKind,
			c.exchangeDurable,
			c.exchangeAutoDelete,
			false, // internal
			false, // no-wait
			nil,
		); err != nil {
			return "", "", nil, &contracts.TopologyError{
				Component: "exchange",
				Name:      c.exchange,
				Op:        "declare",
				Err:       err,
				Timestamp: time.Now(),
			}
		}
	}

	queue = c.queue
	if c.declareQueue {
		name := c.queue
		if c.serverNamedQueue {
			name = ""
		}
		q, err := ch.QueueDeclare(
			name,
			c.queueDurable,
			c.queueAutoDelete,
			c.queueExclusive,
			false, // no-wait
			nil,
		)
		if err != nil {
			return "", "", nil, &contracts.TopologyError{
				Component: "queue",
				Name:      name,
				Op:        "declare",
				Err:       err,
				Timestamp: time.Now(),
			}
		}
		queue = q.Name
	}

	if c.exchange != "" && queue != "" {
		if err := ch.QueueBind(queue, c.bindingKey, c.exchange, false, nil); err != nil {
			return "", "", nil, &contracts.TopologyError{
				Component: "binding",
				Name:      queue,
				Op:        "bind",
				Err:       err,
				Timestamp: time.Now(),
			}
		}
	}

	routingKey = c.bindingKey
	if routingKey == "" {
		routingKey = queue
	}

	return queue, routingKey, f, nil
}
