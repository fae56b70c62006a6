// Package amqp owns the broker connection lifecycle: dialing with a bounded
// timeout, the connection's primary channel, and idempotent teardown. It does
// not reconnect; callers observe closure through NotifyClose and re-establish
// themselves.
package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/glimte/rabbitline/contracts"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Config describes how to reach the broker. URL wins when set; otherwise the
// URI is composed from the individual fields.
type Config struct {
	URL         string
	Host        string
	Port        int
	Username    string
	Password    string
	VirtualHost string
	Heartbeat   time.Duration
	DialTimeout time.Duration
}

// URI returns the AMQP URI for the configuration.
func (c Config) URI() string {
	if c.URL != "" {
		return c.URL
	}

	host := c.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if port == 0 {
		port = 5672
	}
	user := c.Username
	if user == "" {
		user = "guest"
	}
	pass := c.Password
	if pass == "" {
		pass = "guest"
	}
	vhost := c.VirtualHost
	if vhost == "" {
		vhost = "/"
	}

	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s",
		url.QueryEscape(user), url.QueryEscape(pass), host, port,
		url.QueryEscape(vhost))
}

// Connection wraps an AMQP connection and the channel opened on it. Closing
// the connection closes the channel; Close is idempotent.
type Connection struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger
	mu      sync.Mutex
	closed  bool
}

// Option configures the connection.
type Option func(*dialConfig)

type dialConfig struct {
	logger *slog.Logger
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(dc *dialConfig) {
		dc.logger = logger
	}
}

// Dial establishes a transport connection and opens a channel on it. The dial
// is bounded by cfg.DialTimeout (30s default) and the context.
func Dial(ctx context.Context, cfg Config, options ...Option) (*Connection, error) {
	dc := &dialConfig{logger: slog.Default()}
	for _, opt := range options {
		opt(dc)
	}

	timeout := cfg.DialTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	uri := cfg.URI()

	connChan := make(chan *amqp.Connection, 1)
	errChan := make(chan error, 1)

	go func() {
		conn, err := amqp.DialConfig(uri, amqp.Config{
			Heartbeat: cfg.Heartbeat,
		})
		if err != nil {
			errChan <- err
			return
		}
		connChan <- conn
	}()

	select {
	case conn := <-connChan:
		channel, err := conn.Channel()
		if err != nil {
			conn.Close()
			return nil, &contracts.ConnectionError{
				Op:        "open channel",
				URL:       SanitizeURI(uri),
				Err:       err,
				Timestamp: time.Now(),
			}
		}

		dc.logger.Info("connected to broker", "url", SanitizeURI(uri))

		return &Connection{
			conn:    conn,
			channel: channel,
			logger:  dc.logger,
		}, nil

	case err := <-errChan:
		return nil, &contracts.ConnectionError{
			Op:        "dial",
			URL:       SanitizeURI(uri),
			Err:       err,
			Timestamp: time.Now(),
		}

	case <-dialCtx.Done():
		return nil, &contracts.ConnectionError{
			Op:        "dial",
			URL:       SanitizeURI(uri),
			Err:       dialCtx.Err(),
			Timestamp: time.Now(),
		}
	}
}

// Channel returns the channel opened at dial time.
func (c *Connection) Channel() *amqp.Channel {
	return c.channel
}

// NewChannel opens an additional channel on the connection. Each concurrent
// producer or consumer should run on its own channel.
func (c *Connection) NewChannel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, contracts.ErrConnectionClosed
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return nil, &contracts.ConnectionError{
			Op:        "open channel",
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	return ch, nil
}

// NotifyClose registers a listener for connection closure.
func (c *Connection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	return c.conn.NotifyClose(receiver)
}

// IsClosed reports whether the connection has been closed.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed || c.conn.IsClosed()
}

// Close tears down the channel and the connection. Repeated calls return nil.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.channel != nil && !c.channel.IsClosed() {
		if err := c.channel.Close(); err != nil {
			c.logger.Warn("failed to close channel", "error", err)
		}
	}

	if c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}

// SanitizeURI strips credentials from an AMQP URI for logging.
func SanitizeURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.Redacted()
}
