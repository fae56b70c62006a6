// Copyright 2024 Rabbitline Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package rabbitline is a client-side abstraction over an AMQP 0-9-1 broker,
// providing producer and consumer roles on top of connection, channel,
// exchange and queue primitives. Protocol framing, negotiation and the
// acknowledgment state machine belong to the underlying AMQP client library;
// this package is declarative configuration and option forwarding.
//
// The package does not reconnect on connection loss. Callers observe closure
// through NotifyClose and re-establish themselves.
package rabbitline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"

	brokeramqp "github.com/glimte/rabbitline/internal/amqp"
	"github.com/glimte/rabbitline/messaging"
)

// Config describes how to reach the broker. URL wins when set; otherwise the
// URI is composed from the individual fields, with the usual AMQP defaults
// for the ones left zero.
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

func (c Config) internal() brokeramqp.Config {
	return brokeramqp.Config{
		URL:         c.URL,
		Host:        c.Host,
		Port:        c.Port,
		Username:    c.Username,
		Password:    c.Password,
		VirtualHost: c.VirtualHost,
		Heartbeat:   c.Heartbeat,
		DialTimeout: c.DialTimeout,
	}
}

// Client owns a broker connection and creates producers and consumers on it.
// Each producer or consumer gets its own channel; one channel per concurrent
// user is the safe pattern.
type Client struct {
	conn   *brokeramqp.Connection
	logger *slog.Logger
}

// ClientOption configures the client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	logger *slog.Logger
}

// WithClientLogger sets the logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// Dial connects to the broker at the given AMQP URL.
func Dial(ctx context.Context, url string, options ...ClientOption) (*Client, error) {
	return DialConfig(ctx, Config{URL: url}, options...)
}

// DialConfig connects to the broker described by the configuration.
func DialConfig(ctx context.Context, cfg Config, options ...ClientOption) (*Client, error) {
	cc := &clientConfig{logger: slog.Default()}
	for _, opt := range options {
		opt(cc)
	}

	conn, err := brokeramqp.Dial(ctx, cfg.internal(), brokeramqp.WithLogger(cc.logger))
	if err != nil {
		return nil, err
	}

	return &Client{conn: conn, logger: cc.logger}, nil
}

// NewProducer opens a dedicated channel on the client connection and resolves
// the configured topology on it. Shutting the producer down releases its
// channel but leaves the client connection open.
func (c *Client) NewProducer(options ...messaging.EndpointOption) (*messaging.Producer, error) {
	ch, err := c.conn.NewChannel()
	if err != nil {
		return nil, fmt.Errorf("failed to open producer channel: %w", err)
	}

	opts := append([]messaging.EndpointOption{messaging.WithEndpointLogger(c.logger)}, options...)
	p, err := messaging.NewProducer(ch, opts...)
	if err != nil {
		ch.Close()
		return nil, err
	}
	return p, nil
}

// NewConsumer opens a dedicated channel on the client connection and resolves
// the configured topology on it. Shutting the consumer down releases its
// channel but leaves the client connection open.
func (c *Client) NewConsumer(options ...messaging.EndpointOption) (*messaging.Consumer, error) {
	ch, err := c.conn.NewChannel()
	if err != nil {
		return nil, fmt.Errorf("failed to open consumer channel: %w", err)
	}

	opts := append([]messaging.EndpointOption{messaging.WithEndpointLogger(c.logger)}, options...)
	cons, err := messaging.NewConsumer(ch, opts...)
	if err != nil {
		ch.Close()
		return nil, err
	}
	return cons, nil
}

// NotifyClose registers a listener for connection closure.
func (c *Client) NotifyClose(receiver chan *amqp091.Error) chan *amqp091.Error {
	return c.conn.NotifyClose(receiver)
}

// Close tears down the connection and every channel on it. Close is
// idempotent.
func (c *Client) Close() error {
	return c.conn.Close()
}

// NewProducer dials a dedicated connection and returns a producer that owns
// it: shutting the producer down closes the connection.
func NewProducer(ctx context.Context, url string, options ...messaging.EndpointOption) (*messaging.Producer, error) {
	conn, err := brokeramqp.Dial(ctx, brokeramqp.Config{URL: url})
	if err != nil {
		return nil, err
	}

	opts := append([]messaging.EndpointOption{messaging.WithShutdownCloser(conn)}, options...)
	p, err := messaging.NewProducer(conn.Channel(), opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

// NewConsumer dials a dedicated connection and returns a consumer that owns
// it: shutting the consumer down closes the connection.
func NewConsumer(ctx context.Context, url string, options ...messaging.EndpointOption) (*messaging.Consumer, error) {
	conn, err := brokeramqp.Dial(ctx, brokeramqp.Config{URL: url})
	if err != nil {
		return nil, err
	}

	opts := append([]messaging.EndpointOption{messaging.WithShutdownCloser(conn)}, options...)
	cons, err := messaging.NewConsumer(conn.Channel(), opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return cons, nil
}
