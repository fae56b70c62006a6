package contracts

import (
	"time"

	"github.com/google/uuid"
)

// Properties carries the AMQP message properties attached to a publish or
// delivery. Zero values are omitted on the wire.
type Properties struct {
	ContentType     string
	ContentEncoding string
	MessageID       string
	CorrelationID   string
	ReplyTo         string
	Expiration      string
	Type            string
	AppID           string
	UserID          string
	Priority        uint8
	DeliveryMode    uint8 // 1 = transient, 2 = persistent
	Timestamp       time.Time
	Headers         map[string]interface{}
}

// Message is the envelope for a published or delivered payload. On the
// consume side DeliveryTag, Redelivered and ConsumerTag are filled in by the
// broker; Decoded holds the formatter output unless the delivery was
// requested raw.
type Message struct {
	Exchange    string
	RoutingKey  string
	Body        []byte
	Decoded     interface{}
	Properties  Properties
	DeliveryTag uint64
	Redelivered bool
	ConsumerTag string
}

// MessageOption configures a new message.
type MessageOption func(*Message)

// WithProperties sets the message properties.
func WithProperties(props Properties) MessageOption {
	return func(m *Message) {
		m.Properties = props
	}
}

// WithMessageHeaders sets the property headers.
func WithMessageHeaders(headers map[string]interface{}) MessageOption {
	return func(m *Message) {
		if m.Properties.Headers == nil {
			m.Properties.Headers = make(map[string]interface{})
		}
		for k, v := range headers {
			m.Properties.Headers[k] = v
		}
	}
}

// WithCorrelationID sets the correlation ID property.
func WithCorrelationID(id string) MessageOption {
	return func(m *Message) {
		m.Properties.CorrelationID = id
	}
}

// WithReplyTo sets the reply-to property.
func WithReplyTo(replyTo string) MessageOption {
	return func(m *Message) {
		m.Properties.ReplyTo = replyTo
	}
}

// NewMessage creates a publishable message envelope. A message ID and
// timestamp are generated when not supplied through options.
func NewMessage(body []byte, options ...MessageOption) *Message {
	m := &Message{Body: body}

	for _, opt := range options {
		opt(m)
	}

	if m.Properties.MessageID == "" {
		m.Properties.MessageID = uuid.New().String()
	}
	if m.Properties.Timestamp.IsZero() {
		m.Properties.Timestamp = time.Now().UTC()
	}

	return m
}
