package messaging

import (
	"github.com/glimte/rabbitline/contracts"
	amqp "github.com/rabbitmq/amqp091-go"
)

// toPublishing converts a message envelope into the wire representation.
func toPublishing(msg *contracts.Message) amqp.Publishing {
	p := msg.Properties
	return amqp.Publishing{
		Headers:         amqp.Table(p.Headers),
		ContentType:     p.ContentType,
		ContentEncoding: p.ContentEncoding,
		DeliveryMode:    p.DeliveryMode,
		Priority:        p.Priority,
		CorrelationId:   p.CorrelationID,
		ReplyTo:         p.ReplyTo,
		Expiration:      p.Expiration,
		MessageId:       p.MessageID,
		Timestamp:       p.Timestamp,
		Type:            p.Type,
		UserId:          p.UserID,
		AppId:           p.AppID,
		Body:            msg.Body,
	}
}

// fromDelivery converts a broker delivery into a message envelope.
func fromDelivery(d amqp.Delivery) *contracts.Message {
	return &contracts.Message{
		Exchange:    d.Exchange,
		RoutingKey:  d.RoutingKey,
		Body:        d.Body,
		DeliveryTag: d.DeliveryTag,
		Redelivered: d.Redelivered,
		ConsumerTag: d.ConsumerTag,
		Properties: contracts.Properties{
			ContentType:     d.ContentType,
			ContentEncoding: d.ContentEncoding,
			MessageID:       d.MessageId,
			CorrelationID:   d.CorrelationId,
			ReplyTo:         d.ReplyTo,
			Expiration:      d.Expiration,
			Type:            d.Type,
			AppID:           d.AppId,
			UserID:          d.UserId,
			Priority:        d.Priority,
			DeliveryMode:    d.DeliveryMode,
			Timestamp:       d.Timestamp,
			Headers:         map[string]interface{}(d.Headers),
		},
	}
}

// fromReturn converts an undeliverable mandatory/immediate publish handed
// back by the broker into a message envelope.
func fromReturn(r amqp.Return) *contracts.Message {
	return &contracts.Message{
		Exchange:   r.Exchange,
		RoutingKey: r.RoutingKey,
		Body:       r.Body,
		Properties: contracts.Properties{
			ContentType:     r.ContentType,
			ContentEncoding: r.ContentEncoding,
			MessageID:       r.MessageId,
			CorrelationID:   r.CorrelationId,
			ReplyTo:         r.ReplyTo,
			Expiration:      r.Expiration,
			Type:            r.Type,
			AppID:           r.AppId,
			UserID:          r.UserId,
			Priority:        r.Priority,
			DeliveryMode:    r.DeliveryMode,
			Timestamp:       r.Timestamp,
			Headers:         map[string]interface{}(r.Headers),
		},
	}
}
