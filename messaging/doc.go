// Package messaging provides the producer and consumer roles on top of an
// AMQP channel: declarative exchange/queue/binding resolution, publishing
// with confirm and transactional modes, subscription with per-delivery
// callbacks, and synchronous get with explicit ack/nack.
//
// A channel is a single mutable resource. The package adds no locking around
// channel frames; callers that share one channel across goroutines must
// serialize access themselves. One channel per concurrent producer or
// consumer is the safe pattern.
package messaging
