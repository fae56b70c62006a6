// Package contracts defines the message envelope and error types shared by
// producers and consumers. A Message is immutable once received; its delivery
// tag is the correlation key for ack/nack.
package contracts
