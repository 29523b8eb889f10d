package mq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Content types understood by the hub's consumers.
const (
	ContentTypeJSON     = "application/json"
	ContentTypeProtobuf = "application/protobuf"
)

// Message is a single publishing onto a queue.
type Message struct {
	// ContentType tells consumers how Body is encoded.
	ContentType string
	Body        []byte
}

// ClientInterface defines the interface for message queue operations.
type ClientInterface interface {
	// Push publishes msg and waits for a broker confirmation, retrying with
	// exponential backoff while the client reconnects.
	Push(ctx context.Context, msg Message) error

	// UnsafePush publishes msg without waiting for a confirmation.
	// It returns an error if the client is not connected.
	UnsafePush(ctx context.Context, msg Message) error

	// Consume delivers queue items on the returned channel. Every delivery
	// must be acked or nacked by the caller.
	Consume() (<-chan amqp.Delivery, error)

	// WaitReady blocks until the client has an open channel or ctx is done.
	WaitReady(ctx context.Context) error

	// Close shuts down the channel and connection.
	Close() error
}

var _ ClientInterface = (*Client)(nil)
