// Package mq provides a RabbitMQ client with automatic reconnection and confirmed publishing.
package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"agrosensorhub.dev/hub/pkg/metrics"
)

// Client is a RabbitMQ client bound to a single queue. It reconnects in the
// background and exposes confirmed and unconfirmed publishing plus consumption.
type Client struct {
	m               *sync.Mutex
	logger          *slog.Logger
	connection      *amqp.Connection
	channel         *amqp.Channel
	done            chan struct{}
	notifyConnClose chan *amqp.Error
	notifyChanClose chan *amqp.Error
	notifyConfirm   chan amqp.Confirmation
	queueName       string
	isReady         bool
	closed          bool
	metrics         *metrics.MQMetrics
}

const (
	// Delay before re-opening a channel after a channel exception.
	reInitDelay = 2 * time.Second

	// Bounds of the reconnect backoff.
	reconnectInitialInterval = 500 * time.Millisecond
	reconnectMaxInterval     = 30 * time.Second

	// Push retry policy.
	pushInitialInterval = 100 * time.Millisecond
	pushMaxInterval     = 10 * time.Second
	maxRetryAttempts    = 5

	readyPollInterval = 100 * time.Millisecond
)

var (
	errNotConnected  = errors.New("not connected to a server")
	errAlreadyClosed = errors.New("already closed: not connected to the server")
	errShutdown      = errors.New("client is shutting down")
	errNacked        = errors.New("publish was not acknowledged by the server")
)

// New creates a client for queueName and starts connecting to addr in the background.
func New(queueName, addr string, l *slog.Logger) *Client {
	client := Client{
		m:         &sync.Mutex{},
		logger:    l.With(slog.String("queue", queueName)),
		queueName: queueName,
		done:      make(chan struct{}),
	}
	go client.handleReconnect(addr)
	return &client
}

// SetMetrics sets the metrics collector for this client.
func (client *Client) SetMetrics(m *metrics.MQMetrics) {
	client.m.Lock()
	defer client.m.Unlock()
	client.metrics = m
}

// QueueName returns the queue this client publishes to and consumes from.
func (client *Client) QueueName() string {
	return client.queueName
}

// handleReconnect dials addr until it succeeds, then hands the connection to
// handleReInit. It starts over whenever the connection drops.
func (client *Client) handleReconnect(addr string) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = reconnectInitialInterval
	bo.MaxInterval = reconnectMaxInterval
	bo.MaxElapsedTime = 0

	for {
		client.setReady(false)
		client.logger.Info("attempting to connect")

		if client.metrics != nil {
			client.metrics.ReconnectAttempts.Inc()
		}

		conn, err := client.connect(addr)
		if err != nil {
			wait := bo.NextBackOff()
			client.logger.Error("failed to connect, retrying", "error", err, "backoff", wait)

			select {
			case <-client.done:
				return
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()

		if done := client.handleReInit(conn); done {
			return
		}
	}
}

func (client *Client) connect(addr string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(addr)
	if err != nil {
		if client.metrics != nil {
			client.metrics.ConnectionStatus.Set(0)
		}
		return nil, fmt.Errorf("failed to dial broker: %w", err)
	}

	client.m.Lock()
	client.connection = conn
	client.notifyConnClose = make(chan *amqp.Error, 1)
	client.connection.NotifyClose(client.notifyConnClose)
	client.m.Unlock()

	client.logger.Info("connected")
	if client.metrics != nil {
		client.metrics.ConnectionStatus.Set(1)
	}

	return conn, nil
}

// handleReInit keeps a channel open on conn. It returns true when the client
// is closed and false when the connection is lost.
func (client *Client) handleReInit(conn *amqp.Connection) bool {
	for {
		client.setReady(false)

		if err := client.init(conn); err != nil {
			client.logger.Error("failed to initialize channel, retrying", "error", err)

			select {
			case <-client.done:
				return true
			case <-client.notifyConnClose:
				client.logger.Info("connection closed, reconnecting")
				return false
			case <-time.After(reInitDelay):
			}
			continue
		}

		select {
		case <-client.done:
			return true
		case <-client.notifyConnClose:
			client.logger.Info("connection closed, reconnecting")
			return false
		case <-client.notifyChanClose:
			client.logger.Info("channel closed, re-running init")
		}
	}
}

// init opens a confirming channel and declares the queue.
func (client *Client) init(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("failed to enable confirms: %w", err)
	}

	if _, err := ch.QueueDeclare(
		client.queueName,
		false, // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	client.m.Lock()
	client.channel = ch
	client.notifyChanClose = make(chan *amqp.Error, 1)
	client.notifyConfirm = make(chan amqp.Confirmation, 1)
	client.channel.NotifyClose(client.notifyChanClose)
	client.channel.NotifyPublish(client.notifyConfirm)
	client.isReady = true
	client.m.Unlock()

	client.logger.Info("client init done")
	return nil
}

func (client *Client) setReady(ready bool) {
	client.m.Lock()
	client.isReady = ready
	client.m.Unlock()
}

func (client *Client) ready() bool {
	client.m.Lock()
	defer client.m.Unlock()
	return client.isReady
}

// WaitReady blocks until the channel is open, the client is closed or ctx is done.
func (client *Client) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		if client.ready() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-client.done:
			return errShutdown
		case <-ticker.C:
		}
	}
}

// Push publishes msg and waits for the broker to confirm it. While the client
// is disconnected or the broker nacks, Push retries with exponential backoff
// up to maxRetryAttempts times.
func (client *Client) Push(ctx context.Context, msg Message) error {
	if client.metrics != nil {
		timer := prometheus.NewTimer(client.metrics.PublishDuration.WithLabelValues(client.queueName))
		defer timer.ObserveDuration()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = pushInitialInterval
	bo.MaxInterval = pushMaxInterval

	attempt := 0
	operation := func() error {
		attempt++
		select {
		case <-client.done:
			return backoff.Permanent(errShutdown)
		default:
		}

		if !client.ready() {
			return errNotConnected
		}

		if err := client.UnsafePush(ctx, msg); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return backoff.Permanent(ctx.Err())
		case <-client.done:
			return backoff.Permanent(errShutdown)
		case confirm := <-client.notifyConfirm:
			if !confirm.Ack {
				return errNacked
			}
			client.logger.Debug("push confirmed", "delivery_tag", confirm.DeliveryTag, "attempt", attempt)
			return nil
		}
	}

	notify := func(err error, wait time.Duration) {
		client.logger.Warn("push failed, retrying", "error", err, "backoff", wait, "attempt", attempt)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, maxRetryAttempts), ctx)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		if client.metrics != nil {
			client.metrics.PublishFailures.WithLabelValues(client.queueName, failureReason(err)).Inc()
		}
		return fmt.Errorf("failed to push to %s: %w", client.queueName, err)
	}

	if client.metrics != nil {
		client.metrics.MessagesPublished.WithLabelValues(client.queueName).Inc()
	}
	return nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "context_canceled"
	case errors.Is(err, errShutdown):
		return "shutdown"
	case errors.Is(err, errNotConnected):
		return "not_connected"
	case errors.Is(err, errNacked):
		return "nacked"
	default:
		return "max_retries_exceeded"
	}
}

// UnsafePush publishes msg without waiting for a confirmation.
func (client *Client) UnsafePush(ctx context.Context, msg Message) error {
	client.m.Lock()
	if !client.isReady {
		client.m.Unlock()
		return errNotConnected
	}
	ch := client.channel
	client.m.Unlock()

	contentType := msg.ContentType
	if contentType == "" {
		contentType = ContentTypeJSON
	}

	return ch.PublishWithContext(
		ctx,
		"",               // exchange
		client.queueName, // routing key
		false,            // mandatory
		false,            // immediate
		amqp.Publishing{
			ContentType: contentType,
			Timestamp:   time.Now().UTC(),
			Body:        msg.Body,
		},
	)
}

// Consume starts delivering queue items with a prefetch of one.
func (client *Client) Consume() (<-chan amqp.Delivery, error) {
	client.m.Lock()
	if !client.isReady {
		client.m.Unlock()
		return nil, errNotConnected
	}
	ch := client.channel
	client.m.Unlock()

	if err := ch.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		client.queueName,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume: %w", err)
	}

	if client.metrics == nil {
		return deliveries, nil
	}

	counted := make(chan amqp.Delivery)
	go func() {
		defer close(counted)
		for d := range deliveries {
			client.metrics.MessagesConsumed.WithLabelValues(client.queueName).Inc()
			counted <- d
		}
	}()
	return counted, nil
}

// Close stops reconnecting and shuts down the channel and connection.
func (client *Client) Close() error {
	client.m.Lock()
	defer client.m.Unlock()

	if client.closed {
		return errAlreadyClosed
	}
	client.closed = true
	close(client.done)

	if !client.isReady {
		return nil
	}
	client.isReady = false

	if err := client.channel.Close(); err != nil {
		return fmt.Errorf("failed to close channel: %w", err)
	}
	if err := client.connection.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}

	if client.metrics != nil {
		client.metrics.ConnectionStatus.Set(0)
	}

	return nil
}
