package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"agrosensorhub.dev/hub/pkg/metrics"
	"agrosensorhub.dev/hub/pkg/mq"
	"agrosensorhub.dev/hub/pkg/telemetry"
)

// DefaultReadyTimeout bounds how long a consumer waits for its broker connection.
const DefaultReadyTimeout = 30 * time.Second

// outcome is what a handler decided to do with a delivery.
type outcome int

const (
	// outcomeAck acknowledges a processed message.
	outcomeAck outcome = iota
	// outcomeDrop acknowledges a message that can never be processed.
	outcomeDrop
	// outcomeRequeue returns the message to the queue for another attempt.
	outcomeRequeue
	// outcomeDiscard rejects a message that already failed once after
	// redelivery. Brokers with a dead-letter exchange route it there.
	outcomeDiscard
)

func (o outcome) status() string {
	switch o {
	case outcomeDrop:
		return "invalid"
	case outcomeRequeue:
		return "error"
	case outcomeDiscard:
		return "discarded"
	default:
		return "success"
	}
}

// queueConsumer runs the delivery loop shared by every consumer.
type queueConsumer struct {
	logger       *slog.Logger
	mqClient     mq.ClientInterface
	metrics      *metrics.BackendMetrics
	handle       func(ctx context.Context, delivery amqp.Delivery) outcome
	queue        string
	readyTimeout time.Duration

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
}

func newQueueConsumer(logger *slog.Logger, client mq.ClientInterface, queue string, readyTimeout time.Duration, m *metrics.BackendMetrics) *queueConsumer {
	if readyTimeout <= 0 {
		readyTimeout = DefaultReadyTimeout
	}
	return &queueConsumer{
		logger:       logger.With("queue", queue),
		mqClient:     client,
		metrics:      m,
		queue:        queue,
		readyTimeout: readyTimeout,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start waits for the broker and begins consuming in the background.
func (q *queueConsumer) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return errors.New("consumer already started")
	}

	q.logger.Info("starting consumer")

	readyCtx, cancel := context.WithTimeout(ctx, q.readyTimeout)
	defer cancel()
	if err := q.mqClient.WaitReady(readyCtx); err != nil {
		return fmt.Errorf("failed to wait for broker: %w", err)
	}

	deliveries, err := q.mqClient.Consume()
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	q.started = true
	if q.metrics != nil {
		q.metrics.ActiveConsumers.Inc()
	}

	q.logger.Info("consumer started, waiting for messages")
	go q.processMessages(ctx, deliveries)

	return nil
}

// processMessages processes incoming messages from the deliveries channel.
func (q *queueConsumer) processMessages(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer close(q.done)
	defer func() {
		if q.metrics != nil {
			q.metrics.ActiveConsumers.Dec()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			q.logger.Info("context canceled, stopping message processing")
			return

		case <-q.stop:
			return

		case delivery, ok := <-deliveries:
			if !ok {
				q.logger.Warn("deliveries channel closed")
				return
			}

			q.handleDelivery(ctx, delivery)
		}
	}
}

// handleDelivery runs the handler and settles the delivery with the broker.
func (q *queueConsumer) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	var timer *prometheus.Timer
	if q.metrics != nil {
		timer = prometheus.NewTimer(q.metrics.ProcessingDuration.WithLabelValues(q.queue))
	}

	result := q.handle(ctx, delivery)
	if result == outcomeRequeue && delivery.Redelivered {
		q.logger.Error("discarding message that failed after redelivery",
			"queue", q.queue,
			"delivery_tag", delivery.DeliveryTag,
		)
		result = outcomeDiscard
	}

	if timer != nil {
		timer.ObserveDuration()
	}
	if q.metrics != nil {
		q.metrics.ConsumerMessagesTotal.WithLabelValues(q.queue, result.status()).Inc()
	}

	if result == outcomeRequeue || result == outcomeDiscard {
		if err := delivery.Nack(false, result == outcomeRequeue); err != nil {
			q.logger.Error("failed to nack message", "error", err)
		}
		return
	}

	if err := delivery.Ack(false); err != nil {
		q.logger.Error("failed to ack message", "error", err)
	}
}

// Stop stops the consumer and closes the MQ client.
func (q *queueConsumer) Stop() error {
	q.mu.Lock()
	started := q.started
	select {
	case <-q.stop:
	default:
		close(q.stop)
	}
	q.mu.Unlock()

	q.logger.Info("stopping consumer")

	err := q.mqClient.Close()

	// Wait for message processing to complete
	if started {
		<-q.done
	}

	if err != nil {
		return fmt.Errorf("failed to close mq client: %w", err)
	}

	q.logger.Info("consumer stopped")
	return nil
}

// Consumer ingests sensor readings from a RabbitMQ queue.
type Consumer struct {
	*queueConsumer
	service *SensorActivityService
}

// ConsumerConfig holds the configuration for the Consumer.
type ConsumerConfig struct {
	Logger  *slog.Logger
	Service *SensorActivityService
	// MQClient is used as is when set. Otherwise a client is dialed from
	// RabbitMQURL and QueueName.
	MQClient     mq.ClientInterface
	Metrics      *metrics.BackendMetrics // Optional metrics
	MQMetrics    *metrics.MQMetrics      // Optional metrics for a dialed client
	RabbitMQURL  string
	QueueName    string
	ReadyTimeout time.Duration
}

// NewConsumer creates a new Consumer instance.
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg == nil {
		return nil, errors.New("consumer config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Service == nil {
		return nil, errors.New("sensor activity service cannot be nil")
	}

	client, err := consumerClient(cfg.MQClient, cfg.RabbitMQURL, cfg.QueueName, cfg.Logger, cfg.MQMetrics)
	if err != nil {
		return nil, err
	}

	c := &Consumer{service: cfg.Service}
	c.queueConsumer = newQueueConsumer(cfg.Logger, client, cfg.QueueName, cfg.ReadyTimeout, cfg.Metrics)
	c.handle = c.handleReading
	return c, nil
}

// consumerClient returns client, or dials a new one when it is nil.
func consumerClient(client mq.ClientInterface, url, queue string, logger *slog.Logger, m *metrics.MQMetrics) (mq.ClientInterface, error) {
	if queue == "" {
		return nil, errors.New("queue name cannot be empty")
	}

	if client != nil {
		return client, nil
	}

	if url == "" {
		return nil, errors.New("rabbitmq URL cannot be empty")
	}

	dialed := mq.New(queue, url, logger)
	if m != nil {
		dialed.SetMetrics(m)
	}
	return dialed, nil
}

func (c *Consumer) handleReading(ctx context.Context, delivery amqp.Delivery) outcome {
	reading, err := telemetry.DecodeReading(delivery.Body, delivery.ContentType)
	if err != nil {
		c.logger.Warn("dropping invalid sensor reading",
			"content_type", delivery.ContentType,
			"error", err,
		)
		return outcomeDrop
	}

	if _, err := c.service.Create(ctx, reading, SourceAMQP); err != nil {
		if KindOf(err) != KindInternal {
			c.logger.Warn("dropping rejected sensor reading",
				"mac_address", reading.MACAddress,
				"error", err,
			)
			return outcomeDrop
		}
		c.logger.Error("failed to save sensor reading",
			"mac_address", reading.MACAddress,
			"error", err,
		)
		return outcomeRequeue
	}

	c.logger.Debug("sensor reading saved successfully", "mac_address", reading.MACAddress)
	return outcomeAck
}
