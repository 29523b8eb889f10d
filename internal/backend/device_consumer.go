package backend

import (
	"context"
	"errors"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"agrosensorhub.dev/hub/pkg/metrics"
	"agrosensorhub.dev/hub/pkg/mq"
	"agrosensorhub.dev/hub/pkg/telemetry"
)

// DeviceConsumer registers and renames devices from announcement messages.
type DeviceConsumer struct {
	*queueConsumer
	devices *DeviceService
}

// DeviceConsumerConfig holds the configuration for the DeviceConsumer.
type DeviceConsumerConfig struct {
	Logger       *slog.Logger
	Devices      *DeviceService
	MQClient     mq.ClientInterface
	Metrics      *metrics.BackendMetrics // Optional metrics
	MQMetrics    *metrics.MQMetrics      // Optional metrics for a dialed client
	RabbitMQURL  string
	QueueName    string
	ReadyTimeout time.Duration
}

// NewDeviceConsumer creates a new DeviceConsumer instance.
func NewDeviceConsumer(cfg *DeviceConsumerConfig) (*DeviceConsumer, error) {
	if cfg == nil {
		return nil, errors.New("device consumer config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Devices == nil {
		return nil, errors.New("device service cannot be nil")
	}

	client, err := consumerClient(cfg.MQClient, cfg.RabbitMQURL, cfg.QueueName, cfg.Logger, cfg.MQMetrics)
	if err != nil {
		return nil, err
	}

	c := &DeviceConsumer{devices: cfg.Devices}
	c.queueConsumer = newQueueConsumer(cfg.Logger, client, cfg.QueueName, cfg.ReadyTimeout, cfg.Metrics)
	c.handle = c.handleAnnouncement
	return c, nil
}

// handleAnnouncement creates the device, or renames it when it already exists
// and the announcement carries a name.
func (c *DeviceConsumer) handleAnnouncement(ctx context.Context, delivery amqp.Delivery) outcome {
	announcement, err := telemetry.DecodeDeviceAnnouncement(delivery.Body, delivery.ContentType)
	if err != nil {
		c.logger.Warn("dropping invalid device announcement",
			"content_type", delivery.ContentType,
			"error", err,
		)
		return outcomeDrop
	}

	_, err = c.devices.Create(ctx, announcement.MACAddress, announcement.Name)
	if err != nil && KindOf(err) == KindConflict {
		if announcement.Name == nil {
			return outcomeAck
		}
		_, err = c.devices.Update(ctx, announcement.MACAddress, announcement.Name)
	}

	switch {
	case err == nil:
		c.logger.Debug("device announcement applied", "mac_address", announcement.MACAddress)
		return outcomeAck
	case KindOf(err) == KindInternal:
		c.logger.Error("failed to apply device announcement",
			"mac_address", announcement.MACAddress,
			"error", err,
		)
		return outcomeRequeue
	default:
		c.logger.Warn("dropping rejected device announcement",
			"mac_address", announcement.MACAddress,
			"error", err,
		)
		return outcomeDrop
	}
}
