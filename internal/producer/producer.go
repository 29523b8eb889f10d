// Package producer simulates a fleet of field devices publishing telemetry.
package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"agrosensorhub.dev/hub/pkg/generator"
	"agrosensorhub.dev/hub/pkg/metrics"
	"agrosensorhub.dev/hub/pkg/mq"
	"agrosensorhub.dev/hub/pkg/telemetry"
)

// MaxDevices is the upper bound for the random fleet size of a producer.
const MaxDevices = 5

const announceTimeout = 5 * time.Second

// Producer owns a small fleet of simulated devices. It announces them on the
// device queue and publishes their readings on the readings queue.
type Producer struct {
	MQClient       mq.ClientInterface
	DeviceMQClient mq.ClientInterface
	Devices        []*generator.Device

	contentType string
	logger      *slog.Logger
	metrics     *metrics.ProducerMetrics // Optional metrics
	now         func() time.Time

	mu         sync.Mutex
	generators map[string]*generator.ReadingGenerator
}

// ProducerConfig holds the configuration for a Producer.
type ProducerConfig struct {
	Logger         *slog.Logger
	MQClient       mq.ClientInterface
	DeviceMQClient mq.ClientInterface
	// DeviceCount is the fleet size; 0 picks a random size from 1 to MaxDevices.
	DeviceCount int
	// ContentType selects the payload encoding; empty means JSON.
	ContentType string
}

// NewProducer creates a producer with a fresh fleet of devices.
func NewProducer(cfg *ProducerConfig) (*Producer, error) {
	if cfg == nil {
		return nil, errors.New("producer config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errLoggerRequired
	}
	if cfg.MQClient == nil || cfg.DeviceMQClient == nil {
		return nil, errors.New("mq clients cannot be nil")
	}
	if cfg.DeviceCount < 0 {
		return nil, errors.New("device count cannot be negative")
	}
	contentType, err := resolveContentType(cfg.ContentType)
	if err != nil {
		return nil, err
	}

	deviceCount := cfg.DeviceCount
	if deviceCount == 0 {
		deviceCount = rand.Intn(MaxDevices) + 1 // #nosec G404 - weak random is acceptable for simulation
	}

	p := &Producer{
		MQClient:       cfg.MQClient,
		DeviceMQClient: cfg.DeviceMQClient,
		Devices:        make([]*generator.Device, 0, deviceCount),
		contentType:    contentType,
		logger:         cfg.Logger,
		now:            time.Now,
		generators:     make(map[string]*generator.ReadingGenerator, deviceCount),
	}

	for range deviceCount {
		device, err := generator.NewDevice()
		if err != nil {
			return nil, err
		}
		p.Devices = append(p.Devices, device)
		p.generators[device.MACAddress] = generator.NewReadingGenerator(device)
	}

	return p, nil
}

// SetMetrics sets the metrics collector for this producer.
func (p *Producer) SetMetrics(m *metrics.ProducerMetrics) {
	p.metrics = m
}

// Announce publishes a registration for every device, named after its zone.
// Failures are logged and the remaining devices are still announced.
func (p *Producer) Announce(ctx context.Context) error {
	if p.metrics != nil {
		p.metrics.SimulatedDevices.Add(float64(len(p.Devices)))
	}

	var errs []error
	for _, device := range p.Devices {
		if err := p.announce(ctx, device); err != nil {
			p.logger.Error("failed to announce device",
				"mac_address", device.MACAddress,
				"error", err,
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Producer) announce(ctx context.Context, device *generator.Device) error {
	name := device.Zone
	announcement := &telemetry.DeviceAnnouncement{
		MACAddress: device.MACAddress,
		Name:       &name,
	}

	ctx, cancel := context.WithTimeout(ctx, announceTimeout)
	defer cancel()

	return p.publish(ctx, p.DeviceMQClient, "device", announcement)
}

// RandomDataPoint publishes the next reading of a randomly chosen device.
func (p *Producer) RandomDataPoint(ctx context.Context) error {
	device := p.Devices[rand.Intn(len(p.Devices))] // #nosec G404 - weak random is acceptable for simulation

	p.mu.Lock()
	reading := p.generators[device.MACAddress].Reading(p.now())
	p.mu.Unlock()

	if err := p.publish(ctx, p.MQClient, "sensor_activity", reading); err != nil {
		return err
	}

	if p.metrics != nil {
		p.metrics.ReadingsSimulated.Inc()
	}
	return nil
}

func (p *Producer) publish(ctx context.Context, client mq.ClientInterface, kind string, v any) error {
	if p.metrics != nil {
		timer := prometheus.NewTimer(p.metrics.PublishDuration.WithLabelValues(kind))
		defer timer.ObserveDuration()
	}

	body, err := telemetry.Encode(v, p.contentType)
	if err != nil {
		if p.metrics != nil {
			p.metrics.PublishFailures.WithLabelValues(kind, "encode_error").Inc()
		}
		return fmt.Errorf("failed to encode %s: %w", kind, err)
	}

	if err := client.Push(ctx, mq.Message{ContentType: p.contentType, Body: body}); err != nil {
		if p.metrics != nil {
			p.metrics.PublishFailures.WithLabelValues(kind, "push_error").Inc()
		}
		return fmt.Errorf("failed to publish %s: %w", kind, err)
	}

	if p.metrics != nil {
		p.metrics.MessagesPublished.WithLabelValues(kind).Inc()
	}
	return nil
}

func resolveContentType(contentType string) (string, error) {
	switch contentType {
	case "", "json", mq.ContentTypeJSON:
		return mq.ContentTypeJSON, nil
	case "protobuf", mq.ContentTypeProtobuf:
		return mq.ContentTypeProtobuf, nil
	default:
		return "", fmt.Errorf("unsupported content type %q", contentType)
	}
}
