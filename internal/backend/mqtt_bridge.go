package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"agrosensorhub.dev/hub/pkg/mq"
	"agrosensorhub.dev/hub/pkg/telemetry"
)

// DefaultMQTTTopic matches the reading topic of every field controller.
const DefaultMQTTTopic = "agro/+/sensor-activity"

// MQTTConfig holds the configuration for the MQTTBridge.
type MQTTConfig struct {
	Logger     *slog.Logger
	Service    *SensorActivityService
	BrokerURL  string
	ClientID   string
	Username   string
	Password   string
	Topic      string
	QoS        byte
	MaxRetries uint64
}

// MQTTBridge subscribes to device topics on an MQTT broker and ingests the
// readings published there.
type MQTTBridge struct {
	logger  *slog.Logger
	service *SensorActivityService
	opts    *mqtt.ClientOptions
	topic   string
	qos     byte
	retries uint64

	mu     sync.Mutex
	client mqtt.Client
	ctx    context.Context
	cancel context.CancelFunc
}

// NewMQTTBridge creates a new MQTTBridge instance.
func NewMQTTBridge(cfg *MQTTConfig) (*MQTTBridge, error) {
	if cfg == nil {
		return nil, errors.New("mqtt config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Service == nil {
		return nil, errors.New("sensor activity service cannot be nil")
	}

	if cfg.BrokerURL == "" {
		return nil, errors.New("mqtt broker URL cannot be empty")
	}

	if cfg.QoS > 2 {
		return nil, fmt.Errorf("invalid mqtt qos %d", cfg.QoS)
	}

	topic := cfg.Topic
	if topic == "" {
		topic = DefaultMQTTTopic
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "agro-sensor-hub-backend"
	}

	retries := cfg.MaxRetries
	if retries == 0 {
		retries = 5
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(clientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)

	b := &MQTTBridge{
		logger:  cfg.Logger.With("component", "mqtt_bridge", "topic", topic),
		service: cfg.Service,
		opts:    opts,
		topic:   topic,
		qos:     cfg.QoS,
		retries: retries,
	}

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.logger.Warn("mqtt connection lost", "error", err)
	})
	// Subscriptions do not survive a clean-session reconnect.
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		b.subscribe(c)
	})

	return b, nil
}

// Start connects to the broker, retrying with exponential backoff, and
// subscribes to the reading topic.
func (b *MQTTBridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client != nil {
		return errors.New("mqtt bridge already started")
	}

	b.ctx, b.cancel = context.WithCancel(ctx)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = time.Minute

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(b.opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			b.logger.Warn("failed to connect to mqtt broker", "error", token.Error())
			return token.Error()
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, b.retries), b.ctx))
	if err != nil {
		b.cancel()
		return fmt.Errorf("failed to connect to mqtt broker: %w", err)
	}

	b.client = client
	b.logger.Info("mqtt bridge started")
	return nil
}

func (b *MQTTBridge) subscribe(c mqtt.Client) {
	token := c.Subscribe(b.topic, b.qos, func(_ mqtt.Client, m mqtt.Message) {
		b.handleMessage(b.context(), m.Topic(), m.Payload())
	})
	if token.Wait() && token.Error() != nil {
		b.logger.Error("failed to subscribe", "error", token.Error())
		return
	}
	b.logger.Info("subscribed to mqtt topic", "qos", b.qos)
}

func (b *MQTTBridge) context() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx == nil {
		return context.Background()
	}
	return b.ctx
}

// handleMessage ingests one published reading. The MAC address falls back to
// the device segment of the topic when the payload omits it.
func (b *MQTTBridge) handleMessage(ctx context.Context, topic string, payload []byte) {
	var reading telemetry.Reading
	if err := telemetry.Decode(payload, mq.ContentTypeJSON, &reading); err != nil {
		b.logger.Warn("dropping undecodable mqtt payload", "message_topic", topic, "error", err)
		return
	}

	if reading.MACAddress == "" {
		reading.MACAddress = macFromTopic(topic)
	}

	if err := telemetry.Validate(&reading); err != nil {
		b.logger.Warn("dropping invalid mqtt reading", "message_topic", topic, "error", err)
		return
	}

	if _, err := b.service.Create(ctx, &reading, SourceMQTT); err != nil {
		b.logger.Error("failed to save mqtt reading",
			"mac_address", reading.MACAddress,
			"error", err,
		)
	}
}

// macFromTopic returns the second level of topic, e.g. the MAC in
// "agro/AA:BB:CC:DD:EE:FF/sensor-activity".
func macFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// Stop unsubscribes and disconnects from the broker.
func (b *MQTTBridge) Stop() error {
	b.mu.Lock()
	client := b.client
	b.client = nil
	if b.cancel != nil {
		b.cancel()
	}
	b.mu.Unlock()

	if client == nil {
		return nil
	}

	b.logger.Info("stopping mqtt bridge")
	var err error
	if token := client.Unsubscribe(b.topic); token.WaitTimeout(5*time.Second) && token.Error() != nil {
		err = fmt.Errorf("failed to unsubscribe: %w", token.Error())
	}
	client.Disconnect(250)

	b.logger.Info("mqtt bridge stopped")
	return err
}
