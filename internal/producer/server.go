package producer

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"agrosensorhub.dev/hub/pkg/metrics"
	"agrosensorhub.dev/hub/pkg/mq"
)

// ServerConfig holds the configuration for the simulator server.
type ServerConfig struct {
	// Logger is the structured logger
	Logger *slog.Logger
	// RabbitMQURL is the connection string for RabbitMQ
	RabbitMQURL string
	// QueueName is the queue sensor readings are published to
	QueueName string
	// DeviceQueueName is the queue device announcements are published to
	DeviceQueueName string
	// ContentType is the payload encoding, "json" or "protobuf"
	ContentType string
	// Interval is the time between readings of one producer
	Interval time.Duration
	// ProducerCount is the number of concurrent producers
	ProducerCount int
	// DevicesPerProducer fixes the fleet size of every producer; 0 means random
	DevicesPerProducer int
	// Metrics is the optional Prometheus metrics collector
	Metrics *metrics.ProducerMetrics
	// MQMetrics is the optional Prometheus metrics collector for MQ operations
	MQMetrics *metrics.MQMetrics
	// Dial opens a queue client. Defaults to a RabbitMQ client for RabbitMQURL.
	Dial func(queueName string, logger *slog.Logger) mq.ClientInterface
}

// Server manages multiple producer instances.
type Server struct {
	logger    *slog.Logger
	config    *ServerConfig
	producers []*Producer
	clients   []mq.ClientInterface
	wg        sync.WaitGroup
	metrics   *metrics.ProducerMetrics
	closeOnce sync.Once

	mu       sync.Mutex
	cancel   context.CancelFunc
	shutdown bool
}

var (
	errInvalidProducerCount = errors.New("producer count must be greater than 0")
	errInvalidInterval      = errors.New("interval must be greater than 0")
	errLoggerRequired       = errors.New("logger is required")
	errQueueNameRequired    = errors.New("queue names cannot be empty")
)

// NewServer creates a new simulator server with the given configuration.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.ProducerCount <= 0 {
		return nil, errInvalidProducerCount
	}

	if cfg.Interval <= 0 {
		return nil, errInvalidInterval
	}

	if cfg.Logger == nil {
		return nil, errLoggerRequired
	}

	if cfg.QueueName == "" || cfg.DeviceQueueName == "" {
		return nil, errQueueNameRequired
	}

	if _, err := resolveContentType(cfg.ContentType); err != nil {
		return nil, err
	}

	dial := cfg.Dial
	if dial == nil {
		dial = func(queueName string, logger *slog.Logger) mq.ClientInterface {
			client := mq.New(queueName, cfg.RabbitMQURL, logger)
			if cfg.MQMetrics != nil {
				client.SetMetrics(cfg.MQMetrics)
			}
			return client
		}
	}

	s := &Server{
		config:    cfg,
		producers: make([]*Producer, 0, cfg.ProducerCount),
		clients:   make([]mq.ClientInterface, 0, 2*cfg.ProducerCount),
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}

	// Every producer gets its own pair of clients.
	for i := 0; i < cfg.ProducerCount; i++ {
		client := dial(cfg.QueueName, cfg.Logger.With(
			slog.String("component", "mq-client"),
			slog.Int("producer_id", i),
		))
		deviceClient := dial(cfg.DeviceQueueName, cfg.Logger.With(
			slog.String("component", "device-mq-client"),
			slog.Int("producer_id", i),
		))
		s.clients = append(s.clients, client, deviceClient)

		producer, err := NewProducer(&ProducerConfig{
			Logger:         cfg.Logger.With(slog.Int("producer_id", i)),
			MQClient:       client,
			DeviceMQClient: deviceClient,
			DeviceCount:    cfg.DevicesPerProducer,
			ContentType:    cfg.ContentType,
		})
		if err != nil {
			s.closeClients()
			return nil, err
		}

		if cfg.Metrics != nil {
			producer.SetMetrics(cfg.Metrics)
		}
		s.producers = append(s.producers, producer)

		s.logger.Info("created producer instance",
			"producer_id", i,
			"queue", cfg.QueueName,
			"device_queue", cfg.DeviceQueueName,
			"device_count", len(producer.Devices),
		)
	}

	return s, nil
}

// Run starts all producers and blocks until shutdown signal is received.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	s.mu.Lock()
	if s.shutdown {
		cancel()
	} else {
		s.cancel = cancel
		s.wg.Add(len(s.producers))
		for i, producer := range s.producers {
			go s.runProducer(ctx, i, producer)
		}
	}
	s.mu.Unlock()

	s.logger.Info("producer server started",
		"producer_count", len(s.producers),
		"interval", s.config.Interval,
		"content_type", s.config.ContentType,
	)

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled, shutting down")
	}

	s.logger.Info("waiting for producers to shut down...")
	s.wg.Wait()

	s.logger.Info("closing MQ clients...")
	s.closeClients()

	s.logger.Info("producer server stopped")
	return nil
}

// runProducer announces the producer's devices, then publishes one reading
// per interval until ctx is done.
func (s *Server) runProducer(ctx context.Context, id int, producer *Producer) {
	defer s.wg.Done()

	if s.metrics != nil {
		s.metrics.ActiveProducers.Inc()
		defer s.metrics.ActiveProducers.Dec()
	}

	producerLogger := s.logger.With(slog.Int("producer_id", id))

	if err := producer.Announce(ctx); err != nil {
		// Readings still register unknown devices, only without a name.
		producerLogger.Warn("some devices were not announced", "error", err)
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	producerLogger.Info("producer started", "device_count", len(producer.Devices))

	for {
		select {
		case <-ctx.Done():
			producerLogger.Info("producer shutting down")
			return

		case <-ticker.C:
			if err := producer.RandomDataPoint(ctx); err != nil {
				producerLogger.Error("failed to publish reading", "error", err)
				continue
			}

			producerLogger.Debug("reading published")
		}
	}
}

// closeClients closes all MQ clients once, in parallel.
func (s *Server) closeClients() {
	s.closeOnce.Do(func() {
		var wg sync.WaitGroup
		for i, client := range s.clients {
			wg.Add(1)
			go func(id int, c mq.ClientInterface) {
				defer wg.Done()

				if err := c.Close(); err != nil {
					s.logger.Error("failed to close MQ client", "client_id", id, "error", err)
					return
				}
				s.logger.Debug("MQ client closed", "client_id", id)
			}(i, client)
		}
		wg.Wait()
	})
}

// Shutdown stops a running Run, waits for its producers and closes every MQ
// client. It is an alternative to sending an OS signal and is safe to call
// more than once, before or during Run.
func (s *Server) Shutdown() error {
	s.logger.Info("shutdown requested")

	s.mu.Lock()
	s.shutdown = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	s.closeClients()
	return nil
}
