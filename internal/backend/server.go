package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/gorm"

	"agrosensorhub.dev/hub/pkg/hubrpc"
	"agrosensorhub.dev/hub/pkg/metrics"
)

const shutdownTimeout = 10 * time.Second

// Server represents the backend server that manages the database, the queue
// consumers, the MQTT bridge and the gRPC and HTTP listeners.
type Server struct {
	logger         *slog.Logger
	config         *ServerConfig
	db             *gorm.DB
	consumer       *Consumer
	deviceConsumer *DeviceConsumer
	mqttBridge     *MQTTBridge
	grpcServer     *grpc.Server
	healthServer   *health.Server
	httpServer     *http.Server
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger    *slog.Logger
	Metrics   *metrics.BackendMetrics // Optional metrics
	MQMetrics *metrics.MQMetrics      // Optional metrics for the RabbitMQ clients

	// Database configuration
	DBHost           string
	DBUser           string
	DBPassword       string
	DBName           string
	DBSSLMode        string
	DBPort           int
	DBConnectRetries uint64

	// RabbitMQ configuration
	RabbitMQURL     string
	QueueName       string
	DeviceQueueName string // Optional; device announcements are not consumed when empty

	// MQTT configuration
	MQTTEnabled   bool
	MQTTBrokerURL string
	MQTTTopic     string
	MQTTClientID  string
	MQTTUsername  string
	MQTTPassword  string
	MQTTQoS       byte

	// HTTP API configuration
	HTTPPort       int
	APIPrefix      string
	AllowedOrigins []string
	// ExportTimezone is an IANA zone name for export timestamps. Empty means
	// the process local zone.
	ExportTimezone string

	// gRPC configuration
	GRPCPort int
}

// NewServer creates a new Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.RabbitMQURL == "" {
		return nil, errors.New("rabbitmq URL cannot be empty")
	}

	if cfg.QueueName == "" {
		return nil, errors.New("queue name cannot be empty")
	}

	if cfg.DBHost == "" {
		return nil, errors.New("database host cannot be empty")
	}

	if cfg.DBPort <= 0 {
		return nil, errors.New("database port must be positive")
	}

	if cfg.DBUser == "" {
		return nil, errors.New("database user cannot be empty")
	}

	if cfg.DBName == "" {
		return nil, errors.New("database name cannot be empty")
	}

	if cfg.GRPCPort <= 0 {
		return nil, errors.New("gRPC port must be positive")
	}

	if cfg.HTTPPort <= 0 {
		return nil, errors.New("HTTP port must be positive")
	}

	if cfg.MQTTEnabled && cfg.MQTTBrokerURL == "" {
		return nil, errors.New("mqtt broker URL cannot be empty when mqtt is enabled")
	}

	if _, err := exportLocation(cfg.ExportTimezone); err != nil {
		return nil, err
	}

	return &Server{
		logger: cfg.Logger,
		config: cfg,
	}, nil
}

func exportLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid export timezone %q: %w", name, err)
	}
	return loc, nil
}

// Run starts the backend server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting backend server")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	serveErr, err := s.start(ctx)
	if err != nil {
		if shutdownErr := s.Shutdown(); shutdownErr != nil {
			s.logger.Error("cleanup after failed start", "error", shutdownErr)
		}
		return err
	}

	s.logger.Info("backend server started successfully")

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-serveErr:
		s.logger.Error("listener failed", "error", err)
		cancel()
		if shutdownErr := s.Shutdown(); shutdownErr != nil {
			return errors.Join(err, shutdownErr)
		}
		return err
	}

	return s.Shutdown()
}

// start wires every component. The returned channel reports listener failures.
func (s *Server) start(ctx context.Context) (<-chan error, error) {
	db, err := NewDB(&DBConfig{
		Host:           s.config.DBHost,
		Port:           s.config.DBPort,
		User:           s.config.DBUser,
		Password:       s.config.DBPassword,
		DBName:         s.config.DBName,
		SSLMode:        s.config.DBSSLMode,
		ConnectRetries: s.config.DBConnectRetries,
		Logger:         s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	s.db = db

	s.logger.Info("database initialized successfully")

	location, err := exportLocation(s.config.ExportTimezone)
	if err != nil {
		return nil, err
	}

	stores := NewGormStores(db, s.config.Metrics)
	devices, err := NewDeviceService(s.logger, stores.Devices)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize device service: %w", err)
	}
	sensorActivities, err := NewSensorActivityService(&SensorActivityServiceConfig{
		Logger:     s.logger,
		Stores:     stores,
		Transactor: NewGormTransactor(db, s.config.Metrics),
		Metrics:    s.config.Metrics,
		Location:   location,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sensor activity service: %w", err)
	}
	notifications, err := NewNotificationService(s.logger, stores.Notifications)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize notification service: %w", err)
	}

	if err := s.startConsumers(ctx, devices, sensorActivities); err != nil {
		return nil, err
	}

	if s.config.MQTTEnabled {
		bridge, err := NewMQTTBridge(&MQTTConfig{
			Logger:    s.logger,
			Service:   sensorActivities,
			BrokerURL: s.config.MQTTBrokerURL,
			ClientID:  s.config.MQTTClientID,
			Username:  s.config.MQTTUsername,
			Password:  s.config.MQTTPassword,
			Topic:     s.config.MQTTTopic,
			QoS:       s.config.MQTTQoS,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize mqtt bridge: %w", err)
		}
		s.mqttBridge = bridge
		if err := bridge.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start mqtt bridge: %w", err)
		}
	}

	serveErr := make(chan error, 2)

	if err := s.startGRPC(sensorActivities, serveErr); err != nil {
		return nil, err
	}

	api, err := NewAPI(&APIConfig{
		Logger:           s.logger,
		Devices:          devices,
		SensorActivities: sensorActivities,
		Notifications:    notifications,
		Metrics:          s.config.Metrics,
		Prefix:           s.config.APIPrefix,
		AllowedOrigins:   s.config.AllowedOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize HTTP API: %w", err)
	}
	if err := s.startHTTP(api.Handler(), serveErr); err != nil {
		return nil, err
	}

	return serveErr, nil
}

func (s *Server) startConsumers(ctx context.Context, devices *DeviceService, sensorActivities *SensorActivityService) error {
	consumer, err := NewConsumer(&ConsumerConfig{
		Logger:      s.logger,
		Service:     sensorActivities,
		Metrics:     s.config.Metrics,
		MQMetrics:   s.config.MQMetrics,
		RabbitMQURL: s.config.RabbitMQURL,
		QueueName:   s.config.QueueName,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize consumer: %w", err)
	}
	s.consumer = consumer
	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	if s.config.DeviceQueueName == "" {
		return nil
	}

	deviceConsumer, err := NewDeviceConsumer(&DeviceConsumerConfig{
		Logger:      s.logger,
		Devices:     devices,
		Metrics:     s.config.Metrics,
		MQMetrics:   s.config.MQMetrics,
		RabbitMQURL: s.config.RabbitMQURL,
		QueueName:   s.config.DeviceQueueName,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize device consumer: %w", err)
	}
	s.deviceConsumer = deviceConsumer
	if err := deviceConsumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start device consumer: %w", err)
	}
	return nil
}

func (s *Server) startGRPC(sensorActivities *SensorActivityService, serveErr chan<- error) error {
	hubService, err := NewSensorHubService(s.logger, sensorActivities, s.config.Metrics)
	if err != nil {
		return fmt.Errorf("failed to initialize gRPC service: %w", err)
	}

	s.grpcServer = grpc.NewServer()
	hubrpc.RegisterSensorHubServer(s.grpcServer, hubService)

	s.healthServer = health.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.healthServer)
	s.healthServer.SetServingStatus(hubrpc.ServiceName, healthpb.HealthCheckResponse_SERVING)

	grpcAddr := fmt.Sprintf(":%d", s.config.GRPCPort)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", grpcAddr, err)
	}

	s.logger.Info("starting gRPC server", "address", grpcAddr)
	go func() {
		if err := s.grpcServer.Serve(lis); err != nil {
			serveErr <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()
	return nil
}

func (s *Server) startHTTP(handler http.Handler, serveErr chan<- error) error {
	httpAddr := fmt.Sprintf(":%d", s.config.HTTPPort)
	lis, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", httpAddr, err)
	}

	s.httpServer = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("starting HTTP server", "address", httpAddr)
	go func() {
		if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the server. Components that never started
// are skipped.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down backend server")

	var errs []error

	if s.httpServer != nil {
		s.logger.Info("stopping HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("failed to stop HTTP server", "error", err)
			errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
		}
		cancel()
	}

	if s.grpcServer != nil {
		s.logger.Info("stopping gRPC server")
		if s.healthServer != nil {
			s.healthServer.Shutdown()
		}
		s.grpcServer.GracefulStop()
		s.logger.Info("gRPC server stopped")
	}

	if s.mqttBridge != nil {
		if err := s.mqttBridge.Stop(); err != nil {
			s.logger.Error("failed to stop mqtt bridge", "error", err)
			errs = append(errs, fmt.Errorf("mqtt bridge shutdown error: %w", err))
		}
	}

	if s.deviceConsumer != nil {
		if err := s.deviceConsumer.Stop(); err != nil {
			s.logger.Error("failed to stop device consumer", "error", err)
			errs = append(errs, fmt.Errorf("device consumer shutdown error: %w", err))
		}
	}

	if s.consumer != nil {
		if err := s.consumer.Stop(); err != nil {
			s.logger.Error("failed to stop consumer", "error", err)
			errs = append(errs, fmt.Errorf("consumer shutdown error: %w", err))
		}
	}

	if s.db != nil {
		if err := CloseDB(s.db, s.logger); err != nil {
			s.logger.Error("failed to close database", "error", err)
			errs = append(errs, fmt.Errorf("database close error: %w", err))
		}
	}

	if shutdownErr := errors.Join(errs...); shutdownErr != nil {
		s.logger.Error("backend server shutdown completed with errors", "error", shutdownErr)
		return shutdownErr
	}

	s.logger.Info("backend server shutdown completed successfully")
	return nil
}
