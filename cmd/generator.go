package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agrosensorhub.dev/hub/internal/producer"
	"agrosensorhub.dev/hub/pkg/metrics"
)

var generatorCmd = &cobra.Command{
	Use:   "generator",
	Short: "Run the field controller simulator",
	Long: `Run the field controller simulator that:
- Simulates fleets of greenhouse controllers with random MACs and zones
- Announces every simulated device on the device queue
- Publishes correlated humidity, temperature and ground moisture readings
- Supports multiple concurrent producers`,
	RunE: runGenerator,
}

func init() {
	rootCmd.AddCommand(generatorCmd)

	flags := generatorCmd.Flags()
	flags.String("rabbitmq-url", "amqp://localhost:5672", "RabbitMQ URL")
	flags.String("queue-name", "sensor-activities", "RabbitMQ queue name for sensor readings")
	flags.String("device-queue-name", "device-announcements", "RabbitMQ queue name for device announcements")
	flags.String("content-type", "json", "Payload encoding (json, protobuf)")
	flags.Int("producer-count", 5, "Number of concurrent producers")
	flags.Int("devices-per-producer", 0, "Fleet size of every producer (0 picks 1 to 5 at random)")
	flags.Duration("interval", 5*time.Second, "Interval between readings of one producer")
	flags.Int("metrics-port", 0, "Port serving Prometheus metrics (0 disables)")

	_ = viper.BindPFlag("generator.rabbitmq.url", flags.Lookup("rabbitmq-url"))
	_ = viper.BindPFlag("generator.rabbitmq.queue_name", flags.Lookup("queue-name"))
	_ = viper.BindPFlag("generator.rabbitmq.device_queue_name", flags.Lookup("device-queue-name"))
	_ = viper.BindPFlag("generator.content_type", flags.Lookup("content-type"))
	_ = viper.BindPFlag("generator.producer_count", flags.Lookup("producer-count"))
	_ = viper.BindPFlag("generator.devices_per_producer", flags.Lookup("devices-per-producer"))
	_ = viper.BindPFlag("generator.interval", flags.Lookup("interval"))
	_ = viper.BindPFlag("generator.metrics.port", flags.Lookup("metrics-port"))
}

func runGenerator(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting generator service", "version", Version)

	config := &producer.ServerConfig{
		Logger:             logger,
		RabbitMQURL:        viper.GetString("generator.rabbitmq.url"),
		QueueName:          viper.GetString("generator.rabbitmq.queue_name"),
		DeviceQueueName:    viper.GetString("generator.rabbitmq.device_queue_name"),
		ContentType:        viper.GetString("generator.content_type"),
		ProducerCount:      viper.GetInt("generator.producer_count"),
		DevicesPerProducer: viper.GetInt("generator.devices_per_producer"),
		Interval:           viper.GetDuration("generator.interval"),
	}

	if port := viper.GetInt("generator.metrics.port"); port > 0 {
		config.Metrics = metrics.NewProducerMetrics(metricsNamespace)
		config.MQMetrics = metrics.NewMQMetrics(metricsNamespace)
		metrics.RegisterBuildInfo(metricsNamespace, "generator", Version)
		stop := serveMetrics(logger, port)
		defer stop()
	}

	server, err := producer.NewServer(config)
	if err != nil {
		logger.Error("failed to create generator server", "error", err)
		return err
	}

	logger.Info("generator server configuration",
		"sensor_queue", config.QueueName,
		"device_queue", config.DeviceQueueName,
		"content_type", config.ContentType,
		"producer_count", config.ProducerCount,
		"interval", config.Interval,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("generator server error", "error", err)
		return err
	}

	logger.Info("generator server stopped")
	return nil
}

// serveMetrics exposes /metrics on port until the returned func is called.
func serveMetrics(logger *slog.Logger, port int) func() {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("serving metrics", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
