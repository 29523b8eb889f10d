package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agrosensorhub.dev/hub/internal/backend"
	"agrosensorhub.dev/hub/pkg/metrics"
)

const metricsNamespace = "agro_sensor_hub"

var backendCmd = &cobra.Command{
	Use:   "backend",
	Short: "Run the backend server",
	Long: `Run the backend server that:
- Serves the REST API for devices, sensor activities and notifications
- Consumes sensor readings and device announcements from RabbitMQ
- Optionally subscribes to field controller readings over MQTT
- Persists data to PostgreSQL
- Serves the gRPC read API used by the dashboard`,
	RunE: runBackend,
}

func init() {
	rootCmd.AddCommand(backendCmd)

	flags := backendCmd.Flags()
	flags.String("db-host", "localhost", "PostgreSQL host")
	flags.Int("db-port", 5432, "PostgreSQL port")
	flags.String("db-user", "postgres", "PostgreSQL user")
	flags.String("db-password", "", "PostgreSQL password")
	flags.String("db-name", "agro_sensor_hub", "PostgreSQL database name")
	flags.String("db-sslmode", "disable", "PostgreSQL SSL mode")
	flags.Uint64("db-connect-retries", 5, "PostgreSQL connection attempts before giving up")
	flags.String("rabbitmq-url", "amqp://localhost:5672", "RabbitMQ URL")
	flags.String("queue-name", "sensor-activities", "RabbitMQ queue name for sensor readings")
	flags.String("device-queue-name", "device-announcements", "RabbitMQ queue name for device announcements (empty disables)")
	flags.Bool("mqtt-enabled", false, "Subscribe to field controller readings over MQTT")
	flags.String("mqtt-broker", "tcp://localhost:1883", "MQTT broker URL")
	flags.String("mqtt-topic", backend.DefaultMQTTTopic, "MQTT topic filter for readings")
	flags.String("mqtt-client-id", "agro-sensor-hub-backend", "MQTT client ID")
	flags.String("mqtt-username", "", "MQTT username")
	flags.String("mqtt-password", "", "MQTT password")
	flags.Uint8("mqtt-qos", 1, "MQTT subscription QoS (0, 1 or 2)")
	flags.Int("http-port", 8000, "HTTP API port")
	flags.String("api-prefix", backend.DefaultAPIPrefix, "Versioned prefix of the REST API")
	flags.StringSlice("allowed-origins", nil, "CORS origins allowed to call the API")
	flags.String("export-timezone", "", "IANA time zone for export timestamps (default local)")
	flags.Int("grpc-port", 50051, "gRPC server port")

	for key, flag := range map[string]string{
		"backend.db.host":                    "db-host",
		"backend.db.port":                    "db-port",
		"backend.db.user":                    "db-user",
		"backend.db.password":                "db-password",
		"backend.db.name":                    "db-name",
		"backend.db.sslmode":                 "db-sslmode",
		"backend.db.connect_retries":         "db-connect-retries",
		"backend.rabbitmq.url":               "rabbitmq-url",
		"backend.rabbitmq.queue_name":        "queue-name",
		"backend.rabbitmq.device_queue_name": "device-queue-name",
		"backend.mqtt.enabled":               "mqtt-enabled",
		"backend.mqtt.broker":                "mqtt-broker",
		"backend.mqtt.topic":                 "mqtt-topic",
		"backend.mqtt.client_id":             "mqtt-client-id",
		"backend.mqtt.username":              "mqtt-username",
		"backend.mqtt.password":              "mqtt-password",
		"backend.mqtt.qos":                   "mqtt-qos",
		"backend.http.port":                  "http-port",
		"backend.api.prefix":                 "api-prefix",
		"backend.api.allowed_origins":        "allowed-origins",
		"backend.export.timezone":            "export-timezone",
		"backend.grpc.port":                  "grpc-port",
	} {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}
}

func runBackend(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting backend service", "version", Version)
	metrics.RegisterBuildInfo(metricsNamespace, "backend", Version)

	config := &backend.ServerConfig{
		Logger:           logger,
		Metrics:          metrics.NewBackendMetrics(metricsNamespace),
		MQMetrics:        metrics.NewMQMetrics(metricsNamespace),
		DBHost:           viper.GetString("backend.db.host"),
		DBPort:           viper.GetInt("backend.db.port"),
		DBUser:           viper.GetString("backend.db.user"),
		DBPassword:       viper.GetString("backend.db.password"),
		DBName:           viper.GetString("backend.db.name"),
		DBSSLMode:        viper.GetString("backend.db.sslmode"),
		DBConnectRetries: viper.GetUint64("backend.db.connect_retries"),
		RabbitMQURL:      viper.GetString("backend.rabbitmq.url"),
		QueueName:        viper.GetString("backend.rabbitmq.queue_name"),
		DeviceQueueName:  viper.GetString("backend.rabbitmq.device_queue_name"),
		MQTTEnabled:      viper.GetBool("backend.mqtt.enabled"),
		MQTTBrokerURL:    viper.GetString("backend.mqtt.broker"),
		MQTTTopic:        viper.GetString("backend.mqtt.topic"),
		MQTTClientID:     viper.GetString("backend.mqtt.client_id"),
		MQTTUsername:     viper.GetString("backend.mqtt.username"),
		MQTTPassword:     viper.GetString("backend.mqtt.password"),
		MQTTQoS:          byte(viper.GetUint("backend.mqtt.qos")), // #nosec G115 -- validated by the MQTT bridge
		HTTPPort:         viper.GetInt("backend.http.port"),
		APIPrefix:        viper.GetString("backend.api.prefix"),
		AllowedOrigins:   viper.GetStringSlice("backend.api.allowed_origins"),
		ExportTimezone:   viper.GetString("backend.export.timezone"),
		GRPCPort:         viper.GetInt("backend.grpc.port"),
	}

	server, err := backend.NewServer(config)
	if err != nil {
		logger.Error("failed to create backend server", "error", err)
		return err
	}

	logger.Info("backend server configuration",
		"db_host", config.DBHost,
		"db_port", config.DBPort,
		"db_name", config.DBName,
		"sensor_queue", config.QueueName,
		"device_queue", config.DeviceQueueName,
		"mqtt_enabled", config.MQTTEnabled,
		"http_port", config.HTTPPort,
		"api_prefix", config.APIPrefix,
		"grpc_port", config.GRPCPort,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("backend server error", "error", err)
		return err
	}

	logger.Info("backend server stopped")
	return nil
}
