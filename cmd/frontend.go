package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agrosensorhub.dev/hub/internal/frontend"
	"agrosensorhub.dev/hub/pkg/metrics"
)

var frontendCmd = &cobra.Command{
	Use:   "frontend",
	Short: "Run the dashboard server",
	Long: `Run the dashboard web server that:
- Shows the zones dashboard, zone details and reading history
- Reads from the backend gRPC API through a circuit breaker`,
	RunE: runFrontend,
}

func init() {
	rootCmd.AddCommand(frontendCmd)

	frontendCmd.Flags().Int("http-port", 8080, "HTTP server port")
	frontendCmd.Flags().String("backend-addr", "localhost:50051", "Backend gRPC server address")
	frontendCmd.Flags().Int("page-size", frontend.DefaultPageSize, "Readings per history page")

	_ = viper.BindPFlag("frontend.http.port", frontendCmd.Flags().Lookup("http-port"))
	_ = viper.BindPFlag("frontend.backend.addr", frontendCmd.Flags().Lookup("backend-addr"))
	_ = viper.BindPFlag("frontend.history.page_size", frontendCmd.Flags().Lookup("page-size"))
}

func runFrontend(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting frontend service", "version", Version)
	metrics.RegisterBuildInfo(metricsNamespace, "frontend", Version)

	config := &frontend.ServerConfig{
		Logger:          logger,
		Metrics:         metrics.NewFrontendMetrics(metricsNamespace),
		HTTPPort:        viper.GetInt("frontend.http.port"),
		PageSize:        viper.GetInt("frontend.history.page_size"),
		BackendGRPCAddr: viper.GetString("frontend.backend.addr"),
	}

	server, err := frontend.NewServer(config)
	if err != nil {
		logger.Error("failed to create frontend server", "error", err)
		return err
	}

	logger.Info("frontend server configuration",
		"http_port", config.HTTPPort,
		"backend_addr", config.BackendGRPCAddr,
		"page_size", config.PageSize,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("frontend server error", "error", err)
		return err
	}

	logger.Info("frontend server stopped")
	return nil
}
