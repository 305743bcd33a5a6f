package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/edgewatch/multiregion/internal/api"
	"github.com/edgewatch/multiregion/internal/config"
	"github.com/edgewatch/multiregion/internal/coordinator"
	"github.com/edgewatch/multiregion/internal/health"
	"github.com/edgewatch/multiregion/internal/metrics"
	"github.com/edgewatch/multiregion/internal/replication"
)

var rootCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Multi-region coordination daemon",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordinator with its operator API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	collector := metrics.NewCollector(prometheus.DefaultRegisterer)
	probe := health.NewHTTPProbe(cfg.HealthCheck.Timeout, cfg.HealthCheck.Path)
	applier := replication.NewHTTPApplier(cfg.HealthCheck.Timeout)

	coord, err := coordinator.New(cfg, probe, applier, logger, collector)
	if err != nil {
		logger.Fatal("Failed to build coordinator", zap.Error(err))
	}

	applier.SetEndpointResolver(func(regionID string) string {
		region, err := coord.Monitor.Region(regionID)
		if err != nil || len(region.Endpoints) == 0 {
			return ""
		}
		return region.Endpoints[0]
	})

	ctx, cancel := context.WithCancel(context.Background())
	coord.Start(ctx)

	server := api.NewServer(cfg, coord, logger)
	go func() {
		if err := server.Run(); err != nil {
			logger.Fatal("API server failed", zap.Error(err))
		}
	}()

	logger.Info("Coordinator serving",
		zap.String("port", cfg.Server.Port),
		zap.Int("regions", len(cfg.Regions)),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down coordinator...")
	cancel()
	coord.Stop()
	logger.Info("Coordinator exited")
	return nil
}
