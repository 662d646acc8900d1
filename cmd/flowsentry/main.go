package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/flowsentry/flowsentry/internal/config"
	"github.com/flowsentry/flowsentry/internal/correlate"
	"github.com/flowsentry/flowsentry/internal/dedup"
	"github.com/flowsentry/flowsentry/internal/dispatch"
	"github.com/flowsentry/flowsentry/internal/enrich"
	"github.com/flowsentry/flowsentry/internal/metrics"
	"github.com/flowsentry/flowsentry/internal/ops"
	"github.com/flowsentry/flowsentry/internal/pipeline"
	"github.com/flowsentry/flowsentry/internal/provider/polyhttp"
	"github.com/flowsentry/flowsentry/internal/source"
)

const (
	appName = "flowsentry"
	version = "v0.3.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339

	var configPath string

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Real-time options flow ingestion, correlation, and alerting pipeline",
		Version: version,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/flowsentry.yaml", "path to config file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the ingestion pipeline until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", appName, version)
		},
	}

	rootCmd.AddCommand(runCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.Log)

	reg := metrics.New()
	logger := log.Logger

	client := polyhttp.New(cfg.ProviderClientConfig(), logger)
	health := source.NewHealthMonitor(cfg.FallbackTimeout())
	stream := source.NewStreamSource(cfg.StreamConfig(), health, reg, logger)
	poll := source.NewPollSource(cfg.PollSourceConfig(), client, reg, logger)
	gateway := source.NewSourceGateway(cfg.GatewayConfig(), stream, poll, health, reg, logger)
	gateway.OnDisconnect(func() {
		log.Warn().Msg("stream lost, alerts now sourced from chain polling")
	})
	gateway.OnReconnect(func() {
		log.Info().Msg("stream recovered")
	})

	enricher := enrich.New(cfg.EnricherConfig(), client, client, reg, logger)
	roll := correlate.NewRollCorrelator(cfg.RollCorrelatorConfig(), reg, logger)
	hedge := correlate.NewHedgeCorrelator(cfg.HedgeCorrelatorConfig(), client, reg, logger)
	dd := dedup.New(cfg.DeduplicatorConfig(), reg, logger)
	dispatcher := dispatch.NewDispatcher(0, reg, logger)

	pipe := pipeline.New(cfg.PipelineRuntimeConfig(), gateway, enricher, roll, hedge, dd, dispatcher, reg, logger)

	var opsServer *ops.Server
	if cfg.Ops.Enabled {
		opsServer = ops.NewServer(cfg.Ops.ListenAddr, gateway, reg, logger)
		dispatcher.Register(opsServer.Feed())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := pipe.Start(ctx); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}
	if opsServer != nil {
		opsServer.Start()
	}
	log.Info().Str("version", version).Msg("flowsentry running")

	<-ctx.Done()
	log.Info().Msg("shutting down")

	if opsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("ops server shutdown")
		}
		cancel()
	}
	return pipe.Stop()
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
