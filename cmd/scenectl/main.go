package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/scenefall/scenectl/internal/config"
	"github.com/scenefall/scenectl/internal/core"
	"github.com/scenefall/scenectl/internal/logging"
	"github.com/scenefall/scenectl/internal/observability"
	"github.com/scenefall/scenectl/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "scenectl.toml", "path to the scenectl config file")
	writeInit := flag.Bool("init", false, "write a starter config to -config and exit")
	force := flag.Bool("force", false, "overwrite an existing config with -init")
	flag.Parse()

	if *writeInit {
		if err := config.WriteTemplate(*configPath, *force); err != nil {
			fmt.Fprintf(os.Stderr, "scenectl: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("wrote config template to %s\n", *configPath)
		return
	}

	logging.ConfigureRuntime()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	logging.ApplyFileLevel(cfg.Logging.Level)
	logger := observability.InitLogger("scenectl", logging.ResolveNoColor(cfg.Logging.NoColor))
	observability.RegisterMetrics()

	var src telemetry.Source
	if cfg.Telemetry.StatsURL != "" {
		src, err = telemetry.NewHTTPSource(cfg.Telemetry.StatsURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("telemetry source")
		}
	} else {
		// No stats endpoint configured: assume the local output is up so
		// automated failover stays quiet until real telemetry arrives.
		logger.Warn().Msg("no telemetry stats_url configured, using static healthy source")
		src = telemetry.NewStubSource(1, true)
	}

	svc, err := core.NewService(cfg, src, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("service init failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := svc.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("service exited")
	}
}
