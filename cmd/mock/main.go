// Command mock is the synthetic/replay entry point: with -pack it
// replays a recorded session at its original cadence, otherwise it
// generates plausible data for -athletes synthetic competitors. Either
// way it serves the same WS/REST contract the live relay does, so a
// coach terminal can't tell the two apart.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/sady37/startline-relay/internal/config"
	"github.com/sady37/startline-relay/internal/logging"
	"github.com/sady37/startline-relay/internal/service"
)

func main() {
	packPath := flag.String("pack", "", "path to a recorded session pack (.jsonl) to replay at original cadence")
	athletes := flag.Int("athletes", 6, "number of synthetic athletes to generate when -pack is not set")
	intervalMs := flag.Int("interval-ms", 0, "synthetic tick interval in milliseconds (default: matches live 10Hz cadence)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting mock producer",
		zap.String("pack", *packPath),
		zap.Int("athletes", *athletes),
		zap.String("bind", cfg.Host),
		zap.Int("port", cfg.Port),
	)

	mock, err := service.NewMock(cfg, service.MockOptions{
		PackPath:     *packPath,
		AthleteCount: *athletes,
		IntervalMs:   *intervalMs,
	}, logger)
	if err != nil {
		logger.Fatal("failed to assemble mock service", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		if err := mock.Start(ctx); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("mock producer failed", zap.Error(err))
		cancel()
		if stopErr := mock.Stop(context.Background()); stopErr != nil {
			logger.Error("error during shutdown", zap.Error(stopErr))
		}
		os.Exit(1)
	}

	cancel()
	if err := mock.Stop(context.Background()); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
	}

	logger.Info("mock producer stopped")
}
