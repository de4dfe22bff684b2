// Command relay is the live entry point: it connects to the upstream
// positioning engine over the configured ZeroMQ endpoints and serves
// the web-socket/REST contract to browser coach terminals.
package main

import (
	"context"
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
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting startline relay",
		zap.String("position_endpoint", cfg.PositionEndpoint),
		zap.String("gate_endpoint", cfg.GateEndpoint),
		zap.String("bind", cfg.Host),
		zap.Int("port", cfg.Port),
	)

	relay, err := service.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to assemble relay service", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		if err := relay.Start(ctx); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("relay failed", zap.Error(err))
		cancel()
		if stopErr := relay.Stop(context.Background()); stopErr != nil {
			logger.Error("error during shutdown", zap.Error(stopErr))
		}
		os.Exit(1)
	}

	cancel()
	if err := relay.Stop(context.Background()); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
	}

	logger.Info("relay stopped")
}
