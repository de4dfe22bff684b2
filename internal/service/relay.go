// Package service assembles the relay's components into one running
// process, following a New<X>Service/Start/Stop shape: a thin cmd/
// main.go loads config and logging, then hands off to this package for
// the actual task graph.
package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/sady37/startline-relay/internal/broadcast"
	"github.com/sady37/startline-relay/internal/classify"
	"github.com/sady37/startline-relay/internal/config"
	"github.com/sady37/startline-relay/internal/fabricate"
	"github.com/sady37/startline-relay/internal/httpapi"
	"github.com/sady37/startline-relay/internal/ingest"
	"github.com/sady37/startline-relay/internal/recorder"
	"github.com/sady37/startline-relay/internal/registry"
	"github.com/sady37/startline-relay/internal/startline"
	"github.com/sady37/startline-relay/internal/startsignal"
	"github.com/sady37/startline-relay/internal/state"
	"github.com/sady37/startline-relay/internal/transport"
	"github.com/sady37/startline-relay/internal/watchdog"
	"github.com/sady37/startline-relay/internal/wire"
)

// RelayService owns every long-lived component of the relay and the
// goroutines that run them.
type RelayService struct {
	cfg    *config.Config
	logger *zap.Logger

	registry   *registry.Registry
	table      *state.Table
	tracker    *startline.Tracker
	classifier *classify.Classifier
	fabricator *fabricate.Fabricator
	broadcaster *broadcast.Broadcaster
	recorder   *recorder.Recorder
	startSignal *startsignal.Holder

	positionSub *transport.Subscriber
	gateSub     *transport.Subscriber
	positionIngestor *ingest.PositionIngestor
	gateIngestor     *ingest.GateIngestor
	watchdog    *watchdog.Watchdog

	redisClient  *redis.Client
	sessionIndex *recorder.SessionIndex

	httpServer *http.Server

	startedAt time.Time
}

// envelopeSink adapts *broadcast.Broadcaster + *recorder.Recorder to the
// Sink interface shared by ingest, watchdog, and httpapi.
type envelopeSink struct {
	b *broadcast.Broadcaster
	r *recorder.Recorder
}

func (s envelopeSink) Broadcast(env wire.Envelope) {
	s.b.Broadcast(env)
}

func (s envelopeSink) Record(env wire.Envelope) {
	s.r.Record(env)
}

// New assembles a RelayService from cfg. It performs every
// configuration-fault check before returning (athlete registry load;
// anchor id validation already done in config.Load), so a returned
// error means the caller should fail startup rather than serve
// incorrect data.
func New(cfg *config.Config, logger *zap.Logger) (*RelayService, error) {
	reg, err := registry.Load(cfg.AthletesConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load athlete registry: %w", err)
	}

	table := state.NewTable(reg)
	tracker := startline.New(cfg.AnchorLeftDeviceID, cfg.AnchorRightDeviceID)
	classifier := classify.New(classify.Thresholds{
		ApproachDistanceM: cfg.ThresholdDistanceM,
		RiskEtaS:          cfg.ThresholdTimeS,
		StaleAgeS:         cfg.ThresholdStaleS,
	})
	fabricator := fabricate.New()
	broadcaster := broadcast.New(logger)
	rec := recorder.New(cfg.SessionDir, fabricator, logger)
	startSignal := startsignal.NewHolder()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis state mirror unavailable, continuing without it", zap.Error(err))
			redisClient = nil
		}
	}

	var sessionIndex *recorder.SessionIndex
	if cfg.SessionIndexDSN != "" {
		idx, err := recorder.NewSessionIndex(cfg.SessionIndexDSN, logger)
		if err != nil {
			logger.Warn("session index unavailable, continuing with filesystem-only sessions", zap.Error(err))
		} else {
			sessionIndex = idx
			rec.SetIndex(idx)
		}
	}

	positionSub := transport.NewSubscriber("position", cfg.PositionEndpoint, cfg.PositionTopic, cfg.ReconnectMinS, cfg.ReconnectMaxS, 256, logger)
	gateSub := transport.NewSubscriber("gate", cfg.GateEndpoint, cfg.GateTopic, cfg.ReconnectMinS, cfg.ReconnectMaxS, 256, logger)

	out := envelopeSink{b: broadcaster, r: rec}

	deps := ingest.Dependencies{
		Table:        table,
		Tracker:      tracker,
		Classifier:   classifier,
		Fabricator:   fabricator,
		Sink:         out,
		StartSignal:  startSignal,
		GateSignFlip: cfg.GateSignFlip,
		Logger:       logger,
	}

	wd := watchdog.New(
		table, tracker, fabricator, out,
		positionSub, gateSub,
		watchdog.Counters{
			ConnectedClients: broadcaster.ClientCount,
			MessagesRelayed:  fabricator.CurrentSeq,
		},
		cfg.ThresholdStaleS, redisClient, logger,
	)

	mux := http.NewServeMux()
	router := httpapi.NewRouter(logger)
	handlers := &httpapi.Handlers{
		Registry:    reg,
		Table:       table,
		Tracker:     tracker,
		Recorder:    rec,
		Fabricator:  fabricator,
		StartSignal: startSignal,
		Positions:   positionSub,
		Gates:       gateSub,
		Clients:     broadcaster.ClientCount,
		Sink:        out,
		StartedAt:   time.Now(),
		Logger:      logger,
	}
	handlers.Register(router)
	router.Handle("GET "+cfg.WSPath, broadcaster.ServeWS)
	mux.Handle("/", router)

	return &RelayService{
		cfg:              cfg,
		logger:           logger,
		registry:         reg,
		table:            table,
		tracker:          tracker,
		classifier:       classifier,
		fabricator:       fabricator,
		broadcaster:      broadcaster,
		recorder:         rec,
		startSignal:      startSignal,
		positionSub:      positionSub,
		gateSub:          gateSub,
		positionIngestor: ingest.NewPositionIngestor(deps),
		gateIngestor:     ingest.NewGateIngestor(deps),
		watchdog:         wd,
		redisClient:      redisClient,
		sessionIndex:     sessionIndex,
		httpServer:       &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), Handler: mux},
		startedAt:        time.Now(),
	}, nil
}

// Start launches every long-lived task and blocks until ctx is
// cancelled (returning nil) or the HTTP server fails (returning its
// error).
func (s *RelayService) Start(ctx context.Context) error {
	s.logger.Info("starting relay", zap.String("addr", s.httpServer.Addr))

	go s.positionSub.Run(ctx)
	go s.gateSub.Run(ctx)
	go s.positionIngestor.Run(ctx, s.positionSub.Inbound())
	go s.gateIngestor.Run(ctx, s.gateSub.Inbound())

	recorderDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(recorderDone)
	}()
	go s.recorder.Run(recorderDone)

	go s.watchdog.Run(ctx, time.Duration(s.cfg.HeartbeatIntervalS*float64(time.Second)))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Stop performs the relay's shutdown sequence: stop subscribers (via
// ctx, already cancelled by the caller) -> drain ingest -> close
// broadcaster -> stop recorder -> exit.
func (s *RelayService) Stop(ctx context.Context) error {
	s.logger.Info("stopping relay")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http server shutdown error", zap.Error(err))
	}

	s.broadcaster.CloseAll()

	if s.recorder.IsRecording() {
		if _, err := s.recorder.Stop(); err != nil {
			s.logger.Error("error stopping in-progress recording", zap.Error(err))
		}
	}

	if s.sessionIndex != nil {
		s.sessionIndex.Close()
	}
	if s.redisClient != nil {
		s.redisClient.Close()
	}

	s.logger.Info("relay stopped")
	return nil
}
