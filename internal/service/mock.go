package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sady37/startline-relay/internal/broadcast"
	"github.com/sady37/startline-relay/internal/classify"
	"github.com/sady37/startline-relay/internal/config"
	"github.com/sady37/startline-relay/internal/fabricate"
	"github.com/sady37/startline-relay/internal/httpapi"
	"github.com/sady37/startline-relay/internal/ingest"
	"github.com/sady37/startline-relay/internal/mockgen"
	"github.com/sady37/startline-relay/internal/recorder"
	"github.com/sady37/startline-relay/internal/registry"
	"github.com/sady37/startline-relay/internal/startline"
	"github.com/sady37/startline-relay/internal/startsignal"
	"github.com/sady37/startline-relay/internal/state"
	"github.com/sady37/startline-relay/internal/transport"
	"github.com/sady37/startline-relay/internal/watchdog"
)

// MockOptions configures the mock producer entry point: either replay a
// previously recorded pack at its original cadence, or generate
// plausible synthetic data for AthleteCount athletes.
type MockOptions struct {
	PackPath     string
	AthleteCount int
	IntervalMs   int
}

// MockService runs the same ingest/classify/broadcast/record/control
// pipeline as RelayService, but sourced from mockgen instead of live
// ZeroMQ subscribers, useful for demos and for exercising the
// record-then-replay round trip without a live positioning engine.
type MockService struct {
	cfg    *config.Config
	opts   MockOptions
	logger *zap.Logger

	table       *state.Table
	tracker     *startline.Tracker
	broadcaster *broadcast.Broadcaster
	recorder    *recorder.Recorder
	fabricator  *fabricate.Fabricator

	positionFrames chan transport.Frame
	gateFrames     chan transport.Frame

	positionIngestor *ingest.PositionIngestor
	gateIngestor     *ingest.GateIngestor
	watchdog         *watchdog.Watchdog

	httpServer *http.Server
}

// NewMock assembles a MockService from cfg and opts.
func NewMock(cfg *config.Config, opts MockOptions, logger *zap.Logger) (*MockService, error) {
	reg, err := registry.Load(cfg.AthletesConfigPath)
	if err != nil {
		logger.Warn("athlete registry unavailable, running with synthetic identities only", zap.Error(err))
		reg = registry.New()
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
	out := envelopeSink{b: broadcaster, r: rec}

	positionFrames := make(chan transport.Frame, 256)
	gateFrames := make(chan transport.Frame, 256)

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

	// Unconnected placeholder subscribers: the mock never dials a real
	// endpoint, but the watchdog and health endpoint still need
	// something implementing the metrics-snapshot surface.
	positionSub := transport.NewSubscriber("position-mock", "", cfg.PositionTopic, cfg.ReconnectMinS, cfg.ReconnectMaxS, 256, logger)
	gateSub := transport.NewSubscriber("gate-mock", "", cfg.GateTopic, cfg.ReconnectMinS, cfg.ReconnectMaxS, 256, logger)

	wd := watchdog.New(
		table, tracker, fabricator, out,
		positionSub, gateSub,
		watchdog.Counters{
			ConnectedClients: broadcaster.ClientCount,
			MessagesRelayed:  fabricator.CurrentSeq,
		},
		cfg.ThresholdStaleS, nil, logger,
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

	return &MockService{
		cfg:              cfg,
		opts:             opts,
		logger:           logger,
		table:            table,
		tracker:          tracker,
		broadcaster:      broadcaster,
		recorder:         rec,
		fabricator:       fabricator,
		positionFrames:   positionFrames,
		gateFrames:       gateFrames,
		positionIngestor: ingest.NewPositionIngestor(deps),
		gateIngestor:     ingest.NewGateIngestor(deps),
		watchdog:         wd,
		httpServer:       &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), Handler: mux},
	}, nil
}

// Start launches the mock pipeline: either a pack replayer or a
// synthetic generator, plus the same ingest/watchdog/HTTP tasks the
// live relay runs.
func (m *MockService) Start(ctx context.Context) error {
	m.logger.Info("starting mock producer", zap.String("addr", m.httpServer.Addr), zap.String("pack", m.opts.PackPath))

	go m.positionIngestor.Run(ctx, m.positionFrames)
	go m.gateIngestor.Run(ctx, m.gateFrames)

	recorderDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(recorderDone)
	}()
	go m.recorder.Run(recorderDone)

	go m.watchdog.Run(ctx, time.Duration(m.cfg.HeartbeatIntervalS*float64(time.Second)))

	if m.opts.PackPath != "" {
		replayer := mockgen.NewReplayer(m.opts.PackPath, m.fabricator, envelopeSink{b: m.broadcaster, r: m.recorder}, m.logger)
		go func() {
			if err := replayer.Run(ctx); err != nil {
				m.logger.Error("pack replay failed", zap.Error(err))
			}
		}()
	} else {
		gen := mockgen.NewGenerator(mockgen.DefaultSyntheticConfig(m.opts.AthleteCount), 42)
		producer := mockgen.NewProducer(gen, m.opts.IntervalMs, m.logger)
		go producer.Run(ctx, m.positionFrames, m.gateFrames)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := m.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

// Stop performs the same shutdown sequence as RelayService.Stop.
func (m *MockService) Stop(ctx context.Context) error {
	m.logger.Info("stopping mock producer")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := m.httpServer.Shutdown(shutdownCtx); err != nil {
		m.logger.Error("http server shutdown error", zap.Error(err))
	}

	m.broadcaster.CloseAll()

	if m.recorder.IsRecording() {
		if _, err := m.recorder.Stop(); err != nil {
			m.logger.Error("error stopping in-progress recording", zap.Error(err))
		}
	}

	m.logger.Info("mock producer stopped")
	return nil
}
