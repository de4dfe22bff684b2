package mockgen

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sady37/startline-relay/internal/transport"
)

// DefaultIntervalMs matches the upstream's 10Hz cadence.
const DefaultIntervalMs = 100

// Producer drives synthetic position and gate frames into the same
// channel shapes the live transport.Subscriber produces, so the rest of
// the pipeline (parsers, ingest, classifier, fabricator) runs unmodified
// whether fed by a live upstream or the mock.
type Producer struct {
	gen        *Generator
	intervalMs int
	logger     *zap.Logger
}

// NewProducer returns a Producer over gen, ticking every intervalMs.
func NewProducer(gen *Generator, intervalMs int, logger *zap.Logger) *Producer {
	if intervalMs <= 0 {
		intervalMs = DefaultIntervalMs
	}
	return &Producer{gen: gen, intervalMs: intervalMs, logger: logger}
}

// Run ticks at intervalMs, pushing a position frame and a gate frame
// each tick, until ctx is cancelled.
func (p *Producer) Run(ctx context.Context, positionOut, gateOut chan<- transport.Frame) {
	ticker := time.NewTicker(time.Duration(p.intervalMs) * time.Millisecond)
	defer ticker.Stop()

	p.logger.Info("mock producer started", zap.Int("interval_ms", p.intervalMs), zap.Int("athletes", p.gen.cfg.AthleteCount))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			positionPayload, gatePayload := p.gen.Tick(p.intervalMs)
			now := time.Now().UnixMilli()

			select {
			case positionOut <- transport.Frame{Topic: "position", Payload: positionPayload, ReceivedAtMs: now}:
			default:
			}
			select {
			case gateOut <- transport.Frame{Topic: "gate", Payload: gatePayload, ReceivedAtMs: now}:
			default:
			}
		}
	}
}
