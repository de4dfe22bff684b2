package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sady37/startline-relay/internal/classify"
	"github.com/sady37/startline-relay/internal/ingest/parser"
	"github.com/sady37/startline-relay/internal/state"
	"github.com/sady37/startline-relay/internal/transport"
	"github.com/sady37/startline-relay/internal/wire"
)

// GateIngestor consumes gate-metrics JSON frames from the gate
// subscriber, runs the status classifier per athlete, and fabricates
// gate_metrics envelopes plus status-transition events.
type GateIngestor struct {
	deps Dependencies
}

// NewGateIngestor returns a GateIngestor over deps.
func NewGateIngestor(deps Dependencies) *GateIngestor {
	return &GateIngestor{deps: deps}
}

// Run drains frames until ctx is cancelled or the channel closes.
func (g *GateIngestor) Run(ctx context.Context, frames <-chan transport.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			g.handleFrame(f)
		}
	}
}

func (g *GateIngestor) handleFrame(f transport.Frame) {
	batch, err := parser.ParseGateMetricsBatch(f.Payload)
	if err != nil {
		g.deps.Logger.Warn("rejected malformed gate metrics frame", zap.Error(err))
		return
	}
	if batch.Dropped > 0 {
		g.deps.Logger.Warn("dropped malformed gate metrics",
			zap.Int("dropped", batch.Dropped), zap.Int("parsed", len(batch.Metrics)))
	}

	nowMs := time.Now().UnixMilli()
	entries := make([]wire.GateMetricEntry, 0, len(batch.Metrics))
	alerts := make([]wire.GateAlert, 0, len(batch.Alerts))

	for _, a := range batch.Alerts {
		name := ""
		if st, ok := g.deps.Table.Get(a.DeviceID); ok {
			name = st.Name
		}
		crossingTsMs := a.CrossingTimeUs / 1000
		alerts = append(alerts, wire.GateAlert{
			AthleteID:    g.deps.Table.AthleteIDOrDefault(a.DeviceID),
			Name:         name,
			Event:        wire.CrossingEvent(a.Event),
			CrossingTsMs: crossingTsMs,
			Confidence:   a.Confidence,
		})
	}

	for _, m := range batch.Metrics {
		dPerp := m.DPerpSignedM
		if g.deps.GateSignFlip {
			dPerp = -dPerp
		}

		var crossingTsMsPtr *int64
		if m.CrossingTimeUs != nil {
			v := *m.CrossingTimeUs / 1000
			crossingTsMsPtr = &v
		}

		input := classify.Input{
			NowMs:           nowMs,
			DPerpSignedM:    dPerp,
			SpeedToLineMps:  m.SpeedToLineMps,
			EtaToLineS:      m.TimeToLineS,
			CrossingEvent:   wire.CrossingEvent(m.CrossingEvent),
			CrossingTsMs:    crossingTsMsPtr,
			StartSignalTsMs: g.deps.StartSignal.Get(),
		}

		var oldStatus, newStatus wire.Status
		var changed bool
		var entry wire.GateMetricEntry

		st := g.deps.Table.Update(m.DeviceID, func(a *state.AthleteState) {
			prevUpdate := a.LastUpdateMs
			if prevUpdate == 0 {
				prevUpdate = nowMs
			}
			input.LastUpdateMs = prevUpdate

			oldStatus = a.Status
			mem, didChange := g.deps.Classifier.Classify(input, a.ClassifierState)
			a.ClassifierState = mem
			a.Status = mem.Status
			a.StatusEnterMs = mem.StatusEnterMs
			a.LastUpdateMs = nowMs
			changed = didChange
			newStatus = mem.Status

			entry = wire.GateMetricEntry{
				AthleteID:          a.AthleteID,
				DeviceID:           a.DeviceID,
				Name:               a.Name,
				DistToLineM:        dPerp,
				SAlong:             m.SAlong,
				EtaToLineS:         m.TimeToLineS,
				SpeedToLineMps:     m.SpeedToLineMps,
				GateLengthM:        m.GateLengthM,
				Status:             mem.Status,
				CrossingEvent:      wire.CrossingEvent(m.CrossingEvent),
				CrossingConfidence: m.CrossingConfidence,
				PositionQuality:    m.PositionQuality,
			}
			a.LastGateMetric = &entry
		})

		entries = append(entries, entry)

		if changed {
			g.emitTransitionEvent(st, oldStatus, newStatus, entry)
		}
	}

	emit(g.deps.Sink, g.deps.Fabricator.Stamp(wire.TypeGateMetrics, wire.GateMetricsPayload{
		Metrics: entries,
		Alerts:  alerts,
	}))
}

// emitTransitionEvent fabricates the event envelope for a status
// change. Only RISK, CROSSED, and OCS have a dedicated EventKind in the
// wire contract; SAFE/APPROACHING/STALE transitions are visible via the
// status field of position_update/gate_metrics and via C12's
// DEVICE_OFFLINE/ONLINE, so no event envelope is fabricated for them.
func (g *GateIngestor) emitTransitionEvent(st state.AthleteState, oldStatus, newStatus wire.Status, entry wire.GateMetricEntry) {
	var kind wire.EventKind
	switch newStatus {
	case wire.StatusRisk:
		kind = wire.EventRiskAlert
	case wire.StatusCrossed:
		kind = wire.EventCrossing
	case wire.StatusOCS:
		kind = wire.EventOCS
	default:
		return
	}

	env := g.deps.Fabricator.Stamp(wire.TypeEvent, wire.EventPayload{
		EventKind: kind,
		AthleteID: st.AthleteID,
		Name:      st.Name,
		Details: map[string]any{
			"old_status":        oldStatus,
			"new_status":        newStatus,
			"dist_to_line_m":    entry.DistToLineM,
			"speed_to_line_mps": entry.SpeedToLineMps,
		},
	})
	emit(g.deps.Sink, env)

	g.deps.Logger.Info("status transition",
		zap.Int("device_id", st.DeviceID),
		zap.String("old_status", string(oldStatus)),
		zap.String("new_status", string(newStatus)),
	)
}
