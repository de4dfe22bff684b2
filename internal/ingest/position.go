package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sady37/startline-relay/internal/ingest/parser"
	"github.com/sady37/startline-relay/internal/state"
	"github.com/sady37/startline-relay/internal/transport"
	"github.com/sady37/startline-relay/internal/wire"
)

// PositionIngestor consumes position-text frames from the position
// subscriber, updates kinematics and start-line geometry, and fabricates
// position_update / start_line_definition envelopes.
type PositionIngestor struct {
	deps Dependencies
}

// NewPositionIngestor returns a PositionIngestor over deps.
func NewPositionIngestor(deps Dependencies) *PositionIngestor {
	return &PositionIngestor{deps: deps}
}

// Run drains frames until ctx is cancelled or the channel closes. All
// work here is synchronous and suspension-free: the only blocking
// point is the receive from frames itself.
func (p *PositionIngestor) Run(ctx context.Context, frames <-chan transport.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			p.handleFrame(f)
		}
	}
}

func (p *PositionIngestor) handleFrame(f transport.Frame) {
	batch := parser.ParsePositionBatch(string(f.Payload))
	if batch.Dropped > 0 {
		p.deps.Logger.Warn("dropped malformed position lines",
			zap.Int("dropped", batch.Dropped), zap.Int("parsed", len(batch.Positions)))
	}
	if len(batch.Positions) == 0 {
		return
	}

	nowMs := time.Now().UnixMilli()
	serverTsMs := batch.ServerTimestampUs / 1000
	entries := make([]wire.PositionEntry, 0, len(batch.Positions))

	for _, pos := range batch.Positions {
		deviceTsMs := pos.DeviceTimestampUs / 1000

		if p.deps.Tracker.IsAnchor(pos.DeviceID) {
			if def, announced := p.deps.Tracker.Update(pos.DeviceID, pos.Latitude, pos.Longitude, deviceTsMs); announced {
				emit(p.deps.Sink, p.deps.Fabricator.Stamp(wire.TypeStartLineDefinition, def))
			}
		}

		st := p.deps.Table.Update(pos.DeviceID, func(a *state.AthleteState) {
			result, ok := a.History.Update(pos.Latitude, pos.Longitude, deviceTsMs)

			// DataAgeMs compares two timestamps from the upstream
			// positioning engine's own clock (batch server time vs.
			// per-device time), not the relay host's wall clock, so
			// relay/upstream clock skew never shows up as bogus age.
			entry := wire.PositionEntry{
				AthleteID:  a.AthleteID,
				DeviceID:   a.DeviceID,
				Name:       a.Name,
				Team:       a.Team,
				Lat:        pos.Latitude,
				Lon:        pos.Longitude,
				AltM:       pos.Altitude,
				SourceMask: pos.SourceMask,
				DeviceTsMs: deviceTsMs,
				DataAgeMs:  serverTsMs - deviceTsMs,
			}

			if ok {
				sog, cog := result.SogKnots, result.CogDeg
				entry.SogKn = &sog
				entry.CogDeg = &cog
				a.Kinematics = state.Kinematics{SogKnots: result.SogKnots, CogDeg: result.CogDeg, Valid: true}
			} else {
				a.Kinematics = state.Kinematics{}
			}

			a.LastPosition = &entry
			a.LastUpdateMs = nowMs
		})

		entries = append(entries, *st.LastPosition)
	}

	emit(p.deps.Sink, p.deps.Fabricator.Stamp(wire.TypePositionUpdate, wire.PositionUpdatePayload{Positions: entries}))
}
