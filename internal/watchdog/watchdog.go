// Package watchdog implements the heartbeat and stale-device watchdog:
// once per heartbeat interval it fabricates a heartbeat envelope and
// scans the athlete state table and the start-line anchors for devices
// that have gone stale, emitting DEVICE_OFFLINE/DEVICE_ONLINE events on
// transition. This is the sole writer of those two event kinds.
//
// When a Redis client is configured, it also mirrors the latest
// per-athlete state into a TTL-keyed hash so another process can read
// live state without subscribing to the stream.
package watchdog

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/sady37/startline-relay/internal/fabricate"
	"github.com/sady37/startline-relay/internal/startline"
	"github.com/sady37/startline-relay/internal/state"
	"github.com/sady37/startline-relay/internal/transport"
	"github.com/sady37/startline-relay/internal/wire"
)

// Sink is the minimal surface the watchdog needs to publish envelopes:
// both the broadcaster and the recorder (the fabricator only stamps).
type Sink interface {
	Broadcast(wire.Envelope)
	Record(wire.Envelope)
}

// Counters exposes the process-wide diagnostics the health endpoint
// reports alongside the watchdog's own view.
type Counters struct {
	ConnectedClients func() int
	MessagesRelayed  func() uint64
}

// Watchdog periodically emits heartbeats and detects stale devices.
type Watchdog struct {
	table      *state.Table
	tracker    *startline.Tracker
	fabricator *fabricate.Fabricator
	sink       Sink
	positions  *transport.Subscriber
	gates      *transport.Subscriber
	counters   Counters
	staleAgeS  float64
	logger     *zap.Logger

	redisClient *redis.Client
	redisTTL    time.Duration

	startedAt time.Time
	online    map[int]bool
}

// New returns a Watchdog. redisClient may be nil, in which case state
// mirroring is skipped.
func New(
	table *state.Table,
	tracker *startline.Tracker,
	fabricator *fabricate.Fabricator,
	sink Sink,
	positions, gates *transport.Subscriber,
	counters Counters,
	staleAgeS float64,
	redisClient *redis.Client,
	logger *zap.Logger,
) *Watchdog {
	return &Watchdog{
		table:       table,
		tracker:     tracker,
		fabricator:  fabricator,
		sink:        sink,
		positions:   positions,
		gates:       gates,
		counters:    counters,
		staleAgeS:   staleAgeS,
		redisClient: redisClient,
		redisTTL:    time.Duration(2*staleAgeS) * time.Second,
		logger:      logger,
		startedAt:   time.Now(),
		online:      make(map[int]bool),
	}
}

// Run fires a tick every interval until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Watchdog) tick(ctx context.Context) {
	now := time.Now()
	nowMs := now.UnixMilli()

	w.emitHeartbeat(now)
	w.scanDevices(ctx, nowMs)
}

func (w *Watchdog) emitHeartbeat(now time.Time) {
	posMetrics := w.positions.MetricsSnapshot()
	gateMetrics := w.gates.MetricsSnapshot()

	payload := wire.HeartbeatPayload{
		UptimeS:          int64(now.Sub(w.startedAt).Seconds()),
		ConnectedClients: w.counters.ConnectedClients(),
		PositionStreamUp: posMetrics.Connected,
		GateStreamUp:     gateMetrics.Connected,
		AthletesTracked:  w.table.Count(),
		MessagesRelayed:  int64(w.counters.MessagesRelayed()),
	}

	env := w.fabricator.Stamp(wire.TypeHeartbeat, payload)
	w.sink.Broadcast(env)
	w.sink.Record(env)
}

// scanDevices checks every tracked athlete device and both start-line
// anchors for staleness, emitting DEVICE_OFFLINE/DEVICE_ONLINE on
// transition and mirroring state to Redis when configured.
func (w *Watchdog) scanDevices(ctx context.Context, nowMs int64) {
	for _, a := range w.table.Snapshot() {
		w.evaluate(ctx, a.DeviceID, wire.DeviceTag, a.LastUpdateMs, nowMs)
		if w.redisClient != nil {
			w.mirrorAthlete(ctx, a)
		}
	}

	for _, anchor := range w.tracker.Anchors() {
		if !anchor.Seen {
			continue
		}
		w.evaluate(ctx, anchor.DeviceID, wire.DeviceAnchor, anchor.LastSeenMs, nowMs)
	}
}

func (w *Watchdog) evaluate(ctx context.Context, deviceID int, deviceType wire.DeviceType, lastSeenMs, nowMs int64) {
	stale := float64(nowMs-lastSeenMs)/1000.0 > w.staleAgeS
	wasOnline, known := w.online[deviceID]

	switch {
	case !stale && (!known || !wasOnline):
		w.online[deviceID] = true
		w.emitDeviceEvent(wire.EventDeviceOnline, deviceID, deviceType, true, lastSeenMs)
	case stale && (!known || wasOnline):
		w.online[deviceID] = false
		w.emitDeviceEvent(wire.EventDeviceOffline, deviceID, deviceType, false, lastSeenMs)
	}
}

func (w *Watchdog) emitDeviceEvent(kind wire.EventKind, deviceID int, deviceType wire.DeviceType, online bool, lastSeenMs int64) {
	envEvent := w.fabricator.Stamp(wire.TypeEvent, wire.EventPayload{
		EventKind: kind,
		Details: map[string]any{
			"device_id":   deviceID,
			"device_type": deviceType,
			"last_seen_ms": lastSeenMs,
		},
	})
	w.sink.Broadcast(envEvent)
	w.sink.Record(envEvent)

	healthEnv := w.fabricator.Stamp(wire.TypeDeviceHealth, wire.DeviceHealthPayload{
		DeviceID:   fmt.Sprintf("%d", deviceID),
		DeviceType: deviceType,
		Online:     online,
		LastSeenMs: lastSeenMs,
	})
	w.sink.Broadcast(healthEnv)
	w.sink.Record(healthEnv)

	w.logger.Info("device health transition",
		zap.Int("device_id", deviceID),
		zap.String("event_kind", string(kind)),
		zap.Bool("online", online),
	)
}

func (w *Watchdog) mirrorAthlete(ctx context.Context, a state.AthleteState) {
	key := fmt.Sprintf("startline:athlete:%d", a.DeviceID)
	value := map[string]any{
		"device_id":       a.DeviceID,
		"athlete_id":      a.AthleteID,
		"status":          a.Status,
		"last_update_ms":  a.LastUpdateMs,
		"status_enter_ms": a.StatusEnterMs,
	}
	if err := w.redisClient.HSet(ctx, key, value).Err(); err != nil {
		w.logger.Debug("redis state mirror failed", zap.String("key", key), zap.Error(err))
		return
	}
	w.redisClient.Expire(ctx, key, w.redisTTL)
}
