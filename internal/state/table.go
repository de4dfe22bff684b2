// Package state holds the per-athlete merged state table: the latest
// position, latest gate metric, derived kinematics, status, and
// last-seen timestamps for every device seen on either upstream
// stream. The table is mutated only by the ingestion pipeline
// (single-writer discipline); readers get a torn-read-free snapshot
// via an RWMutex-guarded map.
package state

import (
	"sort"
	"sync"

	"github.com/sady37/startline-relay/internal/classify"
	"github.com/sady37/startline-relay/internal/ingest/kinematics"
	"github.com/sady37/startline-relay/internal/registry"
	"github.com/sady37/startline-relay/internal/wire"
)

// Kinematics is the derived speed/course pair, or unset if fewer than
// two recent samples were available.
type Kinematics struct {
	SogKnots float64
	CogDeg   float64
	Valid    bool
}

// AthleteState is the merged, per-device view maintained by the
// ingestion pipeline.
type AthleteState struct {
	DeviceID  int
	AthleteID string
	Name      string
	Team      string

	LastPosition    *wire.PositionEntry
	LastGateMetric  *wire.GateMetricEntry
	Kinematics      Kinematics
	Status          wire.Status
	StatusEnterMs   int64
	LastUpdateMs    int64
	History         *kinematics.History
	ClassifierState classify.Memory
}

// Table is the concurrency-safe device_id → AthleteState map.
type Table struct {
	mu       sync.RWMutex
	athletes map[int]*AthleteState
	registry *registry.Registry
}

// NewTable returns an empty state table. reg resolves identity for
// newly observed device ids.
func NewTable(reg *registry.Registry) *Table {
	return &Table{
		athletes: make(map[int]*AthleteState),
		registry: reg,
	}
}

// Update applies fn to deviceID's state under the table lock, creating
// the entry (seeded from the athlete registry) on first observation,
// and returns a copy of the result. This is the only mutation path: the
// single ingestion writer never holds a bare *AthleteState across
// calls, so readers' Snapshot/Get copies are never torn.
func (t *Table) Update(deviceID int, fn func(*AthleteState)) AthleteState {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.athletes[deviceID]
	if !ok {
		identity := t.registry.GetOrDefault(deviceID)
		a = &AthleteState{
			DeviceID:        deviceID,
			AthleteID:       identity.AthleteID,
			Name:            identity.Name,
			Team:            identity.Team,
			Status:          wire.StatusSafe,
			History:         kinematics.NewHistory(),
			ClassifierState: classify.NewMemory(),
		}
		t.athletes[deviceID] = a
	}

	fn(a)
	return *a
}

// Snapshot returns a consistent point-in-time copy of every tracked
// athlete's state, sorted by device id, for readers (broadcaster,
// recorder, health endpoint).
func (t *Table) Snapshot() []AthleteState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]AthleteState, 0, len(t.athletes))
	for _, a := range t.athletes {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Get returns a copy of one athlete's state, if tracked.
func (t *Table) Get(deviceID int) (AthleteState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, ok := t.athletes[deviceID]
	if !ok {
		return AthleteState{}, false
	}
	return *a, true
}

// AthleteIDOrDefault resolves a device id to its athlete id without
// creating a table entry, for callers (e.g. gate alert handling) that
// reference a device that may not yet have a position or gate metric
// recorded.
func (t *Table) AthleteIDOrDefault(deviceID int) string {
	if a, ok := t.Get(deviceID); ok {
		return a.AthleteID
	}
	return t.registry.GetOrDefault(deviceID).AthleteID
}

// Count returns the number of tracked devices.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.athletes)
}
