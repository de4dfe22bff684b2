// Package startline tracks the start-line gate geometry from the two
// anchor devices' own position updates.
package startline

import (
	"math"
	"sync"

	"github.com/sady37/startline-relay/internal/ingest/kinematics"
	"github.com/sady37/startline-relay/internal/wire"
)

// GeometryChangeThresholdM is the minimum anchor movement since the
// last announced definition before a new start_line_definition is
// fabricated.
const GeometryChangeThresholdM = 0.5

// AnchorFreshnessMs bounds how recent both anchors' fixes must be for
// GOOD quality.
const AnchorFreshnessMs = 2000

const (
	minGateLengthM = 1.0
	maxGateLengthM = 1000.0
)

type anchorFix struct {
	lat, lon float64
	tsMs     int64
	seen     bool
}

// Tracker maintains the left/right anchor positions and derives gate
// geometry and quality. Update is called only by the position-ingest
// goroutine, but Anchors and Definition are read concurrently by the
// watchdog, so all access goes through mu.
type Tracker struct {
	leftDeviceID  int
	rightDeviceID int

	mu sync.RWMutex

	left  anchorFix
	right anchorFix

	gateLengthM        float64
	lastAnnouncedLeft  anchorFix
	lastAnnouncedRight anchorFix
	lastAnnouncedGate  float64
	everAnnounced      bool
}

// New returns a Tracker for the configured left/right anchor device ids.
func New(leftDeviceID, rightDeviceID int) *Tracker {
	return &Tracker{leftDeviceID: leftDeviceID, rightDeviceID: rightDeviceID}
}

// IsAnchor reports whether deviceID is one of the configured anchors.
func (t *Tracker) IsAnchor(deviceID int) bool {
	return deviceID == t.leftDeviceID || deviceID == t.rightDeviceID
}

// Update records a new position for an anchor device and recomputes the
// gate length. It returns (definition, true) when the moved distance
// since the last announcement exceeds GeometryChangeThresholdM and a
// fresh start_line_definition envelope should be fabricated and emitted.
func (t *Tracker) Update(deviceID int, lat, lon float64, tsMs int64) (wire.StartLineDefinitionPayload, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch deviceID {
	case t.leftDeviceID:
		t.left = anchorFix{lat: lat, lon: lon, tsMs: tsMs, seen: true}
	case t.rightDeviceID:
		t.right = anchorFix{lat: lat, lon: lon, tsMs: tsMs, seen: true}
	default:
		return wire.StartLineDefinitionPayload{}, false
	}

	if t.left.seen && t.right.seen {
		t.gateLengthM = kinematics.HaversineDistanceM(t.left.lat, t.left.lon, t.right.lat, t.right.lon)
	}

	if !t.shouldAnnounce(tsMs) {
		return wire.StartLineDefinitionPayload{}, false
	}

	t.lastAnnouncedLeft = t.left
	t.lastAnnouncedRight = t.right
	t.lastAnnouncedGate = t.gateLengthM
	t.everAnnounced = true

	return t.definitionLocked(tsMs), true
}

// shouldAnnounce reports whether the current geometry has moved enough
// from the last announcement to warrant a new definition. Callers must
// hold mu.
func (t *Tracker) shouldAnnounce(nowMs int64) bool {
	if !t.left.seen || !t.right.seen {
		return false
	}
	if !t.everAnnounced {
		return true
	}

	movedM := kinematics.HaversineDistanceM(
		t.lastAnnouncedLeft.lat, t.lastAnnouncedLeft.lon, t.left.lat, t.left.lon,
	)
	movedRightM := kinematics.HaversineDistanceM(
		t.lastAnnouncedRight.lat, t.lastAnnouncedRight.lon, t.right.lat, t.right.lon,
	)
	return movedM > GeometryChangeThresholdM || movedRightM > GeometryChangeThresholdM
}

// Definition returns the current gate definition and quality as of nowMs,
// without regard to whether it has changed since the last announcement.
func (t *Tracker) Definition(nowMs int64) wire.StartLineDefinitionPayload {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.definitionLocked(nowMs)
}

// definitionLocked is Definition's body; callers must hold mu.
func (t *Tracker) definitionLocked(nowMs int64) wire.StartLineDefinitionPayload {
	return wire.StartLineDefinitionPayload{
		AnchorLeft:  wire.AnchorPoint{DeviceID: t.leftDeviceID, Lat: t.left.lat, Lon: t.left.lon},
		AnchorRight: wire.AnchorPoint{DeviceID: t.rightDeviceID, Lat: t.right.lat, Lon: t.right.lon},
		GateLengthM: t.gateLengthM,
		Quality:     t.quality(nowMs),
	}
}

// AnchorInfo summarizes one anchor's freshness for the watchdog (C12).
type AnchorInfo struct {
	DeviceID   int
	Seen       bool
	LastSeenMs int64
}

// Anchors returns freshness info for both configured anchor devices, for
// the watchdog's stale-device scan.
func (t *Tracker) Anchors() []AnchorInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return []AnchorInfo{
		{DeviceID: t.leftDeviceID, Seen: t.left.seen, LastSeenMs: t.left.tsMs},
		{DeviceID: t.rightDeviceID, Seen: t.right.seen, LastSeenMs: t.right.tsMs},
	}
}

// quality derives gate quality from the current anchor fixes. Callers
// must hold mu.
func (t *Tracker) quality(nowMs int64) wire.GateQuality {
	if !t.left.seen || !t.right.seen {
		return wire.QualityUnknown
	}

	freshLeft := nowMs-t.left.tsMs <= AnchorFreshnessMs
	freshRight := nowMs-t.right.tsMs <= AnchorFreshnessMs
	lengthInRange := t.gateLengthM >= minGateLengthM && t.gateLengthM <= maxGateLengthM

	if freshLeft && freshRight && lengthInRange {
		return wire.QualityGood
	}
	if math.IsNaN(t.gateLengthM) {
		return wire.QualityUnknown
	}
	return wire.QualityDegraded
}
