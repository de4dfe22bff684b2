// Package classify implements the coaching status state machine: SAFE /
// APPROACHING / RISK / CROSSED / OCS / STALE, with 300ms hysteresis and
// CROSSED/OCS latching so a session never regresses out of a crossing
// or an OCS call once made.
package classify

import "github.com/sady37/startline-relay/internal/wire"

// HysteresisMs is the minimum time (in milliseconds) a candidate status must
// persist before becoming the committed status, except for immediate
// transitions into CROSSED, OCS, or STALE.
const HysteresisMs = 300

// Thresholds holds the configurable classification thresholds.
type Thresholds struct {
	ApproachDistanceM float64 // X_m
	RiskEtaS          float64 // Y_s
	StaleAgeS         float64 // N_s
}

// Input is the per-tick, per-athlete classification input.
type Input struct {
	NowMs           int64
	LastUpdateMs    int64
	DPerpSignedM    float64
	SpeedToLineMps  float64
	EtaToLineS      *float64
	CrossingEvent   wire.CrossingEvent
	CrossingTsMs    *int64
	StartSignalTsMs *int64
}

// Memory is the classifier's carried-forward per-athlete state. Callers
// own the single-writer discipline; Memory is not safe for concurrent use.
type Memory struct {
	Status          wire.Status
	StatusEnterMs   int64
	CandidateStatus wire.Status
	CandidateSince  int64
	initialized     bool
}

// NewMemory returns classifier memory with an initial SAFE status.
func NewMemory() Memory {
	return Memory{Status: wire.StatusSafe, CandidateStatus: wire.StatusSafe}
}

// Classifier evaluates the ordered status rules against a fixed set of
// thresholds.
type Classifier struct {
	Thresholds Thresholds
}

// New returns a Classifier with the given thresholds.
func New(t Thresholds) *Classifier {
	return &Classifier{Thresholds: t}
}

// Classify evaluates in to decide the athlete's status, applying
// hysteresis and CROSSED/OCS latching against mem, and returns the
// (possibly unchanged) memory plus whether the committed status changed.
func (c *Classifier) Classify(in Input, mem Memory) (Memory, bool) {
	if !mem.initialized {
		mem = NewMemory()
		mem.initialized = true
	}

	// OCS is fully terminal: never regress within a session.
	if mem.Status.Latched() {
		return mem, false
	}

	raw := c.evaluate(in)

	// CROSSED latches against regression to SAFE/APPROACHING/RISK, but a
	// crossing later found to precede the start signal still escalates
	// it to OCS.
	if mem.Status == wire.StatusCrossed {
		if raw == wire.StatusOCS {
			mem.Status = wire.StatusOCS
			mem.CandidateStatus = wire.StatusOCS
			mem.CandidateSince = in.NowMs
			mem.StatusEnterMs = in.NowMs
			return mem, true
		}
		return mem, false
	}

	// Immediate transitions: STALE, CROSSED, OCS skip hysteresis.
	if raw == wire.StatusStale || raw == wire.StatusCrossed || raw == wire.StatusOCS {
		changed := raw != mem.Status
		mem.Status = raw
		mem.CandidateStatus = raw
		mem.CandidateSince = in.NowMs
		if changed {
			mem.StatusEnterMs = in.NowMs
		}
		return mem, changed
	}

	if raw == mem.Status {
		mem.CandidateStatus = raw
		mem.CandidateSince = in.NowMs
		return mem, false
	}

	if mem.CandidateStatus != raw {
		mem.CandidateStatus = raw
		mem.CandidateSince = in.NowMs
		return mem, false
	}

	if in.NowMs-mem.CandidateSince >= HysteresisMs {
		mem.Status = raw
		mem.StatusEnterMs = in.NowMs
		return mem, true
	}

	return mem, false
}

// evaluate applies the ordered, hysteresis-free status rules.
func (c *Classifier) evaluate(in Input) wire.Status {
	if float64(in.NowMs-in.LastUpdateMs)/1000.0 > c.Thresholds.StaleAgeS {
		return wire.StatusStale
	}

	if in.CrossingEvent != wire.NoCrossing {
		if in.StartSignalTsMs != nil && in.CrossingTsMs != nil && *in.CrossingTsMs < *in.StartSignalTsMs {
			return wire.StatusOCS
		}
		return wire.StatusCrossed
	}

	if in.StartSignalTsMs != nil && in.EtaToLineS != nil &&
		*in.EtaToLineS <= c.Thresholds.RiskEtaS && in.SpeedToLineMps > 0 {
		return wire.StatusRisk
	}

	if absFloat(in.DPerpSignedM) <= c.Thresholds.ApproachDistanceM && in.SpeedToLineMps > 0 {
		return wire.StatusApproaching
	}

	return wire.StatusSafe
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
