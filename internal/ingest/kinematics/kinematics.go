// Package kinematics derives speed-over-ground and course-over-ground
// from a short per-athlete position history, and provides the haversine
// distance / initial-bearing helpers shared with the start-line
// tracker.
package kinematics

import (
	"math"

	"github.com/golang/geo/s2"
)

const (
	// EarthRadiusMeters is the mean Earth radius used for the
	// equirectangular projection and haversine distance.
	EarthRadiusMeters = 6_371_000.0

	mpsToKnots = 1.94384

	// MaxSamples bounds the retained per-athlete position history (K).
	MaxSamples = 10

	// MaxSampleAge discards samples older than this relative to the
	// newest one in the window.
	MaxSampleAge = 2 * 1000 // milliseconds

	minGapMs = 50
	maxGapMs = 2000
)

// Sample is a single timestamped position.
type Sample struct {
	Lat  float64
	Lon  float64
	TsMs int64
}

// Result is a computed velocity estimate.
type Result struct {
	SogKnots float64
	CogDeg   float64
}

// History retains the most recent bounded, age-limited position samples
// for one athlete and derives SOG/COG from the newest pair. It is not
// safe for concurrent use; callers serialize access per the
// single-writer-per-entity discipline used throughout this package.
type History struct {
	samples []Sample
}

// NewHistory returns an empty per-athlete kinematics history.
func NewHistory() *History {
	return &History{samples: make([]Sample, 0, MaxSamples)}
}

// Update appends a new position sample and returns the derived SOG/COG,
// or ok=false if the gap to the previous sample is too small (jitter),
// too large (gap), or this is the first sample.
func (h *History) Update(lat, lon float64, tsMs int64) (Result, bool) {
	h.samples = append(h.samples, Sample{Lat: lat, Lon: lon, TsMs: tsMs})
	h.prune(tsMs)

	if len(h.samples) < 2 {
		return Result{}, false
	}

	prev := h.samples[len(h.samples)-2]
	curr := h.samples[len(h.samples)-1]

	gapMs := curr.TsMs - prev.TsMs
	if gapMs < minGapMs || gapMs > maxGapMs {
		return Result{}, false
	}

	dtS := float64(gapMs) / 1000.0
	deast, dnorth := equirectangularDelta(prev.Lat, prev.Lon, curr.Lat, curr.Lon)

	speedMps := math.Hypot(deast, dnorth) / dtS
	sogKnots := speedMps * mpsToKnots

	cogRad := math.Atan2(deast, dnorth)
	cogDeg := math.Mod(cogRad*180/math.Pi+360, 360)

	return Result{SogKnots: sogKnots, CogDeg: cogDeg}, true
}

// prune drops samples older than MaxSampleAge relative to newTsMs and
// trims the window to MaxSamples.
func (h *History) prune(newTsMs int64) {
	cutoff := newTsMs - MaxSampleAge
	kept := h.samples[:0]
	for _, s := range h.samples {
		if s.TsMs >= cutoff {
			kept = append(kept, s)
		}
	}
	h.samples = kept

	if len(h.samples) > MaxSamples {
		h.samples = h.samples[len(h.samples)-MaxSamples:]
	}
}

// equirectangularDelta projects the vector from (lat1,lon1) to
// (lat2,lon2) onto local east/north meters around the first point.
func equirectangularDelta(lat1, lon1, lat2, lon2 float64) (deastM, dnorthM float64) {
	cosLat := math.Cos(lat1 * math.Pi / 180)
	deastM = cosLat * (lon2 - lon1) * math.Pi / 180 * EarthRadiusMeters
	dnorthM = (lat2 - lat1) * math.Pi / 180 * EarthRadiusMeters
	return deastM, dnorthM
}

// HaversineDistanceM returns the great-circle distance in meters between
// two lat/lon points.
func HaversineDistanceM(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// InitialBearingDeg returns the initial bearing in degrees [0, 360) from
// (lat1,lon1) to (lat2,lon2), 0 = true north.
func InitialBearingDeg(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	lonDiffRad := (lon2 - lon1) * math.Pi / 180

	y := math.Sin(lonDiffRad) * math.Cos(lat2Rad)
	x := math.Cos(lat1Rad)*math.Sin(lat2Rad) - math.Sin(lat1Rad)*math.Cos(lat2Rad)*math.Cos(lonDiffRad)
	bearing := math.Atan2(y, x) * 180 / math.Pi

	return math.Mod(bearing+360, 360)
}
