package startline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sady37/startline-relay/internal/wire"
)

func TestTracker_ignoresNonAnchorDevice(t *testing.T) {
	tr := New(101, 102)
	_, announced := tr.Update(1, 22.3, 114.17, 1000)
	assert.False(t, announced)
	assert.False(t, tr.IsAnchor(1))
	assert.True(t, tr.IsAnchor(101))
}

func TestTracker_firstCompleteGeometryAnnounces(t *testing.T) {
	tr := New(101, 102)
	_, announced := tr.Update(101, 22.300000, 114.170000, 1000)
	assert.False(t, announced) // only one anchor seen so far

	def, announced := tr.Update(102, 22.300000, 114.171000, 1000)
	require.True(t, announced)
	assert.Greater(t, def.GateLengthM, 0.0)
	assert.Equal(t, wire.QualityGood, def.Quality)
}

func TestTracker_smallMovementDoesNotReannounce(t *testing.T) {
	tr := New(101, 102)
	tr.Update(101, 22.300000, 114.170000, 1000)
	tr.Update(102, 22.300000, 114.171000, 1000)

	// Tiny jitter well under the 0.5m geometry-change threshold.
	_, announced := tr.Update(101, 22.3000001, 114.170000, 1100)
	assert.False(t, announced)
}

func TestTracker_largeMovementReannounces(t *testing.T) {
	tr := New(101, 102)
	tr.Update(101, 22.300000, 114.170000, 1000)
	tr.Update(102, 22.300000, 114.171000, 1000)

	// ~11m north shift, well over the threshold.
	_, announced := tr.Update(101, 22.300100, 114.170000, 1100)
	assert.True(t, announced)
}

func TestTracker_qualityUnknownBeforeBothAnchorsSeen(t *testing.T) {
	tr := New(101, 102)
	tr.Update(101, 22.3, 114.17, 1000)
	def := tr.Definition(1000)
	assert.Equal(t, wire.QualityUnknown, def.Quality)
}

func TestTracker_qualityDegradedWhenStale(t *testing.T) {
	tr := New(101, 102)
	tr.Update(101, 22.300000, 114.170000, 1000)
	tr.Update(102, 22.300000, 114.171000, 1000)

	def := tr.Definition(1000 + AnchorFreshnessMs + 1)
	assert.Equal(t, wire.QualityDegraded, def.Quality)
}

func TestTracker_qualityDegradedWhenGateTooShort(t *testing.T) {
	tr := New(101, 102)
	tr.Update(101, 22.300000, 114.170000, 1000)
	tr.Update(102, 22.300000, 114.170000001, 1000) // effectively coincident
	def := tr.Definition(1000)
	assert.Equal(t, wire.QualityDegraded, def.Quality)
}
