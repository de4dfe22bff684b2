package mockgen

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator_positionFrameParsesAsUpstreamFormat(t *testing.T) {
	g := NewGenerator(DefaultSyntheticConfig(3), 1)

	frame := g.PositionFrame(1_700_000_000_000_000)
	text := string(frame)

	require.True(t, strings.HasPrefix(text, "SERVER_TS:"))
	assert.Contains(t, text, "COUNT:5") // 2 anchors + 3 athletes
	assert.Contains(t, text, "POS:101:")
	assert.Contains(t, text, "POS:102:")
	assert.Contains(t, text, "POS:1:")
}

func TestGenerator_gateFrameIsValidJSON(t *testing.T) {
	g := NewGenerator(DefaultSyntheticConfig(2), 1)

	frame := g.GateFrame(1_700_000_000_000_000)

	var decoded struct {
		ServerTimestampUs int64 `json:"server_timestamp_us"`
		Metrics           []struct {
			TagID string `json:"tag_id"`
		} `json:"metrics"`
		Alerts []any `json:"alerts"`
	}
	require.NoError(t, json.Unmarshal(frame, &decoded))
	assert.Equal(t, int64(1_700_000_000_000_000), decoded.ServerTimestampUs)
	require.Len(t, decoded.Metrics, 2)
	assert.Equal(t, "T00", decoded.Metrics[0].TagID)
}

func TestGenerator_tickAdvancesAthletesTowardLine(t *testing.T) {
	g := NewGenerator(DefaultSyntheticConfig(1), 1)
	before := g.athletes[0].distanceM

	g.advance(10) // 10 seconds closer

	assert.Less(t, g.athletes[0].distanceM, before)
}

func TestGenerator_wrapsAfterCrossing(t *testing.T) {
	g := NewGenerator(DefaultSyntheticConfig(1), 1)
	g.athletes[0].distanceM = -25

	g.advance(0.001)

	assert.Greater(t, g.athletes[0].distanceM, 0.0)
}
