package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePositionBatch_wellFormed(t *testing.T) {
	raw := "SERVER_TS:1700000000000000\n" +
		"COUNT:2\n" +
		"POS:1:22.301:114.174:0.5:3:1700000000010000\n" +
		"POS:2:22.302:114.175:0.4:3:1700000000020000\n"

	batch := ParsePositionBatch(raw)

	assert.Equal(t, int64(1700000000000000), batch.ServerTimestampUs)
	require.Len(t, batch.Positions, 2)
	assert.Equal(t, 1, batch.Positions[0].DeviceID)
	assert.Equal(t, 22.301, batch.Positions[0].Latitude)
	assert.Equal(t, 0, batch.Dropped)
}

func TestParsePositionBatch_malformedLineDropped(t *testing.T) {
	raw := "SERVER_TS:1700000000000000\n" +
		"COUNT:2\n" +
		"POS:1:22.301:114.174:0.5:3:1700000000010000\n" +
		"POS:bad:line\n" +
		"POS:2:22.302:114.175:0.4:3:1700000000020000\n"

	batch := ParsePositionBatch(raw)

	require.Len(t, batch.Positions, 2)
	assert.Equal(t, 1, batch.Dropped)
}

func TestParsePositionBatch_unknownLinesIgnored(t *testing.T) {
	raw := "SERVER_TS:100\nDEBUG:whatever\nPOS:1:1:1:1:0:1\n"
	batch := ParsePositionBatch(raw)
	require.Len(t, batch.Positions, 1)
	assert.Equal(t, 0, batch.Dropped)
}

func TestParsePositionBatch_empty(t *testing.T) {
	batch := ParsePositionBatch("")
	assert.Empty(t, batch.Positions)
	assert.Equal(t, 0, batch.Dropped)
}

func TestParseGateMetricsBatch_wellFormed(t *testing.T) {
	raw := []byte(`{
		"server_timestamp_us": 1700000000000000,
		"metrics": [
			{"tag_id":"T00","d_perp_signed_m":3.2,"s_along":1.1,"gate_length_m":42.0,
			 "crossing_event":"NO_CROSSING","crossing_confidence":0.0,
			 "tag_position_quality":0.9,"speed_to_line_mps":2.1}
		],
		"alerts": [
			{"tag_id":"T00","event":"CROSSING_LEFT","crossing_time_us":1700000000005000,"confidence":0.95}
		]
	}`)

	batch, err := ParseGateMetricsBatch(raw)
	require.NoError(t, err)
	require.Len(t, batch.Metrics, 1)
	assert.Equal(t, 1, batch.Metrics[0].DeviceID)
	assert.Equal(t, "start_line", batch.Metrics[0].GateID)

	require.Len(t, batch.Alerts, 1)
	assert.Equal(t, 1, batch.Alerts[0].DeviceID)
	assert.Equal(t, "CROSSING_LEFT", batch.Alerts[0].Event)
	assert.Equal(t, 0, batch.Dropped)
}

func TestParseGateMetricsBatch_missingTagIDDropped(t *testing.T) {
	raw := []byte(`{"server_timestamp_us":1,"metrics":[{"d_perp_signed_m":1.0}]}`)
	batch, err := ParseGateMetricsBatch(raw)
	require.NoError(t, err)
	assert.Empty(t, batch.Metrics)
	assert.Equal(t, 1, batch.Dropped)
}

func TestParseGateMetricsBatch_malformedJSON(t *testing.T) {
	_, err := ParseGateMetricsBatch([]byte(`{not json`))
	assert.Error(t, err)
}

func TestTagIDToDeviceID(t *testing.T) {
	id, ok := TagIDToDeviceID("T00")
	require.True(t, ok)
	assert.Equal(t, 1, id)

	id, ok = TagIDToDeviceID("T07")
	require.True(t, ok)
	assert.Equal(t, 8, id)

	_, ok = TagIDToDeviceID("bogus")
	assert.False(t, ok)
}
