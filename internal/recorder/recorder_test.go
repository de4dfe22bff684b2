package recorder

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sady37/startline-relay/internal/fabricate"
	"github.com/sady37/startline-relay/internal/wire"
)

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	dir := t.TempDir()
	r := New(dir, fabricate.New(), zap.NewNop())

	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	go r.Run(done)

	return r
}

func sogKn(v float64) *float64 { return &v }

func TestRecorder_startWritesHeaderAndSetsFabricatorSession(t *testing.T) {
	r := newTestRecorder(t)
	fab := fabricate.New()
	r.fabricator = fab

	sessionID, err := r.Start("", "")
	require.NoError(t, err)
	assert.True(t, r.IsRecording())
	assert.NotEmpty(t, sessionID)

	env := fab.Stamp(wire.TypeHeartbeat, wire.HeartbeatPayload{})
	require.NotNil(t, env.SessionID)
	assert.Equal(t, sessionID, *env.SessionID)
}

func TestRecorder_doubleStartFails(t *testing.T) {
	r := newTestRecorder(t)
	_, err := r.Start("s1", "")
	require.NoError(t, err)

	_, err = r.Start("s2", "")
	assert.Error(t, err)
}

func TestRecorder_stopWithoutStartFails(t *testing.T) {
	r := newTestRecorder(t)
	_, err := r.Stop()
	assert.Error(t, err)
}

func TestRecorder_recordAndStopProducesMetadata(t *testing.T) {
	r := newTestRecorder(t)
	sessionID, err := r.Start("test-session", "")
	require.NoError(t, err)

	r.Record(wire.Envelope{
		Type: wire.TypePositionUpdate,
		TsMs: time.Now().UnixMilli(),
		Payload: wire.PositionUpdatePayload{
			Positions: []wire.PositionEntry{{AthleteID: "A1", DeviceID: 1, SogKn: sogKn(5.2)}},
		},
	})

	require.Eventually(t, func() bool {
		meta, ok := r.GetSession(sessionID)
		return ok && meta.MessageCount == 1
	}, time.Second, 10*time.Millisecond)

	meta, err := r.Stop()
	require.NoError(t, err)
	assert.Equal(t, sessionID, meta.SessionID)
	assert.False(t, r.IsRecording())
}

func TestRecorder_recordWhileIdleIsNoOp(t *testing.T) {
	r := newTestRecorder(t)
	r.Record(wire.Envelope{Type: wire.TypeHeartbeat})
	assert.Equal(t, int64(0), r.DroppedCount())
}

func TestRecorder_exportJSONStreamsEnvelopesExcludingHeader(t *testing.T) {
	r := newTestRecorder(t)
	sessionID, err := r.Start("export-json", "")
	require.NoError(t, err)

	r.Record(wire.Envelope{Type: wire.TypeHeartbeat, Seq: 1})
	require.Eventually(t, func() bool {
		meta, ok := r.GetSession(sessionID)
		return ok && meta.MessageCount == 1
	}, time.Second, 10*time.Millisecond)

	_, err = r.Stop()
	require.NoError(t, err)

	var sb strings.Builder
	require.NoError(t, r.ExportJSON(sessionID, &sb))
	assert.NotContains(t, sb.String(), `"_meta"`)
	assert.Contains(t, sb.String(), `"heartbeat"`)
}

func TestRecorder_exportCSVMergesPositionAndGate(t *testing.T) {
	r := newTestRecorder(t)
	sessionID, err := r.Start("export-csv", "")
	require.NoError(t, err)

	ts := time.Now().UnixMilli()
	r.Record(wire.Envelope{
		Type: wire.TypePositionUpdate,
		TsMs: ts,
		Payload: wire.PositionUpdatePayload{
			Positions: []wire.PositionEntry{{AthleteID: "A1", DeviceID: 1, Lat: 22.3, Lon: 114.17, SogKn: sogKn(4.0)}},
		},
	})
	r.Record(wire.Envelope{
		Type: wire.TypeGateMetrics,
		TsMs: ts,
		Payload: wire.GateMetricsPayload{
			Metrics: []wire.GateMetricEntry{{AthleteID: "A1", DeviceID: 1, DistToLineM: 12.5, Status: wire.StatusApproaching}},
		},
	})

	require.Eventually(t, func() bool {
		meta, ok := r.GetSession(sessionID)
		return ok && meta.MessageCount == 2
	}, time.Second, 10*time.Millisecond)

	_, err = r.Stop()
	require.NoError(t, err)

	var sb strings.Builder
	require.NoError(t, r.ExportCSV(sessionID, &sb))
	out := sb.String()
	assert.Contains(t, out, "athlete_id")
	assert.Contains(t, out, "A1")
	assert.Contains(t, out, "12.5")
}

func TestRecorder_listSessionsSortedNewestFirst(t *testing.T) {
	r := newTestRecorder(t)
	id1, err := r.Start("", "")
	require.NoError(t, err)
	_, err = r.Stop()
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond) // ensure a distinct second-resolution session id
	id2, err := r.Start("", "")
	require.NoError(t, err)
	_, err = r.Stop()
	require.NoError(t, err)

	sessions, err := r.ListSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, id2, sessions[0].SessionID)
	assert.Equal(t, id1, sessions[1].SessionID)
}
