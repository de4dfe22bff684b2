package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sady37/startline-relay/internal/fabricate"
	"github.com/sady37/startline-relay/internal/recorder"
	"github.com/sady37/startline-relay/internal/registry"
	"github.com/sady37/startline-relay/internal/startline"
	"github.com/sady37/startline-relay/internal/startsignal"
	"github.com/sady37/startline-relay/internal/state"
	"github.com/sady37/startline-relay/internal/transport"
	"github.com/sady37/startline-relay/internal/wire"
)

type fakeSink struct{ envelopes []wire.Envelope }

func (s *fakeSink) Broadcast(env wire.Envelope) { s.envelopes = append(s.envelopes, env) }
func (s *fakeSink) Record(env wire.Envelope)     { s.envelopes = append(s.envelopes, env) }

func newTestHandlers(t *testing.T) (*Handlers, *fakeSink) {
	t.Helper()
	reg := registry.New()
	table := state.NewTable(reg)
	tracker := startline.New(101, 102)
	fab := fabricate.New()
	rec := recorder.New(t.TempDir(), fab, zap.NewNop())
	sink := &fakeSink{}

	return &Handlers{
		Registry:    reg,
		Table:       table,
		Tracker:     tracker,
		Recorder:    rec,
		Fabricator:  fab,
		StartSignal: startsignal.NewHolder(),
		Positions:   transport.NewSubscriber("p", "", "t", 1, 30, 8, zap.NewNop()),
		Gates:       transport.NewSubscriber("g", "", "t", 1, 30, 8, zap.NewNop()),
		Clients:     func() int { return 0 },
		Sink:        sink,
		StartedAt:   time.Now(),
		Logger:      zap.NewNop(),
	}, sink
}

func TestHandlers_health(t *testing.T) {
	h, _ := newTestHandlers(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()

	h.health(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])

	startLine, ok := body["start_line"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "UNKNOWN", startLine["quality"])
}

func TestHandlers_replaceAthletesThenListAthletes(t *testing.T) {
	h, _ := newTestHandlers(t)

	body := bytes.NewBufferString(`{"athletes":[{"device_id":1,"athlete_id":"A1","name":"Alice","team":"Red"}]}`)
	req := httptest.NewRequest(http.MethodPut, "/api/athletes", body)
	rec := httptest.NewRecorder()
	h.replaceAthletes(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	listRec := httptest.NewRecorder()
	h.listAthletes(listRec, httptest.NewRequest(http.MethodGet, "/api/athletes", nil))

	var decoded struct {
		Athletes []registry.Athlete `json:"athletes"`
	}
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &decoded))
	require.Len(t, decoded.Athletes, 1)
	assert.Equal(t, "Alice", decoded.Athletes[0].Name)
}

func TestHandlers_startStopSessionLifecycle(t *testing.T) {
	h, _ := newTestHandlers(t)

	startRec := httptest.NewRecorder()
	h.startSession(startRec, httptest.NewRequest(http.MethodPost, "/api/sessions/start?session_id=S1", nil))
	assert.Equal(t, http.StatusOK, startRec.Code)

	// Starting again while already recording is a conflict.
	conflictRec := httptest.NewRecorder()
	h.startSession(conflictRec, httptest.NewRequest(http.MethodPost, "/api/sessions/start", nil))
	assert.Equal(t, http.StatusConflict, conflictRec.Code)

	stopRec := httptest.NewRecorder()
	h.stopSession(stopRec, httptest.NewRequest(http.MethodPost, "/api/sessions/stop", nil))
	assert.Equal(t, http.StatusOK, stopRec.Code)

	// Stopping again while idle is a conflict.
	idleRec := httptest.NewRecorder()
	h.stopSession(idleRec, httptest.NewRequest(http.MethodPost, "/api/sessions/stop", nil))
	assert.Equal(t, http.StatusConflict, idleRec.Code)
}

func TestHandlers_setStartSignalBroadcastsEvent(t *testing.T) {
	h, sink := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/api/start_signal?ts_ms=5000", nil)
	rec := httptest.NewRecorder()

	h.setStartSignal(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	got := h.StartSignal.Get()
	require.NotNil(t, got)
	assert.Equal(t, int64(5000), *got)

	require.Len(t, sink.envelopes, 2) // broadcast + record of the same envelope
	assert.Equal(t, wire.TypeEvent, sink.envelopes[0].Type)
}

func TestHandlers_getSessionNotFound(t *testing.T) {
	h, _ := newTestHandlers(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/does-not-exist", nil)
	req.SetPathValue("id", "does-not-exist")

	h.getSession(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
