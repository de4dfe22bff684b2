package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/sady37/startline-relay/internal/fabricate"
	"github.com/sady37/startline-relay/internal/recorder"
	"github.com/sady37/startline-relay/internal/registry"
	"github.com/sady37/startline-relay/internal/startsignal"
	"github.com/sady37/startline-relay/internal/state"
	"github.com/sady37/startline-relay/internal/startline"
	"github.com/sady37/startline-relay/internal/transport"
	"github.com/sady37/startline-relay/internal/wire"
)

// Sink is the outbound fan-out surface, matching internal/ingest.Sink,
// used here only by setStartSignal to broadcast/record the resulting
// START_SIGNAL event.
type Sink interface {
	Broadcast(wire.Envelope)
	Record(wire.Envelope)
}

// Handlers holds the dependencies the REST control surface reads from
// and acts on, one method per resource, registered onto
// net/http.ServeMux.
type Handlers struct {
	Registry    *registry.Registry
	Table       *state.Table
	Tracker     *startline.Tracker
	Recorder    *recorder.Recorder
	Fabricator  *fabricate.Fabricator
	StartSignal *startsignal.Holder
	Positions   *transport.Subscriber
	Gates       *transport.Subscriber
	Clients     func() int
	Sink        Sink
	StartedAt   time.Time
	Logger      *zap.Logger
}

// Register wires every REST endpoint onto r.
func (h *Handlers) Register(r *Router) {
	r.Handle("GET /api/health", h.health)
	r.Handle("GET /api/athletes", h.listAthletes)
	r.Handle("PUT /api/athletes", h.replaceAthletes)
	r.Handle("GET /api/sessions", h.listSessions)
	r.Handle("GET /api/sessions/{id}", h.getSession)
	r.Handle("GET /api/sessions/{id}/messages", h.sessionMessages)
	r.Handle("GET /api/sessions/{id}/export", h.sessionExport)
	r.Handle("POST /api/sessions/start", h.startSession)
	r.Handle("POST /api/sessions/stop", h.stopSession)
	r.Handle("POST /api/start_signal", h.setStartSignal)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// health reports liveness, upstream connectivity, queue depths, and
// counters.
func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	posMetrics := h.Positions.MetricsSnapshot()
	gateMetrics := h.Gates.MetricsSnapshot()
	startLine := h.Tracker.Definition(time.Now().UnixMilli())

	writeJSON(w, http.StatusOK, map[string]any{
		"status":               "ok",
		"uptime_s":             time.Since(h.StartedAt).Seconds(),
		"connected_clients":    h.Clients(),
		"athletes_tracked":     h.Table.Count(),
		"messages_relayed":     h.Fabricator.CurrentSeq(),
		"recording":            h.Recorder.IsRecording(),
		"recorder_dropped":     h.Recorder.DroppedCount(),
		"start_line": map[string]any{
			"gate_length_m": startLine.GateLengthM,
			"quality":       startLine.Quality,
		},
		"position_stream": map[string]any{
			"connected":         posMetrics.Connected,
			"messages_received": posMetrics.MessagesReceived,
			"errors":            posMetrics.Errors,
			"dropped":           posMetrics.Dropped,
		},
		"gate_stream": map[string]any{
			"connected":         gateMetrics.Connected,
			"messages_received": gateMetrics.MessagesReceived,
			"errors":            gateMetrics.Errors,
			"dropped":           gateMetrics.Dropped,
		},
	})
}

func (h *Handlers) listAthletes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"athletes": h.Registry.All()})
}

// replaceAthletes atomically replaces the registry.
func (h *Handlers) replaceAthletes(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Athletes []registry.Athlete `json:"athletes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid athlete registry document: %v", err))
		return
	}
	h.Registry.ReplaceAll(body.Athletes)
	writeJSON(w, http.StatusOK, map[string]any{"athletes": h.Registry.All()})
}

func (h *Handlers) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.Recorder.ListSessions()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *Handlers) getSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	meta, ok := h.Recorder.GetSession(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// sessionMessages streams the raw envelope sequence for one session.
func (h *Handlers) sessionMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := h.Recorder.GetSession(id); !ok {
		writeError(w, http.StatusNotFound, "session not found: "+id)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if err := h.Recorder.ExportJSON(id, w); err != nil {
		h.Logger.Warn("session message stream failed", zap.String("session_id", id), zap.Error(err))
	}
}

// sessionExport streams a csv or json export.
func (h *Handlers) sessionExport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := h.Recorder.GetSession(id); !ok {
		writeError(w, http.StatusNotFound, "session not found: "+id)
		return
	}

	format := r.URL.Query().Get("format")
	switch format {
	case "", "json":
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		if err := h.Recorder.ExportJSON(id, w); err != nil {
			h.Logger.Warn("session export failed", zap.String("session_id", id), zap.Error(err))
		}
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.csv"`, id))
		w.WriteHeader(http.StatusOK)
		if err := h.Recorder.ExportCSV(id, w); err != nil {
			h.Logger.Warn("session export failed", zap.String("session_id", id), zap.Error(err))
		}
	default:
		writeError(w, http.StatusBadRequest, "unsupported export format: "+format)
	}
}

// startSession begins recording. 409 if already recording.
func (h *Handlers) startSession(w http.ResponseWriter, r *http.Request) {
	if h.Recorder.IsRecording() {
		writeError(w, http.StatusConflict, "a session is already recording")
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	description := r.URL.Query().Get("description")

	id, err := h.Recorder.Start(sessionID, description)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

// stopSession ends recording. 409 if not recording.
func (h *Handlers) stopSession(w http.ResponseWriter, r *http.Request) {
	if !h.Recorder.IsRecording() {
		writeError(w, http.StatusConflict, "no session is currently recording")
		return
	}

	meta, err := h.Recorder.Stop()
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// setStartSignal injects the start-signal timestamp the classifier
// needs for RISK/OCS evaluation. The relay has no way to derive this
// timestamp on its own, so it is accepted as an externally triggered
// event rather than computed from either upstream stream.
func (h *Handlers) setStartSignal(w http.ResponseWriter, r *http.Request) {
	tsMsParam := r.URL.Query().Get("ts_ms")
	tsMs := time.Now().UnixMilli()
	if tsMsParam != "" {
		parsed, err := strconv.ParseInt(tsMsParam, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid ts_ms")
			return
		}
		tsMs = parsed
	}

	h.StartSignal.Set(tsMs)
	env := h.Fabricator.Stamp(wire.TypeEvent, wire.EventPayload{
		EventKind: wire.EventStartSignal,
		Details:   map[string]any{"start_signal_ts_ms": tsMs},
	})
	h.Sink.Broadcast(env)
	h.Sink.Record(env)

	writeJSON(w, http.StatusOK, map[string]any{"start_signal_ts_ms": tsMs, "envelope_seq": env.Seq})
}
