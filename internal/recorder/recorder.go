// Package recorder implements session recording, listing, and export:
// append-only JSON-Lines pack files with a metadata header line,
// written on a dedicated goroutine so the ingest path never blocks on
// disk I/O.
package recorder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sady37/startline-relay/internal/fabricate"
	"github.com/sady37/startline-relay/internal/wire"
)

// State is the recorder's lifecycle state.
type State string

const (
	StateIdle      State = "IDLE"
	StateRecording State = "RECORDING"
)

// DefaultQueueSize is the suggested bounded recorder queue depth.
const DefaultQueueSize = 1024

// metaHeader is the first line of every pack file.
type metaHeader struct {
	Meta          bool   `json:"_meta"`
	SchemaVersion string `json:"schema_version"`
	SessionID     string `json:"session_id"`
	Created       string `json:"created"`
	Description   string `json:"description,omitempty"`
}

// SessionMeta summarizes a recorded (or in-progress) session.
type SessionMeta struct {
	SessionID     string   `json:"session_id"`
	CreatedUTC    string   `json:"created_utc"`
	DurationS     float64  `json:"duration_s"`
	MessageCount  int      `json:"message_count"`
	AthleteCount  int      `json:"athlete_count"`
	AthleteIDs    []string `json:"athlete_ids"`
}

// Recorder is the session recording engine. One recorder instance
// serves the whole relay; recording is a single, global session.
type Recorder struct {
	mu         sync.Mutex
	dir        string
	fabricator *fabricate.Fabricator
	logger     *zap.Logger

	state        State
	sessionID    string
	file         *os.File
	startMs      int64
	messageCount int
	athleteIDs   map[string]struct{}

	queue   chan wire.Envelope
	dropped int64
	done    chan struct{}

	cacheMu sync.Mutex
	cache   map[string]cachedMeta

	description string
	index       *SessionIndex
}

type cachedMeta struct {
	size    int64
	modTime time.Time
	meta    SessionMeta
}

// New returns an idle Recorder writing pack files under dir.
func New(dir string, fabricator *fabricate.Fabricator, logger *zap.Logger) *Recorder {
	return &Recorder{
		dir:        dir,
		fabricator: fabricator,
		logger:     logger,
		state:      StateIdle,
		queue:      make(chan wire.Envelope, DefaultQueueSize),
		cache:      make(map[string]cachedMeta),
	}
}

// Run drains the recorder queue onto disk until done is closed. Must be
// started once before any session is recorded.
func (r *Recorder) Run(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case env := <-r.queue:
			r.writeLine(env)
		}
	}
}

// IsRecording reports whether a session is currently open.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == StateRecording
}

// Start begins a new recording session. If sessionID is empty, one is
// generated from the current time. Returns an error if already recording.
func (r *Recorder) Start(sessionID, description string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateRecording {
		return "", fmt.Errorf("recorder: already recording session %s", r.sessionID)
	}

	now := time.Now().UTC()
	if sessionID == "" {
		sessionID = fmt.Sprintf("S%s", now.Format("2006-01-02-150405"))
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("recorder: create session dir: %w", err)
	}

	path := filepath.Join(r.dir, sessionID+".jsonl")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("recorder: create pack file: %w", err)
	}

	header := metaHeader{
		Meta:          true,
		SchemaVersion: wire.SchemaVersion,
		SessionID:     sessionID,
		Created:       now.Format(time.RFC3339),
		Description:   description,
	}
	headerBytes, _ := json.Marshal(header)
	if _, err := f.Write(append(headerBytes, '\n')); err != nil {
		f.Close()
		return "", fmt.Errorf("recorder: write pack header: %w", err)
	}

	r.file = f
	r.sessionID = sessionID
	r.startMs = now.UnixMilli()
	r.messageCount = 0
	r.athleteIDs = make(map[string]struct{})
	r.state = StateRecording

	id := sessionID
	r.fabricator.SetSessionID(&id)

	if r.index != nil {
		r.index.UpsertStart(sessionID, path, now)
	}

	r.logger.Info("session recording started", zap.String("session_id", sessionID), zap.String("path", path))
	return sessionID, nil
}

// Stop ends the current recording session and returns its final metadata.
func (r *Recorder) Stop() (SessionMeta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateRecording {
		return SessionMeta{}, fmt.Errorf("recorder: not currently recording")
	}

	r.file.Close()
	r.fabricator.SetSessionID(nil)

	meta := SessionMeta{
		SessionID:    r.sessionID,
		DurationS:    float64(time.Now().UnixMilli()-r.startMs) / 1000.0,
		MessageCount: r.messageCount,
		AthleteCount: len(r.athleteIDs),
		AthleteIDs:   sortedKeys(r.athleteIDs),
	}

	r.logger.Info("session recording stopped",
		zap.String("session_id", r.sessionID),
		zap.Int("message_count", r.messageCount),
		zap.Float64("duration_s", meta.DurationS),
	)

	if r.index != nil {
		r.index.RecordStop(r.sessionID, time.Now(), r.messageCount)
	}

	r.state = StateIdle
	r.sessionID = ""
	r.file = nil
	return meta, nil
}

// Record enqueues an outbound envelope for durable writing while
// recording is active; it is a no-op otherwise. Non-blocking: if the
// recorder queue is full, the message is dropped and counted.
func (r *Recorder) Record(env wire.Envelope) {
	if !r.IsRecording() {
		return
	}
	select {
	case r.queue <- env:
	default:
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
	}
}

// DroppedCount returns the number of envelopes dropped due to recorder
// queue overflow.
func (r *Recorder) DroppedCount() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// writeLine appends one session-relative envelope to the open pack
// file and tracks athlete ids for session metadata.
func (r *Recorder) writeLine(env wire.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateRecording || r.file == nil {
		return
	}

	relative := env
	relative.TsMs = env.TsMs - r.startMs

	line, err := json.Marshal(relative)
	if err != nil {
		r.logger.Warn("failed to marshal envelope for recording", zap.Error(err))
		return
	}
	if _, err := r.file.Write(append(line, '\n')); err != nil {
		r.logger.Warn("failed to write recording line", zap.Error(err))
		return
	}

	r.messageCount++
	for _, id := range athleteIDsIn(env) {
		r.athleteIDs[id] = struct{}{}
	}
}

func athleteIDsIn(env wire.Envelope) []string {
	switch p := env.Payload.(type) {
	case wire.PositionUpdatePayload:
		ids := make([]string, 0, len(p.Positions))
		for _, pos := range p.Positions {
			ids = append(ids, pos.AthleteID)
		}
		return ids
	case wire.GateMetricsPayload:
		ids := make([]string, 0, len(p.Metrics))
		for _, m := range p.Metrics {
			ids = append(ids, m.AthleteID)
		}
		return ids
	default:
		return nil
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sortStrings(out)
	return out
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// listSessionPaths returns pack file paths under dir, without reading them.
func listSessionPaths(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	return paths, nil
}

// readHeader reads and parses the first (metadata) line of a pack file.
func readHeader(path string) (metaHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return metaHeader{}, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if !scanner.Scan() {
		return metaHeader{}, fmt.Errorf("recorder: empty pack file %s", path)
	}

	var header metaHeader
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil {
		return metaHeader{}, fmt.Errorf("recorder: parse pack header %s: %w", path, err)
	}
	return header, nil
}
