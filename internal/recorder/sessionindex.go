package recorder

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// SessionIndex is an optional Postgres-backed catalog of recorded
// sessions, layered on top of the filesystem pack files so operators
// can query session history with SQL. It is purely additive: the pack
// file remains the source of truth, and a missing or unreachable index
// degrades to filesystem-only scanning.
type SessionIndex struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSessionIndex opens dsn and ensures the session_index table exists.
// A connection failure is returned to the caller, who may choose to run
// without an index rather than fail relay startup over optional
// infrastructure.
func NewSessionIndex(dsn string, logger *zap.Logger) (*SessionIndex, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("session index: open: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("session index: ping: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS session_index (
	session_id    TEXT PRIMARY KEY,
	start_time    TIMESTAMPTZ NOT NULL,
	end_time      TIMESTAMPTZ,
	pack_path     TEXT NOT NULL,
	message_count INTEGER NOT NULL DEFAULT 0
)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("session index: create table: %w", err)
	}

	return &SessionIndex{db: db, logger: logger}, nil
}

// Close closes the underlying database connection.
func (s *SessionIndex) Close() error {
	return s.db.Close()
}

// UpsertStart records (or replaces) the start of a session.
func (s *SessionIndex) UpsertStart(sessionID, packPath string, startTime time.Time) {
	_, err := s.db.Exec(
		`INSERT INTO session_index (session_id, start_time, pack_path)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (session_id) DO UPDATE SET start_time = $2, pack_path = $3`,
		sessionID, startTime, packPath,
	)
	if err != nil {
		s.logger.Warn("session index: upsert start failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// RecordStop finalizes a session row with its end time and message count.
func (s *SessionIndex) RecordStop(sessionID string, endTime time.Time, messageCount int) {
	_, err := s.db.Exec(
		`UPDATE session_index SET end_time = $2, message_count = $3 WHERE session_id = $1`,
		sessionID, endTime, messageCount,
	)
	if err != nil {
		s.logger.Warn("session index: record stop failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// SetIndex attaches an optional SessionIndex to the recorder; start/stop
// transitions upsert into it in addition to the filesystem pack. Passing
// nil disables index writes (the default).
func (r *Recorder) SetIndex(idx *SessionIndex) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.index = idx
}
