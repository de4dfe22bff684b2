// Package startsignal holds the externally injected start-signal
// timestamp the status classifier needs for RISK/OCS evaluation. The
// relay only accepts this timestamp as an injected event; it does not
// derive it from any upstream stream. A single atomic pointer is
// sufficient: there is one start line per session and the signal is
// set at most once per session.
package startsignal

import "sync/atomic"

// Holder is a concurrency-safe holder for the current start-signal
// timestamp, settable by the control surface and read by the gate
// ingest path.
type Holder struct {
	tsMs atomic.Pointer[int64]
}

// NewHolder returns a Holder with no start signal set.
func NewHolder() *Holder {
	return &Holder{}
}

// Set records the start signal time. Idempotent per call; callers (the
// control surface) decide whether re-setting mid-session is allowed.
func (h *Holder) Set(tsMs int64) {
	v := tsMs
	h.tsMs.Store(&v)
}

// Clear removes the start signal, e.g. on a new session.
func (h *Holder) Clear() {
	h.tsMs.Store(nil)
}

// Get returns the current start-signal timestamp, or nil if unset.
func (h *Holder) Get() *int64 {
	return h.tsMs.Load()
}
