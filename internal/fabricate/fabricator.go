// Package fabricate stamps every outbound message with the envelope
// fields the web-socket contract requires: type, schema version, a
// process-local monotonic sequence number, wall-clock timestamp, and
// the current recording session id, if any.
package fabricate

import (
	"sync/atomic"
	"time"

	"github.com/sady37/startline-relay/internal/wire"
)

// Fabricator is the single point that stamps outbound envelopes.
type Fabricator struct {
	seq       uint64
	sessionID atomic.Pointer[string]

	// Now is overridable for deterministic tests; defaults to time.Now.
	Now func() time.Time
}

// New returns a Fabricator with no active recording session.
func New() *Fabricator {
	return &Fabricator{Now: time.Now}
}

// SetSessionID records the current recording session id, or clears it
// when id is nil.
func (f *Fabricator) SetSessionID(id *string) {
	f.sessionID.Store(id)
}

// CurrentSeq returns the most recently assigned sequence number, for
// the health endpoint's "messages relayed" counter.
func (f *Fabricator) CurrentSeq() uint64 {
	return atomic.LoadUint64(&f.seq)
}

// Stamp builds an envelope for payload, assigning the next sequence
// number and the current wall-clock time and session id.
func (f *Fabricator) Stamp(msgType wire.MessageType, payload any) wire.Envelope {
	seq := atomic.AddUint64(&f.seq, 1)

	return wire.Envelope{
		Type:          msgType,
		SchemaVersion: wire.SchemaVersion,
		Seq:           seq,
		TsMs:          f.Now().UnixMilli(),
		SessionID:     f.sessionID.Load(),
		Payload:       payload,
	}
}
