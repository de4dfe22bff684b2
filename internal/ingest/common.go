// Package ingest wires the subscriber -> parser -> state -> classifier
// -> fabricator -> sink chain for one upstream topic. One Ingestor runs
// per upstream subscriber so per-device ordering is preserved end to
// end; the two ingestors never share mutable state except through
// Table and Tracker, both of which follow a single-writer-per-entity
// discipline.
package ingest

import (
	"go.uber.org/zap"

	"github.com/sady37/startline-relay/internal/classify"
	"github.com/sady37/startline-relay/internal/fabricate"
	"github.com/sady37/startline-relay/internal/startline"
	"github.com/sady37/startline-relay/internal/startsignal"
	"github.com/sady37/startline-relay/internal/state"
	"github.com/sady37/startline-relay/internal/wire"
)

// Sink is the outbound fan-out surface: the broadcaster and the
// recorder, both of which an ingestor hands every fabricated envelope
// to.
type Sink interface {
	Broadcast(wire.Envelope)
	Record(wire.Envelope)
}

func emit(sink Sink, env wire.Envelope) {
	sink.Broadcast(env)
	sink.Record(env)
}

// Dependencies are the shared, single-writer components both ingestors
// read and mutate.
type Dependencies struct {
	Table        *state.Table
	Tracker      *startline.Tracker
	Classifier   *classify.Classifier
	Fabricator   *fabricate.Fabricator
	Sink         Sink
	StartSignal  *startsignal.Holder
	GateSignFlip bool
	Logger       *zap.Logger
}
