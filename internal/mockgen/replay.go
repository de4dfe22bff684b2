package mockgen

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/sady37/startline-relay/internal/fabricate"
	"github.com/sady37/startline-relay/internal/wire"
)

// Sink is the outbound fan-out surface the replayer re-emits onto,
// matching internal/ingest.Sink so the same broadcaster/recorder wiring
// serves both live ingest and replay.
type Sink interface {
	Broadcast(wire.Envelope)
	Record(wire.Envelope)
}

// Replayer drives the pipeline from a previously recorded session pack,
// re-stamping each envelope through a fresh fabricator and emitting it
// at the original relative cadence. It replays already-fabricated
// envelopes rather than re-deriving raw upstream frames: the pack's
// "_meta" header line is skipped, and each later line's type, ts_ms
// and payload are the only fields it reads.
type Replayer struct {
	path       string
	fabricator *fabricate.Fabricator
	sink       Sink
	logger     *zap.Logger
}

// NewReplayer returns a Replayer for the pack file at path.
func NewReplayer(path string, fabricator *fabricate.Fabricator, sink Sink, logger *zap.Logger) *Replayer {
	return &Replayer{path: path, fabricator: fabricator, sink: sink, logger: logger}
}

type replayLine struct {
	Type    wire.MessageType `json:"type"`
	TsMs    int64            `json:"ts_ms"`
	Payload any              `json:"payload"`
}

// Run reads the pack file line by line, sleeping between lines to
// reproduce the original inter-message spacing, until ctx is cancelled
// or the file is exhausted.
func (r *Replayer) Run(ctx context.Context) error {
	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("mockgen: open pack %s: %w", r.path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	if !scanner.Scan() {
		return fmt.Errorf("mockgen: empty pack %s", r.path)
	}
	r.logger.Info("replaying session pack", zap.String("path", r.path))

	var prevTsMs int64
	first := true
	count := 0

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var line replayLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			r.logger.Warn("skipping unparseable replay line", zap.Error(err))
			continue
		}

		if !first {
			gap := time.Duration(line.TsMs-prevTsMs) * time.Millisecond
			if gap > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(gap):
				}
			}
		}
		first = false
		prevTsMs = line.TsMs

		env := r.fabricator.Stamp(line.Type, line.Payload)
		r.sink.Broadcast(env)
		r.sink.Record(env)
		count++
	}

	r.logger.Info("replay complete", zap.String("path", r.path), zap.Int("messages", count))
	return scanner.Err()
}
