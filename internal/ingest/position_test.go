package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sady37/startline-relay/internal/classify"
	"github.com/sady37/startline-relay/internal/fabricate"
	"github.com/sady37/startline-relay/internal/registry"
	"github.com/sady37/startline-relay/internal/startline"
	"github.com/sady37/startline-relay/internal/startsignal"
	"github.com/sady37/startline-relay/internal/state"
	"github.com/sady37/startline-relay/internal/transport"
	"github.com/sady37/startline-relay/internal/wire"
)

type fakeSink struct {
	broadcast []wire.Envelope
	recorded  []wire.Envelope
}

func (s *fakeSink) Broadcast(env wire.Envelope) { s.broadcast = append(s.broadcast, env) }
func (s *fakeSink) Record(env wire.Envelope)     { s.recorded = append(s.recorded, env) }

func newTestDeps(sink Sink) Dependencies {
	return Dependencies{
		Table:       state.NewTable(registry.New()),
		Tracker:     startline.New(101, 102),
		Classifier:  classify.New(classify.Thresholds{ApproachDistanceM: 50, RiskEtaS: 5, StaleAgeS: 3}),
		Fabricator:  fabricate.New(),
		Sink:        sink,
		StartSignal: startsignal.NewHolder(),
		Logger:      zap.NewNop(),
	}
}

func TestPositionIngestor_parsesAndFabricates(t *testing.T) {
	sink := &fakeSink{}
	deps := newTestDeps(sink)
	ing := NewPositionIngestor(deps)

	frame := transport.Frame{Payload: []byte(
		"SERVER_TS:1700000000000000\n" +
			"COUNT:1\n" +
			"POS:3:22.301:114.174:0.5:3:1700000000010000\n",
	)}

	ing.handleFrame(frame)

	require.Len(t, sink.broadcast, 1)
	env := sink.broadcast[0]
	assert.Equal(t, wire.TypePositionUpdate, env.Type)

	payload, ok := env.Payload.(wire.PositionUpdatePayload)
	require.True(t, ok)
	require.Len(t, payload.Positions, 1)
	assert.Equal(t, 3, payload.Positions[0].DeviceID)
	assert.Equal(t, 22.301, payload.Positions[0].Lat)
}

func TestPositionIngestor_anchorUpdateAnnouncesStartLine(t *testing.T) {
	sink := &fakeSink{}
	deps := newTestDeps(sink)
	ing := NewPositionIngestor(deps)

	left := transport.Frame{Payload: []byte(
		"SERVER_TS:1\nCOUNT:1\nPOS:101:22.1200:114.1200:0.0:7:1000\n",
	)}
	right := transport.Frame{Payload: []byte(
		"SERVER_TS:2\nCOUNT:1\nPOS:102:22.1210:114.1250:0.0:7:2000\n",
	)}

	ing.handleFrame(left)
	ing.handleFrame(right)

	var sawDefinition bool
	for _, env := range sink.broadcast {
		if env.Type == wire.TypeStartLineDefinition {
			sawDefinition = true
		}
	}
	assert.True(t, sawDefinition, "expected a start_line_definition envelope after both anchors report")
}

func TestPositionIngestor_emptyBatchNoEmit(t *testing.T) {
	sink := &fakeSink{}
	deps := newTestDeps(sink)
	ing := NewPositionIngestor(deps)

	ing.handleFrame(transport.Frame{Payload: []byte("SERVER_TS:1\nCOUNT:0\n")})

	assert.Empty(t, sink.broadcast)
	assert.Empty(t, sink.recorded)
}
