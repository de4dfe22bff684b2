package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sady37/startline-relay/internal/wire"
)

func envelope(msgType wire.MessageType, seq uint64) wire.Envelope {
	return wire.Envelope{Type: msgType, Seq: seq, SchemaVersion: wire.SchemaVersion}
}

func TestOutboundQueue_pushBelowCapacityNeverDrops(t *testing.T) {
	q := newOutboundQueue(4)
	for i := uint64(1); i <= 3; i++ {
		disconnect := q.push(envelope(wire.TypePositionUpdate, i), time.Now())
		assert.False(t, disconnect)
	}
	assert.Len(t, q.items, 3)
}

func TestOutboundQueue_dropsOldestHeartbeatFirst(t *testing.T) {
	q := newOutboundQueue(2)
	q.push(envelope(wire.TypeHeartbeat, 1), time.Now())
	q.push(envelope(wire.TypePositionUpdate, 2), time.Now())

	disconnect := q.push(envelope(wire.TypePositionUpdate, 3), time.Now())
	assert.False(t, disconnect)

	require.Len(t, q.items, 2)
	assert.Equal(t, uint64(2), q.items[0].Seq)
	assert.Equal(t, uint64(3), q.items[1].Seq)
}

func TestOutboundQueue_dropsOldestLossyUpdateWhenNoHeartbeat(t *testing.T) {
	q := newOutboundQueue(2)
	q.push(envelope(wire.TypePositionUpdate, 1), time.Now())
	q.push(envelope(wire.TypeGateMetrics, 2), time.Now())

	q.push(envelope(wire.TypePositionUpdate, 3), time.Now())

	require.Len(t, q.items, 2)
	assert.Equal(t, uint64(2), q.items[0].Seq)
	assert.Equal(t, uint64(3), q.items[1].Seq)
}

func TestOutboundQueue_neverDropsEventsUntilGraceExceeded(t *testing.T) {
	q := newOutboundQueue(1)
	base := time.Now()
	q.push(envelope(wire.TypeEvent, 1), base)

	disconnect := q.push(envelope(wire.TypeEvent, 2), base.Add(1*time.Second))
	assert.False(t, disconnect)
	// The original event is retained; the overflowing one was not enqueued.
	require.Len(t, q.items, 1)
	assert.Equal(t, uint64(1), q.items[0].Seq)

	// Overflow began at the 1s push, so this is just past the 2s grace.
	disconnect = q.push(envelope(wire.TypeEvent, 3), base.Add(3*time.Second+time.Millisecond))
	assert.True(t, disconnect)
}

func TestOutboundQueue_popDrainsInOrder(t *testing.T) {
	q := newOutboundQueue(4)
	q.push(envelope(wire.TypePositionUpdate, 1), time.Now())
	q.push(envelope(wire.TypePositionUpdate, 2), time.Now())

	e1, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, uint64(1), e1.Seq)

	e2, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, uint64(2), e2.Seq)

	_, ok = q.pop()
	assert.False(t, ok)
}
