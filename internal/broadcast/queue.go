package broadcast

import (
	"sync"
	"time"

	"github.com/sady37/startline-relay/internal/wire"
)

// overflowGrace is how long a client's queue may stay persistently full
// of non-droppable messages before the client is disconnected.
const overflowGrace = 2 * time.Second

// outboundQueue is one client's bounded, backpressure-aware message
// queue. Enqueue is always non-blocking: on a full queue
// it drops the oldest heartbeat, else the oldest position/gate update,
// else leaves events and start_line_definitions alone and tracks
// overflow duration for the caller to act on.
type outboundQueue struct {
	mu       sync.Mutex
	items    []wire.Envelope
	capacity int

	overflowSince time.Time

	wake chan struct{}
}

func newOutboundQueue(capacity int) *outboundQueue {
	return &outboundQueue{
		items:    make([]wire.Envelope, 0, capacity),
		capacity: capacity,
		wake:     make(chan struct{}, 1),
	}
}

// push enqueues env, applying the backpressure policy when full. It
// returns true if the client has now exceeded its overflow grace period
// and should be disconnected.
func (q *outboundQueue) push(env wire.Envelope, now time.Time) (disconnect bool) {
	q.mu.Lock()

	if len(q.items) < q.capacity {
		q.items = append(q.items, env)
		q.overflowSince = time.Time{}
		q.mu.Unlock()
		q.notify()
		return false
	}

	if idx := q.indexOfOldest(wire.TypeHeartbeat); idx >= 0 {
		q.items = append(q.items[:idx], q.items[idx+1:]...)
		q.items = append(q.items, env)
		q.overflowSince = time.Time{}
		q.mu.Unlock()
		q.notify()
		return false
	}

	if idx := q.indexOfOldest(wire.TypePositionUpdate, wire.TypeGateMetrics); idx >= 0 {
		q.items = append(q.items[:idx], q.items[idx+1:]...)
		q.items = append(q.items, env)
		q.overflowSince = time.Time{}
		q.mu.Unlock()
		q.notify()
		return false
	}

	// Queue is saturated with events/start_line_definitions, neither of
	// which may be dropped. The new message is not enqueued; instead we
	// track how long the client has been persistently overflowing.
	if q.overflowSince.IsZero() {
		q.overflowSince = now
	}
	exceeded := now.Sub(q.overflowSince) > overflowGrace
	q.mu.Unlock()
	return exceeded
}

// indexOfOldest returns the index of the earliest queued envelope whose
// type is one of types, or -1 if none match. Caller must hold q.mu.
func (q *outboundQueue) indexOfOldest(types ...wire.MessageType) int {
	for i, item := range q.items {
		for _, t := range types {
			if item.Type == t {
				return i
			}
		}
	}
	return -1
}

// pop removes and returns the oldest queued envelope, if any.
func (q *outboundQueue) pop() (wire.Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return wire.Envelope{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

func (q *outboundQueue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
