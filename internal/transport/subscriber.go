// Package transport runs the two long-lived upstream subscribers: one
// for the position-text stream, one for the gate-metrics JSON stream,
// both over the same ZeroMQ SUB pub/sub transport with exponential
// reconnect backoff and jitter.
package transport

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/go-zeromq/zmq4"
)

// Frame is a single received pub/sub message handed to the ingest task.
type Frame struct {
	Topic        string
	Payload      []byte
	ReceivedAtMs int64
}

// Metrics are the diagnostic counters exposed via the control surface's
// health endpoint.
type Metrics struct {
	mu sync.RWMutex

	Connected        bool
	MessagesReceived int64
	Errors           int64
	Dropped          int64
	LastErrorAt      time.Time
	LastMessageAt    time.Time
}

func (m *Metrics) snapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		Connected:        m.Connected,
		MessagesReceived: m.MessagesReceived,
		Errors:           m.Errors,
		Dropped:          m.Dropped,
		LastErrorAt:      m.LastErrorAt,
		LastMessageAt:    m.LastMessageAt,
	}
}

// Subscriber connects to one pub/sub endpoint+topic, decodes frames into
// a bounded inbound queue, and reconnects with exponential backoff on
// failure.
type Subscriber struct {
	name     string
	endpoint string
	topic    string

	reconnectMinS float64
	reconnectMaxS float64

	inbound chan Frame
	metrics Metrics
	logger  *zap.Logger

	mu        sync.Mutex
	errors    int
}

// NewSubscriber returns a Subscriber for endpoint/topic. queueSize
// bounds the inbound queue; once full, the oldest message is dropped
// and counted.
func NewSubscriber(name, endpoint, topic string, reconnectMinS, reconnectMaxS float64, queueSize int, logger *zap.Logger) *Subscriber {
	return &Subscriber{
		name:          name,
		endpoint:      endpoint,
		topic:         topic,
		reconnectMinS: reconnectMinS,
		reconnectMaxS: reconnectMaxS,
		inbound:       make(chan Frame, queueSize),
		logger:        logger,
	}
}

// Inbound returns the channel of received frames, in arrival order.
func (s *Subscriber) Inbound() <-chan Frame {
	return s.inbound
}

// MetricsSnapshot returns a copy of the subscriber's diagnostic counters.
func (s *Subscriber) MetricsSnapshot() Metrics {
	return s.metrics.snapshot()
}

// Run connects and receives until ctx is cancelled, reconnecting with
// exponential backoff (base reconnectMinS, cap reconnectMaxS, ±20%
// jitter) on any connection or receive error. It never returns an error;
// failures are logged and retried.
func (s *Subscriber) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := s.connectAndReceive(ctx)
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		s.errors++
		errs := s.errors
		s.mu.Unlock()

		s.metrics.mu.Lock()
		s.metrics.Connected = false
		s.metrics.Errors++
		s.metrics.LastErrorAt = time.Now()
		s.metrics.mu.Unlock()

		backoff := s.backoffFor(errs - 1)
		s.logger.Warn("upstream subscriber disconnected, reconnecting",
			zap.String("subscriber", s.name),
			zap.Error(err),
			zap.Duration("backoff", backoff),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func (s *Subscriber) backoffFor(errs int) time.Duration {
	capped := errs
	if capped > 10 {
		capped = 10
	}
	base := s.reconnectMinS * float64(int(1)<<uint(capped))
	if base > s.reconnectMaxS {
		base = s.reconnectMaxS
	}
	jitter := base * (0.8 + 0.4*rand.Float64())
	return time.Duration(jitter * float64(time.Second))
}

func (s *Subscriber) connectAndReceive(ctx context.Context) error {
	sck := zmq4.NewSub(ctx)
	defer sck.Close()

	if err := sck.Dial(s.endpoint); err != nil {
		return fmt.Errorf("dial %s: %w", s.endpoint, err)
	}
	if err := sck.SetOption(zmq4.OptionSubscribe, s.topic); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.topic, err)
	}

	s.mu.Lock()
	s.errors = 0
	s.mu.Unlock()

	s.metrics.mu.Lock()
	s.metrics.Connected = true
	s.metrics.mu.Unlock()

	s.logger.Info("upstream subscriber connected",
		zap.String("subscriber", s.name),
		zap.String("endpoint", s.endpoint),
		zap.String("topic", s.topic),
	)

	for {
		msg, err := sck.Recv()
		if err != nil {
			return fmt.Errorf("recv: %w", err)
		}
		if len(msg.Frames) < 2 {
			continue
		}

		frame := Frame{
			Topic:        string(msg.Frames[0]),
			Payload:      msg.Frames[1],
			ReceivedAtMs: time.Now().UnixMilli(),
		}

		s.metrics.mu.Lock()
		s.metrics.MessagesReceived++
		s.metrics.LastMessageAt = time.Now()
		s.metrics.mu.Unlock()

		s.enqueue(frame)
	}
}

// enqueue is called only from the subscriber's own receive loop, so the
// drop-oldest compare-and-swap dance below never races with itself.
func (s *Subscriber) enqueue(f Frame) {
	select {
	case s.inbound <- f:
		return
	default:
	}

	select {
	case <-s.inbound:
		s.metrics.mu.Lock()
		s.metrics.Dropped++
		s.metrics.mu.Unlock()
	default:
	}

	select {
	case s.inbound <- f:
	default:
		s.metrics.mu.Lock()
		s.metrics.Dropped++
		s.metrics.mu.Unlock()
	}
}
