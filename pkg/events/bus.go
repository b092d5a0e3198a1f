package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Sink receives committed events.
type Sink interface {
	Name() string
	Publish(ctx context.Context, e Event) error
}

const publishTimeout = 5 * time.Second

// Bus fans events out to sinks. Emit never blocks: when the queue is full
// the event is dropped and counted.
type Bus struct {
	queue   chan Event
	mu      sync.RWMutex
	sinks   []Sink
	seq     atomic.Uint64
	dropped atomic.Uint64
	log     *zap.SugaredLogger
}

func NewBus(size int, log *zap.SugaredLogger) *Bus {
	if size <= 0 {
		size = 4096
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Bus{queue: make(chan Event, size), log: log}
}

func (b *Bus) Register(s Sink) {
	b.mu.Lock()
	b.sinks = append(b.sinks, s)
	b.mu.Unlock()
	b.log.Infow("event_sink_registered", "sink", s.Name())
}

// Emit assigns the next sequence number and queues e. It reports false if
// the event was dropped.
func (b *Bus) Emit(e Event) bool {
	e.Seq = b.seq.Add(1)
	select {
	case b.queue <- e:
		return true
	default:
		n := b.dropped.Add(1)
		b.log.Warnw("event_dropped", "kind", e.Kind, "seq", e.Seq, "dropped_total", n)
		return false
	}
}

func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Run delivers queued events until ctx is done.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-b.queue:
			b.deliver(ctx, e)
		}
	}
}

func (b *Bus) deliver(ctx context.Context, e Event) {
	b.mu.RLock()
	sinks := b.sinks
	b.mu.RUnlock()

	for _, s := range sinks {
		pctx, cancel := context.WithTimeout(ctx, publishTimeout)
		if err := s.Publish(pctx, e); err != nil {
			b.log.Warnw("event_publish_failed", "sink", s.Name(), "kind", e.Kind, "seq", e.Seq, "err", err)
		}
		cancel()
	}
}
