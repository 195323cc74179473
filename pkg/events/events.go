// Package events implements the fire-and-forget event sink consumed by the
// orchestrator. Emission must never block or fail the orchestration path, so
// the default sink is a bounded queue drained by a single goroutine; when the
// queue is full the event is dropped and accounted, never waited on.
package events

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"avatarchat/pkg/logger"
	"avatarchat/pkg/telemetry"
)

// Sink receives named state-transition events with structured fields.
type Sink interface {
	Emit(name string, fields ...zap.Field)
}

const defaultQueueCapacity = 4096

type event struct {
	name   string
	fields []zap.Field
}

var eventPool = sync.Pool{New: func() any { return &event{} }}

// LogSink is the default Sink: events become zap log entries.
//
// mu makes Emit safe against a concurrent Close: emitters hold the read
// side across the channel send, so Close cannot close the channel under
// an in-flight send.
type LogSink struct {
	mu     sync.RWMutex
	ch     chan *event
	closed bool

	dropped   uint64
	closeOnce sync.Once
	done      chan struct{}
}

// NewLogSink starts a sink draining into the global logger. capacity <= 0
// selects the default.
func NewLogSink(capacity int) *LogSink {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	s := &LogSink{ch: make(chan *event, capacity), done: make(chan struct{})}
	go s.drain()
	return s
}

// Emit enqueues the event without blocking. Full queue or closed sink drops
// the event.
func (s *LogSink) Emit(name string, fields ...zap.Field) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	ev := eventPool.Get().(*event)
	ev.name = name
	ev.fields = append(ev.fields[:0], fields...)
	select {
	case s.ch <- ev:
	default:
		ev.fields = nil
		eventPool.Put(ev)
		atomic.AddUint64(&s.dropped, 1)
		telemetry.EventsDropped.Inc()
	}
}

func (s *LogSink) drain() {
	defer close(s.done)
	for ev := range s.ch {
		logger.Log.Info(ev.name, ev.fields...)
		ev.fields = nil
		eventPool.Put(ev)
	}
}

// Dropped returns the number of events discarded so far.
func (s *LogSink) Dropped() uint64 { return atomic.LoadUint64(&s.dropped) }

// Close stops the sink after draining queued events. Emit calls after Close
// are silently ignored.
func (s *LogSink) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.ch)
		<-s.done
	})
}

// Nop is a Sink that discards everything; handy default for tests and
// library consumers that do not care about events.
type Nop struct{}

func (Nop) Emit(string, ...zap.Field) {}
