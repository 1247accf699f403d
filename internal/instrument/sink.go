package instrument

import (
	"sync"
	"time"

	"datagrid-backend/internal/logger"
)

// Sink receives finished events.
type Sink interface {
	Record(Event)
}

// Sinks fans an event out to several sinks.
type Sinks []Sink

func (s Sinks) Record(e Event) {
	for _, sink := range s {
		sink.Record(e)
	}
}

// LogSink writes events to the process logger. Spans slower than Slow are
// logged at warn level, the rest at debug.
type LogSink struct {
	Slow time.Duration
}

func (l LogSink) Record(e Event) {
	log := logger.Get()
	ev := log.Debug()
	if e.EventType == "business" {
		ev = log.Info()
	} else if l.Slow > 0 && e.DurationMs >= float64(l.Slow.Milliseconds()) {
		ev = log.Warn()
	}
	ev = ev.Str("trace_id", e.TraceID).
		Str("span_id", e.SpanID).
		Str("source", e.Source).
		Str("component", e.Component).
		Float64("duration_ms", e.DurationMs)
	if e.Table != "" {
		ev = ev.Str("table", e.Table)
	}
	if e.Status != "" {
		ev = ev.Str("status", e.Status)
	}
	if len(e.Metadata) > 0 {
		ev = ev.Fields(e.Metadata)
	}
	ev.Msg(e.Action)
}

// Recorder keeps the most recent events in a fixed-size ring for the admin
// events endpoint.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	next   int
	full   bool
}

func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = 500
	}
	return &Recorder{events: make([]Event, size)}
}

func (r *Recorder) Record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[r.next] = e
	r.next++
	if r.next == len(r.events) {
		r.next = 0
		r.full = true
	}
}

// Recent returns up to n events, newest first. n <= 0 returns all.
func (r *Recorder) Recent(n int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := r.next
	if r.full {
		count = len(r.events)
	}
	if n <= 0 || n > count {
		n = count
	}
	out := make([]Event, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.events)) % len(r.events)
		out = append(out, r.events[idx])
	}
	return out
}

// Len returns the number of stored events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.events)
	}
	return r.next
}
