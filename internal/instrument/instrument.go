package instrument

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Context keys
type ctxKey int

const (
	traceIDKey ctxKey = iota
	parentSpanIDKey
	instrumenterKey
	userIDKey
)

// Instrumenter interface defines the tracing API.
type Instrumenter interface {
	StartSpan(ctx context.Context, source, component, action string) (context.Context, Span)
	EmitBusinessEvent(ctx context.Context, action, table, recordID string, metadata map[string]any)
}

// Span interface represents a timed operation span.
type Span interface {
	End()
	SetStatus(status string)
	SetMetadata(key string, value any)
	SetTable(table, recordID string)
	TraceID() string
	SpanID() string
}

// Event is a finished span or a business event.
type Event struct {
	TraceID      string         `json:"trace_id"`
	SpanID       string         `json:"span_id"`
	ParentSpanID string         `json:"parent_span_id,omitempty"`
	EventType    string         `json:"event_type"`
	Source       string         `json:"source"`
	Component    string         `json:"component"`
	Action       string         `json:"action"`
	Table        string         `json:"table,omitempty"`
	RecordID     string         `json:"record_id,omitempty"`
	UserID       string         `json:"user_id,omitempty"`
	DurationMs   float64        `json:"duration_ms"`
	Status       string         `json:"status,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Row flattens the event for filtering and export.
func (e Event) Row() map[string]any {
	return map[string]any{
		"trace_id":    e.TraceID,
		"span_id":     e.SpanID,
		"event_type":  e.EventType,
		"source":      e.Source,
		"component":   e.Component,
		"action":      e.Action,
		"table":       e.Table,
		"record_id":   e.RecordID,
		"user_id":     e.UserID,
		"duration_ms": e.DurationMs,
		"status":      e.Status,
		"created_at":  e.CreatedAt,
	}
}

func newUUID() string {
	return uuid.New().String()
}

// WithTraceID sets the trace ID in the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// GetTraceID returns the trace ID from the context.
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

func withParentSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, parentSpanIDKey, spanID)
}

func getParentSpanID(ctx context.Context) string {
	if v, ok := ctx.Value(parentSpanIDKey).(string); ok {
		return v
	}
	return ""
}

// WithInstrumenter sets the instrumenter in the context.
func WithInstrumenter(ctx context.Context, inst Instrumenter) context.Context {
	return context.WithValue(ctx, instrumenterKey, inst)
}

// GetInstrumenter returns the instrumenter from the context,
// or a NoopInstrumenter if none is set.
func GetInstrumenter(ctx context.Context) Instrumenter {
	if v, ok := ctx.Value(instrumenterKey).(Instrumenter); ok {
		return v
	}
	return &NoopInstrumenter{}
}

// WithUserID sets the user ID in the context for instrumentation.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func getUserID(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// Tracer is the Instrumenter that hands finished events to a Sink.
type Tracer struct {
	sink Sink
	now  func() time.Time
}

func NewTracer(sink Sink) *Tracer {
	return &Tracer{sink: sink, now: time.Now}
}

// StartSpan creates a new span and returns the updated context.
func (t *Tracer) StartSpan(ctx context.Context, source, component, action string) (context.Context, Span) {
	spanID := newUUID()
	span := &spanImpl{
		event: Event{
			TraceID:      GetTraceID(ctx),
			SpanID:       spanID,
			ParentSpanID: getParentSpanID(ctx),
			EventType:    "system",
			Source:       source,
			Component:    component,
			Action:       action,
			UserID:       getUserID(ctx),
		},
		start:  t.now(),
		tracer: t,
	}
	// child spans reference this span as parent
	return withParentSpanID(ctx, spanID), span
}

// EmitBusinessEvent emits a one-shot business event (no duration tracking).
func (t *Tracer) EmitBusinessEvent(ctx context.Context, action, table, recordID string, metadata map[string]any) {
	t.sink.Record(Event{
		TraceID:      GetTraceID(ctx),
		SpanID:       newUUID(),
		ParentSpanID: getParentSpanID(ctx),
		EventType:    "business",
		Source:       "business",
		Component:    "api",
		Action:       action,
		Table:        table,
		RecordID:     recordID,
		UserID:       getUserID(ctx),
		Metadata:     metadata,
		CreatedAt:    t.now(),
	})
}

type spanImpl struct {
	mu     sync.Mutex
	event  Event
	start  time.Time
	tracer *Tracer
	ended  bool
}

func (s *spanImpl) TraceID() string { return s.event.TraceID }
func (s *spanImpl) SpanID() string  { return s.event.SpanID }

func (s *spanImpl) SetStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.event.Status = status
}

func (s *spanImpl) SetMetadata(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.event.Metadata == nil {
		s.event.Metadata = make(map[string]any)
	}
	s.event.Metadata[key] = value
}

func (s *spanImpl) SetTable(table, recordID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.event.Table = table
	if recordID != "" {
		s.event.RecordID = recordID
	}
}

func (s *spanImpl) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	end := s.tracer.now()
	s.event.DurationMs = float64(end.Sub(s.start).Microseconds()) / 1000.0
	s.event.CreatedAt = end
	event := s.event
	s.mu.Unlock()

	s.tracer.sink.Record(event)
}
