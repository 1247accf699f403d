package instrument

import "context"

// NoopInstrumenter discards all spans. Used when instrumentation is disabled
// or when the request is sampled out.
type NoopInstrumenter struct{}

func (n *NoopInstrumenter) StartSpan(ctx context.Context, _, _, _ string) (context.Context, Span) {
	return ctx, noopSpan{}
}

func (n *NoopInstrumenter) EmitBusinessEvent(context.Context, string, string, string, map[string]any) {
}

type noopSpan struct{}

func (noopSpan) End()                    {}
func (noopSpan) SetStatus(string)        {}
func (noopSpan) SetMetadata(string, any) {}
func (noopSpan) SetTable(string, string) {}
func (noopSpan) TraceID() string         { return "" }
func (noopSpan) SpanID() string          { return "" }
