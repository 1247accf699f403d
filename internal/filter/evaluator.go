package filter

import "time"

// Clock supplies the reference instant for relative date filters.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock in the local zone.
var SystemClock Clock = ClockFunc(time.Now)

// FixedClock always returns t.
func FixedClock(t time.Time) Clock {
	return ClockFunc(func() time.Time { return t })
}

// Evaluator binds the filter functions to a clock. Each call samples the
// clock once, so every row of a batch sees the same "today".
type Evaluator struct {
	clock Clock
}

func NewEvaluator(clock Clock) *Evaluator {
	if clock == nil {
		clock = SystemClock
	}
	return &Evaluator{clock: clock}
}

func (e *Evaluator) Now() time.Time {
	return e.clock.Now()
}

// Match evaluates a filter group against a single row.
func (e *Evaluator) Match(row map[string]any, g Group) bool {
	return g.Eval(row, e.clock.Now())
}

// MatchSet evaluates a flat filter set against a single row.
func (e *Evaluator) MatchSet(row map[string]any, s FilterSet) bool {
	return ApplyAll(row, s.Filters, s.JoinOperator, e.clock.Now())
}

// FilterRows returns the rows that satisfy g, preserving order.
func (e *Evaluator) FilterRows(rows []map[string]any, g Group) []map[string]any {
	if g.IsEmpty() && !g.Not {
		return rows
	}
	now := e.clock.Now()
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		if g.Eval(row, now) {
			out = append(out, row)
		}
	}
	return out
}
