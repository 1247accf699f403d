package instrument

import (
	"errors"
	"math"
	"sort"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"datagrid-backend/internal/filter"
)

// eventColumns lists the filterable event columns and their variants.
var eventColumns = map[string]filter.Variant{
	"trace_id":    filter.VariantText,
	"span_id":     filter.VariantText,
	"event_type":  filter.VariantSelect,
	"source":      filter.VariantSelect,
	"component":   filter.VariantText,
	"action":      filter.VariantText,
	"table":       filter.VariantText,
	"record_id":   filter.VariantText,
	"user_id":     filter.VariantText,
	"status":      filter.VariantSelect,
	"duration_ms": filter.VariantNumber,
	"created_at":  filter.VariantDate,
}

// EventHandler exposes REST endpoints for querying and emitting events.
type EventHandler struct {
	recorder *Recorder
	eval     *filter.Evaluator
}

// NewEventHandler creates an EventHandler over the recorder's in-memory ring.
func NewEventHandler(recorder *Recorder, eval *filter.Evaluator) *EventHandler {
	if eval == nil {
		eval = filter.NewEvaluator(nil)
	}
	return &EventHandler{recorder: recorder, eval: eval}
}

// RegisterEventRoutes mounts /_events on api. Emit is open to any caller
// that passed api's middleware; reads additionally go through adminOnly.
func RegisterEventRoutes(api fiber.Router, h *EventHandler, adminOnly ...fiber.Handler) {
	api.Post("/_events", h.Emit)
	reads := api.Group("/_events", adminOnly...)
	reads.Get("/stats", h.GetStats)
	reads.Get("/trace/:traceId", h.GetTrace)
	reads.Get("/", h.List)
}

// Emit handles POST /_events: a custom business event from any authenticated user.
func (h *EventHandler) Emit(c *fiber.Ctx) error {
	var body struct {
		Action   string         `json:"action"`
		Table    string         `json:"table"`
		RecordID string         `json:"record_id"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": fiber.Map{"code": "INVALID_PAYLOAD", "message": "Invalid JSON body"}})
	}

	if body.Action == "" {
		return c.Status(422).JSON(fiber.Map{"error": fiber.Map{"code": "VALIDATION_FAILED", "message": "action is required"}})
	}

	inst := GetInstrumenter(c.UserContext())
	inst.EmitBusinessEvent(c.UserContext(), body.Action, body.Table, body.RecordID, body.Metadata)

	return c.JSON(fiber.Map{"data": fiber.Map{"status": "ok"}})
}

// List handles GET /_events: recent events narrowed by filter[col.op] params.
func (h *EventHandler) List(c *fiber.Ctx) error {
	set, err := filter.ParseQuery(c.Queries(), func(col string) (filter.Variant, bool) {
		v, ok := eventColumns[col]
		return v, ok
	})
	if err != nil {
		code := "INVALID_PAYLOAD"
		if errors.Is(err, filter.ErrUnknownColumn) {
			code = "UNKNOWN_FIELD"
		}
		return c.Status(400).JSON(fiber.Map{"error": fiber.Map{"code": code, "message": err.Error()}})
	}

	// Pagination
	page, _ := strconv.Atoi(c.Query("page", "1"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(c.Query("per_page", "50"))
	if perPage < 1 {
		perPage = 50
	}
	if perPage > 100 {
		perPage = 100
	}

	events := h.recorder.Recent(0)
	if c.Query("sort") == "created_at" {
		// Recent is newest first
		for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
			events[i], events[j] = events[j], events[i]
		}
	}

	matched := make([]Event, 0, len(events))
	group := set.Group()
	now := h.eval.Now()
	for _, e := range events {
		if group.Eval(e.Row(), now) {
			matched = append(matched, e)
		}
	}

	total := len(matched)
	start := min((page-1)*perPage, total)
	end := min(start+perPage, total)

	return c.JSON(fiber.Map{
		"data": matched[start:end],
		"pagination": fiber.Map{
			"page":     page,
			"per_page": perPage,
			"total":    total,
		},
	})
}

// GetTrace handles GET /_events/trace/:traceId as a waterfall.
func (h *EventHandler) GetTrace(c *fiber.Ctx) error {
	traceID := c.Params("traceId")
	if traceID == "" {
		return c.Status(422).JSON(fiber.Map{"error": fiber.Map{"code": "VALIDATION_FAILED", "message": "trace_id is required"}})
	}

	var spans []Event
	for _, e := range h.recorder.Recent(0) {
		if e.TraceID == traceID {
			spans = append(spans, e)
		}
	}
	if len(spans) == 0 {
		return c.Status(404).JSON(fiber.Map{"error": fiber.Map{"code": "NOT_FOUND", "message": "Trace not found: " + traceID}})
	}
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].CreatedAt.Before(spans[j].CreatedAt) })

	children := make(map[string][]Event, len(spans))
	known := make(map[string]bool, len(spans))
	for _, s := range spans {
		known[s.SpanID] = true
	}
	var root *Event
	for i, s := range spans {
		if s.ParentSpanID != "" && known[s.ParentSpanID] {
			children[s.ParentSpanID] = append(children[s.ParentSpanID], s)
			continue
		}
		if root == nil {
			root = &spans[i]
		}
	}

	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"trace_id":          traceID,
			"root_span":         root,
			"spans":             spans,
			"children":          children,
			"total_duration_ms": root.DurationMs,
		},
	})
}

// SourceStats summarizes the spans of one source.
type SourceStats struct {
	Source        string  `json:"source"`
	Count         int     `json:"count"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	P95DurationMs float64 `json:"p95_duration_ms"`
	ErrorCount    int     `json:"error_count"`
}

// Stats summarizes a slice of events.
type Stats struct {
	TotalEvents  int           `json:"total_events"`
	AvgLatencyMs float64       `json:"avg_latency_ms"`
	P95LatencyMs float64       `json:"p95_latency_ms"`
	ErrorRate    float64       `json:"error_rate"`
	BySource     []SourceStats `json:"by_source"`
}

// GetStats handles GET /_events/stats
func (h *EventHandler) GetStats(c *fiber.Ctx) error {
	events := h.recorder.Recent(0)
	if table := c.Query("table"); table != "" {
		kept := events[:0]
		for _, e := range events {
			if e.Table == table {
				kept = append(kept, e)
			}
		}
		events = kept
	}
	return c.JSON(fiber.Map{"data": Summarize(events)})
}

// Summarize computes latency and error statistics. Business events count
// towards totals but carry no duration.
func Summarize(events []Event) Stats {
	stats := Stats{TotalEvents: len(events), BySource: []SourceStats{}}
	if len(events) == 0 {
		return stats
	}

	var all []float64
	errorCount := 0
	bySource := map[string][]Event{}
	for _, e := range events {
		if e.Status == "error" {
			errorCount++
		}
		if e.EventType != "business" {
			all = append(all, e.DurationMs)
			bySource[e.Source] = append(bySource[e.Source], e)
		}
	}
	stats.AvgLatencyMs, stats.P95LatencyMs = latency(all)
	// Round to 4 decimal places
	stats.ErrorRate = math.Round(float64(errorCount)/float64(len(events))*10000) / 10000

	for source, evs := range bySource {
		s := SourceStats{Source: source, Count: len(evs)}
		durations := make([]float64, 0, len(evs))
		for _, e := range evs {
			durations = append(durations, e.DurationMs)
			if e.Status == "error" {
				s.ErrorCount++
			}
		}
		s.AvgDurationMs, s.P95DurationMs = latency(durations)
		stats.BySource = append(stats.BySource, s)
	}
	sort.Slice(stats.BySource, func(i, j int) bool {
		if stats.BySource[i].Count != stats.BySource[j].Count {
			return stats.BySource[i].Count > stats.BySource[j].Count
		}
		return stats.BySource[i].Source < stats.BySource[j].Source
	})
	return stats
}

func latency(durations []float64) (avg, p95 float64) {
	if len(durations) == 0 {
		return 0, 0
	}
	sorted := make([]float64, len(durations))
	copy(sorted, durations)
	sort.Float64s(sorted)
	sum := 0.0
	for _, d := range sorted {
		sum += d
	}
	idx := int(float64(len(sorted)) * 0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sum / float64(len(sorted)), sorted[idx]
}
