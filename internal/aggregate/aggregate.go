package aggregate

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"
)

type Metric string

const (
	MetricCount         Metric = "count"
	MetricCountDistinct Metric = "count_distinct"
	MetricSum           Metric = "sum"
	MetricAvg           Metric = "avg"
	MetricMin           Metric = "min"
	MetricMax           Metric = "max"
)

type Bucket string

const (
	BucketNone  Bucket = ""
	BucketDay   Bucket = "day"
	BucketWeek  Bucket = "week"
	BucketMonth Bucket = "month"
	BucketYear  Bucket = "year"
)

// BlankLabel groups rows without a value.
const BlankLabel = "(blank)"

// Card asks for one number over a set of rows.
type Card struct {
	Metric Metric `json:"metric"`
	// Column is required for every metric but count.
	Column string `json:"column,omitempty"`
}

// CardResult is the computed card value. Value is nil when no row carried a
// usable value, e.g. avg over an empty set.
type CardResult struct {
	Metric Metric   `json:"metric"`
	Column string   `json:"column,omitempty"`
	Value  *float64 `json:"value"`
	Rows   int      `json:"rows"`
}

func (c Card) Validate() error {
	if !known(c.Metric) {
		return fmt.Errorf("unknown metric %q", c.Metric)
	}
	if c.Metric != MetricCount && c.Column == "" {
		return fmt.Errorf("metric %s needs a column", c.Metric)
	}
	return nil
}

// Compute folds rows into the card value.
func (c Card) Compute(rows []map[string]any) (CardResult, error) {
	if err := c.Validate(); err != nil {
		return CardResult{}, err
	}
	acc := newAccumulator(c.Metric)
	for _, row := range rows {
		if c.Column == "" {
			acc.addRow()
			continue
		}
		acc.add(row[c.Column])
	}
	return CardResult{Metric: c.Metric, Column: c.Column, Value: acc.result(), Rows: len(rows)}, nil
}

// Chart groups rows by a column and computes a metric per group.
type Chart struct {
	GroupBy string `json:"group_by"`
	// Bucket truncates date group values.
	Bucket Bucket `json:"bucket,omitempty"`
	Metric Metric `json:"metric"`
	Column string `json:"column,omitempty"`
	// Sort is "label", "value" or "-value"; the default is label for date
	// buckets and -value otherwise.
	Sort  string `json:"sort,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// Point is one chart group.
type Point struct {
	Key   string   `json:"key"`
	Label string   `json:"label"`
	Value *float64 `json:"value"`
	Rows  int      `json:"rows"`
}

func (c Chart) Validate() error {
	if c.GroupBy == "" {
		return fmt.Errorf("chart needs a group_by column")
	}
	switch c.Bucket {
	case BucketNone, BucketDay, BucketWeek, BucketMonth, BucketYear:
	default:
		return fmt.Errorf("unknown bucket %q", c.Bucket)
	}
	switch c.Sort {
	case "", "label", "value", "-value":
	default:
		return fmt.Errorf("unknown sort %q", c.Sort)
	}
	if c.Limit < 0 {
		return fmt.Errorf("limit must not be negative")
	}
	return Card{Metric: c.Metric, Column: c.Column}.Validate()
}

// Compute groups rows. Array values count towards every element's group.
// label maps a group key onto its display label and may be nil.
func (c Chart) Compute(rows []map[string]any, loc *time.Location, label func(key string) string) ([]Point, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}

	groups := map[string]*accumulator{}
	counts := map[string]int{}
	for _, row := range rows {
		for _, key := range c.keys(row[c.GroupBy], loc) {
			acc, ok := groups[key]
			if !ok {
				acc = newAccumulator(c.Metric)
				groups[key] = acc
			}
			counts[key]++
			if c.Column == "" {
				acc.addRow()
			} else {
				acc.add(row[c.Column])
			}
		}
	}

	points := make([]Point, 0, len(groups))
	for key, acc := range groups {
		p := Point{Key: key, Label: key, Value: acc.result(), Rows: counts[key]}
		if label != nil && key != BlankLabel {
			p.Label = label(key)
		}
		points = append(points, p)
	}

	order := c.Sort
	if order == "" {
		order = "-value"
		if c.Bucket != BucketNone {
			order = "label"
		}
	}
	sort.SliceStable(points, func(i, j int) bool {
		a, b := points[i], points[j]
		switch order {
		case "value", "-value":
			av, bv := deref(a.Value), deref(b.Value)
			if av != bv {
				if order == "value" {
					return av < bv
				}
				return av > bv
			}
		}
		return a.Key < b.Key
	})

	if c.Limit > 0 && len(points) > c.Limit {
		points = points[:c.Limit]
	}
	return points, nil
}

func (c Chart) keys(v any, loc *time.Location) []string {
	var values []any
	switch val := v.(type) {
	case nil:
		return []string{BlankLabel}
	case []any:
		values = val
	case []string:
		for _, s := range val {
			values = append(values, s)
		}
	default:
		values = []any{v}
	}
	if len(values) == 0 {
		return []string{BlankLabel}
	}

	keys := make([]string, 0, len(values))
	for _, item := range values {
		key := c.key(item, loc)
		if key == "" {
			key = BlankLabel
		}
		keys = append(keys, key)
	}
	return keys
}

func (c Chart) key(v any, loc *time.Location) string {
	if c.Bucket == BucketNone {
		return strings.TrimSpace(cast.ToString(v))
	}
	t, err := cast.ToTimeInDefaultLocationE(v, loc)
	if err != nil {
		return ""
	}
	t = t.In(loc)
	switch c.Bucket {
	case BucketWeek:
		// weeks start on Monday
		offset := (int(t.Weekday()) + 6) % 7
		return t.AddDate(0, 0, -offset).Format("2006-01-02")
	case BucketMonth:
		return t.Format("2006-01")
	case BucketYear:
		return t.Format("2006")
	}
	return t.Format("2006-01-02")
}

func known(m Metric) bool {
	switch m {
	case MetricCount, MetricCountDistinct, MetricSum, MetricAvg, MetricMin, MetricMax:
		return true
	}
	return false
}

func deref(v *float64) float64 {
	if v == nil {
		return math.Inf(-1)
	}
	return *v
}

type accumulator struct {
	metric   Metric
	n        int
	sum      float64
	min, max float64
	distinct map[string]struct{}
}

func newAccumulator(m Metric) *accumulator {
	return &accumulator{metric: m, distinct: map[string]struct{}{}}
}

func (a *accumulator) addRow() {
	a.n++
}

func (a *accumulator) add(v any) {
	if v == nil {
		return
	}
	switch a.metric {
	case MetricCount:
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			return
		}
		a.n++
		return
	case MetricCountDistinct:
		a.distinct[cast.ToString(v)] = struct{}{}
		return
	}

	if _, isBool := v.(bool); isBool {
		return
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return
	}
	if a.n == 0 || f < a.min {
		a.min = f
	}
	if a.n == 0 || f > a.max {
		a.max = f
	}
	a.n++
	a.sum += f
}

func (a *accumulator) result() *float64 {
	var v float64
	switch a.metric {
	case MetricCount:
		v = float64(a.n)
	case MetricCountDistinct:
		v = float64(len(a.distinct))
	case MetricSum:
		v = a.sum
	default:
		if a.n == 0 {
			return nil
		}
		switch a.metric {
		case MetricAvg:
			v = a.sum / float64(a.n)
		case MetricMin:
			v = a.min
		case MetricMax:
			v = a.max
		}
	}
	return &v
}
