package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroup_Nested(t *testing.T) {
	// status = active AND (amount > 100 OR tags in [vip])
	g := Group{
		Join: JoinAnd,
		Filters: []Filter{
			{ID: "status", Operator: OpEq, Value: "active", Variant: VariantSelect},
		},
		Groups: []Group{{
			Join: JoinOr,
			Filters: []Filter{
				{ID: "amount", Operator: OpGt, Value: 100, Variant: VariantNumber},
				{ID: "tags", Operator: OpInArray, Value: []any{"vip"}, Variant: VariantMultiSelect},
			},
		}},
	}

	assert.True(t, g.Eval(map[string]any{"status": "active", "amount": 150}, testNow))
	assert.True(t, g.Eval(map[string]any{"status": "active", "amount": 5, "tags": []string{"vip"}}, testNow))
	assert.False(t, g.Eval(map[string]any{"status": "active", "amount": 5}, testNow))
	assert.False(t, g.Eval(map[string]any{"status": "closed", "amount": 500}, testNow))
}

func TestGroup_Not(t *testing.T) {
	g := Group{Not: true, Filters: []Filter{{ID: "status", Operator: OpEq, Value: "archived"}}}
	assert.True(t, g.Eval(map[string]any{"status": "active"}, testNow))
	assert.False(t, g.Eval(map[string]any{"status": "archived"}, testNow))

	assert.True(t, Group{}.Eval(nil, testNow))
	assert.False(t, Group{Not: true}.Eval(nil, testNow))
}

func TestGroup_UnknownJoinFailsClosedEvenNegated(t *testing.T) {
	g := Group{Join: "xor", Not: true, Filters: []Filter{{ID: "a", Operator: OpIsEmpty}}}
	assert.False(t, g.Eval(map[string]any{}, testNow))
}

func TestFilterSet_GroupMatchesApplyAll(t *testing.T) {
	rows := []map[string]any{
		{"status": "active", "n": 1},
		{"status": "closed", "n": 2},
		{},
	}
	sets := []FilterSet{
		{},
		{JoinOperator: JoinOr},
		{Filters: []Filter{{ID: "status", Operator: OpEq, Value: "active"}, {ID: "n", Operator: OpGt, Value: 1}}, JoinOperator: JoinOr},
		{Filters: []Filter{{ID: "status", Operator: OpEq, Value: "active"}, {ID: "n", Operator: OpGt, Value: 1}}, JoinOperator: JoinAnd},
	}
	for _, s := range sets {
		for _, row := range rows {
			assert.Equal(t, ApplyAll(row, s.Filters, s.JoinOperator, testNow), s.Group().Eval(row, testNow))
		}
	}
}

func TestAnd_DropsEmptyGroups(t *testing.T) {
	g := And(Group{}, Group{Filters: []Filter{{ID: "a", Operator: OpEq, Value: 1}}}, Group{})
	require.Len(t, g.Groups, 1)
	assert.True(t, g.Eval(map[string]any{"a": "1"}, testNow))
	assert.True(t, And().Eval(map[string]any{}, testNow))
}

func TestGroup_Columns(t *testing.T) {
	g := Group{
		Filters: []Filter{{ID: "a"}, {ID: "b"}},
		Groups:  []Group{{Filters: []Filter{{ID: "a"}, {ID: "c"}}}},
	}
	assert.Equal(t, []string{"a", "b", "c"}, g.Columns())
}

func TestEvaluator_SnapshotsClockOncePerBatch(t *testing.T) {
	calls := 0
	base := time.Date(2024, 3, 15, 23, 59, 59, 0, time.UTC)
	clock := ClockFunc(func() time.Time {
		calls++
		// every call crosses midnight
		return base.Add(time.Duration(calls) * 24 * time.Hour)
	})
	ev := NewEvaluator(clock)

	rows := []map[string]any{
		{"d": "2024-03-16"},
		{"d": "2024-03-16"},
		{"d": "2024-03-16"},
	}
	g := Group{Filters: []Filter{{ID: "d", Operator: OpIsRelativeToToday, Value: 0, Variant: VariantDate}}}

	out := ev.FilterRows(rows, g)
	assert.Len(t, out, 3)
	assert.Equal(t, 1, calls)
}

func TestEvaluator_FixedClock(t *testing.T) {
	ev := NewEvaluator(FixedClock(testNow))
	row := map[string]any{"d": "2024-03-14"}
	g := Group{Filters: []Filter{{ID: "d", Operator: OpIsRelativeToToday, Value: "1", Variant: VariantDate}}}
	assert.True(t, ev.Match(row, g))
	assert.True(t, ev.MatchSet(row, FilterSet{Filters: g.Filters}))
	assert.Equal(t, testNow, ev.Now())

	assert.NotNil(t, NewEvaluator(nil).Now())
}
