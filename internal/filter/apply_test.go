package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testZone = time.FixedZone("UTC+5", 5*3600)
	testNow  = time.Date(2024, 3, 15, 10, 0, 0, 0, testZone)
)

func TestApply_BetweenNumber(t *testing.T) {
	row := map[string]any{"amount": 150}
	f := Filter{ID: "amount", Operator: "isBetween", Value: []any{100, 200}, Variant: VariantNumber}
	assert.True(t, Apply(row, f, testNow))

	f.Operator = "between"
	assert.True(t, Apply(row, f, testNow), "alias should resolve")

	f.Value = []any{160, 200}
	assert.False(t, Apply(row, f, testNow))
}

func TestApply_BetweenInclusive(t *testing.T) {
	f := Filter{ID: "n", Operator: OpIsBetween, Value: []any{10, 20}, Variant: VariantRange}
	assert.True(t, Apply(map[string]any{"n": 10}, f, testNow))
	assert.True(t, Apply(map[string]any{"n": 20}, f, testNow))
	assert.True(t, Apply(map[string]any{"n": "20"}, f, testNow))
	assert.False(t, Apply(map[string]any{"n": 20.0001}, f, testNow))
}

func TestApply_BetweenOpenEnded(t *testing.T) {
	row := map[string]any{"n": 5}
	assert.True(t, Apply(row, Filter{ID: "n", Operator: OpIsBetween, Value: []any{nil, 10}, Variant: VariantNumber}, testNow))
	assert.True(t, Apply(row, Filter{ID: "n", Operator: OpIsBetween, Value: []any{1, ""}, Variant: VariantNumber}, testNow))
	assert.False(t, Apply(row, Filter{ID: "n", Operator: OpIsBetween, Value: []any{6, nil}, Variant: VariantNumber}, testNow))
	assert.True(t, Apply(row, Filter{ID: "n", Operator: OpIsBetween, Value: []any{nil, nil}, Variant: VariantNumber}, testNow))
}

func TestApply_BetweenMalformed(t *testing.T) {
	row := map[string]any{"n": 5}
	for _, value := range []any{nil, 5, []any{1}, []any{1, 2, 3}, []any{"a", 10}} {
		f := Filter{ID: "n", Operator: OpIsBetween, Value: value, Variant: VariantNumber}
		assert.False(t, Apply(row, f, testNow), "value %v", value)
	}
}

func TestApply_BetweenDates(t *testing.T) {
	f := Filter{ID: "d", Operator: OpIsBetween, Value: []string{"2024-03-01", "2024-03-10"}, Variant: VariantDateRange}
	assert.True(t, Apply(map[string]any{"d": "2024-03-10"}, f, testNow))
	assert.True(t, Apply(map[string]any{"d": time.Date(2024, 3, 10, 23, 59, 0, 0, testZone)}, f, testNow))
	assert.False(t, Apply(map[string]any{"d": "2024-03-11"}, f, testNow))
	assert.False(t, Apply(map[string]any{"d": "not a date"}, f, testNow))
}

func TestApplyAll_JoinOperators(t *testing.T) {
	row := map[string]any{"status": "active"}
	filters := []Filter{
		{ID: "status", Operator: OpEq, Value: "active"},
		{ID: "status", Operator: OpEq, Value: "closed"},
	}
	assert.True(t, ApplyAll(row, filters, JoinOr, testNow))
	assert.False(t, ApplyAll(row, filters, JoinAnd, testNow))
	assert.False(t, ApplyAll(row, filters, "xor", testNow))
}

func TestApplyAll_EmptySetIsTrue(t *testing.T) {
	rows := []map[string]any{nil, {}, {"a": 1}}
	for _, row := range rows {
		assert.True(t, ApplyAll(row, nil, JoinAnd, testNow))
		assert.True(t, ApplyAll(row, []Filter{}, JoinOr, testNow))
		assert.True(t, ApplyAll(row, nil, "", testNow))
	}
}

func TestApply_EqualitySymmetry(t *testing.T) {
	rows := []map[string]any{
		{"v": "active"},
		{"v": 10},
		{"v": "10"},
		{"v": true},
		{"v": []any{"a", "b"}},
		{"v": "2024-03-15"},
	}
	operands := []any{"active", 10, "10", 10.0, true, "a", "2024-03-15"}
	variants := []Variant{"", VariantText, VariantNumber, VariantBoolean, VariantDate, VariantSelect, VariantMultiSelect}

	for _, row := range rows {
		for _, operand := range operands {
			for _, variant := range variants {
				eq := Apply(row, Filter{ID: "v", Operator: OpEq, Value: operand, Variant: variant}, testNow)
				ne := Apply(row, Filter{ID: "v", Operator: OpNe, Value: operand, Variant: variant}, testNow)
				if !eq && !ne {
					// operand could not be coerced for this variant
					continue
				}
				assert.NotEqual(t, eq, ne, "row=%v operand=%v variant=%q", row, operand, variant)
			}
		}
	}
}

func TestApply_EqualityCoercion(t *testing.T) {
	assert.True(t, Apply(map[string]any{"n": "10"}, Filter{ID: "n", Operator: OpEq, Value: 10.0, Variant: VariantNumber}, testNow))
	assert.True(t, Apply(map[string]any{"n": "10.0"}, Filter{ID: "n", Operator: OpEq, Value: "10"}, testNow))
	assert.True(t, Apply(map[string]any{"b": "yes"}, Filter{ID: "b", Operator: OpEq, Value: true, Variant: VariantBoolean}, testNow))
	assert.True(t, Apply(map[string]any{"b": false}, Filter{ID: "b", Operator: OpEq, Value: "false"}, testNow))
	assert.False(t, Apply(map[string]any{"n": "abc"}, Filter{ID: "n", Operator: OpEq, Value: 10, Variant: VariantNumber}, testNow))
	assert.False(t, Apply(map[string]any{"n": "abc"}, Filter{ID: "n", Operator: OpNe, Value: "x", Variant: VariantNumber}, testNow))
}

func TestApply_EqualityDateUsesDay(t *testing.T) {
	// 23:30 UTC on the 15th is already the 16th in UTC+5.
	row := map[string]any{"d": time.Date(2024, 3, 15, 23, 30, 0, 0, time.UTC)}
	assert.True(t, Apply(row, Filter{ID: "d", Operator: OpEq, Value: "2024-03-16", Variant: VariantDate}, testNow))
	assert.False(t, Apply(row, Filter{ID: "d", Operator: OpEq, Value: "2024-03-15", Variant: VariantDate}, testNow))
}

func TestApply_MissingKey(t *testing.T) {
	row := map[string]any{}
	assert.False(t, Apply(row, Filter{ID: "x", Operator: OpEq, Value: "a"}, testNow))
	assert.True(t, Apply(row, Filter{ID: "x", Operator: OpNe, Value: "a"}, testNow))
	assert.True(t, Apply(row, Filter{ID: "x", Operator: OpIsEmpty}, testNow))
	assert.False(t, Apply(row, Filter{ID: "x", Operator: OpGt, Value: 1}, testNow))
	assert.True(t, Apply(nil, Filter{ID: "x", Operator: OpIsEmpty}, testNow))
}

func TestApply_CaseInsensitiveContains(t *testing.T) {
	row := map[string]any{"title": "Hello World"}
	assert.True(t, Apply(row, Filter{ID: "title", Operator: "contains", Value: "hello", Variant: VariantText}, testNow))
	assert.True(t, Apply(row, Filter{ID: "title", Operator: OpILike, Value: "WORLD"}, testNow))
	assert.False(t, Apply(row, Filter{ID: "title", Operator: OpNotILike, Value: "wOrLd"}, testNow))
	assert.True(t, Apply(row, Filter{ID: "title", Operator: "notContains", Value: "bye"}, testNow))
}

func TestApply_ContainsOnArrayRow(t *testing.T) {
	row := map[string]any{"tags": []string{"Alpha", "Beta"}}
	assert.True(t, Apply(row, Filter{ID: "tags", Operator: OpILike, Value: "bet"}, testNow))
	assert.False(t, Apply(row, Filter{ID: "tags", Operator: OpILike, Value: "gamma"}, testNow))
	assert.True(t, Apply(row, Filter{ID: "tags", Operator: OpEq, Value: "Alpha"}, testNow))
}

func TestApply_InArray(t *testing.T) {
	row := map[string]any{"tags": []any{"a", "b", "c"}}
	assert.True(t, Apply(row, Filter{ID: "tags", Operator: "in", Value: []any{"b"}, Variant: VariantMultiSelect}, testNow))
	assert.False(t, Apply(row, Filter{ID: "tags", Operator: "in", Value: []any{"z"}, Variant: VariantMultiSelect}, testNow))
	assert.True(t, Apply(row, Filter{ID: "tags", Operator: "notIn", Value: []any{"z"}, Variant: VariantMultiSelect}, testNow))
	assert.False(t, Apply(row, Filter{ID: "tags", Operator: OpInArray, Value: []any{}, Variant: VariantMultiSelect}, testNow))

	scalar := map[string]any{"site": 1}
	assert.True(t, Apply(scalar, Filter{ID: "site", Operator: OpInArray, Value: []string{"1", "2"}, Variant: VariantSelect}, testNow))
	assert.True(t, Apply(scalar, Filter{ID: "site", Operator: OpInArray, Value: "1", Variant: VariantSelect}, testNow))
	assert.False(t, Apply(scalar, Filter{ID: "site", Operator: OpInArray, Value: nil, Variant: VariantSelect}, testNow))
	assert.False(t, Apply(scalar, Filter{ID: "site", Operator: OpNotInArray, Value: nil, Variant: VariantSelect}, testNow))
}

func TestApply_Comparisons(t *testing.T) {
	row := map[string]any{"n": "42", "d": "2024-03-10"}
	cases := []struct {
		f    Filter
		want bool
	}{
		{Filter{ID: "n", Operator: OpGt, Value: 41, Variant: VariantNumber}, true},
		{Filter{ID: "n", Operator: OpGte, Value: "42", Variant: VariantNumber}, true},
		{Filter{ID: "n", Operator: OpLt, Value: 42, Variant: VariantNumber}, false},
		{Filter{ID: "n", Operator: OpLte, Value: 42}, true},
		{Filter{ID: "n", Operator: OpGt, Value: "abc", Variant: VariantNumber}, false},
		{Filter{ID: "d", Operator: OpLt, Value: "2024-03-11", Variant: VariantDate}, true},
		{Filter{ID: "d", Operator: OpLte, Value: "2024-03-10", Variant: VariantDate}, true},
		{Filter{ID: "d", Operator: OpGt, Value: "2024-03-10"}, false},
		{Filter{ID: "d", Operator: OpGt, Value: "2024-03-09"}, true},
		{Filter{ID: "n", Operator: OpGt, Value: 1, Variant: VariantText}, false},
		{Filter{ID: "n", Operator: OpGt, Value: []any{1}, Variant: VariantNumber}, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Apply(row, tc.f, testNow), "%+v", tc.f)
	}
}

func TestApply_RelativeToToday(t *testing.T) {
	f := Filter{ID: "d", Operator: OpIsRelativeToToday, Value: "7", Variant: VariantDate}
	cases := map[string]bool{
		"2024-03-15": true,
		"2024-03-08": true,
		"2024-03-07": false,
		"2024-03-16": false,
		"":           false,
	}
	for value, want := range cases {
		assert.Equal(t, want, Apply(map[string]any{"d": value}, f, testNow), value)
	}

	f.Value = -3
	assert.True(t, Apply(map[string]any{"d": "2024-03-18"}, f, testNow))
	assert.False(t, Apply(map[string]any{"d": "2024-03-14"}, f, testNow))

	// huge counts are clamped instead of overflowing
	f.Value = 1e300
	assert.True(t, Apply(map[string]any{"d": "2024-03-08"}, f, testNow))
	assert.False(t, Apply(map[string]any{"d": "2024-03-16"}, f, testNow))
	f.Value = -1e300
	assert.True(t, Apply(map[string]any{"d": "2024-03-18"}, f, testNow))
	assert.False(t, Apply(map[string]any{"d": "2024-03-14"}, f, testNow))
	f.Value = "NaN"
	assert.False(t, Apply(map[string]any{"d": "2024-03-15"}, f, testNow))

	f.Value = "seven"
	assert.False(t, Apply(map[string]any{"d": "2024-03-15"}, f, testNow))
}

func TestApply_RelativeDependsOnlyOnNow(t *testing.T) {
	row := map[string]any{"d": "2024-03-10"}
	f := Filter{ID: "d", Operator: "lastNDays", Value: "7", Variant: VariantDate}

	first := Apply(row, f, testNow)
	second := Apply(row, f, testNow)
	require.Equal(t, first, second)
	assert.True(t, first)

	later := testNow.AddDate(0, 0, 10)
	assert.False(t, Apply(row, f, later))
}

func TestApply_IsEmpty(t *testing.T) {
	empties := []any{nil, "", "   ", []any{}, []string{}}
	for _, v := range empties {
		row := map[string]any{"v": v}
		assert.True(t, Apply(row, Filter{ID: "v", Operator: OpIsEmpty}, testNow), "%#v", v)
		assert.False(t, Apply(row, Filter{ID: "v", Operator: OpIsNotEmpty}, testNow), "%#v", v)
	}
	for _, v := range []any{0, false, "x", []any{nil}} {
		row := map[string]any{"v": v}
		assert.False(t, Apply(row, Filter{ID: "v", Operator: OpIsEmpty}, testNow), "%#v", v)
	}
}

func TestApply_FailsClosed(t *testing.T) {
	row := map[string]any{"v": "x"}
	assert.False(t, Apply(row, Filter{ID: "v", Operator: "bogus", Value: "x"}, testNow))
	assert.False(t, Apply(row, Filter{ID: "v", Operator: OpEq, Value: "x", Variant: "bogus"}, testNow))
	assert.False(t, Apply(row, Filter{ID: "v", Operator: OpILike, Value: "x", Variant: VariantNumber}, testNow))
	assert.False(t, Apply(row, Filter{ID: "v", Operator: OpIsRelativeToToday, Value: 1, Variant: VariantText}, testNow))
	// isEmpty is legal for every variant; illegal pairs still fail closed.
	assert.False(t, Apply(map[string]any{}, Filter{ID: "v", Operator: OpIsBetween, Variant: VariantBoolean}, testNow))
}

func TestApply_Totality(t *testing.T) {
	variants := append(Variants(), "", "bogus")
	operators := append(append([]Operator{}, allOperators...), "bogus", "NE", "between")
	values := []any{
		nil, "", "x", "42", 42, -1.5, true, time.Time{}, testNow,
		[]any{}, []any{1}, []any{nil, nil}, []any{"a", 1, true}, []string{"a"},
		map[string]any{"a": 1}, struct{ A int }{1}, []byte("raw"), []int{1, 2},
	}

	for _, variant := range variants {
		for _, op := range operators {
			for _, rowValue := range values {
				for _, operand := range values {
					row := map[string]any{"v": rowValue}
					f := Filter{ID: "v", Operator: op, Value: operand, Variant: variant}
					assert.NotPanics(t, func() { Apply(row, f, testNow) })
				}
			}
		}
	}
}
