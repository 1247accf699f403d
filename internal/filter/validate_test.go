package filter

import (
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		f       Filter
		wantErr string
	}{
		{"ok", Filter{ID: "a", Operator: OpEq, Value: "x"}, ""},
		{"missing id", Filter{Operator: OpEq, Value: "x"}, "id is required"},
		{"unknown operator", Filter{ID: "a", Operator: "like-ish"}, "unknown operator"},
		{"unknown variant", Filter{ID: "a", Operator: OpEq, Value: 1, Variant: "money"}, "unknown variant"},
		{"illegal pair", Filter{ID: "a", Operator: OpILike, Value: "x", Variant: VariantNumber}, "not valid for number"},
		{"between shape", Filter{ID: "a", Operator: OpIsBetween, Value: 3}, "[from, to]"},
		{"between ok", Filter{ID: "a", Operator: "between", Value: []any{1, nil}}, ""},
		{"relative days", Filter{ID: "a", Operator: OpIsRelativeToToday, Value: "week"}, "number of days"},
		{"scalar expected", Filter{ID: "a", Operator: OpGt, Value: []any{1}}, "single value"},
		{"empty needs no value", Filter{ID: "a", Operator: OpIsEmpty}, ""},
		{"in needs list", Filter{ID: "a", Operator: OpInArray}, "list of values"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.f)
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValidateGroup_CollectsAll(t *testing.T) {
	g := Group{
		Join:    "nand",
		Filters: []Filter{{ID: "a", Operator: "bogus"}},
		Groups:  []Group{{Filters: []Filter{{Operator: OpEq}}}},
	}
	err := ValidateGroup(g)
	require.Error(t, err)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 3)

	assert.NoError(t, ValidateGroup(Group{}))
}

func TestDecodeGroup(t *testing.T) {
	input := map[string]any{
		"joinOperator": "or",
		"not":          "false",
		"filters": []any{
			map[string]any{"id": "status", "operator": "eq", "value": "active", "variant": "select"},
		},
		"groups": []any{
			map[string]any{
				"filters": []any{
					map[string]any{"id": "amount", "operator": "isBetween", "value": []any{1, 10}},
				},
			},
		},
	}
	g, err := DecodeGroup(input)
	require.NoError(t, err)
	assert.Equal(t, JoinOr, g.Join)
	assert.False(t, g.Not)
	require.Len(t, g.Filters, 1)
	assert.Equal(t, OpEq, g.Filters[0].Operator)
	assert.Equal(t, VariantSelect, g.Filters[0].Variant)
	require.Len(t, g.Groups, 1)
	assert.Equal(t, []any{1, 10}, g.Groups[0].Filters[0].Value)

	assert.True(t, g.Eval(map[string]any{"amount": 5}, testNow))
}

func TestDecodeFilters_Invalid(t *testing.T) {
	_, err := DecodeFilters("not a list")
	assert.Error(t, err)
}
