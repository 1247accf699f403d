package filter

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownColumn is returned by ParseQuery for a column the resolver rejects.
var ErrUnknownColumn = errors.New("unknown filter column")

// VariantResolver reports the variant of a column and whether the column may
// be filtered at all.
type VariantResolver func(column string) (Variant, bool)

// ParseQuery builds a filter set from query parameters of the form
// filter[column]=value or filter[column.operator]=value. A "join" parameter
// selects and/or. List operators take comma separated operands. A nil
// resolver accepts every column with an empty variant.
func ParseQuery(params map[string]string, resolve VariantResolver) (FilterSet, error) {
	set := FilterSet{JoinOperator: JoinAnd}
	if j, ok := params["join"]; ok {
		join, ok := ParseJoinOperator(j)
		if !ok {
			return set, fmt.Errorf("invalid join operator %q", j)
		}
		set.JoinOperator = join
	}

	keys := make([]string, 0, len(params))
	for key := range params {
		if strings.HasPrefix(key, "filter[") && strings.HasSuffix(key, "]") {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		column, opName := splitFilterKey(key[len("filter[") : len(key)-1])
		op, ok := ParseOperator(opName)
		if !ok {
			return set, fmt.Errorf("unknown operator %q for %s", opName, column)
		}
		var variant Variant
		if resolve != nil {
			variant, ok = resolve(column)
			if !ok {
				return set, fmt.Errorf("%w: %s", ErrUnknownColumn, column)
			}
		}
		f := Filter{ID: column, Operator: op, Variant: variant, Value: queryOperand(op, params[key])}
		if err := Validate(f); err != nil {
			return set, err
		}
		set.Filters = append(set.Filters, f)
	}
	return set, nil
}

// splitFilterKey splits "total.gte" into ("total", "gte") or "status" into ("status", "eq").
func splitFilterKey(key string) (string, string) {
	if i := strings.LastIndex(key, "."); i > 0 {
		return key[:i], key[i+1:]
	}
	return key, string(OpEq)
}

func queryOperand(op Operator, raw string) any {
	switch op {
	case OpIsBetween:
		lo, hi, _ := strings.Cut(raw, ",")
		return []any{strings.TrimSpace(lo), strings.TrimSpace(hi)}
	case OpInArray, OpNotInArray:
		parts := strings.Split(raw, ",")
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	case OpIsEmpty, OpIsNotEmpty:
		return nil
	}
	return raw
}
