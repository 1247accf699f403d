package filter

import (
	"math"
	"strings"
	"time"
)

// Apply reports whether row satisfies f. Day-granularity date comparisons
// use now's location. Unknown operators, operators that are illegal for the
// declared variant and operands that cannot be coerced all yield false.
//
// A filter without a variant is evaluated leniently: the operator decides
// how row value and operand are coerced.
func Apply(row map[string]any, f Filter, now time.Time) bool {
	op, ok := ParseOperator(string(f.Operator))
	if !ok {
		return false
	}
	var variant Variant
	if f.Variant != "" {
		variant, ok = ParseVariant(string(f.Variant))
		if !ok || !Supports(variant, op) {
			return false
		}
	}

	val := row[f.ID]
	loc := now.Location()

	switch op {
	case OpIsEmpty:
		return isEmptyValue(val)
	case OpIsNotEmpty:
		return !isEmptyValue(val)
	case OpEq:
		hit, ok := equals(variant, val, f.Value, loc)
		return ok && hit
	case OpNe:
		hit, ok := equals(variant, val, f.Value, loc)
		return ok && !hit
	case OpILike:
		hit, ok := containsText(val, f.Value)
		return ok && hit
	case OpNotILike:
		hit, ok := containsText(val, f.Value)
		return ok && !hit
	case OpLt, OpLte, OpGt, OpGte:
		return compare(variant, op, val, f.Value, loc)
	case OpIsBetween:
		return between(variant, val, f.Value, loc)
	case OpInArray:
		hit, ok := member(val, f.Value)
		return ok && hit
	case OpNotInArray:
		hit, ok := member(val, f.Value)
		return ok && !hit
	case OpIsRelativeToToday:
		return relativeToToday(val, f.Value, now)
	}
	return false
}

// ApplyAll folds filters with join. An empty list matches every row; an
// unknown join matches none.
func ApplyAll(row map[string]any, filters []Filter, join JoinOperator, now time.Time) bool {
	if len(filters) == 0 {
		return true
	}
	j, ok := ParseJoinOperator(string(join))
	if !ok {
		return false
	}
	isOr := j == JoinOr
	for _, f := range filters {
		if Apply(row, f, now) == isOr {
			return isOr
		}
	}
	return !isOr
}

// anyElement applies pred to v, or to each element when v is an array.
func anyElement(v any, pred func(any) bool) bool {
	if arr, ok := toComparableArray(v); ok {
		for _, e := range arr {
			if pred(e) {
				return true
			}
		}
		return false
	}
	return pred(v)
}

// keyFunc maps a value onto an ordered scalar.
type keyFunc func(any) (float64, bool)

func numberKey(v any) (float64, bool) { return toNumber(v) }

func dayKey(loc *time.Location) keyFunc {
	return func(v any) (float64, bool) {
		t, ok := toDate(v, loc)
		if !ok {
			return 0, false
		}
		return float64(startOfDay(t, loc).Unix()), true
	}
}

func isAbsent(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

// orderingFor picks the ordering used by comparisons. Without a variant,
// numbers win when every present operand is numeric; otherwise dates.
func orderingFor(v Variant, loc *time.Location, operands ...any) (keyFunc, bool) {
	switch v {
	case VariantNumber, VariantRange:
		return numberKey, true
	case VariantDate, VariantDateRange:
		return dayKey(loc), true
	case "":
		for _, o := range operands {
			if isAbsent(o) {
				continue
			}
			if _, ok := toNumber(o); !ok {
				return dayKey(loc), true
			}
		}
		return numberKey, true
	}
	return nil, false
}

func equals(v Variant, val, operand any, loc *time.Location) (bool, bool) {
	if operand == nil {
		return false, false
	}
	if _, isArr := toComparableArray(operand); isArr {
		return false, false
	}

	var match func(any) bool
	switch v {
	case VariantNumber, VariantRange, VariantDate, VariantDateRange:
		key, _ := orderingFor(v, loc)
		want, ok := key(operand)
		if !ok {
			return false, false
		}
		match = func(x any) bool {
			got, ok := key(x)
			return ok && got == want
		}
	case VariantBoolean:
		want, ok := toBool(operand)
		if !ok {
			return false, false
		}
		match = func(x any) bool {
			got, ok := toBool(x)
			return ok && got == want
		}
	case VariantText:
		want, ok := toText(operand)
		if !ok {
			return false, false
		}
		match = func(x any) bool {
			got, ok := toText(x)
			return ok && got == want
		}
	default:
		match = func(x any) bool { return looseEqual(x, operand) }
	}
	return anyElement(val, match), true
}

// looseEqual compares numerically when both sides are numbers, as booleans
// when either side is one, and as text otherwise.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if x, ok := toNumber(a); ok {
		if y, ok := toNumber(b); ok {
			return x == y
		}
	}
	if x, ok := a.(bool); ok {
		y, ok := toBool(b)
		return ok && x == y
	}
	if y, ok := b.(bool); ok {
		x, ok := toBool(a)
		return ok && x == y
	}
	sa, ok := toText(a)
	if !ok {
		return false
	}
	sb, ok := toText(b)
	return ok && sa == sb
}

func containsText(val, operand any) (bool, bool) {
	if _, isArr := toComparableArray(operand); isArr {
		return false, false
	}
	needle, ok := toText(operand)
	if !ok {
		return false, false
	}
	needle = strings.ToLower(needle)
	return anyElement(val, func(x any) bool {
		s, ok := toText(x)
		return ok && strings.Contains(strings.ToLower(s), needle)
	}), true
}

func satisfies(op Operator, got, want float64) bool {
	switch op {
	case OpLt:
		return got < want
	case OpLte:
		return got <= want
	case OpGt:
		return got > want
	case OpGte:
		return got >= want
	}
	return false
}

func compare(v Variant, op Operator, val, operand any, loc *time.Location) bool {
	if _, isArr := toComparableArray(operand); isArr {
		return false
	}
	key, ok := orderingFor(v, loc, operand)
	if !ok {
		return false
	}
	want, ok := key(operand)
	if !ok {
		return false
	}
	return anyElement(val, func(x any) bool {
		got, ok := key(x)
		return ok && satisfies(op, got, want)
	})
}

// between checks an inclusive [lo, hi] range. A missing bound is open.
func between(v Variant, val, operand any, loc *time.Location) bool {
	bounds, ok := toComparableArray(operand)
	if !ok || len(bounds) != 2 {
		return false
	}
	key, ok := orderingFor(v, loc, bounds...)
	if !ok {
		return false
	}

	lo, hi := math.Inf(-1), math.Inf(1)
	if !isAbsent(bounds[0]) {
		if lo, ok = key(bounds[0]); !ok {
			return false
		}
	}
	if !isAbsent(bounds[1]) {
		if hi, ok = key(bounds[1]); !ok {
			return false
		}
	}
	return anyElement(val, func(x any) bool {
		got, ok := key(x)
		return ok && got >= lo && got <= hi
	})
}

// member reports whether val, or any element of it, is in the operand set.
// A scalar operand is a set of one.
func member(val, operand any) (bool, bool) {
	if operand == nil {
		return false, false
	}
	set, ok := toComparableArray(operand)
	if !ok {
		set = []any{operand}
	}
	return anyElement(val, func(x any) bool {
		if x == nil {
			return false
		}
		for _, candidate := range set {
			if looseEqual(x, candidate) {
				return true
			}
		}
		return false
	}), true
}

// maxRelativeDays bounds the day count of isRelativeToToday (about 2700 years).
const maxRelativeDays = 1_000_000

// relativeToToday matches dates within the last N days, today included.
// A negative N looks forward instead.
func relativeToToday(val, operand any, now time.Time) bool {
	n, ok := toNumber(operand)
	if !ok || math.IsNaN(n) {
		return false
	}
	days := int(math.Trunc(math.Max(-maxRelativeDays, math.Min(n, maxRelativeDays))))
	loc := now.Location()
	today := startOfDay(now, loc)

	from, to := today.AddDate(0, 0, -days), today
	if days < 0 {
		from, to = today, today.AddDate(0, 0, -days)
	}
	return anyElement(val, func(x any) bool {
		t, ok := toDate(x, loc)
		if !ok {
			return false
		}
		d := startOfDay(t, loc)
		return !d.Before(from) && !d.After(to)
	})
}
