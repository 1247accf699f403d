package filter

import "strings"

// Variant declares how a column's runtime value is interpreted.
type Variant string

const (
	VariantText        Variant = "text"
	VariantNumber      Variant = "number"
	VariantBoolean     Variant = "boolean"
	VariantDate        Variant = "date"
	VariantDateRange   Variant = "dateRange"
	VariantSelect      Variant = "select"
	VariantMultiSelect Variant = "multiSelect"
	VariantRange       Variant = "range"
)

// Operator is a comparison applied between a row value and a filter operand.
type Operator string

const (
	OpEq                Operator = "eq"
	OpNe                Operator = "ne"
	OpILike             Operator = "iLike"
	OpNotILike          Operator = "notILike"
	OpIsEmpty           Operator = "isEmpty"
	OpIsNotEmpty        Operator = "isNotEmpty"
	OpLt                Operator = "lt"
	OpLte               Operator = "lte"
	OpGt                Operator = "gt"
	OpGte               Operator = "gte"
	OpIsBetween         Operator = "isBetween"
	OpInArray           Operator = "inArray"
	OpNotInArray        Operator = "notInArray"
	OpIsRelativeToToday Operator = "isRelativeToToday"
)

// JoinOperator combines the results of several filters.
type JoinOperator string

const (
	JoinAnd JoinOperator = "and"
	JoinOr  JoinOperator = "or"
)

// Filter tests one field of a row.
type Filter struct {
	ID       string   `json:"id" mapstructure:"id"`
	Operator Operator `json:"operator" mapstructure:"operator"`
	Value    any      `json:"value" mapstructure:"value"`
	Variant  Variant  `json:"variant,omitempty" mapstructure:"variant"`
}

// FilterSet is a flat list of filters joined by a single operator.
type FilterSet struct {
	Filters      []Filter     `json:"filters" mapstructure:"filters"`
	JoinOperator JoinOperator `json:"joinOperator,omitempty" mapstructure:"joinOperator"`
}

// Group returns the set as a single-level expression tree.
func (s FilterSet) Group() Group {
	return Group{Join: s.JoinOperator, Filters: s.Filters}
}

var allVariants = []Variant{
	VariantText, VariantNumber, VariantBoolean, VariantDate,
	VariantDateRange, VariantSelect, VariantMultiSelect, VariantRange,
}

var allOperators = []Operator{
	OpEq, OpNe, OpILike, OpNotILike, OpIsEmpty, OpIsNotEmpty,
	OpLt, OpLte, OpGt, OpGte, OpIsBetween, OpInArray, OpNotInArray,
	OpIsRelativeToToday,
}

// operatorAliases maps alternate spellings used by filter builders and
// query strings onto canonical operators. Keys are lower case.
var operatorAliases = map[string]Operator{
	"neq":         OpNe,
	"contains":    OpILike,
	"notcontains": OpNotILike,
	"like":        OpILike,
	"between":     OpIsBetween,
	"in":          OpInArray,
	"notin":       OpNotInArray,
	"not_in":      OpNotInArray,
	"lastndays":   OpIsRelativeToToday,
}

var (
	operatorLookup = make(map[string]Operator)
	variantLookup  = make(map[string]Variant)
)

func init() {
	for _, op := range allOperators {
		operatorLookup[strings.ToLower(string(op))] = op
	}
	for alias, op := range operatorAliases {
		operatorLookup[alias] = op
	}
	for _, v := range allVariants {
		variantLookup[strings.ToLower(string(v))] = v
	}
	variantLookup["multi_select"] = VariantMultiSelect
	variantLookup["date_range"] = VariantDateRange
}

// ParseOperator resolves an operator name or alias, case-insensitively.
func ParseOperator(s string) (Operator, bool) {
	op, ok := operatorLookup[strings.ToLower(strings.TrimSpace(s))]
	return op, ok
}

// ParseVariant resolves a variant name, case-insensitively.
func ParseVariant(s string) (Variant, bool) {
	v, ok := variantLookup[strings.ToLower(strings.TrimSpace(s))]
	return v, ok
}

// ParseJoinOperator resolves "and"/"or". An empty string means "and".
func ParseJoinOperator(s string) (JoinOperator, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "and":
		return JoinAnd, true
	case "or":
		return JoinOr, true
	}
	return "", false
}

// Variants returns every known variant.
func Variants() []Variant {
	out := make([]Variant, len(allVariants))
	copy(out, allVariants)
	return out
}

// OperatorsFor returns the operators a filter builder may offer for a variant.
func OperatorsFor(v Variant) []Operator {
	switch v {
	case VariantText:
		return []Operator{OpILike, OpNotILike, OpEq, OpNe, OpInArray, OpNotInArray, OpIsEmpty, OpIsNotEmpty}
	case VariantNumber, VariantRange:
		return []Operator{OpEq, OpNe, OpLt, OpLte, OpGt, OpGte, OpIsBetween, OpIsEmpty, OpIsNotEmpty}
	case VariantBoolean:
		return []Operator{OpEq, OpNe, OpIsEmpty, OpIsNotEmpty}
	case VariantDate, VariantDateRange:
		return []Operator{OpEq, OpNe, OpLt, OpLte, OpGt, OpGte, OpIsBetween, OpIsRelativeToToday, OpIsEmpty, OpIsNotEmpty}
	case VariantSelect, VariantMultiSelect:
		return []Operator{OpEq, OpNe, OpInArray, OpNotInArray, OpIsEmpty, OpIsNotEmpty}
	}
	return nil
}

// Supports reports whether op is legal for v.
func Supports(v Variant, op Operator) bool {
	for _, candidate := range OperatorsFor(v) {
		if candidate == op {
			return true
		}
	}
	return false
}
