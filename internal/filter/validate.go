package filter

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/hashicorp/go-multierror"
)

// Validate reports why a filter would never match for structural reasons.
// Apply itself never errors; this is for API callers that want feedback.
func Validate(f Filter) error {
	if strings.TrimSpace(f.ID) == "" {
		return fmt.Errorf("filter id is required")
	}
	op, ok := ParseOperator(string(f.Operator))
	if !ok {
		return fmt.Errorf("filter %q: unknown operator %q", f.ID, f.Operator)
	}
	if f.Variant != "" {
		v, ok := ParseVariant(string(f.Variant))
		if !ok {
			return fmt.Errorf("filter %q: unknown variant %q", f.ID, f.Variant)
		}
		if !Supports(v, op) {
			return fmt.Errorf("filter %q: operator %s is not valid for %s columns", f.ID, op, v)
		}
	}

	switch op {
	case OpIsEmpty, OpIsNotEmpty:
		return nil
	case OpIsBetween:
		bounds, ok := toComparableArray(f.Value)
		if !ok || len(bounds) != 2 {
			return fmt.Errorf("filter %q: %s expects a [from, to] pair", f.ID, op)
		}
	case OpInArray, OpNotInArray:
		if f.Value == nil {
			return fmt.Errorf("filter %q: %s expects a list of values", f.ID, op)
		}
	case OpIsRelativeToToday:
		if _, ok := toNumber(f.Value); !ok {
			return fmt.Errorf("filter %q: %s expects a number of days", f.ID, op)
		}
	default:
		if f.Value == nil {
			return fmt.Errorf("filter %q: %s expects a value", f.ID, op)
		}
		if _, isArr := toComparableArray(f.Value); isArr {
			return fmt.Errorf("filter %q: %s expects a single value", f.ID, op)
		}
	}
	return nil
}

// ValidateGroup validates every filter in the tree and collects all errors.
func ValidateGroup(g Group) error {
	var result error
	if _, ok := ParseJoinOperator(string(g.Join)); !ok {
		result = multierror.Append(result, fmt.Errorf("unknown join operator %q", g.Join))
	}
	for _, f := range g.Filters {
		if err := Validate(f); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, sub := range g.Groups {
		if err := ValidateGroup(sub); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

// DecodeGroup builds a group from loosely typed input such as a decoded
// JSON body or a YAML document.
func DecodeGroup(input any) (Group, error) {
	var g Group
	if err := decode(input, &g); err != nil {
		return Group{}, fmt.Errorf("decode filter group: %w", err)
	}
	return g, nil
}

// DecodeFilters builds a filter list from loosely typed input.
func DecodeFilters(input any) ([]Filter, error) {
	var fs []Filter
	if err := decode(input, &fs); err != nil {
		return nil, fmt.Errorf("decode filters: %w", err)
	}
	return fs, nil
}

func decode(input, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}
