package rules

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"unicode/utf8"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/spf13/cast"

	"datagrid-backend/internal/instrument"
	"datagrid-backend/internal/metadata"
)

// Violation is a failed rule. Field is empty for record level expression rules.
type Violation struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func (v Violation) Error() string {
	if v.Field == "" {
		return v.Message
	}
	return v.Field + ": " + v.Message
}

// programs caches compiled expressions by kind and source.
var programs sync.Map

type programKey struct {
	computed bool
	source   string
}

// Evaluate runs the rules of a table against a record, in the order field,
// expression, computed. Computed rules write into record and only run when
// nothing failed. A rule with StopOnFail ends evaluation at its first failure.
func Evaluate(ctx context.Context, rules []*metadata.Rule, record, old map[string]any, action string) []Violation {
	_, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "engine", "rules", "rules.evaluate")
	defer span.End()

	if len(rules) == 0 {
		span.SetStatus("ok")
		return nil
	}
	span.SetTable(rules[0].Table, "")

	env := Env(record, old, action)
	var violations []Violation

	// 1. Field rules
	for _, r := range rules {
		if r.Type != metadata.RuleField {
			continue
		}
		if v := EvaluateFieldRule(r, record); v != nil {
			violations = append(violations, *v)
			if r.Definition.StopOnFail {
				span.SetStatus("error")
				return violations
			}
		}
	}

	// 2. Expression rules
	for _, r := range rules {
		if r.Type != metadata.RuleExpression {
			continue
		}
		if v := EvaluateExpressionRule(r, env); v != nil {
			violations = append(violations, *v)
			if r.Definition.StopOnFail {
				span.SetStatus("error")
				return violations
			}
		}
	}

	if len(violations) > 0 {
		span.SetStatus("error")
		return violations
	}

	// 3. Computed fields
	for _, r := range rules {
		if r.Type != metadata.RuleComputed {
			continue
		}
		val, err := EvaluateComputedField(r, env)
		if err != nil {
			violations = append(violations, Violation{Field: r.Definition.Field, Rule: "computed", Message: err.Error()})
			continue
		}
		record[r.Definition.Field] = val
	}

	if len(violations) > 0 {
		span.SetStatus("error")
	} else {
		span.SetStatus("ok")
	}
	return violations
}

// Env is the variable set expressions see.
func Env(record, old map[string]any, action string) map[string]any {
	if old == nil {
		old = map[string]any{}
	}
	return map[string]any{
		"record": record,
		"old":    old,
		"action": action,
	}
}

// EvaluateFieldRule checks a single field rule. Absent and nil values pass;
// requiredness is a column property.
func EvaluateFieldRule(rule *metadata.Rule, record map[string]any) *Violation {
	def := rule.Definition
	val, exists := record[def.Field]
	if !exists || val == nil {
		return nil
	}

	msg := def.Message
	if msg == "" {
		msg = fmt.Sprintf("field %s failed %s validation", def.Field, def.Operator)
	}
	fail := &Violation{Field: def.Field, Rule: def.Operator, Message: msg}

	switch def.Operator {
	case "min", "max":
		num, err := cast.ToFloat64E(val)
		if err != nil {
			return nil
		}
		threshold, err := cast.ToFloat64E(def.Value)
		if err != nil {
			return nil
		}
		if (def.Operator == "min" && num < threshold) || (def.Operator == "max" && num > threshold) {
			return fail
		}

	case "min_length", "max_length":
		s, ok := val.(string)
		if !ok {
			return nil
		}
		threshold, err := cast.ToIntE(def.Value)
		if err != nil {
			return nil
		}
		n := utf8.RuneCountInString(s)
		if (def.Operator == "min_length" && n < threshold) || (def.Operator == "max_length" && n > threshold) {
			return fail
		}

	case "pattern":
		s, ok := val.(string)
		if !ok {
			return nil
		}
		pattern, ok := def.Value.(string)
		if !ok {
			return nil
		}
		matched, err := regexp.MatchString(pattern, s)
		if err != nil || !matched {
			return fail
		}

	case "in":
		allowed, err := cast.ToSliceE(def.Value)
		if err != nil {
			return nil
		}
		want := cast.ToString(val)
		for _, a := range allowed {
			if cast.ToString(a) == want {
				return nil
			}
		}
		return fail
	}

	return nil
}

// CompileExpression compiles a boolean rule expression.
func CompileExpression(expression string) (*vm.Program, error) {
	return compile(expression, false)
}

// CompileComputedExpression compiles an expression for a computed field (returns any value, not bool).
func CompileComputedExpression(expression string) (*vm.Program, error) {
	return compile(expression, true)
}

func compile(expression string, computed bool) (*vm.Program, error) {
	key := programKey{computed: computed, source: expression}
	if p, ok := programs.Load(key); ok {
		return p.(*vm.Program), nil
	}
	opts := []expr.Option{expr.AllowUndefinedVariables()}
	if !computed {
		opts = append(opts, expr.AsBool())
	}
	prog, err := expr.Compile(expression, opts...)
	if err != nil {
		return nil, fmt.Errorf("compile expression: %w", err)
	}
	programs.Store(key, prog)
	return prog, nil
}

// EvaluateExpressionRule returns a violation when the expression is true.
func EvaluateExpressionRule(rule *metadata.Rule, env map[string]any) *Violation {
	prog, err := CompileExpression(rule.Definition.Expression)
	if err != nil {
		return &Violation{Field: rule.Definition.Field, Rule: "expression", Message: fmt.Sprintf("compile error: %v", err)}
	}

	result, err := expr.Run(prog, env)
	if err != nil {
		return &Violation{Field: rule.Definition.Field, Rule: "expression", Message: fmt.Sprintf("rule evaluation error: %v", err)}
	}

	if violated, ok := result.(bool); ok && violated {
		msg := rule.Definition.Message
		if msg == "" {
			msg = "Expression rule violated"
		}
		return &Violation{Field: rule.Definition.Field, Rule: "expression", Message: msg}
	}
	return nil
}

// EvaluateComputedField evaluates a computed field rule and returns the computed value.
func EvaluateComputedField(rule *metadata.Rule, env map[string]any) (any, error) {
	prog, err := CompileComputedExpression(rule.Definition.Expression)
	if err != nil {
		return nil, err
	}
	result, err := expr.Run(prog, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate computed field %s: %w", rule.Definition.Field, err)
	}
	return result, nil
}

// Check reports whether a rule is well formed and its expression compiles.
func Check(rule *metadata.Rule) error {
	switch rule.Type {
	case metadata.RuleField:
		if rule.Definition.Field == "" || rule.Definition.Operator == "" {
			return fmt.Errorf("field rule needs field and operator")
		}
		switch rule.Definition.Operator {
		case "min", "max", "min_length", "max_length", "in":
		case "pattern":
			p, _ := rule.Definition.Value.(string)
			if _, err := regexp.Compile(p); err != nil {
				return fmt.Errorf("invalid pattern: %w", err)
			}
		default:
			return fmt.Errorf("unknown field rule operator %q", rule.Definition.Operator)
		}
		return nil
	case metadata.RuleExpression:
		_, err := CompileExpression(rule.Definition.Expression)
		return err
	case metadata.RuleComputed:
		if rule.Definition.Field == "" {
			return fmt.Errorf("computed rule needs a target field")
		}
		_, err := CompileComputedExpression(rule.Definition.Expression)
		return err
	}
	return fmt.Errorf("unknown rule type %q", rule.Type)
}
