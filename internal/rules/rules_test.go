package rules

import (
	"context"
	"testing"

	"datagrid-backend/internal/metadata"
)

func fieldRule(field, op string, value any, msg string) *metadata.Rule {
	return &metadata.Rule{
		Table: "sites",
		Type:  metadata.RuleField,
		Definition: metadata.RuleDefinition{
			Field: field, Operator: op, Value: value, Message: msg,
		},
	}
}

func TestEvaluateFieldRule_MinMax(t *testing.T) {
	min := fieldRule("capacity", "min", float64(0), "Capacity must be non-negative")

	v := EvaluateFieldRule(min, map[string]any{"capacity": float64(-5)})
	if v == nil {
		t.Fatal("expected violation for capacity=-5")
	}
	if v.Field != "capacity" || v.Rule != "min" {
		t.Fatalf("unexpected violation: %+v", v)
	}
	if v := EvaluateFieldRule(min, map[string]any{"capacity": 0}); v != nil {
		t.Fatalf("expected pass at the bound, got %v", v)
	}
	if v := EvaluateFieldRule(min, map[string]any{}); v != nil {
		t.Fatalf("expected pass for absent field, got %v", v)
	}

	max := fieldRule("capacity", "max", 100, "")
	v = EvaluateFieldRule(max, map[string]any{"capacity": "150"})
	if v == nil {
		t.Fatal("expected violation for capacity=150 given as text")
	}
	if v.Message != "field capacity failed max validation" {
		t.Fatalf("unexpected default message: %s", v.Message)
	}
	if v := EvaluateFieldRule(max, map[string]any{"capacity": "lots"}); v != nil {
		t.Fatalf("non-numeric values are left to type validation, got %v", v)
	}
}

func TestEvaluateFieldRule_Length(t *testing.T) {
	minLen := fieldRule("site_name", "min_length", float64(3), "Name must be at least 3 characters")
	if v := EvaluateFieldRule(minLen, map[string]any{"site_name": "AB"}); v == nil || v.Rule != "min_length" {
		t.Fatalf("expected min_length violation, got %v", v)
	}
	if v := EvaluateFieldRule(minLen, map[string]any{"site_name": "Pune"}); v != nil {
		t.Fatalf("expected pass, got %v", v)
	}

	maxLen := fieldRule("code", "max_length", 3, "")
	if v := EvaluateFieldRule(maxLen, map[string]any{"code": "डेटा"}); v == nil {
		t.Fatal("expected violation for four runes")
	}
	if v := EvaluateFieldRule(maxLen, map[string]any{"code": "डेट"}); v != nil {
		t.Fatalf("length counts runes, not bytes: %v", v)
	}
}

func TestEvaluateFieldRule_PatternAndIn(t *testing.T) {
	pattern := fieldRule("email", "pattern", `^[^@]+@[^@]+\.[^@]+$`, "Invalid email format")
	if v := EvaluateFieldRule(pattern, map[string]any{"email": "notanemail"}); v == nil {
		t.Fatal("expected violation for invalid email")
	}
	if v := EvaluateFieldRule(pattern, map[string]any{"email": "ops@example.com"}); v != nil {
		t.Fatalf("expected pass, got %v", v)
	}

	in := fieldRule("region", "in", []any{"N", "S"}, "")
	if v := EvaluateFieldRule(in, map[string]any{"region": "E"}); v == nil {
		t.Fatal("expected violation for region outside the list")
	}
	if v := EvaluateFieldRule(in, map[string]any{"region": "S"}); v != nil {
		t.Fatalf("expected pass, got %v", v)
	}
}

func TestEvaluateExpressionRule(t *testing.T) {
	rule := &metadata.Rule{
		Type: metadata.RuleExpression,
		Definition: metadata.RuleDefinition{
			Expression: "record.status == 'closed' && record.closed_on == nil",
			Message:    "Closed date is required when status is closed",
		},
	}

	v := EvaluateExpressionRule(rule, Env(map[string]any{"status": "closed", "closed_on": nil}, nil, "create"))
	if v == nil {
		t.Fatal("expected violation")
	}
	if v.Message != "Closed date is required when status is closed" {
		t.Fatalf("unexpected message: %s", v.Message)
	}

	v = EvaluateExpressionRule(rule, Env(map[string]any{"status": "closed", "closed_on": "2024-01-01"}, nil, "create"))
	if v != nil {
		t.Fatalf("expected pass, got %v", v)
	}
}

func TestEvaluateExpressionRule_WithOldRecord(t *testing.T) {
	rule := &metadata.Rule{
		Type: metadata.RuleExpression,
		Definition: metadata.RuleDefinition{
			Expression: "action == 'update' && record.status == 'open' && old.status == 'decommissioned'",
			Message:    "Cannot reopen a decommissioned site",
		},
	}
	env := Env(map[string]any{"status": "open"}, map[string]any{"status": "decommissioned"}, "update")
	if v := EvaluateExpressionRule(rule, env); v == nil {
		t.Fatal("expected violation on update")
	}
	env["action"] = "create"
	if v := EvaluateExpressionRule(rule, env); v != nil {
		t.Fatalf("expected pass on create, got %v", v)
	}
}

func TestEvaluateExpressionRule_CompileError(t *testing.T) {
	rule := &metadata.Rule{
		Type:       metadata.RuleExpression,
		Definition: metadata.RuleDefinition{Expression: "record.status =="},
	}
	v := EvaluateExpressionRule(rule, Env(map[string]any{}, nil, "create"))
	if v == nil || v.Rule != "expression" {
		t.Fatalf("expected compile violation, got %v", v)
	}
}

func TestEvaluateComputedField(t *testing.T) {
	rule := &metadata.Rule{
		Type: metadata.RuleComputed,
		Definition: metadata.RuleDefinition{
			Field:      "display_name",
			Expression: "record.site_code + ' - ' + record.site_name",
		},
	}
	val, err := EvaluateComputedField(rule, Env(map[string]any{"site_code": "PN1", "site_name": "Pune"}, nil, "create"))
	if err != nil {
		t.Fatalf("evaluate computed: %v", err)
	}
	if val != "PN1 - Pune" {
		t.Fatalf("expected 'PN1 - Pune', got %v", val)
	}
}

func TestEvaluate_Order(t *testing.T) {
	computed := &metadata.Rule{
		Table: "sites",
		Type:  metadata.RuleComputed,
		Definition: metadata.RuleDefinition{
			Field:      "utilisation",
			Expression: "record.used / record.capacity",
		},
	}
	rs := []*metadata.Rule{
		computed,
		fieldRule("capacity", "min", 1, "Capacity must be positive"),
	}

	record := map[string]any{"capacity": float64(0), "used": float64(5)}
	violations := Evaluate(context.Background(), rs, record, nil, "create")
	if len(violations) != 1 || violations[0].Rule != "min" {
		t.Fatalf("expected one min violation, got %v", violations)
	}
	if _, ok := record["utilisation"]; ok {
		t.Fatal("computed fields must not run after a failure")
	}

	record = map[string]any{"capacity": float64(10), "used": float64(5)}
	if violations := Evaluate(context.Background(), rs, record, nil, "create"); len(violations) != 0 {
		t.Fatalf("expected no violations, got %v", violations)
	}
	if record["utilisation"] != 0.5 {
		t.Fatalf("expected utilisation=0.5, got %v", record["utilisation"])
	}
}

func TestEvaluate_StopOnFail(t *testing.T) {
	first := fieldRule("capacity", "min", 1, "")
	first.Definition.StopOnFail = true
	rs := []*metadata.Rule{
		first,
		fieldRule("site_name", "min_length", 3, ""),
	}
	violations := Evaluate(context.Background(), rs, map[string]any{"capacity": 0, "site_name": "A"}, nil, "create")
	if len(violations) != 1 {
		t.Fatalf("expected evaluation to stop at the first failure, got %v", violations)
	}
}

func TestCheck(t *testing.T) {
	cases := []struct {
		name string
		rule *metadata.Rule
		ok   bool
	}{
		{"field ok", fieldRule("a", "min", 1, ""), true},
		{"unknown op", fieldRule("a", "between", 1, ""), false},
		{"bad pattern", fieldRule("a", "pattern", "(", ""), false},
		{"expression ok", &metadata.Rule{Type: metadata.RuleExpression, Definition: metadata.RuleDefinition{Expression: "record.a > 1"}}, true},
		{"expression broken", &metadata.Rule{Type: metadata.RuleExpression, Definition: metadata.RuleDefinition{Expression: "record.a >"}}, false},
		{"computed needs field", &metadata.Rule{Type: metadata.RuleComputed, Definition: metadata.RuleDefinition{Expression: "1"}}, false},
		{"unknown type", &metadata.Rule{Type: "trigger"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Check(tc.rule)
			if tc.ok && err != nil {
				t.Fatalf("expected ok, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
