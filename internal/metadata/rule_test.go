package metadata

import (
	"testing"

	"github.com/goccy/go-json"
)

func TestRuleParsing_FieldRule(t *testing.T) {
	raw := `{
		"field": "quantity",
		"operator": "min",
		"value": 0,
		"message": "Quantity must be non-negative"
	}`
	var def RuleDefinition
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		t.Fatalf("parse field rule: %v", err)
	}
	if def.Field != "quantity" || def.Operator != "min" {
		t.Fatalf("unexpected field rule: %+v", def)
	}
	if def.Value != float64(0) {
		t.Fatalf("expected value=0, got %v", def.Value)
	}
}

func TestRuleParsing_ExpressionRule(t *testing.T) {
	raw := `{
		"expression": "record.status == 'closed' && record.closed_on == nil",
		"message": "Closed date is required when status is closed",
		"stop_on_fail": true
	}`
	var def RuleDefinition
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		t.Fatalf("parse expression rule: %v", err)
	}
	if def.Expression != "record.status == 'closed' && record.closed_on == nil" {
		t.Fatalf("expression mismatch: %s", def.Expression)
	}
	if !def.StopOnFail {
		t.Fatal("expected stop_on_fail=true")
	}
}

func TestRegistryGetRules(t *testing.T) {
	reg := NewRegistry()
	reg.LoadRules([]*Rule{
		{ID: "1", Table: "sites", Type: RuleField, Priority: 20, Active: true},
		{ID: "2", Table: "sites", Type: RuleExpression, Priority: 10, Active: true},
		{ID: "3", Table: "assets", Type: RuleField, Active: true},
		{ID: "4", Table: "sites", Type: RuleField, Active: false},
	})

	sites := reg.GetRules("sites")
	if len(sites) != 2 {
		t.Fatalf("expected 2 active rules for sites, got %d", len(sites))
	}
	if sites[0].ID != "2" {
		t.Fatalf("expected priority order, got first=%s", sites[0].ID)
	}
	if len(reg.GetRules("assets")) != 1 {
		t.Fatal("expected 1 rule for assets")
	}
	if len(reg.GetRules("nonexistent")) != 0 {
		t.Fatal("expected no rules for nonexistent table")
	}
}
