package engine

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"

	"datagrid-backend/internal/metadata"
	"datagrid-backend/internal/rules"
	"datagrid-backend/internal/store"
)

// WritePlan is a validated create or update, ready to be encoded and written.
type WritePlan struct {
	IsCreate bool
	Table    *metadata.Table
	Fields   map[string]any
	ID       any // nil for create
}

// PlanWrite validates a request body against the table definition and its
// rules. For updates, current is the stored record; the rules see the
// merged record and the plan writes every updatable column of it.
func PlanWrite(ctx context.Context, tbl *metadata.Table, tableRules []*metadata.Rule, body, current map[string]any, id any) (*WritePlan, *AppError) {
	isCreate := current == nil
	allowed := tbl.WritableColumns()
	if !isCreate {
		allowed = tbl.UpdatableColumns()
	}
	byName := make(map[string]metadata.Column, len(allowed))
	for _, c := range allowed {
		byName[c.Name] = c
	}

	var details []ErrorDetail
	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make(map[string]any, len(body))
	for _, k := range keys {
		col, ok := byName[k]
		if !ok {
			details = append(details, ErrorDetail{Field: k, Rule: "unknown", Message: fmt.Sprintf("Unknown or read-only column: %s", k)})
			continue
		}
		v, err := normalizeField(col, body[k])
		if err != nil {
			details = append(details, ErrorDetail{Field: k, Rule: "type", Message: err.Error()})
			continue
		}
		fields[k] = v
	}

	record := fields
	if !isCreate {
		record = maps.Clone(current)
		maps.Copy(record, fields)
	}
	for _, c := range allowed {
		if !c.Required || (!isCreate && !hasKey(body, c.Name)) {
			continue
		}
		if isEmpty(record[c.Name]) && c.Default == nil {
			details = append(details, ErrorDetail{Field: c.Name, Rule: "required", Message: fmt.Sprintf("%s is required", c.DisplayLabel())})
		}
	}
	if len(details) > 0 {
		return nil, ValidationError(details)
	}

	action := "update"
	if isCreate {
		action = "create"
	}
	if violations := rules.Evaluate(ctx, tableRules, record, current, action); len(violations) > 0 {
		return nil, RuleError(violations)
	}

	out := make(map[string]any, len(allowed))
	for _, c := range allowed {
		if v, ok := record[c.Name]; ok {
			out[c.Name] = v
		}
	}
	return &WritePlan{IsCreate: isCreate, Table: tbl, Fields: out, ID: id}, nil
}

// Encode stamps auto columns and converts the fields to driver values.
func (p *WritePlan) Encode(d store.Dialect, loc *time.Location, now time.Time) (map[string]any, *AppError) {
	fields := maps.Clone(p.Fields)
	stampAuto(p.Table, fields, p.IsCreate, now)

	out := make(map[string]any, len(fields))
	var details []ErrorDetail
	for name, v := range fields {
		col := p.Table.GetColumn(name)
		if col == nil {
			continue
		}
		enc, err := store.EncodeValue(d, *col, v, loc)
		if err != nil {
			details = append(details, ErrorDetail{Field: name, Rule: "type", Message: fmt.Sprintf("%s: %v", col.DisplayLabel(), err)})
			continue
		}
		out[name] = enc
	}
	if len(details) > 0 {
		sort.Slice(details, func(i, j int) bool { return details[i].Field < details[j].Field })
		return nil, ValidationError(details)
	}
	return out, nil
}

// normalizeField maps select labels to stored values and rejects values a
// select column does not offer. Other types are checked when encoding.
func normalizeField(col metadata.Column, v any) (any, error) {
	if isEmpty(v) {
		return nil, nil
	}
	switch col.Type {
	case metadata.TypeSelect:
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, fmt.Errorf("%s must be text", col.DisplayLabel())
		}
		val, ok := col.OptionValue(s)
		if !ok {
			return nil, fmt.Errorf("%s must be one of: %s", col.DisplayLabel(), strings.Join(col.OptionValues(), ", "))
		}
		return val, nil
	case metadata.TypeMultiSelect:
		items, err := cast.ToStringSliceE(v)
		if err != nil {
			return nil, fmt.Errorf("%s must be a list", col.DisplayLabel())
		}
		out := make([]any, 0, len(items))
		for _, item := range items {
			val, ok := col.OptionValue(item)
			if !ok {
				return nil, fmt.Errorf("%s must be one of: %s", col.DisplayLabel(), strings.Join(col.OptionValues(), ", "))
			}
			out = append(out, val)
		}
		return out, nil
	}
	return v, nil
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	}
	return false
}

func hasKey(m map[string]any, k string) bool {
	_, ok := m[k]
	return ok
}
