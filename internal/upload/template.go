package upload

import (
	"strings"

	"datagrid-backend/internal/metadata"
)

// Cell types understood by the pipeline.
const (
	TypeText     = "text"
	TypeNumber   = "number"
	TypeBoolean  = "boolean"
	TypeDate     = "date"
	TypeDateTime = "datetime"
	TypeDropdown = "dropdown"
)

// Canonical output layouts for date cells.
const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02 15:04:05"
)

// ColumnTemplate describes one spreadsheet column: the header label users
// see, the record key it fills and how its cells are converted.
type ColumnTemplate struct {
	Key      string            `json:"key"`
	Label    string            `json:"label"`
	Type     string            `json:"type"`
	Required bool              `json:"required,omitempty"`
	Options  []metadata.Option `json:"options,omitempty"`
	// Multiple accepts a comma separated list of dropdown labels.
	Multiple bool `json:"multiple,omitempty"`
	// Integer stores whole numbers as int64.
	Integer bool `json:"integer,omitempty"`
	// Validate holds extra validator tags, e.g. "email" or "max=120".
	Validate string `json:"validate,omitempty"`
}

// OptionValue maps a dropdown label (or a stored value) onto the stored value.
func (c ColumnTemplate) OptionValue(label string) (string, bool) {
	return metadata.Column{Options: c.Options}.OptionValue(label)
}

// OptionLabels lists the labels users may pick from.
func (c ColumnTemplate) OptionLabels() []string {
	out := make([]string, len(c.Options))
	for i, o := range c.Options {
		out[i] = o.Label
	}
	return out
}

// FromTable builds the upload template of a table from its writable columns.
// JSON columns cannot be expressed in a sheet and are left out.
func FromTable(t *metadata.Table) []ColumnTemplate {
	var cols []ColumnTemplate
	for _, c := range t.WritableColumns() {
		ct := ColumnTemplate{
			Key:      c.Name,
			Label:    c.DisplayLabel(),
			Required: c.Required,
			Validate: c.Validate,
		}
		switch c.Type {
		case metadata.TypeJSON:
			continue
		case metadata.TypeInt:
			ct.Type, ct.Integer = TypeNumber, true
		case metadata.TypeNumber:
			ct.Type = TypeNumber
		case metadata.TypeBoolean:
			ct.Type = TypeBoolean
		case metadata.TypeDate:
			ct.Type = TypeDate
		case metadata.TypeDateTime:
			ct.Type = TypeDateTime
		case metadata.TypeSelect, metadata.TypeMultiSelect:
			ct.Type = TypeDropdown
			ct.Options = c.Options
			ct.Multiple = c.Type == metadata.TypeMultiSelect
		default:
			ct.Type = TypeText
		}
		cols = append(cols, ct)
	}
	return cols
}

// normalizeHeader folds case, collapses whitespace and drops the required marker.
func normalizeHeader(s string) string {
	s = strings.TrimSpace(strings.TrimPrefix(s, "\ufeff"))
	s = strings.TrimSpace(strings.TrimSuffix(s, "*"))
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// matchHeader maps each template column to its position in the header row.
// Columns are found by label first, then by key. Missing columns are absent
// from the result.
func matchHeader(cols []ColumnTemplate, header []string) map[string]int {
	positions := make(map[string]int, len(header))
	for i, h := range header {
		n := normalizeHeader(h)
		if _, dup := positions[n]; !dup && n != "" {
			positions[n] = i
		}
	}
	out := make(map[string]int, len(cols))
	for _, c := range cols {
		if i, ok := positions[normalizeHeader(c.Label)]; ok {
			out[c.Key] = i
		} else if i, ok := positions[normalizeHeader(c.Key)]; ok {
			out[c.Key] = i
		}
	}
	return out
}
