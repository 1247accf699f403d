package metadata

import (
	"fmt"
	"slices"
	"strings"

	"datagrid-backend/internal/filter"
)

// Column types.
const (
	TypeText        = "text"
	TypeInt         = "int"
	TypeNumber      = "number"
	TypeBoolean     = "boolean"
	TypeDate        = "date"
	TypeDateTime    = "datetime"
	TypeSelect      = "select"
	TypeMultiSelect = "multiselect"
	TypeUUID        = "uuid"
	TypeJSON        = "json"
)

var knownTypes = map[string]bool{
	TypeText: true, TypeInt: true, TypeNumber: true, TypeBoolean: true,
	TypeDate: true, TypeDateTime: true, TypeSelect: true, TypeMultiSelect: true,
	TypeUUID: true, TypeJSON: true,
}

// Option is one entry of a select column: the label shown to users and the
// value that is stored.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type Column struct {
	Name        string   `json:"name"`
	Label       string   `json:"label,omitempty"`
	Type        string   `json:"type"`
	Required    bool     `json:"required,omitempty"`
	Unique      bool     `json:"unique,omitempty"`
	Default     any      `json:"default,omitempty"`
	Nullable    bool     `json:"nullable,omitempty"`
	Options     []Option `json:"options,omitempty"`
	Validate    string   `json:"validate,omitempty"` // validator tags, e.g. "email,max=120"
	Placeholder string   `json:"placeholder,omitempty"`
	Hidden      bool     `json:"hidden,omitempty"`
	Sortable    bool     `json:"sortable,omitempty"`
	NoFilter    bool     `json:"no_filter,omitempty"`
	// Variant overrides the filter variant derived from Type, e.g. "range"
	// for a number column or "dateRange" for a date column.
	Variant   string `json:"variant,omitempty"`
	Precision int    `json:"precision,omitempty"`
	Auto      string `json:"auto,omitempty"` // "create" or "update"
}

// IsAuto returns true if the column is auto-managed by the engine.
func (c Column) IsAuto() bool {
	return c.Auto == "create" || c.Auto == "update"
}

// DisplayLabel returns Label, or a title-cased Name when unset.
func (c Column) DisplayLabel() string {
	if c.Label != "" {
		return c.Label
	}
	return humanize(c.Name)
}

// FilterVariant maps the column type onto the filter variant used to
// evaluate filters against it.
func (c Column) FilterVariant() filter.Variant {
	if v, ok := filter.ParseVariant(c.Variant); ok {
		return v
	}
	switch c.Type {
	case TypeInt, TypeNumber:
		return filter.VariantNumber
	case TypeBoolean:
		return filter.VariantBoolean
	case TypeDate, TypeDateTime:
		return filter.VariantDate
	case TypeSelect:
		return filter.VariantSelect
	case TypeMultiSelect:
		return filter.VariantMultiSelect
	default:
		return filter.VariantText
	}
}

// Filterable reports whether the column is offered in filter builders.
func (c Column) Filterable() bool {
	return !c.NoFilter && c.Type != TypeJSON
}

// OptionValue resolves an option by label (or by value), case-insensitively.
func (c Column) OptionValue(label string) (string, bool) {
	label = strings.TrimSpace(label)
	for _, o := range c.Options {
		if strings.EqualFold(o.Label, label) {
			return o.Value, true
		}
	}
	for _, o := range c.Options {
		if strings.EqualFold(o.Value, label) {
			return o.Value, true
		}
	}
	return "", false
}

// OptionLabel returns the label for a stored value, or the value itself.
func (c Column) OptionLabel(value string) string {
	for _, o := range c.Options {
		if o.Value == value {
			return o.Label
		}
	}
	return value
}

// OptionValues lists the stored values of a select column.
func (c Column) OptionValues() []string {
	out := make([]string, len(c.Options))
	for i, o := range c.Options {
		out[i] = o.Value
	}
	return out
}

// variantOverrides lists the variants a column type may switch to.
var variantOverrides = map[string][]filter.Variant{
	TypeInt:         {filter.VariantNumber, filter.VariantRange},
	TypeNumber:      {filter.VariantNumber, filter.VariantRange},
	TypeDate:        {filter.VariantDate, filter.VariantDateRange},
	TypeDateTime:    {filter.VariantDate, filter.VariantDateRange},
	TypeText:        {filter.VariantText, filter.VariantSelect},
	TypeSelect:      {filter.VariantSelect},
	TypeMultiSelect: {filter.VariantMultiSelect},
	TypeBoolean:     {filter.VariantBoolean},
}

// Check reports the first problem with the column definition.
func (c Column) Check() error {
	if !ValidIdentifier(c.Name) {
		return fmt.Errorf("invalid column name %q", c.Name)
	}
	if !knownTypes[c.Type] {
		return fmt.Errorf("column %s: unknown type %q", c.Name, c.Type)
	}
	if (c.Type == TypeSelect || c.Type == TypeMultiSelect) && len(c.Options) == 0 {
		return fmt.Errorf("column %s: %s needs options", c.Name, c.Type)
	}
	if c.Auto != "" && c.Auto != "create" && c.Auto != "update" {
		return fmt.Errorf("column %s: auto must be create or update", c.Name)
	}
	if c.Variant != "" {
		v, ok := filter.ParseVariant(c.Variant)
		if !ok || !slices.Contains(variantOverrides[c.Type], v) {
			return fmt.Errorf("column %s: variant %q does not fit type %s", c.Name, c.Variant, c.Type)
		}
	}
	return nil
}
