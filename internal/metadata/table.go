package metadata

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Table describes a master table: its storage, its columns and where it
// appears in the navigation.
type Table struct {
	Name       string     `json:"name"`
	Label      string     `json:"label,omitempty"`
	Table      string     `json:"table"`
	PrimaryKey PrimaryKey `json:"primary_key"`
	SoftDelete bool       `json:"soft_delete"`
	Group      string     `json:"group,omitempty"`
	Icon       string     `json:"icon,omitempty"`
	Order      int        `json:"order,omitempty"`
	Columns    []Column   `json:"columns"`
}

type PrimaryKey struct {
	Field     string `json:"field"`
	Type      string `json:"type"` // uuid, int, bigint, string
	Generated bool   `json:"generated"`
}

var identRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// ValidIdentifier reports whether s is safe to splice into SQL as a name.
func ValidIdentifier(s string) bool {
	return identRe.MatchString(s)
}

// DisplayLabel returns Label, or a title-cased Name when unset.
func (t *Table) DisplayLabel() string {
	if t.Label != "" {
		return t.Label
	}
	return humanize(t.Name)
}

// GetColumn returns a pointer to the column with the given name, or nil.
func (t *Table) GetColumn(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// HasColumn returns true if the table has a column with the given name.
func (t *Table) HasColumn(name string) bool {
	return t.GetColumn(name) != nil
}

// ColumnNames returns all column names.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// WritableColumns returns columns that can be set by the client.
// Excludes auto-generated PKs and auto-timestamp columns.
func (t *Table) WritableColumns() []Column {
	var cols []Column
	for _, c := range t.Columns {
		if c.Name == t.PrimaryKey.Field && t.PrimaryKey.Generated {
			continue
		}
		if c.IsAuto() {
			continue
		}
		cols = append(cols, c)
	}
	return cols
}

// UpdatableColumns returns columns that can be set on UPDATE.
func (t *Table) UpdatableColumns() []Column {
	var cols []Column
	for _, c := range t.Columns {
		if c.Name == t.PrimaryKey.Field || c.IsAuto() || c.Name == "deleted_at" {
			continue
		}
		cols = append(cols, c)
	}
	return cols
}

// BooleanColumns lists columns whose values SQLite returns as integers.
func (t *Table) BooleanColumns() []string {
	var out []string
	for _, c := range t.Columns {
		if c.Type == TypeBoolean {
			out = append(out, c.Name)
		}
	}
	return out
}

// Validate checks the definition before it is stored or migrated.
func (t *Table) Validate() error {
	var result error
	if !ValidIdentifier(t.Name) {
		result = multierror.Append(result, fmt.Errorf("invalid table name %q", t.Name))
	}
	if t.Table == "" {
		t.Table = t.Name
	}
	if !ValidIdentifier(t.Table) || strings.HasPrefix(t.Table, "_") {
		result = multierror.Append(result, fmt.Errorf("invalid storage table %q", t.Table))
	}
	if len(t.Columns) == 0 {
		result = multierror.Append(result, fmt.Errorf("table %s has no columns", t.Name))
	}
	if t.PrimaryKey.Field == "" {
		t.PrimaryKey = PrimaryKey{Field: "id", Type: "uuid", Generated: true}
	}

	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if seen[c.Name] {
			result = multierror.Append(result, fmt.Errorf("duplicate column %q", c.Name))
			continue
		}
		seen[c.Name] = true
		if err := c.Check(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if !seen[t.PrimaryKey.Field] {
		result = multierror.Append(result, fmt.Errorf("primary key %q is not a column", t.PrimaryKey.Field))
	}
	return result
}

func humanize(name string) string {
	parts := strings.Fields(strings.ReplaceAll(name, "_", " "))
	for i, p := range parts {
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}
