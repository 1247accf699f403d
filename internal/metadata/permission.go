package metadata

import "datagrid-backend/internal/filter"

// Permission actions.
const (
	ActionRead   = "read"
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionUpload = "upload"
	ActionExport = "export"
)

// Permission grants roles an action on a table. Conditions restrict the
// rows the grant covers and use the same filters as the data table.
type Permission struct {
	ID         string          `json:"id,omitempty"`
	Table      string          `json:"table"`
	Action     string          `json:"action"`
	Roles      []string        `json:"roles"`
	Conditions []filter.Filter `json:"conditions,omitempty"`
}

// Group returns the conditions as an AND-ed filter group.
func (p *Permission) Group() filter.Group {
	return filter.Group{Join: filter.JoinAnd, Filters: p.Conditions}
}
