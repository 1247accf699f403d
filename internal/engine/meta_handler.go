package engine

import (
	"github.com/gofiber/fiber/v2"

	"datagrid-backend/internal/filter"
	"datagrid-backend/internal/metadata"
	"datagrid-backend/internal/upload"
)

// MetaHandler describes readable tables to the UI: columns, filter
// operators, upload templates and the sidebar.
type MetaHandler struct {
	registry *metadata.Registry
}

func NewMetaHandler(reg *metadata.Registry) *MetaHandler {
	return &MetaHandler{registry: reg}
}

// ColumnMeta is a column as the UI sees it.
type ColumnMeta struct {
	metadata.Column
	Label      string            `json:"label"`
	Filterable bool              `json:"filterable"`
	Variant    filter.Variant    `json:"variant,omitempty"`
	Operators  []filter.Operator `json:"operators,omitempty"`
}

// TableMeta is a table definition with UI hints for each column.
type TableMeta struct {
	Name       string                  `json:"name"`
	Label      string                  `json:"label"`
	PrimaryKey string                  `json:"primary_key"`
	Group      string                  `json:"group,omitempty"`
	Icon       string                  `json:"icon,omitempty"`
	Columns    []ColumnMeta            `json:"columns"`
	Upload     []upload.ColumnTemplate `json:"upload"`
}

func describeTable(tbl *metadata.Table) TableMeta {
	tm := TableMeta{
		Name:       tbl.Name,
		Label:      tbl.DisplayLabel(),
		PrimaryKey: tbl.PrimaryKey.Field,
		Group:      tbl.Group,
		Icon:       tbl.Icon,
		Upload:     upload.FromTable(tbl),
	}
	for _, col := range tbl.Columns {
		if col.Hidden {
			continue
		}
		cm := ColumnMeta{Column: col, Label: col.DisplayLabel(), Filterable: col.Filterable()}
		if cm.Filterable {
			cm.Variant = col.FilterVariant()
			cm.Operators = filter.OperatorsFor(cm.Variant)
		}
		tm.Columns = append(tm.Columns, cm)
	}
	return tm
}

// Tables handles GET /api/_meta/tables
func (h *MetaHandler) Tables(c *fiber.Ctx) error {
	user := getUser(c)
	out := []TableMeta{}
	for _, tbl := range h.registry.AllTables() {
		if CanRead(user, tbl, h.registry) {
			out = append(out, describeTable(tbl))
		}
	}
	return c.JSON(fiber.Map{"data": out})
}

// Table handles GET /api/_meta/tables/:table
func (h *MetaHandler) Table(c *fiber.Ctx) error {
	name := c.Params("table")
	tbl := h.registry.GetTable(name)
	if tbl == nil {
		return UnknownTableError(name)
	}
	if _, err := Scope(getUser(c), tbl.Name, metadata.ActionRead, h.registry); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": describeTable(tbl)})
}

// Nav handles GET /api/_meta/nav
func (h *MetaHandler) Nav(c *fiber.Ctx) error {
	user := getUser(c)
	nav := metadata.BuildNav(h.registry.AllTables(), func(t *metadata.Table) bool {
		return CanRead(user, t, h.registry)
	})
	if nav == nil {
		nav = []metadata.NavGroup{}
	}
	return c.JSON(fiber.Map{"data": nav})
}

// Operators handles GET /api/_meta/operators
func (h *MetaHandler) Operators(c *fiber.Ctx) error {
	out := make(map[filter.Variant][]filter.Operator)
	for _, v := range filter.Variants() {
		out[v] = filter.OperatorsFor(v)
	}
	return c.JSON(fiber.Map{"data": out})
}
