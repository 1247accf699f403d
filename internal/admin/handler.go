package admin

import (
	"errors"
	"fmt"
	"slices"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cast"

	"datagrid-backend/internal/engine"
	"datagrid-backend/internal/filter"
	"datagrid-backend/internal/metadata"
	"datagrid-backend/internal/rules"
	"datagrid-backend/internal/store"
)

type Handler struct {
	store    *store.Store
	registry *metadata.Registry
	migrator *store.Migrator
}

func NewHandler(s *store.Store, reg *metadata.Registry, mig *store.Migrator) *Handler {
	return &Handler{store: s, registry: reg, migrator: mig}
}

// RegisterAdminRoutes mounts /_admin on api behind the given middleware.
func RegisterAdminRoutes(api fiber.Router, h *Handler, middleware ...fiber.Handler) {
	admin := api.Group("/_admin", middleware...)

	admin.Get("/tables", h.ListTables)
	admin.Get("/tables/:name", h.GetTable)
	admin.Post("/tables", h.CreateTable)
	admin.Put("/tables/:name", h.UpdateTable)
	admin.Delete("/tables/:name", h.DeleteTable)

	admin.Get("/rules", h.ListRules)
	admin.Post("/rules", h.CreateRule)
	admin.Put("/rules/:id", h.UpdateRule)
	admin.Delete("/rules/:id", h.DeleteRule)

	admin.Get("/permissions", h.ListPermissions)
	admin.Post("/permissions", h.CreatePermission)
	admin.Put("/permissions/:id", h.UpdatePermission)
	admin.Delete("/permissions/:id", h.DeletePermission)
}

// --- Table Endpoints ---

func (h *Handler) ListTables(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.registry.AllTables()})
}

func (h *Handler) GetTable(c *fiber.Ctx) error {
	name := c.Params("name")
	tbl := h.registry.GetTable(name)
	if tbl == nil {
		return engine.UnknownTableError(name)
	}
	return c.JSON(fiber.Map{"data": tbl})
}

func (h *Handler) CreateTable(c *fiber.Ctx) error {
	var tbl metadata.Table
	if err := c.BodyParser(&tbl); err != nil {
		return engine.InvalidPayloadError("Invalid JSON body")
	}
	if err := tbl.Validate(); err != nil {
		return validationError(err)
	}
	if h.registry.GetTable(tbl.Name) != nil {
		return engine.ConflictError("Table already exists: " + tbl.Name)
	}

	defJSON, err := json.Marshal(tbl)
	if err != nil {
		return fmt.Errorf("marshal table: %w", err)
	}

	ctx := c.UserContext()
	_, err = store.Exec(ctx, h.store.DB,
		fmt.Sprintf("INSERT INTO _tables (name, definition) VALUES (%s, %s)", h.ph(1), h.ph(2)),
		tbl.Name, string(defJSON))
	if err != nil {
		if errors.Is(store.MapError(h.store.Dialect, err), store.ErrUniqueViolation) {
			return engine.ConflictError("Table already exists: " + tbl.Name)
		}
		return fmt.Errorf("insert table: %w", err)
	}

	if err := h.migrator.Migrate(ctx, &tbl); err != nil {
		return fmt.Errorf("migrate table %s: %w", tbl.Name, err)
	}
	if err := metadata.Reload(ctx, h.store.DB, h.registry); err != nil {
		return fmt.Errorf("reload registry: %w", err)
	}
	return c.Status(201).JSON(fiber.Map{"data": tbl})
}

// UpdateTable replaces a definition. New columns are added to the storage
// table; removed columns are left in place.
func (h *Handler) UpdateTable(c *fiber.Ctx) error {
	name := c.Params("name")
	if h.registry.GetTable(name) == nil {
		return engine.UnknownTableError(name)
	}

	var tbl metadata.Table
	if err := c.BodyParser(&tbl); err != nil {
		return engine.InvalidPayloadError("Invalid JSON body")
	}
	tbl.Name = name // ensure name matches URL
	if err := tbl.Validate(); err != nil {
		return validationError(err)
	}

	defJSON, err := json.Marshal(tbl)
	if err != nil {
		return fmt.Errorf("marshal table: %w", err)
	}

	ctx := c.UserContext()
	_, err = store.Exec(ctx, h.store.DB,
		fmt.Sprintf("UPDATE _tables SET definition = %s, updated_at = %s WHERE name = %s", h.ph(1), h.store.Dialect.NowExpr(), h.ph(2)),
		string(defJSON), name)
	if err != nil {
		return fmt.Errorf("update table: %w", err)
	}

	if err := h.migrator.Migrate(ctx, &tbl); err != nil {
		return fmt.Errorf("migrate table %s: %w", tbl.Name, err)
	}
	if err := metadata.Reload(ctx, h.store.DB, h.registry); err != nil {
		return fmt.Errorf("reload registry: %w", err)
	}
	return c.JSON(fiber.Map{"data": tbl})
}

// DeleteTable removes the definition, its rules and permissions. The storage
// table and its rows are kept.
func (h *Handler) DeleteTable(c *fiber.Ctx) error {
	name := c.Params("name")
	if h.registry.GetTable(name) == nil {
		return engine.UnknownTableError(name)
	}

	ctx := c.UserContext()
	for _, sql := range []string{
		"DELETE FROM _rules WHERE table_name = %s",
		"DELETE FROM _permissions WHERE table_name = %s",
		"DELETE FROM _tables WHERE name = %s",
	} {
		if _, err := store.Exec(ctx, h.store.DB, fmt.Sprintf(sql, h.ph(1)), name); err != nil {
			return fmt.Errorf("delete table %s: %w", name, err)
		}
	}

	if err := metadata.Reload(ctx, h.store.DB, h.registry); err != nil {
		return fmt.Errorf("reload registry: %w", err)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"name": name, "deleted": true}})
}

// --- Rule Endpoints ---

func (h *Handler) ListRules(c *fiber.Ctx) error {
	sql := "SELECT id, table_name, type, definition, priority, active FROM _rules"
	var args []any
	if table := c.Query("table"); table != "" {
		sql += " WHERE table_name = " + h.ph(1)
		args = append(args, table)
	}
	sql += " ORDER BY table_name, priority"

	rows, err := store.QueryRows(c.UserContext(), h.store.DB, sql, args...)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}
	out := make([]*metadata.Rule, 0, len(rows))
	for _, row := range rows {
		r := &metadata.Rule{
			ID:       cast.ToString(row["id"]),
			Table:    cast.ToString(row["table_name"]),
			Type:     cast.ToString(row["type"]),
			Priority: cast.ToInt(row["priority"]),
			Active:   cast.ToBool(row["active"]),
		}
		if err := decodeJSON(row["definition"], &r.Definition); err != nil {
			return fmt.Errorf("decode rule %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return c.JSON(fiber.Map{"data": out})
}

func (h *Handler) CreateRule(c *fiber.Ctx) error {
	rule, err := h.parseRule(c)
	if err != nil {
		return err
	}
	rule.ID = uuid.NewString()

	defJSON, err := json.Marshal(rule.Definition)
	if err != nil {
		return fmt.Errorf("marshal rule: %w", err)
	}
	pb := h.store.Dialect.NewParamBuilder()
	sql := fmt.Sprintf("INSERT INTO _rules (id, table_name, type, definition, priority, active) VALUES (%s, %s, %s, %s, %s, %s)",
		pb.Add(rule.ID), pb.Add(rule.Table), pb.Add(rule.Type), pb.Add(string(defJSON)), pb.Add(rule.Priority), pb.Add(rule.Active))
	if _, err := store.Exec(c.UserContext(), h.store.DB, sql, pb.Params()...); err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}

	if err := metadata.Reload(c.UserContext(), h.store.DB, h.registry); err != nil {
		return fmt.Errorf("reload registry: %w", err)
	}
	return c.Status(201).JSON(fiber.Map{"data": rule})
}

func (h *Handler) UpdateRule(c *fiber.Ctx) error {
	rule, err := h.parseRule(c)
	if err != nil {
		return err
	}
	rule.ID = c.Params("id")

	defJSON, err := json.Marshal(rule.Definition)
	if err != nil {
		return fmt.Errorf("marshal rule: %w", err)
	}
	pb := h.store.Dialect.NewParamBuilder()
	sql := fmt.Sprintf("UPDATE _rules SET table_name = %s, type = %s, definition = %s, priority = %s, active = %s, updated_at = %s WHERE id = %s",
		pb.Add(rule.Table), pb.Add(rule.Type), pb.Add(string(defJSON)), pb.Add(rule.Priority), pb.Add(rule.Active),
		h.store.Dialect.NowExpr(), pb.Add(rule.ID))
	n, err := store.Exec(c.UserContext(), h.store.DB, sql, pb.Params()...)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	if n == 0 {
		return engine.NotFoundError("rule", rule.ID)
	}

	if err := metadata.Reload(c.UserContext(), h.store.DB, h.registry); err != nil {
		return fmt.Errorf("reload registry: %w", err)
	}
	return c.JSON(fiber.Map{"data": rule})
}

func (h *Handler) DeleteRule(c *fiber.Ctx) error {
	return h.deleteByID(c, "_rules", "rule")
}

// parseRule reads a rule body and checks that it compiles.
func (h *Handler) parseRule(c *fiber.Ctx) (*metadata.Rule, error) {
	rule := &metadata.Rule{Active: true}
	if err := c.BodyParser(rule); err != nil {
		return nil, engine.InvalidPayloadError("Invalid JSON body")
	}
	if h.registry.GetTable(rule.Table) == nil {
		return nil, engine.UnknownTableError(rule.Table)
	}
	if err := rules.Check(rule); err != nil {
		return nil, engine.ValidationError([]engine.ErrorDetail{{Rule: rule.Type, Message: err.Error()}})
	}
	if f := rule.Definition.Field; f != "" && !h.registry.GetTable(rule.Table).HasColumn(f) {
		return nil, engine.ValidationError([]engine.ErrorDetail{{Field: f, Rule: rule.Type, Message: "Unknown column: " + f}})
	}
	return rule, nil
}

// --- Permission Endpoints ---

func (h *Handler) ListPermissions(c *fiber.Ctx) error {
	sql := "SELECT id, table_name, action, roles, conditions FROM _permissions"
	var args []any
	if table := c.Query("table"); table != "" {
		sql += " WHERE table_name = " + h.ph(1)
		args = append(args, table)
	}
	sql += " ORDER BY table_name, action"

	rows, err := store.QueryRows(c.UserContext(), h.store.DB, sql, args...)
	if err != nil {
		return fmt.Errorf("list permissions: %w", err)
	}
	out := make([]*metadata.Permission, 0, len(rows))
	for _, row := range rows {
		p := &metadata.Permission{
			ID:     cast.ToString(row["id"]),
			Table:  cast.ToString(row["table_name"]),
			Action: cast.ToString(row["action"]),
		}
		if err := decodeJSON(row["roles"], &p.Roles); err != nil {
			return fmt.Errorf("decode permission %s roles: %w", p.ID, err)
		}
		if err := decodeJSON(row["conditions"], &p.Conditions); err != nil {
			return fmt.Errorf("decode permission %s conditions: %w", p.ID, err)
		}
		out = append(out, p)
	}
	return c.JSON(fiber.Map{"data": out})
}

func (h *Handler) CreatePermission(c *fiber.Ctx) error {
	p, err := h.parsePermission(c)
	if err != nil {
		return err
	}
	p.ID = uuid.NewString()

	roles, conds, err := permissionJSON(p)
	if err != nil {
		return err
	}
	pb := h.store.Dialect.NewParamBuilder()
	sql := fmt.Sprintf("INSERT INTO _permissions (id, table_name, action, roles, conditions) VALUES (%s, %s, %s, %s, %s)",
		pb.Add(p.ID), pb.Add(p.Table), pb.Add(p.Action), pb.Add(roles), pb.Add(conds))
	if _, err := store.Exec(c.UserContext(), h.store.DB, sql, pb.Params()...); err != nil {
		return fmt.Errorf("insert permission: %w", err)
	}

	if err := metadata.Reload(c.UserContext(), h.store.DB, h.registry); err != nil {
		return fmt.Errorf("reload registry: %w", err)
	}
	return c.Status(201).JSON(fiber.Map{"data": p})
}

func (h *Handler) UpdatePermission(c *fiber.Ctx) error {
	p, err := h.parsePermission(c)
	if err != nil {
		return err
	}
	p.ID = c.Params("id")

	roles, conds, err := permissionJSON(p)
	if err != nil {
		return err
	}
	pb := h.store.Dialect.NewParamBuilder()
	sql := fmt.Sprintf("UPDATE _permissions SET table_name = %s, action = %s, roles = %s, conditions = %s, updated_at = %s WHERE id = %s",
		pb.Add(p.Table), pb.Add(p.Action), pb.Add(roles), pb.Add(conds), h.store.Dialect.NowExpr(), pb.Add(p.ID))
	n, err := store.Exec(c.UserContext(), h.store.DB, sql, pb.Params()...)
	if err != nil {
		return fmt.Errorf("update permission: %w", err)
	}
	if n == 0 {
		return engine.NotFoundError("permission", p.ID)
	}

	if err := metadata.Reload(c.UserContext(), h.store.DB, h.registry); err != nil {
		return fmt.Errorf("reload registry: %w", err)
	}
	return c.JSON(fiber.Map{"data": p})
}

func (h *Handler) DeletePermission(c *fiber.Ctx) error {
	return h.deleteByID(c, "_permissions", "permission")
}

var actions = []string{
	metadata.ActionRead, metadata.ActionCreate, metadata.ActionUpdate,
	metadata.ActionDelete, metadata.ActionUpload, metadata.ActionExport,
}

// parsePermission reads a permission body. Condition variants are taken from
// the table's columns so that conditions evaluate like list filters.
func (h *Handler) parsePermission(c *fiber.Ctx) (*metadata.Permission, error) {
	p := &metadata.Permission{}
	if err := c.BodyParser(p); err != nil {
		return nil, engine.InvalidPayloadError("Invalid JSON body")
	}
	tbl := h.registry.GetTable(p.Table)
	if tbl == nil {
		return nil, engine.UnknownTableError(p.Table)
	}

	var details []engine.ErrorDetail
	if !slices.Contains(actions, p.Action) {
		details = append(details, engine.ErrorDetail{Field: "action", Message: fmt.Sprintf("Unknown action %q", p.Action)})
	}
	if len(p.Roles) == 0 {
		details = append(details, engine.ErrorDetail{Field: "roles", Message: "At least one role is required"})
	}
	for i := range p.Conditions {
		cond := &p.Conditions[i]
		col := tbl.GetColumn(cond.ID)
		if col == nil || !col.Filterable() {
			details = append(details, engine.ErrorDetail{Field: "conditions", Message: "Unknown column: " + cond.ID})
			continue
		}
		if cond.Variant == "" {
			cond.Variant = col.FilterVariant()
		}
		if op, ok := filter.ParseOperator(string(cond.Operator)); ok {
			cond.Operator = op
		}
	}
	if len(details) == 0 {
		if err := filter.ValidateGroup(p.Group()); err != nil {
			details = append(details, engine.ErrorDetail{Field: "conditions", Message: err.Error()})
		}
	}
	if len(details) > 0 {
		return nil, engine.ValidationError(details)
	}
	return p, nil
}

func permissionJSON(p *metadata.Permission) (string, string, error) {
	roles, err := json.Marshal(p.Roles)
	if err != nil {
		return "", "", fmt.Errorf("marshal roles: %w", err)
	}
	conds := []byte("[]")
	if len(p.Conditions) > 0 {
		if conds, err = json.Marshal(p.Conditions); err != nil {
			return "", "", fmt.Errorf("marshal conditions: %w", err)
		}
	}
	return string(roles), string(conds), nil
}

func (h *Handler) deleteByID(c *fiber.Ctx, table, kind string) error {
	id := c.Params("id")
	n, err := store.Exec(c.UserContext(), h.store.DB, fmt.Sprintf("DELETE FROM %s WHERE id = %s", table, h.ph(1)), id)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, id, err)
	}
	if n == 0 {
		return engine.NotFoundError(kind, id)
	}
	if err := metadata.Reload(c.UserContext(), h.store.DB, h.registry); err != nil {
		return fmt.Errorf("reload registry: %w", err)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"id": id, "deleted": true}})
}

func (h *Handler) ph(n int) string {
	return h.store.Dialect.Placeholder(n)
}

// validationError lists every problem of a multierror as a detail.
func validationError(err error) *engine.AppError {
	var details []engine.ErrorDetail
	var merr *multierror.Error
	if errors.As(err, &merr) {
		for _, e := range merr.Errors {
			details = append(details, engine.ErrorDetail{Message: e.Error()})
		}
	} else {
		details = append(details, engine.ErrorDetail{Message: err.Error()})
	}
	return engine.ValidationError(details)
}

// decodeJSON decodes a JSON column that drivers return as text, bytes or,
// for JSONB, already decoded values.
func decodeJSON(v any, out any) error {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if t == "" {
			return nil
		}
		return json.Unmarshal([]byte(t), out)
	case []byte:
		return json.Unmarshal(t, out)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
