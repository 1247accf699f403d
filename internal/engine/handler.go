package engine

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"datagrid-backend/internal/aggregate"
	"datagrid-backend/internal/export"
	"datagrid-backend/internal/filter"
	"datagrid-backend/internal/instrument"
	"datagrid-backend/internal/metadata"
	"datagrid-backend/internal/store"
)

type Handler struct {
	store    *store.Store
	registry *metadata.Registry
	eval     *filter.Evaluator
	loc      *time.Location
}

// NewHandler creates the row handler. Relative date filters use eval's clock;
// dates without a zone are read in loc.
func NewHandler(s *store.Store, reg *metadata.Registry, eval *filter.Evaluator, loc *time.Location) *Handler {
	if eval == nil {
		eval = filter.NewEvaluator(nil)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{store: s, registry: reg, eval: eval, loc: loc}
}

// List handles GET /api/:table
func (h *Handler) List(c *fiber.Ctx) error {
	tbl, err := h.resolveTable(c)
	if err != nil {
		return err
	}
	q, err := ParseListQuery(c, tbl)
	if err != nil {
		return err
	}
	return h.respondList(c, q)
}

// Query handles POST /api/:table/_query with a JSON filter body.
func (h *Handler) Query(c *fiber.Ctx) error {
	tbl, err := h.resolveTable(c)
	if err != nil {
		return err
	}
	var body QueryBody
	if err := c.BodyParser(&body); err != nil {
		return InvalidPayloadError("Invalid JSON body")
	}
	q, err := ParseQueryBody(body, tbl)
	if err != nil {
		return err
	}
	return h.respondList(c, q)
}

func (h *Handler) respondList(c *fiber.Ctx, q *ListQuery) error {
	rows, err := h.matchingRows(c, q, metadata.ActionRead)
	if err != nil {
		return err
	}
	SortRows(rows, q.Sorts)

	return c.JSON(fiber.Map{
		"data": Paginate(rows, q.Page, q.PerPage),
		"meta": fiber.Map{
			"page":     q.Page,
			"per_page": q.PerPage,
			"total":    len(rows),
		},
	})
}

// matchingRows loads the table and keeps the rows inside the user's scope for
// action that also satisfy the query's filters.
func (h *Handler) matchingRows(c *fiber.Ctx, q *ListQuery, action string) ([]map[string]any, error) {
	scope, err := Scope(getUser(c), q.Table.Name, action, h.registry)
	if err != nil {
		return nil, err
	}

	ctx := c.UserContext()
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "engine", "filter", "rows.filter")
	defer span.End()
	span.SetTable(q.Table.Name, "")

	rows, err := loadRows(ctx, h.store.DB, q.Table)
	if err != nil {
		span.SetStatus("error")
		return nil, fmt.Errorf("list %s: %w", q.Table.Name, err)
	}
	matched := h.eval.FilterRows(rows, filter.And(scope, q.Where))
	span.SetMetadata("rows", len(rows))
	span.SetMetadata("matched", len(matched))
	span.SetStatus("ok")
	return matched, nil
}

// GetByID handles GET /api/:table/:id
func (h *Handler) GetByID(c *fiber.Ctx) error {
	tbl, err := h.resolveTable(c)
	if err != nil {
		return err
	}
	row, err := h.fetch(c, tbl)
	if err != nil {
		return err
	}
	if err := CheckRecord(getUser(c), tbl.Name, metadata.ActionRead, h.registry, h.eval, row); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": row})
}

// Create handles POST /api/:table
func (h *Handler) Create(c *fiber.Ctx) error {
	tbl, err := h.resolveTable(c)
	if err != nil {
		return err
	}
	user := getUser(c)
	if _, err := Scope(user, tbl.Name, metadata.ActionCreate, h.registry); err != nil {
		return err
	}

	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return InvalidPayloadError("Invalid JSON body")
	}

	plan, appErr := PlanWrite(c.UserContext(), tbl, h.registry.GetRules(tbl.Name), body, nil, nil)
	if appErr != nil {
		return appErr
	}
	if err := CheckRecord(user, tbl.Name, metadata.ActionCreate, h.registry, h.eval, plan.Fields); err != nil {
		return err
	}

	record, err := h.execute(c, plan)
	if err != nil {
		return err
	}
	return c.Status(201).JSON(fiber.Map{"data": record})
}

// Update handles PUT /api/:table/:id
func (h *Handler) Update(c *fiber.Ctx) error {
	tbl, err := h.resolveTable(c)
	if err != nil {
		return err
	}
	current, err := h.fetch(c, tbl)
	if err != nil {
		return err
	}
	user := getUser(c)
	if err := CheckRecord(user, tbl.Name, metadata.ActionUpdate, h.registry, h.eval, current); err != nil {
		return err
	}

	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return InvalidPayloadError("Invalid JSON body")
	}

	plan, appErr := PlanWrite(c.UserContext(), tbl, h.registry.GetRules(tbl.Name), body, current, current[tbl.PrimaryKey.Field])
	if appErr != nil {
		return appErr
	}
	record, err := h.execute(c, plan)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": record})
}

// Delete handles DELETE /api/:table/:id
func (h *Handler) Delete(c *fiber.Ctx) error {
	tbl, err := h.resolveTable(c)
	if err != nil {
		return err
	}
	current, err := h.fetch(c, tbl)
	if err != nil {
		return err
	}
	if err := CheckRecord(getUser(c), tbl.Name, metadata.ActionDelete, h.registry, h.eval, current); err != nil {
		return err
	}

	id := current[tbl.PrimaryKey.Field]
	affected, err := deleteRecord(c.UserContext(), h.store.DB, h.store.Dialect, tbl, id)
	if err != nil {
		return fmt.Errorf("delete %s/%v: %w", tbl.Name, id, err)
	}
	if affected == 0 {
		return NotFoundError(tbl.Name, c.Params("id"))
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"id": id}})
}

// Export handles GET /api/:table/_export?format=csv|json|xlsx with the list filters.
func (h *Handler) Export(c *fiber.Ctx) error {
	tbl, err := h.resolveTable(c)
	if err != nil {
		return err
	}
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		return InvalidPayloadError(err.Error())
	}
	q, err := ParseListQuery(c, tbl)
	if err != nil {
		return err
	}
	if _, err := Scope(getUser(c), tbl.Name, metadata.ActionExport, h.registry); err != nil {
		return err
	}
	rows, err := h.matchingRows(c, q, metadata.ActionRead)
	if err != nil {
		return err
	}
	SortRows(rows, q.Sorts)

	var buf bytes.Buffer
	if err := export.New(tbl, h.loc).Write(&buf, format, rows); err != nil {
		return fmt.Errorf("export %s: %w", tbl.Name, err)
	}
	c.Attachment(format.Filename(tbl.Name, h.eval.Now().In(h.loc)))
	c.Set(fiber.HeaderContentType, format.ContentType())
	return c.Send(buf.Bytes())
}

type cardRequest struct {
	QueryBody
	Card aggregate.Card `json:"card"`
}

type chartRequest struct {
	QueryBody
	Chart aggregate.Chart `json:"chart"`
}

// Card handles POST /api/:table/_card
func (h *Handler) Card(c *fiber.Ctx) error {
	tbl, err := h.resolveTable(c)
	if err != nil {
		return err
	}
	var req cardRequest
	if err := c.BodyParser(&req); err != nil {
		return InvalidPayloadError("Invalid JSON body")
	}
	if req.Card.Column != "" && !tbl.HasColumn(req.Card.Column) {
		return &AppError{Code: "UNKNOWN_FIELD", Status: 400, Message: "Unknown column: " + req.Card.Column}
	}
	if err := req.Card.Validate(); err != nil {
		return InvalidPayloadError(err.Error())
	}
	q, err := ParseQueryBody(req.QueryBody, tbl)
	if err != nil {
		return err
	}
	rows, err := h.matchingRows(c, q, metadata.ActionRead)
	if err != nil {
		return err
	}
	result, err := req.Card.Compute(rows)
	if err != nil {
		return InvalidPayloadError(err.Error())
	}
	return c.JSON(fiber.Map{"data": result})
}

// Chart handles POST /api/:table/_chart
func (h *Handler) Chart(c *fiber.Ctx) error {
	tbl, err := h.resolveTable(c)
	if err != nil {
		return err
	}
	var req chartRequest
	if err := c.BodyParser(&req); err != nil {
		return InvalidPayloadError("Invalid JSON body")
	}
	for _, name := range []string{req.Chart.GroupBy, req.Chart.Column} {
		if name != "" && !tbl.HasColumn(name) {
			return &AppError{Code: "UNKNOWN_FIELD", Status: 400, Message: "Unknown column: " + name}
		}
	}
	if err := req.Chart.Validate(); err != nil {
		return InvalidPayloadError(err.Error())
	}
	q, err := ParseQueryBody(req.QueryBody, tbl)
	if err != nil {
		return err
	}
	rows, err := h.matchingRows(c, q, metadata.ActionRead)
	if err != nil {
		return err
	}

	label := func(key string) string { return key }
	if col := tbl.GetColumn(req.Chart.GroupBy); col != nil && len(col.Options) > 0 {
		label = col.OptionLabel
	}
	points, err := req.Chart.Compute(rows, h.loc, label)
	if err != nil {
		return InvalidPayloadError(err.Error())
	}
	return c.JSON(fiber.Map{"data": points})
}

func (h *Handler) execute(c *fiber.Ctx, plan *WritePlan) (map[string]any, error) {
	fields, appErr := plan.Encode(h.store.Dialect, h.loc, h.eval.Now())
	if appErr != nil {
		return nil, appErr
	}

	ctx := c.UserContext()
	id := plan.ID
	if plan.IsCreate {
		var err error
		id, err = insertRecord(ctx, h.store.DB, h.store.Dialect, plan.Table, fields)
		if err != nil {
			return nil, writeError(plan.Table, err)
		}
	} else {
		n, err := updateRecord(ctx, h.store.DB, h.store.Dialect, plan.Table, id, fields)
		if err != nil {
			return nil, writeError(plan.Table, err)
		}
		if n == 0 {
			return nil, NotFoundError(plan.Table.Name, fmt.Sprint(id))
		}
	}
	return fetchRecord(ctx, h.store.DB, h.store.Dialect, plan.Table, id)
}

func (h *Handler) fetch(c *fiber.Ctx, tbl *metadata.Table) (map[string]any, error) {
	id := c.Params("id")
	row, err := fetchRecord(c.UserContext(), h.store.DB, h.store.Dialect, tbl, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NotFoundError(tbl.Name, id)
		}
		return nil, fmt.Errorf("get %s/%s: %w", tbl.Name, id, err)
	}
	return row, nil
}

func (h *Handler) resolveTable(c *fiber.Ctx) (*metadata.Table, error) {
	name := c.Params("table")
	tbl := h.registry.GetTable(name)
	if tbl == nil {
		return nil, UnknownTableError(name)
	}
	return tbl, nil
}

func getUser(c *fiber.Ctx) *metadata.UserContext {
	user, _ := c.Locals("user").(*metadata.UserContext)
	return user
}

func writeError(tbl *metadata.Table, err error) error {
	switch {
	case errors.Is(err, store.ErrUniqueViolation):
		return ConflictError("A record with this value already exists")
	case errors.Is(err, store.ErrNotNullViolation):
		return ValidationError([]ErrorDetail{{Rule: "required", Message: "A required column is missing"}})
	}
	return fmt.Errorf("write %s: %w", tbl.Name, err)
}
