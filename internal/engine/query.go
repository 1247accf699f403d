package engine

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cast"

	"datagrid-backend/internal/filter"
	"datagrid-backend/internal/metadata"
)

const (
	defaultPerPage = 25
	maxPerPage     = 100
)

// ListQuery is a parsed list request: which rows, in which order, which page.
type ListQuery struct {
	Table   *metadata.Table
	Where   filter.Group
	Sorts   []OrderClause
	Page    int
	PerPage int
}

type OrderClause struct {
	Field string
	Desc  bool
}

// QueryBody is the JSON body of POST /api/:table/_query. Either Filters with
// JoinOperator, or a nested Group, may be given; both are AND-ed.
type QueryBody struct {
	Filters      []filter.Filter     `json:"filters"`
	JoinOperator filter.JoinOperator `json:"joinOperator"`
	Group        *filter.Group       `json:"group"`
	Sort         string              `json:"sort"`
	Page         int                 `json:"page"`
	PerPage      int                 `json:"per_page"`
}

// variantResolver resolves filterable columns of tbl to their variants.
func variantResolver(tbl *metadata.Table) filter.VariantResolver {
	return func(name string) (filter.Variant, bool) {
		col := tbl.GetColumn(name)
		if col == nil || !col.Filterable() {
			return "", false
		}
		return col.FilterVariant(), true
	}
}

// ParseListQuery reads filter[col.op]=v, join, sort, page and per_page.
func ParseListQuery(c *fiber.Ctx, tbl *metadata.Table) (*ListQuery, error) {
	set, err := filter.ParseQuery(c.Queries(), variantResolver(tbl))
	if err != nil {
		if errors.Is(err, filter.ErrUnknownColumn) {
			return nil, &AppError{Code: "UNKNOWN_FIELD", Status: 400, Message: err.Error()}
		}
		return nil, InvalidPayloadError(err.Error())
	}

	q := &ListQuery{Table: tbl, Where: set.Group()}
	if q.Sorts, err = parseSort(tbl, c.Query("sort")); err != nil {
		return nil, err
	}
	q.Page, q.PerPage = pageParams(c.Query("page"), c.Query("per_page"))
	return q, nil
}

// ParseQueryBody validates a JSON query body against the table's columns.
// Filter variants are filled in from the column definitions.
func ParseQueryBody(body QueryBody, tbl *metadata.Table) (*ListQuery, error) {
	where := filter.Group{Join: body.JoinOperator, Filters: body.Filters}
	if where.Join == "" {
		where.Join = filter.JoinAnd
	}
	if body.Group != nil {
		where = filter.And(where, *body.Group)
	}

	resolve := variantResolver(tbl)
	var details []ErrorDetail
	var fill func(g *filter.Group)
	fill = func(g *filter.Group) {
		for i := range g.Filters {
			f := &g.Filters[i]
			v, ok := resolve(f.ID)
			if !ok {
				details = append(details, ErrorDetail{Field: f.ID, Rule: "unknown", Message: fmt.Sprintf("Unknown filter field: %s", f.ID)})
				continue
			}
			if f.Variant == "" {
				f.Variant = v
			}
		}
		for i := range g.Groups {
			fill(&g.Groups[i])
		}
	}
	fill(&where)
	if len(details) > 0 {
		return nil, &AppError{Code: "UNKNOWN_FIELD", Status: 400, Message: "Unknown filter field", Details: details}
	}
	if err := filter.ValidateGroup(where); err != nil {
		return nil, InvalidPayloadError(err.Error())
	}

	sorts, err := parseSort(tbl, body.Sort)
	if err != nil {
		return nil, err
	}
	page, perPage := pageParams(strconv.Itoa(body.Page), strconv.Itoa(body.PerPage))
	return &ListQuery{Table: tbl, Where: where, Sorts: sorts, Page: page, PerPage: perPage}, nil
}

// parseSort reads "-created_at,name".
func parseSort(tbl *metadata.Table, param string) ([]OrderClause, error) {
	if param == "" {
		return nil, nil
	}
	var sorts []OrderClause
	for _, part := range strings.Split(param, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		clause := OrderClause{Field: part}
		if strings.HasPrefix(part, "-") {
			clause = OrderClause{Field: part[1:], Desc: true}
		}
		if !tbl.HasColumn(clause.Field) {
			return nil, &AppError{
				Code:    "UNKNOWN_FIELD",
				Status:  400,
				Message: fmt.Sprintf("Unknown sort field: %s", clause.Field),
			}
		}
		sorts = append(sorts, clause)
	}
	return sorts, nil
}

func pageParams(pageParam, perPageParam string) (int, int) {
	page, perPage := 1, defaultPerPage
	if v, err := strconv.Atoi(pageParam); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(perPageParam); err == nil && v > 0 {
		perPage = min(v, maxPerPage)
	}
	return page, perPage
}

// SortRows orders rows in place. Values are compared as numbers, then as
// times, then as case-insensitive text; blanks sort last in either direction.
func SortRows(rows []map[string]any, sorts []OrderClause) {
	if len(sorts) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, s := range sorts {
			c, decided := compareValues(rows[i][s.Field], rows[j][s.Field])
			if c == 0 {
				continue
			}
			if s.Desc && decided {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// compareValues returns -1, 0 or 1. decided is false when one side is blank;
// blanks compare greater so they stay last.
func compareValues(a, b any) (int, bool) {
	aBlank, bBlank := isBlank(a), isBlank(b)
	switch {
	case aBlank && bBlank:
		return 0, true
	case aBlank:
		return 1, false
	case bBlank:
		return -1, false
	}

	if fa, err := cast.ToFloat64E(a); err == nil {
		if fb, err := cast.ToFloat64E(b); err == nil {
			return cmp3(fa < fb, fa > fb), true
		}
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return cmp3(ta.Before(tb), ta.After(tb)), true
		}
	}
	sa, sb := strings.ToLower(cast.ToString(a)), strings.ToLower(cast.ToString(b))
	return cmp3(sa < sb, sa > sb), true
}

func cmp3(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	}
	return 0
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

// Paginate returns one page of rows.
func Paginate(rows []map[string]any, page, perPage int) []map[string]any {
	start := min((page-1)*perPage, len(rows))
	end := min(start+perPage, len(rows))
	return rows[start:end]
}
