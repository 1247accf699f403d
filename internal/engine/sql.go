package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"datagrid-backend/internal/metadata"
	"datagrid-backend/internal/store"
)

func selectColumns(tbl *metadata.Table) string {
	return strings.Join(tbl.ColumnNames(), ", ")
}

// loadRows reads every live row of tbl and decodes it to column types.
// Filtering, sorting and paging happen in memory on the decoded rows.
func loadRows(ctx context.Context, q store.Querier, tbl *metadata.Table) ([]map[string]any, error) {
	sql := fmt.Sprintf("SELECT %s FROM %s", selectColumns(tbl), tbl.Table)
	if tbl.SoftDelete {
		sql += " WHERE deleted_at IS NULL"
	}
	sql += " ORDER BY " + tbl.PrimaryKey.Field

	rows, err := store.QueryRows(ctx, q, sql)
	if err != nil {
		return nil, err
	}
	store.DecodeRows(tbl, rows)
	if rows == nil {
		rows = []map[string]any{}
	}
	return rows, nil
}

func fetchRecord(ctx context.Context, q store.Querier, d store.Dialect, tbl *metadata.Table, id any) (map[string]any, error) {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		selectColumns(tbl), tbl.Table, tbl.PrimaryKey.Field, d.Placeholder(1))
	if tbl.SoftDelete {
		sql += " AND deleted_at IS NULL"
	}

	row, err := store.QueryRow(ctx, q, sql, id)
	if err != nil {
		return nil, err
	}
	store.DecodeRows(tbl, []map[string]any{row})
	return row, nil
}

// stampAuto fills auto-managed timestamp columns.
func stampAuto(tbl *metadata.Table, fields map[string]any, isCreate bool, now time.Time) {
	for _, c := range tbl.Columns {
		if c.Auto == "update" || (c.Auto == "create" && isCreate) {
			fields[c.Name] = now
		}
	}
}

// insertRecord inserts fields (already encoded) and returns the primary key.
func insertRecord(ctx context.Context, q store.Querier, d store.Dialect, tbl *metadata.Table, fields map[string]any) (any, error) {
	pk := tbl.PrimaryKey
	if pk.Generated && pk.Type != metadata.TypeInt && fields[pk.Field] == nil {
		fields[pk.Field] = uuid.NewString()
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	pb := d.NewParamBuilder()
	phs := make([]string, len(names))
	for i, name := range names {
		phs[i] = pb.Add(fields[name])
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		tbl.Table, strings.Join(names, ", "), strings.Join(phs, ", "), pk.Field)
	row, err := store.QueryRow(ctx, q, sql, pb.Params()...)
	if err != nil {
		return nil, store.MapError(d, err)
	}
	return row[pk.Field], nil
}

func updateRecord(ctx context.Context, q store.Querier, d store.Dialect, tbl *metadata.Table, id any, fields map[string]any) (int64, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		if name != tbl.PrimaryKey.Field {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return 1, nil
	}
	sort.Strings(names)

	pb := d.NewParamBuilder()
	sets := make([]string, len(names))
	for i, name := range names {
		sets[i] = fmt.Sprintf("%s = %s", name, pb.Add(fields[name]))
	}
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		tbl.Table, strings.Join(sets, ", "), tbl.PrimaryKey.Field, pb.Add(id))
	if tbl.SoftDelete {
		sql += " AND deleted_at IS NULL"
	}

	n, err := store.Exec(ctx, q, sql, pb.Params()...)
	return n, store.MapError(d, err)
}

func deleteRecord(ctx context.Context, q store.Querier, d store.Dialect, tbl *metadata.Table, id any) (int64, error) {
	var sql string
	if tbl.SoftDelete {
		sql = fmt.Sprintf("UPDATE %s SET deleted_at = %s WHERE %s = %s AND deleted_at IS NULL",
			tbl.Table, d.NowExpr(), tbl.PrimaryKey.Field, d.Placeholder(1))
	} else {
		sql = fmt.Sprintf("DELETE FROM %s WHERE %s = %s", tbl.Table, tbl.PrimaryKey.Field, d.Placeholder(1))
	}
	return store.Exec(ctx, q, sql, id)
}
