package store

import (
	"context"
	"fmt"
	"strings"

	"datagrid-backend/internal/logger"
	"datagrid-backend/internal/metadata"
)

type Migrator struct {
	store *Store
}

func NewMigrator(store *Store) *Migrator {
	return &Migrator{store: store}
}

// Migrate ensures the storage table matches the table definition.
// Creates the table if it doesn't exist, or adds missing columns.
// Columns are never dropped or retyped.
func (m *Migrator) Migrate(ctx context.Context, tbl *metadata.Table) error {
	exists, err := m.store.Dialect.TableExists(ctx, m.store.DB, tbl.Table)
	if err != nil {
		return fmt.Errorf("check table exists: %w", err)
	}
	if !exists {
		return m.createTable(ctx, tbl)
	}
	return m.alterTable(ctx, tbl)
}

func (m *Migrator) createTable(ctx context.Context, tbl *metadata.Table) error {
	cols := make([]string, 0, len(tbl.Columns)+1)
	for i := range tbl.Columns {
		cols = append(cols, m.columnDef(tbl, &tbl.Columns[i]))
	}
	if tbl.SoftDelete && !tbl.HasColumn("deleted_at") {
		cols = append(cols, "deleted_at "+m.store.Dialect.ColumnType(metadata.TypeDateTime, 0))
	}

	ddl := fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", tbl.Table, strings.Join(cols, ",\n  "))
	if _, err := m.store.DB.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", tbl.Table, err)
	}
	logger.Infof("created table %s (%d columns)", tbl.Table, len(cols))

	if err := m.createIndexes(ctx, tbl); err != nil {
		return fmt.Errorf("create indexes for %s: %w", tbl.Table, err)
	}
	return nil
}

func (m *Migrator) alterTable(ctx context.Context, tbl *metadata.Table) error {
	existing, err := m.store.Dialect.GetColumns(ctx, m.store.DB, tbl.Table)
	if err != nil {
		return fmt.Errorf("get columns for %s: %w", tbl.Table, err)
	}

	var added []string
	for _, c := range tbl.Columns {
		if _, ok := existing[c.Name]; ok {
			continue
		}
		// existing rows would violate NOT NULL, so added columns stay nullable
		ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", tbl.Table, c.Name, m.store.Dialect.ColumnType(c.Type, c.Precision))
		if _, err := m.store.DB.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("add column %s.%s: %w", tbl.Table, c.Name, err)
		}
		added = append(added, c.Name)
	}

	if _, ok := existing["deleted_at"]; tbl.SoftDelete && !ok && !tbl.HasColumn("deleted_at") {
		ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN deleted_at %s", tbl.Table, m.store.Dialect.ColumnType(metadata.TypeDateTime, 0))
		if _, err := m.store.DB.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("add deleted_at column to %s: %w", tbl.Table, err)
		}
		added = append(added, "deleted_at")
	}
	if len(added) > 0 {
		logger.Infof("altered table %s: added %s", tbl.Table, strings.Join(added, ", "))
	}

	if err := m.createIndexes(ctx, tbl); err != nil {
		return fmt.Errorf("create indexes for %s: %w", tbl.Table, err)
	}
	return nil
}

func (m *Migrator) columnDef(tbl *metadata.Table, c *metadata.Column) string {
	d := m.store.Dialect
	if c.Name == tbl.PrimaryKey.Field {
		if tbl.PrimaryKey.Generated && c.Type == metadata.TypeInt {
			if d.Name() == "sqlite" {
				return c.Name + " INTEGER PRIMARY KEY AUTOINCREMENT"
			}
			return c.Name + " BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY"
		}
		def := c.Name + " " + d.ColumnType(c.Type, c.Precision) + " PRIMARY KEY"
		if tbl.PrimaryKey.Generated && c.Type == metadata.TypeUUID && d.UUIDDefault() != "" {
			def += " " + d.UUIDDefault()
		}
		return def
	}

	def := c.Name + " " + d.ColumnType(c.Type, c.Precision)
	if c.Required && !c.Nullable {
		def += " NOT NULL"
	}
	if lit, ok := defaultLiteral(d, c); ok {
		def += " DEFAULT " + lit
	}
	return def
}

// defaultLiteral renders a column default as SQL. Unsupported defaults are
// left to the application.
func defaultLiteral(d Dialect, c *metadata.Column) (string, bool) {
	if c.Default == nil || c.IsAuto() {
		return "", false
	}
	switch v := c.Default.(type) {
	case bool:
		if d.NeedsBoolFix() {
			if v {
				return "1", true
			}
			return "0", true
		}
		return fmt.Sprintf("%t", v), true
	case float64, int, int64:
		return fmt.Sprintf("%v", v), true
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'", true
	}
	return "", false
}

func (m *Migrator) createIndexes(ctx context.Context, tbl *metadata.Table) error {
	for _, c := range tbl.Columns {
		if !c.Unique || c.Name == tbl.PrimaryKey.Field {
			continue
		}
		ddl := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)", tbl.Table, c.Name, tbl.Table, c.Name)
		if _, err := m.store.DB.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create unique index on %s.%s: %w", tbl.Table, c.Name, err)
		}
	}

	if tbl.SoftDelete {
		if _, err := m.store.DB.ExecContext(ctx, m.store.Dialect.SoftDeleteIndexSQL(tbl.Table)); err != nil {
			return fmt.Errorf("create soft delete index on %s: %w", tbl.Table, err)
		}
	}
	return nil
}
