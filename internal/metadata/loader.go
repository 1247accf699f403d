package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/goccy/go-json"

	"datagrid-backend/internal/logger"
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// LoadAll reads tables, rules and permissions from the system tables and
// populates the registry.
func LoadAll(ctx context.Context, db Querier, reg *Registry) error {
	tables, err := loadTables(ctx, db)
	if err != nil {
		return fmt.Errorf("load tables: %w", err)
	}
	reg.Load(tables)

	rules, err := loadRules(ctx, db)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	reg.LoadRules(rules)

	perms, err := loadPermissions(ctx, db)
	if err != nil {
		return fmt.Errorf("load permissions: %w", err)
	}
	reg.LoadPermissions(perms)

	logger.Infof("Loaded %d tables, %d rules, %d permissions into registry", len(tables), len(rules), len(perms))
	return nil
}

// Reload is an alias for LoadAll, called after admin mutations.
func Reload(ctx context.Context, db Querier, reg *Registry) error {
	return LoadAll(ctx, db, reg)
}

func loadTables(ctx context.Context, db Querier) ([]*Table, error) {
	rows, err := db.QueryContext(ctx, "SELECT name, definition FROM _tables ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []*Table
	for rows.Next() {
		var name string
		var defJSON []byte
		if err := rows.Scan(&name, &defJSON); err != nil {
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		var t Table
		if err := json.Unmarshal(defJSON, &t); err != nil {
			logger.Warnf("skipping table %s (invalid JSON): %v", name, err)
			continue
		}
		tables = append(tables, &t)
	}
	return tables, rows.Err()
}

func loadRules(ctx context.Context, db Querier) ([]*Rule, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, table_name, type, definition, priority, active FROM _rules ORDER BY table_name, priority")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*Rule
	for rows.Next() {
		var r Rule
		var defJSON []byte
		if err := rows.Scan(&r.ID, &r.Table, &r.Type, &defJSON, &r.Priority, &r.Active); err != nil {
			return nil, fmt.Errorf("scan rule row: %w", err)
		}
		if err := json.Unmarshal(defJSON, &r.Definition); err != nil {
			logger.Warnf("skipping rule %s (invalid JSON): %v", r.ID, err)
			continue
		}
		rules = append(rules, &r)
	}
	return rules, rows.Err()
}

func loadPermissions(ctx context.Context, db Querier) ([]*Permission, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, table_name, action, roles, conditions FROM _permissions ORDER BY table_name, action")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []*Permission
	for rows.Next() {
		var p Permission
		var rolesJSON, condJSON []byte
		if err := rows.Scan(&p.ID, &p.Table, &p.Action, &rolesJSON, &condJSON); err != nil {
			return nil, fmt.Errorf("scan permission row: %w", err)
		}
		if err := json.Unmarshal(rolesJSON, &p.Roles); err != nil {
			logger.Warnf("skipping permission %s (invalid roles): %v", p.ID, err)
			continue
		}
		if len(condJSON) > 0 {
			if err := json.Unmarshal(condJSON, &p.Conditions); err != nil {
				logger.Warnf("skipping permission %s (invalid conditions): %v", p.ID, err)
				continue
			}
		}
		perms = append(perms, &p)
	}
	return perms, rows.Err()
}

// LoadTableFile reads one JSON table definition and validates it.
func LoadTableFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read table definition: %w", err)
	}
	var t Table
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return &t, nil
}

// LoadTableDir reads every *.json table definition in dir.
func LoadTableDir(dir string) ([]*Table, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	tables := make([]*Table, 0, len(paths))
	for _, p := range paths {
		t, err := LoadTableFile(p)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, nil
}
