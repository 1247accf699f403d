package store

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"datagrid-backend/internal/logger"
	"datagrid-backend/internal/metadata"
)

// Bootstrap creates the system tables and, on an empty user table, a first
// admin account with the given credentials.
func (s *Store) Bootstrap(ctx context.Context, adminEmail, adminPassword string) error {
	if _, err := s.DB.ExecContext(ctx, s.Dialect.SystemTablesSQL()); err != nil {
		return fmt.Errorf("bootstrap system tables: %w", err)
	}
	if adminEmail == "" {
		return nil
	}
	if err := s.seedAdminUser(ctx, adminEmail, adminPassword); err != nil {
		return fmt.Errorf("seed admin user: %w", err)
	}
	return nil
}

func (s *Store) seedAdminUser(ctx context.Context, email, password string) error {
	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM _users").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	d := s.Dialect
	_, err = s.DB.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO _users (id, email, password_hash, roles) VALUES (%s, %s, %s, %s)",
			d.Placeholder(1), d.Placeholder(2), d.Placeholder(3), d.Placeholder(4)),
		uuid.NewString(), email, string(hash), `["admin"]`,
	)
	if err != nil {
		return MapError(d, err)
	}

	logger.Warnf("default admin user created (%s), change the password immediately", email)
	return nil
}

// SeedTables stores definitions loaded from disk. A table already present in
// _tables keeps its stored definition; the storage table is migrated either way.
func (s *Store) SeedTables(ctx context.Context, tables []*metadata.Table) (int, error) {
	migrator := NewMigrator(s)
	d := s.Dialect
	seeded := 0
	for _, tbl := range tables {
		def, err := json.Marshal(tbl)
		if err != nil {
			return seeded, fmt.Errorf("encode table %s: %w", tbl.Name, err)
		}
		n, err := Exec(ctx, s.DB,
			fmt.Sprintf("INSERT INTO _tables (name, definition) VALUES (%s, %s) ON CONFLICT (name) DO NOTHING",
				d.Placeholder(1), d.Placeholder(2)),
			tbl.Name, string(def))
		if err != nil {
			return seeded, fmt.Errorf("seed table %s: %w", tbl.Name, err)
		}
		if n == 0 {
			logger.Debugf("table %s already defined, keeping stored definition", tbl.Name)
		}
		seeded += int(n)
		if err := migrator.Migrate(ctx, tbl); err != nil {
			return seeded, fmt.Errorf("migrate table %s: %w", tbl.Name, err)
		}
	}
	return seeded, nil
}
