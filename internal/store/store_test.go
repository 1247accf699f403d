package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datagrid-backend/internal/config"
	"datagrid-backend/internal/metadata"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), config.DatabaseConfig{Driver: "sqlite", Path: t.TempDir(), Name: "test"})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func sitesTable() *metadata.Table {
	return &metadata.Table{
		Name:       "sites",
		Table:      "sites",
		PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "uuid", Generated: true},
		SoftDelete: true,
		Columns: []metadata.Column{
			{Name: "id", Type: metadata.TypeUUID},
			{Name: "code", Type: metadata.TypeText, Required: true, Unique: true},
			{Name: "capacity", Type: metadata.TypeNumber},
			{Name: "active", Type: metadata.TypeBoolean, Default: true},
			{Name: "opened_on", Type: metadata.TypeDate},
			{Name: "tags", Type: metadata.TypeMultiSelect, Options: []metadata.Option{{Label: "A", Value: "a"}}},
		},
	}
}

func TestBootstrap_SeedsAdminOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Bootstrap(ctx, "admin@localhost", "changeme"))
	require.NoError(t, s.Bootstrap(ctx, "other@localhost", "changeme"))

	rows, err := QueryRows(ctx, s.DB, "SELECT email, roles FROM _users")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "admin@localhost", rows[0]["email"])
	assert.Equal(t, `["admin"]`, rows[0]["roles"])
}

func TestSeedTables_KeepsStoredDefinition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Bootstrap(ctx, "", ""))

	n, err := s.SeedTables(ctx, []*metadata.Table{sitesTable()})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	exists, err := s.Dialect.TableExists(ctx, s.DB, "sites")
	require.NoError(t, err)
	assert.True(t, exists)

	n, err = s.SeedTables(ctx, []*metadata.Table{sitesTable()})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMigrator_CreateThenAlter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := NewMigrator(s)

	tbl := sitesTable()
	require.NoError(t, m.Migrate(ctx, tbl))

	cols, err := s.Dialect.GetColumns(ctx, s.DB, "sites")
	require.NoError(t, err)
	assert.Contains(t, cols, "deleted_at")
	assert.Equal(t, "REAL", cols["capacity"])

	tbl.Columns = append(tbl.Columns, metadata.Column{Name: "region", Type: metadata.TypeSelect, Required: true,
		Options: []metadata.Option{{Label: "North", Value: "N"}}})
	require.NoError(t, m.Migrate(ctx, tbl))

	cols, err = s.Dialect.GetColumns(ctx, s.DB, "sites")
	require.NoError(t, err)
	assert.Equal(t, "TEXT", cols["region"])

	// unique index
	_, err = s.DB.ExecContext(ctx, "INSERT INTO sites (id, code) VALUES ('1', 'PNQ')")
	require.NoError(t, err)
	_, err = s.DB.ExecContext(ctx, "INSERT INTO sites (id, code) VALUES ('2', 'PNQ')")
	require.Error(t, err)
	assert.True(t, errors.Is(MapError(s.Dialect, err), ErrUniqueViolation))

	row, err := QueryRow(ctx, s.DB, "SELECT active FROM sites WHERE id = '1'")
	require.NoError(t, err)
	assert.EqualValues(t, 1, row["active"])
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tbl := sitesTable()
	require.NoError(t, NewMigrator(s).Migrate(ctx, tbl))

	enc, err := EncodeRecord(s.Dialect, tbl, map[string]any{
		"id":        "s-1",
		"code":      "PNQ",
		"capacity":  "12.5",
		"active":    false,
		"opened_on": "2024-03-15",
		"tags":      []any{"a"},
		"unknown":   "dropped",
	}, time.UTC)
	require.NoError(t, err)
	assert.NotContains(t, enc, "unknown")
	assert.Equal(t, int64(0), enc["active"])

	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO sites (id, code, capacity, active, opened_on, tags) VALUES (?1, ?2, ?3, ?4, ?5, ?6)",
			enc["id"], enc["code"], enc["capacity"], enc["active"], enc["opened_on"], enc["tags"])
		return err
	})
	require.NoError(t, err)

	rows, err := QueryRows(ctx, s.DB, "SELECT id, code, capacity, active, opened_on, tags FROM sites")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	DecodeRows(tbl, rows)

	row := rows[0]
	assert.Equal(t, 12.5, row["capacity"])
	assert.Equal(t, false, row["active"])
	assert.Equal(t, "2024-03-15", row["opened_on"])
	assert.Equal(t, []any{"a"}, row["tags"])
}

func TestWithTx_RollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, NewMigrator(s).Migrate(ctx, sitesTable()))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO sites (id, code) VALUES ('1', 'PNQ')"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = QueryRow(ctx, s.DB, "SELECT id FROM sites")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEncodeValue(t *testing.T) {
	pg := &PostgresDialect{}
	loc := time.FixedZone("IST", 5*3600+1800)

	v, err := EncodeValue(pg, metadata.Column{Type: metadata.TypeDateTime}, "2024-03-15 10:00:00", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 15, 10, 0, 0, 0, loc).Unix(), v.(time.Time).Unix())

	v, err = EncodeValue(pg, metadata.Column{Type: metadata.TypeBoolean}, "true", loc)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = EncodeValue(pg, metadata.Column{Type: metadata.TypeInt}, "  ", loc)
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = EncodeValue(pg, metadata.Column{Type: metadata.TypeNumber}, "abc", loc)
	assert.Error(t, err)
}
