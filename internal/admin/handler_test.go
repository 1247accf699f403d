package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datagrid-backend/internal/config"
	"datagrid-backend/internal/engine"
	"datagrid-backend/internal/metadata"
	"datagrid-backend/internal/store"
)

func testApp(t *testing.T) (*fiber.App, *store.Store, *metadata.Registry) {
	t.Helper()
	ctx := context.Background()
	s, err := store.New(ctx, config.DatabaseConfig{Driver: "sqlite", Path: t.TempDir(), Name: "admin"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.Bootstrap(ctx, "admin@localhost", "changeme"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	reg := metadata.NewRegistry()
	app := fiber.New(fiber.Config{ErrorHandler: engine.ErrorHandler})
	RegisterAdminRoutes(app.Group("/api"), NewHandler(s, reg, store.NewMigrator(s)))
	return app, s, reg
}

func doRequest(t *testing.T, app *fiber.App, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, path, reader)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("execute request: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	return resp.StatusCode, out
}

var productsDef = map[string]any{
	"name": "products",
	"columns": []any{
		map[string]any{"name": "id", "type": "uuid"},
		map[string]any{"name": "sku", "type": "text", "required": true, "unique": true},
		map[string]any{"name": "price", "type": "number"},
		map[string]any{"name": "status", "type": "select", "options": []any{
			map[string]any{"label": "Active", "value": "active"},
			map[string]any{"label": "Retired", "value": "retired"},
		}},
	},
}

func TestTableLifecycle(t *testing.T) {
	app, s, reg := testApp(t)
	ctx := context.Background()

	status, body := doRequest(t, app, "POST", "/api/_admin/tables", productsDef)
	require.Equal(t, 201, status, body)

	tbl := reg.GetTable("products")
	require.NotNil(t, tbl)
	assert.Equal(t, "products", tbl.Table)
	assert.Equal(t, "id", tbl.PrimaryKey.Field)

	exists, err := s.Dialect.TableExists(ctx, s.DB, "products")
	require.NoError(t, err)
	assert.True(t, exists)

	status, _ = doRequest(t, app, "POST", "/api/_admin/tables", productsDef)
	assert.Equal(t, 409, status)

	// adding a column migrates the storage table
	updated := map[string]any{
		"columns": append(productsDef["columns"].([]any), map[string]any{"name": "launched_on", "type": "date"}),
	}
	status, body = doRequest(t, app, "PUT", "/api/_admin/tables/products", updated)
	require.Equal(t, 200, status, body)
	cols, err := s.Dialect.GetColumns(ctx, s.DB, "products")
	require.NoError(t, err)
	assert.Contains(t, cols, "launched_on")
	assert.True(t, reg.GetTable("products").HasColumn("launched_on"))

	status, body = doRequest(t, app, "GET", "/api/_admin/tables", nil)
	require.Equal(t, 200, status)
	assert.Len(t, body["data"], 1)

	status, _ = doRequest(t, app, "DELETE", "/api/_admin/tables/products", nil)
	require.Equal(t, 200, status)
	assert.Nil(t, reg.GetTable("products"))

	status, _ = doRequest(t, app, "GET", "/api/_admin/tables/products", nil)
	assert.Equal(t, 404, status)
}

func TestCreateTable_ReportsEveryProblem(t *testing.T) {
	app, _, _ := testApp(t)

	status, body := doRequest(t, app, "POST", "/api/_admin/tables", map[string]any{
		"name": "Bad Name",
		"columns": []any{
			map[string]any{"name": "id", "type": "uuid"},
			map[string]any{"name": "kind", "type": "select"},
			map[string]any{"name": "kind", "type": "text"},
		},
	})
	require.Equal(t, 422, status)
	details := body["error"].(map[string]any)["details"].([]any)
	assert.GreaterOrEqual(t, len(details), 3)
}

func TestRules(t *testing.T) {
	app, _, reg := testApp(t)
	status, _ := doRequest(t, app, "POST", "/api/_admin/tables", productsDef)
	require.Equal(t, 201, status)

	status, body := doRequest(t, app, "POST", "/api/_admin/rules", map[string]any{
		"table": "products", "type": "expression",
		"definition": map[string]any{"expression": "record.price >", "message": "broken"},
	})
	require.Equal(t, 422, status, body)

	status, body = doRequest(t, app, "POST", "/api/_admin/rules", map[string]any{
		"table": "products", "type": "field",
		"definition": map[string]any{"field": "weight", "operator": "min", "value": 0},
	})
	require.Equal(t, 422, status, body)

	status, body = doRequest(t, app, "POST", "/api/_admin/rules", map[string]any{
		"table": "products", "type": "field", "priority": 5,
		"definition": map[string]any{"field": "price", "operator": "min", "value": 0, "message": "Price must not be negative"},
	})
	require.Equal(t, 201, status, body)
	id := body["data"].(map[string]any)["id"].(string)
	require.Len(t, reg.GetRules("products"), 1)

	status, body = doRequest(t, app, "GET", "/api/_admin/rules?table=products", nil)
	require.Equal(t, 200, status)
	listed := body["data"].([]any)
	require.Len(t, listed, 1)
	assert.Equal(t, "price", listed[0].(map[string]any)["definition"].(map[string]any)["field"])

	status, _ = doRequest(t, app, "PUT", "/api/_admin/rules/"+id, map[string]any{
		"table": "products", "type": "field", "active": false,
		"definition": map[string]any{"field": "price", "operator": "min", "value": 0},
	})
	require.Equal(t, 200, status)
	assert.Empty(t, reg.GetRules("products"))

	status, _ = doRequest(t, app, "DELETE", "/api/_admin/rules/"+id, nil)
	assert.Equal(t, 200, status)
	status, _ = doRequest(t, app, "DELETE", "/api/_admin/rules/"+id, nil)
	assert.Equal(t, 404, status)
}

func TestPermissions(t *testing.T) {
	app, _, reg := testApp(t)
	status, _ := doRequest(t, app, "POST", "/api/_admin/tables", productsDef)
	require.Equal(t, 201, status)

	status, body := doRequest(t, app, "POST", "/api/_admin/permissions", map[string]any{
		"table": "products", "action": "read", "roles": []any{"sales"},
		"conditions": []any{map[string]any{"id": "colour", "operator": "eq", "value": "red"}},
	})
	require.Equal(t, 422, status, body)

	status, body = doRequest(t, app, "POST", "/api/_admin/permissions", map[string]any{
		"table": "products", "action": "publish", "roles": []any{},
	})
	require.Equal(t, 422, status, body)
	assert.Len(t, body["error"].(map[string]any)["details"], 2)

	status, body = doRequest(t, app, "POST", "/api/_admin/permissions", map[string]any{
		"table": "products", "action": "read", "roles": []any{"sales"},
		"conditions": []any{map[string]any{"id": "status", "operator": "in", "value": []any{"active"}}},
	})
	require.Equal(t, 201, status, body)

	perms := reg.GetPermissions("products", "read")
	require.Len(t, perms, 1)
	assert.Equal(t, []string{"sales"}, perms[0].Roles)
	require.Len(t, perms[0].Conditions, 1)
	assert.Equal(t, "select", string(perms[0].Conditions[0].Variant))
	assert.Equal(t, "inArray", string(perms[0].Conditions[0].Operator))

	status, body = doRequest(t, app, "GET", "/api/_admin/permissions", nil)
	require.Equal(t, 200, status)
	assert.Len(t, body["data"], 1)
}
