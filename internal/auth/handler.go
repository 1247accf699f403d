package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/spf13/cast"

	"datagrid-backend/internal/config"
	"datagrid-backend/internal/engine"
	"datagrid-backend/internal/store"
)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	store *store.Store
	cfg   config.AuthConfig
	now   func() time.Time
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(s *store.Store, cfg config.AuthConfig) *AuthHandler {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	return &AuthHandler{store: s, cfg: cfg, now: time.Now}
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid request body")
	}
	if body.Email == "" || body.Password == "" {
		return engine.UnauthorizedError("Email and password are required")
	}

	ctx := c.UserContext()

	user, err := store.QueryRow(ctx, h.store.DB,
		"SELECT id, email, password_hash, roles, active FROM _users WHERE email = "+h.ph(1), body.Email)
	if err != nil {
		return engine.UnauthorizedError("Invalid email or password")
	}
	if !cast.ToBool(user["active"]) {
		return engine.UnauthorizedError("Account is disabled")
	}
	if !CheckPassword(body.Password, cast.ToString(user["password_hash"])) {
		return engine.UnauthorizedError("Invalid email or password")
	}

	pair, err := h.generateTokenPair(ctx, cast.ToString(user["id"]), body.Email, decodeRoles(user["roles"]))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": pair})
}

// Refresh handles POST /api/auth/refresh. Refresh tokens are single use.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid request body")
	}
	if body.RefreshToken == "" {
		return engine.UnauthorizedError("Refresh token is required")
	}

	ctx := c.UserContext()

	row, err := store.QueryRow(ctx, h.store.DB,
		`SELECT rt.id, rt.user_id, rt.expires_at, u.email, u.roles, u.active
		 FROM _refresh_tokens rt
		 JOIN _users u ON u.id = rt.user_id
		 WHERE rt.token = `+h.ph(1), body.RefreshToken)
	if err != nil {
		return engine.UnauthorizedError("Invalid refresh token")
	}

	// Delete the used refresh token (rotation)
	_, _ = store.Exec(ctx, h.store.DB, "DELETE FROM _refresh_tokens WHERE id = "+h.ph(1), cast.ToString(row["id"]))

	expiresAt, err := cast.ToTimeE(row["expires_at"])
	if err != nil || !h.now().Before(expiresAt) {
		return engine.UnauthorizedError("Refresh token expired")
	}
	if !cast.ToBool(row["active"]) {
		return engine.UnauthorizedError("Account is disabled")
	}

	pair, err := h.generateTokenPair(ctx, cast.ToString(row["user_id"]), cast.ToString(row["email"]), decodeRoles(row["roles"]))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": pair})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid request body")
	}
	if body.RefreshToken == "" {
		return engine.UnauthorizedError("Refresh token is required")
	}

	_, _ = store.Exec(c.UserContext(), h.store.DB,
		"DELETE FROM _refresh_tokens WHERE token = "+h.ph(1), body.RefreshToken)

	return c.JSON(fiber.Map{"message": "Logged out"})
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	user := GetUser(c)
	if user == nil {
		return engine.UnauthorizedError("Missing auth token")
	}
	return c.JSON(fiber.Map{"data": user})
}

// RegisterAuthRoutes registers the public auth routes. Me is mounted by the
// caller behind the auth middleware.
func RegisterAuthRoutes(api fiber.Router, h *AuthHandler) {
	auth := api.Group("/auth")
	auth.Post("/login", h.Login)
	auth.Post("/refresh", h.Refresh)
	auth.Post("/logout", h.Logout)
}

// --- helpers ---

func (h *AuthHandler) generateTokenPair(ctx context.Context, userID, email string, roles []string) (*TokenPair, error) {
	now := h.now()
	accessToken, err := GenerateAccessToken(userID, email, roles, h.cfg.JWTSecret, now, h.cfg.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}

	refreshToken := GenerateRefreshToken()
	pb := h.store.Dialect.NewParamBuilder()
	sql := fmt.Sprintf("INSERT INTO _refresh_tokens (id, user_id, token, expires_at) VALUES (%s, %s, %s, %s)",
		pb.Add(uuid.NewString()), pb.Add(userID), pb.Add(refreshToken), pb.Add(h.timeParam(now.Add(h.cfg.RefreshTTL))))
	if _, err := store.Exec(ctx, h.store.DB, sql, pb.Params()...); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    now.Add(h.cfg.AccessTTL),
	}, nil
}

// timeParam stores times as UTC text on SQLite.
func (h *AuthHandler) timeParam(t time.Time) any {
	if h.store.Dialect.Name() == "sqlite" {
		return t.UTC().Format(time.RFC3339)
	}
	return t
}

func (h *AuthHandler) ph(n int) string {
	return h.store.Dialect.Placeholder(n)
}

// decodeRoles reads the roles column, JSON text on SQLite or a decoded
// JSONB value on Postgres.
func decodeRoles(v any) []string {
	switch roles := v.(type) {
	case string:
		var out []string
		if err := json.Unmarshal([]byte(roles), &out); err != nil {
			return []string{}
		}
		return out
	case []byte:
		return decodeRoles(string(roles))
	case nil:
		return []string{}
	}
	return cast.ToStringSlice(v)
}
