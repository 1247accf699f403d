package engine

import "github.com/gofiber/fiber/v2"

// RegisterMetaRoutes mounts /api/_meta. Register it before the table routes
// so "_meta" is not taken for a table name.
func RegisterMetaRoutes(api fiber.Router, m *MetaHandler) {
	meta := api.Group("/_meta")
	meta.Get("/tables", m.Tables)
	meta.Get("/tables/:table", m.Table)
	meta.Get("/nav", m.Nav)
	meta.Get("/operators", m.Operators)
}

// RegisterDynamicRoutes mounts the per-table routes. Underscore routes come
// before /:table/:id.
func RegisterDynamicRoutes(api fiber.Router, h *Handler, u *UploadHandler) {
	api.Get("/:table", h.List)
	api.Post("/:table/_query", h.Query)
	api.Get("/:table/_export", h.Export)
	api.Post("/:table/_card", h.Card)
	api.Post("/:table/_chart", h.Chart)

	if u != nil {
		api.Get("/:table/_template", u.Template)
		api.Get("/:table/_uploads", u.History)
		api.Post("/:table/_upload", u.Upload)
		api.Post("/:table/_upload/:id/commit", u.Commit)
		api.Get("/:table/_upload/:id/errors", u.Errors)
		api.Delete("/:table/_upload/:id", u.Discard)
	}

	api.Get("/:table/:id", h.GetByID)
	api.Post("/:table", h.Create)
	api.Put("/:table/:id", h.Update)
	api.Delete("/:table/:id", h.Delete)
}
