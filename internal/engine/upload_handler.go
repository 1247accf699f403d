package engine

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"

	"datagrid-backend/internal/config"
	"datagrid-backend/internal/filter"
	"datagrid-backend/internal/logger"
	"datagrid-backend/internal/metadata"
	"datagrid-backend/internal/storage"
	"datagrid-backend/internal/store"
	"datagrid-backend/internal/upload"
)

// previewRows is how many valid rows an upload response echoes back.
const previewRows = 20

// UploadHandler serves spreadsheet templates and the stage/commit upload flow.
type UploadHandler struct {
	store    *store.Store
	registry *metadata.Registry
	eval     *filter.Evaluator
	staging  *upload.Staging
	storage  storage.FileStorage
	cfg      config.UploadConfig
	maxSize  int64
}

// NewUploadHandler wires the upload endpoints. fs may be nil, in which case
// uploaded files are not archived.
func NewUploadHandler(s *store.Store, reg *metadata.Registry, eval *filter.Evaluator, staging *upload.Staging, fs storage.FileStorage, cfg config.UploadConfig, maxSize int64) *UploadHandler {
	if eval == nil {
		eval = filter.NewEvaluator(nil)
	}
	return &UploadHandler{store: s, registry: reg, eval: eval, staging: staging, storage: fs, cfg: cfg, maxSize: maxSize}
}

// Template handles GET /api/:table/_template
func (h *UploadHandler) Template(c *fiber.Ctx) error {
	tbl, err := h.resolveTable(c)
	if err != nil {
		return err
	}
	if _, err := Scope(getUser(c), tbl.Name, metadata.ActionUpload, h.registry); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := upload.WriteTemplate(&buf, upload.FromTable(tbl)); err != nil {
		return fmt.Errorf("template %s: %w", tbl.Name, err)
	}
	c.Attachment(tbl.Name + "-template.xlsx")
	c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	return c.Send(buf.Bytes())
}

// Upload handles POST /api/:table/_upload (multipart field "file"). The file
// is validated and staged; nothing is written until the stage is committed.
func (h *UploadHandler) Upload(c *fiber.Ctx) error {
	tbl, err := h.resolveTable(c)
	if err != nil {
		return err
	}
	user := getUser(c)
	if _, err := Scope(user, tbl.Name, metadata.ActionUpload, h.registry); err != nil {
		return err
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return InvalidPayloadError("Missing file field")
	}
	if h.maxSize > 0 && fh.Size > h.maxSize {
		return &AppError{Code: "FILE_TOO_LARGE", Status: 413, Message: fmt.Sprintf("File exceeds maximum size of %d bytes", h.maxSize)}
	}
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if ext != ".xlsx" && ext != ".csv" {
		return InvalidPayloadError("Only .xlsx and .csv files are accepted")
	}

	f, err := fh.Open()
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}

	cols := upload.FromTable(tbl)
	p := upload.NewPipeline(cols)
	p.Validator = upload.NewSchemaValidator(cols, h.registry.GetRules(tbl.Name))
	p.Location = h.cfg.Location()
	p.MaxRows = h.cfg.MaxRows

	ctx := c.UserContext()
	res := p.Process(ctx, bytes.NewReader(data), fh.Filename)
	st := h.staging.Put(tbl.Name, fh.Filename, user.ID, res)

	var storagePath string
	if h.cfg.ArchiveFiles && h.storage != nil {
		storagePath, err = h.storage.Save(ctx, tbl.Name, st.ID, fh.Filename, bytes.NewReader(data))
		if err != nil {
			h.staging.Discard(st.ID)
			return fmt.Errorf("archive upload: %w", err)
		}
	}
	if err := recordUpload(ctx, h.store, st, storagePath); err != nil {
		h.staging.Discard(st.ID)
		return fmt.Errorf("record upload: %w", err)
	}
	logger.Infof("upload %s staged for %s: %d valid, %d invalid", st.ID, tbl.Name, res.ValidCount, res.InvalidCount)

	preview := res.ValidRows
	if len(preview) > previewRows {
		preview = preview[:previewRows]
	}
	return c.Status(201).JSON(fiber.Map{"data": fiber.Map{
		"id":            st.ID,
		"filename":      st.Filename,
		"expires_at":    st.ExpiresAt,
		"total_rows":    res.TotalRows,
		"valid_count":   res.ValidCount,
		"invalid_count": res.InvalidCount,
		"error_count":   res.ErrorCount,
		"errors":        res.Errors,
		"preview":       preview,
	}})
}

// Commit handles POST /api/:table/_upload/:id/commit. All valid rows are
// inserted in one transaction; any failure rolls the whole upload back.
func (h *UploadHandler) Commit(c *fiber.Ctx) error {
	tbl, st, err := h.stage(c)
	if err != nil {
		return err
	}
	user := getUser(c)
	scope, err := Scope(user, tbl.Name, metadata.ActionCreate, h.registry)
	if err != nil {
		return err
	}

	ctx := c.UserContext()
	d := h.store.Dialect
	loc := h.cfg.Location()
	now := h.eval.Now()

	n, err := h.staging.Commit(ctx, st.ID, func(ctx context.Context, rows []map[string]any) error {
		return h.store.WithTx(ctx, func(tx *sql.Tx) error {
			for i, row := range rows {
				if !h.eval.Match(row, scope) {
					return ForbiddenError(fmt.Sprintf("Row %d is outside your permission scope", st.Result.SourceRow(i)))
				}
				plan := &WritePlan{IsCreate: true, Table: tbl, Fields: row}
				fields, appErr := plan.Encode(d, loc, now)
				if appErr != nil {
					return appErr
				}
				if _, err := insertRecord(ctx, tx, d, tbl, fields); err != nil {
					return writeError(tbl, err)
				}
			}
			return markUpload(ctx, tx, d, st.ID, UploadCommitted)
		})
	})
	if err != nil {
		var appErr *AppError
		switch {
		case errors.As(err, &appErr):
			return appErr
		case errors.Is(err, upload.ErrStageNotFound):
			return NotFoundError("upload", st.ID)
		case errors.Is(err, upload.ErrNothingToCommit):
			return &AppError{Code: "NOTHING_TO_COMMIT", Status: 422, Message: err.Error()}
		}
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"id": st.ID, "inserted": n}})
}

// Errors handles GET /api/:table/_upload/:id/errors as a CSV report.
func (h *UploadHandler) Errors(c *fiber.Ctx) error {
	_, st, err := h.stage(c)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := upload.WriteErrorsCSV(&buf, st.Result.Errors); err != nil {
		return fmt.Errorf("error report %s: %w", st.ID, err)
	}
	name := strings.TrimSuffix(st.Filename, filepath.Ext(st.Filename))
	c.Attachment(name + "-errors.csv")
	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	return c.Send(buf.Bytes())
}

// Discard handles DELETE /api/:table/_upload/:id
func (h *UploadHandler) Discard(c *fiber.Ctx) error {
	_, st, err := h.stage(c)
	if err != nil {
		return err
	}
	h.staging.Discard(st.ID)

	ctx := c.UserContext()
	if err := markUpload(ctx, h.store.DB, h.store.Dialect, st.ID, UploadDiscarded); err != nil {
		return fmt.Errorf("discard upload %s: %w", st.ID, err)
	}
	if h.storage != nil {
		if rec, err := getUploadRecord(ctx, h.store, st.ID); err == nil && rec.StoragePath != "" {
			if err := h.storage.Delete(ctx, rec.StoragePath); err != nil {
				logger.Warnf("delete archived upload %s: %v", rec.StoragePath, err)
			}
		}
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"id": st.ID}})
}

// History handles GET /api/:table/_uploads
func (h *UploadHandler) History(c *fiber.Ctx) error {
	tbl, err := h.resolveTable(c)
	if err != nil {
		return err
	}
	if _, err := Scope(getUser(c), tbl.Name, metadata.ActionUpload, h.registry); err != nil {
		return err
	}
	records, err := listUploadRecords(c.UserContext(), h.store, tbl.Name)
	if err != nil {
		return fmt.Errorf("list uploads %s: %w", tbl.Name, err)
	}
	return c.JSON(fiber.Map{"data": records})
}

// stage resolves a live stage of the route's table owned by the caller.
func (h *UploadHandler) stage(c *fiber.Ctx) (*metadata.Table, *upload.Stage, error) {
	tbl, err := h.resolveTable(c)
	if err != nil {
		return nil, nil, err
	}
	user := getUser(c)
	if _, err := Scope(user, tbl.Name, metadata.ActionUpload, h.registry); err != nil {
		return nil, nil, err
	}
	id := c.Params("id")
	st, ok := h.staging.Get(id)
	if !ok || st.Table != tbl.Name {
		return nil, nil, NotFoundError("upload", id)
	}
	if st.UserID != user.ID && !user.IsAdmin() {
		return nil, nil, NotFoundError("upload", id)
	}
	return tbl, st, nil
}

func (h *UploadHandler) resolveTable(c *fiber.Ctx) (*metadata.Table, error) {
	name := c.Params("table")
	tbl := h.registry.GetTable(name)
	if tbl == nil {
		return nil, UnknownTableError(name)
	}
	return tbl, nil
}
