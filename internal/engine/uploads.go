package engine

import (
	"context"
	"fmt"

	"github.com/spf13/cast"

	"datagrid-backend/internal/store"
	"datagrid-backend/internal/upload"
)

// Upload statuses recorded in _uploads.
const (
	UploadStaged    = "staged"
	UploadCommitted = "committed"
	UploadDiscarded = "discarded"
)

// UploadRecord is one row of the _uploads history table.
type UploadRecord struct {
	ID          string `json:"id"`
	TableName   string `json:"table_name"`
	Filename    string `json:"filename"`
	StoragePath string `json:"storage_path,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	TotalRows   int    `json:"total_rows"`
	ValidCount  int    `json:"valid_count"`
	ErrorCount  int    `json:"error_count"`
	Status      string `json:"status"`
	CreatedAt   any    `json:"created_at"`
	CommittedAt any    `json:"committed_at"`
}

func recordUpload(ctx context.Context, s *store.Store, st *upload.Stage, storagePath string) error {
	pb := s.Dialect.NewParamBuilder()
	sql := fmt.Sprintf(`INSERT INTO _uploads (id, table_name, filename, storage_path, user_id, total_rows, valid_count, error_count, status)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		pb.Add(st.ID), pb.Add(st.Table), pb.Add(st.Filename), pb.Add(nullString(storagePath)), pb.Add(nullString(st.UserID)),
		pb.Add(st.Result.TotalRows), pb.Add(st.Result.ValidCount), pb.Add(st.Result.ErrorCount), pb.Add(UploadStaged))
	_, err := store.Exec(ctx, s.DB, sql, pb.Params()...)
	return err
}

func markUpload(ctx context.Context, q store.Querier, d store.Dialect, id, status string) error {
	sql := fmt.Sprintf("UPDATE _uploads SET status = %s WHERE id = %s", d.Placeholder(1), d.Placeholder(2))
	if status == UploadCommitted {
		sql = fmt.Sprintf("UPDATE _uploads SET status = %s, committed_at = %s WHERE id = %s", d.Placeholder(1), d.NowExpr(), d.Placeholder(2))
	}
	_, err := store.Exec(ctx, q, sql, status, id)
	return err
}

func getUploadRecord(ctx context.Context, s *store.Store, id string) (*UploadRecord, error) {
	row, err := store.QueryRow(ctx, s.DB,
		fmt.Sprintf("SELECT id, table_name, filename, storage_path, user_id, total_rows, valid_count, error_count, status, created_at, committed_at FROM _uploads WHERE id = %s", s.Dialect.Placeholder(1)),
		id)
	if err != nil {
		return nil, err
	}
	return uploadFromRow(row), nil
}

func listUploadRecords(ctx context.Context, s *store.Store, table string) ([]UploadRecord, error) {
	rows, err := store.QueryRows(ctx, s.DB,
		fmt.Sprintf("SELECT id, table_name, filename, storage_path, user_id, total_rows, valid_count, error_count, status, created_at, committed_at FROM _uploads WHERE table_name = %s ORDER BY created_at DESC", s.Dialect.Placeholder(1)),
		table)
	if err != nil {
		return nil, err
	}
	out := make([]UploadRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, *uploadFromRow(row))
	}
	return out, nil
}

func uploadFromRow(row map[string]any) *UploadRecord {
	r := &UploadRecord{
		ID:          fmt.Sprint(row["id"]),
		TableName:   fmt.Sprint(row["table_name"]),
		Filename:    fmt.Sprint(row["filename"]),
		Status:      fmt.Sprint(row["status"]),
		CreatedAt:   row["created_at"],
		CommittedAt: row["committed_at"],
	}
	if v, ok := row["storage_path"].(string); ok {
		r.StoragePath = v
	}
	if v, ok := row["user_id"].(string); ok {
		r.UserID = v
	}
	r.TotalRows = cast.ToInt(row["total_rows"])
	r.ValidCount = cast.ToInt(row["valid_count"])
	r.ErrorCount = cast.ToInt(row["error_count"])
	return r
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
