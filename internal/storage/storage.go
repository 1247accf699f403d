package storage

import (
	"context"
	"io"
)

// FileStorage keeps the original spreadsheets of bulk uploads so that a
// committed upload can be traced back to the file it came from.
type FileStorage interface {
	// Save persists file content under table/uploadID and returns the storage path.
	Save(ctx context.Context, table, uploadID, filename string, reader io.Reader) (storagePath string, err error)
	Open(ctx context.Context, storagePath string) (io.ReadCloser, error)
	Delete(ctx context.Context, storagePath string) error
}
