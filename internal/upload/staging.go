package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"datagrid-backend/internal/logger"
)

var (
	ErrStageNotFound   = errors.New("upload not found or expired")
	ErrNothingToCommit = errors.New("upload has no valid rows")
)

// OnUpload receives the valid rows of a confirmed upload.
type OnUpload func(ctx context.Context, rows []map[string]any) error

// Stage is a processed upload waiting for confirmation.
type Stage struct {
	ID        string    `json:"id"`
	Table     string    `json:"table"`
	Filename  string    `json:"filename"`
	UserID    string    `json:"user_id,omitempty"`
	Result    *Result   `json:"result"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Staging holds processed uploads in memory until they are committed,
// discarded or expire.
type Staging struct {
	mu     sync.Mutex
	stages map[string]*Stage
	ttl    time.Duration
	now    func() time.Time
}

func NewStaging(ttl time.Duration) *Staging {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Staging{stages: make(map[string]*Stage), ttl: ttl, now: time.Now}
}

// Put stages a result and returns its stage.
func (s *Staging) Put(table, filename, userID string, res *Result) *Stage {
	now := s.now()
	st := &Stage{
		ID:        uuid.New().String(),
		Table:     table,
		Filename:  filename,
		UserID:    userID,
		Result:    res,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	s.mu.Lock()
	s.stages[st.ID] = st
	s.mu.Unlock()
	return st
}

// Get returns a live stage.
func (s *Staging) Get(id string) (*Stage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stages[id]
	if !ok || !s.now().Before(st.ExpiresAt) {
		return nil, false
	}
	return st, true
}

// Discard drops a stage without committing it.
func (s *Staging) Discard(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.stages[id]
	delete(s.stages, id)
	return ok
}

// Commit hands the valid rows of a stage to onUpload. The stage is removed
// once onUpload succeeds; on failure it stays so the caller may retry.
func (s *Staging) Commit(ctx context.Context, id string, onUpload OnUpload) (int, error) {
	s.mu.Lock()
	st, ok := s.stages[id]
	if ok && !s.now().Before(st.ExpiresAt) {
		delete(s.stages, id)
		ok = false
	}
	if !ok {
		s.mu.Unlock()
		return 0, ErrStageNotFound
	}
	rows := st.Result.ValidRows
	if len(rows) == 0 {
		s.mu.Unlock()
		return 0, ErrNothingToCommit
	}
	// claim the stage so a concurrent commit cannot run it twice
	delete(s.stages, id)
	s.mu.Unlock()

	if err := onUpload(ctx, rows); err != nil {
		s.mu.Lock()
		s.stages[id] = st
		s.mu.Unlock()
		return 0, fmt.Errorf("commit upload %s: %w", id, err)
	}
	logger.Infof("upload %s committed %d rows into %s", id, len(rows), st.Table)
	return len(rows), nil
}

// Purge removes expired stages and returns how many were dropped.
func (s *Staging) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for id, st := range s.stages {
		if !now.Before(st.ExpiresAt) {
			delete(s.stages, id)
			n++
		}
	}
	return n
}

// Len returns the number of staged uploads, expired ones included.
func (s *Staging) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stages)
}

// Schedule runs Purge on c, e.g. with schedule "@every 5m".
func (s *Staging) Schedule(c *cron.Cron, schedule string) (cron.EntryID, error) {
	id, err := c.AddFunc(schedule, func() {
		if n := s.Purge(); n > 0 {
			logger.Debugf("purged %d expired uploads", n)
		}
	})
	if err != nil {
		return 0, fmt.Errorf("schedule upload purge %q: %w", schedule, err)
	}
	return id, nil
}
