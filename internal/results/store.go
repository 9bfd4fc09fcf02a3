// Package results persists the outcome of every stress invocation so a
// test run can be audited after the loaders are gone.
package results

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunRecord is one invocation's identity-to-outcome mapping.
type RunRecord struct {
	ID          uuid.UUID     `json:"id"`
	Loader      string        `json:"loader"`
	LoaderIdx   int           `json:"loader_idx"`
	CPUIdx      int           `json:"cpu_idx"`
	KeyspaceIdx int           `json:"keyspace_idx"`
	Operation   string        `json:"operation"`
	Command     string        `json:"command"`
	LogFile     string        `json:"log_file"`
	ExitCode    int           `json:"exit_code"`
	Success     bool          `json:"success"`
	Failure     string        `json:"failure,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
}

// Store persists run records.
type Store interface {
	SaveRun(ctx context.Context, record *RunRecord) error
	ListRuns(ctx context.Context) ([]*RunRecord, error)
}

// MemoryStore keeps records in memory. Used in tests and when no
// database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*RunRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// SaveRun implements Store.
func (s *MemoryStore) SaveRun(_ context.Context, record *RunRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

// ListRuns implements Store.
func (s *MemoryStore) ListRuns(_ context.Context) ([]*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*RunRecord(nil), s.records...), nil
}
