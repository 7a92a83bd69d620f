package durable

import (
	"context"
	"errors"
	"sync"

	"github.com/linkflow-ai/linkflow-ai/internal/shared/apperrors"
)

// CheckpointStore is the persistence contract of §4.6: load the latest
// checkpoint for a job, save a new one, and delete on cleanup. Implementors
// must treat Save as an upsert keyed by JobID.
type CheckpointStore interface {
	Load(ctx context.Context, jobID string) (*Checkpoint, error)
	Save(ctx context.Context, cp *Checkpoint) error
	Delete(ctx context.Context, jobID string) error
}

// MemoryCheckpointStore is an in-process CheckpointStore, grounded on the
// teacher's InMemoryExecutionRepository (internal/engine/persistence.go).
// Useful for tests and for single-process robot runners that don't need
// cross-restart durability.
type MemoryCheckpointStore struct {
	mu    sync.RWMutex
	byJob map[string]*Checkpoint
}

// NewMemoryCheckpointStore creates an empty store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{byJob: make(map[string]*Checkpoint)}
}

func (s *MemoryCheckpointStore) Load(ctx context.Context, jobID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.byJob[jobID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	clone := *cp
	return &clone, nil
}

func (s *MemoryCheckpointStore) Save(ctx context.Context, cp *Checkpoint) error {
	if cp.JobID == "" {
		return errors.New("checkpoint job id must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *cp
	s.byJob[cp.JobID] = &clone
	return nil
}

func (s *MemoryCheckpointStore) Delete(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byJob, jobID)
	return nil
}
