package storage

import (
	"context"
	"sync"

	"github.com/xaenox/codereview-threads/internal/models"
)

type MemoryStorage struct {
	mu       sync.RWMutex
	snapshot *models.Snapshot
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (s *MemoryStorage) Load(ctx context.Context) (models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snapshot == nil {
		return models.EmptySnapshot(), nil
	}
	return s.snapshot.Clone(), nil
}

func (s *MemoryStorage) Save(ctx context.Context, snapshot models.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := snapshot.Clone()
	s.snapshot = &c
	return nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
