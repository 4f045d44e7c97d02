package datastream

import (
	"context"
	"sync"

	"github.com/gateway-fm/cdk-ingestion/types"
)

// MemoryCheckpointStorage is the reference CheckpointStorage: a single
// mutex-guarded slot.
type MemoryCheckpointStorage struct {
	mu sync.RWMutex
	cp *types.Checkpoint
}

func NewMemoryCheckpointStorage() *MemoryCheckpointStorage {
	return &MemoryCheckpointStorage{}
}

func (s *MemoryCheckpointStorage) Load(ctx context.Context) (*types.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cp == nil {
		return nil, nil
	}
	cp := *s.cp
	return &cp, nil
}

func (s *MemoryCheckpointStorage) Save(ctx context.Context, cp *types.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	saved := *cp
	s.cp = &saved
	return nil
}

var _ CheckpointStorage = (*MemoryCheckpointStorage)(nil)
