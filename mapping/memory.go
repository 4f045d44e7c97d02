package mapping

import (
	"context"
	"sort"
	"sync"
)

// MemoryStorage is the reference Storage implementation: three keyed
// maps behind a mutex, per spec. It is suitable as the default backend
// for tests and single-process deployments.
type MemoryStorage struct {
	mu     sync.RWMutex
	blocks map[uint64]BlockMapping
	batches map[uint64]BatchMapping
	epochs map[uint64]EpochMapping
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		blocks:  make(map[uint64]BlockMapping),
		batches: make(map[uint64]BatchMapping),
		epochs:  make(map[uint64]EpochMapping),
	}
}

func (s *MemoryStorage) SaveBlockMapping(_ context.Context, m BlockMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[m.BlockNumber] = m
	return nil
}

func (s *MemoryStorage) LoadBlockMapping(_ context.Context, blockNumber uint64) (*BlockMapping, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.blocks[blockNumber]
	if !ok {
		return nil, false, nil
	}
	return &m, true, nil
}

func (s *MemoryStorage) RangeBlockMappings(_ context.Context, start, end uint64) ([]BlockMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]BlockMapping, 0)
	for n, m := range s.blocks {
		if n >= start && n <= end {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockNumber < out[j].BlockNumber })
	return out, nil
}

func (s *MemoryStorage) DeleteBlockMapping(_ context.Context, blockNumber uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocks, blockNumber)
	return nil
}

func (s *MemoryStorage) SaveBatchMapping(_ context.Context, m BatchMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[m.BatchId] = m
	return nil
}

func (s *MemoryStorage) LoadBatchMapping(_ context.Context, batchId uint64) (*BatchMapping, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.batches[batchId]
	if !ok {
		return nil, false, nil
	}
	return &m, true, nil
}

func (s *MemoryStorage) RangeBatchMappings(_ context.Context, start, end uint64) ([]BatchMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]BatchMapping, 0)
	for id, m := range s.batches {
		if id >= start && id <= end {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BatchId < out[j].BatchId })
	return out, nil
}

func (s *MemoryStorage) DeleteBatchMapping(_ context.Context, batchId uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.batches, batchId)
	return nil
}

func (s *MemoryStorage) SaveEpochMapping(_ context.Context, m EpochMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epochs[m.EpochId] = m
	return nil
}

func (s *MemoryStorage) LoadEpochMapping(_ context.Context, epochId uint64) (*EpochMapping, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.epochs[epochId]
	if !ok {
		return nil, false, nil
	}
	return &m, true, nil
}

func (s *MemoryStorage) RangeEpochMappings(_ context.Context, start, end uint64) ([]EpochMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]EpochMapping, 0)
	for id, m := range s.epochs {
		if id >= start && id <= end {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EpochId < out[j].EpochId })
	return out, nil
}

func (s *MemoryStorage) DeleteEpochMapping(_ context.Context, epochId uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.epochs, epochId)
	return nil
}
