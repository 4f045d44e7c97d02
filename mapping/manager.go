package mapping

import (
	"context"
	"fmt"
	"math"

	"github.com/gateway-fm/cdk-ingestion/types"
)

// Manager derives block/batch/epoch mapping records from assembled
// batches and persists them through a Storage backend, maintaining the
// write-ordering invariant: block mappings for a batch are saved before
// the batch mapping that references them, so a reader can never observe
// a batch mapping whose blocks are missing.
type Manager struct {
	storage Storage
	stats   Stats
}

func NewManager(storage Storage) *Manager {
	return &Manager{storage: storage}
}

// SaveBatch derives and persists the block mappings for every block in
// batch, followed by the batch mapping itself, then folds the result
// into an epoch mapping for epochId. now is the wall-clock timestamp at
// which assembly completed.
func (m *Manager) SaveBatch(ctx context.Context, batch *types.Batch, epochId uint64, now uint64) (BatchMapping, error) {
	if batch == nil || len(batch.Blocks) == 0 {
		return BatchMapping{}, fmt.Errorf("mapping: batch has no blocks")
	}

	batchId := batch.Id.Number.Uint64()
	startBlock := batch.Blocks[0].Number.Uint64()
	endBlock := batch.Blocks[len(batch.Blocks)-1].Number.Uint64()

	for _, blk := range batch.Blocks {
		bm := BlockMapping{
			BlockNumber: blk.Number.Uint64(),
			BlockHash:   blk.Hash,
			BatchId:     batchId,
			BatchIndex:  blk.BatchIndex,
			EpochId:     epochId,
			Timestamp:   now,
		}
		if err := m.storage.SaveBlockMapping(ctx, bm); err != nil {
			return BatchMapping{}, fmt.Errorf("mapping: save block mapping %d: %w", bm.BlockNumber, err)
		}
	}

	batchMapping := BatchMapping{
		BatchId:    batchId,
		BatchHash:  batch.Id.Hash,
		StartBlock: startBlock,
		EndBlock:   endBlock,
		BlockCount: uint32(len(batch.Blocks)),
		EpochId:    epochId,
		Timestamp:  now,
	}
	if err := m.storage.SaveBatchMapping(ctx, batchMapping); err != nil {
		return BatchMapping{}, fmt.Errorf("mapping: save batch mapping %d: %w", batchId, err)
	}

	if err := m.foldEpoch(ctx, epochId, batchMapping, now); err != nil {
		return BatchMapping{}, err
	}

	m.stats.TotalBlocks += uint64(len(batch.Blocks))
	m.stats.TotalBatches++
	m.stats.LastAssembly = now
	if m.stats.TotalBatches > 0 {
		m.stats.AvgBlocksPerBatch = float64(m.stats.TotalBlocks) / float64(m.stats.TotalBatches)
	}

	return batchMapping, nil
}

// foldEpoch widens an existing epoch mapping to cover batchMapping, or
// creates a new single-batch epoch if none exists yet.
func (m *Manager) foldEpoch(ctx context.Context, epochId uint64, bm BatchMapping, now uint64) error {
	existing, found, err := m.storage.LoadEpochMapping(ctx, epochId)
	if err != nil {
		return fmt.Errorf("mapping: load epoch mapping %d: %w", epochId, err)
	}

	var em EpochMapping
	if found {
		em = *existing
		if bm.StartBlock < em.StartBlock {
			em.StartBlock = bm.StartBlock
		}
		if bm.EndBlock > em.EndBlock {
			em.EndBlock = bm.EndBlock
		}
		em.BlockCount += bm.BlockCount
		em.BatchCount++
		em.Timestamp = now
	} else {
		em = EpochMapping{
			EpochId:    epochId,
			EpochHash:  bm.BatchHash,
			StartBlock: bm.StartBlock,
			EndBlock:   bm.EndBlock,
			BlockCount: bm.BlockCount,
			BatchCount: 1,
			Timestamp:  now,
		}
		m.stats.TotalEpochs++
	}

	if err := m.storage.SaveEpochMapping(ctx, em); err != nil {
		return fmt.Errorf("mapping: save epoch mapping %d: %w", epochId, err)
	}
	if em.BatchCount > 0 {
		m.stats.AvgBatchesPerEpoch = float64(m.stats.TotalBatches) / float64(m.stats.TotalEpochs)
	}
	return nil
}

// DeleteBatch removes the block and batch mappings for batchId, used by
// the rollback manager to retract a batch superseded by a reorg. It does
// not shrink the epoch mapping: epoch ranges are monotonic markers of
// what was once observed, not a live index.
func (m *Manager) DeleteBatch(ctx context.Context, batchId uint64) error {
	bm, found, err := m.storage.LoadBatchMapping(ctx, batchId)
	if err != nil {
		return fmt.Errorf("mapping: load batch mapping %d: %w", batchId, err)
	}
	if !found {
		return nil
	}
	for n := bm.StartBlock; n <= bm.EndBlock; n++ {
		if err := m.storage.DeleteBlockMapping(ctx, n); err != nil {
			return fmt.Errorf("mapping: delete block mapping %d: %w", n, err)
		}
	}
	return m.storage.DeleteBatchMapping(ctx, batchId)
}

// DeleteBatchesFrom removes fromBatchId and every batch mapping with a
// higher batch number, along with their block mappings. A rollback of
// fromBatchId invalidates any batch built on top of it, so the prune
// must cover the whole suffix, not just the reported batch.
func (m *Manager) DeleteBatchesFrom(ctx context.Context, fromBatchId uint64) error {
	toPrune, err := m.storage.RangeBatchMappings(ctx, fromBatchId, math.MaxUint64)
	if err != nil {
		return fmt.Errorf("mapping: range batch mappings from %d: %w", fromBatchId, err)
	}
	for _, bm := range toPrune {
		if err := m.DeleteBatch(ctx, bm.BatchId); err != nil {
			return err
		}
	}
	return nil
}

// ResolveBlock returns the block mapping and the batch mapping a given
// block number belongs to, enforcing the cross-invariant that the
// block's batch_id resolves in the batch store and the block falls
// within its range. The epoch mapping is not resolved or checked here.
func (m *Manager) ResolveBlock(ctx context.Context, blockNumber uint64) (*BlockMapping, *BatchMapping, error) {
	bm, found, err := m.storage.LoadBlockMapping(ctx, blockNumber)
	if err != nil {
		return nil, nil, fmt.Errorf("mapping: load block mapping %d: %w", blockNumber, err)
	}
	if !found {
		return nil, nil, nil
	}
	batchMapping, found, err := m.storage.LoadBatchMapping(ctx, bm.BatchId)
	if err != nil {
		return nil, nil, fmt.Errorf("mapping: load batch mapping %d: %w", bm.BatchId, err)
	}
	if !found {
		return nil, nil, fmt.Errorf("mapping: block %d references missing batch %d", blockNumber, bm.BatchId)
	}
	if blockNumber < batchMapping.StartBlock || blockNumber > batchMapping.EndBlock {
		return nil, nil, fmt.Errorf("mapping: block %d outside resolved batch %d range [%d,%d]",
			blockNumber, bm.BatchId, batchMapping.StartBlock, batchMapping.EndBlock)
	}
	return bm, batchMapping, nil
}

func (m *Manager) Stats() Stats {
	return m.stats
}

// LoadBatchMapping exposes the underlying batch mapping lookup directly,
// for callers (such as the rollback manager) that need the raw record
// rather than ResolveBlock's block-centric view.
func (m *Manager) LoadBatchMapping(ctx context.Context, batchId uint64) (*BatchMapping, bool, error) {
	return m.storage.LoadBatchMapping(ctx, batchId)
}

// LoadEpochMapping exposes the underlying epoch mapping lookup directly.
func (m *Manager) LoadEpochMapping(ctx context.Context, epochId uint64) (*EpochMapping, bool, error) {
	return m.storage.LoadEpochMapping(ctx, epochId)
}
