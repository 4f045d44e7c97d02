package finality

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateway-fm/cdk-ingestion/mapping"
	"github.com/gateway-fm/cdk-ingestion/types"
)

func hash(b byte) types.Hash {
	var h types.Hash
	h[31] = b
	return h
}

func seedMapper(t *testing.T, batchId, startBlock uint64, count int) *mapping.Manager {
	t.Helper()
	storage := mapping.NewMemoryStorage()
	mgr := mapping.NewManager(storage)
	blocks := make([]types.BlockInBatch, count)
	for i := 0; i < count; i++ {
		blocks[i] = types.BlockInBatch{
			BatchIndex: uint32(i),
			Number:     uint256.NewInt(startBlock + uint64(i)),
			Hash:       hash(byte(i + 1)),
		}
	}
	batch := &types.Batch{Id: types.NewBatchId(batchId, hash(9)), L1Origin: uint256.NewInt(1), Blocks: blocks}
	_, err := mgr.SaveBatch(context.Background(), batch, 1, 1000)
	require.NoError(t, err)
	return mgr
}

func rollbackUpdate(batchId uint64, detectedAt uint64) Update {
	return Update{
		Tag: types.FinalityTag{
			BatchId: uint256.NewInt(batchId),
			L1Block: uint256.NewInt(500),
		},
		EventType:     EventRolledBack,
		L1BlockNumber: 500,
		DetectedAt:    detectedAt,
	}
}

func TestRollbackRequiresConfirmationsBeforeExecuting(t *testing.T) {
	mgr := seedMapper(t, 1, 100, 3)
	cfg := DefaultRollbackConfig()
	cfg.RequiredConfirmations = 2
	rm := NewRollbackManager(cfg, mgr)

	actions, err := rm.Process(context.Background(), rollbackUpdate(1, 1000))
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionPendingRollback, actions[0].Kind)
	assert.False(t, rm.IsBatchRolledBack(1))
}

func TestRollbackExecutesAfterRequiredConfirmations(t *testing.T) {
	mgr := seedMapper(t, 1, 100, 3)
	cfg := DefaultRollbackConfig()
	cfg.RequiredConfirmations = 1
	rm := NewRollbackManager(cfg, mgr)

	actions, err := rm.Process(context.Background(), rollbackUpdate(1, 1000))
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionExecuteRollback, actions[0].Kind)
	assert.True(t, rm.IsBatchRolledBack(1))

	record := rm.GetRollbackHistory()[1]
	assert.Equal(t, []uint64{100, 101, 102}, record.AffectedBlocks)
}

func TestRollbackConfirmationsAccumulateAcrossTicks(t *testing.T) {
	mgr := seedMapper(t, 1, 100, 3)
	cfg := DefaultRollbackConfig()
	cfg.RequiredConfirmations = 3
	rm := NewRollbackManager(cfg, mgr)

	actions, err := rm.Process(context.Background(), rollbackUpdate(1, 1000))
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionPendingRollback, actions[0].Kind)
	assert.Equal(t, uint64(1), rm.GetPendingRollbacks()[1].Confirmations)

	actions, err = rm.Process(context.Background(), rollbackUpdate(1, 1001))
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionPendingRollback, actions[0].Kind)
	assert.Equal(t, uint64(2), rm.GetPendingRollbacks()[1].Confirmations)
	assert.False(t, rm.IsBatchRolledBack(1))

	actions, err = rm.Process(context.Background(), rollbackUpdate(1, 1002))
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionExecuteRollback, actions[0].Kind)
	assert.True(t, rm.IsBatchRolledBack(1))
	assert.Equal(t, uint64(99), actions[0].RollbackBlock)
	assert.Equal(t, uint64(0), actions[0].SurvivingBatchId)
	assert.Equal(t, 3, actions[0].AffectedBlockCount)
}

func TestRollbackIsIdempotentPerBatch(t *testing.T) {
	mgr := seedMapper(t, 1, 100, 3)
	cfg := DefaultRollbackConfig()
	cfg.RequiredConfirmations = 1
	rm := NewRollbackManager(cfg, mgr)

	_, err := rm.Process(context.Background(), rollbackUpdate(1, 1000))
	require.NoError(t, err)

	actions, err := rm.Process(context.Background(), rollbackUpdate(1, 1001))
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestFinalizationRemovesPendingRollback(t *testing.T) {
	mgr := seedMapper(t, 1, 100, 3)
	cfg := DefaultRollbackConfig()
	cfg.RequiredConfirmations = 5
	rm := NewRollbackManager(cfg, mgr)

	_, err := rm.Process(context.Background(), rollbackUpdate(1, 1000))
	require.NoError(t, err)
	require.Len(t, rm.GetPendingRollbacks(), 1)

	actions, err := rm.Process(context.Background(), Update{
		Tag:       types.FinalityTag{BatchId: uint256.NewInt(1)},
		EventType: EventFinalized,
	})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionFinalized, actions[0].Kind)
	assert.Equal(t, uint64(102), actions[0].FinalBlock)
	assert.Empty(t, rm.GetPendingRollbacks())
}
