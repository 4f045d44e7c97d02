package engine

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateway-fm/cdk-ingestion/assembler"
	"github.com/gateway-fm/cdk-ingestion/types"
)

func hash(b byte) types.Hash {
	var h types.Hash
	h[31] = b
	return h
}

func block(n uint64) assembler.BlockInputs {
	return assembler.BlockInputs{Number: uint256.NewInt(n), Hash: hash(byte(n))}
}

func TestImportBatchReportsImportedAndSkipped(t *testing.T) {
	e := NewMemoryEngine()
	ctx := context.Background()

	res, err := e.ImportBatch(ctx, &types.Batch{}, []assembler.BlockInputs{block(1), block(2), block(3)})
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.Imported)
	assert.EqualValues(t, 0, res.Skipped)
	assert.Equal(t, uint256.NewInt(3), res.Highest)

	res2, err := e.ImportBatch(ctx, &types.Batch{}, []assembler.BlockInputs{block(3), block(4)})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res2.Imported)
	assert.EqualValues(t, 1, res2.Skipped)
}

func TestMarkFinalAdvancesFinalized(t *testing.T) {
	e := NewMemoryEngine()
	ctx := context.Background()
	_, err := e.ImportBatch(ctx, &types.Batch{}, []assembler.BlockInputs{block(1), block(2), block(3)})
	require.NoError(t, err)

	res, err := e.MarkFinal(ctx, uint256.NewInt(2))
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(2), res.FinalBlock)
	assert.EqualValues(t, 2, res.BlocksAffected)

	isFinal, err := e.IsFinal(ctx, uint256.NewInt(2))
	require.NoError(t, err)
	assert.True(t, isFinal)

	isFinal, err = e.IsFinal(ctx, uint256.NewInt(3))
	require.NoError(t, err)
	assert.False(t, isFinal)
}

func TestMarkFinalRejectsUnimportedBlock(t *testing.T) {
	e := NewMemoryEngine()
	_, err := e.MarkFinal(context.Background(), uint256.NewInt(99))
	require.Error(t, err)
}

func TestRollbackToRemovesBlocksAboveTargetAndReportsRealCount(t *testing.T) {
	e := NewMemoryEngine()
	ctx := context.Background()
	_, err := e.ImportBatch(ctx, &types.Batch{}, []assembler.BlockInputs{block(1), block(2), block(3), block(4)})
	require.NoError(t, err)

	res, err := e.RollbackTo(ctx, uint256.NewInt(2))
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(2), res.RollbackBlock)
	assert.EqualValues(t, 2, res.BlocksRolledBack)

	exists, err := e.BlockExists(ctx, uint256.NewInt(3))
	require.NoError(t, err)
	assert.False(t, exists)

	head, err := e.GetHeadBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(2), head)
}

func TestProcessFinalityTagDispatchesByStatus(t *testing.T) {
	e := NewMemoryEngine()
	ctx := context.Background()
	_, err := e.ImportBatch(ctx, &types.Batch{}, []assembler.BlockInputs{block(1), block(2)})
	require.NoError(t, err)

	res, err := e.ProcessFinalityTag(ctx, types.FinalityTag{BatchId: uint256.NewInt(2), Status: types.FinalityFinalized})
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(2), res.FinalBlock)

	res, err = e.ProcessFinalityTag(ctx, types.FinalityTag{BatchId: uint256.NewInt(1), Status: types.FinalityRolledBack})
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(1), res.FinalBlock)

	_, err = e.ProcessFinalityTag(ctx, types.FinalityTag{BatchId: uint256.NewInt(1), Status: types.FinalityPending})
	require.NoError(t, err)
}
