package validator

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateway-fm/cdk-ingestion/types"
)

func hash(b byte) types.Hash {
	var h types.Hash
	h[31] = b
	return h
}

func validBlock(index uint32, number uint64, ts uint64) types.BlockInBatch {
	parent := hash(byte(number))
	if number == 1 {
		parent = types.Hash{}
	}
	return types.BlockInBatch{
		BatchIndex:  index,
		Number:      uint256.NewInt(number),
		Hash:        hash(byte(number + 1)),
		ParentHash:  parent,
		StateRoot:   hash(1),
		TxRoot:      hash(2),
		ReceiptRoot: hash(3),
		Timestamp:   ts,
	}
}

func validBatch() *types.Batch {
	return &types.Batch{
		Id:       types.NewBatchId(1, hash(9)),
		L1Origin: uint256.NewInt(100),
		Blocks: []types.BlockInBatch{
			validBlock(0, 1, 1000),
			validBlock(1, 2, 1001),
			validBlock(2, 3, 1002),
		},
	}
}

func TestValidateAccepts(t *testing.T) {
	v := New()
	warnings, err := v.Validate(validBatch())
	require.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestValidateRejectsZeroBatchNumber(t *testing.T) {
	v := New()
	b := validBatch()
	b.Id.Number = uint256.NewInt(0)
	_, err := v.Validate(b)
	require.Error(t, err)
}

func TestValidateRejectsZeroL1Origin(t *testing.T) {
	v := New()
	b := validBatch()
	b.L1Origin = uint256.NewInt(0)
	_, err := v.Validate(b)
	require.Error(t, err)
}

func TestValidateRejectsTooManyBlocks(t *testing.T) {
	v := New()
	v.MaxBlocksPerBatch = 2
	_, err := v.Validate(validBatch())
	require.Error(t, err)
}

func TestValidateAcceptsExactlyMaxBlocks(t *testing.T) {
	v := New()
	v.MaxBlocksPerBatch = 3
	_, err := v.Validate(validBatch())
	require.NoError(t, err)
}

func TestValidateRejectsOversizedBatch(t *testing.T) {
	v := New()
	v.MaxBatchBytes = 10
	_, err := v.Validate(validBatch())
	require.Error(t, err)
}

func TestValidateRejectsBadBatchIndex(t *testing.T) {
	v := New()
	b := validBatch()
	b.Blocks[1].BatchIndex = 5
	_, err := v.Validate(b)
	require.Error(t, err)
}

func TestValidateRejectsZeroStateRoot(t *testing.T) {
	v := New()
	b := validBatch()
	b.Blocks[0].StateRoot = types.Hash{}
	_, err := v.Validate(b)
	require.Error(t, err)
}

func TestValidateGenesisBlockAllowsZeroParentHash(t *testing.T) {
	v := New()
	b := validBatch()
	b.Blocks = b.Blocks[:1]
	b.Blocks[0].Number = uint256.NewInt(1)
	b.Blocks[0].ParentHash = types.Hash{}
	_, err := v.Validate(b)
	require.NoError(t, err)
}

func TestValidateRejectsZeroParentHashWhenNotGenesis(t *testing.T) {
	v := New()
	b := validBatch()
	b.Blocks[0].Number = uint256.NewInt(2)
	b.Blocks[0].ParentHash = types.Hash{}
	_, err := v.Validate(b)
	require.Error(t, err)
}

func TestValidateRejectsNonIncreasingNumber(t *testing.T) {
	v := New()
	b := validBatch()
	b.Blocks[2].Number = uint256.NewInt(2)
	_, err := v.Validate(b)
	require.Error(t, err)
}

func TestValidateStrictModeRejectsDecreasingTimestamp(t *testing.T) {
	v := New()
	b := validBatch()
	b.Blocks[2].Timestamp = 500
	_, err := v.Validate(b)
	require.Error(t, err)
}

func TestValidateNonStrictModeWarnsOnDecreasingTimestamp(t *testing.T) {
	v := New()
	v.StrictMode = false
	b := validBatch()
	b.Blocks[2].Timestamp = 500
	warnings, err := v.Validate(b)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
}
