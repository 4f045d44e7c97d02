package assembler

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

func TestAssembleProducesInputsAndMappings(t *testing.T) {
	batch := &types.Batch{
		Id:       types.NewBatchId(7, hash(1)),
		L1Origin: uint256.NewInt(42),
		Blocks: []types.BlockInBatch{
			{
				BatchIndex:  0,
				Number:      uint256.NewInt(100),
				Hash:        hash(2),
				ParentHash:  hash(3),
				StateRoot:   hash(4),
				TxRoot:      hash(5),
				ReceiptRoot: hash(6),
				Timestamp:   1000,
			},
			{
				BatchIndex:  1,
				Number:      uint256.NewInt(101),
				Hash:        hash(7),
				ParentHash:  hash(2),
				StateRoot:   hash(8),
				TxRoot:      hash(9),
				ReceiptRoot: hash(10),
				Timestamp:   1001,
			},
		},
	}

	a := New()
	res := a.Assemble(batch, 3, 5000)

	require.Len(t, res.Inputs, 2)
	require.Len(t, res.Mappings, 2)

	assert.EqualValues(t, DefaultGasLimit, res.Inputs[0].GasLimit)
	assert.Equal(t, uint64(0), res.Inputs[0].GasUsed)
	assert.Nil(t, res.Inputs[0].BaseFee)
	assert.Equal(t, hash(2), res.Inputs[0].Hash)

	assert.Equal(t, uint64(100), res.Mappings[0].BlockNumber)
	assert.Equal(t, uint64(7), res.Mappings[0].BatchId)
	assert.Equal(t, uint64(3), res.Mappings[0].EpochId)
	assert.Equal(t, uint64(5000), res.Mappings[0].Timestamp)
	assert.Equal(t, uint32(1), res.Mappings[1].BatchIndex)
}

func TestAssembleUsesConfiguredGasLimit(t *testing.T) {
	batch := &types.Batch{
		Id:       types.NewBatchId(1, hash(1)),
		L1Origin: uint256.NewInt(1),
		Blocks: []types.BlockInBatch{
			{
				BatchIndex:  0,
				Number:      uint256.NewInt(1),
				Hash:        hash(2),
				StateRoot:   hash(3),
				TxRoot:      hash(4),
				ReceiptRoot: hash(5),
				Timestamp:   1,
			},
		},
	}
	a := &Assembler{GasLimit: 15_000_000}
	res := a.Assemble(batch, 1, 1)
	assert.EqualValues(t, 15_000_000, res.Inputs[0].GasLimit)
}
