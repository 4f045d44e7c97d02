// Package assembler transforms validated batches into engine-ready
// block inputs and the mapping records that will index them.
package assembler

import (
	"github.com/holiman/uint256"

	"github.com/gateway-fm/cdk-ingestion/mapping"
	"github.com/gateway-fm/cdk-ingestion/types"
)

// DefaultGasLimit is used for every assembled block; the DA-layer batch
// carries no gas accounting of its own.
const DefaultGasLimit = 30_000_000

// BlockInputs is the canonical, engine-ready representation of a single
// L2 block, derived from a BlockInBatch plus the defaults documented for
// fields the batch format does not carry.
type BlockInputs struct {
	Number           *uint256.Int
	Hash             types.Hash
	ParentHash       types.Hash
	StateRoot        types.Hash
	ReceiptsRoot     types.Hash
	TransactionsRoot types.Hash
	Timestamp        uint64
	GasLimit         uint64
	GasUsed          uint64
	BaseFee          *uint64
	ExtraData        []byte
	Transactions     [][]byte
}

// Result is the output of assembling one batch: the per-block engine
// inputs in order, plus the block mapping records the caller must
// persist through the mapping index before the batch mapping itself.
type Result struct {
	Inputs   []BlockInputs
	Mappings []mapping.BlockMapping
}

// Assembler converts validated batches into Result. It is stateless: it
// never writes to storage, leaving persistence ordering to the caller.
type Assembler struct {
	GasLimit uint64
}

func New() *Assembler {
	return &Assembler{GasLimit: DefaultGasLimit}
}

// Assemble builds block inputs for every block in batch. batchId and
// epochId are carried into the emitted BlockMapping records verbatim;
// the caller is responsible for resolving epochId before assembly.
func (a *Assembler) Assemble(batch *types.Batch, epochId uint64, now uint64) Result {
	res := Result{
		Inputs:   make([]BlockInputs, 0, len(batch.Blocks)),
		Mappings: make([]mapping.BlockMapping, 0, len(batch.Blocks)),
	}

	gasLimit := a.GasLimit
	if gasLimit == 0 {
		gasLimit = DefaultGasLimit
	}

	batchId := batch.Id.Number.Uint64()

	for _, blk := range batch.Blocks {
		number := blk.Number
		res.Inputs = append(res.Inputs, BlockInputs{
			Number:           number,
			Hash:             blk.Hash,
			ParentHash:       blk.ParentHash,
			StateRoot:        blk.StateRoot,
			ReceiptsRoot:     blk.ReceiptRoot,
			TransactionsRoot: blk.TxRoot,
			Timestamp:        blk.Timestamp,
			GasLimit:         gasLimit,
			GasUsed:          0,
			BaseFee:          nil,
			ExtraData:        []byte{},
			Transactions:     [][]byte{},
		})

		res.Mappings = append(res.Mappings, mapping.BlockMapping{
			BlockNumber: blk.Number.Uint64(),
			BlockHash:   blk.Hash,
			BatchId:     batchId,
			BatchIndex:  blk.BatchIndex,
			EpochId:     epochId,
			Timestamp:   now,
		})
	}

	return res
}
