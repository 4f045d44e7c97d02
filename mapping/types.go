// Package mapping implements the persistent block<->batch<->epoch index
// (component E of the pipeline): three keyed stores plus a manager that
// derives records from assembled batches and enforces the write-ordering
// invariant (block mappings committed before the batch mapping that
// references them).
package mapping

import "github.com/gateway-fm/cdk-ingestion/types"

// BlockMapping records which batch and epoch a given L2 block belongs to.
type BlockMapping struct {
	BlockNumber uint64     `json:"block_number"`
	BlockHash   types.Hash `json:"block_hash"`
	BatchId     uint64     `json:"batch_id"`
	BatchIndex  uint32     `json:"batch_index"`
	EpochId     uint64     `json:"epoch_id"`
	Timestamp   uint64     `json:"timestamp"`
}

// BatchMapping records the block range and epoch a given batch covers.
type BatchMapping struct {
	BatchId    uint64     `json:"batch_id"`
	BatchHash  types.Hash `json:"batch_hash"`
	StartBlock uint64     `json:"start_block"`
	EndBlock   uint64     `json:"end_block"`
	BlockCount uint32     `json:"block_count"`
	EpochId    uint64     `json:"epoch_id"`
	Timestamp  uint64     `json:"timestamp"`
}

// EpochMapping records the block and batch range a given epoch covers.
type EpochMapping struct {
	EpochId    uint64     `json:"epoch_id"`
	EpochHash  types.Hash `json:"epoch_hash"`
	StartBlock uint64     `json:"start_block"`
	EndBlock   uint64     `json:"end_block"`
	BlockCount uint32     `json:"block_count"`
	BatchCount uint32     `json:"batch_count"`
	Timestamp  uint64     `json:"timestamp"`
}

// Stats tracks running totals the manager accumulates across assembly.
type Stats struct {
	TotalBlocks        uint64
	TotalBatches       uint64
	TotalEpochs        uint64
	AvgBlocksPerBatch  float64
	AvgBatchesPerEpoch float64
	LastAssembly       uint64
}
