// Package types holds the data model shared by every stage of the batch
// ingestion and finality pipeline: batches and their blocks as observed
// from the DA layer, the derived epoch/mapping index records, finality
// tags produced by the L1 oracle, and ingestion checkpoints.
package types

import (
	"github.com/holiman/uint256"
)

// BatchId uniquely identifies a batch by its L2 batch number and the
// content hash of the batch. A given number observed with two different
// hashes is a rollback candidate, never a silent replacement.
type BatchId struct {
	Number *uint256.Int `json:"number"`
	Hash   Hash         `json:"hash"`
}

func NewBatchId(number uint64, hash Hash) BatchId {
	return BatchId{Number: uint256.NewInt(number), Hash: hash}
}

// ProofMetadata carries the DA-layer's proof artifacts for a batch.
// The pipeline forwards this metadata; it never verifies the proof
// cryptographically.
type ProofMetadata struct {
	DataProof      []byte `json:"data_proof"`
	NamespaceId    Bytes8 `json:"namespace_id"`
	Commitment     Hash   `json:"commitment"`
	InclusionProof []byte `json:"inclusion_proof"`
}

// BlockInBatch is one L2 block as carried inside a batch, before
// assembly into engine-ready BlockInputs.
type BlockInBatch struct {
	BatchIndex  uint32       `json:"batch_index"`
	Number      *uint256.Int `json:"number"`
	Hash        Hash         `json:"hash"`
	ParentHash  Hash         `json:"parent_hash"`
	StateRoot   Hash         `json:"state_root"`
	TxRoot      Hash         `json:"tx_root"`
	ReceiptRoot Hash         `json:"receipt_root"`
	Timestamp   uint64       `json:"timestamp"`
}

// Batch is an ordered group of L2 blocks submitted together; it is
// immutable once observed.
type Batch struct {
	Id           BatchId        `json:"id"`
	L1Origin     *uint256.Int   `json:"l1_origin"`
	L1OriginHash Hash           `json:"l1_origin_hash"`
	Blocks       []BlockInBatch `json:"blocks"`
	ProofMeta    ProofMetadata  `json:"proof_meta"`
	Timestamp    uint64         `json:"timestamp"`
}

// BlockCount returns the number of blocks carried by the batch.
func (b *Batch) BlockCount() int {
	return len(b.Blocks)
}

// Epoch is a derived, contiguous range tiling the chain without gaps or
// overlap; it is never authoritative on its own.
type Epoch struct {
	Id          BatchId      `json:"id"`
	StartBlock  *uint256.Int `json:"start_block"`
	EndBlock    *uint256.Int `json:"end_block"`
	StartBatch  *uint256.Int `json:"start_batch"`
	EndBatch    *uint256.Int `json:"end_batch"`
	StartTs     uint64       `json:"start_ts"`
	EndTs       uint64       `json:"end_ts"`
	BlockCount  uint32       `json:"block_count"`
}

// FinalityStatus is the lifecycle state of a batch as observed on L1.
type FinalityStatus string

const (
	FinalityPending    FinalityStatus = "pending"
	FinalityFinalized  FinalityStatus = "finalized"
	FinalityRolledBack FinalityStatus = "rolled_back"
)

// FinalityTag is a record produced by the finality oracle describing
// the L1-observed status of a single batch. The terminal status,
// once Finalized or RolledBack, does not change.
type FinalityTag struct {
	BatchId     *uint256.Int   `json:"batch_id"`
	L1Block     *uint256.Int   `json:"l1_block"`
	L1BlockHash Hash           `json:"l1_block_hash"`
	Status      FinalityStatus `json:"status"`
	Timestamp   uint64         `json:"timestamp"`
	TxHash      *Hash          `json:"tx_hash,omitempty"`
}

// Checkpoint is a durable marker of the last successfully ingested
// batch, used to resume a batch source after a restart.
type Checkpoint struct {
	LastBatchId   *uint256.Int      `json:"last_batch_id"`
	LastBatchHash Hash              `json:"last_batch_hash"`
	LastL1Block   *uint256.Int      `json:"last_l1_block"`
	Timestamp     uint64            `json:"timestamp"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// IsValid reports whether the checkpoint satisfies the spec's validity
// invariant: a non-zero batch hash and a positive timestamp.
func (c *Checkpoint) IsValid() bool {
	return c != nil && !c.LastBatchHash.IsZero() && c.Timestamp > 0
}

// FromBatch builds a checkpoint recording that batch has just been
// committed end to end.
func FromBatch(batch *Batch, now uint64) *Checkpoint {
	return &Checkpoint{
		LastBatchId:   new(uint256.Int).Set(batch.Id.Number),
		LastBatchHash: batch.Id.Hash,
		LastL1Block:   new(uint256.Int).Set(batch.L1Origin),
		Timestamp:     now,
		Metadata:      map[string]string{},
	}
}
