// Package validator checks an observed Batch against the pipeline's
// structural invariants before it is assembled and handed to the engine.
package validator

import (
	"fmt"

	"github.com/gateway-fm/cdk-ingestion/types"
)

const (
	// DefaultMaxBlocksPerBatch bounds how many blocks a single batch may
	// carry.
	DefaultMaxBlocksPerBatch = 1000
	// DefaultMaxBatchBytes bounds the estimated wire size of a batch.
	DefaultMaxBatchBytes = 10 * 1024 * 1024

	blockSizeEstimate  = 176
	headerSizeEstimate = 72
)

// InvalidBatchError reports why a batch failed validation.
type InvalidBatchError struct {
	Reason string
}

func (e *InvalidBatchError) Error() string {
	return fmt.Sprintf("invalid batch: %s", e.Reason)
}

func invalid(format string, args ...interface{}) error {
	return &InvalidBatchError{Reason: fmt.Sprintf(format, args...)}
}

// Validator enforces the batch structural rules. StrictMode controls
// whether a decreasing timestamp across consecutive blocks is fatal
// (true) or merely logged by the caller as a warning (false); either
// way Validate never treats it as fatal when StrictMode is off — the
// caller decides whether to surface the warning.
type Validator struct {
	MaxBlocksPerBatch int
	MaxBatchBytes     int
	StrictMode        bool
}

// New returns a Validator configured with the spec's default limits.
func New() *Validator {
	return &Validator{
		MaxBlocksPerBatch: DefaultMaxBlocksPerBatch,
		MaxBatchBytes:     DefaultMaxBatchBytes,
		StrictMode:        true,
	}
}

// Warning describes a non-fatal issue Validate surfaced alongside a
// successful validation, such as a decreasing timestamp when StrictMode
// is off.
type Warning struct {
	Reason string
}

// Validate checks batch against every rule in turn, returning the first
// violation as an *InvalidBatchError, plus any non-fatal warnings
// collected along the way when validation otherwise succeeds.
func (v *Validator) Validate(batch *types.Batch) ([]Warning, error) {
	if batch == nil {
		return nil, invalid("batch is nil")
	}

	if batch.Id.Number == nil || batch.Id.Number.IsZero() {
		return nil, invalid("id.number must be non-zero")
	}
	if batch.L1Origin == nil || batch.L1Origin.IsZero() {
		return nil, invalid("l1_origin must be non-zero")
	}

	if len(batch.Blocks) == 0 {
		return nil, invalid("batch has no blocks")
	}
	if len(batch.Blocks) > v.MaxBlocksPerBatch {
		return nil, invalid("block count %d exceeds MAX_BLOCKS_PER_BATCH %d", len(batch.Blocks), v.MaxBlocksPerBatch)
	}

	estimatedSize := headerSizeEstimate + len(batch.ProofMeta.DataProof) + len(batch.ProofMeta.InclusionProof) +
		len(batch.Blocks)*blockSizeEstimate
	if estimatedSize > v.MaxBatchBytes {
		return nil, invalid("estimated size %d exceeds MAX_BATCH_BYTES %d", estimatedSize, v.MaxBatchBytes)
	}

	var warnings []Warning
	var lastNumber uint64
	var lastTimestamp uint64
	haveLast := false

	for i, blk := range batch.Blocks {
		if int(blk.BatchIndex) != i {
			return nil, invalid("block %d: batch_index %d does not equal position %d", i, blk.BatchIndex, i)
		}
		if blk.Number == nil || blk.Number.IsZero() {
			return nil, invalid("block %d: number must be non-zero", i)
		}
		if blk.Hash.IsZero() {
			return nil, invalid("block %d: hash must be non-zero", i)
		}
		if blk.StateRoot.IsZero() {
			return nil, invalid("block %d: state_root must be non-zero", i)
		}
		if blk.TxRoot.IsZero() {
			return nil, invalid("block %d: tx_root must be non-zero", i)
		}
		if blk.ReceiptRoot.IsZero() {
			return nil, invalid("block %d: receipt_root must be non-zero", i)
		}
		number := blk.Number.Uint64()
		if blk.ParentHash.IsZero() && number != 1 {
			return nil, invalid("block %d: parent_hash must be non-zero unless number == 1", i)
		}
		if blk.Timestamp == 0 {
			return nil, invalid("block %d: timestamp must be non-zero", i)
		}

		if haveLast {
			if number <= lastNumber {
				return nil, invalid("block %d: number %d does not strictly increase over previous %d", i, number, lastNumber)
			}
			if blk.Timestamp < lastTimestamp {
				if v.StrictMode {
					return nil, invalid("block %d: timestamp %d decreases from previous %d", i, blk.Timestamp, lastTimestamp)
				}
				warnings = append(warnings, Warning{
					Reason: fmt.Sprintf("block %d: timestamp %d decreases from previous %d", i, blk.Timestamp, lastTimestamp),
				})
			}
		}
		lastNumber = number
		lastTimestamp = blk.Timestamp
		haveLast = true
	}

	return warnings, nil
}
