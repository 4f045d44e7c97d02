package mapping

import "context"

// Storage is the CRUD contract each of the three keyed stores
// (block/batch/epoch mappings) must satisfy. All operations are
// idempotent: save overwrites by key, delete on a missing key is a
// no-op. Implementations must support concurrent readers; writers
// serialize per key, since only the orchestrator writes and only the
// rollback manager deletes, coordinated externally.
type Storage interface {
	SaveBlockMapping(ctx context.Context, m BlockMapping) error
	LoadBlockMapping(ctx context.Context, blockNumber uint64) (*BlockMapping, bool, error)
	RangeBlockMappings(ctx context.Context, start, end uint64) ([]BlockMapping, error)
	DeleteBlockMapping(ctx context.Context, blockNumber uint64) error

	SaveBatchMapping(ctx context.Context, m BatchMapping) error
	LoadBatchMapping(ctx context.Context, batchId uint64) (*BatchMapping, bool, error)
	RangeBatchMappings(ctx context.Context, start, end uint64) ([]BatchMapping, error)
	DeleteBatchMapping(ctx context.Context, batchId uint64) error

	SaveEpochMapping(ctx context.Context, m EpochMapping) error
	LoadEpochMapping(ctx context.Context, epochId uint64) (*EpochMapping, bool, error)
	RangeEpochMappings(ctx context.Context, start, end uint64) ([]EpochMapping, error)
	DeleteEpochMapping(ctx context.Context, epochId uint64) error
}
