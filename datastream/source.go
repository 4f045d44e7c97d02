// Package datastream defines the polymorphic BatchSource contract and
// its shared error taxonomy. Concrete transports (HTTP long-poll,
// WebSocket subscription, gRPC, filesystem scan) live in sibling
// packages, each implementing this same capability set.
package datastream

import (
	"context"

	"github.com/gateway-fm/cdk-ingestion/types"
)

// SourceMetadata describes a batch source's identity and capabilities.
type SourceMetadata struct {
	Name                string `json:"name"`
	Version             string `json:"version"`
	URL                 string `json:"url"`
	SupportsCheckpoints bool   `json:"supports_checkpoints"`
	MaxBatchSize        *int   `json:"max_batch_size,omitempty"`
	Available           bool   `json:"available"`
}

// StreamItem is one item of a push-style stream: either a Batch or an
// error observed while producing it.
type StreamItem struct {
	Batch *types.Batch
	Err   error
}

// BatchSource is the polymorphic contract every batch transport
// implements. next advances by one unit, returning (nil, nil) when no
// new batch is currently available (not an error). stream is the
// server-push variant, emitting items on the returned channel until ctx
// is cancelled or the source is exhausted.
type BatchSource interface {
	Next(ctx context.Context) (*types.Batch, error)
	Checkpoint(ctx context.Context) (*types.Checkpoint, error)
	SetCheckpoint(ctx context.Context, cp *types.Checkpoint) error
	HealthCheck(ctx context.Context) error
	Metadata(ctx context.Context) (SourceMetadata, error)
	Stream(ctx context.Context, from *types.Checkpoint) (<-chan StreamItem, error)
}

// CheckpointStorage persists the last successfully ingested checkpoint
// across restarts, independent of the batch source's own transport.
type CheckpointStorage interface {
	Load(ctx context.Context) (*types.Checkpoint, error)
	Save(ctx context.Context, cp *types.Checkpoint) error
}
