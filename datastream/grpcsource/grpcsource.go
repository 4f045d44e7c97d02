package grpcsource

import (
	"context"
	"io"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/gateway-fm/cdk-ingestion/datastream"
	"github.com/gateway-fm/cdk-ingestion/types"
)

const subscribeBatchesMethod = "/cdk.datastream.BatchStream/SubscribeBatches"

var subscribeStreamDesc = grpc.StreamDesc{
	StreamName:    "SubscribeBatches",
	ServerStreams: true,
}

type subscribeRequest struct {
	FromBatchId uint64 `json:"from_batch_id"`
}

// Source consumes a server-streaming gRPC batch feed over a JSON codec.
type Source struct {
	mu     sync.Mutex
	target string
	conn   *grpc.ClientConn
	stream grpc.ClientStream

	checkpointStorage datastream.CheckpointStorage
}

func New(target string, checkpointStorage datastream.CheckpointStorage) *Source {
	return &Source{target: target, checkpointStorage: checkpointStorage}
}

func (s *Source) dial(ctx context.Context) error {
	if s.conn != nil {
		return nil
	}
	conn, err := grpc.NewClient(s.target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return datastream.NewError(datastream.KindNetworkError, "dial grpc source", err)
	}
	s.conn = conn
	return nil
}

func (s *Source) ensureStream(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream != nil {
		return nil
	}
	if err := s.dial(ctx); err != nil {
		return err
	}

	cp, err := s.checkpointStorage.Load(ctx)
	if err != nil {
		return datastream.NewError(datastream.KindNetworkError, "load checkpoint", err)
	}
	var from uint64
	if cp != nil && cp.LastBatchId != nil {
		from = cp.LastBatchId.Uint64()
	}

	stream, err := s.conn.NewStream(ctx, &subscribeStreamDesc, subscribeBatchesMethod, grpc.CallContentSubtype(codecName))
	if err != nil {
		return datastream.NewError(datastream.KindNetworkError, "open subscribe stream", err)
	}
	if err := stream.SendMsg(subscribeRequest{FromBatchId: from}); err != nil {
		return datastream.NewError(datastream.KindNetworkError, "send subscribe request", err)
	}
	if err := stream.CloseSend(); err != nil {
		return datastream.NewError(datastream.KindNetworkError, "close subscribe send", err)
	}

	s.stream = stream
	return nil
}

func (s *Source) Next(ctx context.Context) (*types.Batch, error) {
	if err := s.ensureStream(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()

	var batch types.Batch
	err := stream.RecvMsg(&batch)
	if err == io.EOF {
		s.mu.Lock()
		s.stream = nil
		s.mu.Unlock()
		return nil, nil
	}
	if err != nil {
		s.mu.Lock()
		s.stream = nil
		s.mu.Unlock()
		return nil, datastream.NewError(datastream.KindSourceUnavailable, "grpc stream recv failed", err)
	}
	return &batch, nil
}

func (s *Source) Checkpoint(ctx context.Context) (*types.Checkpoint, error) {
	return s.checkpointStorage.Load(ctx)
}

func (s *Source) SetCheckpoint(ctx context.Context, cp *types.Checkpoint) error {
	s.mu.Lock()
	s.stream = nil
	s.mu.Unlock()
	return s.checkpointStorage.Save(ctx, cp)
}

func (s *Source) HealthCheck(ctx context.Context) error {
	return s.dial(ctx)
}

func (s *Source) Metadata(ctx context.Context) (datastream.SourceMetadata, error) {
	return datastream.SourceMetadata{
		Name:                "grpcsource",
		Version:             "1.0",
		URL:                 s.target,
		SupportsCheckpoints: true,
		Available:           s.conn != nil,
	}, nil
}

// Stream drains Next in a loop, forwarding batches and fatal errors to
// the returned channel until ctx is cancelled or the stream ends.
func (s *Source) Stream(ctx context.Context, from *types.Checkpoint) (<-chan datastream.StreamItem, error) {
	if from != nil {
		if err := s.SetCheckpoint(ctx, from); err != nil {
			return nil, err
		}
	}

	out := make(chan datastream.StreamItem)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			batch, err := s.Next(ctx)
			if err != nil {
				select {
				case out <- datastream.StreamItem{Err: err}:
				case <-ctx.Done():
				}
				return
			}
			if batch == nil {
				return
			}
			select {
			case out <- datastream.StreamItem{Batch: batch}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

var _ datastream.BatchSource = (*Source)(nil)
