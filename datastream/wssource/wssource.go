// Package wssource implements the WebSocket subscription BatchSource
// variant, speaking the cdk_subscribeBatches JSON-RPC handshake.
package wssource

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ledgerwatch/log/v3"

	"github.com/gateway-fm/cdk-ingestion/datastream"
	"github.com/gateway-fm/cdk-ingestion/types"
)

type subscribeRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

// Source subscribes to a cdk_subscribeBatches WebSocket feed.
type Source struct {
	mu   sync.Mutex
	url  string
	conn *websocket.Conn

	checkpointStorage datastream.CheckpointStorage
	logger            log.Logger
	pending           []types.Batch
}

func New(url string, checkpointStorage datastream.CheckpointStorage, logger log.Logger) *Source {
	if logger == nil {
		logger = log.Root()
	}
	return &Source{url: url, checkpointStorage: checkpointStorage, logger: logger}
}

func (s *Source) ensureConnected(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return datastream.NewError(datastream.KindNetworkError, "dial websocket source", err)
	}

	req := subscribeRequest{JSONRPC: "2.0", Method: "cdk_subscribeBatches", Params: []interface{}{}, ID: 1}
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return datastream.NewError(datastream.KindNetworkError, "send subscribe handshake", err)
	}

	s.conn = conn
	return nil
}

// Next reads one frame, decoding a Batch and echoing any ping as a pong
// along the way, until it produces a batch, a fatal error, or ctx ends.
func (s *Source) Next(ctx context.Context) (*types.Batch, error) {
	if len(s.pending) > 0 {
		next := s.pending[0]
		s.pending = s.pending[1:]
		return &next, nil
	}

	if err := s.ensureConnected(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			s.conn = nil
			s.mu.Unlock()
			return nil, datastream.NewError(datastream.KindSourceUnavailable, "websocket read failed", err)
		}

		switch msgType {
		case websocket.PingMessage:
			if err := conn.WriteMessage(websocket.PongMessage, nil); err != nil {
				return nil, datastream.NewError(datastream.KindNetworkError, "echo pong", err)
			}
			continue
		case websocket.TextMessage, websocket.BinaryMessage:
			var batch types.Batch
			if err := json.Unmarshal(data, &batch); err != nil {
				return nil, datastream.NewError(datastream.KindDeserialization, "decode batch frame", err)
			}
			return &batch, nil
		default:
			continue
		}
	}
}

func (s *Source) Checkpoint(ctx context.Context) (*types.Checkpoint, error) {
	return s.checkpointStorage.Load(ctx)
}

func (s *Source) SetCheckpoint(ctx context.Context, cp *types.Checkpoint) error {
	return s.checkpointStorage.Save(ctx, cp)
}

func (s *Source) HealthCheck(ctx context.Context) error {
	return s.ensureConnected(ctx)
}

func (s *Source) Metadata(ctx context.Context) (datastream.SourceMetadata, error) {
	return datastream.SourceMetadata{
		Name:                "wssource",
		Version:             "1.0",
		URL:                 s.url,
		SupportsCheckpoints: true,
		Available:           s.conn != nil,
	}, nil
}

// Stream drains Next in a loop, pushing each batch (or error) to the
// returned channel until ctx is cancelled.
func (s *Source) Stream(ctx context.Context, from *types.Checkpoint) (<-chan datastream.StreamItem, error) {
	if from != nil {
		if err := s.checkpointStorage.Save(ctx, from); err != nil {
			return nil, fmt.Errorf("wssource: seed checkpoint: %w", err)
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
					return
				}
				if ctx.Err() != nil {
					return
				}
				continue
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
