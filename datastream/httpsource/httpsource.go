// Package httpsource implements the HTTP long-poll BatchSource variant:
// GET {base}/api/v1/batches[?from=<batchId>], /metadata, /health.
package httpsource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ledgerwatch/log/v3"

	"github.com/gateway-fm/cdk-ingestion/datastream"
	"github.com/gateway-fm/cdk-ingestion/types"
)

// Source polls an HTTP data source for new batches.
type Source struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     log.Logger

	checkpointStorage datastream.CheckpointStorage
	pending           []types.Batch
}

// Option configures a Source.
type Option func(*Source)

func WithAPIKey(key string) Option {
	return func(s *Source) { s.apiKey = key }
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *Source) { s.httpClient = c }
}

func WithLogger(l log.Logger) Option {
	return func(s *Source) { s.logger = l }
}

func New(baseURL string, checkpointStorage datastream.CheckpointStorage, opts ...Option) *Source {
	s := &Source{
		baseURL:           baseURL,
		httpClient:        &http.Client{Timeout: 30 * time.Second},
		logger:            log.Root(),
		checkpointStorage: checkpointStorage,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Source) authHeader(req *http.Request) {
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
}

// Next returns the next unseen batch, fetching a fresh page from the
// source when the local buffer is empty. Returns (nil, nil) when there
// is nothing new.
func (s *Source) Next(ctx context.Context) (*types.Batch, error) {
	if len(s.pending) == 0 {
		if err := s.fetchPage(ctx); err != nil {
			return nil, err
		}
	}
	if len(s.pending) == 0 {
		return nil, nil
	}
	next := s.pending[0]
	s.pending = s.pending[1:]
	return &next, nil
}

func (s *Source) fetchPage(ctx context.Context) error {
	cp, err := s.checkpointStorage.Load(ctx)
	if err != nil {
		return datastream.NewError(datastream.KindNetworkError, "load checkpoint", err)
	}

	url := fmt.Sprintf("%s/api/v1/batches", s.baseURL)
	if cp != nil && cp.LastBatchId != nil {
		url = fmt.Sprintf("%s?from=%s", url, cp.LastBatchId.String())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return datastream.NewError(datastream.KindNetworkError, "build request", err)
	}
	s.authHeader(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return datastream.NewError(datastream.KindTimeout, "request cancelled", err)
		}
		return datastream.NewError(datastream.KindNetworkError, "transport", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return datastream.NewError(datastream.KindSourceUnavailable, "source returned 503", nil)
	}
	if resp.StatusCode >= 400 {
		return datastream.NewHTTPError(resp.StatusCode, "batches request failed")
	}

	var batches []types.Batch
	if err := json.NewDecoder(resp.Body).Decode(&batches); err != nil {
		return datastream.NewError(datastream.KindDeserialization, "decode batches", err)
	}

	s.pending = append(s.pending, batches...)
	return nil
}

func (s *Source) Checkpoint(ctx context.Context) (*types.Checkpoint, error) {
	return s.checkpointStorage.Load(ctx)
}

func (s *Source) SetCheckpoint(ctx context.Context, cp *types.Checkpoint) error {
	return s.checkpointStorage.Save(ctx, cp)
}

func (s *Source) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/v1/health", nil)
	if err != nil {
		return datastream.NewError(datastream.KindNetworkError, "build health request", err)
	}
	s.authHeader(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return datastream.NewError(datastream.KindNetworkError, "health check transport", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return datastream.NewError(datastream.KindSourceUnavailable, fmt.Sprintf("health check returned %d", resp.StatusCode), nil)
	}
	return nil
}

func (s *Source) Metadata(ctx context.Context) (datastream.SourceMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/v1/metadata", nil)
	if err != nil {
		return datastream.SourceMetadata{}, datastream.NewError(datastream.KindNetworkError, "build metadata request", err)
	}
	s.authHeader(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return datastream.SourceMetadata{}, datastream.NewError(datastream.KindNetworkError, "metadata transport", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return datastream.SourceMetadata{}, datastream.NewHTTPError(resp.StatusCode, "metadata request failed")
	}

	var meta datastream.SourceMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return datastream.SourceMetadata{}, datastream.NewError(datastream.KindDeserialization, "decode metadata", err)
	}
	return meta, nil
}

// Stream polls fetchPage on an interval, pushing newly observed batches
// to the returned channel until ctx is cancelled.
func (s *Source) Stream(ctx context.Context, from *types.Checkpoint) (<-chan datastream.StreamItem, error) {
	if from != nil {
		if err := s.checkpointStorage.Save(ctx, from); err != nil {
			return nil, datastream.NewError(datastream.KindNetworkError, "seed checkpoint", err)
		}
	}

	out := make(chan datastream.StreamItem)
	go func() {
		defer close(out)
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				batch, err := s.Next(ctx)
				if err != nil {
					select {
					case out <- datastream.StreamItem{Err: err}:
					case <-ctx.Done():
					}
					continue
				}
				if batch == nil {
					continue
				}
				select {
				case out <- datastream.StreamItem{Batch: batch}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

var _ datastream.BatchSource = (*Source)(nil)
