// Package fssource implements the filesystem directory-scan BatchSource
// variant: files sorted lexicographically, filtered by extension and by
// parsed batch number against the starting checkpoint.
package fssource

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	"github.com/gateway-fm/cdk-ingestion/datastream"
	"github.com/gateway-fm/cdk-ingestion/types"
)

// Source scans a directory of batch files.
type Source struct {
	fs        afero.Fs
	dir       string
	extension string

	checkpointStorage datastream.CheckpointStorage
	cursor            int
	files             []string
	scanned           bool
}

func New(fs afero.Fs, dir, extension string, checkpointStorage datastream.CheckpointStorage) *Source {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Source{fs: fs, dir: dir, extension: extension, checkpointStorage: checkpointStorage}
}

func (s *Source) scan(ctx context.Context) error {
	if s.scanned {
		return nil
	}

	cp, err := s.checkpointStorage.Load(ctx)
	if err != nil {
		return datastream.NewError(datastream.KindNetworkError, "load checkpoint", err)
	}
	var start uint64
	if cp != nil && cp.LastBatchId != nil {
		start = cp.LastBatchId.Uint64()
	}

	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return datastream.NewError(datastream.KindSourceUnavailable, "read batch directory", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if s.extension != "" && filepath.Ext(entry.Name()) != s.extension {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var qualifying []string
	for _, name := range names {
		batch, err := s.readBatch(name)
		if err != nil {
			return err
		}
		if batch.Id.Number != nil && batch.Id.Number.Uint64() >= start {
			qualifying = append(qualifying, name)
		}
	}

	s.files = qualifying
	s.scanned = true
	return nil
}

func (s *Source) readBatch(name string) (*types.Batch, error) {
	raw, err := afero.ReadFile(s.fs, filepath.Join(s.dir, name))
	if err != nil {
		return nil, datastream.NewError(datastream.KindSourceUnavailable, "read batch file "+name, err)
	}
	var batch types.Batch
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, datastream.NewError(datastream.KindDeserialization, "decode batch file "+name, err)
	}
	return &batch, nil
}

func (s *Source) Next(ctx context.Context) (*types.Batch, error) {
	if err := s.scan(ctx); err != nil {
		return nil, err
	}
	if s.cursor >= len(s.files) {
		return nil, nil
	}
	name := s.files[s.cursor]
	s.cursor++
	return s.readBatch(name)
}

func (s *Source) Checkpoint(ctx context.Context) (*types.Checkpoint, error) {
	return s.checkpointStorage.Load(ctx)
}

func (s *Source) SetCheckpoint(ctx context.Context, cp *types.Checkpoint) error {
	s.scanned = false
	s.cursor = 0
	return s.checkpointStorage.Save(ctx, cp)
}

func (s *Source) HealthCheck(ctx context.Context) error {
	ok, err := afero.DirExists(s.fs, s.dir)
	if err != nil {
		return datastream.NewError(datastream.KindSourceUnavailable, "stat batch directory", err)
	}
	if !ok {
		return datastream.NewError(datastream.KindSourceUnavailable, "batch directory does not exist", nil)
	}
	return nil
}

func (s *Source) Metadata(ctx context.Context) (datastream.SourceMetadata, error) {
	available := s.HealthCheck(ctx) == nil
	return datastream.SourceMetadata{
		Name:                "fssource",
		Version:             "1.0",
		URL:                 "file://" + s.dir,
		SupportsCheckpoints: true,
		Available:           available,
	}, nil
}

// Stream drains the directory once (filesystem sources have no
// server-push notion) and closes the channel when exhausted or ctx is
// cancelled.
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

var _ datastream.BatchSource = (*Source)(nil)
