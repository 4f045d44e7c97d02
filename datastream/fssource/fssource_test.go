package fssource

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/holiman/uint256"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateway-fm/cdk-ingestion/datastream"
	"github.com/gateway-fm/cdk-ingestion/types"
)

func writeBatch(t *testing.T, fs afero.Fs, name string, number uint64) {
	t.Helper()
	b := types.Batch{Id: types.NewBatchId(number, types.Hash{}), L1Origin: uint256.NewInt(1)}
	raw, err := json.Marshal(b)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, "/data/"+name, raw, 0o644))
}

func TestSourceReturnsFilesInLexicographicOrder(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeBatch(t, fs, "batch_002.json", 2)
	writeBatch(t, fs, "batch_001.json", 1)
	writeBatch(t, fs, "batch_003.json", 3)

	src := New(fs, "/data", ".json", datastream.NewMemoryCheckpointStorage())
	ctx := context.Background()

	var numbers []uint64
	for {
		b, err := src.Next(ctx)
		require.NoError(t, err)
		if b == nil {
			break
		}
		numbers = append(numbers, b.Id.Number.Uint64())
	}
	assert.Equal(t, []uint64{1, 2, 3}, numbers)
}

func TestSourceFiltersByExtension(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeBatch(t, fs, "batch_001.json", 1)
	require.NoError(t, afero.WriteFile(fs, "/data/readme.txt", []byte("ignore me"), 0o644))

	src := New(fs, "/data", ".json", datastream.NewMemoryCheckpointStorage())
	b, err := src.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, b)

	b, err = src.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestSourceFiltersByCheckpointStart(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeBatch(t, fs, "batch_001.json", 1)
	writeBatch(t, fs, "batch_002.json", 2)
	writeBatch(t, fs, "batch_003.json", 3)

	cpStorage := datastream.NewMemoryCheckpointStorage()
	require.NoError(t, cpStorage.Save(context.Background(), &types.Checkpoint{LastBatchId: uint256.NewInt(2)}))

	src := New(fs, "/data", ".json", cpStorage)
	var numbers []uint64
	for {
		b, err := src.Next(context.Background())
		require.NoError(t, err)
		if b == nil {
			break
		}
		numbers = append(numbers, b.Id.Number.Uint64())
	}
	assert.Equal(t, []uint64{2, 3}, numbers)
}

func TestHealthCheckFailsWhenDirMissing(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := New(fs, "/missing", ".json", datastream.NewMemoryCheckpointStorage())
	err := src.HealthCheck(context.Background())
	require.Error(t, err)
}
