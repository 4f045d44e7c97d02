package httpsource

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateway-fm/cdk-ingestion/datastream"
	"github.com/gateway-fm/cdk-ingestion/types"
)

func TestNextFetchesAndDrainsPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		batches := []types.Batch{
			{Id: types.NewBatchId(1, types.Hash{}), L1Origin: uint256.NewInt(1)},
			{Id: types.NewBatchId(2, types.Hash{}), L1Origin: uint256.NewInt(1)},
		}
		_ = json.NewEncoder(w).Encode(batches)
	}))
	defer server.Close()

	src := New(server.URL, datastream.NewMemoryCheckpointStorage())
	ctx := context.Background()

	b1, err := src.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, b1)
	assert.Equal(t, uint64(1), b1.Id.Number.Uint64())

	b2, err := src.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, b2)
	assert.Equal(t, uint64(2), b2.Id.Number.Uint64())
}

func TestNextSurfacesServiceUnavailableAsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	src := New(server.URL, datastream.NewMemoryCheckpointStorage())
	_, err := src.Next(context.Background())
	require.Error(t, err)
	assert.True(t, datastream.Retryable(err))
	assert.True(t, datastream.Indefinite(err))
}

func TestHealthCheckFailsOnNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	src := New(server.URL, datastream.NewMemoryCheckpointStorage())
	err := src.HealthCheck(context.Background())
	require.Error(t, err)
}

func TestAuthHeaderSentWhenAPIKeySet(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode([]types.Batch{})
	}))
	defer server.Close()

	src := New(server.URL, datastream.NewMemoryCheckpointStorage(), WithAPIKey("secret"))
	_, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", gotAuth)
}
