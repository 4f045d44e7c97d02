package finality

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateway-fm/cdk-ingestion/types"
)

type fakeLogFilter struct {
	finalized  []types.FinalityTag
	rolledBack []types.FinalityTag
}

func (f *fakeLogFilter) FinalizedLogs(ctx context.Context, from, to uint64) ([]types.FinalityTag, error) {
	return f.finalized, nil
}

func (f *fakeLogFilter) RolledBackLogs(ctx context.Context, from, to uint64) ([]types.FinalityTag, error) {
	return f.rolledBack, nil
}

type fakeHeadReader struct {
	head uint64
}

func (f *fakeHeadReader) GetCurrentBlockNumber(ctx context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeHeadReader) HealthCheck(ctx context.Context) error {
	return nil
}

func tag(batchId uint64) types.FinalityTag {
	return types.FinalityTag{BatchId: uint256.NewInt(batchId)}
}

func TestOracleRateLimitsPolling(t *testing.T) {
	filter := &fakeLogFilter{}
	o := NewOracle(&fakeHeadReader{head: 300}, filter, Metadata{}, nil)
	o.pollingInterval = time.Minute
	o.lastPoll = time.Now()
	o.lastPollBlock = 100

	tags, err := o.Poll(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Nil(t, tags)
}

func TestOracleFinalizedThenRolledBackOrderingResolvesToRolledBack(t *testing.T) {
	filter := &fakeLogFilter{
		finalized:  []types.FinalityTag{tag(1)},
		rolledBack: []types.FinalityTag{tag(1)},
	}
	o := NewOracle(&fakeHeadReader{head: 200}, filter, Metadata{}, nil)
	o.lastPollBlock = 0

	_, ok := o.GetFinalityStatus(1)
	require.False(t, ok)

	tags, err := o.Poll(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Len(t, tags, 2)

	status, ok := o.GetFinalityStatus(1)
	require.True(t, ok)
	assert.Equal(t, types.FinalityRolledBack, *status)
}

func TestOracleReturnsNoTagsWhenHeadHasNotAdvanced(t *testing.T) {
	filter := &fakeLogFilter{}
	o := NewOracle(&fakeHeadReader{head: 50}, filter, Metadata{}, nil)
	o.lastPollBlock = 50

	tags, err := o.Poll(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Nil(t, tags)
}
