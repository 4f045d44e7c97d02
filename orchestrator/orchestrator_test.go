package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateway-fm/cdk-ingestion/assembler"
	"github.com/gateway-fm/cdk-ingestion/datastream"
	"github.com/gateway-fm/cdk-ingestion/engine"
	"github.com/gateway-fm/cdk-ingestion/finality"
	"github.com/gateway-fm/cdk-ingestion/mapping"
	"github.com/gateway-fm/cdk-ingestion/types"
	"github.com/gateway-fm/cdk-ingestion/validator"
)

func hash(b byte) types.Hash {
	var h types.Hash
	h[31] = b
	return h
}

func testBatch(number uint64) *types.Batch {
	return &types.Batch{
		Id:       types.NewBatchId(number, hash(byte(number))),
		L1Origin: uint256.NewInt(1),
		Blocks: []types.BlockInBatch{
			{
				BatchIndex:  0,
				Number:      uint256.NewInt(number),
				Hash:        hash(byte(number + 1)),
				ParentHash:  hash(byte(number)),
				StateRoot:   hash(1),
				TxRoot:      hash(2),
				ReceiptRoot: hash(3),
				Timestamp:   1000 + number,
			},
		},
	}
}

type fakeSource struct {
	batches []*types.Batch
	cursor  int
	cp      *types.Checkpoint
}

func (f *fakeSource) Next(ctx context.Context) (*types.Batch, error) {
	if f.cursor >= len(f.batches) {
		return nil, nil
	}
	b := f.batches[f.cursor]
	f.cursor++
	return b, nil
}

func (f *fakeSource) Checkpoint(ctx context.Context) (*types.Checkpoint, error) { return f.cp, nil }
func (f *fakeSource) SetCheckpoint(ctx context.Context, cp *types.Checkpoint) error {
	f.cp = cp
	return nil
}
func (f *fakeSource) HealthCheck(ctx context.Context) error { return nil }
func (f *fakeSource) Metadata(ctx context.Context) (datastream.SourceMetadata, error) {
	return datastream.SourceMetadata{}, nil
}
func (f *fakeSource) Stream(ctx context.Context, from *types.Checkpoint) (<-chan datastream.StreamItem, error) {
	return nil, nil
}

var _ datastream.BatchSource = (*fakeSource)(nil)

func TestRunIngestionCommitsBatchesAndStopsOnCancel(t *testing.T) {
	src := &fakeSource{batches: []*types.Batch{testBatch(1), testBatch(2)}}
	eng := engine.NewMemoryEngine()
	mgr := mapping.NewManager(mapping.NewMemoryStorage())
	cpStorage := datastream.NewMemoryCheckpointStorage()

	o := New()
	o.Source = src
	o.Validator = validator.New()
	o.Assembler = assembler.New()
	o.Engine = eng
	o.Mapper = mgr
	o.Checkpoint = cpStorage
	o.PollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := o.RunIngestion(ctx)
	require.NoError(t, err)

	cp, err := cpStorage.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, uint64(2), cp.LastBatchId.Uint64())

	exists, err := eng.BlockExists(context.Background(), uint256.NewInt(1))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestApplyActionExecuteRollbackRewindsEngineAndCheckpoint(t *testing.T) {
	ctx := context.Background()
	eng := engine.NewMemoryEngine()
	mgr := mapping.NewManager(mapping.NewMemoryStorage())
	cpStorage := datastream.NewMemoryCheckpointStorage()
	src := &fakeSource{}

	o := New()
	o.Source = src
	o.Validator = validator.New()
	o.Assembler = assembler.New()
	o.Engine = eng
	o.Mapper = mgr
	o.Checkpoint = cpStorage

	require.NoError(t, o.commitBatch(ctx, testBatch(1), time.Now()))
	require.NoError(t, o.commitBatch(ctx, testBatch(2), time.Now()))

	head, err := eng.GetHeadBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), head.Uint64())

	err = o.applyAction(ctx, finality.Action{
		Kind:               finality.ActionExecuteRollback,
		BatchId:            2,
		RollbackBlock:      1,
		SurvivingBatchId:   1,
		AffectedBlockCount: 1,
	})
	require.NoError(t, err)

	head, err = eng.GetHeadBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), head.Uint64(), "engine must be unwound to the surviving block")

	cp, err := cpStorage.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, uint64(1), cp.LastBatchId.Uint64(), "checkpoint must rewind to the surviving batch")
	assert.Equal(t, hash(1), cp.LastBatchHash, "checkpoint must carry the surviving batch's hash")
	assert.Equal(t, cp, src.cp, "source checkpoint must be updated too")
}

func TestApplyActionExecuteRollbackOfFirstBatchRewindsToZero(t *testing.T) {
	ctx := context.Background()
	eng := engine.NewMemoryEngine()
	mgr := mapping.NewManager(mapping.NewMemoryStorage())
	cpStorage := datastream.NewMemoryCheckpointStorage()
	src := &fakeSource{}

	o := New()
	o.Source = src
	o.Validator = validator.New()
	o.Assembler = assembler.New()
	o.Engine = eng
	o.Mapper = mgr
	o.Checkpoint = cpStorage

	require.NoError(t, o.commitBatch(ctx, testBatch(1), time.Now()))

	err := o.applyAction(ctx, finality.Action{
		Kind:             finality.ActionExecuteRollback,
		BatchId:          1,
		RollbackBlock:    0,
		SurvivingBatchId: 0,
	})
	require.NoError(t, err)

	cp, err := cpStorage.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, uint64(0), cp.LastBatchId.Uint64())
}

func TestRunIngestionStopsOnValidationFailure(t *testing.T) {
	bad := testBatch(1)
	bad.L1Origin = uint256.NewInt(0)
	src := &fakeSource{batches: []*types.Batch{bad}}

	o := New()
	o.Source = src
	o.Validator = validator.New()
	o.Assembler = assembler.New()
	o.Engine = engine.NewMemoryEngine()
	o.Mapper = mapping.NewManager(mapping.NewMemoryStorage())
	o.Checkpoint = datastream.NewMemoryCheckpointStorage()

	err := o.RunIngestion(context.Background())
	require.Error(t, err)
}
