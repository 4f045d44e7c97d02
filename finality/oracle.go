package finality

import (
	"context"
	"sync"
	"time"

	"github.com/ledgerwatch/log/v3"

	"github.com/gateway-fm/cdk-ingestion/types"
)

// Metadata mirrors the original implementation's OracleMetadata.
type Metadata struct {
	Name           string
	Version        string
	L1ChainID      uint64
	BridgeAddress  types.Hash
	CurrentL1Block uint64
	LastCheck      uint64
	Active         bool
}

// LogFilter is the minimal contract for reading BatchFinalized /
// BatchRolledBack events between two L1 blocks.
type LogFilter interface {
	FinalizedLogs(ctx context.Context, fromBlock, toBlock uint64) ([]types.FinalityTag, error)
	RolledBackLogs(ctx context.Context, fromBlock, toBlock uint64) ([]types.FinalityTag, error)
}

// HeadReader is the subset of L1Client the oracle needs to drive
// polling; satisfied by *L1Client, and by fakes in tests.
type HeadReader interface {
	GetCurrentBlockNumber(ctx context.Context) (uint64, error)
	HealthCheck(ctx context.Context) error
}

// Oracle polls an L1 client plus a log filter for BatchFinalized and
// BatchRolledBack events, advancing at most one polling interval per
// call to Poll.
type Oracle struct {
	mu sync.Mutex

	l1              HeadReader
	logs            LogFilter
	pollingInterval time.Duration
	lastPoll        time.Time
	lastPollBlock   uint64

	finalized  map[uint64]types.FinalityTag
	rolledBack map[uint64]types.FinalityTag

	logger log.Logger
	meta   Metadata
}

func NewOracle(l1 HeadReader, logs LogFilter, meta Metadata, logger log.Logger) *Oracle {
	if logger == nil {
		logger = log.Root()
	}
	return &Oracle{
		l1:              l1,
		logs:            logs,
		pollingInterval: 12 * time.Second,
		finalized:       make(map[uint64]types.FinalityTag),
		rolledBack:      make(map[uint64]types.FinalityTag),
		logger:          logger,
		meta:            meta,
	}
}

// Poll implements the rate-limit -> head-read -> log-query -> ordering
// algorithm: BatchFinalized events are applied before BatchRolledBack
// events for the same tick, so a batch finalized and rolled back within
// the same window ends up RolledBack (the terminal, more conservative
// state). A RolledBack event for a batch finalized by an earlier poll is
// ignored, since Finalized is terminal.
func (o *Oracle) Poll(ctx context.Context, now time.Time) ([]types.FinalityTag, error) {
	o.mu.Lock()
	if !o.lastPoll.IsZero() && now.Sub(o.lastPoll) < o.pollingInterval {
		o.mu.Unlock()
		return nil, nil
	}
	lastPollBlock := o.lastPollBlock
	o.mu.Unlock()

	head, err := o.l1.GetCurrentBlockNumber(ctx)
	if err != nil {
		return nil, newErr(KindL1Rpc, "poll: read head", err)
	}
	if head <= lastPollBlock {
		o.recordPoll(now, lastPollBlock)
		return nil, nil
	}

	finalized, err := o.logs.FinalizedLogs(ctx, lastPollBlock+1, head)
	if err != nil {
		return nil, newErr(KindContractCall, "poll: finalized logs", err)
	}
	rolledBack, err := o.logs.RolledBackLogs(ctx, lastPollBlock+1, head)
	if err != nil {
		return nil, newErr(KindContractCall, "poll: rolled back logs", err)
	}

	o.mu.Lock()
	var tags []types.FinalityTag
	finalizedNow := make(map[uint64]bool, len(finalized))
	for _, tag := range finalized {
		o.finalized[tag.BatchId.Uint64()] = tag
		finalizedNow[tag.BatchId.Uint64()] = true
		tags = append(tags, tag)
	}
	for _, tag := range rolledBack {
		id := tag.BatchId.Uint64()
		if _, wasFinal := o.finalized[id]; wasFinal && !finalizedNow[id] {
			continue
		}
		delete(o.finalized, id)
		o.rolledBack[id] = tag
		tags = append(tags, tag)
	}
	o.mu.Unlock()

	o.recordPoll(now, head)
	return tags, nil
}

func (o *Oracle) recordPoll(now time.Time, block uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastPoll = now
	o.lastPollBlock = block
	o.meta.CurrentL1Block = block
	o.meta.LastCheck = uint64(now.Unix())
}

func (o *Oracle) GetFinalityStatus(batchId uint64) (*types.FinalityStatus, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.rolledBack[batchId]; ok {
		s := types.FinalityRolledBack
		return &s, true
	}
	if _, ok := o.finalized[batchId]; ok {
		s := types.FinalityFinalized
		return &s, true
	}
	return nil, false
}

func (o *Oracle) GetFinalizedBatches() []types.FinalityTag {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]types.FinalityTag, 0, len(o.finalized))
	for _, tag := range o.finalized {
		out = append(out, tag)
	}
	return out
}

func (o *Oracle) GetRolledBackBatches() []types.FinalityTag {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]types.FinalityTag, 0, len(o.rolledBack))
	for _, tag := range o.rolledBack {
		out = append(out, tag)
	}
	return out
}

func (o *Oracle) HealthCheck(ctx context.Context) error {
	return o.l1.HealthCheck(ctx)
}

func (o *Oracle) Metadata() Metadata {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.meta
}

func (o *Oracle) SetPollingInterval(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pollingInterval = d
}

func (o *Oracle) GetPollingInterval() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pollingInterval
}

