package finality

import (
	"context"
	"sync"
	"time"

	"github.com/gateway-fm/cdk-ingestion/mapping"
	"github.com/gateway-fm/cdk-ingestion/types"
)

// RollbackRecord is a terminal, executed rollback.
type RollbackRecord struct {
	BatchId        uint64
	BatchHash      types.Hash
	L1BlockNumber  uint64
	TxHash         *types.Hash
	Timestamp      uint64
	Reason         string
	AffectedBlocks []uint64
}

// PendingRollback is an observed but not-yet-confirmed rollback.
type PendingRollback struct {
	BatchId               uint64
	BatchHash             types.Hash
	L1BlockNumber         uint64
	TxHash                *types.Hash
	Timestamp             uint64
	Confirmations         uint64
	RequiredConfirmations uint64
}

// RollbackConfig mirrors the original implementation's defaults.
type RollbackConfig struct {
	RequiredConfirmations uint64
	MaxRollbackDepth      uint64
	RollbackTimeout       time.Duration
	AutoExecute           bool
	ValidateRollbacks     bool
}

func DefaultRollbackConfig() RollbackConfig {
	return RollbackConfig{
		RequiredConfirmations: 12,
		MaxRollbackDepth:      1000,
		RollbackTimeout:       time.Hour,
		AutoExecute:           true,
		ValidateRollbacks:     true,
	}
}

// ActionKind is the outcome RollbackManager.Process dispatches to the
// orchestrator.
type ActionKind int

const (
	ActionExecuteRollback ActionKind = iota
	ActionPendingRollback
	ActionFinalized
	ActionStatusChanged
)

// Action is one unit of dispatch work from Process. RollbackBlock and
// SurvivingBatchId are populated only for ActionExecuteRollback;
// FinalBlock only for ActionFinalized. Resolving these here, while the
// mapping is still present, lets the orchestrator apply them without
// having to look the (possibly already-pruned) mapping back up.
type Action struct {
	Kind               ActionKind
	BatchId            uint64
	RollbackBlock      uint64
	SurvivingBatchId   uint64
	AffectedBlockCount int
	FinalBlock         uint64
}

// EventType classifies the finality update driving Process.
type EventType int

const (
	EventRolledBack EventType = iota
	EventFinalized
	EventStatusChanged
)

// Update is one finality observation fed into the rollback manager.
type Update struct {
	Tag           types.FinalityTag
	EventType     EventType
	L1BlockNumber uint64
	TxHash        *types.Hash
	DetectedAt    uint64
}

// RollbackManager implements the Observed -> (Finalized | Pending) ->
// (Executed | superseded-by-Finalized) state machine. Unlike the
// original implementation's calculate_affected_blocks placeholder
// (batch_id*100..+2, a stand-in never wired to real data), this
// resolves the actual block range for a batch through the mapping
// index, so an executed rollback reports the blocks it truly affects.
type RollbackManager struct {
	mu      sync.Mutex
	history map[uint64]RollbackRecord
	pending map[uint64]PendingRollback
	config  RollbackConfig
	mapper  *mapping.Manager
}

func NewRollbackManager(config RollbackConfig, mapper *mapping.Manager) *RollbackManager {
	return &RollbackManager{
		history: make(map[uint64]RollbackRecord),
		pending: make(map[uint64]PendingRollback),
		config:  config,
		mapper:  mapper,
	}
}

// Process dispatches update to the matching handler and returns the
// resulting actions.
func (m *RollbackManager) Process(ctx context.Context, update Update) ([]Action, error) {
	switch update.EventType {
	case EventRolledBack:
		return m.handleRollback(ctx, update)
	case EventFinalized:
		return m.handleFinalization(ctx, update)
	case EventStatusChanged:
		return m.handleStatusChange(update)
	default:
		return nil, newErr(KindRollback, "unknown event type", nil)
	}
}

func (m *RollbackManager) handleRollback(ctx context.Context, update Update) ([]Action, error) {
	m.mu.Lock()
	batchId := update.Tag.BatchId.Uint64()

	if _, done := m.history[batchId]; done {
		m.mu.Unlock()
		return nil, nil
	}

	depth := m.rollbackDepth(batchId)
	if depth > m.config.MaxRollbackDepth {
		m.mu.Unlock()
		return nil, newErr(KindDepthExceeded, "rollback depth exceeds max_rollback_depth", nil)
	}

	pending, ok := m.pending[batchId]
	if !ok {
		pending = PendingRollback{
			BatchId:               batchId,
			BatchHash:             update.Tag.L1BlockHash,
			L1BlockNumber:         update.L1BlockNumber,
			TxHash:                update.TxHash,
			Timestamp:             update.DetectedAt,
			Confirmations:         0,
			RequiredConfirmations: m.config.RequiredConfirmations,
		}
	}
	pending.Confirmations++
	m.pending[batchId] = pending
	ready := pending.Confirmations >= pending.RequiredConfirmations
	autoExecute := m.config.AutoExecute
	m.mu.Unlock()

	if autoExecute && ready {
		return m.execute(ctx, batchId)
	}

	return []Action{{Kind: ActionPendingRollback, BatchId: batchId}}, nil
}

// rollbackDepth measures rollback depth in batches, not blocks: it is
// the mapper's Stats().TotalBatches minus batchId, or zero when that
// total is zero or below batchId. TotalBatches counts this Manager's
// SaveBatch calls since it was created; rollbacks do not lower it, and
// it is not the highest stored batch id.
func (m *RollbackManager) rollbackDepth(batchId uint64) uint64 {
	stats := m.mapper.Stats()
	if stats.TotalBatches == 0 || stats.TotalBatches < batchId {
		return 0
	}
	return stats.TotalBatches - batchId
}

func (m *RollbackManager) handleFinalization(ctx context.Context, update Update) ([]Action, error) {
	batchId := update.Tag.BatchId.Uint64()
	m.mu.Lock()
	delete(m.pending, batchId)
	m.mu.Unlock()

	finalBlock := uint64(0)
	bm, found, err := m.loadBatchMapping(ctx, batchId)
	if err != nil {
		return nil, newErr(KindRollback, "resolve batch mapping", err)
	}
	if found {
		finalBlock = bm.EndBlock
	}

	return []Action{{Kind: ActionFinalized, BatchId: batchId, FinalBlock: finalBlock}}, nil
}

func (m *RollbackManager) handleStatusChange(update Update) ([]Action, error) {
	return []Action{{Kind: ActionStatusChanged, BatchId: update.Tag.BatchId.Uint64()}}, nil
}

func (m *RollbackManager) execute(ctx context.Context, batchId uint64) ([]Action, error) {
	m.mu.Lock()
	pending, ok := m.pending[batchId]
	if !ok {
		m.mu.Unlock()
		return nil, newErr(KindRollback, "execute: no pending rollback", nil)
	}
	delete(m.pending, batchId)
	m.mu.Unlock()

	// Resolve the batch's block range, and thus the engine rollback
	// target, before the mapping is pruned: DeleteBatchesFrom removes
	// this same record, and a lookup after that point would always miss.
	bm, found, err := m.loadBatchMapping(ctx, batchId)
	if err != nil {
		return nil, newErr(KindRollback, "resolve batch mapping", err)
	}

	var affected []uint64
	rollbackBlock := uint64(0)
	if found {
		affected = make([]uint64, 0, bm.EndBlock-bm.StartBlock+1)
		for n := bm.StartBlock; n <= bm.EndBlock; n++ {
			affected = append(affected, n)
		}
		if bm.StartBlock > 0 {
			rollbackBlock = bm.StartBlock - 1
		}
	}

	record := RollbackRecord{
		BatchId:        batchId,
		BatchHash:      pending.BatchHash,
		L1BlockNumber:  pending.L1BlockNumber,
		TxHash:         pending.TxHash,
		Timestamp:      pending.Timestamp,
		Reason:         "L1 finality rollback",
		AffectedBlocks: affected,
	}

	m.mu.Lock()
	m.history[batchId] = record
	m.mu.Unlock()

	if err := m.mapper.DeleteBatchesFrom(ctx, batchId); err != nil {
		return nil, newErr(KindRollback, "retract mapping", err)
	}

	survivingBatchId := uint64(0)
	if batchId > 0 {
		survivingBatchId = batchId - 1
	}

	return []Action{{
		Kind:               ActionExecuteRollback,
		BatchId:            batchId,
		RollbackBlock:      rollbackBlock,
		SurvivingBatchId:   survivingBatchId,
		AffectedBlockCount: len(affected),
	}}, nil
}

func (m *RollbackManager) loadBatchMapping(ctx context.Context, batchId uint64) (*mapping.BatchMapping, bool, error) {
	return m.mapper.LoadBatchMapping(ctx, batchId)
}

func (m *RollbackManager) GetRollbackHistory() map[uint64]RollbackRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uint64]RollbackRecord, len(m.history))
	for k, v := range m.history {
		out[k] = v
	}
	return out
}

func (m *RollbackManager) GetPendingRollbacks() map[uint64]PendingRollback {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uint64]PendingRollback, len(m.pending))
	for k, v := range m.pending {
		out[k] = v
	}
	return out
}

func (m *RollbackManager) IsBatchRolledBack(batchId uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.history[batchId]
	return ok
}

// CleanupOldRecords evicts history and pending entries older than
// m.config.RollbackTimeout relative to now, per the spec's GC policy.
func (m *RollbackManager) CleanupOldRecords(now uint64) {
	cutoff := uint64(0)
	if now > uint64(m.config.RollbackTimeout.Seconds()) {
		cutoff = now - uint64(m.config.RollbackTimeout.Seconds())
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.history {
		if v.Timestamp < cutoff {
			delete(m.history, k)
		}
	}
	for k, v := range m.pending {
		if v.Timestamp < cutoff {
			delete(m.pending, k)
		}
	}
}
