// Package engine defines the narrow contract the ingestion pipeline
// uses to drive an execution engine, plus a reference in-memory
// implementation used by tests and as a default when no real engine
// client is wired in.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/holiman/uint256"

	"github.com/gateway-fm/cdk-ingestion/assembler"
	"github.com/gateway-fm/cdk-ingestion/types"
)

// ImportResult reports the outcome of importing one batch.
type ImportResult struct {
	Imported uint32
	Highest  *uint256.Int
	Skipped  uint32
}

// FinalityResult reports the outcome of marking a block final.
type FinalityResult struct {
	FinalBlock     *uint256.Int
	BlocksAffected uint32
}

// RollbackResult reports the outcome of rolling back to a block.
type RollbackResult struct {
	RollbackBlock     *uint256.Int
	BlocksRolledBack  uint32
}

// Facade is the polymorphic contract any execution engine backend must
// satisfy.
type Facade interface {
	ImportBlock(ctx context.Context, block assembler.BlockInputs) error
	ImportBatch(ctx context.Context, batch *types.Batch, blocks []assembler.BlockInputs) (ImportResult, error)
	BlockExists(ctx context.Context, number *uint256.Int) (bool, error)
	GetHeadBlock(ctx context.Context) (*uint256.Int, error)
	MarkFinal(ctx context.Context, number *uint256.Int) (FinalityResult, error)
	ProcessFinalityTag(ctx context.Context, tag types.FinalityTag) (FinalityResult, error)
	RollbackTo(ctx context.Context, number *uint256.Int) (RollbackResult, error)
	GetFinalBlock(ctx context.Context) (*uint256.Int, error)
	IsFinal(ctx context.Context, number *uint256.Int) (bool, error)
}

// Kind classifies an engine error for the orchestrator's dispatch.
type Kind int

const (
	KindBlockImportFailed Kind = iota
	KindFinalityMarkingFailed
	KindRollbackFailed
	KindEngineNotInitialized
	KindInvalidBlockData
	KindDatabaseError
)

func (k Kind) String() string {
	switch k {
	case KindBlockImportFailed:
		return "block_import_failed"
	case KindFinalityMarkingFailed:
		return "finality_marking_failed"
	case KindRollbackFailed:
		return "rollback_failed"
	case KindEngineNotInitialized:
		return "engine_not_initialized"
	case KindInvalidBlockData:
		return "invalid_block_data"
	case KindDatabaseError:
		return "database_error"
	default:
		return "unknown"
	}
}

// Error wraps an engine failure with its Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine[%s]: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("engine[%s]: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

type blockRecord struct {
	number *uint256.Int
	hash   types.Hash
}

// MemoryEngine is a reference Facade backed by an ordered in-memory
// block set, tracking head/safe/finalized pointers the way a real
// engine's fork-choice state would. Unlike the original implementation,
// RollbackTo actually discards the rolled-back blocks and reports the
// true count, instead of the hardcoded zero the original left as a
// placeholder.
type MemoryEngine struct {
	mu          sync.Mutex
	blocks      map[string]blockRecord // keyed by number.String()
	order       []*uint256.Int
	head        *uint256.Int
	finalized   *uint256.Int
}

func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		blocks:    make(map[string]blockRecord),
		head:      uint256.NewInt(0),
		finalized: uint256.NewInt(0),
	}
}

func (e *MemoryEngine) ImportBlock(ctx context.Context, block assembler.BlockInputs) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.importBlockLocked(block)
}

func (e *MemoryEngine) importBlockLocked(block assembler.BlockInputs) error {
	if block.Number == nil || block.Number.IsZero() {
		return newErr(KindInvalidBlockData, "block number must be non-zero", nil)
	}
	key := block.Number.String()
	if _, exists := e.blocks[key]; exists {
		return nil
	}
	e.blocks[key] = blockRecord{number: new(uint256.Int).Set(block.Number), hash: block.Hash}
	e.order = append(e.order, new(uint256.Int).Set(block.Number))
	sort.Slice(e.order, func(i, j int) bool { return e.order[i].Lt(e.order[j]) })
	if block.Number.Gt(e.head) {
		e.head = new(uint256.Int).Set(block.Number)
	}
	return nil
}

func (e *MemoryEngine) ImportBatch(ctx context.Context, batch *types.Batch, blocks []assembler.BlockInputs) (ImportResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var imported, skipped uint32
	var highest *uint256.Int
	for _, blk := range blocks {
		key := blk.Number.String()
		if _, exists := e.blocks[key]; exists {
			skipped++
			continue
		}
		if err := e.importBlockLocked(blk); err != nil {
			return ImportResult{}, newErr(KindBlockImportFailed, fmt.Sprintf("import block %s", blk.Number.String()), err)
		}
		imported++
		if highest == nil || blk.Number.Gt(highest) {
			highest = new(uint256.Int).Set(blk.Number)
		}
	}
	if highest == nil {
		highest = new(uint256.Int).Set(e.head)
	}
	return ImportResult{Imported: imported, Highest: highest, Skipped: skipped}, nil
}

func (e *MemoryEngine) BlockExists(ctx context.Context, number *uint256.Int) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.blocks[number.String()]
	return ok, nil
}

func (e *MemoryEngine) GetHeadBlock(ctx context.Context) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(uint256.Int).Set(e.head), nil
}

// MarkFinal advances the finalized pointer to number and reports every
// previously-unfinalized block up to number as affected. The in-memory
// engine has no safe pointer, and unlike a fork-choice update with
// head = safe = finalized it does not move head down to number: head is
// only raised, when number is above it.
func (e *MemoryEngine) MarkFinal(ctx context.Context, number *uint256.Int) (FinalityResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.blocks[number.String()]; !ok {
		return FinalityResult{}, newErr(KindFinalityMarkingFailed, fmt.Sprintf("block %s not imported", number.String()), nil)
	}

	var affected uint32
	for _, n := range e.order {
		if n.Gt(e.finalized) && !n.Gt(number) {
			affected++
		}
	}
	e.finalized = new(uint256.Int).Set(number)
	if number.Gt(e.head) {
		e.head = new(uint256.Int).Set(number)
	}
	return FinalityResult{FinalBlock: new(uint256.Int).Set(number), BlocksAffected: affected}, nil
}

// ProcessFinalityTag dispatches Finalized -> MarkFinal, RolledBack ->
// RollbackTo, Pending -> no-op.
func (e *MemoryEngine) ProcessFinalityTag(ctx context.Context, tag types.FinalityTag) (FinalityResult, error) {
	switch tag.Status {
	case types.FinalityFinalized:
		return e.MarkFinal(ctx, tag.BatchId)
	case types.FinalityRolledBack:
		res, err := e.RollbackTo(ctx, tag.BatchId)
		if err != nil {
			return FinalityResult{}, err
		}
		return FinalityResult{FinalBlock: res.RollbackBlock, BlocksAffected: res.BlocksRolledBack}, nil
	case types.FinalityPending:
		return FinalityResult{FinalBlock: new(uint256.Int).Set(e.finalizedSnapshot())}, nil
	default:
		return FinalityResult{}, newErr(KindInvalidBlockData, "unknown finality status", nil)
	}
}

func (e *MemoryEngine) finalizedSnapshot() *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finalized
}

// RollbackTo discards every imported block above number and rewinds
// head/finalized accordingly, reporting the true number of blocks
// removed.
func (e *MemoryEngine) RollbackTo(ctx context.Context, number *uint256.Int) (RollbackResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var kept []*uint256.Int
	var removed uint32
	for _, n := range e.order {
		if n.Gt(number) {
			delete(e.blocks, n.String())
			removed++
			continue
		}
		kept = append(kept, n)
	}
	e.order = kept

	if e.head.Gt(number) {
		e.head = new(uint256.Int).Set(number)
	}
	if e.finalized.Gt(number) {
		e.finalized = new(uint256.Int).Set(number)
	}

	return RollbackResult{RollbackBlock: new(uint256.Int).Set(number), BlocksRolledBack: removed}, nil
}

func (e *MemoryEngine) GetFinalBlock(ctx context.Context) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(uint256.Int).Set(e.finalized), nil
}

func (e *MemoryEngine) IsFinal(ctx context.Context, number *uint256.Int) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !number.Gt(e.finalized) && !number.IsZero(), nil
}

var _ Facade = (*MemoryEngine)(nil)
