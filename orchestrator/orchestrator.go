// Package orchestrator wires source, validator, assembler, engine,
// mapping index and checkpoint storage into the ingestion loop, and the
// oracle/rollback manager into the parallel finality loop.
package orchestrator

import (
	"context"
	"time"

	"github.com/ledgerwatch/log/v3"

	"github.com/gateway-fm/cdk-ingestion/assembler"
	"github.com/gateway-fm/cdk-ingestion/datastream"
	"github.com/gateway-fm/cdk-ingestion/engine"
	"github.com/gateway-fm/cdk-ingestion/finality"
	"github.com/gateway-fm/cdk-ingestion/internal/retry"
	"github.com/gateway-fm/cdk-ingestion/mapping"
	"github.com/gateway-fm/cdk-ingestion/types"
	"github.com/gateway-fm/cdk-ingestion/validator"
)

// Metrics is the narrow sink the orchestrator reports to; satisfied by
// the observe package's Recorder.
type Metrics interface {
	RecordBatchIngested(blockCount int, elapsed time.Duration)
	RecordError(kind string)
	RecordRollback(depth int)
	RecordFinalityLag(seconds float64)
}

// Orchestrator drives one ingestion pipeline and one finality pipeline
// concurrently, per the spec's two cooperative-loop concurrency model
// translated into goroutines synchronized by the mapping index's
// internal locking and a shared checkpoint store.
type Orchestrator struct {
	Source     datastream.BatchSource
	Validator  *validator.Validator
	Assembler  *assembler.Assembler
	Engine     engine.Facade
	Mapper     *mapping.Manager
	Checkpoint datastream.CheckpointStorage
	Oracle     *finality.Oracle
	Rollback   *finality.RollbackManager
	Metrics    Metrics
	Logger     log.Logger

	PollInterval    time.Duration
	EpochBlockSpan  uint64
	retryPolicy     retry.Policy
	nowFn           func() uint64
}

// New builds an Orchestrator with the spec's default poll interval and
// retry policy (base 1s, cap 60s backoff).
func New() *Orchestrator {
	return &Orchestrator{
		PollInterval:   2 * time.Second,
		EpochBlockSpan: 100,
		retryPolicy: retry.Policy{
			MaxAttempts: 0,
			Retryable:   datastream.Retryable,
		},
		nowFn: func() uint64 { return uint64(time.Now().Unix()) },
	}
}

func (o *Orchestrator) logger() log.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.Root()
}

func (o *Orchestrator) now() uint64 {
	if o.nowFn != nil {
		return o.nowFn()
	}
	return uint64(time.Now().Unix())
}

// RunIngestion executes the sequential ingest loop until ctx is
// cancelled, completing the in-flight batch's commit before exiting on
// cancellation.
func (o *Orchestrator) RunIngestion(ctx context.Context) error {
	if err := o.initCheckpoint(ctx); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		start := time.Now()
		batch, err := o.nextBatch(ctx)
		if err != nil {
			o.recordError("datastream")
			return err
		}
		if batch == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(o.PollInterval):
			}
			continue
		}

		if err := o.commitBatch(ctx, batch, start); err != nil {
			o.recordError("ingest")
			return err
		}
	}
}

func (o *Orchestrator) initCheckpoint(ctx context.Context) error {
	cp, err := o.Checkpoint.Load(ctx)
	if err != nil {
		return err
	}
	if cp != nil {
		return o.Source.SetCheckpoint(ctx, cp)
	}
	return nil
}

func (o *Orchestrator) nextBatch(ctx context.Context) (*types.Batch, error) {
	var batch *types.Batch
	err := o.retryPolicy.Do(ctx, func(ctx context.Context) error {
		var err error
		batch, err = o.Source.Next(ctx)
		return err
	})
	return batch, err
}

func (o *Orchestrator) commitBatch(ctx context.Context, batch *types.Batch, start time.Time) error {
	if _, err := o.Validator.Validate(batch); err != nil {
		return err
	}

	epochId := batch.Id.Number.Uint64() / o.EpochBlockSpan
	now := o.now()
	res := o.Assembler.Assemble(batch, epochId, now)

	if _, err := o.Engine.ImportBatch(ctx, batch, res.Inputs); err != nil {
		return err
	}

	if _, err := o.Mapper.SaveBatch(ctx, batch, epochId, now); err != nil {
		return err
	}

	cp := types.FromBatch(batch, now)
	if err := o.Checkpoint.Save(ctx, cp); err != nil {
		return err
	}
	if err := o.Source.SetCheckpoint(ctx, cp); err != nil {
		return err
	}

	if o.Metrics != nil {
		o.Metrics.RecordBatchIngested(batch.BlockCount(), time.Since(start))
	}
	return nil
}

func (o *Orchestrator) recordError(kind string) {
	if o.Metrics != nil {
		o.Metrics.RecordError(kind)
	}
}

// RunFinality executes the parallel oracle/rollback-manager loop until
// ctx is cancelled.
func (o *Orchestrator) RunFinality(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		tags, err := o.Oracle.Poll(ctx, time.Now())
		if err != nil {
			o.recordError("finality")
			return err
		}

		for _, t := range tags {
			if err := o.dispatchTag(ctx, t); err != nil {
				o.recordError("rollback")
				return err
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(o.Oracle.GetPollingInterval()):
		}
	}
}

func (o *Orchestrator) dispatchTag(ctx context.Context, tag types.FinalityTag) error {
	eventType := finality.EventStatusChanged
	switch tag.Status {
	case types.FinalityFinalized:
		eventType = finality.EventFinalized
	case types.FinalityRolledBack:
		eventType = finality.EventRolledBack
	}

	actions, err := o.Rollback.Process(ctx, finality.Update{
		Tag:           tag,
		EventType:     eventType,
		L1BlockNumber: tag.L1Block.Uint64(),
		DetectedAt:    o.now(),
	})
	if err != nil {
		return err
	}

	for _, action := range actions {
		if err := o.applyAction(ctx, action); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) applyAction(ctx context.Context, action finality.Action) error {
	switch action.Kind {
	case finality.ActionExecuteRollback:
		if _, err := o.Engine.RollbackTo(ctx, newU256(action.RollbackBlock)); err != nil {
			return err
		}
		if err := o.rewindCheckpoint(ctx, action.SurvivingBatchId); err != nil {
			return err
		}
		if o.Metrics != nil {
			o.Metrics.RecordRollback(action.AffectedBlockCount)
		}
	case finality.ActionFinalized:
		if action.FinalBlock == 0 {
			return nil
		}
		if _, err := o.Engine.MarkFinal(ctx, newU256(action.FinalBlock)); err != nil {
			return err
		}
	case finality.ActionPendingRollback, finality.ActionStatusChanged:
		// metric-only; no state change.
	}
	return nil
}

// rewindCheckpoint sets the checkpoint back to survivingBatchId, the
// highest batch number the rollback did not invalidate, per the spec's
// checkpoint.rewind requirement: a restart must resume ingestion from
// the surviving batch, not from the rolled-back one.
func (o *Orchestrator) rewindCheckpoint(ctx context.Context, survivingBatchId uint64) error {
	cp := &types.Checkpoint{
		LastBatchId: newU256(survivingBatchId),
		Timestamp:   o.now(),
		Metadata:    map[string]string{},
	}
	if survivingBatchId > 0 {
		bm, found, err := o.Mapper.LoadBatchMapping(ctx, survivingBatchId)
		if err != nil {
			return err
		}
		if found {
			cp.LastBatchHash = bm.BatchHash
		}
	}
	if err := o.Checkpoint.Save(ctx, cp); err != nil {
		return err
	}
	return o.Source.SetCheckpoint(ctx, cp)
}
