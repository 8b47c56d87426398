package engine

import (
	"context"
	"fmt"

	"github.com/goliatone/go-dynsync/core"
	glog "github.com/goliatone/go-logger/glog"
)

// Reconciler processes records in arrival order, one at a time. Duplicate
// records inside a run are counted as existing without touching the remote
// API; per-record failures are absorbed into the run state. Only an
// authentication failure aborts the run.
type Reconciler struct {
	selector   core.SinkSelector
	aggregator *Aggregator
	ledger     core.ProcessedLedger
	logger     core.Logger
	seen       map[string]map[string]struct{}
}

// Option mutates a Reconciler during construction.
type Option func(*Reconciler)

// WithProcessedLedger enables cross-run duplicate suppression backed by a
// durable fingerprint store.
func WithProcessedLedger(ledger core.ProcessedLedger) Option {
	return func(r *Reconciler) {
		r.ledger = ledger
	}
}

func WithLogger(logger core.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewReconciler(selector core.SinkSelector, aggregator *Aggregator, options ...Option) (*Reconciler, error) {
	if selector == nil {
		return nil, fmt.Errorf("engine: sink selector is required")
	}
	if aggregator == nil {
		return nil, fmt.Errorf("engine: aggregator is required")
	}
	r := &Reconciler{
		selector:   selector,
		aggregator: aggregator,
		logger:     glog.Nop(),
		seen:       map[string]map[string]struct{}{},
	}
	for _, opt := range options {
		opt(r)
	}
	return r, nil
}

// Process handles one record and records its outcome. The returned error is
// non-nil only when the run must stop: every other failure is folded into the
// returned state.
func (r *Reconciler) Process(ctx context.Context, record core.Record) (core.SyncState, error) {
	if r == nil {
		return core.SyncState{}, fmt.Errorf("engine: reconciler is not initialized")
	}

	hash := core.Fingerprint(record)
	externalID := record.ExternalID()

	if r.seenThisRun(record.Stream, hash) || r.seenBefore(ctx, record.Stream, hash) {
		state := core.SyncState{
			Hash:       hash,
			Success:    true,
			ExternalID: externalID,
			Existing:   true,
		}
		r.aggregator.Record(ctx, record.Stream, state)
		return state, nil
	}
	r.markSeen(record.Stream, hash)

	sink := r.selector.Select(record.Stream)
	if sink == nil {
		state := core.SyncState{
			Hash:       hash,
			ExternalID: externalID,
			Error:      fmt.Sprintf("no handler for stream %q", record.Stream),
		}
		r.aggregator.Record(ctx, record.Stream, state)
		return state, nil
	}

	record = sink.Preprocess(record)
	result, err := sink.Upsert(ctx, record)
	if err != nil {
		if core.IsAuthError(err) {
			return core.SyncState{}, err
		}
		mapped := core.MapError(err)
		r.logger.Error("record write failed",
			"stream", record.Stream,
			"external_id", externalID,
			"error", mapped,
		)
		state := core.SyncState{
			Hash:       hash,
			ExternalID: externalID,
			Error:      mapped.Error(),
		}
		r.aggregator.Record(ctx, record.Stream, state)
		return state, nil
	}

	state := core.SyncState{
		Hash:       hash,
		Success:    result.Success,
		ID:         result.ID,
		ExternalID: externalID,
	}
	if boolExtra(result.Extras, "existing") {
		state.Existing = true
	}
	if boolExtra(result.Extras, "is_updated") {
		state.IsUpdated = true
	}

	r.appendLedger(ctx, record.Stream, hash, state)
	r.aggregator.Record(ctx, record.Stream, state)
	return state, nil
}

// ProcessAll runs records sequentially, stopping only on a run-fatal error.
func (r *Reconciler) ProcessAll(ctx context.Context, records []core.Record) error {
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := r.Process(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) seenThisRun(stream, hash string) bool {
	hashes, ok := r.seen[stream]
	if !ok {
		return false
	}
	_, dup := hashes[hash]
	return dup
}

func (r *Reconciler) markSeen(stream, hash string) {
	hashes, ok := r.seen[stream]
	if !ok {
		hashes = map[string]struct{}{}
		r.seen[stream] = hashes
	}
	hashes[hash] = struct{}{}
}

// seenBefore consults the optional durable ledger. Ledger errors degrade to
// a fresh write rather than failing the record.
func (r *Reconciler) seenBefore(ctx context.Context, stream, hash string) bool {
	if r.ledger == nil {
		return false
	}
	seen, err := r.ledger.Seen(ctx, stream, hash)
	if err != nil {
		r.logger.Warn("processed ledger read failed", "stream", stream, "error", err)
		return false
	}
	return seen
}

func (r *Reconciler) appendLedger(ctx context.Context, stream, hash string, state core.SyncState) {
	if r.ledger == nil {
		return
	}
	if err := r.ledger.Append(ctx, stream, hash, state); err != nil {
		r.logger.Warn("processed ledger append failed", "stream", stream, "error", err)
	}
}

func boolExtra(extras map[string]any, key string) bool {
	if len(extras) == 0 {
		return false
	}
	value, ok := extras[key].(bool)
	return ok && value
}
