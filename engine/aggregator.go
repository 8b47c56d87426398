package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/goliatone/go-dynsync/core"
	glog "github.com/goliatone/go-logger/glog"
)

// Aggregator folds per-record outcomes into the run state. Exactly one
// counter moves per recorded state, the state is appended to the stream's
// bookmark ledger, and the credential snapshot is merged so a mid-run token
// refresh survives if the run dies early.
type Aggregator struct {
	mu          sync.Mutex
	state       *core.RunState
	credentials core.CredentialStore
	logger      core.Logger
}

func NewAggregator(credentials core.CredentialStore, logger core.Logger) *Aggregator {
	if logger == nil {
		logger = glog.Nop()
	}
	return &Aggregator{
		state:       core.NewRunState(),
		credentials: credentials,
		logger:      logger,
	}
}

// Record tallies one outcome. Precedence: existing, then fail, then updated,
// then success. The is_updated flag is cleared before the bookmark append so
// replayed ledgers do not double-count updates.
func (a *Aggregator) Record(ctx context.Context, stream string, state core.SyncState) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	counters := a.state.Summary.Counters(stream)
	switch {
	case state.Existing:
		counters.Existing++
	case !state.Success:
		counters.Fail++
	case state.IsUpdated:
		counters.Updated++
		state.IsUpdated = false
	default:
		counters.Success++
	}
	a.state.Append(stream, state)

	a.mergeAuthStateLocked(ctx)
}

func (a *Aggregator) mergeAuthStateLocked(ctx context.Context) {
	if a.credentials == nil {
		return
	}
	snapshot, err := a.credentials.Snapshot(ctx)
	if err != nil {
		a.logger.Warn("credential snapshot failed", "error", err)
		return
	}
	a.state.MergeAuthState(snapshot)
}

// State exposes the run state accumulated so far.
func (a *Aggregator) State() *core.RunState {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Flush writes the run state document as indented JSON.
func (a *Aggregator) Flush(w io.Writer) error {
	if a == nil {
		return fmt.Errorf("engine: aggregator is not initialized")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(a.state); err != nil {
		return fmt.Errorf("engine: flush run state: %w", err)
	}
	return nil
}
