package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-dynsync/core"
)

type stubSink struct {
	upserts int
	result  core.UpsertResult
	err     error
}

func (s *stubSink) Preprocess(record core.Record) core.Record { return record }

func (s *stubSink) Upsert(context.Context, core.Record) (core.UpsertResult, error) {
	s.upserts++
	if s.err != nil {
		return core.UpsertResult{}, s.err
	}
	return s.result, nil
}

type stubSelector map[string]core.Sink

func (s stubSelector) Select(stream string) core.Sink { return s[stream] }

type memoryLedger struct {
	seen    map[string]bool
	appends int
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{seen: map[string]bool{}}
}

func (l *memoryLedger) Seen(_ context.Context, stream, hash string) (bool, error) {
	return l.seen[stream+"|"+hash], nil
}

func (l *memoryLedger) Append(_ context.Context, stream, hash string, _ core.SyncState) error {
	l.appends++
	l.seen[stream+"|"+hash] = true
	return nil
}

func newTestReconciler(t *testing.T, selector core.SinkSelector, options ...Option) (*Reconciler, *Aggregator) {
	t.Helper()
	aggregator := NewAggregator(nil, nil)
	reconciler, err := NewReconciler(selector, aggregator, options...)
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}
	return reconciler, aggregator
}

func TestProcessCountsSuccessAndAppendsBookmark(t *testing.T) {
	sink := &stubSink{result: core.UpsertResult{ID: "INV-1", Success: true}}
	reconciler, aggregator := newTestReconciler(t, stubSelector{"VendorInvoiceHeaders": sink})

	record := core.NewRecord("VendorInvoiceHeaders", map[string]any{
		"externalId":    "src-1",
		"InvoiceNumber": "INV-1",
	})
	state, err := reconciler.Process(context.Background(), record)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !state.Success || state.ID != "INV-1" || state.ExternalID != "src-1" {
		t.Fatalf("state = %+v", state)
	}
	if state.Hash == "" {
		t.Fatalf("state must carry the fingerprint")
	}

	run := aggregator.State()
	counters := run.Summary.Counters("VendorInvoiceHeaders")
	if counters.Success != 1 || counters.Updated+counters.Existing+counters.Fail != 0 {
		t.Fatalf("counters = %+v", counters)
	}
	if len(run.Bookmarks["VendorInvoiceHeaders"]) != 1 {
		t.Fatalf("bookmarks = %v", run.Bookmarks)
	}
}

func TestProcessSuppressesDuplicateWithinRun(t *testing.T) {
	sink := &stubSink{result: core.UpsertResult{ID: "INV-1", Success: true}}
	reconciler, aggregator := newTestReconciler(t, stubSelector{"VendorInvoiceHeaders": sink})

	record := core.NewRecord("VendorInvoiceHeaders", map[string]any{"InvoiceNumber": "INV-1"})
	if _, err := reconciler.Process(context.Background(), record); err != nil {
		t.Fatalf("first process: %v", err)
	}
	second, err := reconciler.Process(context.Background(), record.Clone())
	if err != nil {
		t.Fatalf("second process: %v", err)
	}

	if sink.upserts != 1 {
		t.Fatalf("duplicate must not reach the sink, upserts = %d", sink.upserts)
	}
	if !second.Existing || !second.Success {
		t.Fatalf("duplicate state = %+v", second)
	}

	run := aggregator.State()
	counters := run.Summary.Counters("VendorInvoiceHeaders")
	if counters.Success != 1 || counters.Existing != 1 {
		t.Fatalf("counters = %+v", counters)
	}
	if len(run.Bookmarks["VendorInvoiceHeaders"]) != 2 {
		t.Fatalf("both records must be bookmarked, got %d", len(run.Bookmarks["VendorInvoiceHeaders"]))
	}
}

func TestProcessAbsorbsSinkFailures(t *testing.T) {
	sink := &stubSink{err: goerrors.New("remote rejected the record", goerrors.CategoryOperation)}
	reconciler, aggregator := newTestReconciler(t, stubSelector{"VendorInvoiceHeaders": sink})

	record := core.NewRecord("VendorInvoiceHeaders", map[string]any{"InvoiceNumber": "INV-1"})
	state, err := reconciler.Process(context.Background(), record)
	if err != nil {
		t.Fatalf("per-record failures must not abort the run: %v", err)
	}
	if state.Success || state.Error == "" {
		t.Fatalf("state = %+v", state)
	}

	counters := aggregator.State().Summary.Counters("VendorInvoiceHeaders")
	if counters.Fail != 1 {
		t.Fatalf("counters = %+v", counters)
	}
}

func TestProcessPropagatesAuthenticationFailure(t *testing.T) {
	authErr := goerrors.New("token endpoint returned status 401", goerrors.CategoryAuth).
		WithTextCode(core.SyncErrorAuthFailed)
	sink := &stubSink{err: authErr}
	reconciler, aggregator := newTestReconciler(t, stubSelector{"VendorInvoiceHeaders": sink})

	record := core.NewRecord("VendorInvoiceHeaders", map[string]any{"InvoiceNumber": "INV-1"})
	_, err := reconciler.Process(context.Background(), record)
	if err == nil {
		t.Fatalf("authentication failures must abort the run")
	}
	if !core.IsAuthError(err) {
		t.Fatalf("expected auth error, got %v", err)
	}

	counters := aggregator.State().Summary.Counters("VendorInvoiceHeaders")
	if counters.Fail != 0 || counters.Success != 0 {
		t.Fatalf("aborted record must not be counted, got %+v", counters)
	}
}

func TestProcessAllStopsOnAuthFailureOnly(t *testing.T) {
	failing := &stubSink{err: goerrors.New("bad payload", goerrors.CategoryOperation)}
	reconciler, _ := newTestReconciler(t, stubSelector{"Vendors": failing})

	records := []core.Record{
		core.NewRecord("Vendors", map[string]any{"VendorOrganizationName": "A"}),
		core.NewRecord("Vendors", map[string]any{"VendorOrganizationName": "B"}),
	}
	if err := reconciler.ProcessAll(context.Background(), records); err != nil {
		t.Fatalf("process all: %v", err)
	}
	if failing.upserts != 2 {
		t.Fatalf("expected both records attempted, got %d", failing.upserts)
	}
}

func TestProcessUsesDurableLedgerAcrossRuns(t *testing.T) {
	ledger := newMemoryLedger()
	record := core.NewRecord("VendorInvoiceHeaders", map[string]any{"InvoiceNumber": "INV-1"})

	firstSink := &stubSink{result: core.UpsertResult{ID: "INV-1", Success: true}}
	firstRun, _ := newTestReconciler(t, stubSelector{"VendorInvoiceHeaders": firstSink}, WithProcessedLedger(ledger))
	if _, err := firstRun.Process(context.Background(), record); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if ledger.appends != 1 {
		t.Fatalf("ledger appends = %d", ledger.appends)
	}

	secondSink := &stubSink{result: core.UpsertResult{ID: "INV-1", Success: true}}
	secondRun, aggregator := newTestReconciler(t, stubSelector{"VendorInvoiceHeaders": secondSink}, WithProcessedLedger(ledger))
	state, err := secondRun.Process(context.Background(), record.Clone())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if secondSink.upserts != 0 {
		t.Fatalf("prior-run fingerprint must not be rewritten, upserts = %d", secondSink.upserts)
	}
	if !state.Existing {
		t.Fatalf("state = %+v", state)
	}
	if aggregator.State().Summary.Counters("VendorInvoiceHeaders").Existing != 1 {
		t.Fatalf("counters = %+v", aggregator.State().Summary.Counters("VendorInvoiceHeaders"))
	}
}

func TestProcessKeepsFailureOnVanishedUpdateTarget(t *testing.T) {
	sink := &stubSink{result: core.UpsertResult{Success: false, Extras: map[string]any{"existing": true}}}
	reconciler, aggregator := newTestReconciler(t, stubSelector{"VendorInvoiceHeaders": sink})

	state, err := reconciler.Process(context.Background(), core.NewRecord("VendorInvoiceHeaders", map[string]any{
		"InvoiceNumber": "INV-1",
	}))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !state.Existing {
		t.Fatalf("existing extra must mark the state, got %+v", state)
	}
	if state.Success {
		t.Fatalf("a vanished update target is not a successful write, got %+v", state)
	}

	run := aggregator.State()
	if run.Summary.Counters("VendorInvoiceHeaders").Existing != 1 {
		t.Fatalf("counters = %+v", run.Summary.Counters("VendorInvoiceHeaders"))
	}
	bookmarks := run.Bookmarks["VendorInvoiceHeaders"]
	if len(bookmarks) != 1 {
		t.Fatalf("bookmarks = %v", bookmarks)
	}
	if bookmarks[0].Success || !bookmarks[0].Existing {
		t.Fatalf("bookmark must record the failed update, got %+v", bookmarks[0])
	}
}

func TestProcessWithoutHandlerFailsRecord(t *testing.T) {
	reconciler, aggregator := newTestReconciler(t, stubSelector{})

	state, err := reconciler.Process(context.Background(), core.NewRecord("Unknown", map[string]any{"a": "b"}))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if state.Success || state.Error == "" {
		t.Fatalf("state = %+v", state)
	}
	if aggregator.State().Summary.Counters("Unknown").Fail != 1 {
		t.Fatalf("counters = %+v", aggregator.State().Summary.Counters("Unknown"))
	}
}

func TestAggregatorFlushEmitsRunStateDocument(t *testing.T) {
	aggregator := NewAggregator(nil, nil)
	aggregator.Record(context.Background(), "Vendors", core.SyncState{Hash: "h1", Success: true})
	aggregator.Record(context.Background(), "Vendors", core.SyncState{Hash: "h2", Success: true, IsUpdated: true})

	var buf bytes.Buffer
	if err := aggregator.Flush(&buf); err != nil {
		t.Fatalf("flush: %v", err)
	}

	document := struct {
		Summary map[string]struct {
			Success int `json:"success"`
			Updated int `json:"updated"`
		} `json:"summary"`
		Bookmarks map[string][]core.SyncState `json:"bookmarks"`
	}{}
	if err := json.Unmarshal(buf.Bytes(), &document); err != nil {
		t.Fatalf("decode flushed document: %v", err)
	}
	if document.Summary["Vendors"].Success != 1 || document.Summary["Vendors"].Updated != 1 {
		t.Fatalf("summary = %+v", document.Summary)
	}
	if len(document.Bookmarks["Vendors"]) != 2 {
		t.Fatalf("bookmarks = %+v", document.Bookmarks)
	}
	for _, entry := range document.Bookmarks["Vendors"] {
		if entry.IsUpdated {
			t.Fatalf("is_updated flag must be cleared before the bookmark append")
		}
	}
}

type snapshotStore struct {
	core.CredentialStore
	snapshots int
	token     string
}

func (s *snapshotStore) Snapshot(context.Context) (map[string]any, error) {
	s.snapshots++
	return map[string]any{"access_token": fmt.Sprintf("%s-%d", s.token, s.snapshots)}, nil
}

func TestAggregatorMergesCredentialSnapshotPerRecord(t *testing.T) {
	store := &snapshotStore{token: "tok"}
	aggregator := NewAggregator(store, nil)

	aggregator.Record(context.Background(), "Vendors", core.SyncState{Hash: "h1", Success: true})
	aggregator.Record(context.Background(), "Vendors", core.SyncState{Hash: "h2", Success: true})

	if store.snapshots != 2 {
		t.Fatalf("expected snapshot per record, got %d", store.snapshots)
	}
	if aggregator.State().AuthState["access_token"] != "tok-2" {
		t.Fatalf("auth state = %v", aggregator.State().AuthState)
	}
}

func TestAggregatorCountsExactlyOnePerRecord(t *testing.T) {
	aggregator := NewAggregator(nil, nil)

	aggregator.Record(context.Background(), "S", core.SyncState{Success: true})
	aggregator.Record(context.Background(), "S", core.SyncState{Success: true, IsUpdated: true})
	aggregator.Record(context.Background(), "S", core.SyncState{Success: true, Existing: true})
	aggregator.Record(context.Background(), "S", core.SyncState{Success: false, Error: "boom"})

	counters := aggregator.State().Summary.Counters("S")
	total := counters.Success + counters.Updated + counters.Existing + counters.Fail
	if total != 4 {
		t.Fatalf("expected one counter per record, got %+v", counters)
	}
	if counters.Success != 1 || counters.Updated != 1 || counters.Existing != 1 || counters.Fail != 1 {
		t.Fatalf("counters = %+v", counters)
	}
}
