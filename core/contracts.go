package core

import (
	"context"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// CredentialStore is the shared mutable credential state: read before every
// request, written only by the authenticator's refresh path, and snapshotted
// into the run state after each record.
type CredentialStore interface {
	Current(ctx context.Context) (Credential, error)
	Save(ctx context.Context, cred Credential) error
	Snapshot(ctx context.Context) (map[string]any, error)
}

// UpsertResult is what a sink reports back for one record.
type UpsertResult struct {
	ID      string
	Success bool
	Extras  map[string]any
}

// Sink is the per-entity-family upsert strategy. Preprocess normalizes field
// values; Upsert performs the write(s).
type Sink interface {
	Preprocess(record Record) Record
	Upsert(ctx context.Context, record Record) (UpsertResult, error)
}

// SinkSelector picks the strategy for a stream name.
type SinkSelector interface {
	Select(stream string) Sink
}

// ProcessedLedger is an optional durable ledger of fingerprints handled in
// prior runs. When configured, a previously seen fingerprint short-circuits
// as an existing record.
type ProcessedLedger interface {
	Seen(ctx context.Context, stream string, hash string) (bool, error)
	Append(ctx context.Context, stream string, hash string, state SyncState) error
}
