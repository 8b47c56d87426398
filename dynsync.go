package dynsync

import (
	"context"
	"fmt"
	"io"

	"github.com/goliatone/go-dynsync/auth"
	"github.com/goliatone/go-dynsync/core"
	"github.com/goliatone/go-dynsync/engine"
	"github.com/goliatone/go-dynsync/resolve"
	"github.com/goliatone/go-dynsync/sinks"
	"github.com/goliatone/go-dynsync/transport"
	glog "github.com/goliatone/go-logger/glog"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

type Config = core.Config

type Record = core.Record

type SyncState = core.SyncState

type RunState = core.RunState

type Credential = core.Credential

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewRecord(stream string, data map[string]any) Record {
	return core.NewRecord(stream, data)
}

type Option func(*engineOptions)

type engineOptions struct {
	logger      core.Logger
	provider    core.LoggerProvider
	httpClient  auth.HTTPDoer
	credentials core.CredentialStore
	ledger      core.ProcessedLedger
	lookupCache repositorycache.CacheService
}

func WithLogger(logger core.Logger) Option {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(o *engineOptions) {
		o.provider = provider
	}
}

func WithHTTPClient(client auth.HTTPDoer) Option {
	return func(o *engineOptions) {
		o.httpClient = client
	}
}

func WithCredentialStore(store core.CredentialStore) Option {
	return func(o *engineOptions) {
		o.credentials = store
	}
}

// WithProcessedLedger enables cross-run duplicate suppression.
func WithProcessedLedger(ledger core.ProcessedLedger) Option {
	return func(o *engineOptions) {
		o.ledger = ledger
	}
}

// WithLookupCache caches entity lookups for the lifetime of the cache entry.
func WithLookupCache(cache repositorycache.CacheService) Option {
	return func(o *engineOptions) {
		o.lookupCache = cache
	}
}

// Engine is the assembled synchronization pipeline: authenticator, resilient
// executor, entity resolver, per-stream sinks, and the reconciler feeding the
// run state.
type Engine struct {
	config        Config
	logger        core.Logger
	credentials   core.CredentialStore
	authenticator *auth.Authenticator
	executor      *transport.Executor
	lookup        resolve.Lookuper
	registry      *sinks.Registry
	aggregator    *engine.Aggregator
	reconciler    *engine.Reconciler
}

// New wires an Engine from configuration. The zero credential store is an
// in-memory one; pass WithCredentialStore to persist tokens across runs.
func New(cfg Config, options ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := engineOptions{}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(&opts)
	}
	_, logger := glog.Resolve("dynsync", opts.provider, opts.logger)
	logger = glog.Ensure(logger)

	credentials := opts.credentials
	if credentials == nil {
		credentials = auth.NewMemoryCredentialStore(core.Credential{})
	}

	authOptions := []auth.Option{auth.WithLogger(logger)}
	if opts.httpClient != nil {
		authOptions = append(authOptions, auth.WithHTTPClient(opts.httpClient))
	}
	authenticator, err := auth.New(cfg, credentials, authOptions...)
	if err != nil {
		return nil, err
	}

	executor := transport.NewExecutor(cfg.APIBaseURL(), authenticator)
	executor.Logger = logger
	if opts.httpClient != nil {
		executor.Client = opts.httpClient
	}

	resolver, err := resolve.NewResolver(executor, logger)
	if err != nil {
		return nil, err
	}
	var lookup resolve.Lookuper = resolver
	if opts.lookupCache != nil {
		cached, err := resolve.NewCachedResolver(resolver, opts.lookupCache)
		if err != nil {
			return nil, err
		}
		lookup = cached
	}

	registry, err := sinks.NewRegistry(executor, lookup, cfg.InputPath, logger)
	if err != nil {
		return nil, err
	}

	aggregator := engine.NewAggregator(credentials, logger)
	reconcilerOptions := []engine.Option{engine.WithLogger(logger)}
	if opts.ledger != nil {
		reconcilerOptions = append(reconcilerOptions, engine.WithProcessedLedger(opts.ledger))
	}
	reconciler, err := engine.NewReconciler(registry, aggregator, reconcilerOptions...)
	if err != nil {
		return nil, err
	}

	return &Engine{
		config:        cfg,
		logger:        logger,
		credentials:   credentials,
		authenticator: authenticator,
		executor:      executor,
		lookup:        lookup,
		registry:      registry,
		aggregator:    aggregator,
		reconciler:    reconciler,
	}, nil
}

// Process handles one record and folds its outcome into the run state.
func (e *Engine) Process(ctx context.Context, record Record) (SyncState, error) {
	if e == nil {
		return SyncState{}, fmt.Errorf("dynsync: engine is not initialized")
	}
	return e.reconciler.Process(ctx, record)
}

// ProcessAll drains records in order, stopping only on a run-fatal error.
func (e *Engine) ProcessAll(ctx context.Context, records []Record) error {
	if e == nil {
		return fmt.Errorf("dynsync: engine is not initialized")
	}
	return e.reconciler.ProcessAll(ctx, records)
}

// Flush writes the run state document.
func (e *Engine) Flush(w io.Writer) error {
	if e == nil {
		return fmt.Errorf("dynsync: engine is not initialized")
	}
	return e.aggregator.Flush(w)
}

// State exposes the run state accumulated so far.
func (e *Engine) State() *RunState {
	if e == nil {
		return nil
	}
	return e.aggregator.State()
}

// EnsureFresh refreshes the credential ahead of time when it is close to
// expiry.
func (e *Engine) EnsureFresh(ctx context.Context) error {
	if e == nil {
		return fmt.Errorf("dynsync: engine is not initialized")
	}
	_, err := e.authenticator.EnsureFresh(ctx)
	return err
}

// Register installs a custom sink for a stream.
func (e *Engine) Register(stream string, sink core.Sink) error {
	if e == nil {
		return fmt.Errorf("dynsync: engine is not initialized")
	}
	return e.registry.Register(stream, sink)
}
