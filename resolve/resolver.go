package resolve

import (
	"context"
	"fmt"
	"strings"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-dynsync/core"
	"github.com/goliatone/go-dynsync/transport"
)

// Executor is the slice of the request executor lookups need.
type Executor interface {
	Execute(ctx context.Context, req transport.Request) (transport.Result, error)
}

// Lookuper finds one remote entity by filter, or nil when absent.
type Lookuper interface {
	Lookup(ctx context.Context, endpoint string, filter map[string]string) (map[string]any, error)
}

// Resolver looks up existing remote entities by natural key. Lookups are
// always cross-company so results are not scoped to one legal entity.
type Resolver struct {
	executor Executor
	logger   core.Logger
}

func NewResolver(executor Executor, logger core.Logger) (*Resolver, error) {
	if executor == nil {
		return nil, fmt.Errorf("resolve: executor is required")
	}
	if logger == nil {
		logger = glog.Nop()
	}
	return &Resolver{executor: executor, logger: logger}, nil
}

// Lookup GETs endpoint with the filter plus the cross-company flag and
// returns the first entity of the result set. An empty result set is
// (nil, nil), never an error.
func (r *Resolver) Lookup(ctx context.Context, endpoint string, filter map[string]string) (map[string]any, error) {
	if r == nil || r.executor == nil {
		return nil, fmt.Errorf("resolve: resolver is not configured")
	}
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("resolve: endpoint is required")
	}

	query := make(map[string]string, len(filter)+1)
	for key, value := range filter {
		query[key] = value
	}
	query["cross-company"] = "true"

	r.logger.Info("entity lookup", "endpoint", endpoint, "filter", fmt.Sprint(filter))

	result, err := r.executor.Execute(ctx, transport.Request{
		Method:   "GET",
		Endpoint: endpoint,
		Query:    query,
	})
	if err != nil {
		return nil, err
	}
	decoded, err := result.JSON()
	if err != nil {
		return nil, err
	}
	entities, ok := decoded["value"].([]any)
	if !ok || len(entities) == 0 {
		return nil, nil
	}
	first, ok := entities[0].(map[string]any)
	if !ok {
		return nil, nil
	}
	return first, nil
}

var _ Lookuper = (*Resolver)(nil)
