package sinks

import (
	"context"
	"fmt"

	"github.com/goliatone/go-dynsync/core"
	"github.com/goliatone/go-dynsync/resolve"
	"github.com/goliatone/go-dynsync/transport"
	glog "github.com/goliatone/go-logger/glog"
)

// Executor issues resilient requests against the remote API.
type Executor interface {
	Execute(ctx context.Context, req transport.Request) (transport.Result, error)
}

// FallbackSink writes single-entity streams with no child collections.
type FallbackSink struct {
	spec     EndpointSpec
	executor Executor
	lookup   resolve.Lookuper
	logger   core.Logger
}

// NewFallbackSink builds a sink for streams without a dedicated handler.
func NewFallbackSink(spec EndpointSpec, executor Executor, lookup resolve.Lookuper, logger core.Logger) (*FallbackSink, error) {
	if executor == nil {
		return nil, fmt.Errorf("sinks: executor is required")
	}
	if logger == nil {
		logger = glog.Nop()
	}
	return &FallbackSink{
		spec:     spec,
		executor: executor,
		lookup:   lookup,
		logger:   logger,
	}, nil
}

func (s *FallbackSink) Preprocess(record core.Record) core.Record {
	return cleanRecord(record)
}

func (s *FallbackSink) Upsert(ctx context.Context, record core.Record) (core.UpsertResult, error) {
	if s == nil || s.executor == nil {
		return core.UpsertResult{}, fmt.Errorf("sinks: fallback sink is not initialized")
	}

	plan, err := planWrite(ctx, s.lookup, s.spec, record)
	if err != nil {
		return core.UpsertResult{}, err
	}

	req := transport.Request{
		Method:   plan.Method,
		Endpoint: plan.Endpoint,
		Body:     writePayload(s.spec, record, plan.IsUpdate()),
	}
	if plan.IsUpdate() {
		req.Query = crossCompanyQuery()
	}

	result, err := s.executor.Execute(ctx, req)
	if err != nil {
		return core.UpsertResult{}, err
	}
	if result.Outcome == transport.OutcomeNotFoundOnUpdate {
		s.logger.Warn("skipping update, entity no longer present",
			"stream", record.Stream,
			"endpoint", plan.Endpoint,
		)
		return core.UpsertResult{
			Success: false,
			Extras:  map[string]any{"existing": true},
		}, nil
	}

	out := core.UpsertResult{Success: true, Extras: map[string]any{}}
	if plan.IsUpdate() {
		out.ID = record.RemoteID()
		if out.ID == "" {
			out.ID = stringValue(plan.Existing, s.spec.PrimaryKey())
		}
		out.Extras["is_updated"] = true
		return out, nil
	}

	if body, err := result.JSON(); err == nil {
		out.ID = stringValue(body, s.spec.PrimaryKey())
	}
	if out.ID == "" {
		out.ID = stringValue(record.Data, s.spec.PrimaryKey())
	}
	return out, nil
}
