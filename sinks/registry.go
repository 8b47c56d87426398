package sinks

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-dynsync/core"
	"github.com/goliatone/go-dynsync/resolve"
	glog "github.com/goliatone/go-logger/glog"
)

// Registry maps stream names to their sinks. Streams without a dedicated
// handler get a fallback sink built from the stream's endpoint spec.
type Registry struct {
	executor  Executor
	lookup    resolve.Lookuper
	logger    core.Logger
	inputPath string
	specs     map[string]EndpointSpec
	sinks     map[string]core.Sink
}

// NewRegistry wires the default stream handlers against the shared executor
// and entity resolver.
func NewRegistry(executor Executor, lookup resolve.Lookuper, inputPath string, logger core.Logger) (*Registry, error) {
	if executor == nil {
		return nil, fmt.Errorf("sinks: executor is required")
	}
	if logger == nil {
		logger = glog.Nop()
	}

	r := &Registry{
		executor:  executor,
		lookup:    lookup,
		logger:    logger,
		inputPath: inputPath,
		specs:     DefaultSpecs(),
		sinks:     map[string]core.Sink{},
	}

	if spec, ok := r.specs[StreamVendorInvoiceHeaders]; ok {
		invoice, err := NewInvoiceSink(spec, executor, lookup, inputPath, logger)
		if err != nil {
			return nil, err
		}
		r.sinks[StreamVendorInvoiceHeaders] = invoice
	}
	return r, nil
}

// Register installs or replaces the sink for a stream.
func (r *Registry) Register(stream string, sink core.Sink) error {
	if r == nil {
		return fmt.Errorf("sinks: registry is not initialized")
	}
	stream = strings.TrimSpace(stream)
	if stream == "" {
		return fmt.Errorf("sinks: stream name is required")
	}
	if sink == nil {
		return fmt.Errorf("sinks: sink is required")
	}
	r.sinks[stream] = sink
	return nil
}

// Select returns the sink for a stream, lazily building a fallback sink for
// streams that only need single-entity writes.
func (r *Registry) Select(stream string) core.Sink {
	if r == nil {
		return nil
	}
	if sink, ok := r.sinks[stream]; ok {
		return sink
	}

	spec, ok := r.specs[stream]
	if !ok {
		spec = EndpointSpec{Name: stream, PrimaryKeys: []string{"dataAreaId", "id"}}
	}
	sink, err := NewFallbackSink(spec, r.executor, r.lookup, r.logger)
	if err != nil {
		r.logger.Error("fallback sink build failed", "stream", stream, "error", err)
		return nil
	}
	r.sinks[stream] = sink
	return sink
}
