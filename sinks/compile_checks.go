package sinks

import "github.com/goliatone/go-dynsync/core"

var (
	_ core.Sink         = (*FallbackSink)(nil)
	_ core.Sink         = (*InvoiceSink)(nil)
	_ core.SinkSelector = (*Registry)(nil)
)
