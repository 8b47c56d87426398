package sqlstore

import "github.com/goliatone/go-dynsync/core"

var _ core.ProcessedLedger = (*ProcessedLedgerStore)(nil)
