package command

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-dynsync/core"
	"github.com/goliatone/go-dynsync/engine"
)

const (
	TypeProcessRecord     = "dynsync.command.record.process"
	TypeFlushState        = "dynsync.command.state.flush"
	TypeRefreshCredential = "dynsync.command.credential.refresh"
	TypeScheduleRun       = "dynsync.command.run.schedule"
)

type ProcessRecordMessage struct {
	Record core.Record
}

func (ProcessRecordMessage) Type() string { return TypeProcessRecord }

func (m ProcessRecordMessage) Validate() error {
	if strings.TrimSpace(m.Record.Stream) == "" {
		return fmt.Errorf("command: record stream is required")
	}
	if len(m.Record.Data) == 0 {
		return fmt.Errorf("command: record data is required")
	}
	return nil
}

type FlushStateMessage struct {
	Path string
}

func (FlushStateMessage) Type() string { return TypeFlushState }

func (m FlushStateMessage) Validate() error {
	if strings.TrimSpace(m.Path) == "" {
		return fmt.Errorf("command: state path is required")
	}
	return nil
}

type RefreshCredentialMessage struct{}

func (RefreshCredentialMessage) Type() string { return TypeRefreshCredential }

func (RefreshCredentialMessage) Validate() error { return nil }

type ScheduleRunMessage struct {
	Request engine.RunRequest
}

func (ScheduleRunMessage) Type() string { return TypeScheduleRun }

func (m ScheduleRunMessage) Validate() error {
	if strings.TrimSpace(m.Request.RunID) == "" {
		return fmt.Errorf("command: run id is required")
	}
	return nil
}
