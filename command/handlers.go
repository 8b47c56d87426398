package command

import (
	"context"
	"fmt"
	"io"
	"os"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-dynsync/core"
	"github.com/goliatone/go-dynsync/engine"
)

type RecordService interface {
	Process(ctx context.Context, record core.Record) (core.SyncState, error)
}

type StateService interface {
	Flush(w io.Writer) error
}

type CredentialService interface {
	EnsureFresh(ctx context.Context) (core.Credential, error)
}

type RunSchedulingService interface {
	ScheduleRun(ctx context.Context, req engine.RunRequest) error
}

type ProcessRecordCommand struct {
	service RecordService
}

func NewProcessRecordCommand(service RecordService) *ProcessRecordCommand {
	return &ProcessRecordCommand{service: service}
}

func (c *ProcessRecordCommand) Execute(ctx context.Context, msg ProcessRecordMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: record service is required")
	}
	state, err := c.service.Process(ctx, msg.Record)
	if err != nil {
		return err
	}
	storeResult(ctx, state)
	return nil
}

type FlushStateCommand struct {
	service StateService
}

func NewFlushStateCommand(service StateService) *FlushStateCommand {
	return &FlushStateCommand{service: service}
}

func (c *FlushStateCommand) Execute(ctx context.Context, msg FlushStateMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: state service is required")
	}
	file, err := os.Create(msg.Path)
	if err != nil {
		return commandInvalidInputError(fmt.Sprintf("command: open state path: %v", err))
	}
	defer file.Close()
	return c.service.Flush(file)
}

type RefreshCredentialCommand struct {
	service CredentialService
}

func NewRefreshCredentialCommand(service CredentialService) *RefreshCredentialCommand {
	return &RefreshCredentialCommand{service: service}
}

func (c *RefreshCredentialCommand) Execute(ctx context.Context, _ RefreshCredentialMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: credential service is required")
	}
	_, err := c.service.EnsureFresh(ctx)
	return err
}

type ScheduleRunCommand struct {
	service RunSchedulingService
}

func NewScheduleRunCommand(service RunSchedulingService) *ScheduleRunCommand {
	return &ScheduleRunCommand{service: service}
}

func (c *ScheduleRunCommand) Execute(ctx context.Context, msg ScheduleRunMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: run scheduling service is required")
	}
	return c.service.ScheduleRun(ctx, msg.Request)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
