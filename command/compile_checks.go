package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[ProcessRecordMessage]     = (*ProcessRecordCommand)(nil)
	_ gocmd.Commander[FlushStateMessage]        = (*FlushStateCommand)(nil)
	_ gocmd.Commander[RefreshCredentialMessage] = (*RefreshCredentialCommand)(nil)
	_ gocmd.Commander[ScheduleRunMessage]       = (*ScheduleRunCommand)(nil)
)
