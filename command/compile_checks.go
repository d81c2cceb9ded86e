package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[TriggerTierRunMessage] = (*TriggerTierRunCommand)(nil)
	_ gocmd.Commander[ResumeRunsMessage]     = (*ResumeRunsCommand)(nil)
)
