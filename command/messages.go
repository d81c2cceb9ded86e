package command

import (
	"strings"

	"github.com/goliatone/go-reverify/core"
)

const (
	TypeTriggerTierRun = "reverify.command.tier_run.trigger"
	TypeResumeRuns     = "reverify.command.runs.resume"
)

type TriggerTierRunMessage struct {
	Request core.TriggerTierRunRequest
}

func (TriggerTierRunMessage) Type() string { return TypeTriggerTierRun }

func (m TriggerTierRunMessage) Validate() error {
	if strings.TrimSpace(string(m.Request.Tier)) == "" {
		return commandValidationError("tier", "tier is required")
	}
	if err := m.Request.Tier.Validate(); err != nil {
		return commandWrapValidation(err, "tier")
	}
	if strings.ContainsAny(m.Request.Key, "/ ") {
		return commandValidationError("key", "key must not contain spaces or slashes")
	}
	return nil
}

// ResumeRunsMessage re-dispatches every unfinished run, usually once after
// a restart.
type ResumeRunsMessage struct{}

func (ResumeRunsMessage) Type() string { return TypeResumeRuns }

func (ResumeRunsMessage) Validate() error { return nil }
