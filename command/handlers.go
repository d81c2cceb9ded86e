package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-reverify/core"
)

type MutatingService interface {
	TriggerTierRun(ctx context.Context, req core.TriggerTierRunRequest) (core.TierRunStarted, error)
	ResumeRuns(ctx context.Context) (int, error)
}

type TriggerTierRunCommand struct {
	service MutatingService
}

func NewTriggerTierRunCommand(service MutatingService) *TriggerTierRunCommand {
	return &TriggerTierRunCommand{service: service}
}

func (c *TriggerTierRunCommand) Execute(ctx context.Context, msg TriggerTierRunMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: tier run service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.TriggerTierRun(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ResumeRunsCommand struct {
	service MutatingService
}

func NewResumeRunsCommand(service MutatingService) *ResumeRunsCommand {
	return &ResumeRunsCommand{service: service}
}

// Execute stores the number of resumed runs on the result collector.
func (c *ResumeRunsCommand) Execute(ctx context.Context, _ ResumeRunsMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: resume service is required")
	}
	resumed, err := c.service.ResumeRuns(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, resumed)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
