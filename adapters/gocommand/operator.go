package gocommand

import (
	"fmt"

	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	reverifycommand "github.com/goliatone/go-reverify/command"
	"github.com/goliatone/go-reverify/core"
	reverifyquery "github.com/goliatone/go-reverify/query"
	"github.com/goliatone/go-reverify/schedule"
)

// OperatorService is the surface behind the operator commands and queries.
type OperatorService interface {
	reverifycommand.MutatingService
	reverifyquery.ScheduleReader
	reverifyquery.RunReader
}

type Subscriptions []commanddispatcher.Subscription

func (s Subscriptions) Unsubscribe() {
	for _, sub := range s {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
}

// RegisterOperator registers and subscribes the trigger and resume commands
// plus the schedule and run queries. On failure every subscription made so
// far is released.
func RegisterOperator(adapter *RegistryAdapter, svc OperatorService, runnerOpts ...runner.Option) (Subscriptions, error) {
	if svc == nil {
		return nil, fmt.Errorf("gocommand: operator service is required")
	}
	var subs Subscriptions
	register := func(sub commanddispatcher.Subscription, err error) error {
		if err != nil {
			subs.Unsubscribe()
			return err
		}
		subs = append(subs, sub)
		return nil
	}
	if err := register(RegisterAndSubscribe[reverifycommand.TriggerTierRunMessage](adapter, reverifycommand.NewTriggerTierRunCommand(svc), runnerOpts...)); err != nil {
		return nil, err
	}
	if err := register(RegisterAndSubscribe[reverifycommand.ResumeRunsMessage](adapter, reverifycommand.NewResumeRunsCommand(svc), runnerOpts...)); err != nil {
		return nil, err
	}
	if err := register(RegisterAndSubscribeQuery[reverifyquery.ListSchedulesMessage, []schedule.NextFire](adapter, reverifyquery.NewListSchedulesQuery(svc), runnerOpts...)); err != nil {
		return nil, err
	}
	if err := register(RegisterAndSubscribeQuery[reverifyquery.GetRunMessage, core.RunRecord](adapter, reverifyquery.NewGetRunQuery(svc), runnerOpts...)); err != nil {
		return nil, err
	}
	if err := register(RegisterAndSubscribeQuery[reverifyquery.ListRunsMessage, []core.RunRecord](adapter, reverifyquery.NewListRunsQuery(svc), runnerOpts...)); err != nil {
		return nil, err
	}
	return subs, nil
}
