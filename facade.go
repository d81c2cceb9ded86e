package reverify

import (
	"fmt"

	"github.com/goliatone/go-command/runner"
	"github.com/goliatone/go-reverify/adapters/gocommand"
	reverifycommand "github.com/goliatone/go-reverify/command"
	reverifyquery "github.com/goliatone/go-reverify/query"
)

type OperatorService = gocommand.OperatorService

type Commands struct {
	TriggerTierRun *reverifycommand.TriggerTierRunCommand
	ResumeRuns     *reverifycommand.ResumeRunsCommand
}

type Queries struct {
	ListSchedules *reverifyquery.ListSchedulesQuery
	GetRun        *reverifyquery.GetRunQuery
	ListRuns      *reverifyquery.ListRunsQuery
}

// Facade bundles the operator commands and queries over one service.
type Facade struct {
	service  OperatorService
	commands Commands
	queries  Queries
}

func NewFacade(service OperatorService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("reverify: operator service is required")
	}
	return &Facade{
		service: service,
		commands: Commands{
			TriggerTierRun: reverifycommand.NewTriggerTierRunCommand(service),
			ResumeRuns:     reverifycommand.NewResumeRunsCommand(service),
		},
		queries: Queries{
			ListSchedules: reverifyquery.NewListSchedulesQuery(service),
			GetRun:        reverifyquery.NewGetRunQuery(service),
			ListRuns:      reverifyquery.NewListRunsQuery(service),
		},
	}, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() OperatorService {
	if f == nil {
		return nil
	}
	return f.service
}

// Register subscribes the operator commands and queries on the go-command
// dispatcher through adapter.
func (f *Facade) Register(adapter *gocommand.RegistryAdapter, runnerOpts ...runner.Option) (gocommand.Subscriptions, error) {
	if f == nil {
		return nil, fmt.Errorf("reverify: facade is nil")
	}
	return gocommand.RegisterOperator(adapter, f.service, runnerOpts...)
}
