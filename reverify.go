package reverify

import (
	"github.com/goliatone/go-reverify/core"
	"github.com/goliatone/go-reverify/schedule"
)

type Config = core.Config

type Logger = core.Logger
type LoggerProvider = core.LoggerProvider
type MetricsRecorder = core.MetricsRecorder
type ErrorMapper = core.ErrorMapper
type ConfigProvider = core.ConfigProvider
type OptionsResolver = core.OptionsResolver

type Tier = core.Tier
type IdentityKind = core.IdentityKind
type IdentityLink = core.IdentityLink
type VerificationOutcome = core.VerificationOutcome
type Verifier = core.Verifier
type AggregateResult = core.AggregateResult
type RunRecord = core.RunRecord
type RunFilter = core.RunFilter

type TriggerTierRunRequest = core.TriggerTierRunRequest
type TierRunStarted = core.TierRunStarted
type NextFire = schedule.NextFire

const (
	TierStandard     = core.TierStandard
	TierPlus         = core.TierPlus
	TierProfessional = core.TierProfessional
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}
