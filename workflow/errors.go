package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goliatone/go-reverify/core"
)

var (
	ErrHandlerNotRegistered = errors.New("workflow: handler not registered")
	ErrMissingRunID         = errors.New("workflow: message has no run id")
)

// RunFailedError is what awaiting a failed or timed out run returns. Result
// holds whatever the run had aggregated before it failed.
type RunFailedError struct {
	RunID  string
	Level  core.RunLevel
	Status core.RunStatus
	Reason string
	Result core.AggregateResult
}

func (e *RunFailedError) Error() string {
	reason := strings.TrimSpace(e.Reason)
	if reason == "" {
		reason = "no reason recorded"
	}
	return fmt.Sprintf("workflow: %s run %q %s: %s", e.Level, e.RunID, e.Status, reason)
}

func (e *RunFailedError) Unwrap() error {
	if e.Status == core.RunStatusTimedOut {
		return core.ErrRunTimedOut
	}
	return core.ErrRunFailed
}

func runFailure(record core.RunRecord) error {
	return &RunFailedError{
		RunID:  record.ID,
		Level:  record.Level,
		Status: record.Status,
		Reason: record.Error,
		Result: record.Result,
	}
}

type panicError struct {
	scope string
	value any
}

func (e panicError) Error() string {
	scope := e.scope
	if scope == "" {
		scope = "handler"
	}
	return fmt.Sprintf("workflow: %s panic: %v", scope, e.value)
}

// Retryable reports false: a panic is assumed to repeat on every attempt.
func (panicError) Retryable() bool { return false }
