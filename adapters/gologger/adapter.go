package gologger

import (
	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-reverify/core"
	"github.com/goliatone/go-reverify/workflow"
)

// DefaultLoggerName is the logger name requested from providers.
const DefaultLoggerName = "reverify"

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(name, provider, logger)
}

// ToJobProvider maps a glog provider to the go-job logger provider contract.
func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

// ToJobLogger maps a glog logger to the go-job logger contract.
func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob resolves glog logger/provider then returns equivalent go-job adapters.
func ResolveForJob(
	name string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(name, provider, logger)
	return resolvedProvider, resolvedLogger, ToJobProvider(resolvedProvider), ToJobLogger(resolvedLogger)
}

// Observer resolves a logger and pairs it with metrics. A nil recorder falls
// back to the no-op recorder.
func Observer(name string, provider glog.LoggerProvider, logger glog.Logger, metrics core.MetricsRecorder) core.Observer {
	if name == "" {
		name = DefaultLoggerName
	}
	_, resolved := Resolve(name, provider, logger)
	return core.NewObserver(resolved, metrics)
}

// EngineOptions hands the resolved logger to the workflow engine.
func EngineOptions(name string, provider glog.LoggerProvider, logger glog.Logger) []workflow.Option {
	if name == "" {
		name = DefaultLoggerName
	}
	_, resolved := Resolve(name, provider, logger)
	return []workflow.Option{workflow.WithLogger(resolved)}
}
