package app

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/m-mizutani/goerr/v2"

	"github.com/rancher/git-pull-indep/internal/orchestrator"
)

const sentryFlushTimeout = 2 * time.Second

// failureReporter forwards failed runs to Sentry. The zero value is disabled.
type failureReporter struct {
	enabled bool
	runID   string
	log     *slog.Logger
}

func newFailureReporter(dsn, environment, runID string, logger *slog.Logger) *failureReporter {
	r := &failureReporter{runID: runID, log: logger}
	if dsn == "" {
		return r
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
	}); err != nil {
		if logger != nil {
			logger.Warn("failed to initialize sentry", "error", goerr.Wrap(err, "sentry init"))
		}
		return r
	}
	r.enabled = true
	return r
}

// Capture sends err to Sentry tagged with its failure kind.
func (r *failureReporter) Capture(err error) {
	if r == nil || !r.enabled || err == nil {
		return
	}

	hub := sentry.CurrentHub().Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		if kind, ok := orchestrator.KindOf(err); ok {
			scope.SetTag("kind", string(kind))
		}
		if r.runID != "" {
			scope.SetTag("run_id", r.runID)
		}
		if goErr := goerr.Unwrap(err); goErr != nil {
			for k, v := range goErr.Values() {
				scope.SetExtra(fmt.Sprintf("%v", k), v)
			}
		}
	})
	evID := hub.CaptureException(err)

	if r.log != nil && evID != nil {
		r.log.Debug("reported failure to sentry", "sentry.EventID", *evID)
	}
}

// Flush waits for buffered events to be delivered.
func (r *failureReporter) Flush() {
	if r == nil || !r.enabled {
		return
	}
	if !sentry.Flush(sentryFlushTimeout) && r.log != nil {
		r.log.Warn("timed out flushing sentry events")
	}
}
