// Package telemetry provides opt-in error tracking via Sentry. It installs
// itself as the reporter for the errors package so category-tagged errors
// reach Sentry without the producing packages importing the SDK.
package telemetry

import (
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/theRAGEhero/world-cafe/internal/errors"
	"github.com/theRAGEhero/world-cafe/internal/logging"
)

var (
	initialized atomic.Bool
	logger      *slog.Logger
)

// Settings holds the telemetry configuration subset needed for initialization.
type Settings struct {
	Enabled     bool
	DSN         string
	Environment string
	Version     string
	Debug       bool
}

// Init initializes the Sentry SDK when telemetry is enabled. Telemetry is
// strictly opt-in; when disabled this is a no-op and no reporter is installed.
func Init(s *Settings) error {
	logger = logging.ForService("telemetry")

	if !s.Enabled {
		logger.Info("telemetry disabled (opt-in required)")
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              s.DSN,
		Environment:      s.Environment,
		Release:          s.Version,
		Debug:            s.Debug,
		AttachStacktrace: true,
		SampleRate:       1.0,
	})
	if err != nil {
		return errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("go_version", runtime.Version())
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
	})

	initialized.Store(true)
	errors.SetReporter(&sentryReporter{})
	logger.Info("telemetry initialized", "environment", s.Environment)
	return nil
}

// Shutdown flushes pending events and uninstalls the error reporter.
func Shutdown(timeout time.Duration) {
	if !initialized.Load() {
		return
	}
	errors.SetReporter(nil)
	sentry.Flush(timeout)
	initialized.Store(false)
}

// sentryReporter forwards enhanced errors to Sentry with their metadata.
type sentryReporter struct{}

func (r *sentryReporter) ReportError(ee *errors.EnhancedError) {
	if ee == nil || ee.IsReported() {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.GetComponent())
		scope.SetTag("category", ee.GetCategory())
		if p := ee.GetPriority(); p != "" {
			scope.SetTag("priority", p)
		}
		if ctx := ee.GetContext(); len(ctx) > 0 {
			scope.SetContext("error_context", ctx)
		}
		sentry.CaptureException(ee.Unwrap())
	})

	ee.MarkReported()
}

// CaptureMessage sends an informational message when telemetry is enabled.
func CaptureMessage(message, component string) {
	if !initialized.Load() {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", component)
		sentry.CaptureMessage(message)
	})
}
