package errors

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// sentryFlushTimeout bounds how long Close waits for queued events.
const sentryFlushTimeout = 2 * time.Second

// InitSentry configures the sentry client and installs it as the reporter.
// An empty DSN leaves reporting disabled.
func InitSentry(dsn, environment, release string) error {
	if dsn == "" {
		return nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     release,
	}); err != nil {
		return fmt.Errorf("sentry init: %w", err)
	}
	SetReporter(sentryReporter)
	return nil
}

// CloseSentry flushes pending events and removes the reporter.
func CloseSentry() {
	SetReporter(nil)
	sentry.Flush(sentryFlushTimeout)
}

func sentryReporter(ee *EnhancedError) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.component)
		scope.SetTag("category", string(ee.category))
		for k, v := range ee.context {
			scope.SetExtra(k, v)
		}
		sentry.CaptureException(ee)
	})
}
