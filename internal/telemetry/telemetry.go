// Package telemetry reports fatal errors — Corruption, Unsupported,
// VersionTooOld — to Sentry before the process aborts, so an operator
// gets an alert even when stderr is about to be lost to a crash. The
// teacher's go.mod already carried getsentry/sentry-go as an (unwired)
// dependency; this package is its first consumer.
package telemetry

import (
	"time"

	"github.com/getsentry/sentry-go"
)

// Init configures the global Sentry client for dsn. An empty dsn disables
// reporting outright (sentry-go's own no-op behavior), which is the right
// default for local development and tests. The returned flush func must be
// called before process exit so a report triggered right before an
// os.Exit or panic actually reaches Sentry's servers.
func Init(dsn string) (flush func(), err error) {
	if err := sentry.Init(sentry.ClientOptions{Dsn: dsn}); err != nil {
		return nil, err
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}

// CaptureFatal reports err to Sentry and blocks until it is sent (or the
// flush deadline passes), for use immediately before a panic or os.Exit
// triggered by a Corruption/Unsupported/VersionTooOld error.
func CaptureFatal(err error) {
	sentry.CaptureException(err)
	sentry.Flush(2 * time.Second)
}

// TagRun attaches a run identifier to every report sent for the rest of
// the process's lifetime, so a crash reported from one metactl invocation
// can be told apart from another against the same data directory.
func TagRun(id string) {
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("run_id", id)
	})
}
