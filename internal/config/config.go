// Package config carries the handful of paths and tunables this module's
// one process entry point (cmd/metactl) needs. There is no dedicated
// config-file format: with a single CLI as the only caller in this
// repo's scope, pflag-bound command flags are the whole configuration
// surface.
package config

import "time"

// Config holds the settings a metactl invocation is parameterized by.
type Config struct {
	// DataDir is the directory ondisk.Open and snapshotstore.New root
	// their files under.
	DataDir string

	// SnapshotSweepGrace is how long a pending (*.snap.tmp) file must sit
	// untouched before snapshotstore.Store.Sweep deletes it as abandoned.
	SnapshotSweepGrace time.Duration

	// SentryDSN configures telemetry.Init. Empty disables reporting.
	SentryDSN string
}

// Default returns a Config with conservative defaults for DataDir-less
// fields; DataDir itself has no sane default and must always be supplied.
func Default(dataDir string) Config {
	return Config{
		DataDir:            dataDir,
		SnapshotSweepGrace: 10 * time.Minute,
	}
}
