// cmd/metactl is the operator CLI for a metakv data directory: export its
// current state to a snapshot stream, import one back in, or inspect the
// on-disk version header without mutating anything.
//
// Usage:
//
//	metactl export --data-dir ./data > snapshot.jsonl
//	metactl import --data-dir ./data < snapshot.jsonl
//	metactl status --data-dir ./data
package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/metakv/metakv/internal/config"
	"github.com/metakv/metakv/internal/telemetry"
)

var (
	dataDir        string
	sentryDSN      string
	cfg            config.Config
	flushTelemetry = func() {}
)

func main() {
	root := &cobra.Command{
		Use:   "metactl",
		Short: "Operator CLI for a metakv data directory",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg = config.Default(dataDir)
			cfg.SentryDSN = sentryDSN

			flush, err := telemetry.Init(cfg.SentryDSN)
			if err != nil {
				return err
			}
			flushTelemetry = flush

			if runID, err := uuid.NewV7(); err == nil {
				telemetry.TagRun(runID.String())
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			flushTelemetry()
		},
	}

	root.PersistentFlags().StringVar(&dataDir, "data-dir", "",
		"path to the metakv data directory")
	root.PersistentFlags().StringVar(&sentryDSN, "sentry-dsn", "",
		"Sentry DSN to report fatal errors to; empty disables reporting")
	_ = root.MarkPersistentFlagRequired("data-dir")

	root.AddCommand(exportCmd(), importCmd(), statusCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
