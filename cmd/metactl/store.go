package main

import (
	"path/filepath"

	"github.com/metakv/metakv/internal/metrics"
	"github.com/metakv/metakv/internal/ondisk"
	"github.com/metakv/metakv/internal/snapshotstore"
	"github.com/prometheus/client_golang/prometheus"
)

const snapshotSubdir = "snapshots"

// openDataDir loads (and, if necessary, upgrades) the on-disk header, and
// opens the snapshot file store alongside it. Every subcommand needing
// disk access goes through this so the version gate always runs first.
func openDataDir(dir string) (*ondisk.OnDisk, *snapshotstore.Store, *metrics.Registry, error) {
	reg := metrics.NewRegistry(prometheus.NewRegistry())

	od, err := ondisk.Open(dir)
	if err != nil {
		return nil, nil, nil, err
	}
	od.WithMetrics(reg)

	snapStore, err := snapshotstore.New(filepath.Join(dir, snapshotSubdir))
	if err != nil {
		_ = od.Close()
		return nil, nil, nil, err
	}
	snapStore.WithMetrics(reg)

	if err := snapStore.Sweep(cfg.SnapshotSweepGrace); err != nil {
		_ = od.Close()
		return nil, nil, nil, err
	}

	if err := od.Upgrade(snapStore); err != nil {
		_ = od.Close()
		return nil, nil, nil, err
	}

	return od, snapStore, reg, nil
}

// openDataDirReadOnly loads the header and snapshot store without running
// any pending upgrade, for subcommands (status) that must never mutate
// the data directory.
func openDataDirReadOnly(dir string) (*ondisk.OnDisk, *snapshotstore.Store, error) {
	od, err := ondisk.Open(dir)
	if err != nil {
		return nil, nil, err
	}
	snapStore, err := snapshotstore.New(filepath.Join(dir, snapshotSubdir))
	if err != nil {
		_ = od.Close()
		return nil, nil, err
	}
	return od, snapStore, nil
}
