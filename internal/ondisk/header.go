// Package ondisk owns the single source of truth for "what schema
// generation is this data directory's state in, and is an upgrade
// mid-flight": the Header record, persisted through cockroachdb/pebble
// (used here purely as a tiny embedded KV store for one record — no
// iterators, no compaction tuning, the narrowest possible use of an
// LSM engine), plus the chained upgrade routines spec.md §4.9 names.
package ondisk

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	cockroacherrors "github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"

	"github.com/metakv/metakv/internal/importer"
	"github.com/metakv/metakv/internal/metrics"
	"github.com/metakv/metakv/internal/snapshot"
	"github.com/metakv/metakv/internal/snapshotstore"
	"github.com/metakv/metakv/internal/store"
	"github.com/metakv/metakv/internal/wire"
	stderrors "github.com/metakv/metakv/pkg/errors"
)

const headerKey = "header"
const headerDBDir = "header-kv" // pebble directory nested under the data dir

// Header is the on-disk version descriptor: the schema generation the
// data directory is in, and — if an upgrade was interrupted by a crash
// — which version it was upgrading to when that happened.
type Header struct {
	Version   DataVersion  `json:"version"`
	Upgrading *DataVersion `json:"upgrading,omitempty"`
}

func (h Header) String() string {
	if h.Upgrading == nil {
		return fmt.Sprintf("{version: %s}", h.Version)
	}
	return fmt.Sprintf("{version: %s, upgrading: %s}", h.Version, *h.Upgrading)
}

// OnDisk is the loaded, validated on-disk descriptor for one data
// directory. It must be opened (and upgraded, if needed) before
// anything else touches the directory's snapshot files.
type OnDisk struct {
	mu      sync.Mutex
	header  Header
	db      *pebble.DB
	dir     string
	metrics *metrics.Registry
}

// WithMetrics attaches a metrics registry upgrade transitions are counted
// against. A nil registry (the default) disables recording.
func (od *OnDisk) WithMetrics(reg *metrics.Registry) *OnDisk {
	od.mu.Lock()
	defer od.mu.Unlock()
	od.metrics = reg
	return od
}

// Open loads the header record for dir, initializing it to V0 if this
// is a brand new data directory, and refuses to proceed if the on-disk
// version predates what this binary can upgrade from.
func Open(dir string) (*OnDisk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, cockroacherrors.Wrapf(err, "create data dir %s", dir)
	}

	db, err := pebble.Open(filepath.Join(dir, headerDBDir), &pebble.Options{})
	if err != nil {
		return nil, cockroacherrors.Wrap(err, "open header store")
	}

	od := &OnDisk{db: db, dir: dir}

	raw, closer, err := db.Get([]byte(headerKey))
	switch {
	case err == pebble.ErrNotFound:
		od.header = Header{Version: V0}
		if werr := od.writeHeaderLocked(); werr != nil {
			_ = db.Close()
			return nil, werr
		}
	case err != nil:
		_ = db.Close()
		return nil, cockroacherrors.Wrap(err, "read header record")
	default:
		var h Header
		uerr := json.Unmarshal(raw, &h)
		_ = closer.Close()
		if uerr != nil {
			_ = db.Close()
			return nil, &stderrors.CorruptionError{Context: "header record", Err: uerr}
		}
		od.header = h
	}

	if od.header.Version < MinCompatibleDataVersion() {
		_ = db.Close()
		return nil, &stderrors.VersionTooOldError{
			Found:     uint64(od.header.Version),
			MinNeeded: uint64(MinCompatibleDataVersion()),
			Hint:      "download a release that still supports upgrading from " + od.header.Version.String(),
		}
	}

	return od, nil
}

// Header returns a copy of the currently loaded header.
func (od *OnDisk) Header() Header {
	od.mu.Lock()
	defer od.mu.Unlock()
	return od.header
}

// Close releases the underlying header store.
func (od *OnDisk) Close() error {
	od.mu.Lock()
	defer od.mu.Unlock()
	return od.db.Close()
}

func (od *OnDisk) writeHeaderLocked() error {
	data, err := json.Marshal(od.header)
	if err != nil {
		return cockroacherrors.Wrap(err, "marshal header record")
	}
	if err := od.db.Set([]byte(headerKey), data, pebble.Sync); err != nil {
		return cockroacherrors.Wrap(err, "write header record")
	}
	return nil
}

// Upgrade drives the data directory forward to DataVersionCurrent,
// resuming any interrupted transition first. Safe to call on an
// already-current directory (a no-op).
func (od *OnDisk) Upgrade(snapStore *snapshotstore.Store) error {
	od.mu.Lock()
	defer od.mu.Unlock()

	if od.header.Upgrading != nil {
		if err := od.resumeLocked(snapStore, *od.header.Upgrading); err != nil {
			return err
		}
		od.header.Upgrading = nil
		if err := od.writeHeaderLocked(); err != nil {
			return err
		}
	}

	for od.header.Version != DataVersionCurrent {
		if err := od.stepLocked(snapStore); err != nil {
			return err
		}
	}
	return nil
}

// resumeLocked re-performs the idempotent cleanup half of an
// interrupted transition to target. Each transition's forward work is
// itself written to be safely re-run (snapshot writes are atomic via
// rename; legacy-tree removal is idempotent), so resumption here is
// simply re-entering the same transition rather than a distinct code
// path.
func (od *OnDisk) resumeLocked(snapStore *snapshotstore.Store, target DataVersion) error {
	switch target {
	case V001:
		return nil // data already upgraded in place; nothing to redo
	case V002:
		name, found, err := od.findSmallestLegacyStateMachineFile()
		if err != nil {
			return err
		}
		if found {
			if err := od.dumpLegacyFileToSnapshot(snapStore, name); err != nil {
				return err
			}
		}
		return od.v001RemoveLegacyStateMachineFiles()
	case V003:
		return &stderrors.UnsupportedError{What: "resuming an interrupted V002->V003 upgrade: that transition is not yet implemented"}
	default:
		return &stderrors.CorruptionError{Context: "on-disk header", Err: fmt.Errorf("cannot resume upgrade to unknown version %s", target)}
	}
}

func (od *OnDisk) stepLocked(snapStore *snapshotstore.Store) error {
	switch od.header.Version {
	case V0:
		return od.upgradeV0ToV001()
	case V001:
		return od.upgradeV001ToV002(snapStore)
	case V002:
		return od.upgradeV002ToV003()
	default:
		return &stderrors.CorruptionError{Context: "on-disk header", Err: fmt.Errorf("%s is already the latest version", od.header.Version)}
	}
}

func (od *OnDisk) beginUpgradingLocked(from DataVersion) error {
	if od.header.Version != from {
		return &stderrors.CorruptionError{Context: "on-disk header", Err: fmt.Errorf("expected version %s, found %s", from, od.header.Version)}
	}
	next, ok := from.Next()
	if !ok {
		return &stderrors.CorruptionError{Context: "on-disk header", Err: fmt.Errorf("%s has no next version", from)}
	}
	if od.header.Upgrading != nil {
		return &stderrors.CorruptionError{Context: "on-disk header", Err: fmt.Errorf("upgrade already in progress to %s", *od.header.Upgrading)}
	}
	od.header.Upgrading = &next
	return od.writeHeaderLocked()
}

func (od *OnDisk) finishUpgradingLocked() error {
	od.header.Version = *od.header.Upgrading
	od.header.Upgrading = nil
	if od.metrics != nil {
		od.metrics.HeaderUpgrades.WithLabelValues(od.header.Version.String()).Inc()
	}
	return od.writeHeaderLocked()
}

// upgradeV0ToV001 is header-only: this repo has no V0 on-disk record
// format predating the one internal/kv and internal/store already
// write, so there is no data to re-encode (unlike the original source,
// which re-serializes every sled record through a version-aware codec
// because V0 and V001 differ in wire shape there).
func (od *OnDisk) upgradeV0ToV001() error {
	if err := od.beginUpgradingLocked(V0); err != nil {
		return err
	}
	return od.finishUpgradingLocked()
}

// legacyStateMachinePrefix names the on-disk convention a V001 data
// directory used for its state-machine snapshot files before V002
// moved that format into internal/snapshotstore's own "<id>.snap"
// layout: "legacy-statemachine-<id>.snap". A fresh deployment of this
// binary never produces files under this name; it exists only so an
// upgrade started from a genuinely pre-V002 directory has something
// concrete to find and migrate.
const legacyStateMachinePrefix = "legacy-statemachine-"

func (od *OnDisk) upgradeV001ToV002(snapStore *snapshotstore.Store) error {
	if err := od.beginUpgradingLocked(V001); err != nil {
		return err
	}

	name, found, err := od.findSmallestLegacyStateMachineFile()
	if err != nil {
		return err
	}
	if !found {
		return od.finishUpgradingLocked()
	}

	if err := od.dumpLegacyFileToSnapshot(snapStore, name); err != nil {
		return err
	}
	if err := od.v001RemoveLegacyStateMachineFiles(); err != nil {
		return err
	}
	return od.finishUpgradingLocked()
}

// upgradeV002ToV003 is the reserved transition spec.md explicitly
// leaves unimplemented; per its own Open Question, this binary fails
// fast with an actionable message rather than guessing at semantics.
func (od *OnDisk) upgradeV002ToV003() error {
	return &stderrors.UnsupportedError{What: "the V002->V003 upgrade transition is not yet defined upstream; this binary cannot open data directories below V003"}
}

func (od *OnDisk) findSmallestLegacyStateMachineFile() (string, bool, error) {
	entries, err := os.ReadDir(od.dir)
	if err != nil {
		return "", false, cockroacherrors.Wrap(err, "list data dir")
	}

	var minID uint64 = ^uint64(0)
	var minName string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), legacyStateMachinePrefix) {
			continue
		}
		idStr := strings.TrimSuffix(strings.TrimPrefix(e.Name(), legacyStateMachinePrefix), ".snap")
		id, err := strconv.ParseUint(idStr, 10, 64)
		if err != nil {
			continue
		}
		// When installing a snapshot, there can be two candidate
		// files; the one with the larger id may be a partially
		// installed snapshot, so the smallest id is the trustworthy one.
		if id < minID {
			minID = id
			minName = e.Name()
		}
	}
	if minName == "" {
		return "", false, nil
	}
	return minName, true, nil
}

func (od *OnDisk) dumpLegacyFileToSnapshot(snapStore *snapshotstore.Store, legacyName string) error {
	f, err := os.Open(filepath.Join(od.dir, legacyName))
	if err != nil {
		return cockroacherrors.Wrapf(err, "open legacy state machine file %s", legacyName)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	imp := importer.New()
	for dec.More() {
		var rec wire.Record
		if err := dec.Decode(&rec); err != nil {
			return &stderrors.CorruptionError{Context: "legacy state machine file " + legacyName, Err: err}
		}
		if rec.Kind() == "StateMachineMeta" && rec.StateMachineMeta.Key == wire.MetaInitialized {
			continue // StateMachineMeta.Initialized: no longer used
		}
		if err := imp.Apply(rec); err != nil {
			return err
		}
	}

	level, err := imp.Commit()
	if err != nil {
		return err
	}

	staticLevels := store.NewStaticLeveledMap([]*store.LevelData{level})
	view := snapshot.New(staticLevels, 0)

	pending, err := snapStore.NewWriter()
	if err != nil {
		return err
	}
	if err := view.Export(wire.VersionTag(V002.String()), pending.WriteEntry); err != nil {
		return err
	}
	if _, _, err := pending.Commit(view.BuildSnapshotMeta().ID.String()); err != nil {
		return err
	}
	return nil
}

// v001RemoveLegacyStateMachineFiles deletes every legacy state-machine
// file. Safe to call even if none exist (a no-op), which is what makes
// resuming after a crash between removal steps safe to re-enter.
func (od *OnDisk) v001RemoveLegacyStateMachineFiles() error {
	entries, err := os.ReadDir(od.dir)
	if err != nil {
		return cockroacherrors.Wrap(err, "list data dir")
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), legacyStateMachinePrefix) {
			continue
		}
		if err := os.Remove(filepath.Join(od.dir, e.Name())); err != nil && !os.IsNotExist(err) {
			return cockroacherrors.Wrapf(err, "remove legacy state machine file %s", e.Name())
		}
	}
	return nil
}
