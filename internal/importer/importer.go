// Package importer folds a stream of wire records — as produced by
// internal/snapshot's Export or read back from internal/snapshotstore —
// into a fresh store.LevelData, the shape install-snapshot and the
// on-disk V001->V002 upgrade both need.
package importer

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/metakv/metakv/internal/kv"
	"github.com/metakv/metakv/internal/store"
	"github.com/metakv/metakv/internal/wire"
	stderrors "github.com/metakv/metakv/pkg/errors"
	"github.com/metakv/metakv/pkg/types"
)

// Importer accumulates records into a single fresh level. It is not
// safe for concurrent use; a caller replays one stream through one
// Importer from start to Commit.
type Importer struct {
	level       *store.LevelData
	greatestSeq uint64
}

// New builds an importer over a brand new, empty level.
func New() *Importer {
	return &Importer{level: store.NewLevelData()}
}

// Apply folds one record into the importer's level. Records that are
// not state-machine data (DataHeader, Logs, LogMeta, RaftStateKV) are
// silently ignored, matching spec'd importer behavior.
func (im *Importer) Apply(rec wire.Record) error {
	switch rec.Kind() {
	case "DataHeader", "Logs", "LogMeta", "RaftStateKV", "":
		return nil

	case "Nodes":
		id, err := strconv.ParseUint(rec.Nodes.Key, 10, 64)
		if err != nil {
			return &stderrors.CorruptionError{Context: "importer: Nodes record", Err: err}
		}
		im.level.Sys.SetNode(kv.NodeId(id), kv.Node{
			Name: rec.Nodes.Value.Name, Endpoint: rec.Nodes.Value.Endpoint, Labels: rec.Nodes.Value.Labels,
		})
		return nil

	case "StateMachineMeta":
		return im.applyStateMachineMeta(*rec.StateMachineMeta)

	case "Sequences":
		im.level.Sys.UpdateSeq(rec.Sequences.Value)
		return nil

	case "Expire":
		seq := rec.Expire.Value.Seq
		if seq == 0 {
			seq = 1 // legacy compatibility: pre-seq-tagged expire entries
		}
		if seq > im.greatestSeq {
			im.greatestSeq = seq
		}
		ek := types.ExpireKey{TimeMs: rec.Expire.Key.TimeMs, Seq: rec.Expire.Key.Seq}
		im.level.SetExpire(ek, kv.NewExpireSlot(rec.Expire.Value.Key))
		return nil

	case "GenericKV":
		if rec.GenericKV.Value.Seq > im.greatestSeq {
			im.greatestSeq = rec.GenericKV.Value.Seq
		}
		var meta *kv.ValueMeta
		if rec.GenericKV.Value.Meta != nil {
			meta = &kv.ValueMeta{ExpireAtMs: rec.GenericKV.Value.Meta.ExpireAtMs}
		}
		im.level.SetKV(rec.GenericKV.Key, kv.NewNormal(rec.GenericKV.Value.Seq, meta, rec.GenericKV.Value.Data))
		return nil

	case "ClientLastResps":
		return &stderrors.UnsupportedError{What: "ClientLastResps records are not supported; drop the client-response table before importing"}

	default:
		return &stderrors.CorruptionError{Context: "importer", Err: fmt.Errorf("unrecognized record kind %q on snapshot stream", rec.Kind())}
	}
}

func (im *Importer) applyStateMachineMeta(rec wire.StateMachineMetaRecord) error {
	switch rec.Key {
	case wire.MetaLastApplied:
		var id kv.LogId
		if err := json.Unmarshal(rec.Value, &id); err != nil {
			return &stderrors.CorruptionError{Context: "importer: StateMachineMeta LastApplied", Err: err}
		}
		im.level.Sys.SetLastApplied(id)
		return nil
	case wire.MetaLastMembership:
		var m kv.StoredMembership
		if err := json.Unmarshal(rec.Value, &m); err != nil {
			return &stderrors.CorruptionError{Context: "importer: StateMachineMeta LastMembership", Err: err}
		}
		im.level.Sys.SetLastMembership(m)
		return nil
	case wire.MetaInitialized:
		return nil // discarded, legacy
	default:
		return &stderrors.CorruptionError{Context: "importer", Err: fmt.Errorf("unrecognized StateMachineMeta key %q", rec.Key)}
	}
}

// Commit finalizes the import, asserting invariant 6 (the greatest seq
// observed across every record never exceeds the restored seq counter,
// or a later write could reuse a seq already seen on disk) and returns
// the fully-populated level.
func (im *Importer) Commit() (*store.LevelData, error) {
	if im.greatestSeq > im.level.Sys.CurrSeq() {
		return nil, &stderrors.CorruptionError{
			Context: "importer commit",
			Err:     fmt.Errorf("greatest observed seq %d exceeds restored seq counter %d", im.greatestSeq, im.level.Sys.CurrSeq()),
		}
	}
	return im.level, nil
}
