// Package snapshot builds a point-in-time, exportable view of a frozen
// leveled store: compacting away shadowed tombstones, then streaming the
// result out as a sequence of wire records in the fixed order the
// snapshot line protocol requires.
package snapshot

import (
	"fmt"

	"github.com/metakv/metakv/internal/kv"
	"github.com/metakv/metakv/internal/store"
	"github.com/metakv/metakv/internal/wire"
	"github.com/metakv/metakv/pkg/types"
)

// ID identifies one snapshot: the log id it was built at, plus a
// monotonic epoch distinguishing snapshots taken back-to-back with no
// intervening apply (which would otherwise share the same LastApplied).
type ID struct {
	LastApplied *kv.LogId
	Epoch       uint64
}

// String renders the id in the form used as a snapshot file's stem.
func (id ID) String() string {
	if id.LastApplied == nil {
		return fmt.Sprintf("none-%d", id.Epoch)
	}
	return fmt.Sprintf("%d-%d-%d", id.LastApplied.Term, id.LastApplied.Index, id.Epoch)
}

// Meta is the summary a caller needs before deciding whether/how to
// ship a snapshot, without walking its contents.
type Meta struct {
	ID             ID
	LastLogId      *kv.LogId
	LastMembership kv.StoredMembership
}

// View is a point-in-time, read-only projection of a frozen leveled
// store, built from the StaticLeveledMap handle FullSnapshotView()
// returns. It never observes writes made after it was built.
type View struct {
	original  *store.StaticLeveledMap
	compacted *store.StaticLeveledMap
	meta      Meta
}

// New builds a view over static, stamped with the given epoch.
func New(static *store.StaticLeveledMap, epoch uint64) *View {
	var lastApplied *kv.LogId
	var lastMembership kv.StoredMembership
	if newest := static.Newest(); newest != nil {
		lastApplied = newest.Sys.LastApplied()
		lastMembership = newest.Sys.LastMembership()
	}
	return &View{
		original: static,
		meta: Meta{
			ID:             ID{LastApplied: lastApplied, Epoch: epoch},
			LastLogId:      lastApplied,
			LastMembership: lastMembership,
		},
	}
}

// BuildSnapshotMeta returns the summary metadata for this view.
func (v *View) BuildSnapshotMeta() Meta { return v.meta }

func (v *View) active() *store.StaticLeveledMap {
	if v.compacted != nil {
		return v.compacted
	}
	return v.original
}

// CompactMemLevels k-way-merges every frozen level in the view into one
// fresh level, dropping tombstones and any key whose newest version is a
// tombstone. Subsequent calls to Export/KVCount/ExpireCount/Diff use the
// compacted copy; the original stack is left untouched and still
// reachable for debugging. A view with a single level is already
// maximally compact and this is a no-op.
func (v *View) CompactMemLevels() *View {
	if v.original.Len() <= 1 {
		return v
	}

	newest := v.original.Newest()
	merged := newest.NewLevel()

	it := v.original.Range("")
	for it.Valid() {
		key, m := it.Entry()
		if !m.IsTombStone() {
			merged.SetKV(key, m)
		}
		if !it.Next() {
			break
		}
	}
	it.Close()

	eit := v.original.RangeExpire(types.ExpireKey{})
	for eit.Valid() {
		ek, slot := eit.Entry()
		if !slot.Tombstone {
			merged.SetExpire(ek, slot)
		}
		if !eit.Next() {
			break
		}
	}
	eit.Close()

	v.compacted = store.NewStaticLeveledMap([]*store.LevelData{merged})
	return v
}

// KVCount returns the number of live keys in the view's active copy.
func (v *View) KVCount() int {
	n := 0
	it := v.active().Range("")
	defer it.Close()
	for it.Valid() {
		if _, m := it.Entry(); !m.IsTombStone() {
			n++
		}
		if !it.Next() {
			break
		}
	}
	return n
}

// ExpireCount returns the number of live expiration entries in the
// view's active copy.
func (v *View) ExpireCount() int {
	n := 0
	it := v.active().RangeExpire(types.ExpireKey{})
	defer it.Close()
	for it.Valid() {
		if _, slot := it.Entry(); !slot.Tombstone {
			n++
		}
		if !it.Next() {
			break
		}
	}
	return n
}

// Diff reports keys present (live) in exactly one of v and other's
// active copies. Intended for round-trip verification in tests, not
// the production export path: it materializes both key sets.
func (v *View) Diff(other *View) (onlyA, onlyB []kv.Key) {
	a := liveKeySet(v.active())
	b := liveKeySet(other.active())
	for k := range a {
		if _, ok := b[k]; !ok {
			onlyA = append(onlyA, k)
		}
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			onlyB = append(onlyB, k)
		}
	}
	return onlyA, onlyB
}

func liveKeySet(static *store.StaticLeveledMap) map[kv.Key]struct{} {
	out := map[kv.Key]struct{}{}
	it := static.Range("")
	defer it.Close()
	for it.Valid() {
		if key, m := it.Entry(); !m.IsTombStone() {
			out[key] = struct{}{}
		}
		if !it.Next() {
			break
		}
	}
	return out
}

// Export streams the view's active copy as wire records in the fixed
// order the line protocol requires: header, last_applied, last_membership,
// seq counter, nodes, live kv pairs in key order, live expiry pairs in
// ExpireKey order. emit is called once per record; Export stops and
// returns the first error emit produces.
func (v *View) Export(headerVersion wire.VersionTag, emit func(wire.Record) error) error {
	if err := emit(wire.Record{DataHeader: &wire.DataHeaderRecord{
		Key:   "header",
		Value: wire.HeaderValue{Version: headerVersion},
	}}); err != nil {
		return err
	}

	static := v.active()
	newest := static.Newest()
	if newest == nil {
		return nil
	}

	if la := newest.Sys.LastApplied(); la != nil {
		if err := emitStateMachineMeta(emit, wire.MetaLastApplied, la); err != nil {
			return err
		}
	}
	if err := emitStateMachineMeta(emit, wire.MetaLastMembership, newest.Sys.LastMembership()); err != nil {
		return err
	}

	if err := emit(wire.Record{Sequences: &wire.SequencesRecord{
		Key: wire.SequencesTag, Value: newest.Sys.CurrSeq(),
	}}); err != nil {
		return err
	}

	for id, n := range newest.Sys.Nodes() {
		if err := emit(wire.Record{Nodes: &wire.NodeRecord{
			Key:   fmt.Sprintf("%d", id),
			Value: wire.NodeVal{Name: n.Name, Endpoint: n.Endpoint, Labels: n.Labels},
		}}); err != nil {
			return err
		}
	}

	kit := static.Range("")
	for kit.Valid() {
		key, m := kit.Entry()
		if !m.IsTombStone() {
			var meta *wire.MetaValWire
			if m.Meta.HasExpiry() {
				meta = &wire.MetaValWire{ExpireAtMs: m.Meta.ExpireAtMs}
			}
			if err := emit(wire.Record{GenericKV: &wire.GenericKVRecord{
				Key:   key,
				Value: wire.GenericKVVal{Seq: m.InternalSeq, Meta: meta, Data: m.Value},
			}}); err != nil {
				kit.Close()
				return err
			}
		}
		if !kit.Next() {
			break
		}
	}
	kit.Close()

	eit := static.RangeExpire(types.ExpireKey{})
	for eit.Valid() {
		ek, slot := eit.Entry()
		if !slot.Tombstone {
			if err := emit(wire.Record{Expire: &wire.ExpireRecord{
				Key:   wire.ExpireKeyWire{TimeMs: ek.TimeMs, Seq: ek.Seq},
				Value: wire.ExpireValWire{Key: slot.Key, Seq: ek.Seq},
			}}); err != nil {
				eit.Close()
				return err
			}
		}
		if !eit.Next() {
			break
		}
	}
	eit.Close()

	return nil
}

func emitStateMachineMeta(emit func(wire.Record) error, key wire.StateMachineMetaKind, value any) error {
	data, err := marshalMeta(value)
	if err != nil {
		return err
	}
	return emit(wire.Record{StateMachineMeta: &wire.StateMachineMetaRecord{Key: key, Value: data}})
}
