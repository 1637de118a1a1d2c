package snapshot

import (
	"errors"
	"testing"

	"github.com/metakv/metakv/internal/kv"
	"github.com/metakv/metakv/internal/store"
	"github.com/metakv/metakv/internal/wire"
)

func buildFrozenStack(t *testing.T) *store.StaticLeveledMap {
	t.Helper()
	base := store.NewLevelData()
	base.SetKV("a", kv.NewNormal(1, nil, []byte("base-a")))
	base.SetKV("b", kv.NewNormal(2, nil, []byte("base-b")))
	base.Sys.UpdateSeq(2)
	base.Sys.SetLastApplied(kv.LogId{Term: 1, Index: 5})

	top := base.NewLevel()
	top.SetKV("a", kv.NewNormal(3, nil, []byte("top-a")))
	top.SetKV("c", kv.NewTombstone(4))

	return store.NewStaticLeveledMap([]*store.LevelData{base, top})
}

func TestViewKVCountIgnoresTombstones(t *testing.T) {
	v := New(buildFrozenStack(t), 0)
	if got := v.KVCount(); got != 2 {
		t.Fatalf("KVCount() = %d, want 2 (a, b; c is a tombstone)", got)
	}
}

func TestViewCompactMemLevelsDropsShadowedAndTombstoned(t *testing.T) {
	v := New(buildFrozenStack(t), 0)
	v.CompactMemLevels()

	if v.active().Len() != 1 {
		t.Fatalf("compacted view should collapse to a single level, got %d", v.active().Len())
	}
	if got := v.KVCount(); got != 2 {
		t.Fatalf("KVCount() after compaction = %d, want 2", got)
	}

	m, ok := v.active().Newest().GetKV("a")
	if !ok || string(m.Value) != "top-a" {
		t.Fatalf("compaction should keep the winning (top) value for a, got %+v", m)
	}
	if _, ok := v.active().Newest().GetKV("c"); ok {
		t.Fatalf("a tombstone with nothing underneath should vanish after compaction")
	}
}

func TestViewCompactMemLevelsNoopOnSingleLevel(t *testing.T) {
	l := store.NewLevelData()
	l.SetKV("a", kv.NewNormal(1, nil, []byte("a")))
	static := store.NewStaticLeveledMap([]*store.LevelData{l})

	v := New(static, 0)
	v.CompactMemLevels()
	if v.active() != static {
		t.Fatalf("CompactMemLevels on an already single-level view should be a no-op")
	}
}

func TestViewExportOrderAndContent(t *testing.T) {
	v := New(buildFrozenStack(t), 0)
	v.CompactMemLevels()

	var kinds []string
	var kvKeys []string
	err := v.Export("V003", func(r wire.Record) error {
		kinds = append(kinds, r.Kind())
		if r.GenericKV != nil {
			kvKeys = append(kvKeys, r.GenericKV.Key)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	if len(kinds) == 0 || kinds[0] != "DataHeader" {
		t.Fatalf("Export should emit DataHeader first, got %v", kinds)
	}
	if kinds[1] != "StateMachineMeta" {
		t.Fatalf("Export should emit last_applied right after the header, got %v", kinds)
	}

	wantKeys := []string{"a", "b"}
	if len(kvKeys) != len(wantKeys) {
		t.Fatalf("Export GenericKV keys = %v, want %v", kvKeys, wantKeys)
	}
	for i := range wantKeys {
		if kvKeys[i] != wantKeys[i] {
			t.Errorf("Export GenericKV keys = %v, want %v (must be in key order)", kvKeys, wantKeys)
			break
		}
	}
}

func TestViewExportStopsOnFirstError(t *testing.T) {
	v := New(buildFrozenStack(t), 0)
	boom := errors.New("boom")

	calls := 0
	err := v.Export("V003", func(r wire.Record) error {
		calls++
		return boom
	})
	if err != boom {
		t.Fatalf("Export should propagate the emit error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("Export should stop at the first failing emit, got %d calls", calls)
	}
}

func TestViewDiff(t *testing.T) {
	a := store.NewLevelData()
	a.SetKV("shared", kv.NewNormal(1, nil, []byte("v")))
	a.SetKV("only-a", kv.NewNormal(2, nil, []byte("v")))
	va := New(store.NewStaticLeveledMap([]*store.LevelData{a}), 0)

	b := store.NewLevelData()
	b.SetKV("shared", kv.NewNormal(1, nil, []byte("v")))
	b.SetKV("only-b", kv.NewNormal(2, nil, []byte("v")))
	vb := New(store.NewStaticLeveledMap([]*store.LevelData{b}), 0)

	onlyA, onlyB := va.Diff(vb)
	if len(onlyA) != 1 || onlyA[0] != "only-a" {
		t.Errorf("Diff onlyA = %v, want [only-a]", onlyA)
	}
	if len(onlyB) != 1 || onlyB[0] != "only-b" {
		t.Errorf("Diff onlyB = %v, want [only-b]", onlyB)
	}
}

func TestBuildSnapshotMetaReflectsLastApplied(t *testing.T) {
	v := New(buildFrozenStack(t), 3)
	meta := v.BuildSnapshotMeta()
	if meta.ID.Epoch != 3 {
		t.Errorf("Meta.ID.Epoch = %d, want 3", meta.ID.Epoch)
	}
	if meta.LastLogId == nil || meta.LastLogId.Index != 5 {
		t.Errorf("Meta.LastLogId = %+v, want Index 5", meta.LastLogId)
	}
	if meta.ID.String() == "" {
		t.Errorf("ID.String() should not be empty")
	}
}
