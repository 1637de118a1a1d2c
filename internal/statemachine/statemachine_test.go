package statemachine

import (
	"testing"

	"github.com/metakv/metakv/internal/apply"
	"github.com/metakv/metakv/internal/kv"
	"github.com/metakv/metakv/internal/store"
	"github.com/metakv/metakv/pkg/types"
)

func TestUpsertKVUpdateThenDelete(t *testing.T) {
	sm := New(apply.NopSubscriber{}, nil)

	req := kv.NewUpsertKV("k", kv.MatchAny(), kv.Update([]byte("v1")), nil)
	prev, result, changed := sm.UpsertKV(req)
	if !changed || prev.IsSome() || string(result.Data) != "v1" {
		t.Fatalf("first write: prev=%+v result=%+v changed=%v", prev, result, changed)
	}

	del := kv.UpsertDelete("k")
	prev, result, changed = sm.UpsertKV(del)
	if !changed || string(prev.Data) != "v1" || result.IsSome() {
		t.Fatalf("delete: prev=%+v result=%+v changed=%v", prev, result, changed)
	}
	if _, ok := sm.GetKV("k"); ok {
		t.Fatalf("GetKV should miss a deleted key")
	}
}

func TestUpsertKVMatchSeqGatesWrite(t *testing.T) {
	sm := New(apply.NopSubscriber{}, nil)

	req := kv.NewUpsertKV("k", kv.MatchExact(1), kv.Update([]byte("v")), nil)
	_, _, changed := sm.UpsertKV(req)
	if changed {
		t.Fatalf("MatchExact(1) against an absent key (seq 0) must fail")
	}

	req = kv.NewUpsertKV("k", kv.MatchExact(0), kv.Update([]byte("v1")), nil)
	_, _, changed = sm.UpsertKV(req)
	if !changed {
		t.Fatalf("MatchExact(0) against an absent key must succeed")
	}

	badMatch := kv.NewUpsertKV("k", kv.MatchExact(999), kv.Update([]byte("v2")), nil)
	_, _, changed = sm.UpsertKV(badMatch)
	if changed {
		t.Fatalf("MatchExact against the wrong seq must fail")
	}
	v, _ := sm.GetKV("k")
	if string(v.Data) != "v1" {
		t.Fatalf("a rejected conditional write must not change the stored value, got %+v", v)
	}
}

func TestUpsertKVAsIsNoopOnAbsentKey(t *testing.T) {
	sm := New(apply.NopSubscriber{}, nil)
	req := kv.NewUpsertKV("missing", kv.MatchAny(), kv.AsIs(), nil)
	_, _, changed := sm.UpsertKV(req)
	if changed {
		t.Fatalf("AsIs against an absent key must be a true no-op")
	}
}

func TestUpsertKVAsIsRefreshesTTLOnly(t *testing.T) {
	sm := New(apply.NopSubscriber{}, nil)
	req := kv.NewUpsertKV("k", kv.MatchAny(), kv.Update([]byte("v")), &kv.ValueMeta{ExpireAtMs: 100})
	sm.UpsertKV(req)

	touch := kv.NewUpsertKV("k", kv.MatchAny(), kv.AsIs(), &kv.ValueMeta{ExpireAtMs: 200})
	_, result, changed := sm.UpsertKV(touch)
	if !changed || string(result.Data) != "v" || result.Meta.ExpireAtMs != 200 {
		t.Fatalf("AsIs should keep the payload and refresh the meta, got %+v", result)
	}
}

func TestFullSnapshotViewFreezesThenContinuesWriting(t *testing.T) {
	sm := New(apply.NopSubscriber{}, nil)
	req := kv.NewUpsertKV("a", kv.MatchAny(), kv.Update([]byte("1")), nil)
	sm.UpsertKV(req)

	view := sm.FullSnapshotView()
	if view.Len() != 1 {
		t.Fatalf("view should have exactly the one level that existed at freeze time, got %d", view.Len())
	}

	req2 := kv.NewUpsertKV("b", kv.MatchAny(), kv.Update([]byte("2")), nil)
	sm.UpsertKV(req2)

	if _, ok := sm.GetKV("b"); !ok {
		t.Fatalf("writes after FullSnapshotView must still land")
	}

	m, ok := view.Newest().GetKV("b")
	_ = m
	if ok {
		t.Fatalf("a frozen view must never observe writes made after it was taken")
	}
}

func TestReplaceRefusesOlderSnapshot(t *testing.T) {
	sm := New(apply.NopSubscriber{}, nil)
	sm.SetLastApplied(kv.LogId{Term: 1, Index: 10})

	older := store.NewLeveledMap()
	older.Writable().Sys.SetLastApplied(kv.LogId{Term: 1, Index: 5})
	sm.Replace(older)

	if sm.LastApplied().Index != 10 {
		t.Fatalf("Replace must refuse a snapshot that is not newer, last_applied = %+v", sm.LastApplied())
	}
}

func TestReplaceAcceptsNewerSnapshotAndResetsExpireCursor(t *testing.T) {
	sm := New(apply.NopSubscriber{}, nil)
	sm.UpdateExpireCursor(types.ExpireKey{TimeMs: 500, Seq: 1})

	newer := store.NewLeveledMap()
	newer.Writable().Sys.SetLastApplied(kv.LogId{Term: 2, Index: 1})
	newer.SetKV("k", kv.NewNormal(1, nil, []byte("v")))
	sm.Replace(newer)

	if sm.LastApplied() == nil || sm.LastApplied().Index != 1 || sm.LastApplied().Term != 2 {
		t.Fatalf("Replace should install the newer snapshot's last_applied, got %+v", sm.LastApplied())
	}
	if v, ok := sm.GetKV("k"); !ok || string(v.Data) != "v" {
		t.Fatalf("Replace should install the newer snapshot's data, got %+v", v)
	}
	if got := sm.ExpireCursor(); got != (types.ExpireKey{}) {
		t.Fatalf("Replace should reset the expire cursor, got %+v", got)
	}
}

func TestUpdateExpireCursorIgnoresRegression(t *testing.T) {
	sm := New(apply.NopSubscriber{}, nil)
	sm.UpdateExpireCursor(types.ExpireKey{TimeMs: 100, Seq: 1})
	sm.UpdateExpireCursor(types.ExpireKey{TimeMs: 50, Seq: 1})
	if got := sm.ExpireCursor(); got.TimeMs != 100 {
		t.Fatalf("expire cursor must never move backwards, got %+v", got)
	}
}

func TestReplaceBaseKeepsWritableLevel(t *testing.T) {
	sm := New(apply.NopSubscriber{}, nil)
	view := sm.FullSnapshotView()

	req := kv.NewUpsertKV("writable-key", kv.MatchAny(), kv.Update([]byte("w")), nil)
	sm.UpsertKV(req)

	merged := view.Newest().NewLevel()
	merged.SetKV("merged-key", kv.NewNormal(1, nil, []byte("m")))

	sm.ReplaceBase([]*store.LevelData{merged})

	if _, ok := sm.GetKV("merged-key"); !ok {
		t.Fatalf("ReplaceBase should install the compacted base level")
	}
	if _, ok := sm.GetKV("writable-key"); !ok {
		t.Fatalf("ReplaceBase must not disturb the writable level's own writes")
	}
}

func TestPrefixKeysOrderedAndLiveOnly(t *testing.T) {
	sm := New(apply.NopSubscriber{}, nil)
	for _, k := range []kv.Key{"p/b", "p/a", "other"} {
		req := kv.NewUpsertKV(k, kv.MatchAny(), kv.Update([]byte("v")), nil)
		sm.UpsertKV(req)
	}
	sm.UpsertKV(kv.UpsertDelete("p/b"))

	keys := sm.PrefixKeys("p/")
	if len(keys) != 1 || keys[0] != "p/a" {
		t.Fatalf("PrefixKeys(p/) = %v, want [p/a]", keys)
	}
}
