package store

import (
	"testing"

	"github.com/metakv/metakv/internal/kv"
)

func TestLeveledMapGetKVShadowsAcrossLevels(t *testing.T) {
	lm := NewLeveledMap()
	lm.SetKV("a", kv.NewNormal(1, nil, []byte("old")))

	lm, _ = lm.FreezeWritable()
	lm.SetKV("a", kv.NewNormal(2, nil, []byte("new")))
	lm.SetKV("b", kv.NewNormal(3, nil, []byte("b")))

	m, ok := lm.GetKV("a")
	if !ok || string(m.Value) != "new" {
		t.Fatalf("GetKV(a) should return the writable level's newer value, got %+v", m)
	}
	m, ok = lm.GetKV("b")
	if !ok || string(m.Value) != "b" {
		t.Fatalf("GetKV(b) = %+v, %v", m, ok)
	}
	if _, ok := lm.GetKV("missing"); ok {
		t.Fatalf("GetKV(missing) should miss")
	}
}

func TestLeveledMapFreezeWritablePreservesSeq(t *testing.T) {
	lm := NewLeveledMap()
	lm.Writable().Sys.UpdateSeq(5)

	next, frozen := lm.FreezeWritable()

	if next.Len() != 2 {
		t.Fatalf("FreezeWritable should add one new writable level, got Len()=%d", next.Len())
	}
	if frozen.Len() != 1 {
		t.Fatalf("frozen handle should carry exactly the levels that existed before freezing, got %d", frozen.Len())
	}
	if next.Writable().Sys.CurrSeq() != 5 {
		t.Fatalf("new writable level should continue the seq counter, got %d", next.Writable().Sys.CurrSeq())
	}

	next.Writable().Sys.UpdateSeq(50)
	if frozen.Newest().Sys.CurrSeq() != 5 {
		t.Fatalf("frozen handle's sys-data must not observe later writes, got %d", frozen.Newest().Sys.CurrSeq())
	}
}

func TestLeveledMapReplaceFrozenLevelsKeepsWritable(t *testing.T) {
	lm := NewLeveledMap()
	lm, frozen := lm.FreezeWritable()
	lm.SetKV("writable-key", kv.NewNormal(1, nil, []byte("w")))

	merged := frozen.Newest().NewLevel()
	merged.SetKV("merged-key", kv.NewNormal(2, nil, []byte("m")))

	replaced := lm.ReplaceFrozenLevels([]*LevelData{merged})
	if replaced.Len() != 2 {
		t.Fatalf("ReplaceFrozenLevels should keep exactly [merged, writable], got Len()=%d", replaced.Len())
	}
	if _, ok := replaced.GetKV("merged-key"); !ok {
		t.Fatalf("replaced stack should still see the merged level's key")
	}
	if _, ok := replaced.GetKV("writable-key"); !ok {
		t.Fatalf("ReplaceFrozenLevels must not disturb the writable level's own writes")
	}
}

func TestStaticLeveledMapNewestEmpty(t *testing.T) {
	s := NewStaticLeveledMap(nil)
	if s.Newest() != nil {
		t.Fatalf("Newest() on an empty StaticLeveledMap should be nil")
	}
	if s.Len() != 0 {
		t.Fatalf("Len() on an empty StaticLeveledMap should be 0")
	}
}
