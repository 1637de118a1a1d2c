package store

import (
	"testing"

	"github.com/metakv/metakv/internal/kv"
	"github.com/metakv/metakv/pkg/types"
)

func TestLevelDataGetSetKV(t *testing.T) {
	l := NewLevelData()

	if _, ok := l.GetKV("missing"); ok {
		t.Fatalf("GetKV on empty level should miss")
	}

	l.SetKV("a", kv.NewNormal(1, nil, []byte("v1")))
	m, ok := l.GetKV("a")
	if !ok || m.Value == nil || string(m.Value) != "v1" {
		t.Fatalf("GetKV(a) = %+v, %v", m, ok)
	}

	l.SetKV("a", kv.NewNormal(2, nil, []byte("v2")))
	m, ok = l.GetKV("a")
	if !ok || string(m.Value) != "v2" {
		t.Fatalf("SetKV should overwrite within a level, got %+v", m)
	}
}

func TestLevelDataNewLevelClonesSysData(t *testing.T) {
	l := NewLevelData()
	l.Sys.UpdateSeq(9)
	id := kv.LogId{Term: 1, Index: 2}
	l.Sys.SetLastApplied(id)

	next := l.NewLevel()
	if next.Sys.CurrSeq() != 9 {
		t.Fatalf("NewLevel should carry seq forward, got %d", next.Sys.CurrSeq())
	}
	if next.Sys.LastApplied() == nil || *next.Sys.LastApplied() != id {
		t.Fatalf("NewLevel should carry last_applied forward")
	}
	if _, ok := next.GetKV("anything"); ok {
		t.Fatalf("NewLevel should start with an empty kv index")
	}

	next.Sys.UpdateSeq(100)
	if l.Sys.CurrSeq() != 9 {
		t.Fatalf("cloned sys-data must be independent of the original")
	}
}

func TestLevelDataKVCursorOrdersByKey(t *testing.T) {
	l := NewLevelData()
	l.SetKV("b", kv.NewNormal(1, nil, []byte("b")))
	l.SetKV("a", kv.NewNormal(2, nil, []byte("a")))
	l.SetKV("c", kv.NewNormal(3, nil, []byte("c")))

	c := l.KVCursor("")
	defer c.Close()

	var gotKeys []string
	for c.Valid() {
		k, _ := l.KVAt(c)
		gotKeys = append(gotKeys, string(k))
		if !c.Next() {
			break
		}
	}
	want := []string{"a", "b", "c"}
	if len(gotKeys) != len(want) {
		t.Fatalf("KVCursor order = %v, want %v", gotKeys, want)
	}
	for i := range want {
		if gotKeys[i] != want[i] {
			t.Errorf("KVCursor order = %v, want %v", gotKeys, want)
			break
		}
	}
}

func TestLevelDataExpireIndex(t *testing.T) {
	l := NewLevelData()
	ek := types.ExpireKey{TimeMs: 100, Seq: 1}
	if _, ok := l.GetExpire(ek); ok {
		t.Fatalf("GetExpire on empty level should miss")
	}

	l.SetExpire(ek, kv.NewExpireSlot("k"))
	slot, ok := l.GetExpire(ek)
	if !ok || slot.Tombstone || slot.Key != "k" {
		t.Fatalf("GetExpire = %+v, %v", slot, ok)
	}

	c := l.ExpireCursor(types.ExpireKey{})
	defer c.Close()
	if !c.Valid() {
		t.Fatalf("ExpireCursor should find the written slot")
	}
	gotEK, gotSlot := l.ExpireAt(c)
	if gotEK != ek || gotSlot.Key != "k" {
		t.Errorf("ExpireAt = %+v %+v, want %+v", gotEK, gotSlot, ek)
	}
}
