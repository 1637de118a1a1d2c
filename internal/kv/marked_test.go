package kv

import "testing"

func TestMarkedToSeqV(t *testing.T) {
	t.Run("zero value has no seq", func(t *testing.T) {
		var m Marked
		if m.Exists() {
			t.Fatalf("zero Marked should not Exists()")
		}
		if got := m.ToSeqV(); got.IsSome() {
			t.Errorf("zero Marked.ToSeqV() = %+v, want none", got)
		}
	})

	t.Run("tombstone collapses to none", func(t *testing.T) {
		m := NewTombstone(3)
		if !m.IsTombStone() || !m.Exists() {
			t.Fatalf("tombstone should exist and report IsTombStone")
		}
		if got := m.ToSeqV(); got.IsSome() {
			t.Errorf("tombstone.ToSeqV() = %+v, want none", got)
		}
	})

	t.Run("normal value round-trips", func(t *testing.T) {
		meta := &ValueMeta{ExpireAtMs: 42}
		m := NewNormal(5, meta, []byte("hi"))
		got := m.ToSeqV()
		if got.Seq != 5 || string(got.Data) != "hi" || got.Meta != meta {
			t.Errorf("NewNormal().ToSeqV() = %+v", got)
		}
	})
}

func TestValueMetaHasExpiry(t *testing.T) {
	var nilMeta *ValueMeta
	if nilMeta.HasExpiry() {
		t.Errorf("nil ValueMeta must not have expiry")
	}
	if (&ValueMeta{ExpireAtMs: 0}).HasExpiry() {
		t.Errorf("ExpireAtMs == 0 means no TTL")
	}
	if !(&ValueMeta{ExpireAtMs: 1}).HasExpiry() {
		t.Errorf("ExpireAtMs > 0 means a TTL is set")
	}
}

func TestExpireSlotTombstone(t *testing.T) {
	slot := NewExpireSlot("k")
	if slot.Tombstone || slot.Key != "k" {
		t.Errorf("NewExpireSlot() = %+v", slot)
	}
	tomb := NewExpireTombstone()
	if !tomb.Tombstone {
		t.Errorf("NewExpireTombstone() should be a tombstone")
	}
}
