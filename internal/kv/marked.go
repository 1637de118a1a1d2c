package kv

// Marked is the internal representation of a primary-index slot: either a
// live value at a given internal sequence, or a tombstone that still
// occupies that sequence. Keeping tombstones as first-class entries (rather
// than deleting the map slot outright) is what lets a frozen, read-only
// level shadow an older level's value for the same key: the newest level
// always wins during a range merge, tombstone or not.
type Marked struct {
	// InternalSeq is 0 only for the zero value of Marked; every
	// constructed Marked (normal or tombstone) carries the seq that was
	// consumed to produce it.
	InternalSeq uint64
	Tombstone   bool
	Meta        *ValueMeta
	Value       []byte
}

// NewNormal builds a live Marked entry.
func NewNormal(seq uint64, meta *ValueMeta, value []byte) Marked {
	return Marked{InternalSeq: seq, Meta: meta, Value: value}
}

// NewTombstone builds a Marked entry that records a deletion at seq.
func NewTombstone(seq uint64) Marked {
	return Marked{InternalSeq: seq, Tombstone: true}
}

// IsTombStone reports whether this slot represents a deletion.
func (m Marked) IsTombStone() bool { return m.Tombstone }

// Exists reports whether this slot was ever written (as opposed to the
// zero value representing "never seen").
func (m Marked) Exists() bool { return m.InternalSeq != 0 }

// ExpireSlot is the value half of the expiration index: which key expires
// at this ExpireKey, or a tombstone recording that a write superseded this
// particular (time_ms, seq) instant. Tombstones are needed here for the
// same reason they are needed in the primary index: a writable level
// cannot physically remove an entry that actually lives in an older frozen
// level, so superseding it is recorded as a new, shadowing slot instead.
type ExpireSlot struct {
	Tombstone bool
	Key       Key
}

// NewExpireSlot builds a live expiration slot pointing at key.
func NewExpireSlot(key Key) ExpireSlot { return ExpireSlot{Key: key} }

// NewExpireTombstone builds a slot that shadows an older level's entry.
func NewExpireTombstone() ExpireSlot { return ExpireSlot{Tombstone: true} }

// ToSeqV converts an internal Marked entry into the external SeqV shape,
// collapsing tombstones to the "no value" sentinel (Seq == 0).
func (m Marked) ToSeqV() SeqV {
	if !m.Exists() || m.Tombstone {
		return SeqV{}
	}
	return SeqV{Seq: m.InternalSeq, Meta: m.Meta, Data: m.Value}
}
