package statemachine

import (
	"github.com/metakv/metakv/internal/kv"
	"github.com/metakv/metakv/internal/store"
	"github.com/metakv/metakv/pkg/types"
)

// UpsertKV performs one conditional write: it checks req.Seq against the
// key's current seq (treating a tombstone or absent key as seq 0), and if
// satisfied, performs req.Value against the writable level and maintains
// the expiration index to match. Every write that actually lands --
// including a delete of a key that did not previously exist -- consumes a
// fresh seq, which is what lets a tombstone at one level correctly shadow
// a value at an older level.
func (sm *StateMachine) UpsertKV(req kv.UpsertKV) (prev kv.SeqV, result kv.SeqV, changed bool) {
	writable := sm.Levels().Writable()

	current, exists := sm.Levels().GetKV(req.Key)
	currentSeq := uint64(0)
	if exists && !current.IsTombStone() {
		currentSeq = current.InternalSeq
	}

	if !req.Seq.Match(currentSeq) {
		unchanged := kv.SeqV{}
		if currentSeq != 0 {
			unchanged = current.ToSeqV()
		}
		return unchanged, unchanged, false
	}

	data, meta, isDelete, noop := planWrite(req, current, exists)
	if noop {
		return kv.SeqV{}, kv.SeqV{}, false
	}

	newMarked := sm.writeKV(writable, req.Key, data, meta, isDelete)
	sm.applyExpireDelta(writable, req.Key, current, exists, newMarked)
	newMarked = sm.applyLegacyExpiredOnWrite(writable, req.Key, newMarked)

	prevSeqV := kv.SeqV{}
	if exists && !current.IsTombStone() {
		prevSeqV = current.ToSeqV()
	}
	return prevSeqV, newMarked.ToSeqV(), true
}

// planWrite decides what the write should produce without consuming a
// seq yet: the payload and metadata for Update/AsIs, or that this is a
// Delete, or that Operation::AsIs against an absent key is a true no-op.
func planWrite(req kv.UpsertKV, current kv.Marked, exists bool) (data []byte, meta *kv.ValueMeta, isDelete bool, noop bool) {
	switch req.Value.Kind {
	case kv.OpUpdate:
		return req.Value.Data, req.ValueMeta, false, false
	case kv.OpDelete:
		return nil, nil, true, false
	case kv.OpAsIs:
		if !exists || current.IsTombStone() {
			return nil, nil, false, true
		}
		m := req.ValueMeta
		if m == nil {
			m = current.Meta
		}
		return current.Value, m, false, false
	default:
		return nil, nil, true, false
	}
}

// writeKV consumes the next seq and installs the resulting Marked entry
// at the writable level.
func (sm *StateMachine) writeKV(writable *store.LevelData, key kv.Key, data []byte, meta *kv.ValueMeta, isDelete bool) kv.Marked {
	seq := writable.Sys.NextSeq()
	var m kv.Marked
	if isDelete {
		m = kv.NewTombstone(seq)
	} else {
		m = kv.NewNormal(seq, meta, data)
	}
	writable.SetKV(key, m)
	return m
}

// applyExpireDelta tombstones the expiry slot the previous value occupied
// (if it had a TTL) and installs a new live slot for the new value (if it
// has one). A key's write always gets a brand new seq, so the old and new
// expiry keys never collide; there is nothing to skip.
func (sm *StateMachine) applyExpireDelta(writable *store.LevelData, key kv.Key, current kv.Marked, exists bool, newMarked kv.Marked) {
	if exists && !current.IsTombStone() && current.Meta.HasExpiry() {
		sm.tombstoneExpireSlot(writable, types.ExpireKey{TimeMs: current.Meta.ExpireAtMs, Seq: current.InternalSeq})
	}
	if !newMarked.IsTombStone() && newMarked.Meta.HasExpiry() {
		writable.SetExpire(types.ExpireKey{TimeMs: newMarked.Meta.ExpireAtMs, Seq: newMarked.InternalSeq}, kv.NewExpireSlot(key))
	}
}

func (sm *StateMachine) tombstoneExpireSlot(writable *store.LevelData, ek types.ExpireKey) {
	writable.SetExpire(ek, kv.NewExpireTombstone())
}

// applyLegacyExpiredOnWrite re-deletes a value whose TTL already falls
// before the current sweep cursor, immediately instead of waiting for the
// next sweep pass to find it. The value is still written first, consuming
// its own seq, and the tombstone is written on top with the next one; the
// caller gets back only the tombstone, so a change subscriber sees a
// single prev -> deleted change. Kept only for compatibility with state
// machines that predate an expire-on-write check.
func (sm *StateMachine) applyLegacyExpiredOnWrite(writable *store.LevelData, key kv.Key, newMarked kv.Marked) kv.Marked {
	if newMarked.IsTombStone() || !newMarked.Meta.HasExpiry() {
		return newMarked
	}
	cursor := sm.ExpireCursor()
	if newMarked.Meta.ExpireAtMs >= cursor.TimeMs {
		return newMarked
	}

	tomb := sm.writeKV(writable, key, nil, nil, true)
	sm.tombstoneExpireSlot(writable, types.ExpireKey{TimeMs: newMarked.Meta.ExpireAtMs, Seq: newMarked.InternalSeq})
	return tomb
}
