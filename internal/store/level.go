package store

import (
	"sync"

	"github.com/metakv/metakv/pkg/btree"
	"github.com/metakv/metakv/pkg/types"

	"github.com/metakv/metakv/internal/kv"
)

// btreeOrder mirrors the branching factor the teacher's btree package was
// tuned with; it has no externally visible effect beyond tree shape.
const btreeOrder = 32

// LevelData is one layer of the leveled store: a primary index (key ->
// Marked), a secondary expiration index (ExpireKey -> key), and the
// sys-data metadata that travels with it. The btree indexes only ever
// store an int64; the actual values live in an append-only arena so that
// the teacher's unmodified, latch-crabbing btree implementation can back a
// value type it was never written to hold.
type LevelData struct {
	kvIndex *btree.BPlusTree
	kvArena []kv.Marked
	kvMu    sync.RWMutex

	expireIndex *btree.BPlusTree
	expireArena []kv.ExpireSlot
	expireMu    sync.RWMutex

	Sys *SysData
}

// NewLevelData builds an empty, writable level.
func NewLevelData() *LevelData {
	return &LevelData{
		kvIndex:     btree.NewUniqueTree(btreeOrder),
		expireIndex: btree.NewUniqueTree(btreeOrder),
		Sys:         NewSysData(),
	}
}

// NewLevel returns a fresh, empty-index level that continues l's sys-data
// (seq counter, last_applied, last_membership, nodes). Used both when
// freezing the writable level to create the next writable layer, and by
// compaction to build a replacement merged layer: in both cases the new
// level represents "everything l represented, as of now", just with a
// clean kv/expire index to write (or merge) into.
func (l *LevelData) NewLevel() *LevelData {
	return &LevelData{
		kvIndex:     btree.NewUniqueTree(btreeOrder),
		expireIndex: btree.NewUniqueTree(btreeOrder),
		Sys:         l.Sys.Clone(),
	}
}

// GetKV looks up a key's Marked slot, including tombstones. ok is false
// only if the key was never written at this level.
func (l *LevelData) GetKV(key kv.Key) (kv.Marked, bool) {
	idx, found := l.kvIndex.Get(types.VarcharKey(key))
	if !found {
		return kv.Marked{}, false
	}
	l.kvMu.RLock()
	defer l.kvMu.RUnlock()
	return l.kvArena[idx], true
}

// SetKV writes (or overwrites) a key's Marked slot at this level.
func (l *LevelData) SetKV(key kv.Key, m kv.Marked) {
	l.kvMu.Lock()
	idx := int64(len(l.kvArena))
	l.kvArena = append(l.kvArena, m)
	l.kvMu.Unlock()
	// Replace always forces the write regardless of the tree's
	// uniqueness setting, matching "one Marked slot per key per level".
	_ = l.kvIndex.Replace(types.VarcharKey(key), idx)
}

// KVCursor returns a cursor over this level's primary index ordered by key,
// optionally seeked to the first key >= from (from == "" means start).
func (l *LevelData) KVCursor(from kv.Key) *Cursor {
	c := &Cursor{tree: l.kvIndex}
	if from == "" {
		c.Seek(nil)
	} else {
		c.Seek(types.VarcharKey(from))
	}
	return c
}

// KVAt resolves a cursor position to (key, Marked).
func (l *LevelData) KVAt(c *Cursor) (kv.Key, kv.Marked) {
	key := kv.Key(c.Key().(types.VarcharKey))
	l.kvMu.RLock()
	defer l.kvMu.RUnlock()
	return key, l.kvArena[c.Value()]
}

// GetExpire looks up the slot stored for ek at this level.
func (l *LevelData) GetExpire(ek types.ExpireKey) (kv.ExpireSlot, bool) {
	idx, found := l.expireIndex.Get(ek)
	if !found {
		return kv.ExpireSlot{}, false
	}
	l.expireMu.RLock()
	defer l.expireMu.RUnlock()
	return l.expireArena[idx], true
}

// SetExpire writes a slot (live or tombstone) for ek at this level.
func (l *LevelData) SetExpire(ek types.ExpireKey, slot kv.ExpireSlot) {
	l.expireMu.Lock()
	idx := int64(len(l.expireArena))
	l.expireArena = append(l.expireArena, slot)
	l.expireMu.Unlock()
	_ = l.expireIndex.Replace(ek, idx)
}

// ExpireCursor returns a cursor over the expiration index starting at or
// after from.
func (l *LevelData) ExpireCursor(from types.ExpireKey) *Cursor {
	c := &Cursor{tree: l.expireIndex}
	c.Seek(from)
	return c
}

// ExpireAt resolves a cursor position to (ExpireKey, ExpireSlot).
func (l *LevelData) ExpireAt(c *Cursor) (types.ExpireKey, kv.ExpireSlot) {
	ek := c.Key().(types.ExpireKey)
	l.expireMu.RLock()
	defer l.expireMu.RUnlock()
	return ek, l.expireArena[c.Value()]
}
