package store

import (
	"github.com/metakv/metakv/internal/kv"
	"github.com/metakv/metakv/pkg/types"
)

// LeveledMap is an ordered stack of levels: zero or more frozen
// (read-only) levels followed by exactly one writable level. All mutation
// methods only ever touch the writable (last) level; reads scan top-down
// so the most recently frozen level shadows everything older.
//
// A LeveledMap value itself is treated as immutable once built: freezing
// or replacing levels produces a new LeveledMap, and callers are expected
// to install it behind an atomic pointer swap rather than mutate one in
// place. This is what lets readers see a consistent view while the
// applier keeps writing.
type LeveledMap struct {
	levels []*LevelData
}

// NewLeveledMap returns a stack with a single empty writable level.
func NewLeveledMap() *LeveledMap {
	return &LeveledMap{levels: []*LevelData{NewLevelData()}}
}

// FromLevels wraps an existing ordered slice of levels (oldest first,
// writable last) as a LeveledMap, used by the importer and by
// install-snapshot to adopt a freshly built stack.
func FromLevels(levels []*LevelData) *LeveledMap {
	return &LeveledMap{levels: levels}
}

// Writable returns the single writable (top) level.
func (lm *LeveledMap) Writable() *LevelData { return lm.levels[len(lm.levels)-1] }

// Levels returns the full stack, oldest first, writable last. Callers must
// not mutate the returned slice.
func (lm *LeveledMap) Levels() []*LevelData { return lm.levels }

// Len returns the number of levels, including the writable one.
func (lm *LeveledMap) Len() int { return len(lm.levels) }

// Newest returns the level readers should treat as authoritative for
// sys-data (last_applied, last_membership, seq): the writable level, since
// sys-data updates always land there.
func (lm *LeveledMap) Newest() *LevelData { return lm.Writable() }

// GetKV scans top-down (writable, then frozen newest-to-oldest) and
// returns the first slot found for key, tombstone or not.
func (lm *LeveledMap) GetKV(key kv.Key) (kv.Marked, bool) {
	for i := len(lm.levels) - 1; i >= 0; i-- {
		if m, ok := lm.levels[i].GetKV(key); ok {
			return m, true
		}
	}
	return kv.Marked{}, false
}

// SetKV writes a key's Marked slot to the writable level.
func (lm *LeveledMap) SetKV(key kv.Key, m kv.Marked) {
	lm.Writable().SetKV(key, m)
}

// Range returns a lazy, ordered, tombstone-surfacing iterator over the
// whole stack starting at or after from. Internal callers (the expiration
// sweep, compaction) need to see tombstones to know a key was deleted;
// read-only external callers should filter IsTombStone() themselves.
func (lm *LeveledMap) Range(from kv.Key) *RangeIter {
	return NewRangeIter(lm.levels, from)
}

// FreezeWritable promotes the current writable level to a frozen layer and
// returns both the new LeveledMap (stack + fresh empty writable level) to
// install going forward, and a StaticLeveledMap handle over the
// now-frozen stack suitable for building a point-in-time snapshot view.
func (lm *LeveledMap) FreezeWritable() (*LeveledMap, *StaticLeveledMap) {
	frozen := append([]*LevelData{}, lm.levels...)
	newWritable := lm.Writable().NewLevel()
	next := append(append([]*LevelData{}, frozen...), newWritable)
	return &LeveledMap{levels: next}, &StaticLeveledMap{levels: frozen}
}

// ReplaceFrozenLevels swaps out every level except the writable one,
// keeping the writable level (and hence in-flight writes) untouched. Used
// after compaction collapses several frozen levels into one.
func (lm *LeveledMap) ReplaceFrozenLevels(newFrozen []*LevelData) *LeveledMap {
	levels := append(append([]*LevelData{}, newFrozen...), lm.Writable())
	return &LeveledMap{levels: levels}
}

// StaticLeveledMap is an immutable, shareable handle over a stack of
// already-frozen levels: exactly what a snapshot is built from, since
// nothing in it will ever be written to again.
type StaticLeveledMap struct {
	levels []*LevelData
}

// NewStaticLeveledMap wraps an already-built slice of frozen levels,
// used by compaction to present a merged single-level stack as a
// StaticLeveledMap of its own (e.g. for a snapshot view's compacted
// copy, which needs the same read surface as the original).
func NewStaticLeveledMap(levels []*LevelData) *StaticLeveledMap {
	return &StaticLeveledMap{levels: levels}
}

// Levels returns the frozen stack, oldest first.
func (s *StaticLeveledMap) Levels() []*LevelData { return s.levels }

// Len returns the number of frozen levels.
func (s *StaticLeveledMap) Len() int { return len(s.levels) }

// Newest returns the most recently frozen level, the one carrying the
// authoritative sys-data for this snapshot.
func (s *StaticLeveledMap) Newest() *LevelData {
	if len(s.levels) == 0 {
		return nil
	}
	return s.levels[len(s.levels)-1]
}

// Range returns a lazy merge iterator over the frozen stack.
func (s *StaticLeveledMap) Range(from kv.Key) *RangeIter {
	return NewRangeIter(s.levels, from)
}

// RangeExpire returns a lazy merge iterator over the frozen stack's
// expiration indexes, in (time_ms, seq) order, starting at or after from.
func (s *StaticLeveledMap) RangeExpire(from types.ExpireKey) *ExpireRangeIter {
	return NewExpireRangeIter(s.levels, from)
}
