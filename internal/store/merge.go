package store

import (
	"github.com/metakv/metakv/internal/kv"
	"github.com/metakv/metakv/pkg/types"
)

// RangeIter lazily merges the ordered cursors of every level in a stack,
// highest level wins on key collision, without ever materializing a whole
// level into memory. Shadowed entries on older levels are silently
// skipped, including when the winning entry is itself a tombstone.
type RangeIter struct {
	levels  []*LevelData // index order matches the stack: oldest first, writable last
	cursors []*Cursor
	key     kv.Key
	marked  kv.Marked
	done    bool
}

// NewRangeIter builds an iterator over the given level stack starting at
// or after from ("" means from the beginning).
func NewRangeIter(levels []*LevelData, from kv.Key) *RangeIter {
	it := &RangeIter{levels: levels, cursors: make([]*Cursor, len(levels))}
	for i, lv := range levels {
		it.cursors[i] = lv.KVCursor(from)
	}
	it.advance()
	return it
}

// Close releases every underlying cursor's lock. Must be called once the
// caller is done (including after exhausting the iterator, for safety).
func (it *RangeIter) Close() {
	for _, c := range it.cursors {
		if c != nil {
			c.Close()
		}
	}
}

// Valid reports whether the iterator is positioned on an entry.
func (it *RangeIter) Valid() bool { return !it.done }

// Entry returns the current (key, Marked) pair. Only valid when Valid().
func (it *RangeIter) Entry() (kv.Key, kv.Marked) { return it.key, it.marked }

// Next advances to the following distinct key. Returns false once
// exhausted.
func (it *RangeIter) Next() bool {
	if it.done {
		return false
	}
	it.advance()
	return !it.done
}

// advance finds the smallest key among all active cursors, resolves the
// winner (the cursor from the highest level index), advances every cursor
// positioned at that key, and records the winning entry.
func (it *RangeIter) advance() {
	for {
		minKey := kv.Key("")
		haveMin := false
		for _, c := range it.cursors {
			if c == nil || !c.Valid() {
				continue
			}
			k := keyOf(c)
			if !haveMin || k < minKey {
				minKey = k
				haveMin = true
			}
		}
		if !haveMin {
			it.done = true
			return
		}

		var winnerLevel = -1
		var winnerMarked kv.Marked
		for i, lv := range it.levels {
			c := it.cursors[i]
			if c == nil || !c.Valid() || keyOf(c) != minKey {
				continue
			}
			_, m := lv.KVAt(c)
			if i > winnerLevel {
				winnerLevel = i
				winnerMarked = m
			}
			if !c.Next() {
				it.cursors[i] = nil
			}
		}

		it.key = minKey
		it.marked = winnerMarked
		return
	}
}

func keyOf(c *Cursor) kv.Key {
	return kv.Key(c.Key().(interface{ String() string }).String())
}

// ExpireRangeIter merges the expiration-index cursors of every level in
// ascending (time_ms, seq) order, highest level wins on an exact
// ExpireKey collision (which in practice only happens when a tombstone at
// the writable level shadows a live entry an older frozen level still
// holds).
type ExpireRangeIter struct {
	levels  []*LevelData
	cursors []*Cursor
	key     types.ExpireKey
	slot    kv.ExpireSlot
	done    bool
}

// NewExpireRangeIter builds a merge iterator over every level's
// expiration index, starting at or after from.
func NewExpireRangeIter(levels []*LevelData, from types.ExpireKey) *ExpireRangeIter {
	it := &ExpireRangeIter{levels: levels, cursors: make([]*Cursor, len(levels))}
	for i, lv := range levels {
		it.cursors[i] = lv.ExpireCursor(from)
	}
	it.advance()
	return it
}

// Close releases every underlying cursor's lock.
func (it *ExpireRangeIter) Close() {
	for _, c := range it.cursors {
		if c != nil {
			c.Close()
		}
	}
}

// Valid reports whether the iterator is positioned on an entry.
func (it *ExpireRangeIter) Valid() bool { return !it.done }

// Entry returns the current (ExpireKey, ExpireSlot) pair.
func (it *ExpireRangeIter) Entry() (types.ExpireKey, kv.ExpireSlot) { return it.key, it.slot }

// Next advances to the following distinct ExpireKey.
func (it *ExpireRangeIter) Next() bool {
	if it.done {
		return false
	}
	it.advance()
	return !it.done
}

func (it *ExpireRangeIter) advance() {
	var minKey types.ExpireKey
	haveMin := false
	for _, c := range it.cursors {
		if c == nil || !c.Valid() {
			continue
		}
		k := c.Key().(types.ExpireKey)
		if !haveMin || k.Compare(minKey) < 0 {
			minKey = k
			haveMin = true
		}
	}
	if !haveMin {
		it.done = true
		return
	}

	winnerLevel := -1
	var winnerSlot kv.ExpireSlot
	for i, lv := range it.levels {
		c := it.cursors[i]
		if c == nil || !c.Valid() || c.Key().(types.ExpireKey) != minKey {
			continue
		}
		_, slot := lv.ExpireAt(c)
		if i > winnerLevel {
			winnerLevel = i
			winnerSlot = slot
		}
		if !c.Next() {
			it.cursors[i] = nil
		}
	}

	it.key = minKey
	it.slot = winnerSlot
}
