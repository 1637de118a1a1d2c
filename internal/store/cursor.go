package store

import (
	"github.com/metakv/metakv/pkg/btree"
	"github.com/metakv/metakv/pkg/types"
)

// Cursor walks a single level's btree index in key order using lock
// coupling: the leaf currently positioned on stays read-locked until the
// cursor moves past it or is closed, and the next leaf is locked before the
// current one is released. This lets LeveledMap build a lazy, ordered
// merge over many levels without ever materializing a whole level's
// contents into memory.
type Cursor struct {
	tree         *btree.BPlusTree
	currentNode  *btree.Node
	currentIndex int
}

// Close releases any lock the cursor is holding. Safe to call multiple
// times and on a cursor that was never seeked.
func (c *Cursor) Close() {
	if c.currentNode != nil {
		c.currentNode.RUnlock()
		c.currentNode = nil
	}
}

// Key returns the key at the cursor's current position. Only valid when
// Valid() is true.
func (c *Cursor) Key() types.Comparable { return c.currentNode.Keys[c.currentIndex] }

// Value returns the arena index stored at the cursor's current position.
func (c *Cursor) Value() int64 { return c.currentNode.DataPtrs[c.currentIndex] }

// Valid reports whether the cursor is positioned on a real entry.
func (c *Cursor) Valid() bool { return c.currentNode != nil && c.currentIndex < c.currentNode.N }

// Seek positions the cursor at the first key >= key, or at the first key
// overall if key is nil.
func (c *Cursor) Seek(key types.Comparable) {
	c.Close()

	leaf, idx := c.tree.FindLeafLowerBound(key)
	// FindLeafLowerBound returns the node already RLocked; the cursor
	// keeps holding that lock for as long as it stays positioned there.

	if leaf == nil {
		c.currentNode = nil
		c.currentIndex = 0
		return
	}

	if idx >= leaf.N {
		next := leaf.Next
		if next != nil {
			next.RLock()
		}
		leaf.RUnlock()
		leaf = next
		idx = 0
		for leaf != nil && leaf.N == 0 {
			n := leaf.Next
			if n != nil {
				n.RLock()
			}
			leaf.RUnlock()
			leaf = n
		}
		if leaf == nil {
			c.currentNode = nil
			return
		}
	}

	c.currentNode = leaf
	c.currentIndex = idx
}

// Next advances the cursor to the following entry, lock-coupling across
// leaf boundaries. Returns false once there is nothing left.
func (c *Cursor) Next() bool {
	if c.currentNode == nil {
		return false
	}

	if c.currentIndex+1 < c.currentNode.N {
		c.currentIndex++
		return true
	}

	next := c.currentNode.Next
	if next != nil {
		next.RLock()
	}
	c.currentNode.RUnlock()
	c.currentNode = next
	c.currentIndex = 0

	for c.currentNode != nil && c.currentNode.N == 0 {
		n := c.currentNode.Next
		if n != nil {
			n.RLock()
		}
		c.currentNode.RUnlock()
		c.currentNode = n
	}

	return c.currentNode != nil
}
