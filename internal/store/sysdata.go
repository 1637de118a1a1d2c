// Package store implements the layered key-value storage underneath the
// state machine: a single level's primary and expiration indexes, and the
// stack of levels (LeveledMap) that makes cheap snapshotting possible by
// freezing the writable top into an immutable layer.
package store

import (
	"sync"
	"sync/atomic"

	"github.com/metakv/metakv/internal/kv"
)

// SysData holds the metadata that travels with a level alongside its kv
// and expiration indexes: the last applied log id, the last membership
// change, known cluster nodes and the monotone seq counter.
type SysData struct {
	mu             sync.RWMutex
	lastApplied    *kv.LogId
	lastMembership kv.StoredMembership
	nodes          map[kv.NodeId]kv.Node
	seq            uint64
}

// NewSysData returns an empty SysData with seq starting at 0.
func NewSysData() *SysData {
	return &SysData{nodes: make(map[kv.NodeId]kv.Node)}
}

// NextSeq atomically consumes and returns the next sequence number. Every
// write that occupies a slot in the primary index -- including a
// tombstone -- must call this exactly once, since seq reuse would let a
// stale reader observe a tombstone and a live value as the same version.
func (s *SysData) NextSeq() uint64 {
	return atomic.AddUint64(&s.seq, 1)
}

// CurrSeq returns the most recently issued seq without consuming a new one.
func (s *SysData) CurrSeq() uint64 {
	return atomic.LoadUint64(&s.seq)
}

// UpdateSeq bumps the counter up to at least v, used by the importer to
// restore a counter from a snapshot without ever moving it backwards.
func (s *SysData) UpdateSeq(v uint64) {
	for {
		cur := atomic.LoadUint64(&s.seq)
		if v <= cur {
			return
		}
		if atomic.CompareAndSwapUint64(&s.seq, cur, v) {
			return
		}
	}
}

// LastApplied returns the last applied log id, or nil if none yet.
func (s *SysData) LastApplied() *kv.LogId {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastApplied
}

// SetLastApplied records id as the last applied log id. Callers are
// responsible for the monotonicity invariant; this setter does not check it
// so that importer code restoring state from a snapshot can set it directly.
func (s *SysData) SetLastApplied(id kv.LogId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := id
	s.lastApplied = &v
}

// LastMembership returns the last membership configuration applied.
func (s *SysData) LastMembership() kv.StoredMembership {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastMembership
}

// SetLastMembership records m as the last membership configuration.
func (s *SysData) SetLastMembership(m kv.StoredMembership) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastMembership = m
}

// Nodes returns a snapshot copy of the known node set.
func (s *SysData) Nodes() map[kv.NodeId]kv.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[kv.NodeId]kv.Node, len(s.nodes))
	for k, v := range s.nodes {
		out[k] = v
	}
	return out
}

// GetNode looks up a single node by id.
func (s *SysData) GetNode(id kv.NodeId) (kv.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	return n, ok
}

// AddNode inserts or overrides a node, returning the previous value if any.
func (s *SysData) AddNode(id kv.NodeId, n kv.Node, overriding bool) (prev *kv.Node, applied bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, exists := s.nodes[id]; exists {
		p := old
		if !overriding {
			return &p, false
		}
		s.nodes[id] = n
		return &p, true
	}
	s.nodes[id] = n
	return nil, true
}

// RemoveNode deletes a node, returning the previous value if any.
func (s *SysData) RemoveNode(id kv.NodeId) *kv.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, exists := s.nodes[id]
	if !exists {
		return nil
	}
	delete(s.nodes, id)
	return &old
}

// SetNode installs a node directly, used by the importer to replay a
// snapshot's Nodes records without going through add-node semantics.
func (s *SysData) SetNode(id kv.NodeId, n kv.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[id] = n
}

// Clone copies the current sys-data values into a new, independent
// SysData. Used whenever a new level continues an existing one (freezing
// the writable level, or building a fresh merged level during
// compaction): the seq counter, last_applied and membership must carry
// forward unbroken, only the kv/expire indexes start empty.
func (s *SysData) Clone() *SysData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nodes := make(map[kv.NodeId]kv.Node, len(s.nodes))
	for k, v := range s.nodes {
		nodes[k] = v
	}
	clone := &SysData{
		lastMembership: s.lastMembership,
		nodes:          nodes,
		seq:            s.seq,
	}
	if s.lastApplied != nil {
		v := *s.lastApplied
		clone.lastApplied = &v
	}
	return clone
}
