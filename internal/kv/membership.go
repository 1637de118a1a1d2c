package kv

// NodeId identifies a cluster member. The state machine treats it as an
// opaque comparable value; transport-level membership/consensus is outside
// this module's scope and is assumed delivered by the caller as committed
// log entries.
type NodeId = uint64

// Node is the metadata the state machine remembers about a member: enough
// for callers to dial it, nothing about liveness or voting state (that is
// owned by consensus, not by this store).
type Node struct {
	Name      string            `json:"name"`
	Endpoint  string            `json:"endpoint"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// LogId identifies a single committed log entry by (Term, Index). It is
// ordered first by Term then by Index, matching the usual Raft log order.
type LogId struct {
	Term  uint64 `json:"term"`
	Index uint64 `json:"index"`
}

// Less reports whether id precedes other in log order.
func (id LogId) Less(other LogId) bool {
	if id.Term != other.Term {
		return id.Term < other.Term
	}
	return id.Index < other.Index
}

// LessEq reports id <= other in log order.
func (id LogId) LessEq(other LogId) bool {
	return id == other || id.Less(other)
}

// StoredMembership is the last membership configuration applied to the
// state machine, tagged with the LogId it was applied at so callers can
// verify it never outruns LastApplied.
type StoredMembership struct {
	LogId   *LogId             `json:"log_id,omitempty"`
	Nodes   map[NodeId]Node    `json:"nodes,omitempty"`
	Voters  []NodeId           `json:"voters,omitempty"`
}
