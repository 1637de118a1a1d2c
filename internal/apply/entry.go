// Package apply implements the deterministic application of committed log
// entries to the state machine: expiration sweeps, membership changes,
// single-key upserts and multi-op transactions.
package apply

import "github.com/metakv/metakv/internal/kv"

// Entry is a single committed log record as delivered by the caller's Raft
// transport. Everything about consensus, replication and commit ordering
// happens before an Entry reaches this module; apply only needs to know
// what to do with it.
type Entry struct {
	LogId   kv.LogId
	Payload Payload
	// TimeMs is the log entry's commit timestamp, used to drive the
	// expiration sweep. Zero means "unknown", in which case the sweep for
	// this entry is skipped (never regresses the expire cursor).
	TimeMs uint64
}

// PayloadKind tags the three shapes a committed entry can take.
type PayloadKind int

const (
	PayloadBlank PayloadKind = iota
	PayloadMembership
	PayloadNormal
)

// Payload is the tagged union of what a committed entry carries.
type Payload struct {
	Kind       PayloadKind
	Membership *kv.StoredMembership // set iff Kind == PayloadMembership
	Cmd        *Cmd                 // set iff Kind == PayloadNormal
}

// BlankPayload builds a no-op entry (used by Raft for leader-lease renewal
// entries that carry no application-level effect).
func BlankPayload() Payload { return Payload{Kind: PayloadBlank} }

// MembershipPayload wraps a membership change.
func MembershipPayload(m kv.StoredMembership) Payload {
	return Payload{Kind: PayloadMembership, Membership: &m}
}

// NormalPayload wraps an application command.
func NormalPayload(cmd Cmd) Payload {
	return Payload{Kind: PayloadNormal, Cmd: &cmd}
}

// CmdKind tags which application-level command a Normal payload carries.
type CmdKind int

const (
	CmdAddNode CmdKind = iota
	CmdRemoveNode
	CmdUpsertKV
	CmdTransaction
)

// Cmd is the application-level command carried by a Normal log entry.
// Exactly one of the fields matching Kind is populated.
type Cmd struct {
	Kind CmdKind

	AddNode    *AddNodeCmd
	RemoveNode *RemoveNodeCmd
	UpsertKV   *kv.UpsertKV
	Txn        *TxnRequest
}

// AddNodeCmd registers a cluster member. If Overriding is false and the
// node id already exists, the command is a no-op that still produces a
// response describing the prior value.
type AddNodeCmd struct {
	Id         kv.NodeId
	Node       kv.Node
	Overriding bool
}

// RemoveNodeCmd deregisters a cluster member.
type RemoveNodeCmd struct {
	Id kv.NodeId
}

// Response is what applying a Normal payload's command hands back to the
// caller, to be relayed to whichever client is waiting on this entry's
// commit. The populated fields match Kind; a Blank or Membership payload
// produces the zero Response.
type Response struct {
	Kind CmdKind

	// CmdAddNode / CmdRemoveNode
	PrevNode *kv.Node
	Applied  bool

	// CmdUpsertKV
	Prev   *kv.SeqV
	Result *kv.SeqV

	// CmdTransaction
	Txn *TxnReply
}
