package apply

import (
	"github.com/metakv/metakv/internal/kv"
	"github.com/metakv/metakv/internal/store"
	"github.com/metakv/metakv/pkg/types"
)

// StateMachine is the subset of the state machine's write surface the
// applier needs. Keeping it this narrow lets the applier be tested against
// a fake without pulling in the whole leveled-store/snapshot machinery.
type StateMachine interface {
	// UpsertKV performs a single conditional write, returning the value
	// before and after (Seq == 0 meaning "absent") and whether anything
	// actually changed.
	UpsertKV(req kv.UpsertKV) (prev kv.SeqV, result kv.SeqV, changed bool)
	GetKV(key kv.Key) (kv.SeqV, bool)
	// PrefixKeys returns every live key currently stored under prefix, in
	// ascending order. Used by DeleteByPrefix transaction ops.
	PrefixKeys(prefix kv.Key) []kv.Key

	SetLastApplied(id kv.LogId)
	SetLastMembership(m kv.StoredMembership)

	AddNode(id kv.NodeId, n kv.Node, overriding bool) (prev *kv.Node, applied bool)
	RemoveNode(id kv.NodeId) *kv.Node

	ExpireCursor() types.ExpireKey
	UpdateExpireCursor(c types.ExpireKey)
	ListExpireFrom(from types.ExpireKey) *store.ExpireRangeIter
}
