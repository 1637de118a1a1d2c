package kv

// MatchSeq is the optimistic-concurrency precondition attached to an
// upsert: the write only takes effect if the key's current seq satisfies
// the match.
type MatchSeq struct {
	kind  matchSeqKind
	value uint64
}

type matchSeqKind int

const (
	matchAny matchSeqKind = iota
	matchGE
	matchExact
)

// MatchAny accepts any current seq, including "key does not exist".
func MatchAny() MatchSeq { return MatchSeq{kind: matchAny} }

// MatchGE accepts only if the current seq is >= n.
func MatchGE(n uint64) MatchSeq { return MatchSeq{kind: matchGE, value: n} }

// MatchExact accepts only if the current seq is exactly n (n == 0 means
// "key must not currently exist").
func MatchExact(n uint64) MatchSeq { return MatchSeq{kind: matchExact, value: n} }

// Match evaluates the precondition against a key's current seq (0 if the
// key has no live value).
func (m MatchSeq) Match(currentSeq uint64) bool {
	switch m.kind {
	case matchAny:
		return true
	case matchGE:
		return currentSeq >= m.value
	case matchExact:
		return currentSeq == m.value
	default:
		return false
	}
}

// OperationKind tags which of the three upsert actions to perform.
type OperationKind int

const (
	// OpUpdate replaces the value with Data, refreshing Meta.
	OpUpdate OperationKind = iota
	// OpDelete writes a tombstone, discarding any prior value.
	OpDelete
	// OpAsIs leaves the value unchanged; only Meta may be refreshed.
	// Used to touch a key's TTL without rewriting its payload.
	OpAsIs
)

// Operation is the write action of an UpsertKV request.
type Operation struct {
	Kind OperationKind
	Data []byte
}

// Update builds an Operation that replaces the value.
func Update(data []byte) Operation { return Operation{Kind: OpUpdate, Data: data} }

// Delete builds an Operation that tombstones the key.
func Delete() Operation { return Operation{Kind: OpDelete} }

// AsIs builds an Operation that leaves the value untouched.
func AsIs() Operation { return Operation{Kind: OpAsIs} }

// UpsertKV is a single-key conditional write request.
type UpsertKV struct {
	Key       Key
	Seq       MatchSeq
	Value     Operation
	ValueMeta *ValueMeta
}

// NewUpsertKV builds an UpsertKV request with an explicit match, operation
// and optional metadata.
func NewUpsertKV(key Key, seq MatchSeq, value Operation, meta *ValueMeta) UpsertKV {
	return UpsertKV{Key: key, Seq: seq, Value: value, ValueMeta: meta}
}

// UpsertDelete builds the common "delete this key regardless of seq" request.
func UpsertDelete(key Key) UpsertKV {
	return UpsertKV{Key: key, Seq: MatchAny(), Value: Delete()}
}
