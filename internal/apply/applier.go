package apply

import (
	"log/slog"
	"time"

	"github.com/metakv/metakv/internal/kv"
	"github.com/metakv/metakv/internal/metrics"
	"github.com/metakv/metakv/internal/telemetry"
	stderrors "github.com/metakv/metakv/pkg/errors"
	"github.com/metakv/metakv/pkg/types"
)

// Applier applies committed log entries to a StateMachine, one per Apply
// call, and may be reused across calls. The only per-entry state it
// carries (the buffered change list) is reset at the start of each Apply
// and flushed to the subscriber at the end of it.
type Applier struct {
	sm         StateMachine
	subscriber Subscriber
	logger     *slog.Logger
	metrics    *metrics.Registry
	changes    []Change
}

// NewApplier builds an Applier bound to sm and a change subscriber.
func NewApplier(sm StateMachine, subscriber Subscriber, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	if subscriber == nil {
		subscriber = NopSubscriber{}
	}
	return &Applier{sm: sm, subscriber: subscriber, logger: logger}
}

// WithMetrics attaches a metrics registry the Applier records counters and
// histograms against. A nil registry (the default) disables recording
// entirely rather than requiring every caller to stand one up.
func (a *Applier) WithMetrics(reg *metrics.Registry) *Applier {
	a.metrics = reg
	return a
}

// Apply performs every step for one committed entry, in order: expire the
// keys due by this entry's timestamp, advance last_applied, dispatch the
// payload, then flush whatever changes were produced to the subscriber.
// There is no cancellation point inside Apply: a crash mid-apply is
// expected to abort the process, not leave a partially-applied entry
// observable, since the whole point of applying from a replicated log is
// that re-applying from the same point after a restart reproduces the
// same state.
func (a *Applier) Apply(entry Entry) Response {
	start := time.Now()
	a.changes = a.changes[:0]

	a.cleanExpiredKVs(entry.TimeMs)

	a.sm.SetLastApplied(entry.LogId)

	var resp Response
	switch entry.Payload.Kind {
	case PayloadBlank:
		a.recordEntryKind("blank")
	case PayloadMembership:
		a.sm.SetLastMembership(*entry.Payload.Membership)
		a.recordEntryKind("membership")
	case PayloadNormal:
		a.recordEntryKind("normal")
		resp = a.applyCmd(*entry.Payload.Cmd)
	}

	if len(a.changes) > 0 {
		a.subscriber.KVChanged(a.changes)
	}
	if a.metrics != nil {
		a.metrics.ApplyDuration.Observe(time.Since(start).Seconds())
	}
	return resp
}

func (a *Applier) recordEntryKind(kind string) {
	if a.metrics != nil {
		a.metrics.EntriesApplied.WithLabelValues(kind).Inc()
	}
}

func (a *Applier) applyCmd(cmd Cmd) Response {
	switch cmd.Kind {
	case CmdAddNode:
		return a.applyAddNode(*cmd.AddNode)
	case CmdRemoveNode:
		return a.applyRemoveNode(*cmd.RemoveNode)
	case CmdUpsertKV:
		prev, result := a.applyUpsertKV(*cmd.UpsertKV)
		return Response{Kind: CmdUpsertKV, Prev: seqVOrNil(prev), Result: seqVOrNil(result)}
	case CmdTransaction:
		reply := a.applyTxn(*cmd.Txn)
		return Response{Kind: CmdTransaction, Txn: &reply}
	}
	return Response{}
}

func (a *Applier) applyAddNode(cmd AddNodeCmd) Response {
	prev, applied := a.sm.AddNode(cmd.Id, cmd.Node, cmd.Overriding)
	return Response{Kind: CmdAddNode, PrevNode: prev, Applied: applied}
}

func (a *Applier) applyRemoveNode(cmd RemoveNodeCmd) Response {
	prev := a.sm.RemoveNode(cmd.Id)
	return Response{Kind: CmdRemoveNode, PrevNode: prev}
}

func (a *Applier) applyUpsertKV(req kv.UpsertKV) (kv.SeqV, kv.SeqV) {
	prev, result, changed := a.sm.UpsertKV(req)
	if changed {
		a.pushChange(req.Key, prev, result)
		if a.metrics != nil {
			a.metrics.UpsertsApplied.Inc()
		}
	}
	return prev, result
}

// pushChange records a before/after pair, skipping the no-op case where
// nothing actually moved (e.g. an Operation::AsIs that refreshed no TTL).
func (a *Applier) pushChange(key kv.Key, prev, result kv.SeqV) {
	if prev.Seq == result.Seq {
		return
	}
	p, r := prev, result
	a.changes = append(a.changes, Change{Key: key, Prev: seqVOrNil(p), Result: seqVOrNil(r)})
}

func errExpireSeqMismatch(key kv.Key, seq uint64) error {
	return &mismatchError{key: key, seq: seq}
}

type mismatchError struct {
	key kv.Key
	seq uint64
}

func (e *mismatchError) Error() string {
	return "expire index points at key " + string(e.key) + " whose current seq no longer matches the expiring entry"
}

func seqVOrNil(v kv.SeqV) *kv.SeqV {
	if !v.IsSome() {
		return nil
	}
	return &v
}

// cleanExpiredKVs sweeps the expiration index for every entry whose
// instant has passed as of logTimeMs, starting from the cursor left by the
// previous apply so the sweep is restartable and never revisits the same
// range. logTimeMs == 0 means the caller could not determine a time for
// this entry (e.g. during a pure membership-only replay) and the sweep is
// skipped outright rather than guessing.
func (a *Applier) cleanExpiredKVs(logTimeMs uint64) {
	if logTimeMs == 0 {
		return
	}

	cursor := a.sm.ExpireCursor()
	it := a.sm.ListExpireFrom(cursor)
	defer it.Close()

	type due struct {
		key kv.Key
		seq uint64
	}
	var expired []due

	for it.Valid() {
		ek, slot := it.Entry()
		if !ek.IsExpired(logTimeMs) {
			break
		}
		if !slot.Tombstone {
			expired = append(expired, due{key: slot.Key, seq: ek.Seq})
		}
		if !it.Next() {
			break
		}
	}

	for _, d := range expired {
		curr, ok := a.sm.GetKV(d.key)
		if !ok || curr.Seq != d.seq {
			// A live (non-tombstone) expiry slot whose key was already
			// overwritten means the overwrite failed to tombstone the
			// old slot: that is a primary/expire index divergence, not
			// a recoverable race, since every write path tombstones the
			// expiry entry it supersedes before returning.
			err := &stderrors.CorruptionError{Context: "expire index", Err: errExpireSeqMismatch(d.key, d.seq)}
			a.logger.Error("expire index invariant violated", "key", d.key, "expected_seq", d.seq, "err", err)
			telemetry.CaptureFatal(err)
			panic(err)
		}
		prev, result, changed := a.sm.UpsertKV(kv.UpsertDelete(d.key))
		if changed {
			a.pushChange(d.key, prev, result)
			if a.metrics != nil {
				a.metrics.KeysExpired.Inc()
			}
		}
	}

	a.sm.UpdateExpireCursor(types.ExpireKey{TimeMs: logTimeMs, Seq: 0})
}
