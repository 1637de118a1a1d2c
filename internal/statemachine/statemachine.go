// Package statemachine wires the leveled store, the applier and the
// snapshot machinery into the single object a caller drives: feed it
// committed entries, read keys back out, and occasionally freeze or
// replace its whole state wholesale via a snapshot.
package statemachine

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/metakv/metakv/internal/apply"
	"github.com/metakv/metakv/internal/kv"
	"github.com/metakv/metakv/internal/store"
	"github.com/metakv/metakv/pkg/types"
)

// StateMachine owns the current leveled store and the expiration sweep
// cursor. Readers load the levels pointer atomically so they always see a
// complete, consistent stack even while the applier is mid-write on the
// next entry; the applier is the only writer and never needs the pointer
// itself to change mid-apply (writes land on the already-installed
// writable level).
type StateMachine struct {
	levels atomic.Pointer[store.LeveledMap]

	expireMu     sync.Mutex
	expireCursor types.ExpireKey

	subscriber apply.Subscriber
	logger     *slog.Logger
}

// New builds an empty state machine with a single empty writable level.
func New(subscriber apply.Subscriber, logger *slog.Logger) *StateMachine {
	if logger == nil {
		logger = slog.Default()
	}
	sm := &StateMachine{subscriber: subscriber, logger: logger}
	sm.levels.Store(store.NewLeveledMap())
	return sm
}

// Levels returns the current leveled-store stack.
func (sm *StateMachine) Levels() *store.LeveledMap { return sm.levels.Load() }

// NewApplier builds an Applier bound to this state machine.
func (sm *StateMachine) NewApplier() *apply.Applier {
	return apply.NewApplier(sm, sm.subscriber, sm.logger)
}

// GetKV returns the live value for key, or ok == false if it is absent or
// tombstoned. No TTL filtering happens here; that is the read-only KV
// surface's job (internal/kvapi), since the applier and transaction engine
// need to see values regardless of whether a background sweep has caught
// up to them yet.
func (sm *StateMachine) GetKV(key kv.Key) (kv.SeqV, bool) {
	m, ok := sm.Levels().GetKV(key)
	if !ok || m.IsTombStone() {
		return kv.SeqV{}, false
	}
	return m.ToSeqV(), true
}

// PrefixKeys returns every live key under prefix in ascending order.
func (sm *StateMachine) PrefixKeys(prefix kv.Key) []kv.Key {
	it := sm.Levels().Range(prefix)
	defer it.Close()
	var keys []kv.Key
	for it.Valid() {
		key, m := it.Entry()
		if !strings.HasPrefix(string(key), string(prefix)) {
			break
		}
		if !m.IsTombStone() {
			keys = append(keys, key)
		}
		if !it.Next() {
			break
		}
	}
	return keys
}

// ExpireCursor returns the sweep cursor's current position.
func (sm *StateMachine) ExpireCursor() types.ExpireKey {
	sm.expireMu.Lock()
	defer sm.expireMu.Unlock()
	return sm.expireCursor
}

// UpdateExpireCursor advances the sweep cursor, refusing to move it
// backwards: entries between an old and a regressed cursor would otherwise
// be swept twice, and a tombstoned once-live key swept a second time would
// wrongly attempt to delete something already gone.
func (sm *StateMachine) UpdateExpireCursor(c types.ExpireKey) {
	sm.expireMu.Lock()
	defer sm.expireMu.Unlock()
	if c.Compare(sm.expireCursor) < 0 {
		sm.logger.Warn("ignored expire cursor regression", "current", sm.expireCursor, "attempted", c)
		return
	}
	sm.expireCursor = c
}

// resetExpireCursor is used by Replace (install-snapshot) to restart the
// sweep from the beginning against a wholesale-replaced stack.
func (sm *StateMachine) resetExpireCursor() {
	sm.expireMu.Lock()
	defer sm.expireMu.Unlock()
	sm.expireCursor = types.ExpireKey{}
}

// ListExpireFrom returns a lazy merge iterator over the expiration index
// starting at or after from.
func (sm *StateMachine) ListExpireFrom(from types.ExpireKey) *store.ExpireRangeIter {
	return store.NewExpireRangeIter(sm.Levels().Levels(), from)
}

func (sm *StateMachine) AddNode(id kv.NodeId, n kv.Node, overriding bool) (*kv.Node, bool) {
	return sm.Levels().Writable().Sys.AddNode(id, n, overriding)
}

func (sm *StateMachine) RemoveNode(id kv.NodeId) *kv.Node {
	return sm.Levels().Writable().Sys.RemoveNode(id)
}

func (sm *StateMachine) SetLastApplied(id kv.LogId) {
	sm.Levels().Writable().Sys.SetLastApplied(id)
}

func (sm *StateMachine) LastApplied() *kv.LogId {
	return sm.Levels().Newest().Sys.LastApplied()
}

func (sm *StateMachine) SetLastMembership(m kv.StoredMembership) {
	sm.Levels().Writable().Sys.SetLastMembership(m)
}

func (sm *StateMachine) LastMembership() kv.StoredMembership {
	return sm.Levels().Newest().Sys.LastMembership()
}

func (sm *StateMachine) CurrSeq() uint64 {
	return sm.Levels().Newest().Sys.CurrSeq()
}

// FullSnapshotView freezes the current writable level and returns a handle
// over the now-frozen stack, suitable for building a snapshot. The state
// machine keeps running against a brand new writable level the moment this
// returns; callers of FullSnapshotView see a true point-in-time view that
// later writes never touch.
func (sm *StateMachine) FullSnapshotView() *store.StaticLeveledMap {
	for {
		old := sm.Levels()
		next, static := old.FreezeWritable()
		if sm.levels.CompareAndSwap(old, next) {
			return static
		}
	}
}

// Replace installs an entirely new leveled-store stack, as produced by
// importing a snapshot. It refuses to move last_applied backwards, exactly
// like install-snapshot: a late-arriving or duplicate snapshot install
// must never erase progress already made locally.
func (sm *StateMachine) Replace(next *store.LeveledMap) {
	cur := sm.LastApplied()
	newApplied := next.Newest().Sys.LastApplied()
	if !isNewerApplied(cur, newApplied) {
		sm.logger.Warn("install-snapshot no-op: snapshot is not newer than current state",
			"current", cur, "snapshot", newApplied)
		return
	}
	sm.levels.Store(next)
	sm.resetExpireCursor()
}

// isNewerApplied reports whether newApplied represents strictly more
// progress than cur. A nil cur means nothing has ever been applied, so any
// snapshot (even one with a nil newApplied) is an improvement; against a
// non-nil cur, a nil newApplied never is.
func isNewerApplied(cur, newApplied *kv.LogId) bool {
	if cur == nil {
		return true
	}
	if newApplied == nil {
		return false
	}
	return !newApplied.LessEq(*cur)
}

// ReplaceBase swaps the frozen levels beneath the writable level, used
// after compaction collapses several frozen levels into one. The base the
// caller compacted must still be the current base (checked by the caller
// via pointer identity on the StaticLeveledMap it read) or this call is
// unsafe to make; that check is the caller's responsibility.
func (sm *StateMachine) ReplaceBase(newFrozen []*store.LevelData) {
	sm.levels.Store(sm.Levels().ReplaceFrozenLevels(newFrozen))
}
