// Package kvapi is the read-only surface a caller queries the state
// machine through: get, batched get, and prefix listing, each filtering
// out entries whose TTL has passed as of nowMs, a time in milliseconds
// that the caller passes in; the Reader does not read the clock itself.
// This filter is distinct from (and can lag behind, or run ahead of) the
// background expire sweep, which only advances as of the last applied
// entry's time_ms.
package kvapi

import (
	"strings"

	"github.com/metakv/metakv/internal/kv"
	"github.com/metakv/metakv/internal/statemachine"
)

// KVPair is one live entry returned by PrefixListKV.
type KVPair struct {
	Key   kv.Key
	Value kv.SeqV
}

// Reader is a thin, write-free wrapper over a StateMachine. The only way
// to mutate state is through an apply.Applier; Reader never touches the
// writable level.
type Reader struct {
	sm *statemachine.StateMachine
}

// New builds a Reader bound to sm.
func New(sm *statemachine.StateMachine) *Reader {
	return &Reader{sm: sm}
}

// GetKV returns key's live value, or ok == false if it is absent,
// tombstoned, or has expired as of nowMs.
func (r *Reader) GetKV(key kv.Key, nowMs uint64) (kv.SeqV, bool) {
	v, ok := r.sm.GetKV(key)
	if !ok || expired(v, nowMs) {
		return kv.SeqV{}, false
	}
	return v, true
}

// MGetKV resolves each of keys independently, preserving order. A missing,
// tombstoned, or expired key yields a nil entry at that position.
func (r *Reader) MGetKV(keys []kv.Key, nowMs uint64) []*kv.SeqV {
	out := make([]*kv.SeqV, len(keys))
	for i, k := range keys {
		if v, ok := r.GetKV(k, nowMs); ok {
			vv := v
			out[i] = &vv
		}
	}
	return out
}

// PrefixListKV returns every live, non-expired key under prefix in
// ascending key order.
func (r *Reader) PrefixListKV(prefix kv.Key, nowMs uint64) []KVPair {
	it := r.sm.Levels().Range(prefix)
	defer it.Close()

	var out []KVPair
	for it.Valid() {
		key, m := it.Entry()
		if !strings.HasPrefix(string(key), string(prefix)) {
			break
		}
		if !m.IsTombStone() {
			v := m.ToSeqV()
			if !expired(v, nowMs) {
				out = append(out, KVPair{Key: key, Value: v})
			}
		}
		if !it.Next() {
			break
		}
	}
	return out
}

func expired(v kv.SeqV, nowMs uint64) bool {
	return v.Meta.HasExpiry() && v.Meta.ExpireAtMs <= nowMs
}
