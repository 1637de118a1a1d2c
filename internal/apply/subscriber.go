package apply

import "github.com/metakv/metakv/internal/kv"

// Change describes one key's before/after value as observed during a
// single entry's application. Prev or Result may be nil (absent), but
// never both, since a no-op change is never emitted.
type Change struct {
	Key    kv.Key
	Prev   *kv.SeqV
	Result *kv.SeqV
}

// Subscriber receives the batch of changes produced by applying one log
// entry, in the order the writes happened. Delivery happens once per
// entry, after every write the entry produced has landed, so a subscriber
// never sees a partially-applied entry.
type Subscriber interface {
	KVChanged(changes []Change)
}

// NopSubscriber discards every change; the zero value is ready to use.
type NopSubscriber struct{}

func (NopSubscriber) KVChanged([]Change) {}
