// Package errors defines the small set of struct-based sentinel errors that
// flow out of the storage layers as typed values rather than opaque wrapped
// strings. Everything else uses github.com/cockroachdb/errors for
// annotation and stack traces.
package errors

import "fmt"

// DuplicateKeyError is returned by a unique btree index when an insert
// would collide with an existing key.
type DuplicateKeyError struct {
	Key string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key violation: key %q already exists in unique index", e.Key)
}

// CorruptionError marks on-disk or in-stream data that fails its own
// structural invariants (bad framing, an impossible sequence, a
// checksum/shape mismatch). Per the error taxonomy this class is fatal:
// callers are expected to abort the process rather than attempt repair.
type CorruptionError struct {
	Context string
	Err     error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corruption detected (%s): %v", e.Context, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// UnsupportedError marks a data version or feature the running binary does
// not know how to interpret. Fatal, same as CorruptionError.
type UnsupportedError struct {
	What string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported: %s", e.What)
}

// VersionTooOldError is returned at startup when on-disk data predates the
// oldest version this binary can upgrade from. It carries an
// operator-facing remediation hint.
type VersionTooOldError struct {
	Found     uint64
	MinNeeded uint64
	Hint      string
}

func (e *VersionTooOldError) Error() string {
	return fmt.Sprintf("on-disk data version %d is older than the minimum supported version %d: %s",
		e.Found, e.MinNeeded, e.Hint)
}
