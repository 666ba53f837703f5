// Package lock serializes settlements that touch the same records.
//
// Keys are acquired in ascending lexicographic order, whatever order the
// caller passes them in. With the key scheme used by the settlement engine
// ("account:<id>", "agreement:<id>", "workunit:<id>") that is accounts by
// ascending ID, then the agreement, then the work unit. A single global order
// means two callers can never wait on each other in a cycle.
package lock

import (
	"context"
	"errors"
	"slices"
)

// ErrTimeout is returned when the keys could not all be acquired before the
// context deadline. Nothing is held when it is returned.
var ErrTimeout = errors.New("lock wait timed out")

// Locker acquires a set of keys as a unit.
type Locker interface {
	// Acquire blocks until every key is held or ctx is done.
	// The returned release function must be called exactly once.
	Acquire(ctx context.Context, keys ...string) (release func(), err error)
}

// Key builders used by the settlement engine.
func AccountKey(id string) string   { return "account:" + id }
func AgreementKey(id string) string { return "agreement:" + id }
func WorkUnitKey(id string) string  { return "workunit:" + id }

// orderKeys returns the keys sorted and de-duplicated.
func orderKeys(keys []string) []string {
	ordered := slices.Clone(keys)
	slices.Sort(ordered)
	return slices.Compact(ordered)
}
