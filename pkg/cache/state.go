package cache

import "context"

// State is the lifecycle position of a cache entry.
//
//	Empty -> Loading -> Ready -> Invalidated -> Loading -> ...
//
// A failed load moves the entry to Invalidated. There is no terminal state.
type State int

const (
	StateEmpty State = iota
	StateLoading
	StateReady
	StateInvalidated
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateInvalidated:
		return "invalidated"
	default:
		return "unknown"
	}
}

// Loader fetches the full collection for one key, typically a Source's List.
type Loader[R any] func(ctx context.Context) ([]R, error)

// Snapshot is a point-in-time copy of an entry, safe to hand to a UI.
type Snapshot[R any] struct {
	Key   string
	State State
	// Records is the last stored collection. It may be stale when State is
	// Invalidated or Loading, and is nil until the first load succeeds.
	Records []R
	// Loading is true while a load is in flight, including an in-flight load
	// that has since been invalidated.
	Loading bool
	// Err is the error of the most recent failed load, cleared on success.
	Err error
	// Version increments every time Records changes.
	Version uint64
}
