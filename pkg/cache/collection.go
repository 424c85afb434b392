// Package cache provides the client-side collection cache: one entry per
// collection key, read-through loading with single-flight semantics,
// optimistic insert and replace, invalidation, and change subscriptions.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/illmade-knight/go-crudcache/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrUnknownKey is returned for a key that has no registered loader.
	ErrUnknownKey = errors.New("unknown collection key")
	// ErrNotReady is returned by optimistic updates on an entry that is not Ready.
	ErrNotReady = errors.New("collection is not ready")
)

// entry holds the state of one collection. mu covers every field below it.
type entry[R types.Record] struct {
	key    string
	loader Loader[R]

	mu       sync.Mutex
	state    State
	records  []R
	inFlight bool
	// generation increments on every invalidation. A load that started in an
	// older generation may store its records but cannot make the entry Ready.
	generation uint64
	version    uint64
	lastErr    error
	subs       map[int]chan Snapshot[R]
}

// loadResult is what a single-flight load hands to all of its waiters.
type loadResult[R any] struct {
	records    []R
	generation uint64
}

// CollectionCache is a thread-safe, in-memory store mapping collection keys
// to their last known ordered records. Entries live as long as the cache.
type CollectionCache[R types.Record] struct {
	mu      sync.RWMutex
	entries map[string]*entry[R]
	nextSub int

	// sf prevents multiple goroutines from loading the same key at once.
	sf     singleflight.Group
	logger zerolog.Logger
}

// NewCollectionCache creates an empty cache. Keys must be registered before use.
func NewCollectionCache[R types.Record](logger zerolog.Logger) *CollectionCache[R] {
	return &CollectionCache[R]{
		entries: make(map[string]*entry[R]),
		logger:  logger.With().Str("component", "CollectionCache").Logger(),
	}
}

// Register binds a loader to a key. The entry starts Empty.
func (c *CollectionCache[R]) Register(key string, loader Loader[R]) error {
	if loader == nil {
		return fmt.Errorf("loader for %q cannot be nil", key)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return fmt.Errorf("collection %q is already registered", key)
	}
	c.entries[key] = &entry[R]{
		key:    key,
		loader: loader,
		subs:   make(map[int]chan Snapshot[R]),
	}
	c.logger.Debug().Str("collection", key).Msg("Registered collection.")
	return nil
}

// Keys returns the registered keys in sorted order.
func (c *CollectionCache[R]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Read returns the collection for key. A Ready entry is served from memory.
// Otherwise the key's loader is called, with concurrent readers sharing a
// single call. On failure every waiter receives the error and the entry is
// left Invalidated, so the next Read starts over.
//
// The load runs detached from ctx's cancellation so one impatient caller
// cannot fail the others; ctx only bounds how long this caller waits.
func (c *CollectionCache[R]) Read(ctx context.Context, key string) ([]R, error) {
	e, err := c.entry(key)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.state == StateReady {
		out := cloneRecords(e.records)
		e.mu.Unlock()
		return out, nil
	}
	observed := e.generation
	e.mu.Unlock()

	loadCtx := context.WithoutCancel(ctx)
	for {
		ch := c.sf.DoChan(key, func() (interface{}, error) {
			return c.load(loadCtx, e)
		})

		var res singleflight.Result
		select {
		case res = <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if res.Err != nil {
			return nil, res.Err
		}

		lr := res.Val.(loadResult[R])
		if lr.generation >= observed {
			return cloneRecords(lr.records), nil
		}
		// We joined a load that started before the invalidation this caller
		// already saw. That load has now finished, so the next DoChan starts
		// a fresh one.
		c.logger.Debug().Str("collection", key).Msg("Joined a stale load, reading again.")
	}
}

// load performs one Loading transition. It is only ever run through sf.
func (c *CollectionCache[R]) load(ctx context.Context, e *entry[R]) (loadResult[R], error) {
	e.mu.Lock()
	if e.state == StateReady {
		// A previous load finished between the caller's state check and its
		// join; serve what it stored.
		lr := loadResult[R]{records: cloneRecords(e.records), generation: e.generation}
		e.mu.Unlock()
		return lr, nil
	}
	startGen := e.generation
	e.state = StateLoading
	e.inFlight = true
	c.publishLocked(e)
	e.mu.Unlock()

	records, err := e.loader(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.inFlight = false

	if err != nil {
		e.state = StateInvalidated
		e.lastErr = err
		c.publishLocked(e)
		c.logger.Warn().Err(err).Str("collection", e.key).Msg("Failed to load collection.")
		return loadResult[R]{}, fmt.Errorf("failed to load collection %q: %w", e.key, err)
	}

	e.records = dedupe(records)
	e.version++
	e.lastErr = nil
	if e.generation == startGen {
		e.state = StateReady
	} else {
		// Invalidated while in flight: keep the fresher records for display,
		// but the next Read must refetch.
		e.state = StateInvalidated
	}
	c.publishLocked(e)
	c.logger.Debug().Str("collection", e.key).Int("count", len(e.records)).Str("state", e.state.String()).Msg("Loaded collection.")

	return loadResult[R]{records: cloneRecords(e.records), generation: startGen}, nil
}

// OptimisticInsert appends record to a Ready collection without waiting for
// anything else. If a record with the same id is already present it is
// replaced in place instead, so identifiers stay unique.
func (c *CollectionCache[R]) OptimisticInsert(key string, record R) error {
	e, err := c.entry(key)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateReady {
		return fmt.Errorf("insert into %q (%s): %w", key, e.state, ErrNotReady)
	}

	if i := indexOf(e.records, record.GetID()); i >= 0 {
		e.records[i] = record
	} else {
		e.records = append(e.records, record)
	}
	e.version++
	c.publishLocked(e)
	return nil
}

// OptimisticReplace swaps the stored record with the same id for record,
// preserving order. It is a silent no-op when no record matches.
func (c *CollectionCache[R]) OptimisticReplace(key string, record R) error {
	e, err := c.entry(key)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateReady {
		return fmt.Errorf("replace in %q (%s): %w", key, e.state, ErrNotReady)
	}

	i := indexOf(e.records, record.GetID())
	if i < 0 {
		c.logger.Debug().Str("collection", key).Int("record_id", record.GetID()).Msg("Replace target not in collection, ignoring.")
		return nil
	}
	e.records[i] = record
	e.version++
	c.publishLocked(e)
	return nil
}

// Invalidate marks the entry stale regardless of its state. The stored
// records stay visible through Peek until a new load replaces them.
// Repeated calls before the next Read collapse into one refetch.
func (c *CollectionCache[R]) Invalidate(key string) error {
	e, err := c.entry(key)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateInvalidated || e.state == StateEmpty {
		return nil
	}
	e.generation++
	e.state = StateInvalidated
	c.publishLocked(e)
	c.logger.Debug().Str("collection", key).Msg("Invalidated collection.")
	return nil
}

// Peek returns the current snapshot of key without loading anything.
func (c *CollectionCache[R]) Peek(key string) (Snapshot[R], error) {
	e, err := c.entry(key)
	if err != nil {
		return Snapshot[R]{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(), nil
}

func (c *CollectionCache[R]) entry(key string) (*entry[R], error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return e, nil
}

func (e *entry[R]) snapshotLocked() Snapshot[R] {
	return Snapshot[R]{
		Key:     e.key,
		State:   e.state,
		Records: cloneRecords(e.records),
		Loading: e.inFlight,
		Err:     e.lastErr,
		Version: e.version,
	}
}

func indexOf[R types.Record](records []R, id int) int {
	for i, r := range records {
		if r.GetID() == id {
			return i
		}
	}
	return -1
}

// dedupe keeps the first position of each id with the last value seen for it.
func dedupe[R types.Record](records []R) []R {
	out := make([]R, 0, len(records))
	pos := make(map[int]int, len(records))
	for _, r := range records {
		if i, ok := pos[r.GetID()]; ok {
			out[i] = r
			continue
		}
		pos[r.GetID()] = len(out)
		out = append(out, r)
	}
	return out
}

func cloneRecords[R any](records []R) []R {
	if records == nil {
		return nil
	}
	out := make([]R, len(records))
	copy(out, records)
	return out
}
