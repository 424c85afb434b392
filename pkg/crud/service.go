// Package crud ties a remote Source, the collection cache and the notifier
// together: every user action goes to the remote first, then updates the
// cache, then reports its outcome.
package crud

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/illmade-knight/go-crudcache/pkg/cache"
	"github.com/illmade-knight/go-crudcache/pkg/notify"
	"github.com/illmade-knight/go-crudcache/pkg/resource"
	"github.com/illmade-knight/go-crudcache/pkg/types"
	"github.com/rs/zerolog"
)

// Querier is implemented by sources that can list a filtered subset, such
// as the REST client's ListWhere.
type Querier[R types.Record] interface {
	ListWhere(ctx context.Context, query url.Values) ([]R, error)
}

// Service handles the operations of one collection.
//
// Cache mutations happen only after the remote has confirmed the change, so
// a failed create or update never leaves a phantom record behind. Creates
// and updates are applied to the cached list directly; deletes invalidate
// it and the next read refetches.
type Service[R types.Record] struct {
	collection string
	source     resource.Source[R]
	cache      *cache.CollectionCache[R]
	notifier   notify.Notifier
	logger     zerolog.Logger
}

// NewService registers source.List as the loader for the source's collection
// in collectionCache and returns a Service for it.
func NewService[R types.Record](
	source resource.Source[R],
	collectionCache *cache.CollectionCache[R],
	notifier notify.Notifier,
	logger zerolog.Logger,
) (*Service[R], error) {
	if source == nil || collectionCache == nil || notifier == nil {
		return nil, fmt.Errorf("source, cache, and notifier cannot be nil")
	}
	collection := source.Collection()
	if err := collectionCache.Register(collection, source.List); err != nil {
		return nil, fmt.Errorf("failed to register collection %q: %w", collection, err)
	}
	return &Service[R]{
		collection: collection,
		source:     source,
		cache:      collectionCache,
		notifier:   notifier,
		logger:     logger.With().Str("component", "CrudService").Str("collection", collection).Logger(),
	}, nil
}

// Collection returns the collection key this service manages.
func (s *Service[R]) Collection() string { return s.collection }

// List reads the collection through the cache.
func (s *Service[R]) List(ctx context.Context) ([]R, error) {
	records, err := s.cache.Read(ctx, s.collection)
	if err != nil {
		s.report(ctx, notify.OpList, 0, err)
		return nil, err
	}
	return records, nil
}

// ListWhere passes a filtered list straight to the source. Results are not
// cached. It fails if the source cannot filter.
func (s *Service[R]) ListWhere(ctx context.Context, query url.Values) ([]R, error) {
	q, ok := s.source.(Querier[R])
	if !ok {
		return nil, fmt.Errorf("source for %q does not support filtered lists", s.collection)
	}
	return q.ListWhere(ctx, query)
}

// Peek returns the cached snapshot without loading.
func (s *Service[R]) Peek() (cache.Snapshot[R], error) {
	return s.cache.Peek(s.collection)
}

// Lookup finds a record in the cached collection, stale or not.
func (s *Service[R]) Lookup(id int) (R, bool) {
	var zero R
	snap, err := s.cache.Peek(s.collection)
	if err != nil {
		return zero, false
	}
	for _, r := range snap.Records {
		if r.GetID() == id {
			return r, true
		}
	}
	return zero, false
}

// Get fetches a single record from the source.
func (s *Service[R]) Get(ctx context.Context, id int) (R, error) {
	return s.source.Get(ctx, id)
}

// Create validates record, creates it remotely and appends the created
// record to the cached collection.
func (s *Service[R]) Create(ctx context.Context, record R) (R, error) {
	var zero R
	if err := types.Validate(record); err != nil {
		return zero, err
	}

	created, err := s.source.Create(ctx, record)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to create record.")
		s.report(ctx, notify.OpCreate, 0, err)
		return zero, err
	}

	if err := s.cache.OptimisticInsert(s.collection, created); err != nil {
		s.fallBackToInvalidate(err, created.GetID())
	}
	s.report(ctx, notify.OpCreate, created.GetID(), nil)
	return created, nil
}

// Update validates record, updates it remotely and replaces the cached copy
// with the remote's echo.
func (s *Service[R]) Update(ctx context.Context, id int, record R) (R, error) {
	var zero R
	if err := types.Validate(record); err != nil {
		return zero, err
	}

	updated, err := s.source.Update(ctx, id, record)
	if err != nil {
		s.logger.Error().Err(err).Int("record_id", id).Msg("Failed to update record.")
		s.report(ctx, notify.OpUpdate, id, err)
		return zero, err
	}

	if err := s.cache.OptimisticReplace(s.collection, updated); err != nil {
		s.fallBackToInvalidate(err, id)
	}
	s.report(ctx, notify.OpUpdate, id, nil)
	return updated, nil
}

// Delete removes the record remotely and invalidates the collection. On
// failure the cached collection is left exactly as it was.
func (s *Service[R]) Delete(ctx context.Context, id int) error {
	if err := s.source.Delete(ctx, id); err != nil {
		s.logger.Error().Err(err).Int("record_id", id).Msg("Failed to delete record.")
		s.report(ctx, notify.OpDelete, id, err)
		return err
	}
	if err := s.cache.Invalidate(s.collection); err != nil {
		s.logger.Error().Err(err).Msg("Failed to invalidate collection after delete.")
	}
	s.report(ctx, notify.OpDelete, id, nil)
	return nil
}

// fallBackToInvalidate handles an optimistic update that could not be
// applied because the entry was not Ready: the next read will include the change.
func (s *Service[R]) fallBackToInvalidate(err error, id int) {
	if !errors.Is(err, cache.ErrNotReady) {
		s.logger.Error().Err(err).Int("record_id", id).Msg("Failed to apply optimistic update.")
		return
	}
	s.logger.Debug().Int("record_id", id).Msg("Collection not ready, invalidating instead of updating in place.")
	if err := s.cache.Invalidate(s.collection); err != nil {
		s.logger.Error().Err(err).Msg("Failed to invalidate collection.")
	}
}

func (s *Service[R]) report(ctx context.Context, op notify.Op, id int, opErr error) {
	n := notify.Outcome(s.collection, op, id, opErr)
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn().Err(err).Str("notification_id", n.ID).Msg("Failed to deliver notification.")
	}
}
