package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/illmade-knight/go-crudcache/pkg/cache"
	"github.com/illmade-knight/go-crudcache/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// latest drains ch and returns the most recent snapshot, waiting up to a
// second for the first one.
func latest(t *testing.T, ch <-chan cache.Snapshot[types.Post]) cache.Snapshot[types.Post] {
	t.Helper()
	var snap cache.Snapshot[types.Post]
	select {
	case snap = <-ch:
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}
	for {
		select {
		case next, ok := <-ch:
			if !ok {
				return snap
			}
			snap = next
		default:
			return snap
		}
	}
}

func TestCollectionCache_Subscribe(t *testing.T) {
	ctx := context.Background()

	t.Run("Subscribers see loads and optimistic updates", func(t *testing.T) {
		// Arrange
		loader := &mockLoader[types.Post]{responses: [][]types.Post{{{ID: 1, Title: "A"}}}}
		c := newPostsCache(t, loader)
		updates, unsubscribe, err := c.Subscribe(types.PostsCollection)
		require.NoError(t, err)
		t.Cleanup(unsubscribe)

		// Act 1: load
		_, err = c.Read(ctx, types.PostsCollection)
		require.NoError(t, err)

		// Assert 1
		snap := latest(t, updates)
		assert.Equal(t, cache.StateReady, snap.State)
		assert.Equal(t, []int{1}, ids(snap.Records))

		// Act 2: insert
		require.NoError(t, c.OptimisticInsert(types.PostsCollection, types.Post{ID: 2}))

		// Assert 2
		snap = latest(t, updates)
		assert.Equal(t, []int{1, 2}, ids(snap.Records))

		// Act 3: invalidate
		require.NoError(t, c.Invalidate(types.PostsCollection))

		// Assert 3
		snap = latest(t, updates)
		assert.Equal(t, cache.StateInvalidated, snap.State)
		assert.Equal(t, []int{1, 2}, ids(snap.Records), "stale records remain until the refetch")
	})

	t.Run("A slow subscriber only keeps the latest snapshot", func(t *testing.T) {
		// Arrange
		loader := &mockLoader[types.Post]{responses: [][]types.Post{{{ID: 1}}}}
		c := newPostsCache(t, loader)
		updates, unsubscribe, err := c.Subscribe(types.PostsCollection)
		require.NoError(t, err)
		t.Cleanup(unsubscribe)
		_, err = c.Read(ctx, types.PostsCollection)
		require.NoError(t, err)

		// Act: many updates without reading the channel.
		for id := 2; id <= 10; id++ {
			require.NoError(t, c.OptimisticInsert(types.PostsCollection, types.Post{ID: id}))
		}

		// Assert
		snap := <-updates
		assert.Len(t, snap.Records, 10)
		select {
		case extra := <-updates:
			t.Fatalf("unexpected extra snapshot with %d records", len(extra.Records))
		default:
		}
	})

	t.Run("Unsubscribe closes the channel", func(t *testing.T) {
		c := newPostsCache(t, &mockLoader[types.Post]{})
		updates, unsubscribe, err := c.Subscribe(types.PostsCollection)
		require.NoError(t, err)

		unsubscribe()
		unsubscribe()

		_, ok := <-updates
		assert.False(t, ok)
	})

	t.Run("Unknown key", func(t *testing.T) {
		c := newPostsCache(t, &mockLoader[types.Post]{})
		_, _, err := c.Subscribe("comments")
		assert.ErrorIs(t, err, cache.ErrUnknownKey)
	})
}
