package cache

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/illmade-knight/go-crudcache/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ReadyEntryDoesNotCallLoader(t *testing.T) {
	ctx := context.Background()

	// Arrange
	var calls atomic.Int32
	c := NewCollectionCache[types.Post](zerolog.Nop())
	require.NoError(t, c.Register(types.PostsCollection, func(context.Context) ([]types.Post, error) {
		calls.Add(1)
		return []types.Post{{ID: 1, UserID: 1, Title: "A"}}, nil
	}))
	_, err := c.Read(ctx, types.PostsCollection)
	require.NoError(t, err)
	e, err := c.entry(types.PostsCollection)
	require.NoError(t, err)

	// Act: a reader that saw Loading joins only after the load completed.
	lr, err := c.load(ctx, e)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	require.Len(t, lr.records, 1)
	assert.Equal(t, 1, lr.records[0].ID)

	snap, err := c.Peek(types.PostsCollection)
	require.NoError(t, err)
	assert.Equal(t, StateReady, snap.State)
	assert.Equal(t, uint64(1), snap.Version)
}
