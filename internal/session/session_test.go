package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/around-me/discovery/internal/cache"
	"github.com/around-me/discovery/internal/model"
)

func somePlaces() []model.FusedPlace {
	return []model.FusedPlace{
		{Name: "Blue Bottle", Rating: 4.5, ReviewCount: 900},
		{Name: "Sightglass", Rating: 4.4, ReviewCount: 700},
	}
}

func TestResultStoreSaveAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewResultStore(cache.NewMemory(16))

	id, err := store.Save(ctx, somePlaces(), "")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Blue Bottle", got[0].Name)
}

func TestResultStoreGetMissingReturnsNilNil(t *testing.T) {
	store := NewResultStore(cache.NewMemory(16))

	got, err := store.Get(context.Background(), "no-such-id")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestResultStoreLatestFollowsConversationLink(t *testing.T) {
	ctx := context.Background()
	store := NewResultStore(cache.NewMemory(16))

	_, err := store.Save(ctx, somePlaces()[:1], "conv-1")
	require.NoError(t, err)

	// A second save for the same conversation supersedes the first.
	_, err = store.Save(ctx, somePlaces(), "conv-1")
	require.NoError(t, err)

	got, err := store.Latest(ctx, "conv-1")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestResultStoreLatestUnknownConversation(t *testing.T) {
	store := NewResultStore(cache.NewMemory(16))

	got, err := store.Latest(context.Background(), "conv-unknown")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestResultStoreIDsAreUnique(t *testing.T) {
	ctx := context.Background()
	store := NewResultStore(cache.NewMemory(16))

	a, err := store.Save(ctx, somePlaces(), "")
	require.NoError(t, err)
	b, err := store.Save(ctx, somePlaces(), "")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
