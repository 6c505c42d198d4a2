package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "covers.db")

	store, err := Open(path)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	t.Run("missing cover loads as absent", func(t *testing.T) {
		_, ok, err := store.Load(ctx, "salon")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("save then load yields the same position", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, "salon", 42.5))

		position, ok, err := store.Load(ctx, "salon")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 42.5, position)
	})

	t.Run("save overwrites the previous snapshot", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, "salon", 10))

		position, ok, err := store.Load(ctx, "salon")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 10.0, position)
	})

	t.Run("covers are isolated by name", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, "kuchnia", 80))

		position, ok, err := store.Load(ctx, "salon")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 10.0, position)
	})
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "covers.db")
	ctx := context.Background()

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, "salon", 66))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	position, ok, err := reopened.Load(ctx, "salon")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 66.0, position)
}
