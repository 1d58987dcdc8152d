package readstate

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGetDefaultsToFalse(t *testing.T) {
	store := openTestStore(t)
	assert.False(t, store.Get("chat-1"))
}

func TestSetReadTruePromotesAndPersists(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetReadTrue(ctx, "chat-1"))
	assert.True(t, store.Get("chat-1"))

	persisted, err := store.Persisted(ctx, "chat-1")
	require.NoError(t, err)
	assert.True(t, persisted)
}

func TestSetReadTrueIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetReadTrue(ctx, "chat-1"))
	require.NoError(t, store.SetReadTrue(ctx, "chat-1"))
	assert.True(t, store.Get("chat-1"))
}

func TestEmptyConversationIDIsIgnored(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.SetReadTrue(context.Background(), ""))
	assert.False(t, store.Get(""))
}

func TestReadStateSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "readstate.db")
	ctx := context.Background()

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.SetReadTrue(ctx, "chat-7"))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.True(t, reopened.Get("chat-7"), "promotion must survive a reload")
	assert.False(t, reopened.Get("chat-8"))
}
