package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorStorage(t *testing.T) {
	ctx := context.Background()
	store := NewCursorStorage()

	_, found, err := store.LoadCursor(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.SaveCursor(ctx, "s2", 4))
	require.NoError(t, store.SaveCursor(ctx, "s1", 7))
	require.NoError(t, store.SaveCursor(ctx, "s1", 9))

	next, found, err := store.LoadCursor(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(9), next)

	cursors, err := store.ListCursors(ctx)
	require.NoError(t, err)
	require.Len(t, cursors, 2)
	assert.Equal(t, "s1", cursors[0].SessionID)
	assert.Equal(t, "s2", cursors[1].SessionID)

	require.NoError(t, store.DeleteCursor(ctx, "s1"))
	_, found, err = store.LoadCursor(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, found)
}
