package attach

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/batteries/internal/blob"
	"github.com/roach88/batteries/internal/blob/memory"
)

func TestFile_FlushOnlyWhenDirty(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	f := New("uploads/articles", "cover.png")
	assert.Equal(t, "uploads/articles/cover.png", f.Key())

	info, err := f.Flush(ctx, store, nil)
	require.NoError(t, err)
	assert.Empty(t, info.Key)

	_, err = f.WriteString("png-bytes")
	require.NoError(t, err)
	assert.True(t, f.Dirty())

	info, err = f.Flush(ctx, store, map[string]string{"record-key": "abc"})
	require.NoError(t, err)
	assert.False(t, f.Dirty())
	assert.Equal(t, "image/png", info.ContentType)
	assert.Equal(t, "abc", info.Metadata["record-key"])

	got, err := f.ReadAll(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(got))
}

func TestFile_FlushRequiresFilename(t *testing.T) {
	f := New("uploads", "")
	_, err := f.Write([]byte("x"))
	require.NoError(t, err)

	_, err = f.Flush(context.Background(), memory.New(), nil)
	assert.Error(t, err)
}

func TestFile_Remove(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	f := New("p", "a.txt")
	_, _ = f.WriteString("data")
	_, err := f.Flush(ctx, store, nil)
	require.NoError(t, err)

	existed, err := f.Remove(ctx, store)
	require.NoError(t, err)
	assert.True(t, existed)

	_, err = f.ReadAll(ctx, store)
	assert.ErrorIs(t, err, blob.ErrNotFound)
}
