package memory

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/batteries/internal/blob"
)

func TestStore_PutGetOverwrite(t *testing.T) {
	ctx := context.Background()
	s := New()
	assert.Equal(t, blob.DriverMemory, s.Driver())

	_, err := s.Put(ctx, "articles/a.txt", strings.NewReader("one"), blob.PutOptions{ContentType: "text/plain"})
	require.NoError(t, err)
	info, err := s.Put(ctx, "articles/a.txt", strings.NewReader("second"), blob.PutOptions{ContentType: "text/plain"})
	require.NoError(t, err)
	assert.Equal(t, int64(6), info.Size)

	got, rc, err := s.Get(ctx, "articles/a.txt")
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "second", string(b))
	assert.Equal(t, "text/plain", got.ContentType)
}

func TestStore_Missing(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, _, err := s.Get(ctx, "nope")
	assert.ErrorIs(t, err, blob.ErrNotFound)
	_, err = s.Head(ctx, "nope")
	assert.ErrorIs(t, err, blob.ErrNotFound)

	existed, err := s.Delete(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestStore_ListPrefix(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, k := range []string{"b/2", "a/1", "b/1"} {
		_, err := s.Put(ctx, k, strings.NewReader(k), blob.PutOptions{})
		require.NoError(t, err)
	}

	infos, err := s.List(ctx, "b/")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "b/1", infos[0].Key)
	assert.Equal(t, "b/2", infos[1].Key)
}
