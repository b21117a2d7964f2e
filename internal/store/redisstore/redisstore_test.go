package redisstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/batteries/internal/store"
	"github.com/roach88/batteries/internal/store/storetest"
)

// setupTestStore creates a miniredis instance and returns a connected Store.
func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	s, err := Open(Options{
		URL:            fmt.Sprintf("redis://%s", mr.Addr()),
		ConnectTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisBackend(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Backend {
		s, _ := setupTestStore(t)
		return s
	})
}

func TestKeyLayout(t *testing.T) {
	s, mr := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, storetest.NewNote(t, "k1", "hello", "Hello")))

	assert.True(t, mr.Exists("batteries:rec:note:k1"))
	got, err := mr.Get("batteries:slug:note:hello")
	require.NoError(t, err)
	assert.Equal(t, "k1", got)
	members, err := mr.Members("batteries:keys:note")
	require.NoError(t, err)
	assert.Equal(t, []string{"k1"}, members)
}

func TestSlugRenameReleasesOldSlug(t *testing.T) {
	s, mr := setupTestStore(t)
	ctx := context.Background()

	e := storetest.NewNote(t, "k1", "hello", "Hello")
	require.NoError(t, s.Insert(ctx, e))
	require.NoError(t, e.SetAttr("slug", "goodbye"))
	require.NoError(t, s.Update(ctx, e))

	assert.False(t, mr.Exists("batteries:slug:note:hello"))
	assert.True(t, mr.Exists("batteries:slug:note:goodbye"))
}

func TestOpenFailsWithoutServer(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Open(Options{URL: "redis://" + addr, ConnectTimeout: 200 * time.Millisecond})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
}

func TestOpenRejectsBadURL(t *testing.T) {
	_, err := Open(Options{URL: "://nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse Redis URL")
}

func TestInsertUnencodableLogLeavesNothingBehind(t *testing.T) {
	s, mr := setupTestStore(t)
	ctx := context.Background()

	e := storetest.NewNote(t, "k1", "hello", "Hello")
	_, err := e.Info("import", "created", nil)
	require.NoError(t, err)
	// encoding/json rejects years past 9999.
	e.StampPendingLogs(time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC))

	err = s.Insert(ctx, e)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encode log message")
	assert.False(t, mr.Exists("batteries:rec:note:k1"))
	assert.False(t, mr.Exists("batteries:slug:note:hello"))

	// The key and slug stay free for a well-formed retry.
	e.ClearLogs()
	_, err = e.Info("import", "created", nil)
	require.NoError(t, err)
	e.StampPendingLogs(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, s.Insert(ctx, e))
	got, err := mr.Get("batteries:slug:note:hello")
	require.NoError(t, err)
	assert.Equal(t, "k1", got)
}

func TestUpdateUnencodableLogKeepsSlugClaims(t *testing.T) {
	s, mr := setupTestStore(t)
	ctx := context.Background()

	e := storetest.NewNote(t, "k1", "hello", "Hello")
	require.NoError(t, s.Insert(ctx, e))

	require.NoError(t, e.SetAttr("slug", "goodbye"))
	_, err := e.Info("import", "renamed", nil)
	require.NoError(t, err)
	e.StampPendingLogs(time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC))

	require.Error(t, s.Update(ctx, e))
	assert.False(t, mr.Exists("batteries:slug:note:goodbye"))
	assert.True(t, mr.Exists("batteries:slug:note:hello"))
}
