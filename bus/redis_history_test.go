package bus

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/questweaver/questweaver/types"
)

func setupRedisHistory(t *testing.T, capacity int) (*miniredis.Miniredis, *RedisHistory) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	cfg := DefaultRedisHistoryConfig()
	cfg.Addr = mr.Addr()
	cfg.Capacity = capacity

	store, err := NewRedisHistory(cfg, zap.NewNop())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close()
		mr.Close()
	})
	return mr, store
}

func TestRedisHistory_AppendAndRecent(t *testing.T) {
	_, store := setupRedisHistory(t, 100)
	ctx := context.Background()

	msg := types.NewTaskAllocated("scheduler", "narrator-1", "task-1")
	require.NoError(t, store.Append(ctx, msg))

	got, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, msg.ID, got[0].ID)
	assert.Equal(t, types.KindNotification, got[0].Kind)
}

func TestRedisHistory_TrimsToCapacity(t *testing.T) {
	_, store := setupRedisHistory(t, 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, types.NewTaskAllocated("s", "a", fmt.Sprintf("t%d", i))))
	}

	got, err := store.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
}

func TestRedisHistory_RecentLimit(t *testing.T) {
	_, store := setupRedisHistory(t, 100)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, store.Append(ctx, types.NewTaskAllocated("s", "a", fmt.Sprintf("t%d", i))))
	}

	got, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRedisHistory_Ping(t *testing.T) {
	mr, store := setupRedisHistory(t, 10)
	require.NoError(t, store.Ping(context.Background()))
	mr.Close()
	assert.Error(t, store.Ping(context.Background()))
}

func TestNewRedisHistory_BadAddr(t *testing.T) {
	t.Parallel()
	cfg := DefaultRedisHistoryConfig()
	cfg.Addr = "127.0.0.1:1"
	_, err := NewRedisHistory(cfg, nil)
	assert.Error(t, err)
}

func TestNewRedisHistory_NilLogger(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := DefaultRedisHistoryConfig()
	cfg.Addr = mr.Addr()
	store, err := NewRedisHistory(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, store.Close())
}
