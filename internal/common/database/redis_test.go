package database

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compras-aggregator/internal/common/config"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisClient) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rc, err := NewRedis(config.RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })
	return mr, rc
}

func TestNewRedis_RequiresAddress(t *testing.T) {
	_, err := NewRedis(config.RedisConfig{})
	assert.Error(t, err)
}

func TestRedis_SetGetDel(t *testing.T) {
	mr, rc := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.Ping(ctx))
	require.NoError(t, rc.Set(ctx, "compras:pncp:k", []byte("v"), time.Minute))

	got, err := rc.GetBytes(ctx, "compras:pncp:k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
	assert.Equal(t, time.Minute, mr.TTL("compras:pncp:k"))

	require.NoError(t, rc.Del(ctx, "compras:pncp:k"))
	_, err = rc.GetBytes(ctx, "compras:pncp:k")
	assert.True(t, IsMiss(err))
}

func TestRedis_DeleteByPrefix(t *testing.T) {
	mr, rc := newTestRedis(t)
	ctx := context.Background()

	for i := 0; i < 450; i++ {
		require.NoError(t, mr.Set("compras:sinapi:"+strconv.Itoa(i), "x"))
	}
	require.NoError(t, mr.Set("compras:sicro:keep", "x"))

	n, err := rc.DeleteByPrefix(ctx, "compras:sinapi:")
	require.NoError(t, err)
	assert.Equal(t, int64(450), n)
	assert.True(t, mr.Exists("compras:sicro:keep"))
	assert.Len(t, mr.Keys(), 1)
}

func TestRedis_PingFailsWhenServerDown(t *testing.T) {
	mr, rc := newTestRedis(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	assert.Error(t, rc.Ping(ctx))
}
