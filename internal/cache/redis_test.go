package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedis(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, mr
}

func TestRedis_SetGetExpire(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)

	_, ok, err := r.Get(ctx, "draft:missing")
	require.NoError(t, err)
	assert.False(t, ok, "a missing key is a miss, not an error")

	require.NoError(t, r.Set(ctx, "draft:1", `{"subject":"Hi"}`, time.Hour))
	val, ok, err := r.Get(ctx, "draft:1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"subject":"Hi"}`, val)
	assert.Equal(t, time.Hour, mr.TTL("draft:1"))

	mr.FastForward(time.Hour + time.Second)
	_, ok, err = r.Get(ctx, "draft:1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_Delete(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)

	require.NoError(t, r.Set(ctx, "sentiment:1", "neutral", 0))
	require.NoError(t, r.Delete(ctx, "sentiment:1"))
	assert.False(t, mr.Exists("sentiment:1"))

	_, ok, err := r.Get(ctx, "sentiment:1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_ServerErrorsSurface(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)

	mr.SetError("ERR backend unavailable")
	_, _, err := r.Get(ctx, "draft:1")
	assert.Error(t, err)
	mr.SetError("")
}

func TestNewRedis_Errors(t *testing.T) {
	_, err := NewRedis(context.Background(), "not a url")
	assert.ErrorContains(t, err, "parse redis url")

	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	addr := mr.Addr()
	mr.Close()
	_, err = NewRedis(context.Background(), "redis://"+addr)
	assert.ErrorContains(t, err, "ping redis")
}
