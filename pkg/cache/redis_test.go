package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisTier(t *testing.T) (*RedisTier, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisTier(client), mr
}

func TestRedisTier_GetSet(t *testing.T) {
	ctx := context.Background()
	tier, mr := newRedisTier(t)

	_, err := tier.Get(ctx, "qa:missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, tier.Set(ctx, "qa:1", []byte(`{"text":"hi"}`), time.Hour))
	v, err := tier.Get(ctx, "qa:1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"hi"}`, string(v))
	assert.Equal(t, time.Hour, mr.TTL("qa:1"))

	// 过期后读取不到
	mr.FastForward(time.Hour)
	_, err = tier.Get(ctx, "qa:1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisTier_Clear(t *testing.T) {
	ctx := context.Background()
	tier, mr := newRedisTier(t)

	for i := 0; i < 1200; i++ {
		require.NoError(t, tier.Set(ctx, fmt.Sprintf("qa:%d", i), []byte("v"), 0))
	}
	require.NoError(t, tier.Set(ctx, "emb:1", []byte("v"), 0))

	n, err := tier.Clear(ctx, "qa:")
	require.NoError(t, err)
	assert.EqualValues(t, 1200, n)
	assert.True(t, mr.Exists("emb:1"))
	assert.Len(t, mr.Keys(), 1)
}

func TestRedisTier_Delete(t *testing.T) {
	ctx := context.Background()
	tier, mr := newRedisTier(t)

	require.NoError(t, tier.Set(ctx, "qa:1", []byte("v"), 0))
	require.NoError(t, tier.Delete(ctx, "qa:1"))
	assert.False(t, mr.Exists("qa:1"))
}

func TestRedisTier_ServerDown(t *testing.T) {
	ctx := context.Background()
	tier, mr := newRedisTier(t)
	mr.Close()

	_, err := tier.Get(ctx, "qa:1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Error(t, tier.Set(ctx, "qa:1", []byte("v"), time.Minute))
}
