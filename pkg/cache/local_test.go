package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalTier_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	tier, err := NewLocalTier(3, nil)
	require.NoError(t, err)

	// 1. 写满容量
	for i := 1; i <= 3; i++ {
		require.NoError(t, tier.Set(ctx, fmt.Sprintf("k%d", i), []byte{byte(i)}, 0))
	}

	// 2. 访问 k1，使 k2 成为最久未使用
	_, err = tier.Get(ctx, "k1")
	require.NoError(t, err)

	// 3. 第 capacity+1 次写入只淘汰 k2
	require.NoError(t, tier.Set(ctx, "k4", []byte{4}, 0))

	assert.Equal(t, 3, tier.Len())
	assert.False(t, tier.Contains("k2"))
	for _, key := range []string{"k1", "k3", "k4"} {
		assert.True(t, tier.Contains(key), key)
	}
}

func TestLocalTier_TTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tier, err := NewLocalTier(8, func() time.Time { return now })
	require.NoError(t, err)

	require.NoError(t, tier.Set(ctx, "qa:1", []byte("v"), time.Minute))

	now = now.Add(59 * time.Second)
	v, err := tier.Get(ctx, "qa:1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	now = now.Add(time.Second)
	_, err = tier.Get(ctx, "qa:1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, tier.Contains("qa:1"))
}

func TestLocalTier_ClearByPrefix(t *testing.T) {
	ctx := context.Background()
	tier, err := NewLocalTier(8, nil)
	require.NoError(t, err)

	for _, key := range []string{"qa:1", "qa:2", "emb:1"} {
		require.NoError(t, tier.Set(ctx, key, []byte("v"), 0))
	}

	n, err := tier.Clear(ctx, "qa:")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.True(t, tier.Contains("emb:1"))

	require.NoError(t, tier.Delete(ctx, "emb:1"))
	require.NoError(t, tier.Delete(ctx, "missing"))
	assert.Equal(t, 0, tier.Len())
}

func TestNewLocalTier_InvalidSize(t *testing.T) {
	_, err := NewLocalTier(0, nil)
	assert.Error(t, err)
}
