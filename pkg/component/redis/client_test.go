package redis

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	options "github.com/kart-io/sentinel-rag/pkg/options/redis"
)

func newOptions(t *testing.T, mr *miniredis.Miniredis) *options.Options {
	t.Helper()
	opts := options.NewOptions()
	opts.Host = mr.Host()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	opts.Port = port
	return opts
}

func TestNew(t *testing.T) {
	mr := miniredis.RunT(t)

	c, err := New(context.Background(), newOptions(t, mr))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Client().Set(context.Background(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	stats := c.Health(context.Background())
	assert.True(t, stats.Healthy)
	assert.Empty(t, stats.Error)
}

func TestNew_MaxRetries(t *testing.T) {
	tests := []struct {
		name       string
		maxRetries int
		want       int
	}{
		{name: "zero disables client retries", maxRetries: 0, want: 0},
		{name: "explicit retries kept", maxRetries: 2, want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mr := miniredis.RunT(t)
			opts := newOptions(t, mr)
			opts.MaxRetries = tt.maxRetries

			c, err := New(context.Background(), opts)
			require.NoError(t, err)
			defer c.Close()

			assert.Equal(t, tt.want, c.client.Options().MaxRetries)
		})
	}
}

func TestNew_Errors(t *testing.T) {
	_, err := New(context.Background(), nil)
	assert.Error(t, err)

	opts := options.NewOptions()
	opts.Port = 0
	_, err = New(context.Background(), opts)
	assert.ErrorContains(t, err, "invalid redis options")

	mr := miniredis.RunT(t)
	opts = newOptions(t, mr)
	mr.Close()
	_, err = New(context.Background(), opts)
	assert.ErrorContains(t, err, "failed to ping redis")
}

func TestHealth_ServerDown(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), newOptions(t, mr))
	require.NoError(t, err)
	defer c.Close()

	mr.Close()
	stats := c.Health(context.Background())
	assert.False(t, stats.Healthy)
	assert.NotEmpty(t, stats.Error)
}
