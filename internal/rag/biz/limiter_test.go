package biz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	utilerrors "github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

func TestGenerationLimiter_RejectsWhenQueueFull(t *testing.T) {
	l := NewGenerationLimiter(1, 1, nil)

	release, err := l.Acquire(context.Background())
	require.NoError(t, err)

	queued := make(chan error, 1)
	go func() {
		r, err := l.Acquire(context.Background())
		if err == nil {
			r()
		}
		queued <- err
	}()
	require.Eventually(t, func() bool { return l.Stats().Waiting == 1 }, time.Second, time.Millisecond)

	_, err = l.Acquire(context.Background())
	assert.ErrorIs(t, err, utilerrors.ErrOverloaded)
	assert.EqualValues(t, 1, l.Stats().Rejected)

	release()
	release()
	require.NoError(t, <-queued)

	stats := l.Stats()
	assert.Zero(t, stats.InFlight)
	assert.Zero(t, stats.Waiting)
	assert.EqualValues(t, 1, stats.Capacity)
}

func TestGenerationLimiter_DeadlineWhileQueued(t *testing.T) {
	l := NewGenerationLimiter(1, 4, nil)
	release, err := l.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, l.Stats().Waiting)
}

func TestGenerationLimiter_ZeroQueue(t *testing.T) {
	l := NewGenerationLimiter(2, 0, nil)
	r1, err := l.Acquire(context.Background())
	require.NoError(t, err)
	r2, err := l.Acquire(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, l.Stats().InFlight)

	_, err = l.Acquire(context.Background())
	assert.ErrorIs(t, err, utilerrors.ErrOverloaded)

	r1()
	r2()
}
