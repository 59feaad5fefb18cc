package resilience

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock 可手动推进的时间源。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func failN(b *Breaker, n int) {
	for i := 0; i < n; i++ {
		probe, err := b.Allow()
		if err != nil {
			return
		}
		b.Record(probe, OutcomeFailure)
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker("llm", DefaultBreakerConfig(), WithClock(clock.Now))

	failN(b, 4)
	assert.Equal(t, StateClosed, b.State())

	failN(b, 1)
	assert.Equal(t, StateOpen, b.State())

	// 打开后直接拒绝
	_, err := b.Allow()
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	b := NewBreaker("llm", DefaultBreakerConfig())

	failN(b, 4)
	probe, err := b.Allow()
	require.NoError(t, err)
	b.Record(probe, OutcomeSuccess)
	failN(b, 4)

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 4, b.Stats().Failures)
}

func TestBreaker_WindowRestartsCount(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultBreakerConfig()
	cfg.Window = 10 * time.Second
	b := NewBreaker("vector-store", cfg, WithClock(clock.Now))

	failN(b, 4)
	clock.Advance(11 * time.Second)
	failN(b, 1)

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 1, b.Stats().Failures)
}

func TestBreaker_HalfOpenAllowsExactlyOneProbe(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker("llm", DefaultBreakerConfig(), WithClock(clock.Now))
	failN(b, 5)
	require.Equal(t, StateOpen, b.State())

	// 冷却未结束
	clock.Advance(29 * time.Second)
	_, err := b.Allow()
	assert.ErrorIs(t, err, ErrCircuitOpen)

	clock.Advance(2 * time.Second)

	// 并发调用者中只有一个成为探测
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		probes int
		denied int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			probe, err := b.Allow()
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				denied++
				return
			}
			if probe {
				probes++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, probes)
	assert.Equal(t, 19, denied)
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker("llm", DefaultBreakerConfig(), WithClock(clock.Now))
	failN(b, 5)
	clock.Advance(31 * time.Second)

	probe, err := b.Allow()
	require.NoError(t, err)
	require.True(t, probe)
	b.Record(probe, OutcomeSuccess)

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Stats().Failures)
	assert.Equal(t, 30*time.Second, b.Stats().Cooldown)
}

func TestBreaker_ProbeFailureReopensWithLongerCooldown(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker("llm", DefaultBreakerConfig(), WithClock(clock.Now))
	failN(b, 5)
	clock.Advance(31 * time.Second)

	probe, err := b.Allow()
	require.NoError(t, err)
	b.Record(probe, OutcomeFailure)

	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, 60*time.Second, b.Stats().Cooldown)

	// 原冷却时间已不够
	clock.Advance(31 * time.Second)
	_, err = b.Allow()
	assert.ErrorIs(t, err, ErrCircuitOpen)

	clock.Advance(30 * time.Second)
	probe, err = b.Allow()
	require.NoError(t, err)
	assert.True(t, probe)
}

func TestBreaker_CooldownCapped(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultBreakerConfig()
	cfg.MaxCooldown = 45 * time.Second
	b := NewBreaker("llm", cfg, WithClock(clock.Now))
	failN(b, 5)

	for i := 0; i < 3; i++ {
		clock.Advance(time.Minute)
		probe, err := b.Allow()
		require.NoError(t, err)
		b.Record(probe, OutcomeFailure)
	}

	assert.Equal(t, 45*time.Second, b.Stats().Cooldown)
}

func TestBreaker_IgnoredProbeLetsNextCallerProbe(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker("llm", DefaultBreakerConfig(), WithClock(clock.Now))
	failN(b, 5)
	clock.Advance(31 * time.Second)

	probe, err := b.Allow()
	require.NoError(t, err)
	b.Record(probe, OutcomeIgnored)
	assert.Equal(t, StateOpen, b.State())

	probe, err = b.Allow()
	require.NoError(t, err)
	assert.True(t, probe)
}

func TestRegistry_SharesBreakerPerBackend(t *testing.T) {
	r := NewRegistry(DefaultBreakerConfig())

	a := r.Get("llm")
	assert.Same(t, a, r.Get("llm"))
	assert.NotSame(t, a, r.Get("embedding"))

	stats := r.Snapshot()
	require.Len(t, stats, 2)
	assert.Equal(t, "embedding", stats[0].Backend)
	assert.Equal(t, "llm", stats[1].Backend)
}

func TestRegistry_Configure(t *testing.T) {
	r := NewRegistry(DefaultBreakerConfig())
	cfg := DefaultBreakerConfig()
	cfg.FailureThreshold = 2
	r.Configure("cache", cfg)

	b := r.Get("cache")
	failN(b, 2)
	assert.Equal(t, StateOpen, b.State())
}
