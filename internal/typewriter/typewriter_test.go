package typewriter

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestPresenter_RevealsWithinMaxDuration(t *testing.T) {
	clock := newFakeClock()
	p := New(100*time.Millisecond, time.Second, WithClock(clock.Now))

	target := strings.Repeat("a", 500)
	p.SetTarget(target)
	assert.Empty(t, p.Text())

	for i := 1; i <= 10; i++ {
		clock.Advance(100 * time.Millisecond)
		require.True(t, p.Tick())
		assert.LessOrEqual(t, len(p.Text()), len(target))
		if i < 10 {
			assert.Len(t, p.Text(), i*50)
		}
	}

	assert.Equal(t, target, p.Text())
	assert.True(t, p.Done())
	assert.False(t, p.Tick())
}

func TestPresenter_StepFollowsGrowingTarget(t *testing.T) {
	clock := newFakeClock()
	p := New(100*time.Millisecond, time.Second, WithClock(clock.Now))

	p.SetTarget(strings.Repeat("a", 10))
	p.Tick()
	assert.Len(t, p.Text(), 1)

	p.SetTarget(strings.Repeat("a", 200))
	p.Tick()
	assert.Len(t, p.Text(), 21)
}

func TestPresenter_SnapsAfterMaxDuration(t *testing.T) {
	clock := newFakeClock()
	p := New(100*time.Millisecond, time.Second, WithClock(clock.Now))

	p.SetTarget(strings.Repeat("b", 1000))
	p.Tick()
	clock.Advance(2 * time.Second)
	p.Tick()

	assert.True(t, p.Done())
}

func TestPresenter_DisableShowsFullTarget(t *testing.T) {
	clock := newFakeClock()
	p := New(100*time.Millisecond, time.Second, WithClock(clock.Now))

	p.SetTarget("Verifique a sonda lambda.")
	p.Tick()
	require.False(t, p.Done())

	p.SetEnabled(false)
	assert.Equal(t, "Verifique a sonda lambda.", p.Text())

	p.SetTarget("Verifique a sonda lambda e o catalisador.")
	assert.Equal(t, "Verifique a sonda lambda e o catalisador.", p.Text())
	assert.False(t, p.Tick())
}

func TestPresenter_EmptyTargetResets(t *testing.T) {
	clock := newFakeClock()
	p := New(100*time.Millisecond, time.Second, WithClock(clock.Now))

	p.SetTarget("abc")
	clock.Advance(5 * time.Second)
	p.Tick()
	require.True(t, p.Done())

	p.SetTarget("")
	assert.Empty(t, p.Text())

	p.SetTarget(strings.Repeat("c", 100))
	p.Tick()
	assert.Len(t, p.Text(), 10)
}

func TestPresenter_ShrinkingTargetSnapsDown(t *testing.T) {
	p := New(100*time.Millisecond, time.Second, WithEnabled(false))

	p.SetTarget("abcdef")
	p.SetEnabled(true)
	p.SetTarget("abc")

	assert.Equal(t, "abc", p.Text())
}

func TestPresenter_MultibyteRunes(t *testing.T) {
	clock := newFakeClock()
	p := New(100*time.Millisecond, 200*time.Millisecond, WithClock(clock.Now))

	p.SetTarget("ação")
	p.Tick()

	assert.Equal(t, "aç", p.Text())
}

func TestPresenter_RunReportsChanges(t *testing.T) {
	p := New(time.Millisecond, 20*time.Millisecond)
	p.SetTarget("diagnóstico")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var last string
	go p.Run(ctx, func(text string) {
		mu.Lock()
		last = text
		mu.Unlock()
	})

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return last == "diagnóstico"
	}, time.Second, 5*time.Millisecond)
}
