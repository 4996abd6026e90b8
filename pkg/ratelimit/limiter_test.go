package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"followsync/pkg/config"
)

func TestSmoothBurstAndReset(t *testing.T) {
	l := NewSmooth(1, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(), "token %d", i+1)
	}
	assert.False(t, l.Allow())

	l.Reset()
	assert.True(t, l.Allow())
}

func TestSmoothWaitHonoursContext(t *testing.T) {
	l := NewSmooth(0.001, 1)
	require.True(t, l.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx))
}

func TestNewDisabled(t *testing.T) {
	l := New(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow())
	}
	assert.NoError(t, l.Wait(context.Background()))
}

func TestFromConfig(t *testing.T) {
	l, err := FromConfig(config.RateLimitConfig{Strategy: "sliding_window", RequestsPerMinute: 2})
	require.NoError(t, err)
	require.IsType(t, &SlidingWindow{}, l)
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow(), "quota is per minute")

	l, err = FromConfig(config.RateLimitConfig{Strategy: "smooth", RequestsPerMinute: 60, BurstSize: 1})
	require.NoError(t, err)
	assert.IsType(t, &Smooth{}, l)

	l, err = FromConfig(config.RateLimitConfig{Strategy: "sliding_window"})
	require.NoError(t, err)
	assert.Equal(t, Unlimited{}, l)

	_, err = FromConfig(config.RateLimitConfig{Strategy: "leaky"})
	assert.Error(t, err)
}

func TestNewPerMinute(t *testing.T) {
	l := New(60, 2)
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}

func TestSlidingWindow(t *testing.T) {
	sw := NewSlidingWindow(3, 100*time.Millisecond)

	for i := 0; i < 3; i++ {
		if !sw.Allow() {
			t.Errorf("Expected request %d to be allowed", i+1)
		}
	}
	if sw.Allow() {
		t.Error("Expected request to be denied")
	}

	time.Sleep(120 * time.Millisecond)
	if !sw.Allow() {
		t.Error("Expected request to be allowed after window slides")
	}

	sw.Reset()
	assert.Empty(t, sw.requests)
}

func TestSlidingWindowWait(t *testing.T) {
	sw := NewSlidingWindow(1, 50*time.Millisecond)
	require.True(t, sw.Allow())

	start := time.Now()
	require.NoError(t, sw.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sw.Wait(ctx), context.Canceled)
}
