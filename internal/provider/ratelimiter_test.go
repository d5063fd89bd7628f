package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_ZeroRPMNeverBlocks(t *testing.T) {
	rl := NewRateLimiter(0)
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		require.NoError(t, rl.Wait(ctx))
	}
}

func TestRateLimiter_NilReceiverNeverBlocks(t *testing.T) {
	var rl *RateLimiter
	require.NoError(t, rl.Wait(context.Background()))
}

func TestRateLimiter_CapsThroughputWithinWindow(t *testing.T) {
	rl := NewRateLimiter(120) // 2 tokens/sec, burst 120
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 120; i++ {
		require.NoError(t, rl.Wait(ctx))
	}
	assert.Less(t, time.Since(start), time.Second)

	// The 121st token must wait for a refill since burst is exhausted.
	waitStart := time.Now()
	require.NoError(t, rl.Wait(ctx))
	assert.Greater(t, time.Since(waitStart), 100*time.Millisecond)
}
