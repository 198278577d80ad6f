package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitUnlimitedNeverBlocks(t *testing.T) {
	tb := New(0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	for i := 0; i < 1000; i++ {
		require.NoError(t, tb.Wait(ctx))
	}
}

func TestWaitThrottlesOverBurst(t *testing.T) {
	tb := New(1000) // generous rate so the test stays fast
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, tb.Wait(ctx))
	}
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	tb := New(0.001) // effectively never refills within the test window
	tb.tokens = 0
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	err := tb.Wait(ctx)
	assert.Error(t, err)
}
