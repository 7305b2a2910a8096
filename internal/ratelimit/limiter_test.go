package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnlimited_DoesNotBlock(t *testing.T) {
	l := Unlimited()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(ctx))
	}
}

func TestBackoff_PausesWaiters(t *testing.T) {
	l := Unlimited()
	l.Backoff(150 * time.Millisecond)

	start := time.Now()
	require.NoError(t, l.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestBackoff_NeverShortened(t *testing.T) {
	l := Unlimited()
	l.Backoff(time.Hour)
	l.Backoff(time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.DeadlineExceeded)
}
