package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/org-contact-crawler/internal/metrics"
)

func TestLimiter_WaitDelaysSameHost(t *testing.T) {
	t.Parallel()
	metrics.Init()

	// 10 RPS with burst 1: the second call waits about 100ms.
	l := New(Config{PerHostRPS: 10, PerHostBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://test.example.org/a"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://TEST.example.org/b"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	require.Equal(t, 1, l.Hosts())
}

func TestLimiter_DifferentHostsIndependent(t *testing.T) {
	t.Parallel()
	metrics.Init()

	l := New(Config{PerHostRPS: 1, PerHostBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example.org/1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example.org/1"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_WaitHonorsContext(t *testing.T) {
	t.Parallel()
	metrics.Init()

	l := New(Config{PerHostRPS: 0.1, PerHostBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.example.org"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://slow.example.org"))
}

func TestLimiter_Disabled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://fast.example.org"))
	}
	var nilLimiter *Limiter
	require.NoError(t, nilLimiter.Wait(context.Background(), "https://x"))
}
