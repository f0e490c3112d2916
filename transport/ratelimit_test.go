package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketBurstThenEmpty(t *testing.T) {
	b := newTokenBucket(3, 0.001)

	for i := 0; i < 3; i++ {
		assert.True(t, b.take(), "token %d should be available", i)
	}
	assert.False(t, b.take(), "bucket should be empty after the burst")
}

func TestTokenBucketRefills(t *testing.T) {
	b := newTokenBucket(1, 100) // one token every 10ms

	require.True(t, b.take())
	require.False(t, b.take())

	time.Sleep(30 * time.Millisecond)
	assert.True(t, b.take())
}

func TestTokenBucketWaitBlocksUntilRefill(t *testing.T) {
	b := newTokenBucket(1, 100)
	require.True(t, b.take())

	start := time.Now()
	require.NoError(t, b.wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestTokenBucketWaitHonorsContext(t *testing.T) {
	b := newTokenBucket(1, 0.001)
	require.True(t, b.take())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := b.wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTokenBucketNeverExceedsCapacity(t *testing.T) {
	b := newTokenBucket(2, 1000)
	time.Sleep(20 * time.Millisecond)

	assert.True(t, b.take())
	assert.True(t, b.take())
	assert.False(t, b.take())
}
