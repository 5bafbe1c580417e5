package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	var generation int64
	err := c.Get(ctx, DetectionGenerationKey, &generation)
	assert.True(t, IsMiss(err))

	n, err := c.Increment(ctx, DetectionGenerationKey)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, _ = c.Increment(ctx, DetectionGenerationKey)
	assert.Equal(t, int64(2), n)

	require.NoError(t, c.Get(ctx, DetectionGenerationKey, &generation))
	assert.Equal(t, int64(2), generation)

	type payload struct{ Name string }
	require.NoError(t, c.Set(ctx, "k", payload{Name: "loop"}, time.Minute))
	var got payload
	require.NoError(t, c.Get(ctx, "k", &got))
	assert.Equal(t, "loop", got.Name)

	require.NoError(t, c.Delete(ctx, "k"))
	assert.True(t, IsMiss(c.Get(ctx, "k", &got)))
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	now := time.Now()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", 1, time.Second))
	now = now.Add(2 * time.Second)

	var v int
	assert.True(t, IsMiss(c.Get(ctx, "k", &v)))
}
