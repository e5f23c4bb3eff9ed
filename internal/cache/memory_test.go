package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	type payload struct {
		ID    string  `json:"id"`
		Start float64 `json:"start"`
	}
	require.NoError(t, c.Set(ctx, MappingKey("s1"), payload{ID: "m1", Start: 1.5}, time.Minute))

	var got payload
	require.NoError(t, c.Get(ctx, "mapping:sentence:s1", &got))
	assert.Equal(t, payload{ID: "m1", Start: 1.5}, got)

	require.NoError(t, c.Delete(ctx, MappingKey("s1")))
	assert.ErrorIs(t, c.Get(ctx, MappingKey("s1"), &got), ErrMiss)
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", 1, 300*time.Second))

	var v int
	now = now.Add(299 * time.Second)
	require.NoError(t, c.Get(ctx, "k", &v))
	assert.Equal(t, 1, v)

	now = now.Add(time.Second)
	assert.ErrorIs(t, c.Get(ctx, "k", &v), ErrMiss)
	assert.Equal(t, 0, c.Len())
}

func TestMemorySetIfVersion(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()
	key := MappingKey("s1")

	v, err := c.Version(ctx, key)
	require.NoError(t, err)
	assert.Zero(t, v)

	ok, err := c.SetIfVersion(ctx, key, v, "old", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// a write lands between the version read and the fill
	v, _ = c.Version(ctx, key)
	require.NoError(t, c.Invalidate(ctx, key))
	ok, err = c.SetIfVersion(ctx, key, v, "stale", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	var got string
	assert.ErrorIs(t, c.Get(ctx, key, &got), ErrMiss)

	v, _ = c.Version(ctx, key)
	assert.EqualValues(t, 1, v)
	ok, err = c.SetIfVersion(ctx, key, v, "fresh", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, c.Get(ctx, key, &got))
	assert.Equal(t, "fresh", got)
}
