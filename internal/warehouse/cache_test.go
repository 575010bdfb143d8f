package warehouse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEngineCacheReusesByDigest(t *testing.T) {
	cache := NewEngineCache(time.Minute)

	first, hit, err := cache.Get(testTemplate())
	require.NoError(t, err)
	require.False(t, hit)

	second, hit, err := cache.Get(testTemplate())
	require.NoError(t, err)
	require.True(t, hit)
	require.Same(t, first, second)
	require.Equal(t, 1, cache.Len())
}

func TestEngineCacheRebuildsOnTemplateChange(t *testing.T) {
	cache := NewEngineCache(time.Minute)

	first, _, err := cache.Get(testTemplate())
	require.NoError(t, err)

	edited := testTemplate()
	edited.NumAisles = 7
	second, hit, err := cache.Get(edited)
	require.NoError(t, err)
	require.False(t, hit, "edited template must not reuse the stale engine")
	require.NotSame(t, first, second)
	require.Equal(t, 2, cache.Len())
}

func TestEngineCacheInvalidate(t *testing.T) {
	cache := NewEngineCache(time.Minute)

	_, _, err := cache.Get(testTemplate())
	require.NoError(t, err)

	other := testTemplate()
	other.WarehouseID = "W2"
	_, _, err = cache.Get(other)
	require.NoError(t, err)
	require.Equal(t, 2, cache.Len())

	cache.Invalidate("W1")
	require.Equal(t, 1, cache.Len())

	_, hit, err := cache.Get(testTemplate())
	require.NoError(t, err)
	require.False(t, hit)

	_, hit, err = cache.Get(other)
	require.NoError(t, err)
	require.True(t, hit, "other warehouse must survive the invalidation")
}

func TestEngineCacheFlush(t *testing.T) {
	cache := NewEngineCache(time.Minute)
	_, _, err := cache.Get(testTemplate())
	require.NoError(t, err)
	cache.Flush()
	require.Equal(t, 0, cache.Len())
}

func TestEngineCacheRejectsInvalidTemplate(t *testing.T) {
	cache := NewEngineCache(time.Minute)
	bad := testTemplate()
	bad.RacksPerAisle = -3
	_, _, err := cache.Get(bad)
	require.Error(t, err)
	require.Equal(t, 0, cache.Len())
}

func TestEngineCacheAreaOrderInsensitive(t *testing.T) {
	cache := NewEngineCache(time.Minute)

	first, _, err := cache.Get(testTemplate())
	require.NoError(t, err)

	reordered := testTemplate()
	reordered.SpecialAreas[0], reordered.SpecialAreas[1] = reordered.SpecialAreas[1], reordered.SpecialAreas[0]
	second, hit, err := cache.Get(reordered)
	require.NoError(t, err)
	require.True(t, hit, "area order must not change the digest")
	require.Same(t, first, second)
}
