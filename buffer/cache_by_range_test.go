package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type countingValue struct {
	disposed *int
}

func (v countingValue) Dispose() {
	*v.disposed++
}

func TestCacheByRange(t *testing.T) {
	var cache CacheByRange[countingValue]
	disposed := 0

	_, ok := cache.TryGetValue(0, 16, I8ToI16CacheKey())
	require.False(t, ok)

	cache.Add(0, 16, I8ToI16CacheKey(), countingValue{&disposed})
	cache.Add(0, 16, AlignedVertexBufferCacheKey(12, 16), countingValue{&disposed})
	cache.Add(64, 16, I8ToI16CacheKey(), countingValue{&disposed})
	require.Equal(t, 3, cache.Count())

	_, ok = cache.TryGetValue(0, 16, AlignedVertexBufferCacheKey(12, 16))
	require.True(t, ok)
	_, ok = cache.TryGetValue(0, 16, AlignedVertexBufferCacheKey(12, 4))
	require.False(t, ok)
	_, ok = cache.TryGetValue(0, 8, I8ToI16CacheKey())
	require.False(t, ok)

	cache.ClearRange(16, 48)
	require.Equal(t, 0, disposed)
	require.Equal(t, 3, cache.Count())

	cache.ClearRange(8, 4)
	require.Equal(t, 2, disposed)
	require.Equal(t, 1, cache.Count())

	_, ok = cache.TryGetValue(64, 16, I8ToI16CacheKey())
	require.True(t, ok)

	cache.Clear()
	require.Equal(t, 3, disposed)
	require.Equal(t, 0, cache.Count())
}

func TestCacheKindString(t *testing.T) {
	require.Equal(t, "I8ToI16", CacheI8ToI16.String())
	require.Equal(t, "AlignedVertexBuffer", CacheAlignedVertexBuffer.String())
}
