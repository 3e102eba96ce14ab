package descriptor

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/vkgal/resource"
)

func allocateSets(t *testing.T, entry *PipelineLayoutCacheEntry, count int) []*resource.Auto[*DescriptorSetCollection] {
	sets := make([]*resource.Auto[*DescriptorSetCollection], 0, count)
	for i := 0; i < count; i++ {
		set, _, err := entry.AllocateSet(KindImage)
		require.NoError(t, err)
		sets = append(sets, set)
	}
	return sets
}

func handles(ids ...uint64) HandleSet {
	var set HandleSet
	for _, id := range ids {
		set.Add(id)
	}
	return set
}

func TestDescriptorSetCacheEvictsOldest(t *testing.T) {
	env := newTestEnv(t, 16, 0)
	entry := env.program(t, ProgramLayout{Sets: [KindCount][]Binding{KindImage: bindings(0, 1)}})
	sets := allocateSets(t, entry, 3)

	cache := NewDescriptorSetCache[HandleSet](2)
	cache.Add(handles(1, 2), sets[0])
	cache.Add(handles(3, 4), sets[1])

	found, ok := cache.TryGet(handles(1, 2))
	require.True(t, ok)
	require.Same(t, sets[0], found)

	cache.Add(handles(5, 6), sets[2])
	require.Equal(t, 2, cache.Count())
	require.True(t, sets[0].Destroyed())
	require.False(t, sets[1].Destroyed())

	_, ok = cache.TryGet(handles(1, 2))
	require.False(t, ok)

	garbage := handles(3, 4)
	garbage.Handles[7] = 99
	found, ok = cache.TryGet(garbage)
	require.True(t, ok)
	require.Same(t, sets[1], found)

	require.Equal(t, 2, cache.Hits())
	require.Equal(t, 1, cache.Misses())

	cache.Clear()
	require.Equal(t, 0, cache.Count())
	require.True(t, sets[1].Destroyed())
	require.True(t, sets[2].Destroyed())

	_, ok = cache.TryGet(handles(5, 6))
	require.False(t, ok)
}

func TestDescriptorSetCacheEvictionWaitsForCommandBuffer(t *testing.T) {
	env := newTestEnv(t, 16, 0)
	entry := env.program(t, ProgramLayout{Sets: [KindCount][]Binding{KindImage: bindings(0)}})
	sets := allocateSets(t, entry, 2)

	cbs := env.rent(t)
	cache := NewDescriptorSetCache[HandleSet](1)
	cache.Add(handles(1), sets[0])
	sets[0].Get(cbs)

	cache.Add(handles(2), sets[1])
	require.False(t, sets[0].Destroyed())

	_, err := cbs.Dispose()
	require.NoError(t, err)
	env.harness.SignalAll()
	_, err = env.pool.CheckCommandBuffers()
	require.NoError(t, err)
	require.True(t, sets[0].Destroyed())
}
