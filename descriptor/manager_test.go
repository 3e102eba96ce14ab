package descriptor

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"
)

func TestDescriptorSetManagerReplacesFullPool(t *testing.T) {
	env := newTestEnv(t, 2, 0)
	layouts := []core1_0.DescriptorSetLayout{{}}
	counts := DescriptorCounts{KindUniform: 1}

	first, _, err := env.manager.AllocateDescriptorSet(layouts, counts)
	require.NoError(t, err)
	second, _, err := env.manager.AllocateDescriptorSet(layouts, counts)
	require.NoError(t, err)
	require.Same(t, first.GetUnsafe().Pool(), second.GetUnsafe().Pool())
	require.Equal(t, 1, env.manager.PoolsCreated())

	third, _, err := env.manager.AllocateDescriptorSet(layouts, counts)
	require.NoError(t, err)
	require.NotSame(t, first.GetUnsafe().Pool(), third.GetUnsafe().Pool())
	require.Equal(t, 2, env.manager.PoolsCreated())

	drained := first.GetUnsafe().Pool()
	require.True(t, drained.Done())
	require.False(t, drained.Destroyed())

	pools, destroyed := env.harness.Pools()
	require.Len(t, pools, 2)
	require.Equal(t, 0, destroyed)
	require.Equal(t, 2, pools[0].MaxSets)
	require.Equal(t, core1_0.DescriptorPoolSize{Type: core1_0.DescriptorTypeUniformBuffer, DescriptorCount: 2}, pools[0].PoolSizes[0])
	require.Len(t, pools[0].PoolSizes, int(KindCount))

	first.Dispose()
	require.Equal(t, 1, drained.SetsInUse())
	require.False(t, drained.Destroyed())

	second.Dispose()
	require.True(t, drained.Destroyed())
	_, destroyed = env.harness.Pools()
	require.Equal(t, 1, destroyed)

	third.Dispose()
	require.False(t, third.GetUnsafe().Pool().Destroyed())

	env.manager.Destroy()
	_, destroyed = env.harness.Pools()
	require.Equal(t, 2, destroyed)

	allocated, freed := env.harness.DescriptorSetCounts()
	require.Equal(t, 3, allocated)
	require.Equal(t, 3, freed)
}

func TestDescriptorPoolCanFit(t *testing.T) {
	env := newTestEnv(t, 4, 0)
	set, _, err := env.manager.AllocateDescriptorSet([]core1_0.DescriptorSetLayout{{}}, DescriptorCounts{KindStorage: 2})
	require.NoError(t, err)

	pool := set.GetUnsafe().Pool()
	require.True(t, pool.CanFit(DescriptorCounts{KindStorage: 6}, 1))
	require.False(t, pool.Done())

	require.False(t, pool.CanFit(DescriptorCounts{KindStorage: 7}, 1))
	require.True(t, pool.Done())
	require.False(t, pool.CanFit(DescriptorCounts{}, 1))

	set.Dispose()
	require.True(t, pool.Destroyed())
}

func TestDescriptorPoolRunsOutOfSets(t *testing.T) {
	env := newTestEnv(t, 2, 0)
	set, _, err := env.manager.AllocateDescriptorSet([]core1_0.DescriptorSetLayout{{}}, DescriptorCounts{})
	require.NoError(t, err)

	pool := set.GetUnsafe().Pool()
	require.True(t, pool.CanFit(DescriptorCounts{}, 1))
	require.False(t, pool.CanFit(DescriptorCounts{}, 2))
	require.True(t, pool.Done())
}

func TestDescriptorSetCollectionOutlivesCommandBuffer(t *testing.T) {
	env := newTestEnv(t, 2, 0)
	set, _, err := env.manager.AllocateDescriptorSet([]core1_0.DescriptorSetLayout{{}}, DescriptorCounts{KindUniform: 1})
	require.NoError(t, err)

	cbs := env.rent(t)
	set.Get(cbs)
	set.Dispose()
	require.False(t, set.Destroyed())

	_, err = cbs.Dispose()
	require.NoError(t, err)
	env.harness.SignalAll()
	_, err = env.pool.CheckCommandBuffers()
	require.NoError(t, err)

	require.True(t, set.Destroyed())
	require.Equal(t, 0, set.GetUnsafe().Pool().SetsInUse())
}
