package resource

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/vkgal/memutils"
)

func TestIdListReusesLowestId(t *testing.T) {
	list := NewIdList[string]("textures", 4)

	for i, value := range []string{"a", "b", "c"} {
		id, err := list.Add(value)
		require.NoError(t, err)
		require.Equal(t, i+1, id)
	}

	value, ok := list.Remove(2)
	require.True(t, ok)
	require.Equal(t, "b", value)

	_, ok = list.Remove(2)
	require.False(t, ok)
	_, ok = list.TryGetValue(2)
	require.False(t, ok)

	id, err := list.Add("d")
	require.NoError(t, err)
	require.Equal(t, 2, id)

	var ids []int
	list.ForEach(func(id int, value string) {
		ids = append(ids, id)
	})
	require.Equal(t, []int{1, 2, 3}, ids)
	require.Equal(t, 3, list.Count())
}

func TestIdListOutOfCapacity(t *testing.T) {
	list := NewIdList[int]("samplers", 2)

	_, err := list.Add(1)
	require.NoError(t, err)
	_, err = list.Add(2)
	require.NoError(t, err)

	_, err = list.Add(3)
	require.ErrorIs(t, err, memutils.ErrOutOfCapacity)

	_, ok := list.TryGetValue(0)
	require.False(t, ok)
	_, ok = list.TryGetValue(3)
	require.False(t, ok)

	list.Clear()
	require.Equal(t, 0, list.Count())
}

func TestConcurrentIdListLookups(t *testing.T) {
	list := NewConcurrentIdList[int]("buffers", 64)
	for i := 0; i < 32; i++ {
		_, err := list.Add(i * 10)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for worker := 0; worker < 4; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := 1; id <= 32; id++ {
				value, ok := list.TryGetValue(id)
				if !ok || value != (id-1)*10 {
					t.Errorf("unexpected lookup result for id %d: %d, %t", id, value, ok)
				}
			}
		}()
	}

	for i := 0; i < 16; i++ {
		_, err := list.Add(1000 + i)
		require.NoError(t, err)
	}
	wg.Wait()

	require.Equal(t, 48, list.Count())
}
