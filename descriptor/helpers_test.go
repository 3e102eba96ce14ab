package descriptor

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/vkgal/buffer"
	"github.com/vkngwrapper/vkgal/internal/devicetest"
	"github.com/vkngwrapper/vkgal/resource"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"
)

const (
	vertex   = core1_0.StageVertex
	fragment = core1_0.StageFragment
)

type testEnv struct {
	harness *devicetest.Harness
	pool    *resource.CommandBufferPool
	buffers *buffer.BufferManager
	manager *DescriptorSetManager
	layouts *PipelineLayoutCache
}

func newTestEnv(t *testing.T, multiplier, maxPushDescriptors int) *testEnv {
	harness := devicetest.New(gomock.NewController(t))

	pool, _, err := resource.NewCommandBufferPool(slog.Default(), harness.Device, 4)
	require.NoError(t, err)

	flusher := buffer.FlusherFunc(func() (common.VkResult, error) {
		return core1_0.VKSuccess, nil
	})
	buffers, _, err := buffer.NewBufferManager(slog.Default(), harness.Device, pool, flusher, buffer.Options{StagingBufferSize: 1024})
	require.NoError(t, err)

	manager := NewDescriptorSetManager(slog.Default(), harness.Device, multiplier)

	return &testEnv{
		harness: harness,
		pool:    pool,
		buffers: buffers,
		manager: manager,
		layouts: NewPipelineLayoutCache(slog.Default(), harness.Device, manager, pool.Count(), 4, maxPushDescriptors),
	}
}

func (e *testEnv) program(t *testing.T, layout ProgramLayout) *PipelineLayoutCacheEntry {
	entry, _, err := e.layouts.GetOrCreate(layout)
	require.NoError(t, err)
	return entry
}

func (e *testEnv) rent(t *testing.T) resource.CommandBufferScoped {
	cbs, _, err := e.pool.Rent()
	require.NoError(t, err)
	return cbs
}

func (e *testEnv) buffer(t *testing.T, size int) *buffer.BufferHolder {
	holder, _, err := e.buffers.Create(size, true)
	require.NoError(t, err)
	return holder
}

func bindings(numbers ...int) []Binding {
	result := make([]Binding, 0, len(numbers))
	for _, number := range numbers {
		result = append(result, Binding{Binding: number, Stages: vertex})
	}
	return result
}
