package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/vkgal/buffer"
	"github.com/vkngwrapper/vkgal/descriptor"
	"github.com/vkngwrapper/vkgal/internal/devicetest"
	"github.com/vkngwrapper/vkgal/resource"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"
)

type testEnv struct {
	harness  *devicetest.Harness
	pool     *resource.CommandBufferPool
	buffers  *buffer.BufferManager
	layouts  *descriptor.PipelineLayoutCache
	pipeline *PipelineFull
}

func newTestEnv(t *testing.T) *testEnv {
	harness := devicetest.New(gomock.NewController(t))

	pool, _, err := resource.NewCommandBufferPool(slog.Default(), harness.Device, 4)
	require.NoError(t, err)

	env := &testEnv{harness: harness, pool: pool}

	flusher := buffer.FlusherFunc(func() (common.VkResult, error) {
		if env.pipeline == nil {
			return core1_0.VKSuccess, nil
		}
		return env.pipeline.FlushAllCommands()
	})
	env.buffers, _, err = buffer.NewBufferManager(slog.Default(), harness.Device, pool, flusher, buffer.Options{StagingBufferSize: 1024})
	require.NoError(t, err)

	manager := descriptor.NewDescriptorSetManager(slog.Default(), harness.Device, 16)
	env.layouts = descriptor.NewPipelineLayoutCache(slog.Default(), harness.Device, manager, pool.Count(), 4, 0)

	return env
}

func (e *testEnv) newPipeline(t *testing.T, options Options) *PipelineFull {
	updater, err := descriptor.NewDescriptorSetUpdater(slog.Default(), e.harness.Device, true, descriptor.NullResources{})
	require.NoError(t, err)

	pipeline, _, err := NewPipelineFull(slog.Default(), e.harness.Device, e.pool, updater, options)
	require.NoError(t, err)
	e.pipeline = pipeline
	return pipeline
}

func (e *testEnv) graphicsProgram(t *testing.T, layout descriptor.ProgramLayout) *ShaderCollection {
	program, _, err := NewShaderCollection(slog.Default(), e.harness.Device, e.layouts, []ShaderStage{
		{Stage: core1_0.StageVertex},
		{Stage: core1_0.StageFragment},
	}, layout)
	require.NoError(t, err)
	return program
}

func (e *testEnv) computeProgram(t *testing.T, layout descriptor.ProgramLayout) *ShaderCollection {
	program, _, err := NewShaderCollection(slog.Default(), e.harness.Device, e.layouts, []ShaderStage{
		{Stage: core1_0.StageCompute},
	}, layout)
	require.NoError(t, err)
	return program
}

// buffer creates a host-visible buffer holding data
func (e *testEnv) buffer(t *testing.T, data []byte) *buffer.BufferHolder {
	holder, _, err := e.buffers.Create(len(data), true)
	require.NoError(t, err)

	_, err = holder.SetData(0, data, nil)
	require.NoError(t, err)
	return holder
}
