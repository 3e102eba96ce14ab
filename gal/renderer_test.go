package gal

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/vkgal/descriptor"
	"github.com/vkngwrapper/vkgal/device"
	"github.com/vkngwrapper/vkgal/internal/devicetest"
	"github.com/vkngwrapper/vkgal/memutils"
	"github.com/vkngwrapper/vkgal/pipeline"
	"github.com/vkngwrapper/vkgal/resource"
	"github.com/vkngwrapper/vkgal/texture"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"
)

var textureInfo = texture.TextureCreateInfo{
	Width:         4,
	Height:        4,
	Format:        core1_0.FormatR8G8B8A8UnsignedNormalized,
	BytesPerPixel: 4,
	ImageType:     core1_0.ImageType2D,
}

func newRenderer(t *testing.T, features device.Features, options CreateOptions) (*Renderer, *devicetest.Harness) {
	harness := devicetest.New(gomock.NewController(t))
	harness.Features = features

	if options.StagingBufferSize == 0 {
		options.StagingBufferSize = 4096
	}
	renderer, _, err := NewRenderer(slog.Default(), harness.Device, options)
	require.NoError(t, err)
	return renderer, harness
}

func graphicsStages() []pipeline.ShaderStage {
	return []pipeline.ShaderStage{
		{Stage: core1_0.StageVertex},
		{Stage: core1_0.StageFragment},
	}
}

func TestCreateFlagsString(t *testing.T) {
	require.Equal(t, "CreateNullDescriptors", CreateNullDescriptors.String())
	require.Equal(t, "CreatePushDescriptors", CreatePushDescriptors.String())

	combined := (CreateGranularBufferTracking | CreateExternallySynchronized).String()
	require.Contains(t, combined, "CreateGranularBufferTracking")
	require.Contains(t, combined, "CreateExternallySynchronized")
}

func TestRendererRejectsInvalidOptions(t *testing.T) {
	testCases := map[string]struct {
		options CreateOptions
		pow2    bool
	}{
		"TooManyCommandBuffers": {
			options: CreateOptions{MaxCommandBuffers: MaxCommandBuffers + 1},
		},
		"NegativeCommandBuffers": {
			options: CreateOptions{MaxCommandBuffers: -1},
		},
		"VertexStrideAlignment": {
			options: CreateOptions{VertexStrideAlignment: 12},
			pow2:    true,
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			harness := devicetest.New(gomock.NewController(t))

			_, _, err := NewRenderer(slog.Default(), harness.Device, testCase.options)
			require.Error(t, err)
			if testCase.pow2 {
				require.ErrorIs(t, err, memutils.PowerOfTwoError)
			}
		})
	}
}

func TestRendererOptionalFeatures(t *testing.T) {
	testCases := map[string]struct {
		features           device.Features
		flags              CreateFlags
		nullDescriptors    bool
		maxPushDescriptors int
		images             int
	}{
		"NothingRequested": {
			features: device.Features{NullDescriptors: true, PushDescriptors: true, MaxPushDescriptors: 32},
			images:   1,
		},
		"NullDescriptorsUnsupported": {
			flags:  CreateNullDescriptors,
			images: 1,
		},
		"NullDescriptorsSupported": {
			features:        device.Features{NullDescriptors: true},
			flags:           CreateNullDescriptors,
			nullDescriptors: true,
		},
		"PushDescriptorsSupported": {
			features:           device.Features{NullDescriptors: true, PushDescriptors: true, MaxPushDescriptors: 32},
			flags:              CreateNullDescriptors | CreatePushDescriptors,
			nullDescriptors:    true,
			maxPushDescriptors: 32,
		},
		"PushDescriptorsUnsupported": {
			features: device.Features{MaxPushDescriptors: 32},
			flags:    CreatePushDescriptors,
			images:   1,
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			renderer, harness := newRenderer(t, testCase.features, CreateOptions{Flags: testCase.flags})

			require.Equal(t, testCase.nullDescriptors, renderer.UsesNullDescriptors())
			require.Equal(t, testCase.maxPushDescriptors, renderer.MaxPushDescriptors())

			created, _ := harness.ImageCounts()
			require.Equal(t, testCase.images, created)
			require.Equal(t, testCase.images, harness.LiveSamplers())

			_, err := renderer.Destroy()
			require.NoError(t, err)
			require.Equal(t, 0, harness.LiveSamplers())
		})
	}
}

func TestRendererDefaults(t *testing.T) {
	harness := devicetest.New(gomock.NewController(t))
	harness.Features = device.Features{NullDescriptors: true}

	renderer, _, err := NewRenderer(slog.Default(), harness.Device, CreateOptions{Flags: CreateNullDescriptors})
	require.NoError(t, err)

	options := renderer.Options()
	require.Equal(t, DefaultMaxCommandBuffers, options.MaxCommandBuffers)
	require.Equal(t, resource.DefaultCommandBuffers, options.MaxCommandBuffers)
	require.Equal(t, DefaultStagingBufferSize, options.StagingBufferSize)
	require.Equal(t, DefaultDescriptorSetCacheCapacity, options.DescriptorSetCacheCapacity)
	require.Equal(t, DefaultMaxCommandBuffers, renderer.CommandBufferPool().Count())

	_, err = renderer.Destroy()
	require.NoError(t, err)
}

func TestRendererBufferHandles(t *testing.T) {
	renderer, _ := newRenderer(t, device.Features{NullDescriptors: true}, CreateOptions{Flags: CreateNullDescriptors})

	handle, _, err := renderer.CreateBuffer(16, true)
	require.NoError(t, err)
	require.NotZero(t, handle)

	_, err = renderer.SetBufferData(handle, 4, []byte{1, 2, 3, 4})
	require.NoError(t, err)

	data, _, err := renderer.GetBufferData(handle, 4, 4)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, data)

	_, err = renderer.SetBufferData(handle+1, 0, []byte{1})
	require.Error(t, err)

	require.True(t, renderer.DeleteBuffer(handle))
	require.False(t, renderer.DeleteBuffer(handle))
	require.Equal(t, 0, renderer.BufferManager().Count())

	_, err = renderer.Destroy()
	require.NoError(t, err)
}

func TestRendererUnknownHandles(t *testing.T) {
	renderer, _ := newRenderer(t, device.Features{NullDescriptors: true}, CreateOptions{Flags: CreateNullDescriptors})

	require.Error(t, renderer.SetProgram(1))
	require.Error(t, renderer.SetUniformBuffer(0, 7, 0, descriptor.WholeSize))
	require.Error(t, renderer.SetStorageBuffer(0, 7, 0, descriptor.WholeSize))
	require.Error(t, renderer.SetTextureAndSampler(0, 7, 0))
	require.Error(t, renderer.SetTextureAndSampler(0, 0, 7))
	require.Error(t, renderer.SetImage(0, 7))
	require.Error(t, renderer.SetIndexBuffer(7, 0, 6, pipeline.IndexTypeU16))
	require.Error(t, renderer.SetVertexBuffers([]VertexBufferBinding{{Buffer: 7, Stride: 12}}))

	require.NoError(t, renderer.SetUniformBuffer(0, 0, 0, 0))
	require.NoError(t, renderer.SetTextureAndSampler(0, 0, 0))
	require.NoError(t, renderer.SetIndexBuffer(0, 0, 0, pipeline.IndexTypeU16))

	require.False(t, renderer.DeleteTexture(3))
	require.False(t, renderer.DeleteSampler(3))
	require.False(t, renderer.DeleteProgram(3))

	_, err := renderer.Destroy()
	require.NoError(t, err)
}

func TestRendererTextureHandles(t *testing.T) {
	renderer, harness := newRenderer(t, device.Features{NullDescriptors: true}, CreateOptions{Flags: CreateNullDescriptors})

	handle, _, err := renderer.CreateTexture(textureInfo, core1_0.ImageViewType2D)
	require.NoError(t, err)

	_, err = renderer.SetTextureData(handle, 0, 0, make([]byte, 64))
	require.NoError(t, err)
	require.Len(t, harness.ImageUploads(), 1)

	_, err = renderer.SetTextureData(handle, 0, 0, make([]byte, 8))
	require.Error(t, err)

	sampler, _, err := renderer.CreateSampler(core1_0.SamplerCreateInfo{})
	require.NoError(t, err)
	require.Equal(t, 1, harness.LiveSamplers())

	require.NoError(t, renderer.SetTextureAndSampler(0, handle, sampler))
	require.NoError(t, renderer.SetImage(1, handle))

	require.True(t, renderer.DeleteSampler(sampler))
	require.False(t, renderer.DeleteSampler(sampler))
	require.Equal(t, 0, harness.LiveSamplers())

	require.True(t, renderer.DeleteTexture(handle))
	_, err = renderer.Destroy()
	require.NoError(t, err)

	created, destroyed := harness.ImageCounts()
	require.Equal(t, 1, created)
	require.Equal(t, 1, destroyed)
}

func TestRendererDrawsThroughHandles(t *testing.T) {
	renderer, harness := newRenderer(t, device.Features{NullDescriptors: true}, CreateOptions{Flags: CreateNullDescriptors})

	program, _, err := renderer.CreateProgram(graphicsStages(), descriptor.ProgramLayout{Sets: [descriptor.KindCount][]descriptor.Binding{
		descriptor.KindUniform: {{Binding: 0, Stages: core1_0.StageVertex}},
	}})
	require.NoError(t, err)
	require.Equal(t, 1, renderer.ProgramCount())
	require.NoError(t, renderer.SetProgram(program))

	vertices, _, err := renderer.CreateBuffer(36, true)
	require.NoError(t, err)
	uniforms, _, err := renderer.CreateBuffer(64, true)
	require.NoError(t, err)

	require.NoError(t, renderer.SetVertexBuffers([]VertexBufferBinding{
		{Buffer: vertices, Size: descriptor.WholeSize, Stride: 12, InputRate: core1_0.VertexInputRateVertex},
	}))
	require.NoError(t, renderer.SetUniformBuffer(0, uniforms, 0, descriptor.WholeSize))

	_, err = renderer.Pipeline().Draw(3, 1, 0, 0)
	require.NoError(t, err)

	require.Len(t, harness.Commands("BindPipeline"), 1)
	require.Len(t, harness.Commands("BindVertexBuffers"), 1)
	require.Len(t, harness.Commands("BindDescriptorSets"), 1)
	require.Len(t, harness.Commands("Draw"), 1)

	_, err = renderer.FlushAllCommands()
	require.NoError(t, err)
	require.Equal(t, 1, renderer.Pipeline().Flushes())

	require.True(t, renderer.DeleteProgram(program))
	require.Nil(t, renderer.Pipeline().Program())
	require.True(t, renderer.DeleteBuffer(vertices))
	require.True(t, renderer.DeleteBuffer(uniforms))

	_, err = renderer.Destroy()
	require.NoError(t, err)
}

func TestRendererBufferWriteEndsRenderPass(t *testing.T) {
	renderer, harness := newRenderer(t, device.Features{NullDescriptors: true}, CreateOptions{Flags: CreateNullDescriptors})

	program, _, err := renderer.CreateProgram(graphicsStages(), descriptor.ProgramLayout{})
	require.NoError(t, err)
	require.NoError(t, renderer.SetProgram(program))

	local, _, err := renderer.CreateBuffer(64, false)
	require.NoError(t, err)
	harness.ClearCommands()

	_, err = renderer.Pipeline().Draw(3, 1, 0, 0)
	require.NoError(t, err)
	_, err = renderer.SetBufferData(local, 0, make([]byte, 16))
	require.NoError(t, err)
	require.False(t, renderer.Pipeline().RenderPassActive())
	_, err = renderer.Pipeline().Draw(3, 1, 0, 0)
	require.NoError(t, err)

	var names []string
	for _, command := range harness.Commands("") {
		switch command.Name {
		case "BeginRenderPass", "EndRenderPass", "CopyBuffer", "Draw":
			names = append(names, command.Name)
		}
	}
	require.Equal(t, []string{
		"BeginRenderPass", "Draw", "EndRenderPass",
		"CopyBuffer",
		"BeginRenderPass", "Draw",
	}, names)

	_, err = renderer.Destroy()
	require.NoError(t, err)
}

func TestRendererBindsNullResourcesWithoutDeviceSupport(t *testing.T) {
	renderer, harness := newRenderer(t, device.Features{}, CreateOptions{})

	program, _, err := renderer.CreateProgram(graphicsStages(), descriptor.ProgramLayout{Sets: [descriptor.KindCount][]descriptor.Binding{
		descriptor.KindUniform: {{Binding: 0, Stages: core1_0.StageVertex}},
		descriptor.KindTexture: {{Binding: 0, Stages: core1_0.StageFragment}},
	}})
	require.NoError(t, err)
	require.NoError(t, renderer.SetProgram(program))

	_, err = renderer.Pipeline().Draw(3, 1, 0, 0)
	require.NoError(t, err)

	var bufferWrites, imageWrites int
	for _, batch := range harness.DescriptorUpdates() {
		for _, write := range batch {
			for _, info := range write.BufferInfo {
				require.Equal(t, nullBufferSize, info.Range)
				bufferWrites++
			}
			for _, info := range write.ImageInfo {
				require.Equal(t, core1_0.ImageLayoutGeneral, info.ImageLayout)
				imageWrites++
			}
		}
	}
	require.Equal(t, 1, bufferWrites)
	require.Equal(t, 1, imageWrites)

	require.True(t, renderer.DeleteProgram(program))
	_, err = renderer.Destroy()
	require.NoError(t, err)
}

func TestRendererBuildStatsString(t *testing.T) {
	renderer, _ := newRenderer(t, device.Features{NullDescriptors: true}, CreateOptions{Flags: CreateNullDescriptors})

	_, _, err := renderer.CreateBuffer(16, false)
	require.NoError(t, err)
	_, _, err = renderer.CreateProgram(graphicsStages(), descriptor.ProgramLayout{})
	require.NoError(t, err)

	stats := renderer.BuildStatsString()
	require.True(t, json.Valid([]byte(stats)), stats)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(stats), &decoded))
	require.Contains(t, decoded, "CommandBuffers")
	require.Contains(t, decoded, "BufferManager")
	require.Contains(t, decoded, "Programs")
	require.Contains(t, decoded, "Pipeline")
	require.Equal(t, "CreateNullDescriptors", decoded["Flags"])

	programs := decoded["Programs"].(map[string]any)
	require.Equal(t, float64(1), programs["Count"])
}

func TestRendererDestroyReleasesUndeletedHandles(t *testing.T) {
	harness := devicetest.New(gomock.NewController(t))
	harness.Features = device.Features{NullDescriptors: true}

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs))

	renderer, _, err := NewRenderer(logger, harness.Device, CreateOptions{Flags: CreateNullDescriptors, StagingBufferSize: 4096})
	require.NoError(t, err)

	_, _, err = renderer.CreateTexture(textureInfo, core1_0.ImageViewType2D)
	require.NoError(t, err)
	_, _, err = renderer.CreateSampler(core1_0.SamplerCreateInfo{})
	require.NoError(t, err)
	_, _, err = renderer.CreateProgram(graphicsStages(), descriptor.ProgramLayout{})
	require.NoError(t, err)
	_, _, err = renderer.CreateBuffer(16, true)
	require.NoError(t, err)

	_, err = renderer.Destroy()
	require.NoError(t, err)

	require.Contains(t, logs.String(), "[UNRELEASED TEXTURE]")
	require.Contains(t, logs.String(), "[UNRELEASED SAMPLER]")
	require.Contains(t, logs.String(), "[UNRELEASED PROGRAM]")
	require.Contains(t, logs.String(), "[UNRELEASED BUFFER]")

	require.Equal(t, 0, harness.LiveSamplers())
	created, destroyed := harness.ImageCounts()
	require.Equal(t, created, destroyed)
	buffersCreated, buffersDestroyed := harness.BufferCounts()
	require.Equal(t, buffersCreated, buffersDestroyed)

	_, err = renderer.Destroy()
	require.NoError(t, err)
}
