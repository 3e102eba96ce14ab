package descriptor

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"
	"golang.org/x/exp/slog"
)

func TestProgramLayoutSignatureValidation(t *testing.T) {
	testCases := map[string]struct {
		layout ProgramLayout
		errMsg string
	}{
		"OutOfRange": {
			layout: ProgramLayout{Sets: [KindCount][]Binding{KindTexture: {{Binding: MaxBindingsPerSet, Stages: fragment}}}},
			errMsg: "Texture binding 32 is outside of [0, 32)",
		},
		"Negative": {
			layout: ProgramLayout{Sets: [KindCount][]Binding{KindStorage: {{Binding: -1, Stages: fragment}}}},
			errMsg: "Storage binding -1 is outside of [0, 32)",
		},
		"NoStages": {
			layout: ProgramLayout{Sets: [KindCount][]Binding{KindUniform: {{Binding: 3}}}},
			errMsg: "Uniform binding 3 has no shader stages",
		},
		"Duplicate": {
			layout: ProgramLayout{Sets: [KindCount][]Binding{KindImage: bindings(2, 2)}},
			errMsg: "Image binding 2 is declared twice",
		},
		"TooMany": {
			layout: ProgramLayout{Sets: [KindCount][]Binding{KindUniform: bindings(0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16)}},
			errMsg: "program declares 17 Uniform bindings but at most 16 are supported",
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := testCase.layout.Signature()
			require.EqualError(t, err, testCase.errMsg)
		})
	}
}

func TestPipelineLayoutCacheSharesIdenticalLayouts(t *testing.T) {
	env := newTestEnv(t, 16, 0)

	first := env.program(t, ProgramLayout{Sets: [KindCount][]Binding{
		KindUniform: {{Binding: 1, Stages: vertex}, {Binding: 0, Stages: fragment}},
		KindTexture: bindings(3),
	}})
	second := env.program(t, ProgramLayout{Sets: [KindCount][]Binding{
		KindUniform: {{Binding: 0, Stages: fragment}, {Binding: 1, Stages: vertex}},
		KindTexture: bindings(3),
	}})
	require.Same(t, first, second)
	require.Equal(t, 1, env.layouts.Count())

	require.Equal(t, []Binding{{Binding: 0, Stages: fragment}, {Binding: 1, Stages: vertex}}, first.Bindings(KindUniform))
	require.True(t, first.Declared(KindTexture).IsSet(3))
	require.False(t, first.Declared(KindTexture).IsSet(0))
	require.False(t, first.HasBindings(KindStorage))

	created, _, push := env.harness.SetLayoutCounts()
	require.Equal(t, int(KindCount), created)
	require.Equal(t, 0, push)
	layouts, _ := env.harness.PipelineLayoutCounts()
	require.Equal(t, 1, layouts)

	third := env.program(t, ProgramLayout{Sets: [KindCount][]Binding{KindUniform: bindings(0)}})
	require.NotSame(t, first, third)
	require.Equal(t, 2, env.layouts.Count())
}

func TestPipelineLayoutPushDescriptors(t *testing.T) {
	testCases := map[string]struct {
		maxPush  int
		layout   ProgramLayout
		expected bool
	}{
		"Pushed": {
			maxPush:  4,
			layout:   ProgramLayout{Sets: [KindCount][]Binding{KindUniform: bindings(0, 1)}, PushDescriptors: true},
			expected: true,
		},
		"NotRequested": {
			maxPush: 4,
			layout:  ProgramLayout{Sets: [KindCount][]Binding{KindUniform: bindings(0, 1)}},
		},
		"Unsupported": {
			layout: ProgramLayout{Sets: [KindCount][]Binding{KindUniform: bindings(0, 1)}, PushDescriptors: true},
		},
		"TooManyUniforms": {
			maxPush: 4,
			layout:  ProgramLayout{Sets: [KindCount][]Binding{KindUniform: bindings(0, 1, 2, 3, 4)}, PushDescriptors: true},
		},
		"NoUniforms": {
			maxPush: 4,
			layout:  ProgramLayout{Sets: [KindCount][]Binding{KindStorage: bindings(0)}, PushDescriptors: true},
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, 16, testCase.maxPush)
			entry := env.program(t, testCase.layout)
			require.Equal(t, testCase.expected, entry.UsesPushDescriptors())

			_, _, push := env.harness.SetLayoutCounts()
			if testCase.expected {
				require.Equal(t, 1, push)
			} else {
				require.Equal(t, 0, push)
			}
		})
	}
}

func TestPipelineLayoutCursorsRewindPerCommandBuffer(t *testing.T) {
	env := newTestEnv(t, 16, 0)
	entry := env.program(t, ProgramLayout{Sets: [KindCount][]Binding{KindUniform: bindings(0)}})

	require.Panics(t, func() {
		_, _, _, _ = entry.GetNewDescriptorSetCollection(KindUniform)
	})

	entry.UpdateCommandBufferIndex(0)
	first, isNew, _, err := entry.GetNewDescriptorSetCollection(KindUniform)
	require.NoError(t, err)
	require.True(t, isNew)
	second, isNew, _, err := entry.GetNewDescriptorSetCollection(KindUniform)
	require.NoError(t, err)
	require.True(t, isNew)
	require.NotSame(t, first, second)

	entry.UpdateCommandBufferIndex(1)
	other, isNew, _, err := entry.GetNewDescriptorSetCollection(KindUniform)
	require.NoError(t, err)
	require.True(t, isNew)

	entry.UpdateCommandBufferIndex(0)
	reused, isNew, _, err := entry.GetNewDescriptorSetCollection(KindUniform)
	require.NoError(t, err)
	require.False(t, isNew)
	require.Same(t, first, reused)

	reused, isNew, _, err = entry.GetNewDescriptorSetCollection(KindUniform)
	require.NoError(t, err)
	require.False(t, isNew)
	require.Same(t, second, reused)

	_, isNew, _, err = entry.GetNewDescriptorSetCollection(KindUniform)
	require.NoError(t, err)
	require.True(t, isNew)

	require.Equal(t, 3, entry.CachedSetCount(0, KindUniform))
	require.Equal(t, 1, entry.CachedSetCount(1, KindUniform))
	require.Equal(t, 0, entry.CachedSetCount(0, KindStorage))

	entry.UpdateCommandBufferIndex(0)
	reused, isNew, _, err = entry.GetNewDescriptorSetCollection(KindUniform)
	require.NoError(t, err)
	require.False(t, isNew)
	require.Same(t, first, reused)
	require.False(t, other.Destroyed())

	env.layouts.Destroy()
	require.True(t, first.Destroyed())
	require.True(t, other.Destroyed())
	require.Equal(t, 0, env.layouts.Count())

	created, destroyed, _ := env.harness.SetLayoutCounts()
	require.Equal(t, created, destroyed)
	layouts, layoutsDestroyed := env.harness.PipelineLayoutCounts()
	require.Equal(t, layouts, layoutsDestroyed)
	allocated, freed := env.harness.DescriptorSetCounts()
	require.Equal(t, 4, allocated)
	require.Equal(t, 4, freed)
}

func TestPipelineLayoutCacheRejectsInvalidLayout(t *testing.T) {
	env := newTestEnv(t, 16, 0)
	cache := NewPipelineLayoutCache(slog.Default(), env.harness.Device, env.manager, 4, 4, 0)

	_, _, err := cache.GetOrCreate(ProgramLayout{Sets: [KindCount][]Binding{KindUniform: {{Binding: 0}}}})
	require.Error(t, err)
	require.Equal(t, 0, cache.Count())

	layouts, _ := env.harness.PipelineLayoutCounts()
	require.Equal(t, 0, layouts)
	require.Equal(t, core1_0.DescriptorTypeStorageImage, KindImage.DescriptorType())
}
