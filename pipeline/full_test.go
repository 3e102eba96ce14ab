package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/vkgal/descriptor"
	"github.com/vkngwrapper/vkgal/internal/devicetest"
)

func TestDrawBindsPipelineOncePerBatch(t *testing.T) {
	env := newTestEnv(t)
	pipeline := env.newPipeline(t, Options{})
	pipeline.SetProgram(env.graphicsProgram(t, descriptor.ProgramLayout{}))

	pipeline.SetBlendState(0, ColorBlend{Enable: true, WriteMask: colorComponentAll})
	pipeline.SetDepthTest(DepthTest{TestEnable: true, CompareOp: core1_0.CompareOpLess})
	pipeline.SetRasterizerState(core1_0.PolygonModeFill, core1_0.CullModeBack, core1_0.FrontFaceClockwise, false, false)

	_, err := pipeline.Draw(3, 1, 0, 0)
	require.NoError(t, err)
	require.Len(t, env.harness.Commands("BindPipeline"), 1)
	require.Len(t, env.harness.GraphicsPipelines(), 1)

	_, err = pipeline.Draw(3, 1, 0, 0)
	require.NoError(t, err)
	require.Len(t, env.harness.Commands("BindPipeline"), 1)

	pipeline.SetDepthTest(DepthTest{TestEnable: true, CompareOp: core1_0.CompareOpGreater})
	pipeline.SetLogicOpState(true, core1_0.LogicOpXor)
	_, err = pipeline.Draw(3, 1, 0, 0)
	require.NoError(t, err)
	require.Len(t, env.harness.Commands("BindPipeline"), 2)
	require.Len(t, env.harness.GraphicsPipelines(), 2)

	// Back to the first state: cached, but still a different pipeline than the bound one
	pipeline.SetDepthTest(DepthTest{TestEnable: true, CompareOp: core1_0.CompareOpLess})
	pipeline.SetLogicOpState(false, core1_0.LogicOpCopy)
	_, err = pipeline.Draw(3, 1, 0, 0)
	require.NoError(t, err)
	require.Len(t, env.harness.Commands("BindPipeline"), 3)
	require.Len(t, env.harness.GraphicsPipelines(), 2)

	// A state change that lands on the bound pipeline binds nothing
	pipeline.SetRasterizerState(core1_0.PolygonModeFill, core1_0.CullModeBack, core1_0.FrontFaceClockwise, false, false)
	_, err = pipeline.Draw(3, 1, 0, 0)
	require.NoError(t, err)
	require.Len(t, env.harness.Commands("BindPipeline"), 3)

	require.Len(t, env.harness.Commands("Draw"), 5)
	require.Equal(t, 5, pipeline.Draws())
	require.Equal(t, 3, pipeline.PipelineBinds())
}

func TestEmptyDrawsRecordNothing(t *testing.T) {
	env := newTestEnv(t)
	pipeline := env.newPipeline(t, Options{})
	pipeline.SetProgram(env.graphicsProgram(t, descriptor.ProgramLayout{}))

	_, err := pipeline.Draw(0, 1, 0, 0)
	require.NoError(t, err)
	_, err = pipeline.DrawIndexed(3, 0, 0, 0, 0)
	require.NoError(t, err)

	require.Empty(t, env.harness.Commands(""))
}

func TestDrawRequiresMatchingProgram(t *testing.T) {
	env := newTestEnv(t)
	pipeline := env.newPipeline(t, Options{})

	_, err := pipeline.Draw(3, 1, 0, 0)
	require.Error(t, err)

	pipeline.SetProgram(env.computeProgram(t, descriptor.ProgramLayout{}))
	_, err = pipeline.Draw(3, 1, 0, 0)
	require.Error(t, err)

	pipeline.SetProgram(env.graphicsProgram(t, descriptor.ProgramLayout{}))
	_, err = pipeline.DispatchCompute(1, 1, 1)
	require.Error(t, err)
}

func TestDynamicStateIsReplayedAfterFlush(t *testing.T) {
	env := newTestEnv(t)
	pipeline := env.newPipeline(t, Options{})
	pipeline.SetProgram(env.graphicsProgram(t, descriptor.ProgramLayout{}))

	viewports := []core1_0.Viewport{{Width: 640, Height: 480, MaxDepth: 1}}
	pipeline.SetViewports(viewports)
	pipeline.SetScissors([]core1_0.Rect2D{{Extent: core1_0.Extent2D{Width: 640, Height: 480}}})
	pipeline.SetLineWidth(2)

	_, err := pipeline.Draw(3, 1, 0, 0)
	require.NoError(t, err)
	require.Len(t, env.harness.Commands("SetViewport"), 1)
	require.Equal(t, viewports, env.harness.Commands("SetViewport")[0].Args[0])
	require.Equal(t, []any{float32(2)}, env.harness.Commands("SetLineWidth")[0].Args)
	require.Len(t, env.harness.Commands("SetStencilReference"), 1)

	_, err = pipeline.Draw(3, 1, 0, 0)
	require.NoError(t, err)
	require.Len(t, env.harness.Commands("SetViewport"), 1)
	require.Len(t, env.harness.Commands("SetLineWidth"), 1)

	// Same count: new dynamic state, same pipeline
	pipeline.SetViewports([]core1_0.Viewport{{Width: 320, Height: 240, MaxDepth: 1}})
	_, err = pipeline.Draw(3, 1, 0, 0)
	require.NoError(t, err)
	require.Len(t, env.harness.Commands("SetViewport"), 2)
	require.Len(t, env.harness.Commands("BindPipeline"), 1)

	_, err = pipeline.FlushAllCommands()
	require.NoError(t, err)
	require.Equal(t, 1, pipeline.Flushes())

	_, err = pipeline.Draw(3, 1, 0, 0)
	require.NoError(t, err)
	require.Len(t, env.harness.Commands("BindPipeline"), 2)
	require.Len(t, env.harness.Commands("SetViewport"), 3)
	require.Len(t, env.harness.Commands("SetScissor"), 2)
	require.Len(t, env.harness.Commands("SetLineWidth"), 2)
	require.Len(t, env.harness.Commands("SetBlendConstants"), 2)
	require.Len(t, env.harness.GraphicsPipelines(), 1)
}

func TestStencilStateSplitsFaces(t *testing.T) {
	env := newTestEnv(t)
	pipeline := env.newPipeline(t, Options{})
	pipeline.SetProgram(env.graphicsProgram(t, descriptor.ProgramLayout{}))

	pipeline.SetStencilTest(true, StencilFace{}, StencilFace{},
		StencilDynamic{CompareMask: 0xff, WriteMask: 0xff, Reference: 1},
		StencilDynamic{CompareMask: 0xff, WriteMask: 0xff, Reference: 2})

	_, err := pipeline.Draw(3, 1, 0, 0)
	require.NoError(t, err)

	references := env.harness.Commands("SetStencilReference")
	require.Len(t, references, 2)
	require.Equal(t, []any{core1_0.StencilFaceFront, uint32(1)}, references[0].Args)
	require.Equal(t, []any{core1_0.StencilFaceBack, uint32(2)}, references[1].Args)
}

func TestVertexBuffersAreReboundWhenDirty(t *testing.T) {
	env := newTestEnv(t)
	pipeline := env.newPipeline(t, Options{})
	pipeline.SetProgram(env.graphicsProgram(t, descriptor.ProgramLayout{}))

	first := env.buffer(t, make([]byte, 64))
	second := env.buffer(t, make([]byte, 64))
	pipeline.SetVertexBuffers([]VertexBuffer{
		{Holder: first, Size: -1, Stride: 16},
		{Holder: second, Offset: 16, Size: 32, Stride: 8},
	})

	_, err := pipeline.Draw(3, 1, 0, 0)
	require.NoError(t, err)
	binds := env.harness.Commands("BindVertexBuffers")
	require.Len(t, binds, 1)
	require.Equal(t, []any{0, []int{0, 16}}, binds[0].Args)

	bindings := env.harness.GraphicsPipelines()[0].VertexInputState.VertexBindingDescriptions
	require.Len(t, bindings, 2)
	require.Equal(t, 8, bindings[1].Stride)

	_, err = pipeline.Draw(3, 1, 0, 0)
	require.NoError(t, err)
	require.Len(t, env.harness.Commands("BindVertexBuffers"), 1)

	pipeline.SetVertexBuffers([]VertexBuffer{
		{Holder: first, Size: -1, Stride: 16},
		{},
		{Holder: second, Size: -1, Stride: 16},
	})
	env.harness.ClearCommands()
	_, err = pipeline.Draw(3, 1, 0, 0)
	require.NoError(t, err)
	binds = env.harness.Commands("BindVertexBuffers")
	require.Len(t, binds, 2)
	require.Equal(t, []any{0, []int{0}}, binds[0].Args)
	require.Equal(t, []any{2, []int{0}}, binds[1].Args)

	_, err = pipeline.FlushAllCommands()
	require.NoError(t, err)
	env.harness.ClearCommands()
	_, err = pipeline.Draw(3, 1, 0, 0)
	require.NoError(t, err)
	require.Len(t, env.harness.Commands("BindVertexBuffers"), 2)
}

func TestVertexStridesAreAligned(t *testing.T) {
	env := newTestEnv(t)
	pipeline := env.newPipeline(t, Options{VertexStrideAlignment: 4})
	pipeline.SetProgram(env.graphicsProgram(t, descriptor.ProgramLayout{}))

	vertices := env.buffer(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9})
	pipeline.SetVertexBuffers([]VertexBuffer{{Holder: vertices, Size: -1, Stride: 3}})

	_, err := pipeline.Draw(3, 1, 0, 0)
	require.NoError(t, err)

	created := env.harness.GraphicsPipelines()
	require.Len(t, created, 1)
	require.Equal(t, 4, created[0].VertexInputState.VertexBindingDescriptions[0].Stride)
	require.Equal(t, []any{0, []int{0}}, env.harness.Commands("BindVertexBuffers")[0].Args)
}

func TestIndexBufferBinding(t *testing.T) {
	env := newTestEnv(t)
	pipeline := env.newPipeline(t, Options{})
	pipeline.SetProgram(env.graphicsProgram(t, descriptor.ProgramLayout{}))

	indices := env.buffer(t, []byte{0, 1, 2, 2, 1, 3, 0, 0})
	pipeline.SetIndexBuffer(IndexBuffer{Holder: indices, Size: 6, Type: IndexTypeU8})
	createdBefore, _ := env.harness.BufferCounts()

	_, err := pipeline.DrawIndexed(6, 1, 0, 0, 0)
	require.NoError(t, err)
	binds := env.harness.Commands("BindIndexBuffer")
	require.Len(t, binds, 1)
	require.Equal(t, []any{0, core1_0.IndexTypeUInt16}, binds[0].Args)

	createdAfter, _ := env.harness.BufferCounts()
	require.Greater(t, createdAfter, createdBefore)

	_, err = pipeline.DrawIndexed(6, 1, 0, 0, 0)
	require.NoError(t, err)
	require.Len(t, env.harness.Commands("BindIndexBuffer"), 1)

	pipeline.SetIndexBuffer(IndexBuffer{Holder: indices, Offset: 4, Size: -1, Type: IndexTypeU32})
	_, err = pipeline.DrawIndexed(1, 1, 0, 0, 0)
	require.NoError(t, err)
	binds = env.harness.Commands("BindIndexBuffer")
	require.Len(t, binds, 2)
	require.Equal(t, []any{4, core1_0.IndexTypeUInt32}, binds[1].Args)

	// Non-indexed draws leave the index binding alone
	_, err = pipeline.FlushAllCommands()
	require.NoError(t, err)
	_, err = pipeline.Draw(3, 1, 0, 0)
	require.NoError(t, err)
	require.Len(t, env.harness.Commands("BindIndexBuffer"), 2)
	_, err = pipeline.DrawIndexed(1, 1, 0, 0, 0)
	require.NoError(t, err)
	require.Len(t, env.harness.Commands("BindIndexBuffer"), 3)
}

func TestIndexedDrawWithoutIndexBufferFails(t *testing.T) {
	env := newTestEnv(t)
	pipeline := env.newPipeline(t, Options{})
	pipeline.SetProgram(env.graphicsProgram(t, descriptor.ProgramLayout{}))
	pipeline.SetIndexBuffer(IndexBuffer{Type: IndexTypeU16})

	_, err := pipeline.DrawIndexed(3, 1, 0, 0, 0)
	require.Error(t, err)
}

func TestConversionFlushesWhenSourceIsRecording(t *testing.T) {
	env := newTestEnv(t)
	pipeline := env.newPipeline(t, Options{})
	pipeline.SetProgram(env.graphicsProgram(t, descriptor.ProgramLayout{}))

	indices := env.buffer(t, []byte{0, 1, 2, 3})
	// The recording command buffer writes the indices
	indices.GetBufferRange(0, 4, true).GetRange(pipeline.CommandBuffer(), 0, 4)

	pipeline.SetIndexBuffer(IndexBuffer{Holder: indices, Size: -1, Type: IndexTypeU8})
	_, err := pipeline.DrawIndexed(4, 1, 0, 0, 0)
	require.NoError(t, err)

	require.Equal(t, 1, pipeline.Flushes())
	require.Len(t, env.harness.Commands("BindIndexBuffer"), 1)
	require.Len(t, env.harness.Commands("DrawIndexed"), 1)
}

func TestDescriptorsAreBoundOnDraw(t *testing.T) {
	env := newTestEnv(t)
	pipeline := env.newPipeline(t, Options{})
	pipeline.SetProgram(env.graphicsProgram(t, descriptor.ProgramLayout{Sets: [descriptor.KindCount][]descriptor.Binding{
		descriptor.KindUniform: {{Binding: 0, Stages: core1_0.StageVertex}},
	}}))

	uniforms := env.buffer(t, make([]byte, 64))
	pipeline.SetUniformBuffer(0, descriptor.BufferRange{Holder: uniforms, Size: descriptor.WholeSize})

	_, err := pipeline.Draw(3, 1, 0, 0)
	require.NoError(t, err)
	require.Len(t, env.harness.Commands("BindDescriptorSets"), 1)

	_, err = pipeline.Draw(3, 1, 0, 0)
	require.NoError(t, err)
	require.Len(t, env.harness.Commands("BindDescriptorSets"), 1)

	_, err = pipeline.FlushAllCommands()
	require.NoError(t, err)
	_, err = pipeline.Draw(3, 1, 0, 0)
	require.NoError(t, err)
	require.Len(t, env.harness.Commands("BindDescriptorSets"), 2)
}

func TestComputeDispatch(t *testing.T) {
	env := newTestEnv(t)
	pipeline := env.newPipeline(t, Options{})
	pipeline.SetProgram(env.computeProgram(t, descriptor.ProgramLayout{}))

	_, err := pipeline.DispatchCompute(8, 8, 1)
	require.NoError(t, err)
	_, err = pipeline.DispatchCompute(4, 4, 1)
	require.NoError(t, err)

	binds := env.harness.Commands("BindPipeline")
	require.Len(t, binds, 1)
	require.Equal(t, []any{core1_0.PipelineBindPointCompute}, binds[0].Args)
	require.Len(t, env.harness.Commands("Dispatch"), 2)

	compute, _ := env.harness.PipelineCounts()
	require.Equal(t, 1, compute)

	_, err = pipeline.FlushAllCommands()
	require.NoError(t, err)
	_, err = pipeline.DispatchCompute(1, 1, 1)
	require.NoError(t, err)
	require.Len(t, env.harness.Commands("BindPipeline"), 2)
}

func TestDisposeSubmitsRecording(t *testing.T) {
	env := newTestEnv(t)
	pipeline := env.newPipeline(t, Options{})

	_, err := pipeline.Dispose()
	require.NoError(t, err)
	require.Len(t, env.harness.Submissions(), 1)

	_, err = pipeline.Dispose()
	require.NoError(t, err)
	require.Len(t, env.harness.Submissions(), 1)
}

func commandNames(commands []devicetest.Command, names ...string) []string {
	wanted := make(map[string]struct{}, len(names))
	for _, name := range names {
		wanted[name] = struct{}{}
	}

	var out []string
	for _, command := range commands {
		if _, ok := wanted[command.Name]; ok {
			out = append(out, command.Name)
		}
	}
	return out
}

func TestDrawsAreBracketedByRenderPass(t *testing.T) {
	env := newTestEnv(t)
	pipeline := env.newPipeline(t, Options{})
	pipeline.SetProgram(env.graphicsProgram(t, descriptor.ProgramLayout{}))

	area := core1_0.Rect2D{Extent: core1_0.Extent2D{Width: 640, Height: 480}}
	pipeline.SetFramebuffer(core1_0.Framebuffer{}, area, []core1_0.ClearValue{core1_0.ClearValueFloat{0, 0, 0, 1}})

	_, err := pipeline.Draw(3, 1, 0, 0)
	require.NoError(t, err)
	_, err = pipeline.Draw(3, 1, 0, 0)
	require.NoError(t, err)
	require.True(t, pipeline.RenderPassActive())

	begins := env.harness.Commands("BeginRenderPass")
	require.Len(t, begins, 1)
	require.Equal(t, []any{area, 1}, begins[0].Args)

	_, err = pipeline.FlushAllCommands()
	require.NoError(t, err)
	require.False(t, pipeline.RenderPassActive())

	_, err = pipeline.Draw(3, 1, 0, 0)
	require.NoError(t, err)

	_, err = pipeline.Dispose()
	require.NoError(t, err)

	require.Equal(t, []string{
		"BeginRenderPass", "Draw", "Draw", "EndRenderPass",
		"BeginRenderPass", "Draw", "EndRenderPass",
	}, commandNames(env.harness.Commands(""), "BeginRenderPass", "EndRenderPass", "Draw"))
	require.Equal(t, 2, pipeline.RenderPasses())
}

func TestRenderPassEndsBeforeTransfers(t *testing.T) {
	env := newTestEnv(t)
	pipeline := env.newPipeline(t, Options{})
	pipeline.SetProgram(env.graphicsProgram(t, descriptor.ProgramLayout{}))

	_, err := pipeline.Draw(3, 1, 0, 0)
	require.NoError(t, err)

	cbs, _, err := pipeline.TransferCommandBuffer()
	require.NoError(t, err)
	require.Equal(t, pipeline.CommandBuffer().CommandBufferIndex, cbs.CommandBufferIndex)
	require.False(t, pipeline.RenderPassActive())

	// Nothing to end the second time
	_, _, err = pipeline.TransferCommandBuffer()
	require.NoError(t, err)
	require.Len(t, env.harness.Commands("EndRenderPass"), 1)

	_, err = pipeline.Draw(3, 1, 0, 0)
	require.NoError(t, err)
	require.Len(t, env.harness.Commands("BeginRenderPass"), 2)

	pipeline.SetProgram(env.computeProgram(t, descriptor.ProgramLayout{}))
	_, err = pipeline.DispatchCompute(1, 1, 1)
	require.NoError(t, err)
	require.False(t, pipeline.RenderPassActive())

	require.Equal(t, []string{
		"BeginRenderPass", "Draw", "EndRenderPass",
		"BeginRenderPass", "Draw", "EndRenderPass", "Dispatch",
	}, commandNames(env.harness.Commands(""), "BeginRenderPass", "EndRenderPass", "Draw", "Dispatch"))
}

func TestConversionFlushEndsAndRestartsRenderPass(t *testing.T) {
	env := newTestEnv(t)
	pipeline := env.newPipeline(t, Options{})
	pipeline.SetProgram(env.graphicsProgram(t, descriptor.ProgramLayout{}))

	_, err := pipeline.Draw(3, 1, 0, 0)
	require.NoError(t, err)

	indices := env.buffer(t, []byte{0, 1, 2, 3})
	indices.GetBufferRange(0, 4, true).GetRange(pipeline.CommandBuffer(), 0, 4)

	pipeline.SetIndexBuffer(IndexBuffer{Holder: indices, Size: -1, Type: IndexTypeU8})
	_, err = pipeline.DrawIndexed(4, 1, 0, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, pipeline.Flushes())

	// The widened indices are copied in after the pass ends and before it begins again
	require.Equal(t, []string{
		"BeginRenderPass", "Draw", "EndRenderPass",
		"CopyBuffer",
		"BeginRenderPass", "DrawIndexed",
	}, commandNames(env.harness.Commands(""), "BeginRenderPass", "EndRenderPass", "Draw", "DrawIndexed", "CopyBuffer"))
}

func TestFlushDropsSubmittedCommandBufferWhenRentFails(t *testing.T) {
	env := newTestEnv(t)
	pipeline := env.newPipeline(t, Options{})
	pipeline.SetProgram(env.graphicsProgram(t, descriptor.ProgramLayout{}))

	_, err := pipeline.Draw(3, 1, 0, 0)
	require.NoError(t, err)

	env.harness.FailBegins(1)
	_, err = pipeline.FlushAllCommands()
	require.Error(t, err)
	require.Len(t, env.harness.Submissions(), 1)
	require.Equal(t, 1, pipeline.Flushes())
	require.False(t, pipeline.CommandBuffer().Valid())

	// The next draw rents a fresh command buffer instead of recording into the submitted one
	_, err = pipeline.Draw(3, 1, 0, 0)
	require.NoError(t, err)
	require.True(t, pipeline.CommandBuffer().Valid())
	require.True(t, env.pool.IsRented(pipeline.CommandBuffer().CommandBufferIndex))
	require.Len(t, env.harness.Commands("BindPipeline"), 2)

	_, err = pipeline.FlushAllCommands()
	require.NoError(t, err)
	require.Len(t, env.harness.Submissions(), 2)
	require.Equal(t, 2, pipeline.Flushes())
}
