package devicetest

import (
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	mock_device "github.com/vkngwrapper/vkgal/device/mocks"
	"go.uber.org/mock/gomock"
)

// Command is a recorded binding, dynamic state or draw command
type Command struct {
	Name string
	Args []any
}

func (h *Harness) record(name string, args ...any) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.commands = append(h.commands, Command{Name: name, Args: args})
}

func (h *Harness) expectDescriptors() {
	h.Device.EXPECT().CreateDescriptorPool(gomock.Any()).DoAndReturn(func(o core1_0.DescriptorPoolCreateInfo) (core1_0.DescriptorPool, common.VkResult, error) {
		h.mutex.Lock()
		defer h.mutex.Unlock()

		h.pools = append(h.pools, o)
		return core1_0.DescriptorPool{}, core1_0.VKSuccess, nil
	}).AnyTimes()

	h.Device.EXPECT().DestroyDescriptorPool(gomock.Any()).Do(func(pool core1_0.DescriptorPool) {
		h.mutex.Lock()
		defer h.mutex.Unlock()

		h.poolsDestroyed++
	}).AnyTimes()

	h.Device.EXPECT().AllocateDescriptorSets(gomock.Any()).DoAndReturn(func(o core1_0.DescriptorSetAllocateInfo) ([]core1_0.DescriptorSet, common.VkResult, error) {
		h.mutex.Lock()
		defer h.mutex.Unlock()

		h.setsAllocated += len(o.SetLayouts)
		return make([]core1_0.DescriptorSet, len(o.SetLayouts)), core1_0.VKSuccess, nil
	}).AnyTimes()

	h.Device.EXPECT().FreeDescriptorSets(gomock.Any(), gomock.Any()).DoAndReturn(func(pool core1_0.DescriptorPool, sets ...core1_0.DescriptorSet) (common.VkResult, error) {
		h.mutex.Lock()
		defer h.mutex.Unlock()

		h.setsFreed += len(sets)
		return core1_0.VKSuccess, nil
	}).AnyTimes()

	h.Device.EXPECT().UpdateDescriptorSets(gomock.Any()).DoAndReturn(func(writes []core1_0.WriteDescriptorSet) error {
		h.mutex.Lock()
		defer h.mutex.Unlock()

		h.descriptorUpdates = append(h.descriptorUpdates, append([]core1_0.WriteDescriptorSet(nil), writes...))
		return nil
	}).AnyTimes()

	h.Device.EXPECT().CreateDescriptorSetLayout(gomock.Any(), gomock.Any()).DoAndReturn(func(o core1_0.DescriptorSetLayoutCreateInfo, pushDescriptors bool) (core1_0.DescriptorSetLayout, common.VkResult, error) {
		h.mutex.Lock()
		defer h.mutex.Unlock()

		h.setLayoutsCreated++
		if pushDescriptors {
			h.pushLayouts++
		}
		return core1_0.DescriptorSetLayout{}, core1_0.VKSuccess, nil
	}).AnyTimes()

	h.Device.EXPECT().DestroyDescriptorSetLayout(gomock.Any()).Do(func(layout core1_0.DescriptorSetLayout) {
		h.mutex.Lock()
		defer h.mutex.Unlock()

		h.setLayoutsDestroyed++
	}).AnyTimes()

	h.Device.EXPECT().CreatePipelineLayout(gomock.Any()).DoAndReturn(func(o core1_0.PipelineLayoutCreateInfo) (core1_0.PipelineLayout, common.VkResult, error) {
		h.mutex.Lock()
		defer h.mutex.Unlock()

		h.pipelineLayouts++
		return core1_0.PipelineLayout{}, core1_0.VKSuccess, nil
	}).AnyTimes()

	h.Device.EXPECT().DestroyPipelineLayout(gomock.Any()).Do(func(layout core1_0.PipelineLayout) {
		h.mutex.Lock()
		defer h.mutex.Unlock()

		h.pipelineLayoutsGone++
	}).AnyTimes()
}

func (h *Harness) expectPipelines() {
	h.Device.EXPECT().CreateGraphicsPipeline(gomock.Any()).DoAndReturn(func(o core1_0.GraphicsPipelineCreateInfo) (core1_0.Pipeline, common.VkResult, error) {
		h.mutex.Lock()
		defer h.mutex.Unlock()

		h.graphicsPipelines = append(h.graphicsPipelines, o)
		return core1_0.Pipeline{}, core1_0.VKSuccess, nil
	}).AnyTimes()

	h.Device.EXPECT().CreateComputePipeline(gomock.Any()).DoAndReturn(func(o core1_0.ComputePipelineCreateInfo) (core1_0.Pipeline, common.VkResult, error) {
		h.mutex.Lock()
		defer h.mutex.Unlock()

		h.computePipelines++
		return core1_0.Pipeline{}, core1_0.VKSuccess, nil
	}).AnyTimes()

	h.Device.EXPECT().DestroyPipeline(gomock.Any()).Do(func(pipeline core1_0.Pipeline) {
		h.mutex.Lock()
		defer h.mutex.Unlock()

		h.pipelinesDestroyed++
	}).AnyTimes()
}

func (h *Harness) expectCommands(buffer *mock_device.MockCommandBuffer) {
	buffer.EXPECT().CmdBeginRenderPass(gomock.Any()).DoAndReturn(func(o core1_0.RenderPassBeginInfo) error {
		h.record("BeginRenderPass", o.RenderArea, len(o.ClearValues))
		return nil
	}).AnyTimes()

	buffer.EXPECT().CmdEndRenderPass().Do(func() {
		h.record("EndRenderPass")
	}).AnyTimes()

	buffer.EXPECT().CmdBindPipeline(gomock.Any(), gomock.Any()).Do(func(bindPoint core1_0.PipelineBindPoint, pipeline core1_0.Pipeline) {
		h.record("BindPipeline", bindPoint)
	}).AnyTimes()

	buffer.EXPECT().CmdBindDescriptorSets(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Do(
		func(bindPoint core1_0.PipelineBindPoint, layout core1_0.PipelineLayout, firstSet int, sets []core1_0.DescriptorSet, offsets []int) {
			h.record("BindDescriptorSets", firstSet, len(sets))
		}).AnyTimes()

	buffer.EXPECT().CmdPushDescriptorSet(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(bindPoint core1_0.PipelineBindPoint, layout core1_0.PipelineLayout, set int, writes []core1_0.WriteDescriptorSet) error {
			h.record("PushDescriptorSet", set, append([]core1_0.WriteDescriptorSet(nil), writes...))
			return nil
		}).AnyTimes()

	buffer.EXPECT().CmdBindVertexBuffers(gomock.Any(), gomock.Any(), gomock.Any()).Do(func(first int, buffers []core1_0.Buffer, offsets []int) {
		h.record("BindVertexBuffers", first, append([]int(nil), offsets...))
	}).AnyTimes()

	buffer.EXPECT().CmdBindIndexBuffer(gomock.Any(), gomock.Any(), gomock.Any()).Do(func(b core1_0.Buffer, offset int, indexType core1_0.IndexType) {
		h.record("BindIndexBuffer", offset, indexType)
	}).AnyTimes()

	buffer.EXPECT().CmdSetViewport(gomock.Any()).Do(func(viewports []core1_0.Viewport) {
		h.record("SetViewport", append([]core1_0.Viewport(nil), viewports...))
	}).AnyTimes()

	buffer.EXPECT().CmdSetScissor(gomock.Any()).Do(func(scissors []core1_0.Rect2D) {
		h.record("SetScissor", append([]core1_0.Rect2D(nil), scissors...))
	}).AnyTimes()

	buffer.EXPECT().CmdSetDepthBias(gomock.Any(), gomock.Any(), gomock.Any()).Do(func(constant, clamp, slope float32) {
		h.record("SetDepthBias", constant, clamp, slope)
	}).AnyTimes()

	buffer.EXPECT().CmdSetBlendConstants(gomock.Any()).Do(func(constants [4]float32) {
		h.record("SetBlendConstants", constants)
	}).AnyTimes()

	buffer.EXPECT().CmdSetLineWidth(gomock.Any()).Do(func(width float32) {
		h.record("SetLineWidth", width)
	}).AnyTimes()

	buffer.EXPECT().CmdSetStencilCompareMask(gomock.Any(), gomock.Any()).Do(func(face core1_0.StencilFaceFlags, mask uint32) {
		h.record("SetStencilCompareMask", face, mask)
	}).AnyTimes()

	buffer.EXPECT().CmdSetStencilWriteMask(gomock.Any(), gomock.Any()).Do(func(face core1_0.StencilFaceFlags, mask uint32) {
		h.record("SetStencilWriteMask", face, mask)
	}).AnyTimes()

	buffer.EXPECT().CmdSetStencilReference(gomock.Any(), gomock.Any()).Do(func(face core1_0.StencilFaceFlags, reference uint32) {
		h.record("SetStencilReference", face, reference)
	}).AnyTimes()

	buffer.EXPECT().CmdDraw(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Do(func(vertexCount, instanceCount, firstVertex, firstInstance int) {
		h.record("Draw", vertexCount, instanceCount)
	}).AnyTimes()

	buffer.EXPECT().CmdDrawIndexed(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Do(func(indexCount, instanceCount, firstIndex, vertexOffset, firstInstance int) {
		h.record("DrawIndexed", indexCount, instanceCount)
	}).AnyTimes()

	buffer.EXPECT().CmdDispatch(gomock.Any(), gomock.Any(), gomock.Any()).Do(func(x, y, z int) {
		h.record("Dispatch", x, y, z)
	}).AnyTimes()
}

// Commands returns every recorded command with the name, or every command if name is empty
func (h *Harness) Commands(name string) []Command {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	var commands []Command
	for _, command := range h.commands {
		if name == "" || command.Name == name {
			commands = append(commands, command)
		}
	}
	return commands
}

// ClearCommands forgets every recorded command
func (h *Harness) ClearCommands() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.commands = nil
}

// Pools returns the create info of every descriptor pool and the number destroyed
func (h *Harness) Pools() ([]core1_0.DescriptorPoolCreateInfo, int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return append([]core1_0.DescriptorPoolCreateInfo(nil), h.pools...), h.poolsDestroyed
}

// DescriptorSetCounts returns the number of descriptor sets allocated and freed
func (h *Harness) DescriptorSetCounts() (allocated, freed int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.setsAllocated, h.setsFreed
}

// DescriptorUpdates returns the writes of every UpdateDescriptorSets call
func (h *Harness) DescriptorUpdates() [][]core1_0.WriteDescriptorSet {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return append([][]core1_0.WriteDescriptorSet(nil), h.descriptorUpdates...)
}

// SetLayoutCounts returns the number of descriptor set layouts created, destroyed and created for push descriptors
func (h *Harness) SetLayoutCounts() (created, destroyed, push int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.setLayoutsCreated, h.setLayoutsDestroyed, h.pushLayouts
}

// PipelineLayoutCounts returns the number of pipeline layouts created and destroyed
func (h *Harness) PipelineLayoutCounts() (created, destroyed int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.pipelineLayouts, h.pipelineLayoutsGone
}

// GraphicsPipelines returns the create info of every graphics pipeline
func (h *Harness) GraphicsPipelines() []core1_0.GraphicsPipelineCreateInfo {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return append([]core1_0.GraphicsPipelineCreateInfo(nil), h.graphicsPipelines...)
}

// PipelineCounts returns the number of compute pipelines created and of pipelines destroyed
func (h *Harness) PipelineCounts() (compute, destroyed int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.computePipelines, h.pipelinesDestroyed
}
