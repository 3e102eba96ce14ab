package vkng

import (
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/vkgal/device"
)

type CommandBuffer struct {
	driver        core1_0.CoreDeviceDriver
	commandBuffer core1_0.CommandBuffer
}

var _ device.CommandBuffer = &CommandBuffer{}

func (c *CommandBuffer) Begin() (common.VkResult, error) {
	return c.driver.BeginCommandBuffer(c.commandBuffer, core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
}

func (c *CommandBuffer) End() (common.VkResult, error) {
	return c.driver.EndCommandBuffer(c.commandBuffer)
}

func (c *CommandBuffer) Reset() (common.VkResult, error) {
	return c.driver.ResetCommandBuffer(c.commandBuffer, 0)
}

func (c *CommandBuffer) CmdPipelineBarrier(srcStageMask, dstStageMask core1_0.PipelineStageFlags, memoryBarriers []core1_0.MemoryBarrier, bufferMemoryBarriers []core1_0.BufferMemoryBarrier, imageMemoryBarriers []core1_0.ImageMemoryBarrier) error {
	return c.driver.CmdPipelineBarrier(c.commandBuffer, srcStageMask, dstStageMask, 0, memoryBarriers, bufferMemoryBarriers, imageMemoryBarriers)
}

func (c *CommandBuffer) CmdUpdateBuffer(dstBuffer core1_0.Buffer, dstOffset int, data []byte) error {
	return c.driver.CmdUpdateBuffer(c.commandBuffer, dstBuffer, dstOffset, len(data), data)
}

func (c *CommandBuffer) CmdCopyBuffer(srcBuffer, dstBuffer core1_0.Buffer, regions ...core1_0.BufferCopy) error {
	return c.driver.CmdCopyBuffer(c.commandBuffer, srcBuffer, dstBuffer, regions...)
}

func (c *CommandBuffer) CmdCopyBufferToImage(srcBuffer core1_0.Buffer, dstImage core1_0.Image, dstLayout core1_0.ImageLayout, regions ...core1_0.BufferImageCopy) error {
	return c.driver.CmdCopyBufferToImage(c.commandBuffer, srcBuffer, dstImage, dstLayout, regions...)
}

func (c *CommandBuffer) CmdCopyImageToBuffer(srcImage core1_0.Image, srcLayout core1_0.ImageLayout, dstBuffer core1_0.Buffer, regions ...core1_0.BufferImageCopy) error {
	return c.driver.CmdCopyImageToBuffer(c.commandBuffer, srcImage, srcLayout, dstBuffer, regions...)
}

func (c *CommandBuffer) CmdBeginRenderPass(o core1_0.RenderPassBeginInfo) error {
	return c.driver.CmdBeginRenderPass(c.commandBuffer, core1_0.SubpassContentsInline, o)
}

func (c *CommandBuffer) CmdEndRenderPass() {
	c.driver.CmdEndRenderPass(c.commandBuffer)
}

func (c *CommandBuffer) CmdBindPipeline(bindPoint core1_0.PipelineBindPoint, pipeline core1_0.Pipeline) {
	c.driver.CmdBindPipeline(c.commandBuffer, bindPoint, pipeline)
}

func (c *CommandBuffer) CmdBindDescriptorSets(bindPoint core1_0.PipelineBindPoint, layout core1_0.PipelineLayout, firstSet int, sets []core1_0.DescriptorSet, dynamicOffsets []int) {
	c.driver.CmdBindDescriptorSets(c.commandBuffer, bindPoint, layout, firstSet, sets, dynamicOffsets)
}

// CmdPushDescriptorSet requires VK_KHR_push_descriptor, which the core driver does not expose.
// Devices built on this adapter always report PushDescriptors as disabled.
func (c *CommandBuffer) CmdPushDescriptorSet(bindPoint core1_0.PipelineBindPoint, layout core1_0.PipelineLayout, set int, writes []core1_0.WriteDescriptorSet) error {
	return core1_0.VKErrorExtensionNotPresent.ToError()
}

func (c *CommandBuffer) CmdBindVertexBuffers(firstBinding int, buffers []core1_0.Buffer, offsets []int) {
	c.driver.CmdBindVertexBuffers(c.commandBuffer, firstBinding, buffers, offsets)
}

func (c *CommandBuffer) CmdBindIndexBuffer(buffer core1_0.Buffer, offset int, indexType core1_0.IndexType) {
	c.driver.CmdBindIndexBuffer(c.commandBuffer, buffer, offset, indexType)
}

func (c *CommandBuffer) CmdSetViewport(viewports []core1_0.Viewport) {
	c.driver.CmdSetViewport(c.commandBuffer, viewports...)
}

func (c *CommandBuffer) CmdSetScissor(scissors []core1_0.Rect2D) {
	c.driver.CmdSetScissor(c.commandBuffer, scissors...)
}

func (c *CommandBuffer) CmdSetDepthBias(constantFactor, clamp, slopeFactor float32) {
	c.driver.CmdSetDepthBias(c.commandBuffer, constantFactor, clamp, slopeFactor)
}

func (c *CommandBuffer) CmdSetBlendConstants(constants [4]float32) {
	c.driver.CmdSetBlendConstants(c.commandBuffer, constants)
}

func (c *CommandBuffer) CmdSetLineWidth(width float32) {
	c.driver.CmdSetLineWidth(c.commandBuffer, width)
}

func (c *CommandBuffer) CmdSetStencilCompareMask(faceMask core1_0.StencilFaceFlags, compareMask uint32) {
	c.driver.CmdSetStencilCompareMask(c.commandBuffer, faceMask, compareMask)
}

func (c *CommandBuffer) CmdSetStencilWriteMask(faceMask core1_0.StencilFaceFlags, writeMask uint32) {
	c.driver.CmdSetStencilWriteMask(c.commandBuffer, faceMask, writeMask)
}

func (c *CommandBuffer) CmdSetStencilReference(faceMask core1_0.StencilFaceFlags, reference uint32) {
	c.driver.CmdSetStencilReference(c.commandBuffer, faceMask, reference)
}

func (c *CommandBuffer) CmdDraw(vertexCount, instanceCount, firstVertex, firstInstance int) {
	c.driver.CmdDraw(c.commandBuffer, vertexCount, instanceCount, uint32(firstVertex), uint32(firstInstance))
}

func (c *CommandBuffer) CmdDrawIndexed(indexCount, instanceCount, firstIndex, vertexOffset, firstInstance int) {
	c.driver.CmdDrawIndexed(c.commandBuffer, indexCount, instanceCount, uint32(firstIndex), vertexOffset, uint32(firstInstance))
}

func (c *CommandBuffer) CmdDispatch(groupCountX, groupCountY, groupCountZ int) {
	c.driver.CmdDispatch(c.commandBuffer, groupCountX, groupCountY, groupCountZ)
}
