// Package device describes the driver-binding collaborator that the rest of this module orchestrates.
// It creates handles, allocates memory and command buffers and submits work; everything above it only
// records barriers, copies and binds against handles it already owns.
package device

import (
	"time"
	"unsafe"

	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
)

//go:generate mockgen -source device.go -destination ./mocks/device.go -package mock_device

// Features lists the optional device capabilities that change how resources are bound
type Features struct {
	// NullDescriptors indicates that unbound descriptor slots may be left empty
	NullDescriptors bool
	// PushDescriptors indicates that descriptors may be written directly into a command buffer
	PushDescriptors bool
	// MaxPushDescriptors is the largest number of descriptors a single push may carry
	MaxPushDescriptors int
	// MinStorageBufferAlignment is the required offset alignment of storage buffer bindings
	MinStorageBufferAlignment int
}

// Fence is a GPU-to-CPU completion signal for one submission
type Fence interface {
	Status() (common.VkResult, error)
	Wait(timeout time.Duration) (common.VkResult, error)
	Reset() (common.VkResult, error)
	Destroy()
}

// CommandBuffer is a recordable batch of GPU commands
type CommandBuffer interface {
	Begin() (common.VkResult, error)
	End() (common.VkResult, error)
	Reset() (common.VkResult, error)

	CmdPipelineBarrier(srcStageMask, dstStageMask core1_0.PipelineStageFlags, memoryBarriers []core1_0.MemoryBarrier, bufferMemoryBarriers []core1_0.BufferMemoryBarrier, imageMemoryBarriers []core1_0.ImageMemoryBarrier) error
	CmdUpdateBuffer(dstBuffer core1_0.Buffer, dstOffset int, data []byte) error
	CmdCopyBuffer(srcBuffer, dstBuffer core1_0.Buffer, regions ...core1_0.BufferCopy) error
	CmdCopyBufferToImage(srcBuffer core1_0.Buffer, dstImage core1_0.Image, dstLayout core1_0.ImageLayout, regions ...core1_0.BufferImageCopy) error
	CmdCopyImageToBuffer(srcImage core1_0.Image, srcLayout core1_0.ImageLayout, dstBuffer core1_0.Buffer, regions ...core1_0.BufferImageCopy) error

	CmdBeginRenderPass(o core1_0.RenderPassBeginInfo) error
	CmdEndRenderPass()

	CmdBindPipeline(bindPoint core1_0.PipelineBindPoint, pipeline core1_0.Pipeline)
	CmdBindDescriptorSets(bindPoint core1_0.PipelineBindPoint, layout core1_0.PipelineLayout, firstSet int, sets []core1_0.DescriptorSet, dynamicOffsets []int)
	CmdPushDescriptorSet(bindPoint core1_0.PipelineBindPoint, layout core1_0.PipelineLayout, set int, writes []core1_0.WriteDescriptorSet) error
	CmdBindVertexBuffers(firstBinding int, buffers []core1_0.Buffer, offsets []int)
	CmdBindIndexBuffer(buffer core1_0.Buffer, offset int, indexType core1_0.IndexType)

	CmdSetViewport(viewports []core1_0.Viewport)
	CmdSetScissor(scissors []core1_0.Rect2D)
	CmdSetDepthBias(constantFactor, clamp, slopeFactor float32)
	CmdSetBlendConstants(constants [4]float32)
	CmdSetLineWidth(width float32)
	CmdSetStencilCompareMask(faceMask core1_0.StencilFaceFlags, compareMask uint32)
	CmdSetStencilWriteMask(faceMask core1_0.StencilFaceFlags, writeMask uint32)
	CmdSetStencilReference(faceMask core1_0.StencilFaceFlags, reference uint32)

	CmdDraw(vertexCount, instanceCount, firstVertex, firstInstance int)
	CmdDrawIndexed(indexCount, instanceCount, firstIndex, vertexOffset, firstInstance int)
	CmdDispatch(groupCountX, groupCountY, groupCountZ int)
}

// Device creates and destroys the handles that the rest of this module wraps and tracks
type Device interface {
	Features() Features

	CreateFence() (Fence, common.VkResult, error)
	WaitForFences(waitAll bool, timeout time.Duration, fences ...Fence) (common.VkResult, error)

	AllocateCommandBuffers(count int) ([]CommandBuffer, common.VkResult, error)
	FreeCommandBuffers(buffers ...CommandBuffer)
	Submit(commandBuffer CommandBuffer, fence Fence) (common.VkResult, error)

	CreateBuffer(o core1_0.BufferCreateInfo) (core1_0.Buffer, common.VkResult, error)
	DestroyBuffer(buffer core1_0.Buffer)
	AllocateBufferMemory(buffer core1_0.Buffer, hostVisible bool) (core1_0.DeviceMemory, common.VkResult, error)

	CreateImage(o core1_0.ImageCreateInfo) (core1_0.Image, common.VkResult, error)
	DestroyImage(image core1_0.Image)
	AllocateImageMemory(image core1_0.Image) (core1_0.DeviceMemory, common.VkResult, error)
	CreateImageView(o core1_0.ImageViewCreateInfo) (core1_0.ImageView, common.VkResult, error)
	DestroyImageView(imageView core1_0.ImageView)
	CreateSampler(o core1_0.SamplerCreateInfo) (core1_0.Sampler, common.VkResult, error)
	DestroySampler(sampler core1_0.Sampler)

	FreeMemory(memory core1_0.DeviceMemory)
	MapMemory(memory core1_0.DeviceMemory, offset, size int) (unsafe.Pointer, common.VkResult, error)
	UnmapMemory(memory core1_0.DeviceMemory)

	CreateDescriptorPool(o core1_0.DescriptorPoolCreateInfo) (core1_0.DescriptorPool, common.VkResult, error)
	DestroyDescriptorPool(pool core1_0.DescriptorPool)
	AllocateDescriptorSets(o core1_0.DescriptorSetAllocateInfo) ([]core1_0.DescriptorSet, common.VkResult, error)
	FreeDescriptorSets(pool core1_0.DescriptorPool, sets ...core1_0.DescriptorSet) (common.VkResult, error)
	UpdateDescriptorSets(writes []core1_0.WriteDescriptorSet) error

	CreateDescriptorSetLayout(o core1_0.DescriptorSetLayoutCreateInfo, pushDescriptors bool) (core1_0.DescriptorSetLayout, common.VkResult, error)
	DestroyDescriptorSetLayout(layout core1_0.DescriptorSetLayout)
	CreatePipelineLayout(o core1_0.PipelineLayoutCreateInfo) (core1_0.PipelineLayout, common.VkResult, error)
	DestroyPipelineLayout(layout core1_0.PipelineLayout)

	CreateGraphicsPipeline(o core1_0.GraphicsPipelineCreateInfo) (core1_0.Pipeline, common.VkResult, error)
	CreateComputePipeline(o core1_0.ComputePipelineCreateInfo) (core1_0.Pipeline, common.VkResult, error)
	DestroyPipeline(pipeline core1_0.Pipeline)
}

// QueueFamilyIgnored marks a barrier that does not transfer queue family ownership
const QueueFamilyIgnored = -1
