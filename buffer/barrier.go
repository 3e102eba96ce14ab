package buffer

import (
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/vkgal/device"
)

// DefaultAccessFlags covers every way a buffer may be read or written outside of a copy
const DefaultAccessFlags = core1_0.AccessIndirectCommandRead |
	core1_0.AccessIndexRead |
	core1_0.AccessVertexAttributeRead |
	core1_0.AccessUniformRead |
	core1_0.AccessShaderRead |
	core1_0.AccessShaderWrite |
	core1_0.AccessTransferRead |
	core1_0.AccessTransferWrite |
	core1_0.AccessHostRead |
	core1_0.AccessHostWrite

// InsertBufferBarrier orders access to [offset, offset+size) of buffer
func InsertBufferBarrier(
	commandBuffer device.CommandBuffer,
	buffer core1_0.Buffer,
	srcAccessMask, dstAccessMask core1_0.AccessFlags,
	srcStageMask, dstStageMask core1_0.PipelineStageFlags,
	offset, size int,
) error {
	return commandBuffer.CmdPipelineBarrier(srcStageMask, dstStageMask, nil, []core1_0.BufferMemoryBarrier{
		{
			SrcAccessMask:       srcAccessMask,
			DstAccessMask:       dstAccessMask,
			SrcQueueFamilyIndex: device.QueueFamilyIgnored,
			DstQueueFamilyIndex: device.QueueFamilyIgnored,
			Buffer:              buffer,
			Offset:              offset,
			Size:                size,
		},
	}, nil)
}
