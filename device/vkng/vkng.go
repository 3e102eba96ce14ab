// Package vkng binds the device collaborator to a vkngwrapper core 1.0 device driver.
package vkng

import (
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/vkgal/device"
)

// Options configures a Device
type Options struct {
	Driver           core1_0.CoreDeviceDriver
	Queue            core1_0.Queue
	QueueFamilyIndex int
	MemoryProperties *core1_0.PhysicalDeviceMemoryProperties
	// Features are reported to the renderer as given, except that push descriptors are always
	// disabled: the core driver cannot record VK_KHR_push_descriptor commands.
	Features device.Features
}

// Device implements device.Device over a single queue of a vkngwrapper device driver
type Device struct {
	driver           core1_0.CoreDeviceDriver
	queue            core1_0.Queue
	commandPool      core1_0.CommandPool
	memoryProperties *core1_0.PhysicalDeviceMemoryProperties
	features         device.Features
}

var _ device.Device = &Device{}

// New creates a Device and the resettable command pool its command buffers are allocated from
func New(o Options) (*Device, common.VkResult, error) {
	if o.Driver == nil {
		return nil, core1_0.VKErrorInitializationFailed, errors.New("vkng: a device driver is required")
	}
	if o.MemoryProperties == nil {
		return nil, core1_0.VKErrorInitializationFailed, errors.New("vkng: physical device memory properties are required")
	}

	pool, res, err := o.Driver.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		QueueFamilyIndex: o.QueueFamilyIndex,
		Flags:            core1_0.CommandPoolCreateResetBuffer,
	})
	if err != nil {
		return nil, res, err
	}

	features := o.Features
	features.PushDescriptors = false
	features.MaxPushDescriptors = 0

	return &Device{
		driver:           o.Driver,
		queue:            o.Queue,
		commandPool:      pool,
		memoryProperties: o.MemoryProperties,
		features:         features,
	}, res, nil
}

// Destroy releases the command pool. Every command buffer and fence must already be gone.
func (d *Device) Destroy() {
	d.driver.DestroyCommandPool(d.commandPool, nil)
}

func (d *Device) Features() device.Features {
	return d.features
}

func (d *Device) CreateFence() (device.Fence, common.VkResult, error) {
	fence, res, err := d.driver.CreateFence(nil, core1_0.FenceCreateInfo{})
	if err != nil {
		return nil, res, err
	}

	return &Fence{driver: d.driver, fence: fence}, res, nil
}

func (d *Device) WaitForFences(waitAll bool, timeout time.Duration, fences ...device.Fence) (common.VkResult, error) {
	handles := make([]core1_0.Fence, 0, len(fences))
	for _, fence := range fences {
		handles = append(handles, fence.(*Fence).fence)
	}

	return d.driver.WaitForFences(waitAll, timeout, handles...)
}

func (d *Device) AllocateCommandBuffers(count int) ([]device.CommandBuffer, common.VkResult, error) {
	handles, res, err := d.driver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        d.commandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: count,
	})
	if err != nil {
		return nil, res, err
	}

	buffers := make([]device.CommandBuffer, 0, len(handles))
	for _, handle := range handles {
		buffers = append(buffers, &CommandBuffer{driver: d.driver, commandBuffer: handle})
	}

	return buffers, res, nil
}

func (d *Device) FreeCommandBuffers(buffers ...device.CommandBuffer) {
	handles := make([]core1_0.CommandBuffer, 0, len(buffers))
	for _, buffer := range buffers {
		handles = append(handles, buffer.(*CommandBuffer).commandBuffer)
	}

	d.driver.FreeCommandBuffers(handles...)
}

func (d *Device) Submit(commandBuffer device.CommandBuffer, fence device.Fence) (common.VkResult, error) {
	var fenceHandle *core1_0.Fence
	if fence != nil {
		fenceHandle = &fence.(*Fence).fence
	}

	return d.driver.QueueSubmit(d.queue, fenceHandle, core1_0.SubmitInfo{
		CommandBuffers: []core1_0.CommandBuffer{commandBuffer.(*CommandBuffer).commandBuffer},
	})
}

func (d *Device) findMemoryType(typeFilter uint32, properties core1_0.MemoryPropertyFlags) (int, error) {
	for i, memoryType := range d.memoryProperties.MemoryTypes {
		typeBit := uint32(1 << i)

		if (typeFilter&typeBit) != 0 && (memoryType.PropertyFlags&properties) == properties {
			return i, nil
		}
	}

	return -1, errors.Newf("no memory type matches filter %#x with properties %s", typeFilter, properties)
}

func (d *Device) allocate(requirements *core1_0.MemoryRequirements, properties core1_0.MemoryPropertyFlags) (core1_0.DeviceMemory, common.VkResult, error) {
	memoryType, err := d.findMemoryType(requirements.MemoryTypeBits, properties)
	if err != nil {
		return core1_0.DeviceMemory{}, core1_0.VKErrorFeatureNotPresent, err
	}

	return d.driver.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: memoryType,
	})
}

func (d *Device) CreateBuffer(o core1_0.BufferCreateInfo) (core1_0.Buffer, common.VkResult, error) {
	return d.driver.CreateBuffer(nil, o)
}

func (d *Device) DestroyBuffer(buffer core1_0.Buffer) {
	d.driver.DestroyBuffer(buffer, nil)
}

func (d *Device) AllocateBufferMemory(buffer core1_0.Buffer, hostVisible bool) (core1_0.DeviceMemory, common.VkResult, error) {
	properties := core1_0.MemoryPropertyDeviceLocal
	if hostVisible {
		properties = core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent
	}

	memory, res, err := d.allocate(d.driver.GetBufferMemoryRequirements(buffer), properties)
	if err != nil {
		return memory, res, err
	}

	res, err = d.driver.BindBufferMemory(buffer, memory, 0)
	if err != nil {
		d.driver.FreeMemory(memory, nil)
		return core1_0.DeviceMemory{}, res, err
	}

	return memory, res, nil
}

func (d *Device) CreateImage(o core1_0.ImageCreateInfo) (core1_0.Image, common.VkResult, error) {
	return d.driver.CreateImage(nil, o)
}

func (d *Device) DestroyImage(image core1_0.Image) {
	d.driver.DestroyImage(image, nil)
}

func (d *Device) AllocateImageMemory(image core1_0.Image) (core1_0.DeviceMemory, common.VkResult, error) {
	memory, res, err := d.allocate(d.driver.GetImageMemoryRequirements(image), core1_0.MemoryPropertyDeviceLocal)
	if err != nil {
		return memory, res, err
	}

	res, err = d.driver.BindImageMemory(image, memory, 0)
	if err != nil {
		d.driver.FreeMemory(memory, nil)
		return core1_0.DeviceMemory{}, res, err
	}

	return memory, res, nil
}

func (d *Device) CreateImageView(o core1_0.ImageViewCreateInfo) (core1_0.ImageView, common.VkResult, error) {
	return d.driver.CreateImageView(nil, o)
}

func (d *Device) DestroyImageView(imageView core1_0.ImageView) {
	d.driver.DestroyImageView(imageView, nil)
}

func (d *Device) CreateSampler(o core1_0.SamplerCreateInfo) (core1_0.Sampler, common.VkResult, error) {
	return d.driver.CreateSampler(nil, o)
}

func (d *Device) DestroySampler(sampler core1_0.Sampler) {
	d.driver.DestroySampler(sampler, nil)
}

func (d *Device) FreeMemory(memory core1_0.DeviceMemory) {
	d.driver.FreeMemory(memory, nil)
}

func (d *Device) MapMemory(memory core1_0.DeviceMemory, offset, size int) (unsafe.Pointer, common.VkResult, error) {
	return d.driver.MapMemory(memory, offset, size, 0)
}

func (d *Device) UnmapMemory(memory core1_0.DeviceMemory) {
	d.driver.UnmapMemory(memory)
}

func (d *Device) CreateDescriptorPool(o core1_0.DescriptorPoolCreateInfo) (core1_0.DescriptorPool, common.VkResult, error) {
	return d.driver.CreateDescriptorPool(nil, o)
}

func (d *Device) DestroyDescriptorPool(pool core1_0.DescriptorPool) {
	d.driver.DestroyDescriptorPool(pool, nil)
}

func (d *Device) AllocateDescriptorSets(o core1_0.DescriptorSetAllocateInfo) ([]core1_0.DescriptorSet, common.VkResult, error) {
	return d.driver.AllocateDescriptorSets(o)
}

func (d *Device) FreeDescriptorSets(pool core1_0.DescriptorPool, sets ...core1_0.DescriptorSet) (common.VkResult, error) {
	return d.driver.FreeDescriptorSets(sets...)
}

func (d *Device) UpdateDescriptorSets(writes []core1_0.WriteDescriptorSet) error {
	return d.driver.UpdateDescriptorSets(writes, nil)
}

func (d *Device) CreateDescriptorSetLayout(o core1_0.DescriptorSetLayoutCreateInfo, pushDescriptors bool) (core1_0.DescriptorSetLayout, common.VkResult, error) {
	if pushDescriptors {
		return core1_0.DescriptorSetLayout{}, core1_0.VKErrorFeatureNotPresent, errors.New("vkng: push descriptors are not supported")
	}

	return d.driver.CreateDescriptorSetLayout(nil, o)
}

func (d *Device) DestroyDescriptorSetLayout(layout core1_0.DescriptorSetLayout) {
	d.driver.DestroyDescriptorSetLayout(layout, nil)
}

func (d *Device) CreatePipelineLayout(o core1_0.PipelineLayoutCreateInfo) (core1_0.PipelineLayout, common.VkResult, error) {
	return d.driver.CreatePipelineLayout(nil, o)
}

func (d *Device) DestroyPipelineLayout(layout core1_0.PipelineLayout) {
	d.driver.DestroyPipelineLayout(layout, nil)
}

func (d *Device) CreateGraphicsPipeline(o core1_0.GraphicsPipelineCreateInfo) (core1_0.Pipeline, common.VkResult, error) {
	pipelines, res, err := d.driver.CreateGraphicsPipelines(nil, nil, o)
	if err != nil {
		return core1_0.Pipeline{}, res, err
	}

	return pipelines[0], res, nil
}

func (d *Device) CreateComputePipeline(o core1_0.ComputePipelineCreateInfo) (core1_0.Pipeline, common.VkResult, error) {
	pipelines, res, err := d.driver.CreateComputePipelines(nil, nil, o)
	if err != nil {
		return core1_0.Pipeline{}, res, err
	}

	return pipelines[0], res, nil
}

func (d *Device) DestroyPipeline(pipeline core1_0.Pipeline) {
	d.driver.DestroyPipeline(pipeline, nil)
}
