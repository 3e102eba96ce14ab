// Package devicetest builds mock devices with the default behaviour most tests need: fences that can be
// signalled by hand, command buffers that begin and end successfully and submissions that are recorded.
package devicetest

import (
	"sync"
	"time"
	"unsafe"

	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/vkgal/device"
	mock_device "github.com/vkngwrapper/vkgal/device/mocks"
	"go.uber.org/mock/gomock"
)

// FakeFence is a fence whose signalled state is controlled by the test
type FakeFence struct {
	mutex     sync.Mutex
	signaled  bool
	destroyed int
	waits     int
}

var _ device.Fence = &FakeFence{}

func (f *FakeFence) Signal() {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.signaled = true
}

func (f *FakeFence) Signaled() bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	return f.signaled
}

func (f *FakeFence) Destroyed() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	return f.destroyed
}

func (f *FakeFence) Waits() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	return f.waits
}

func (f *FakeFence) Status() (common.VkResult, error) {
	if f.Signaled() {
		return core1_0.VKSuccess, nil
	}
	return core1_0.VKNotReady, nil
}

// Wait signals the fence, as if the GPU finished the moment someone waited
func (f *FakeFence) Wait(timeout time.Duration) (common.VkResult, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.waits++
	f.signaled = true
	return core1_0.VKSuccess, nil
}

func (f *FakeFence) Reset() (common.VkResult, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.signaled = false
	return core1_0.VKSuccess, nil
}

func (f *FakeFence) Destroy() {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.destroyed++
}

// Harness wraps a mock device
type Harness struct {
	Ctrl     *gomock.Controller
	Device   *mock_device.MockDevice
	Features device.Features

	mutex          sync.Mutex
	fences         []*FakeFence
	commandBuffers []*mock_device.MockCommandBuffer
	submissions    []*FakeFence
	fenceWaits     int
	fenceFailures  int
	beginFailures  int

	buffersCreated   int
	buffersDestroyed int
	memoryAllocated  int
	memoryFreed      int
	barriers         int
	updates          []BufferUpdate
	copies           []core1_0.BufferCopy
	imagesCreated    int
	imagesDestroyed  int
	viewsCreated     int
	viewsDestroyed   int
	samplers         int
	imageUploads     []core1_0.BufferImageCopy
	imageReadbacks   []core1_0.BufferImageCopy

	pools               []core1_0.DescriptorPoolCreateInfo
	poolsDestroyed      int
	setsAllocated       int
	setsFreed           int
	descriptorUpdates   [][]core1_0.WriteDescriptorSet
	setLayoutsCreated   int
	setLayoutsDestroyed int
	pushLayouts         int
	pipelineLayouts     int
	pipelineLayoutsGone int
	graphicsPipelines   []core1_0.GraphicsPipelineCreateInfo
	computePipelines    int
	pipelinesDestroyed  int
	commands            []Command
}

// BufferUpdate is a recorded CmdUpdateBuffer
type BufferUpdate struct {
	Offset int
	Data   []byte
}

func New(ctrl *gomock.Controller) *Harness {
	h := &Harness{
		Ctrl:   ctrl,
		Device: mock_device.NewMockDevice(ctrl),
	}

	h.Device.EXPECT().Features().DoAndReturn(func() device.Features {
		return h.Features
	}).AnyTimes()

	h.Device.EXPECT().CreateFence().DoAndReturn(func() (device.Fence, common.VkResult, error) {
		h.mutex.Lock()
		defer h.mutex.Unlock()

		if h.fenceFailures > 0 {
			h.fenceFailures--
			return nil, core1_0.VKErrorOutOfDeviceMemory, core1_0.VKErrorOutOfDeviceMemory.ToError()
		}

		fence := &FakeFence{}
		h.fences = append(h.fences, fence)
		return fence, core1_0.VKSuccess, nil
	}).AnyTimes()

	h.Device.EXPECT().AllocateCommandBuffers(gomock.Any()).DoAndReturn(func(count int) ([]device.CommandBuffer, common.VkResult, error) {
		h.mutex.Lock()
		defer h.mutex.Unlock()

		buffers := make([]device.CommandBuffer, 0, count)
		for i := 0; i < count; i++ {
			buffer := mock_device.NewMockCommandBuffer(ctrl)
			buffer.EXPECT().Begin().DoAndReturn(func() (common.VkResult, error) {
				h.mutex.Lock()
				defer h.mutex.Unlock()

				if h.beginFailures > 0 {
					h.beginFailures--
					return core1_0.VKErrorOutOfHostMemory, core1_0.VKErrorOutOfHostMemory.ToError()
				}
				return core1_0.VKSuccess, nil
			}).AnyTimes()
			buffer.EXPECT().End().Return(core1_0.VKSuccess, nil).AnyTimes()
			h.expectTransfers(buffer)
			h.expectCommands(buffer)
			h.commandBuffers = append(h.commandBuffers, buffer)
			buffers = append(buffers, buffer)
		}
		return buffers, core1_0.VKSuccess, nil
	}).AnyTimes()

	h.Device.EXPECT().FreeCommandBuffers(gomock.Any()).AnyTimes()

	h.Device.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(func(buffer device.CommandBuffer, fence device.Fence) (common.VkResult, error) {
		h.mutex.Lock()
		defer h.mutex.Unlock()

		h.submissions = append(h.submissions, fence.(*FakeFence))
		return core1_0.VKSuccess, nil
	}).AnyTimes()

	h.Device.EXPECT().WaitForFences(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(func(waitAll bool, timeout time.Duration, fences ...device.Fence) (common.VkResult, error) {
		h.mutex.Lock()
		h.fenceWaits++
		h.mutex.Unlock()

		// A zero timeout polls, so unsignalled fences stay unsignalled
		if timeout == 0 {
			for _, fence := range fences {
				if !fence.(*FakeFence).Signaled() {
					return core1_0.VKTimeout, nil
				}
			}
			return core1_0.VKSuccess, nil
		}

		for _, fence := range fences {
			fence.(*FakeFence).Signal()
		}
		return core1_0.VKSuccess, nil
	}).AnyTimes()

	h.expectBuffers()
	h.expectImages()
	h.expectDescriptors()
	h.expectPipelines()

	return h
}

func (h *Harness) expectBuffers() {
	h.Device.EXPECT().CreateBuffer(gomock.Any()).DoAndReturn(func(o core1_0.BufferCreateInfo) (core1_0.Buffer, common.VkResult, error) {
		h.mutex.Lock()
		defer h.mutex.Unlock()

		h.buffersCreated++
		return core1_0.Buffer{}, core1_0.VKSuccess, nil
	}).AnyTimes()

	h.Device.EXPECT().DestroyBuffer(gomock.Any()).Do(func(buffer core1_0.Buffer) {
		h.mutex.Lock()
		defer h.mutex.Unlock()

		h.buffersDestroyed++
	}).AnyTimes()

	h.Device.EXPECT().AllocateBufferMemory(gomock.Any(), gomock.Any()).DoAndReturn(func(buffer core1_0.Buffer, hostVisible bool) (core1_0.DeviceMemory, common.VkResult, error) {
		h.mutex.Lock()
		defer h.mutex.Unlock()

		h.memoryAllocated++
		return core1_0.DeviceMemory{}, core1_0.VKSuccess, nil
	}).AnyTimes()

	h.Device.EXPECT().MapMemory(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(func(memory core1_0.DeviceMemory, offset, size int) (unsafe.Pointer, common.VkResult, error) {
		backing := make([]byte, size)
		return unsafe.Pointer(&backing[0]), core1_0.VKSuccess, nil
	}).AnyTimes()

	h.Device.EXPECT().UnmapMemory(gomock.Any()).AnyTimes()

	h.Device.EXPECT().FreeMemory(gomock.Any()).Do(func(memory core1_0.DeviceMemory) {
		h.mutex.Lock()
		defer h.mutex.Unlock()

		h.memoryFreed++
	}).AnyTimes()
}

func (h *Harness) expectTransfers(buffer *mock_device.MockCommandBuffer) {
	buffer.EXPECT().CmdPipelineBarrier(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(src, dst core1_0.PipelineStageFlags, memory []core1_0.MemoryBarrier, buffers []core1_0.BufferMemoryBarrier, images []core1_0.ImageMemoryBarrier) error {
			h.mutex.Lock()
			defer h.mutex.Unlock()

			h.barriers++
			h.commands = append(h.commands, Command{Name: "PipelineBarrier", Args: []any{src, dst}})
			return nil
		}).AnyTimes()

	buffer.EXPECT().CmdUpdateBuffer(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(func(dst core1_0.Buffer, offset int, data []byte) error {
		h.mutex.Lock()
		defer h.mutex.Unlock()

		h.updates = append(h.updates, BufferUpdate{Offset: offset, Data: append([]byte(nil), data...)})
		h.commands = append(h.commands, Command{Name: "UpdateBuffer", Args: []any{offset, len(data)}})
		return nil
	}).AnyTimes()

	buffer.EXPECT().CmdCopyBuffer(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(func(src, dst core1_0.Buffer, regions ...core1_0.BufferCopy) error {
		h.mutex.Lock()
		defer h.mutex.Unlock()

		h.copies = append(h.copies, regions...)
		h.commands = append(h.commands, Command{Name: "CopyBuffer", Args: []any{len(regions)}})
		return nil
	}).AnyTimes()

	buffer.EXPECT().CmdCopyBufferToImage(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(src core1_0.Buffer, dst core1_0.Image, layout core1_0.ImageLayout, regions ...core1_0.BufferImageCopy) error {
			h.mutex.Lock()
			defer h.mutex.Unlock()

			h.imageUploads = append(h.imageUploads, regions...)
			h.commands = append(h.commands, Command{Name: "CopyBufferToImage", Args: []any{layout}})
			return nil
		}).AnyTimes()

	buffer.EXPECT().CmdCopyImageToBuffer(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(src core1_0.Image, layout core1_0.ImageLayout, dst core1_0.Buffer, regions ...core1_0.BufferImageCopy) error {
			h.mutex.Lock()
			defer h.mutex.Unlock()

			h.imageReadbacks = append(h.imageReadbacks, regions...)
			h.commands = append(h.commands, Command{Name: "CopyImageToBuffer", Args: []any{layout}})
			return nil
		}).AnyTimes()
}

func (h *Harness) expectImages() {
	h.Device.EXPECT().CreateImage(gomock.Any()).DoAndReturn(func(o core1_0.ImageCreateInfo) (core1_0.Image, common.VkResult, error) {
		h.mutex.Lock()
		defer h.mutex.Unlock()

		h.imagesCreated++
		return core1_0.Image{}, core1_0.VKSuccess, nil
	}).AnyTimes()

	h.Device.EXPECT().DestroyImage(gomock.Any()).Do(func(image core1_0.Image) {
		h.mutex.Lock()
		defer h.mutex.Unlock()

		h.imagesDestroyed++
	}).AnyTimes()

	h.Device.EXPECT().AllocateImageMemory(gomock.Any()).DoAndReturn(func(image core1_0.Image) (core1_0.DeviceMemory, common.VkResult, error) {
		h.mutex.Lock()
		defer h.mutex.Unlock()

		h.memoryAllocated++
		return core1_0.DeviceMemory{}, core1_0.VKSuccess, nil
	}).AnyTimes()

	h.Device.EXPECT().CreateImageView(gomock.Any()).DoAndReturn(func(o core1_0.ImageViewCreateInfo) (core1_0.ImageView, common.VkResult, error) {
		h.mutex.Lock()
		defer h.mutex.Unlock()

		h.viewsCreated++
		return core1_0.ImageView{}, core1_0.VKSuccess, nil
	}).AnyTimes()

	h.Device.EXPECT().DestroyImageView(gomock.Any()).Do(func(view core1_0.ImageView) {
		h.mutex.Lock()
		defer h.mutex.Unlock()

		h.viewsDestroyed++
	}).AnyTimes()

	h.Device.EXPECT().CreateSampler(gomock.Any()).DoAndReturn(func(o core1_0.SamplerCreateInfo) (core1_0.Sampler, common.VkResult, error) {
		h.mutex.Lock()
		defer h.mutex.Unlock()

		h.samplers++
		return core1_0.Sampler{}, core1_0.VKSuccess, nil
	}).AnyTimes()

	h.Device.EXPECT().DestroySampler(gomock.Any()).Do(func(sampler core1_0.Sampler) {
		h.mutex.Lock()
		defer h.mutex.Unlock()

		h.samplers--
	}).AnyTimes()
}

// ImageCounts returns the number of images created and destroyed
func (h *Harness) ImageCounts() (created, destroyed int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.imagesCreated, h.imagesDestroyed
}

// ViewCounts returns the number of image views created and destroyed
func (h *Harness) ViewCounts() (created, destroyed int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.viewsCreated, h.viewsDestroyed
}

// LiveSamplers counts samplers created and not yet destroyed
func (h *Harness) LiveSamplers() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.samplers
}

// ImageUploads returns every recorded buffer to image copy region
func (h *Harness) ImageUploads() []core1_0.BufferImageCopy {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return append([]core1_0.BufferImageCopy(nil), h.imageUploads...)
}

// ImageReadbacks returns every recorded image to buffer copy region
func (h *Harness) ImageReadbacks() []core1_0.BufferImageCopy {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return append([]core1_0.BufferImageCopy(nil), h.imageReadbacks...)
}

// BufferCounts returns the number of buffers created and destroyed
func (h *Harness) BufferCounts() (created, destroyed int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.buffersCreated, h.buffersDestroyed
}

// MemoryCounts returns the number of memory allocations made and freed
func (h *Harness) MemoryCounts() (allocated, freed int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.memoryAllocated, h.memoryFreed
}

// Barriers counts the recorded pipeline barriers
func (h *Harness) Barriers() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.barriers
}

// Updates returns every recorded CmdUpdateBuffer
func (h *Harness) Updates() []BufferUpdate {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return append([]BufferUpdate(nil), h.updates...)
}

// Copies returns every recorded buffer copy region
func (h *Harness) Copies() []core1_0.BufferCopy {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return append([]core1_0.BufferCopy(nil), h.copies...)
}

// CommandBuffer returns the mock behind the command buffer allocated at index
func (h *Harness) CommandBuffer(index int) *mock_device.MockCommandBuffer {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.commandBuffers[index]
}

// Submissions returns the fences of every submission in order
func (h *Harness) Submissions() []*FakeFence {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return append([]*FakeFence(nil), h.submissions...)
}

// LastSubmission returns the fence of the most recent submission
func (h *Harness) LastSubmission() *FakeFence {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.submissions[len(h.submissions)-1]
}

// FenceWaits counts the calls to Device.WaitForFences
func (h *Harness) FenceWaits() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.fenceWaits
}

// SignalAll signals every fence created so far
func (h *Harness) SignalAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for _, fence := range h.fences {
		fence.Signal()
	}
}

// Fences returns every fence created so far
func (h *Harness) Fences() []*FakeFence {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return append([]*FakeFence(nil), h.fences...)
}

// FailFenceCreations makes the next count calls to CreateFence fail
func (h *Harness) FailFenceCreations(count int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.fenceFailures = count
}

// FailBegins makes the next count command buffer Begin calls fail
func (h *Harness) FailBegins(count int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.beginFailures = count
}
