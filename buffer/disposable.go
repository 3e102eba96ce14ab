package buffer

import (
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/vkgal/device"
	"github.com/vkngwrapper/vkgal/internal/vulkan"
)

// DisposableBuffer is a buffer handle that destroys itself through the device that created it
type DisposableBuffer struct {
	dev   device.Device
	Value core1_0.Buffer
}

func NewDisposableBuffer(dev device.Device, buffer core1_0.Buffer) DisposableBuffer {
	return DisposableBuffer{dev: dev, Value: buffer}
}

func (b DisposableBuffer) Dispose() {
	b.dev.DestroyBuffer(b.Value)
}

// DisposableMemory is device memory, possibly host-mapped, that frees itself through the device
type DisposableMemory struct {
	dev   device.Device
	Value *vulkan.MappedMemory
}

func (m DisposableMemory) Dispose() {
	m.Value.Free(m.dev)
}

func NewDisposableMemory(dev device.Device, memory *vulkan.MappedMemory) DisposableMemory {
	return DisposableMemory{dev: dev, Value: memory}
}
