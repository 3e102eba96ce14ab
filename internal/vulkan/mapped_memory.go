package vulkan

import (
	"unsafe"

	"github.com/pkg/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/vkgal/device"
	"github.com/vkngwrapper/vkgal/internal/utils"
)

// MappedMemory is a block of host-visible device memory whose host mapping is shared between
// every caller that maps it. The mapping is established on the first Map and torn down when
// the last reference is released.
type MappedMemory struct {
	mapReferences int
	mapData       []byte

	mapMutex utils.OptionalMutex
	memory   core1_0.DeviceMemory
	size     int
}

func NewMappedMemory(memory core1_0.DeviceMemory, size int, useMutex bool) *MappedMemory {
	return &MappedMemory{
		memory: memory,
		size:   size,
		mapMutex: utils.OptionalMutex{
			UseMutex: useMutex,
		},
	}
}

func (m *MappedMemory) VulkanDeviceMemory() core1_0.DeviceMemory {
	return m.memory
}

func (m *MappedMemory) Size() int {
	return m.size
}

// References is the number of outstanding references to the host mapping
func (m *MappedMemory) References() int {
	m.mapMutex.Lock()
	defer m.mapMutex.Unlock()

	return m.mapReferences
}

// MappedData returns the current mapping, or nil if the memory is not mapped
func (m *MappedMemory) MappedData() []byte {
	return m.mapData
}

// Map adds references to the host mapping and returns it as a slice covering the whole block
func (m *MappedMemory) Map(dev device.Device, references int) ([]byte, common.VkResult, error) {
	if references == 0 {
		return nil, core1_0.VKSuccess, nil
	}

	m.mapMutex.Lock()
	defer m.mapMutex.Unlock()

	if m.mapReferences > 0 {
		m.mapReferences += references
		if m.mapData == nil {
			return nil, core1_0.VKErrorUnknown, errors.New("the memory is showing existing mapping references, but no mapped memory")
		}

		return m.mapData, core1_0.VKSuccess, nil
	}

	ptr, result, err := dev.MapMemory(m.memory, 0, m.size)
	if err != nil {
		return nil, result, err
	}
	if ptr == nil {
		return nil, core1_0.VKErrorMemoryMapFailed, errors.New("the driver returned a nil mapping")
	}

	m.mapData = unsafe.Slice((*byte)(ptr), m.size)
	m.mapReferences = references
	return m.mapData, result, nil
}

// Unmap releases references to the host mapping, unmapping the memory when none remain
func (m *MappedMemory) Unmap(dev device.Device, references int) error {
	m.mapMutex.Lock()
	defer m.mapMutex.Unlock()

	if m.mapReferences == 0 {
		return nil
	}

	if m.mapReferences < references {
		return errors.New("device memory has more references being unmapped than are currently mapped")
	}

	m.mapReferences -= references
	if m.mapReferences == 0 {
		dev.UnmapMemory(m.memory)
		m.mapData = nil
	}

	return nil
}

// Free releases every outstanding mapping reference and frees the memory
func (m *MappedMemory) Free(dev device.Device) {
	if references := m.References(); references > 0 {
		// Cannot fail: exactly the outstanding references are released
		_ = m.Unmap(dev, references)
	}

	dev.FreeMemory(m.memory)
}
