package vulkan

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"
	mock_device "github.com/vkngwrapper/vkgal/device/mocks"
	"go.uber.org/mock/gomock"
)

func TestMappedMemoryRefCounting(t *testing.T) {
	ctrl := gomock.NewController(t)
	dev := mock_device.NewMockDevice(ctrl)

	backing := make([]byte, 64)
	memory := NewMappedMemory(core1_0.DeviceMemory{}, 64, true)

	dev.EXPECT().MapMemory(gomock.Any(), 0, 64).Return(unsafe.Pointer(&backing[0]), core1_0.VKSuccess, nil)

	data, _, err := memory.Map(dev, 1)
	require.NoError(t, err)
	require.Len(t, data, 64)

	data[3] = 7
	require.Equal(t, byte(7), backing[3])

	again, _, err := memory.Map(dev, 2)
	require.NoError(t, err)
	require.Equal(t, 3, memory.References())
	require.Equal(t, unsafe.Pointer(&data[0]), unsafe.Pointer(&again[0]))

	require.NoError(t, memory.Unmap(dev, 2))
	require.NotNil(t, memory.MappedData())

	dev.EXPECT().UnmapMemory(gomock.Any())
	require.NoError(t, memory.Unmap(dev, 1))
	require.Nil(t, memory.MappedData())
	require.Equal(t, 0, memory.References())
}

func TestMappedMemoryOverUnmap(t *testing.T) {
	ctrl := gomock.NewController(t)
	dev := mock_device.NewMockDevice(ctrl)

	backing := make([]byte, 16)
	memory := NewMappedMemory(core1_0.DeviceMemory{}, 16, false)

	dev.EXPECT().MapMemory(gomock.Any(), 0, 16).Return(unsafe.Pointer(&backing[0]), core1_0.VKSuccess, nil)
	_, _, err := memory.Map(dev, 1)
	require.NoError(t, err)

	require.Error(t, memory.Unmap(dev, 2))

	dev.EXPECT().UnmapMemory(gomock.Any())
	dev.EXPECT().FreeMemory(gomock.Any())
	memory.Free(dev)
	require.Nil(t, memory.MappedData())
}

func TestMappedMemoryFreeUnmapsOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	dev := mock_device.NewMockDevice(ctrl)

	backing := make([]byte, 32)
	memory := NewMappedMemory(core1_0.DeviceMemory{}, 32, true)

	dev.EXPECT().MapMemory(gomock.Any(), 0, 32).Return(unsafe.Pointer(&backing[0]), core1_0.VKSuccess, nil)
	_, _, err := memory.Map(dev, 3)
	require.NoError(t, err)

	dev.EXPECT().UnmapMemory(gomock.Any()).Times(1)
	dev.EXPECT().FreeMemory(gomock.Any()).Times(1)
	memory.Free(dev)
	require.Equal(t, 0, memory.References())
	require.Nil(t, memory.MappedData())
}

func TestMappedMemoryFreeWithoutMapping(t *testing.T) {
	ctrl := gomock.NewController(t)
	dev := mock_device.NewMockDevice(ctrl)

	memory := NewMappedMemory(core1_0.DeviceMemory{}, 32, false)

	dev.EXPECT().FreeMemory(gomock.Any()).Times(1)
	memory.Free(dev)
}
