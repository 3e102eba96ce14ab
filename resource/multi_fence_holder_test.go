package resource

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/vkgal/internal/devicetest"
	"go.uber.org/mock/gomock"
)

func newHeldFence(t *testing.T, harness *devicetest.Harness) *FenceHolder {
	fence, _, err := NewFenceHolder(harness.Device)
	require.NoError(t, err)
	return fence
}

func TestMultiFenceHolderCoarse(t *testing.T) {
	harness := devicetest.New(gomock.NewController(t))
	holder := NewMultiFenceHolder()

	require.False(t, holder.MayWait(0, 16))

	fence := newHeldFence(t, harness)
	require.True(t, holder.AddFence(2, fence))
	require.False(t, holder.AddFence(2, fence))

	holder.AddBufferUse(2, 1000, 4)
	require.True(t, holder.MayWait(0, 16))
	require.True(t, holder.IsBufferRangeInUse(2, 0, 16))

	_, err := holder.WaitForFences(harness.Device, 0, 16)
	require.NoError(t, err)
	require.Equal(t, 1, harness.FenceWaits())

	holder.RemoveFence(2)
	require.False(t, holder.MayWait(0, 16))
	require.False(t, holder.HasFence(2))
}

func TestMultiFenceHolderGranular(t *testing.T) {
	harness := devicetest.New(gomock.NewController(t))
	holder := NewGranularMultiFenceHolder()

	first := newHeldFence(t, harness)
	second := newHeldFence(t, harness)
	holder.AddFence(0, first)
	holder.AddFence(1, second)
	holder.AddBufferUse(0, 0, 64)
	holder.AddBufferUse(1, 128, 64)

	require.True(t, holder.MayWait(32, 8))
	require.False(t, holder.MayWait(64, 64))
	require.True(t, holder.MayWait(64, 65))

	_, err := holder.WaitForFences(harness.Device, 64, 64)
	require.NoError(t, err)
	require.Equal(t, 0, harness.FenceWaits())

	_, err = holder.WaitForFences(harness.Device, 150, 4)
	require.NoError(t, err)
	require.Equal(t, 1, harness.FenceWaits())
	require.True(t, second.IsSignaled())
	require.False(t, first.IsSignaled())

	holder.RemoveBufferUses(0)
	require.False(t, holder.MayWait(32, 8))
}

func TestMultiFenceHolderPinsFencesDuringWait(t *testing.T) {
	harness := devicetest.New(gomock.NewController(t))
	holder := NewMultiFenceHolder()

	fence := newHeldFence(t, harness)
	holder.AddFence(0, fence)

	_, err := holder.WaitForAllFences(harness.Device)
	require.NoError(t, err)

	// The pool's reference is the only one left after the wait
	fence.Dispose()
	require.Equal(t, 1, harness.Fences()[0].Destroyed())

	// Destroyed fences are skipped rather than waited on
	_, err = holder.WaitForAllFences(harness.Device)
	require.NoError(t, err)
	require.Equal(t, 1, harness.FenceWaits())

	signaled, _, err := holder.TryWaitForFences(harness.Device, 0, 0, 0)
	require.NoError(t, err)
	require.True(t, signaled)
}

func TestMultiFenceHolderPollsWithoutBlocking(t *testing.T) {
	harness := devicetest.New(gomock.NewController(t))
	holder := NewGranularMultiFenceHolder()

	fence := newHeldFence(t, harness)
	holder.AddFence(3, fence)
	holder.AddBufferUse(3, 0, 32)

	idle, res, err := holder.TryWaitForFences(harness.Device, 16, 8, 0)
	require.NoError(t, err)
	require.False(t, idle)
	require.Equal(t, core1_0.VKTimeout, res)
	require.False(t, fence.IsSignaled())

	idle, _, err = holder.TryWaitForFences(harness.Device, 64, 8, 0)
	require.NoError(t, err)
	require.True(t, idle)

	harness.SignalAll()
	idle, _, err = holder.TryWaitForFences(harness.Device, 16, 8, 0)
	require.NoError(t, err)
	require.True(t, idle)
}

func TestMultiFenceHolderSkipsUntouchedRanges(t *testing.T) {
	harness := devicetest.New(gomock.NewController(t))
	holder := NewGranularMultiFenceHolder()

	holder.AddFence(0, newHeldFence(t, harness))
	holder.AddFence(1, newHeldFence(t, harness))
	holder.AddBufferUse(0, 0, 16)
	holder.AddBufferUse(1, 256, 16)

	require.False(t, holder.MayWait(16, 240))
	require.True(t, holder.MayWait(200, 57))
	require.True(t, holder.MayWait(0, 0))

	_, err := holder.WaitForFences(harness.Device, 16, 240)
	require.NoError(t, err)
	require.Equal(t, 0, harness.FenceWaits())
}
