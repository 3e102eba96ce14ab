package resource

import (
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/vkgal/device"
)

// FenceHolder is a reference-counted fence. The command buffer pool owns one reference; anyone
// waiting on the fence pins it with Get or TryGet and releases it with Put, so a fence that is
// being observed is never destroyed out from under the waiter. When the pool recycles a slot it
// releases its reference and builds a new FenceHolder rather than resetting this one.
type FenceHolder struct {
	fence          device.Fence
	referenceCount atomic.Int32
	disposed       atomic.Bool
}

func NewFenceHolder(dev device.Device) (*FenceHolder, common.VkResult, error) {
	fence, res, err := dev.CreateFence()
	if err != nil {
		return nil, res, errors.Wrap(err, "could not create command buffer fence")
	}

	holder := &FenceHolder{fence: fence}
	holder.referenceCount.Store(1)
	return holder, res, nil
}

// TryGet pins the fence, returning false if it has already been destroyed
func (h *FenceHolder) TryGet() (device.Fence, bool) {
	for {
		count := h.referenceCount.Load()
		if count == 0 {
			return nil, false
		}

		if h.referenceCount.CompareAndSwap(count, count+1) {
			return h.fence, true
		}
	}
}

// Get pins the fence. Pinning a destroyed fence is a programming error.
func (h *FenceHolder) Get() device.Fence {
	if h.referenceCount.Add(1) == 1 {
		h.referenceCount.Add(-1)
		panic(errors.AssertionFailedf("attempted to pin a fence that was already destroyed"))
	}
	return h.fence
}

// GetUnsafe returns the fence without pinning it
func (h *FenceHolder) GetUnsafe() device.Fence {
	return h.fence
}

// Put releases one pin, destroying the fence when the last one is released
func (h *FenceHolder) Put() {
	count := h.referenceCount.Add(-1)
	if count < 0 {
		panic(errors.AssertionFailedf("fence reference count went below zero"))
	}
	if count == 0 {
		h.fence.Destroy()
	}
}

func (h *FenceHolder) IsSignaled() bool {
	fence, ok := h.TryGet()
	if !ok {
		// A destroyed fence belonged to a retired slot
		return true
	}
	defer h.Put()

	res, err := fence.Status()
	return err == nil && res == core1_0.VKSuccess
}

// Wait blocks until the fence signals
func (h *FenceHolder) Wait() (common.VkResult, error) {
	return h.WaitTimeout(common.NoTimeout)
}

// WaitTimeout blocks until the fence signals or the timeout expires. A timeout is reported as
// core1_0.VKTimeout with a nil error.
func (h *FenceHolder) WaitTimeout(timeout time.Duration) (common.VkResult, error) {
	fence, ok := h.TryGet()
	if !ok {
		return core1_0.VKSuccess, nil
	}
	defer h.Put()

	return fence.Wait(timeout)
}

// Dispose releases the pool's reference
func (h *FenceHolder) Dispose() {
	if h.disposed.CompareAndSwap(false, true) {
		h.Put()
	}
}
