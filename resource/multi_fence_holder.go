package resource

import (
	"sync"
	"time"

	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/vkgal/device"
)

// MultiFenceHolder tracks the fences of every command buffer slot that has used a resource. With
// granular tracking it also records which byte ranges each slot touched, so that waits can be limited
// to the slots whose accesses overlap the range a caller cares about. Without it, any use of the
// resource conflicts with any later access.
//
// The pool adds and removes fences from the recording thread while readback paths may wait from other
// goroutines, so the fence table is locked.
type MultiFenceHolder struct {
	lock   sync.Mutex
	fences [MaxCommandBuffers]*FenceHolder
	ranges *BufferRangeList
}

func NewMultiFenceHolder() *MultiFenceHolder {
	return &MultiFenceHolder{}
}

// NewGranularMultiFenceHolder creates a holder that tracks accessed byte ranges per command buffer slot
func NewGranularMultiFenceHolder() *MultiFenceHolder {
	return &MultiFenceHolder{
		ranges: NewBufferRangeList(MaxCommandBuffers),
	}
}

func (h *MultiFenceHolder) Granular() bool {
	return h.ranges != nil
}

// AddBufferUse records that the slot accesses [offset, offset+size). It is a no-op without granular tracking.
func (h *MultiFenceHolder) AddBufferUse(cbIndex, offset, size int) {
	if h.ranges == nil {
		return
	}

	h.lock.Lock()
	defer h.lock.Unlock()

	h.ranges.Add(cbIndex, offset, size)
}

func (h *MultiFenceHolder) RemoveBufferUses(cbIndex int) {
	if h.ranges == nil {
		return
	}

	h.lock.Lock()
	defer h.lock.Unlock()

	h.ranges.Clear(cbIndex)
}

// IsBufferRangeInUse reports whether the slot has accessed any part of [offset, offset+size)
func (h *MultiFenceHolder) IsBufferRangeInUse(cbIndex, offset, size int) bool {
	if h.ranges == nil {
		return true
	}

	h.lock.Lock()
	defer h.lock.Unlock()

	return h.ranges.OverlapsWith(cbIndex, offset, size)
}

// AddFence registers the fence of a slot that uses this resource. It returns false if the slot already had one.
func (h *MultiFenceHolder) AddFence(cbIndex int, fence *FenceHolder) bool {
	h.lock.Lock()
	defer h.lock.Unlock()

	if h.fences[cbIndex] != nil {
		return false
	}

	h.fences[cbIndex] = fence
	return true
}

func (h *MultiFenceHolder) RemoveFence(cbIndex int) {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.fences[cbIndex] = nil
}

func (h *MultiFenceHolder) HasFence(cbIndex int) bool {
	h.lock.Lock()
	defer h.lock.Unlock()

	return h.fences[cbIndex] != nil
}

// MayWait reports whether a wait on [offset, offset+size) would have any fence to wait on
func (h *MultiFenceHolder) MayWait(offset, size int) bool {
	h.lock.Lock()
	defer h.lock.Unlock()

	if h.ranges != nil && size > 0 && !h.ranges.OverlapsWithAny(offset, size) {
		return false
	}

	for cbIndex, fence := range h.fences {
		if fence != nil && h.overlaps(cbIndex, offset, size) {
			return true
		}
	}

	return false
}

func (h *MultiFenceHolder) overlaps(cbIndex, offset, size int) bool {
	return h.ranges == nil || size <= 0 || h.ranges.OverlapsWith(cbIndex, offset, size)
}

func (h *MultiFenceHolder) collectFences(offset, size int) []*FenceHolder {
	h.lock.Lock()
	defer h.lock.Unlock()

	var holders []*FenceHolder
	for cbIndex, fence := range h.fences {
		if fence != nil && h.overlaps(cbIndex, offset, size) {
			holders = append(holders, fence)
		}
	}

	return holders
}

// WaitForAllFences blocks until every command buffer that used the resource has completed
func (h *MultiFenceHolder) WaitForAllFences(dev device.Device) (common.VkResult, error) {
	_, res, err := h.waitForFences(dev, 0, 0, common.NoTimeout)
	return res, err
}

// WaitForFences blocks until every command buffer whose accesses overlap [offset, offset+size) has completed
func (h *MultiFenceHolder) WaitForFences(dev device.Device, offset, size int) (common.VkResult, error) {
	_, res, err := h.waitForFences(dev, offset, size, common.NoTimeout)
	return res, err
}

// TryWaitForFences waits at most timeout for every command buffer whose accesses overlap
// [offset, offset+size) and reports whether they all completed. A zero timeout only polls.
func (h *MultiFenceHolder) TryWaitForFences(dev device.Device, offset, size int, timeout time.Duration) (bool, common.VkResult, error) {
	return h.waitForFences(dev, offset, size, timeout)
}

func (h *MultiFenceHolder) waitForFences(dev device.Device, offset, size int, timeout time.Duration) (bool, common.VkResult, error) {
	holders := h.collectFences(offset, size)

	pinned := holders[:0]
	fences := make([]device.Fence, 0, len(holders))
	for _, holder := range holders {
		fence, ok := holder.TryGet()
		if ok {
			fences = append(fences, fence)
			pinned = append(pinned, holder)
		}
	}

	if len(fences) == 0 {
		return true, core1_0.VKSuccess, nil
	}

	defer func() {
		for _, holder := range pinned {
			holder.Put()
		}
	}()

	res, err := dev.WaitForFences(true, timeout, fences...)
	if err != nil {
		return false, res, err
	}

	return res != core1_0.VKTimeout, res, nil
}
