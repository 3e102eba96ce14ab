package resource

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/vkgal/device"
	"golang.org/x/exp/slog"
)

type entryState int

const (
	entryFree entryState = iota
	entryRecording
	entrySubmitted
	// entryBroken slots have no fence because recreating it failed. Rent tries again before using them.
	entryBroken
)

func (s entryState) String() string {
	switch s {
	case entryFree:
		return "Free"
	case entryRecording:
		return "Recording"
	case entrySubmitted:
		return "Submitted"
	case entryBroken:
		return "Broken"
	}
	return "Unknown"
}

type commandBufferEntry struct {
	commandBuffer   device.CommandBuffer
	fence           *FenceHolder
	state           entryState
	submissionCount int

	dependants []Dependant
	waitables  []*MultiFenceHolder
}

// CommandBufferPool rents out a fixed set of command buffers identified by their slot index. Returned
// buffers are submitted with their slot's fence and queued; slots are retired in submission order once
// their fence signals, at which point every resource the slot depended on is released.
type CommandBufferPool struct {
	logger *slog.Logger
	dev    device.Device

	lock    sync.Mutex
	entries []commandBufferEntry
	queued  []int
	cursor  int
}

func NewCommandBufferPool(logger *slog.Logger, dev device.Device, count int) (*CommandBufferPool, common.VkResult, error) {
	if count <= 0 || count > MaxCommandBuffers {
		return nil, core1_0.VKErrorInitializationFailed, errors.Newf("command buffer count must be between 1 and %d, but was %d", MaxCommandBuffers, count)
	}

	buffers, res, err := dev.AllocateCommandBuffers(count)
	if err != nil {
		return nil, res, errors.Wrap(err, "could not allocate pooled command buffers")
	}

	pool := &CommandBufferPool{
		logger:  logger,
		dev:     dev,
		entries: make([]commandBufferEntry, count),
		queued:  make([]int, 0, count),
	}

	for i := range pool.entries {
		pool.entries[i].commandBuffer = buffers[i]
		pool.entries[i].fence, res, err = NewFenceHolder(dev)
		if err != nil {
			pool.Destroy()
			return nil, res, err
		}
	}

	return pool, res, nil
}

func (p *CommandBufferPool) Count() int {
	return len(p.entries)
}

// Rent begins recording on a free command buffer. If every slot is busy, the oldest submission is
// waited on and retired first.
func (p *CommandBufferPool) Rent() (CommandBufferScoped, common.VkResult, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	res, err := p.freeConsumed(len(p.queued) > 0 && len(p.queued)+p.brokenCount() == len(p.entries))
	if err != nil {
		return CommandBufferScoped{}, res, err
	}

	cursor := p.cursor
	for i := 0; i < len(p.entries); i++ {
		entry := &p.entries[cursor]
		if entry.state == entryBroken {
			p.repair(cursor)
		}
		if entry.state == entryFree {
			res, err = entry.commandBuffer.Begin()
			if err != nil {
				return CommandBufferScoped{}, res, errors.Wrapf(err, "could not begin command buffer %d", cursor)
			}

			entry.state = entryRecording
			p.cursor = (cursor + 1) % len(p.entries)

			return CommandBufferScoped{
				pool:               p,
				CommandBuffer:      entry.commandBuffer,
				CommandBufferIndex: cursor,
			}, res, nil
		}

		cursor = (cursor + 1) % len(p.entries)
	}

	return CommandBufferScoped{}, core1_0.VKErrorOutOfHostMemory, errors.Newf("out of command buffers (queued: %d, total: %d)", len(p.queued), len(p.entries))
}

// Return ends recording and submits the command buffer with its slot's fence
func (p *CommandBufferPool) Return(cbs CommandBufferScoped) (common.VkResult, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	return p.submit(cbs)
}

// ReturnAndRent submits the command buffer and immediately rents the next one
func (p *CommandBufferPool) ReturnAndRent(cbs CommandBufferScoped) (CommandBufferScoped, common.VkResult, error) {
	res, err := p.Return(cbs)
	if err != nil {
		return CommandBufferScoped{}, res, err
	}

	return p.Rent()
}

func (p *CommandBufferPool) submit(cbs CommandBufferScoped) (common.VkResult, error) {
	cbIndex := cbs.CommandBufferIndex
	entry := &p.entries[cbIndex]
	if entry.state != entryRecording {
		panic(errors.AssertionFailedf("command buffer %d was returned while %s", cbIndex, entry.state))
	}

	res, err := entry.commandBuffer.End()
	if err == nil {
		res, err = p.dev.Submit(entry.commandBuffer, entry.fence.GetUnsafe())
	}
	if err != nil {
		// Nothing reached the GPU, so the slot's dependants can be released immediately
		p.logger.LogAttrs(context.Background(), slog.LevelError, "CommandBufferPool::Return submission failed",
			slog.Int("CommandBufferIndex", cbIndex),
			slog.Any("error", err),
		)
		p.retire(cbIndex)
		return res, err
	}

	entry.state = entrySubmitted
	entry.submissionCount++
	p.queued = append(p.queued, cbIndex)

	return res, nil
}

// freeConsumed retires queued submissions in order while their fences have signalled. If wait is
// true, the oldest submission is waited on even if it has not.
func (p *CommandBufferPool) freeConsumed(wait bool) (common.VkResult, error) {
	for len(p.queued) > 0 {
		cbIndex := p.queued[0]
		entry := &p.entries[cbIndex]

		if wait {
			p.logger.Debug("CommandBufferPool::Rent waiting for oldest submission", slog.Int("CommandBufferIndex", cbIndex))
			res, err := entry.fence.Wait()
			if err != nil {
				return res, errors.Wrapf(err, "could not wait for command buffer %d", cbIndex)
			}
		} else if !entry.fence.IsSignaled() {
			break
		}

		wait = false
		p.queued = p.queued[1:]
		p.retire(cbIndex)
	}

	return core1_0.VKSuccess, nil
}

// retire releases the slot's dependants and gives it a new fence. If the fence cannot be created the
// slot is marked broken rather than left free without one.
func (p *CommandBufferPool) retire(cbIndex int) {
	entry := &p.entries[cbIndex]

	for _, dependant := range entry.dependants {
		dependant.DecrementReferenceCountFor(cbIndex)
	}

	for _, waitable := range entry.waitables {
		waitable.RemoveFence(cbIndex)
		waitable.RemoveBufferUses(cbIndex)
	}

	entry.dependants = entry.dependants[:0]
	entry.waitables = entry.waitables[:0]

	fence, _, err := NewFenceHolder(p.dev)
	entry.fence.Dispose()
	if err != nil {
		p.logger.LogAttrs(context.Background(), slog.LevelError, "CommandBufferPool::retire could not recreate fence",
			slog.Int("CommandBufferIndex", cbIndex),
			slog.Any("error", err),
		)
		entry.fence = nil
		entry.state = entryBroken
		return
	}

	entry.fence = fence
	entry.state = entryFree
}

// repair gives a broken slot a new fence, leaving it broken if that fails again
func (p *CommandBufferPool) repair(cbIndex int) {
	fence, _, err := NewFenceHolder(p.dev)
	if err != nil {
		p.logger.Warn("CommandBufferPool::Rent skipping slot without a fence",
			slog.Int("CommandBufferIndex", cbIndex),
			slog.Any("error", err),
		)
		return
	}

	entry := &p.entries[cbIndex]
	entry.fence = fence
	entry.state = entryFree
}

func (p *CommandBufferPool) brokenCount() int {
	count := 0
	for i := range p.entries {
		if p.entries[i].state == entryBroken {
			count++
		}
	}
	return count
}

// CheckCommandBuffers retires every queued submission whose fence has already signalled
func (p *CommandBufferPool) CheckCommandBuffers() (common.VkResult, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	return p.freeConsumed(false)
}

// Wait blocks until the slot's submission has completed and retires it along with every older one
func (p *CommandBufferPool) Wait(cbIndex int) (common.VkResult, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	for p.entries[cbIndex].state == entrySubmitted {
		res, err := p.freeConsumed(true)
		if err != nil {
			return res, err
		}
	}

	return core1_0.VKSuccess, nil
}

// AddDependant keeps d alive until the slot is retired
func (p *CommandBufferPool) AddDependant(cbIndex int, d Dependant) {
	d.IncrementReferenceCount()

	p.lock.Lock()
	defer p.lock.Unlock()

	p.entries[cbIndex].dependants = append(p.entries[cbIndex].dependants, d)
}

// AddWaitable registers the slot's fence with the waitable until the slot is retired
func (p *CommandBufferPool) AddWaitable(cbIndex int, waitable *MultiFenceHolder) {
	p.lock.Lock()
	defer p.lock.Unlock()

	entry := &p.entries[cbIndex]
	if waitable.AddFence(cbIndex, entry.fence) {
		entry.waitables = append(entry.waitables, waitable)
	}
}

// GetFence returns the fence the slot will be submitted with
func (p *CommandBufferPool) GetFence(cbIndex int) *FenceHolder {
	p.lock.Lock()
	defer p.lock.Unlock()

	return p.entries[cbIndex].fence
}

// IsRented reports whether the slot is currently being recorded
func (p *CommandBufferPool) IsRented(cbIndex int) bool {
	p.lock.Lock()
	defer p.lock.Unlock()

	return p.entries[cbIndex].state == entryRecording
}

// IsFenceOnRentedCommandBuffer reports whether the fence belongs to a slot that has not been submitted
// yet. Waiting on such a fence without flushing first would never return.
func (p *CommandBufferPool) IsFenceOnRentedCommandBuffer(fence *FenceHolder) bool {
	p.lock.Lock()
	defer p.lock.Unlock()

	for i := range p.entries {
		if p.entries[i].state == entryRecording && p.entries[i].fence == fence {
			return true
		}
	}

	return false
}

// HasWaitableOnRentedCommandBuffer reports whether a slot that has not been submitted yet accesses
// [offset, offset+size) of the waitable's resource
func (p *CommandBufferPool) HasWaitableOnRentedCommandBuffer(waitable *MultiFenceHolder, offset, size int) bool {
	p.lock.Lock()
	defer p.lock.Unlock()

	for cbIndex := range p.entries {
		if p.entries[cbIndex].state == entryRecording &&
			waitable.HasFence(cbIndex) &&
			waitable.IsBufferRangeInUse(cbIndex, offset, size) {
			return true
		}
	}

	return false
}

// Destroy waits for every submission, releases every dependant and frees the command buffers
func (p *CommandBufferPool) Destroy() {
	p.lock.Lock()
	defer p.lock.Unlock()

	for len(p.queued) > 0 {
		if _, err := p.freeConsumed(true); err != nil {
			p.logger.LogAttrs(context.Background(), slog.LevelError, "CommandBufferPool::Destroy could not retire submission", slog.Any("error", err))
			p.queued = p.queued[1:]
		}
	}

	buffers := make([]device.CommandBuffer, 0, len(p.entries))
	for i := range p.entries {
		entry := &p.entries[i]
		if entry.state == entryRecording {
			p.logger.LogAttrs(context.Background(), slog.LevelError, "[UNSUBMITTED COMMAND BUFFER] command buffer destroyed while recording",
				slog.Int("CommandBufferIndex", i),
				slog.Int("Dependants", len(entry.dependants)),
			)
			for _, dependant := range entry.dependants {
				dependant.DecrementReferenceCountFor(i)
			}
			entry.dependants = nil
		}

		if entry.fence != nil {
			entry.fence.Dispose()
			entry.fence = nil
		}
		if entry.commandBuffer != nil {
			buffers = append(buffers, entry.commandBuffer)
		}
	}

	if len(buffers) > 0 {
		p.dev.FreeCommandBuffers(buffers...)
	}
}

func (p *CommandBufferPool) PrintJson(json jwriter.ObjectState) {
	p.lock.Lock()
	defer p.lock.Unlock()

	json.Name("Count").Int(len(p.entries))
	json.Name("Queued").Int(len(p.queued))

	slots := json.Name("Slots").Array()
	defer slots.End()

	for i := range p.entries {
		entry := &p.entries[i]
		o := slots.Object()
		o.Name("State").String(entry.state.String())
		o.Name("Submissions").Int(entry.submissionCount)
		o.Name("Dependants").Int(len(entry.dependants))
		o.Name("Waitables").Int(len(entry.waitables))
		o.End()
	}
}
