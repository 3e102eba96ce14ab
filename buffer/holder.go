package buffer

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/vkgal/internal/vulkan"
	"github.com/vkngwrapper/vkgal/memutils"
	"github.com/vkngwrapper/vkgal/resource"
	"golang.org/x/exp/slog"
)

// MaxUpdateBufferSize is the largest write recorded inline with CmdUpdateBuffer
const MaxUpdateBufferSize = 0x10000

// ErrSourceInFlight is returned when derived data is requested from a range that a command buffer
// still being recorded writes to
var ErrSourceInFlight = errors.New("source range is written by a command buffer that has not been submitted")

// BufferHolder owns a buffer and its memory. It decides, per write, whether data can be recorded
// inline on the GPU timeline, copied straight into a host mapping, or pushed through the staging ring.
type BufferHolder struct {
	manager *BufferManager

	buffer   *resource.Auto[DisposableBuffer]
	memory   *resource.Auto[DisposableMemory]
	waitable *resource.MultiFenceHolder
	mapped   []byte
	size     int

	cached CacheByRange[*BufferHolder]
}

func (h *BufferHolder) Size() int {
	return h.size
}

// HostMapped reports whether the buffer's memory is persistently mapped
func (h *BufferHolder) HostMapped() bool {
	return h.mapped != nil
}

func (h *BufferHolder) Waitable() *resource.MultiFenceHolder {
	return h.waitable
}

// GetBuffer returns the owned buffer for binding. Reads recorded through it are not range-tracked.
func (h *BufferHolder) GetBuffer() *resource.Auto[DisposableBuffer] {
	return h.buffer
}

// GetBufferRange returns the owned buffer for an access to [offset, offset+size). Writes invalidate
// derived buffers built from that range.
func (h *BufferHolder) GetBufferRange(offset, size int, isWrite bool) *resource.Auto[DisposableBuffer] {
	if isWrite {
		h.SignalWrite(offset, size)
	}

	return h.buffer
}

// SignalWrite invalidates derived buffers built from [offset, offset+size)
func (h *BufferHolder) SignalWrite(offset, size int) {
	if offset == 0 && size >= h.size {
		h.cached.Clear()
	} else {
		h.cached.ClearRange(offset, size)
	}
}

// SetData writes data at offset, truncating it to the end of the buffer. If cbs is provided and fast
// updates are enabled, small aligned writes are recorded inline into cbs. Otherwise host-mapped
// buffers are written directly once every conflicting GPU access has completed, and device-local
// buffers go through the staging ring.
func (h *BufferHolder) SetData(offset int, data []byte, cbs *resource.CommandBufferScoped) (common.VkResult, error) {
	size := memutils.ClampSize(offset, len(data), h.size)
	if size == 0 {
		return core1_0.VKSuccess, nil
	}
	data = data[:size]

	if cbs != nil && h.manager.options.FastUpdates && size <= MaxUpdateBufferSize {
		pushed, res, err := h.tryPushData(*cbs, offset, data)
		if err != nil || pushed {
			return res, err
		}
	}

	if h.mapped != nil {
		if cbs != nil && h.waitable.MayWait(offset, size) {
			pushed, res, err := h.stageWhileBusy(*cbs, offset, data)
			if err != nil || pushed {
				return res, err
			}
		}

		res, err := h.waitForHostAccess(offset, size, true)
		if err != nil {
			return res, err
		}

		copy(h.mapped[offset:offset+size], data)
		h.SignalWrite(offset, size)
		return res, nil
	}

	return h.manager.staging.PushData(cbs, h, offset, data)
}

// SetDataUnchecked writes data at offset without checking for GPU use of the range
func (h *BufferHolder) SetDataUnchecked(offset int, data []byte) (common.VkResult, error) {
	size := memutils.ClampSize(offset, len(data), h.size)
	if size == 0 {
		return core1_0.VKSuccess, nil
	}

	if h.mapped != nil {
		copy(h.mapped[offset:offset+size], data[:size])
		return core1_0.VKSuccess, nil
	}

	return h.manager.staging.PushData(nil, h, offset, data[:size])
}

// tryPushData records the write with CmdUpdateBuffer, bracketed by barriers. Unaligned writes are refused.
func (h *BufferHolder) tryPushData(cbs resource.CommandBufferScoped, offset int, data []byte) (bool, common.VkResult, error) {
	if offset&3 != 0 || len(data)&3 != 0 {
		return false, core1_0.VKSuccess, nil
	}

	dst := h.GetBufferRange(offset, len(data), true).GetRange(cbs, offset, len(data)).Value

	err := InsertBufferBarrier(cbs.CommandBuffer, dst,
		DefaultAccessFlags, core1_0.AccessTransferWrite,
		core1_0.PipelineStageAllCommands, core1_0.PipelineStageTransfer,
		offset, len(data))
	if err != nil {
		return false, core1_0.VKErrorUnknown, err
	}

	err = cbs.CommandBuffer.CmdUpdateBuffer(dst, offset, data)
	if err != nil {
		return false, core1_0.VKErrorUnknown, err
	}

	err = InsertBufferBarrier(cbs.CommandBuffer, dst,
		core1_0.AccessTransferWrite, DefaultAccessFlags,
		core1_0.PipelineStageTransfer, core1_0.PipelineStageAllCommands,
		offset, len(data))
	if err != nil {
		return false, core1_0.VKErrorUnknown, err
	}

	return true, core1_0.VKSuccess, nil
}

// stageWhileBusy copies the write through the staging ring in cbs when GPU work on the range is
// still pending. It reports false when the range is idle or the ring has no room.
func (h *BufferHolder) stageWhileBusy(cbs resource.CommandBufferScoped, offset int, data []byte) (bool, common.VkResult, error) {
	idle, res, err := h.waitable.TryWaitForFences(h.manager.dev, offset, len(data), 0)
	if err != nil {
		return false, res, err
	}
	if idle {
		return false, core1_0.VKSuccess, nil
	}

	pushed, err := h.manager.staging.TryPushData(cbs, h, offset, data)
	if errors.Is(err, memutils.ErrStagingTooLarge) {
		return false, core1_0.VKSuccess, nil
	}
	if err != nil {
		return false, core1_0.VKErrorUnknown, err
	}

	return pushed, core1_0.VKSuccess, nil
}

// waitForHostAccess makes [offset, offset+size) safe for the CPU to touch. Unsubmitted commands
// that use the range are flushed if allowFlush is set, and are otherwise an error.
func (h *BufferHolder) waitForHostAccess(offset, size int, allowFlush bool) (common.VkResult, error) {
	if h.manager.pool.HasWaitableOnRentedCommandBuffer(h.waitable, offset, size) {
		if !allowFlush {
			return core1_0.VKErrorUnknown, ErrSourceInFlight
		}

		h.manager.logger.Debug("BufferHolder::waitForHostAccess flushing commands", slog.Int("Offset", offset), slog.Int("Size", size))
		res, err := h.manager.flusher.FlushAllCommands()
		if err != nil {
			return res, err
		}
	}

	if !h.waitable.MayWait(offset, size) {
		return core1_0.VKSuccess, nil
	}

	h.manager.logger.Debug("BufferHolder::waitForHostAccess waiting for fences", slog.Int("Offset", offset), slog.Int("Size", size))
	if !h.waitable.Granular() {
		return h.waitable.WaitForAllFences(h.manager.dev)
	}
	return h.waitable.WaitForFences(h.manager.dev, offset, size)
}

// WaitForFences blocks until every submitted command buffer accessing [offset, offset+size) has completed
func (h *BufferHolder) WaitForFences(offset, size int) (common.VkResult, error) {
	return h.waitable.WaitForFences(h.manager.dev, offset, size)
}

// GetData reads [offset, offset+size), flushing and waiting on any GPU work that writes it
func (h *BufferHolder) GetData(offset, size int) ([]byte, common.VkResult, error) {
	return h.readRange(offset, size, true)
}

func (h *BufferHolder) readRange(offset, size int, allowFlush bool) ([]byte, common.VkResult, error) {
	size = memutils.ClampSize(offset, size, h.size)
	if size == 0 {
		return nil, core1_0.VKSuccess, nil
	}

	res, err := h.waitForHostAccess(offset, size, allowFlush)
	if err != nil {
		return nil, res, err
	}

	if h.mapped != nil {
		out := make([]byte, size)
		copy(out, h.mapped[offset:offset+size])
		return out, res, nil
	}

	// Device-local memory is read back through a host-visible copy on its own submission
	readback, res, err := h.manager.Create(size, true)
	if err != nil {
		return nil, res, err
	}
	defer readback.Dispose()

	cbs, res, err := h.manager.pool.Rent()
	if err != nil {
		return nil, res, err
	}

	err = Copy(cbs, h.buffer, readback.buffer, offset, 0, size)
	if err != nil {
		_, _ = cbs.Dispose()
		return nil, core1_0.VKErrorUnknown, err
	}

	res, err = cbs.Dispose()
	if err != nil {
		return nil, res, err
	}

	res, err = h.manager.pool.Wait(cbs.CommandBufferIndex)
	if err != nil {
		return nil, res, err
	}

	out := make([]byte, size)
	copy(out, readback.mapped)
	return out, res, nil
}

// GetBufferI8ToI16 returns a buffer holding the 8-bit indices of [offset, offset+size) widened to
// 16 bits. Results are cached until the range is written.
func (h *BufferHolder) GetBufferI8ToI16(cbs resource.CommandBufferScoped, offset, size int) (*resource.Auto[DisposableBuffer], common.VkResult, error) {
	return h.getDerived(cbs, offset, size, I8ToI16CacheKey(), ConvertI8ToI16)
}

// GetAlignedVertexBuffer returns a buffer holding the vertices of [offset, offset+size) re-strided so
// that each stride-byte element starts on an alignment boundary. Results are cached until the
// range is written.
func (h *BufferHolder) GetAlignedVertexBuffer(cbs resource.CommandBufferScoped, offset, size, stride, alignment int) (*resource.Auto[DisposableBuffer], common.VkResult, error) {
	if err := memutils.CheckPow2(alignment, "alignment"); err != nil {
		return nil, core1_0.VKErrorUnknown, err
	}
	if stride <= 0 {
		return nil, core1_0.VKErrorUnknown, errors.Newf("vertex stride must be positive, but was %d", stride)
	}

	alignedStride := memutils.AlignUp(stride, uint(alignment))
	return h.getDerived(cbs, offset, size, AlignedVertexBufferCacheKey(stride, alignment), func(src []byte) []byte {
		return ChangeStride(src, stride, alignedStride)
	})
}

func (h *BufferHolder) getDerived(cbs resource.CommandBufferScoped, offset, size int, key CacheKey, convert func([]byte) []byte) (*resource.Auto[DisposableBuffer], common.VkResult, error) {
	size = memutils.ClampSize(offset, size, h.size)

	if holder, ok := h.cached.TryGetValue(offset, size, key); ok {
		return holder.GetBuffer(), core1_0.VKSuccess, nil
	}

	src, res, err := h.readRange(offset, size, false)
	if err != nil {
		return nil, res, errors.Wrapf(err, "could not read source range for %s", key.Kind)
	}

	converted := convert(src)
	holder, res, err := h.manager.Create(len(converted), false)
	if err != nil {
		return nil, res, err
	}

	res, err = holder.SetData(0, converted, &cbs)
	if err != nil {
		holder.Dispose()
		return nil, res, err
	}

	h.cached.Add(offset, size, key, holder)
	return holder.GetBuffer(), res, nil
}

// Dispose releases the buffer and its memory once no command buffer uses them, along with every
// derived buffer
func (h *BufferHolder) Dispose() {
	h.cached.Clear()
	h.buffer.Dispose()
	h.memory.Dispose()
}

// Copy records a copy of size bytes between two buffers, with barriers ordering it against every
// other access to the destination range
func Copy(cbs resource.CommandBufferScoped, src, dst *resource.Auto[DisposableBuffer], srcOffset, dstOffset, size int) error {
	srcBuffer := src.GetRange(cbs, srcOffset, size).Value
	dstBuffer := dst.GetRange(cbs, dstOffset, size).Value

	err := InsertBufferBarrier(cbs.CommandBuffer, dstBuffer,
		DefaultAccessFlags, core1_0.AccessTransferWrite,
		core1_0.PipelineStageAllCommands, core1_0.PipelineStageTransfer,
		dstOffset, size)
	if err != nil {
		return err
	}

	err = cbs.CommandBuffer.CmdCopyBuffer(srcBuffer, dstBuffer, core1_0.BufferCopy{
		SrcOffset: srcOffset,
		DstOffset: dstOffset,
		Size:      size,
	})
	if err != nil {
		return err
	}

	return InsertBufferBarrier(cbs.CommandBuffer, dstBuffer,
		core1_0.AccessTransferWrite, DefaultAccessFlags,
		core1_0.PipelineStageTransfer, core1_0.PipelineStageAllCommands,
		dstOffset, size)
}

func newBufferHolder(manager *BufferManager, buffer *resource.Auto[DisposableBuffer], memory *resource.Auto[DisposableMemory], waitable *resource.MultiFenceHolder, mapping *vulkan.MappedMemory, size int) *BufferHolder {
	holder := &BufferHolder{
		manager:  manager,
		buffer:   buffer,
		memory:   memory,
		waitable: waitable,
		size:     size,
	}

	if mapping != nil {
		holder.mapped = mapping.MappedData()[:size]
	}

	return holder
}
