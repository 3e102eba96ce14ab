package buffer

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/vkgal/memutils"
	"github.com/vkngwrapper/vkgal/resource"
	"golang.org/x/exp/slog"
)

// DefaultStagingBufferSize is the ring size used when none is configured
const DefaultStagingBufferSize = 16 * 1024 * 1024

type pendingCopy struct {
	fence *resource.FenceHolder
	size  int
}

// StagingBufferReserved is a region of the staging ring handed out for the caller to fill and copy
// from within the command buffer it was reserved on
type StagingBufferReserved struct {
	Buffer *BufferHolder
	Offset int
	Size   int
}

// Data is the host mapping of the reserved region
func (r StagingBufferReserved) Data() []byte {
	return r.Buffer.mapped[r.Offset : r.Offset+r.Size]
}

// StagingBuffer is a host-visible ring used to upload data to device-local memory. Space is handed
// out at the free cursor and reclaimed in the order it was handed out, as each region's command
// buffer fence signals. Reclaim assumes every pushing command buffer is submitted to one queue in
// rent order.
type StagingBuffer struct {
	logger  *slog.Logger
	manager *BufferManager
	buffer  *BufferHolder

	size       int
	freeOffset int
	freeSize   int
	pending    []pendingCopy

	stats memutils.Statistics
}

func newStagingBuffer(logger *slog.Logger, manager *BufferManager, size int) (*StagingBuffer, common.VkResult, error) {
	if err := memutils.CheckPow2(size, "staging buffer size"); err != nil {
		return nil, core1_0.VKErrorInitializationFailed, err
	}

	holder, res, err := manager.Create(size, true)
	if err != nil {
		return nil, res, errors.Wrap(err, "could not create staging buffer")
	}

	s := &StagingBuffer{
		logger:   logger,
		manager:  manager,
		buffer:   holder,
		size:     size,
		freeSize: size,
	}
	s.stats.BlockCount = 1
	s.stats.BlockBytes = size

	return s, res, nil
}

func (s *StagingBuffer) Size() int {
	return s.size
}

// FreeSize is the number of bytes not held by a pending copy
func (s *StagingBuffer) FreeSize() int {
	return s.freeSize
}

func (s *StagingBuffer) Buffer() *BufferHolder {
	return s.buffer
}

// PushData uploads data to dst at dstOffset, splitting it across as many ring passes as needed. If
// cbs is nil the copies are recorded on command buffers rented for the purpose. When the ring is full
// the oldest pending copy is waited on; if that copy is still being recorded, the recording command
// buffer is submitted first.
func (s *StagingBuffer) PushData(cbs *resource.CommandBufferScoped, dst *BufferHolder, dstOffset int, data []byte) (common.VkResult, error) {
	pool := s.manager.pool
	isRender := cbs != nil

	var scoped resource.CommandBufferScoped
	var res common.VkResult
	var err error
	if isRender {
		scoped = *cbs
	} else {
		scoped, res, err = pool.Rent()
		if err != nil {
			return res, err
		}
	}

	for len(data) > 0 {
		if s.freeSize < len(data) {
			s.FreeCompleted()
		}

		for s.freeSize == 0 {
			freed, res, err := s.WaitFreeCompleted()
			if err != nil {
				return res, err
			}
			if freed {
				continue
			}

			s.logger.Debug("StagingBuffer::PushData flushing to reclaim ring space", slog.Int("Pending", len(s.pending)))
			if isRender {
				res, err = s.manager.flusher.FlushAllCommands()
				if err != nil {
					return res, err
				}

				scoped, res, err = pool.Rent()
				isRender = false
			} else {
				scoped, res, err = pool.ReturnAndRent(scoped)
			}
			if err != nil {
				return res, err
			}
		}

		chunk := len(data)
		if chunk > s.freeSize {
			chunk = s.freeSize
		}
		err = s.pushDataImpl(scoped, dst, dstOffset, data[:chunk])
		if err != nil {
			return core1_0.VKErrorUnknown, err
		}

		data = data[chunk:]
		dstOffset += chunk
	}

	if !isRender {
		return scoped.Dispose()
	}

	return core1_0.VKSuccess, nil
}

// TryPushData uploads data to dst at dstOffset within cbs if the ring has room for all of it after
// reclaiming completed copies. Data larger than the ring is refused with ErrStagingTooLarge.
func (s *StagingBuffer) TryPushData(cbs resource.CommandBufferScoped, dst *BufferHolder, dstOffset int, data []byte) (bool, error) {
	if len(data) > s.size {
		return false, errors.Wrapf(memutils.ErrStagingTooLarge, "push of %d bytes exceeds staging ring of %d bytes", len(data), s.size)
	}

	if s.freeSize < len(data) {
		s.FreeCompleted()
		if s.freeSize < len(data) {
			return false, nil
		}
	}

	err := s.pushDataImpl(cbs, dst, dstOffset, data)
	if err != nil {
		return false, err
	}

	return true, nil
}

func (s *StagingBuffer) pushDataImpl(cbs resource.CommandBufferScoped, dst *BufferHolder, dstOffset int, data []byte) error {
	if len(data) > s.freeSize {
		panic(errors.AssertionFailedf("staging push of %d bytes exceeds free size %d", len(data), s.freeSize))
	}

	src := s.buffer.GetBuffer()
	dstBuffer := dst.GetBufferRange(dstOffset, len(data), true)

	offset := s.freeOffset
	capacity := s.size - offset

	if capacity < len(data) {
		copy(s.buffer.mapped[offset:], data[:capacity])
		copy(s.buffer.mapped, data[capacity:])

		if err := Copy(cbs, src, dstBuffer, offset, dstOffset, capacity); err != nil {
			return err
		}
		if err := Copy(cbs, src, dstBuffer, 0, dstOffset+capacity, len(data)-capacity); err != nil {
			return err
		}
	} else {
		copy(s.buffer.mapped[offset:], data)

		if err := Copy(cbs, src, dstBuffer, offset, dstOffset, len(data)); err != nil {
			return err
		}
	}

	memutils.DebugCheckPow2(s.size, "staging buffer size")
	s.freeOffset = (offset + len(data)) & (s.size - 1)
	s.enqueue(cbs, len(data))
	memutils.DebugValidate(s)

	return nil
}

func (s *StagingBuffer) enqueue(cbs resource.CommandBufferScoped, size int) {
	fence := cbs.GetFence()
	fence.Get()

	s.freeSize -= size
	s.pending = append(s.pending, pendingCopy{fence: fence, size: size})
	s.stats.AddAllocation(size)
}

func (s *StagingBuffer) dequeue() {
	copied := s.pending[0]
	s.pending[0] = pendingCopy{}
	s.pending = s.pending[1:]

	s.freeSize += copied.size
	if s.freeSize == s.size {
		s.freeOffset = 0
	}
	s.stats.RemoveAllocation(copied.size)
	copied.fence.Put()
}

// Validate checks that the ring's free region and pending copies account for its whole size
func (s *StagingBuffer) Validate() error {
	if s.freeSize < 0 || s.freeSize > s.size {
		return errors.Newf("staging free size %d outside ring of %d bytes", s.freeSize, s.size)
	}
	if s.freeOffset < 0 || s.freeOffset >= s.size {
		return errors.Newf("staging free offset %d outside ring of %d bytes", s.freeOffset, s.size)
	}

	pendingSize := 0
	for _, copied := range s.pending {
		pendingSize += copied.size
	}
	if pendingSize != s.size-s.freeSize {
		return errors.Newf("staging pending copies hold %d bytes but %d bytes are in use", pendingSize, s.size-s.freeSize)
	}

	return nil
}

// FreeCompleted reclaims the space of every pending copy, oldest first, whose fence has signalled
func (s *StagingBuffer) FreeCompleted() {
	var signalled *resource.FenceHolder

	for len(s.pending) > 0 {
		fence := s.pending[0].fence
		if fence != signalled && !fence.IsSignaled() {
			break
		}

		signalled = fence
		s.dequeue()
	}
}

// WaitFreeCompleted waits on the oldest pending copy and reclaims its space. It returns false without
// waiting if that copy's command buffer has not been submitted yet.
func (s *StagingBuffer) WaitFreeCompleted() (bool, common.VkResult, error) {
	if len(s.pending) == 0 {
		return false, core1_0.VKSuccess, nil
	}

	fence := s.pending[0].fence
	res := core1_0.VKSuccess
	if !fence.IsSignaled() {
		if s.manager.pool.IsFenceOnRentedCommandBuffer(fence) {
			return false, core1_0.VKSuccess, nil
		}

		var err error
		res, err = fence.Wait()
		if err != nil {
			return false, res, errors.Wrap(err, "could not wait for staging copy")
		}
	}

	s.dequeue()
	return true, res, nil
}

// contiguousFreeSize returns the largest aligned region that can be reserved without splitting and
// the offset it starts at
func (s *StagingBuffer) contiguousFreeSize(alignment int) (offset, size int) {
	tailOffset := memutils.AlignUp(s.freeOffset, uint(alignment))
	tail := s.freeSize - (tailOffset - s.freeOffset)
	if tail > s.size-tailOffset {
		tail = s.size - tailOffset
	}
	head := s.freeOffset + s.freeSize - s.size

	if tail >= head {
		if tail < 0 {
			tail = 0
		}
		return tailOffset, tail
	}
	return 0, head
}

// TryReserve reserves size contiguous bytes at the given alignment for use within cbs. The region is
// reclaimed once the command buffer completes.
func (s *StagingBuffer) TryReserve(cbs resource.CommandBufferScoped, size, alignment int) (StagingBufferReserved, bool, error) {
	if err := memutils.CheckPow2(alignment, "alignment"); err != nil {
		return StagingBufferReserved{}, false, err
	}
	if size > s.size {
		return StagingBufferReserved{}, false, errors.Wrapf(memutils.ErrStagingTooLarge, "reservation of %d bytes exceeds staging ring of %d bytes", size, s.size)
	}

	offset, available := s.contiguousFreeSize(alignment)
	if available < size {
		s.FreeCompleted()
		offset, available = s.contiguousFreeSize(alignment)
		if available < size {
			return StagingBufferReserved{}, false, nil
		}
	}

	// Skipped bytes before the region are held until the region itself is reclaimed
	reserved := offset - s.freeOffset + size
	if offset < s.freeOffset {
		reserved = s.size - s.freeOffset + size
	}

	memutils.DebugCheckPow2(s.size, "staging buffer size")
	s.freeOffset = (offset + size) & (s.size - 1)
	s.enqueue(cbs, reserved)

	return StagingBufferReserved{Buffer: s.buffer, Offset: offset, Size: size}, true, nil
}

func (s *StagingBuffer) Statistics() memutils.Statistics {
	return s.stats
}

func (s *StagingBuffer) PrintJson(json jwriter.ObjectState) {
	json.Name("Size").Int(s.size)
	json.Name("FreeOffset").Int(s.freeOffset)
	json.Name("FreeSize").Int(s.freeSize)
	json.Name("PendingCopies").Int(len(s.pending))

	stats := json.Name("Statistics").Object()
	s.stats.PrintJson(stats)
	stats.End()
}

func (s *StagingBuffer) destroy() {
	for len(s.pending) > 0 {
		s.dequeue()
	}

	s.buffer.Dispose()
}
