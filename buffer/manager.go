package buffer

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/vkgal/device"
	"github.com/vkngwrapper/vkgal/internal/vulkan"
	"github.com/vkngwrapper/vkgal/memutils"
	"github.com/vkngwrapper/vkgal/resource"
	"golang.org/x/exp/slog"
)

// DefaultCapacity is the number of buffer handles a manager hands out when none is configured
const DefaultCapacity = 4096

const defaultUsage = core1_0.BufferUsageTransferSrc | core1_0.BufferUsageTransferDst |
	core1_0.BufferUsageUniformBuffer | core1_0.BufferUsageStorageBuffer |
	core1_0.BufferUsageIndexBuffer | core1_0.BufferUsageVertexBuffer |
	core1_0.BufferUsageIndirectBuffer

// Flusher submits the command buffer currently being recorded so that its fence can be waited on
type Flusher interface {
	FlushAllCommands() (common.VkResult, error)
}

// FlusherFunc adapts a function to Flusher
type FlusherFunc func() (common.VkResult, error)

func (f FlusherFunc) FlushAllCommands() (common.VkResult, error) {
	return f()
}

// Options configures a BufferManager
type Options struct {
	// GranularTracking records the byte ranges each command buffer accesses, so CPU access to a
	// buffer only waits on command buffers that touch the same bytes
	GranularTracking bool
	// FastUpdates records small aligned writes inline into the current command buffer
	FastUpdates bool
	// StagingBufferSize is the staging ring size in bytes and must be a power of two
	StagingBufferSize int
	// Capacity is the number of buffer handles that can be live at once
	Capacity int
	// ExternallySynchronized skips locking of host mappings
	ExternallySynchronized bool
}

// BufferManager creates buffers, tracks them by handle and owns the staging ring used to upload to
// device-local buffers
type BufferManager struct {
	logger  *slog.Logger
	dev     device.Device
	pool    *resource.CommandBufferPool
	flusher Flusher
	options Options

	buffers *resource.IdList[*BufferHolder]
	staging *StagingBuffer
}

func NewBufferManager(logger *slog.Logger, dev device.Device, pool *resource.CommandBufferPool, flusher Flusher, options Options) (*BufferManager, common.VkResult, error) {
	if options.StagingBufferSize == 0 {
		options.StagingBufferSize = DefaultStagingBufferSize
	}
	if options.Capacity == 0 {
		options.Capacity = DefaultCapacity
	}

	m := &BufferManager{
		logger:  logger,
		dev:     dev,
		pool:    pool,
		flusher: flusher,
		options: options,
		buffers: resource.NewConcurrentIdList[*BufferHolder]("buffer", options.Capacity),
	}

	staging, res, err := newStagingBuffer(logger, m, options.StagingBufferSize)
	if err != nil {
		return nil, res, err
	}
	m.staging = staging

	return m, res, nil
}

func (m *BufferManager) Options() Options {
	return m.options
}

func (m *BufferManager) StagingBuffer() *StagingBuffer {
	return m.staging
}

// Create builds a buffer of size bytes that is not registered in the handle table. Host-visible
// buffers are persistently mapped.
func (m *BufferManager) Create(size int, hostVisible bool) (*BufferHolder, common.VkResult, error) {
	if size <= 0 {
		return nil, core1_0.VKErrorUnknown, errors.Newf("buffer size must be positive, but was %d", size)
	}

	handle, res, err := m.dev.CreateBuffer(core1_0.BufferCreateInfo{
		Size:        size,
		Usage:       defaultUsage,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return nil, res, errors.Wrapf(err, "could not create buffer of %d bytes", size)
	}

	memoryHandle, res, err := m.dev.AllocateBufferMemory(handle, hostVisible)
	if err != nil {
		m.dev.DestroyBuffer(handle)
		return nil, res, errors.Wrapf(err, "could not allocate memory for buffer of %d bytes", size)
	}

	mapping := vulkan.NewMappedMemory(memoryHandle, size, !m.options.ExternallySynchronized)
	if hostVisible {
		_, res, err = mapping.Map(m.dev, 1)
		if err != nil {
			mapping.Free(m.dev)
			m.dev.DestroyBuffer(handle)
			return nil, res, err
		}
	}

	var waitable *resource.MultiFenceHolder
	if m.options.GranularTracking {
		waitable = resource.NewGranularMultiFenceHolder()
	} else {
		waitable = resource.NewMultiFenceHolder()
	}

	memory := resource.NewAuto(NewDisposableMemory(m.dev, mapping), nil)
	buffer := resource.NewAuto(NewDisposableBuffer(m.dev, handle), waitable, memory)

	var mapped *vulkan.MappedMemory
	if hostVisible {
		mapped = mapping
	}

	return newBufferHolder(m, buffer, memory, waitable, mapped, size), res, nil
}

// CreateWithHandle builds a buffer and registers it, returning its handle
func (m *BufferManager) CreateWithHandle(size int, hostVisible bool) (int, common.VkResult, error) {
	holder, res, err := m.Create(size, hostVisible)
	if err != nil {
		return 0, res, err
	}

	handle, err := m.buffers.Add(holder)
	if err != nil {
		holder.Dispose()
		return 0, core1_0.VKErrorOutOfHostMemory, err
	}

	m.logger.Debug("BufferManager::CreateWithHandle", slog.Int("Handle", handle), slog.Int("Size", size), slog.Bool("HostVisible", hostVisible))
	return handle, res, nil
}

// Get returns the holder registered under handle
func (m *BufferManager) Get(handle int) (*BufferHolder, bool) {
	return m.buffers.TryGetValue(handle)
}

func (m *BufferManager) mustGet(handle int) (*BufferHolder, error) {
	holder, ok := m.buffers.TryGetValue(handle)
	if !ok {
		return nil, errors.Wrapf(memutils.ErrDestroyed, "buffer handle %d", handle)
	}
	return holder, nil
}

// GetBuffer returns the buffer registered under handle for an access of [offset, offset+size)
func (m *BufferManager) GetBuffer(handle, offset, size int, isWrite bool) (*resource.Auto[DisposableBuffer], error) {
	holder, err := m.mustGet(handle)
	if err != nil {
		return nil, err
	}

	return holder.GetBufferRange(offset, size, isWrite), nil
}

func (m *BufferManager) SetData(handle, offset int, data []byte, cbs *resource.CommandBufferScoped) (common.VkResult, error) {
	holder, err := m.mustGet(handle)
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	return holder.SetData(offset, data, cbs)
}

func (m *BufferManager) GetData(handle, offset, size int) ([]byte, common.VkResult, error) {
	holder, err := m.mustGet(handle)
	if err != nil {
		return nil, core1_0.VKErrorUnknown, err
	}

	return holder.GetData(offset, size)
}

func (m *BufferManager) GetBufferI8ToI16(cbs resource.CommandBufferScoped, handle, offset, size int) (*resource.Auto[DisposableBuffer], common.VkResult, error) {
	holder, err := m.mustGet(handle)
	if err != nil {
		return nil, core1_0.VKErrorUnknown, err
	}

	return holder.GetBufferI8ToI16(cbs, offset, size)
}

func (m *BufferManager) GetAlignedVertexBuffer(cbs resource.CommandBufferScoped, handle, offset, size, stride, alignment int) (*resource.Auto[DisposableBuffer], common.VkResult, error) {
	holder, err := m.mustGet(handle)
	if err != nil {
		return nil, core1_0.VKErrorUnknown, err
	}

	return holder.GetAlignedVertexBuffer(cbs, offset, size, stride, alignment)
}

// Delete unregisters the buffer. It is destroyed once no command buffer uses it.
func (m *BufferManager) Delete(handle int) bool {
	holder, ok := m.buffers.Remove(handle)
	if !ok {
		return false
	}

	holder.Dispose()
	return true
}

func (m *BufferManager) Count() int {
	return m.buffers.Count()
}

// Destroy releases the staging ring and every registered buffer, logging any that were never deleted
func (m *BufferManager) Destroy() {
	m.buffers.ForEach(func(handle int, holder *BufferHolder) {
		m.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED BUFFER] buffer was not deleted before the manager was destroyed",
			slog.Int("Handle", handle),
			slog.Int("Size", holder.Size()),
		)
		holder.Dispose()
	})
	m.buffers.Clear()

	m.staging.destroy()
}

func (m *BufferManager) PrintJson(json jwriter.ObjectState) {
	buffers := json.Name("Buffers").Object()
	m.buffers.PrintJson(buffers)
	buffers.End()

	staging := json.Name("StagingBuffer").Object()
	m.staging.PrintJson(staging)
	staging.End()
}
