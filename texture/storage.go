// Package texture holds images, their views and samplers. Images stay in the general layout for their
// whole life, so uploads and readbacks only need execution and memory barriers around the copy.
package texture

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/vkgal/buffer"
	"github.com/vkngwrapper/vkgal/device"
	"github.com/vkngwrapper/vkgal/internal/vulkan"
	"github.com/vkngwrapper/vkgal/memutils"
	"github.com/vkngwrapper/vkgal/resource"
	"golang.org/x/exp/slog"
)

const imageAccessFlags = core1_0.AccessShaderRead | core1_0.AccessShaderWrite |
	core1_0.AccessColorAttachmentRead | core1_0.AccessColorAttachmentWrite |
	core1_0.AccessDepthStencilAttachmentRead | core1_0.AccessDepthStencilAttachmentWrite |
	core1_0.AccessTransferRead | core1_0.AccessTransferWrite

// stagingAlignment keeps copy sources aligned for every texel size up to 16 bytes
const stagingAlignment = 16

// TextureCreateInfo describes the image backing a TextureStorage
type TextureCreateInfo struct {
	Width, Height, Depth int
	Levels, Layers       int
	Format               core1_0.Format
	// BytesPerPixel is the size of one texel of Format in tightly packed upload data
	BytesPerPixel int
	ImageType     core1_0.ImageType
	Aspect        core1_0.ImageAspectFlags
	Samples       core1_0.SampleCountFlags
}

func (i TextureCreateInfo) normalized() TextureCreateInfo {
	if i.Depth == 0 {
		i.Depth = 1
	}
	if i.Levels == 0 {
		i.Levels = 1
	}
	if i.Layers == 0 {
		i.Layers = 1
	}
	if i.Aspect == 0 {
		i.Aspect = core1_0.ImageAspectColor
	}
	if i.Samples == 0 {
		i.Samples = core1_0.Samples1
	}
	return i
}

func mipSize(size, level int) int {
	size >>= level
	if size < 1 {
		return 1
	}
	return size
}

// LevelExtent is the size in texels of a mip level
func (i TextureCreateInfo) LevelExtent(level int) core1_0.Extent3D {
	return core1_0.Extent3D{
		Width:  mipSize(i.Width, level),
		Height: mipSize(i.Height, level),
		Depth:  mipSize(i.Depth, level),
	}
}

// LevelSize is the size in bytes of one layer of a mip level
func (i TextureCreateInfo) LevelSize(level int) int {
	extent := i.LevelExtent(level)
	return extent.Width * extent.Height * extent.Depth * i.BytesPerPixel
}

// TextureStorage owns an image and its memory. Data moves through the staging ring on the way in
// and through a host-visible readback buffer on the way out.
type TextureStorage struct {
	logger  *slog.Logger
	dev     device.Device
	buffers *buffer.BufferManager
	pool    *resource.CommandBufferPool
	flusher buffer.Flusher

	info        TextureCreateInfo
	image       *resource.Auto[DisposableImage]
	memory      *resource.Auto[buffer.DisposableMemory]
	waitable    *resource.MultiFenceHolder
	initialized bool
}

func NewTextureStorage(logger *slog.Logger, dev device.Device, buffers *buffer.BufferManager, pool *resource.CommandBufferPool, flusher buffer.Flusher, info TextureCreateInfo) (*TextureStorage, common.VkResult, error) {
	info = info.normalized()
	if info.Width <= 0 || info.Height <= 0 || info.BytesPerPixel <= 0 {
		return nil, core1_0.VKErrorUnknown, errors.Newf("invalid texture size %dx%d with %d bytes per pixel", info.Width, info.Height, info.BytesPerPixel)
	}

	handle, res, err := dev.CreateImage(core1_0.ImageCreateInfo{
		ImageType: info.ImageType,
		Extent: core1_0.Extent3D{
			Width:  info.Width,
			Height: info.Height,
			Depth:  info.Depth,
		},
		MipLevels:     info.Levels,
		ArrayLayers:   info.Layers,
		Format:        info.Format,
		Tiling:        core1_0.ImageTilingOptimal,
		InitialLayout: core1_0.ImageLayoutUndefined,
		Usage: core1_0.ImageUsageTransferSrc | core1_0.ImageUsageTransferDst |
			core1_0.ImageUsageSampled | core1_0.ImageUsageStorage,
		SharingMode: core1_0.SharingModeExclusive,
		Samples:     info.Samples,
	})
	if err != nil {
		return nil, res, errors.Wrapf(err, "could not create %dx%d image", info.Width, info.Height)
	}

	memoryHandle, res, err := dev.AllocateImageMemory(handle)
	if err != nil {
		dev.DestroyImage(handle)
		return nil, res, errors.Wrap(err, "could not allocate image memory")
	}

	waitable := resource.NewMultiFenceHolder()
	memory := resource.NewAuto(buffer.NewDisposableMemory(dev, vulkan.NewMappedMemory(memoryHandle, 0, false)), nil)
	image := resource.NewAuto(DisposableImage{dev: dev, Value: handle}, waitable, memory)

	return &TextureStorage{
		logger:   logger,
		dev:      dev,
		buffers:  buffers,
		pool:     pool,
		flusher:  flusher,
		info:     info,
		image:    image,
		memory:   memory,
		waitable: waitable,
	}, res, nil
}

func (s *TextureStorage) Info() TextureCreateInfo {
	return s.info
}

func (s *TextureStorage) GetImage() *resource.Auto[DisposableImage] {
	return s.image
}

func (s *TextureStorage) subresource(layer, level int) (core1_0.ImageSubresourceLayers, error) {
	if layer < 0 || layer >= s.info.Layers || level < 0 || level >= s.info.Levels {
		return core1_0.ImageSubresourceLayers{}, errors.Newf("subresource layer %d level %d is outside of a texture with %d layers and %d levels", layer, level, s.info.Layers, s.info.Levels)
	}

	return core1_0.ImageSubresourceLayers{
		AspectMask:     s.info.Aspect,
		MipLevel:       level,
		BaseArrayLayer: layer,
		LayerCount:     1,
	}, nil
}

// InsertBarrier orders access to the whole image. The first barrier also moves the image out of the
// undefined layout.
func (s *TextureStorage) InsertBarrier(cbs resource.CommandBufferScoped, srcAccess, dstAccess core1_0.AccessFlags, srcStage, dstStage core1_0.PipelineStageFlags) error {
	oldLayout := core1_0.ImageLayoutGeneral
	if !s.initialized {
		oldLayout = core1_0.ImageLayoutUndefined
		s.initialized = true
	}

	return cbs.CommandBuffer.CmdPipelineBarrier(srcStage, dstStage, nil, nil, []core1_0.ImageMemoryBarrier{
		{
			SrcAccessMask:       srcAccess,
			DstAccessMask:       dstAccess,
			OldLayout:           oldLayout,
			NewLayout:           core1_0.ImageLayoutGeneral,
			SrcQueueFamilyIndex: device.QueueFamilyIgnored,
			DstQueueFamilyIndex: device.QueueFamilyIgnored,
			Image:               s.image.Get(cbs).Value,
			SubresourceRange: core1_0.ImageSubresourceRange{
				AspectMask:     s.info.Aspect,
				BaseMipLevel:   0,
				LevelCount:     s.info.Levels,
				BaseArrayLayer: 0,
				LayerCount:     s.info.Layers,
			},
		},
	})
}

// SetData uploads one layer of a mip level. If cbs is nil the upload is recorded on a command buffer
// rented for the purpose and submitted immediately.
func (s *TextureStorage) SetData(cbs *resource.CommandBufferScoped, layer, level int, data []byte) (common.VkResult, error) {
	subresource, err := s.subresource(layer, level)
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	size := s.info.LevelSize(level)
	if len(data) < size {
		return core1_0.VKErrorUnknown, errors.Newf("texture upload needs %d bytes but got %d", size, len(data))
	}
	data = data[:size]

	owned := cbs == nil
	var scoped resource.CommandBufferScoped
	if owned {
		var res common.VkResult
		scoped, res, err = s.pool.Rent()
		if err != nil {
			return res, err
		}
	} else {
		scoped = *cbs
	}

	res, err := s.upload(scoped, subresource, level, data)
	if owned {
		submitRes, submitErr := scoped.Dispose()
		if err == nil {
			res, err = submitRes, submitErr
		}
	}

	return res, err
}

func (s *TextureStorage) upload(cbs resource.CommandBufferScoped, subresource core1_0.ImageSubresourceLayers, level int, data []byte) (common.VkResult, error) {
	var source *resource.Auto[buffer.DisposableBuffer]
	offset := 0

	reserved, ok, err := s.buffers.StagingBuffer().TryReserve(cbs, len(data), stagingAlignment)
	if err != nil && !errors.Is(err, memutils.ErrStagingTooLarge) {
		return core1_0.VKErrorUnknown, err
	}

	if ok {
		copy(reserved.Data(), data)
		source = reserved.Buffer.GetBuffer()
		offset = reserved.Offset
	} else {
		// The ring is full or too small, so the upload gets a buffer of its own that lives as long as cbs
		s.logger.Debug("TextureStorage::SetData staging ring unavailable, using a temporary buffer", slog.Int("Size", len(data)))
		temporary, res, err := s.buffers.Create(len(data), true)
		if err != nil {
			return res, err
		}
		defer temporary.Dispose()

		_, err = temporary.SetDataUnchecked(0, data)
		if err != nil {
			return core1_0.VKErrorUnknown, err
		}
		source = temporary.GetBuffer()
	}

	err = s.InsertBarrier(cbs, imageAccessFlags, core1_0.AccessTransferWrite, core1_0.PipelineStageAllCommands, core1_0.PipelineStageTransfer)
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	err = cbs.CommandBuffer.CmdCopyBufferToImage(
		source.GetRange(cbs, offset, len(data)).Value,
		s.image.Get(cbs).Value,
		core1_0.ImageLayoutGeneral,
		core1_0.BufferImageCopy{
			BufferOffset:     offset,
			ImageSubresource: subresource,
			ImageExtent:      s.info.LevelExtent(level),
		},
	)
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	err = s.InsertBarrier(cbs, core1_0.AccessTransferWrite, imageAccessFlags, core1_0.PipelineStageTransfer, core1_0.PipelineStageAllCommands)
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	return core1_0.VKSuccess, nil
}

// GetData reads one layer of a mip level back to the host. Unsubmitted commands that use the image
// are flushed first, and the call blocks until the copy completes.
func (s *TextureStorage) GetData(layer, level int) ([]byte, common.VkResult, error) {
	subresource, err := s.subresource(layer, level)
	if err != nil {
		return nil, core1_0.VKErrorUnknown, err
	}

	if s.image.HasRentedCommandBufferDependency(s.pool) {
		s.logger.Debug("TextureStorage::GetData flushing commands")
		res, err := s.flusher.FlushAllCommands()
		if err != nil {
			return nil, res, err
		}
	}

	size := s.info.LevelSize(level)
	readback, res, err := s.buffers.Create(size, true)
	if err != nil {
		return nil, res, err
	}
	defer readback.Dispose()

	cbs, res, err := s.pool.Rent()
	if err != nil {
		return nil, res, err
	}

	err = s.InsertBarrier(cbs, imageAccessFlags, core1_0.AccessTransferRead, core1_0.PipelineStageAllCommands, core1_0.PipelineStageTransfer)
	if err == nil {
		err = cbs.CommandBuffer.CmdCopyImageToBuffer(
			s.image.Get(cbs).Value,
			core1_0.ImageLayoutGeneral,
			readback.GetBufferRange(0, size, true).GetRange(cbs, 0, size).Value,
			core1_0.BufferImageCopy{
				ImageSubresource: subresource,
				ImageExtent:      s.info.LevelExtent(level),
			},
		)
	}
	if err == nil {
		err = s.InsertBarrier(cbs, core1_0.AccessTransferRead, imageAccessFlags, core1_0.PipelineStageTransfer, core1_0.PipelineStageAllCommands)
	}
	if err != nil {
		_, _ = cbs.Dispose()
		return nil, core1_0.VKErrorUnknown, err
	}

	res, err = cbs.Dispose()
	if err != nil {
		return nil, res, err
	}

	res, err = s.pool.Wait(cbs.CommandBufferIndex)
	if err != nil {
		return nil, res, err
	}

	return readback.GetData(0, size)
}

// Dispose releases the image and its memory once no command buffer uses them
func (s *TextureStorage) Dispose() {
	s.image.Dispose()
	s.memory.Dispose()
}
