package texture

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/vkgal/device"
	"github.com/vkngwrapper/vkgal/resource"
)

// ViewCreateInfo selects the part of a storage a view exposes and how it is interpreted
type ViewCreateInfo struct {
	ViewType   core1_0.ImageViewType
	Format     core1_0.Format
	Components core1_0.ComponentMapping
	FirstLevel int
	Levels     int
	FirstLayer int
	Layers     int
}

// TextureView is an image view over a TextureStorage. The view keeps the storage's image alive for as
// long as the view itself is alive or used by a command buffer.
type TextureView struct {
	storage *TextureStorage
	info    ViewCreateInfo
	view    *resource.Auto[DisposableImageView]
}

func NewTextureView(dev device.Device, storage *TextureStorage, info ViewCreateInfo) (*TextureView, common.VkResult, error) {
	storageInfo := storage.Info()
	if info.Levels == 0 {
		info.Levels = storageInfo.Levels - info.FirstLevel
	}
	if info.Layers == 0 {
		info.Layers = storageInfo.Layers - info.FirstLayer
	}
	if info.Format == 0 {
		info.Format = storageInfo.Format
	}

	if info.FirstLevel < 0 || info.Levels <= 0 || info.FirstLevel+info.Levels > storageInfo.Levels ||
		info.FirstLayer < 0 || info.Layers <= 0 || info.FirstLayer+info.Layers > storageInfo.Layers {
		return nil, core1_0.VKErrorUnknown, errors.Newf("view of levels [%d, %d) and layers [%d, %d) does not fit a storage with %d levels and %d layers",
			info.FirstLevel, info.FirstLevel+info.Levels, info.FirstLayer, info.FirstLayer+info.Layers, storageInfo.Levels, storageInfo.Layers)
	}

	handle, res, err := dev.CreateImageView(core1_0.ImageViewCreateInfo{
		Image:      storage.GetImage().GetUnsafe().Value,
		ViewType:   info.ViewType,
		Format:     info.Format,
		Components: info.Components,
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask:     storageInfo.Aspect,
			BaseMipLevel:   info.FirstLevel,
			LevelCount:     info.Levels,
			BaseArrayLayer: info.FirstLayer,
			LayerCount:     info.Layers,
		},
	})
	if err != nil {
		return nil, res, errors.Wrap(err, "could not create image view")
	}

	return &TextureView{
		storage: storage,
		info:    info,
		view:    resource.NewAuto(DisposableImageView{dev: dev, Value: handle}, nil, storage.GetImage()),
	}, res, nil
}

func (v *TextureView) Storage() *TextureStorage {
	return v.storage
}

func (v *TextureView) Info() ViewCreateInfo {
	return v.info
}

// GetImageView returns the view. Get on it registers the view and the image beneath it with a command buffer.
func (v *TextureView) GetImageView() *resource.Auto[DisposableImageView] {
	return v.view
}

func (v *TextureView) SetData(cbs *resource.CommandBufferScoped, layer, level int, data []byte) (common.VkResult, error) {
	return v.storage.SetData(cbs, v.info.FirstLayer+layer, v.info.FirstLevel+level, data)
}

func (v *TextureView) GetData(layer, level int) ([]byte, common.VkResult, error) {
	return v.storage.GetData(v.info.FirstLayer+layer, v.info.FirstLevel+level)
}

// Dispose releases the view. The storage's image is released when the last view using it is gone
// and the storage itself has been disposed.
func (v *TextureView) Dispose() {
	v.view.Dispose()
}
