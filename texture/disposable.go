package texture

import (
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/vkgal/device"
)

type DisposableImage struct {
	dev   device.Device
	Value core1_0.Image
}

func (i DisposableImage) Dispose() {
	i.dev.DestroyImage(i.Value)
}

type DisposableImageView struct {
	dev   device.Device
	Value core1_0.ImageView
}

func (v DisposableImageView) Dispose() {
	v.dev.DestroyImageView(v.Value)
}

type DisposableSampler struct {
	dev   device.Device
	Value core1_0.Sampler
}

func (s DisposableSampler) Dispose() {
	s.dev.DestroySampler(s.Value)
}
