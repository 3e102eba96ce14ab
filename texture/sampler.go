package texture

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/vkgal/device"
	"github.com/vkngwrapper/vkgal/resource"
)

type SamplerHolder struct {
	sampler *resource.Auto[DisposableSampler]
}

func NewSamplerHolder(dev device.Device, info core1_0.SamplerCreateInfo) (*SamplerHolder, common.VkResult, error) {
	handle, res, err := dev.CreateSampler(info)
	if err != nil {
		return nil, res, errors.Wrap(err, "could not create sampler")
	}

	return &SamplerHolder{
		sampler: resource.NewAuto(DisposableSampler{dev: dev, Value: handle}, nil),
	}, res, nil
}

func (s *SamplerHolder) GetSampler() *resource.Auto[DisposableSampler] {
	return s.sampler
}

func (s *SamplerHolder) Dispose() {
	s.sampler.Dispose()
}
