package pipeline

import (
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/vkgal/device"
)

type DisposablePipeline struct {
	dev   device.Device
	Value core1_0.Pipeline
}

func (p DisposablePipeline) Dispose() {
	p.dev.DestroyPipeline(p.Value)
}
