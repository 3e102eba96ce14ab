package vkng

import (
	"time"

	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/vkgal/device"
)

type Fence struct {
	driver core1_0.CoreDeviceDriver
	fence  core1_0.Fence
}

var _ device.Fence = &Fence{}

func (f *Fence) Status() (common.VkResult, error) {
	return f.driver.GetFenceStatus(f.fence)
}

func (f *Fence) Wait(timeout time.Duration) (common.VkResult, error) {
	return f.driver.WaitForFences(true, timeout, f.fence)
}

func (f *Fence) Reset() (common.VkResult, error) {
	return f.driver.ResetFences(f.fence)
}

func (f *Fence) Destroy() {
	f.driver.DestroyFence(f.fence, nil)
}
