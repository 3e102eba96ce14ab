package resource

import (
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/vkgal/device"
)

// CommandBufferScoped is a rented command buffer. It is valid from Rent until it is disposed, which
// submits it.
type CommandBufferScoped struct {
	pool               *CommandBufferPool
	CommandBuffer      device.CommandBuffer
	CommandBufferIndex int
}

// Valid reports whether the scope came from a pool rather than being the zero value
func (c CommandBufferScoped) Valid() bool {
	return c.pool != nil
}

func (c CommandBufferScoped) Pool() *CommandBufferPool {
	return c.pool
}

func (c CommandBufferScoped) AddDependant(d Dependant) {
	c.pool.AddDependant(c.CommandBufferIndex, d)
}

func (c CommandBufferScoped) AddWaitable(waitable *MultiFenceHolder) {
	c.pool.AddWaitable(c.CommandBufferIndex, waitable)
}

func (c CommandBufferScoped) GetFence() *FenceHolder {
	return c.pool.GetFence(c.CommandBufferIndex)
}

// Dispose submits the command buffer
func (c CommandBufferScoped) Dispose() (common.VkResult, error) {
	return c.pool.Return(c)
}
