package pipeline

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/vkgal/descriptor"
	"github.com/vkngwrapper/vkgal/device"
	"github.com/vkngwrapper/vkgal/resource"
	"golang.org/x/exp/slog"
)

// PipelineFull is the pipeline of the main renderer. It owns the command buffer being recorded and
// replaces it with a fresh one on every flush.
type PipelineFull struct {
	*PipelineBase

	pool    *resource.CommandBufferPool
	flushes int
}

// NewPipelineFull rents the first command buffer from pool
func NewPipelineFull(logger *slog.Logger, dev device.Device, pool *resource.CommandBufferPool, updater *descriptor.DescriptorSetUpdater, options Options) (*PipelineFull, common.VkResult, error) {
	base, err := newPipelineBase(logger, dev, updater, options)
	if err != nil {
		return nil, core1_0.VKErrorUnknown, err
	}

	p := &PipelineFull{
		PipelineBase: base,
		pool:         pool,
	}
	p.flusher = p
	p.rent = pool.Rent

	res, err := p.ensureCommandBuffer()
	if err != nil {
		return nil, res, errors.Wrap(err, "could not rent the first command buffer")
	}

	return p, res, nil
}

// Flushes is the number of command buffers submitted by the pipeline
func (p *PipelineFull) Flushes() int {
	return p.flushes
}

// FlushAllCommands submits the recording command buffer and starts recording the next one
func (p *PipelineFull) FlushAllCommands() (common.VkResult, error) {
	return p.FlushCommandsImpl()
}

// FlushCommandsImpl ends the render pass, submits the recording command buffer and rents the next
// one. The submitted command buffer is never kept: if the rent fails, the next operation that records
// rents again.
func (p *PipelineFull) FlushCommandsImpl() (common.VkResult, error) {
	if p.cbs.Valid() {
		p.logger.Debug("PipelineFull::FlushCommandsImpl", slog.Int("CommandBufferIndex", p.cbs.CommandBufferIndex))

		p.EndRenderPass()
		res, err := p.pool.Return(p.cbs)
		p.cbs = resource.CommandBufferScoped{}
		p.SignalCommandBufferChange()
		if err != nil {
			return res, errors.Wrap(err, "could not flush commands")
		}
		p.flushes++
	}

	res, err := p.ensureCommandBuffer()
	if err != nil {
		return res, errors.Wrap(err, "could not flush commands")
	}
	return res, nil
}

// Dispose submits whatever was recorded. Nothing may be recorded afterward.
func (p *PipelineFull) Dispose() (common.VkResult, error) {
	if !p.cbs.Valid() {
		return core1_0.VKSuccess, nil
	}

	p.EndRenderPass()
	res, err := p.pool.Return(p.cbs)
	p.cbs = resource.CommandBufferScoped{}
	p.rent = nil
	return res, err
}
