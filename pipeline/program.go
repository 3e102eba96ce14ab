package pipeline

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/vkgal/descriptor"
	"github.com/vkngwrapper/vkgal/device"
	"github.com/vkngwrapper/vkgal/memutils"
	"github.com/vkngwrapper/vkgal/resource"
	"golang.org/x/exp/slog"
)

// ShaderStage is one compiled shader of a program
type ShaderStage struct {
	Stage  core1_0.ShaderStageFlags
	Module core1_0.ShaderModule
	Name   string
}

// ShaderCollection is a linked program: its shader stages, the pipeline layout its bindings resolve
// to and every pipeline built from it. A compute program has exactly one pipeline; a graphics
// program has one per distinct PipelineUid it is drawn with.
type ShaderCollection struct {
	logger *slog.Logger
	dev    device.Device

	stages    []core1_0.PipelineShaderStageCreateInfo
	layout    *descriptor.PipelineLayoutCacheEntry
	isCompute bool

	graphicsPipelines *swiss.Map[PipelineUid, *resource.Auto[DisposablePipeline]]
	computePipeline   *resource.Auto[DisposablePipeline]
	disposed          bool
}

// NewShaderCollection links stages against the pipeline layout for bindings. A compute stage may
// not be combined with any other stage.
func NewShaderCollection(logger *slog.Logger, dev device.Device, layouts *descriptor.PipelineLayoutCache, stages []ShaderStage, bindings descriptor.ProgramLayout) (*ShaderCollection, common.VkResult, error) {
	if len(stages) == 0 {
		return nil, core1_0.VKErrorUnknown, errors.New("a program requires at least one shader stage")
	}

	c := &ShaderCollection{
		logger:            logger,
		dev:               dev,
		graphicsPipelines: swiss.NewMap[PipelineUid, *resource.Auto[DisposablePipeline]](4),
	}

	var seen core1_0.ShaderStageFlags
	for _, stage := range stages {
		if stage.Stage == 0 || stage.Stage&(stage.Stage-1) != 0 {
			return nil, core1_0.VKErrorUnknown, errors.Newf("shader stage %s must name exactly one stage", stage.Stage)
		}
		if seen&stage.Stage != 0 {
			return nil, core1_0.VKErrorUnknown, errors.Newf("shader stage %s is declared twice", stage.Stage)
		}
		seen |= stage.Stage

		name := stage.Name
		if name == "" {
			name = "main"
		}
		c.stages = append(c.stages, core1_0.PipelineShaderStageCreateInfo{
			Stage:  stage.Stage,
			Module: stage.Module,
			Name:   name,
		})
	}

	c.isCompute = seen&core1_0.StageCompute != 0
	if c.isCompute && len(stages) > 1 {
		return nil, core1_0.VKErrorUnknown, errors.New("a compute stage cannot be linked with other stages")
	}

	layout, res, err := layouts.GetOrCreate(bindings)
	if err != nil {
		return nil, res, errors.Wrap(err, "could not create program layout")
	}
	c.layout = layout

	return c, res, nil
}

func (c *ShaderCollection) IsCompute() bool {
	return c.isCompute
}

func (c *ShaderCollection) Layout() *descriptor.PipelineLayoutCacheEntry {
	return c.layout
}

func (c *ShaderCollection) BindPoint() core1_0.PipelineBindPoint {
	if c.isCompute {
		return core1_0.PipelineBindPointCompute
	}
	return core1_0.PipelineBindPointGraphics
}

// GetGraphicsPipeline returns the pipeline for the state, building it against renderPass on the first
// request. Later requests with an equal uid return the same pipeline whatever render pass they pass,
// since the uid carries every attachment format the pipeline must be compatible with.
func (c *ShaderCollection) GetGraphicsPipeline(state *PipelineState, renderPass core1_0.RenderPass) (*resource.Auto[DisposablePipeline], common.VkResult, error) {
	if c.disposed {
		return nil, core1_0.VKErrorUnknown, memutils.ErrDestroyed
	}
	if c.isCompute {
		return nil, core1_0.VKErrorUnknown, errors.New("cannot create a graphics pipeline from a compute program")
	}

	uid := state.Uid()
	if pipeline, ok := c.graphicsPipelines.Get(uid); ok {
		return pipeline, core1_0.VKSuccess, nil
	}

	c.logger.Debug("ShaderCollection::GetGraphicsPipeline creating pipeline", slog.Int("cached", c.graphicsPipelines.Count()))

	handle, res, err := c.dev.CreateGraphicsPipeline(uid.graphicsCreateInfo(c.stages, c.layout.PipelineLayout(), renderPass))
	if err != nil {
		return nil, res, errors.Wrap(err, "could not create graphics pipeline")
	}

	pipeline := resource.NewAuto(DisposablePipeline{dev: c.dev, Value: handle}, nil)
	c.graphicsPipelines.Put(uid, pipeline)
	return pipeline, res, nil
}

// GetComputePipeline returns the program's compute pipeline, building it on the first request
func (c *ShaderCollection) GetComputePipeline() (*resource.Auto[DisposablePipeline], common.VkResult, error) {
	if c.disposed {
		return nil, core1_0.VKErrorUnknown, memutils.ErrDestroyed
	}
	if !c.isCompute {
		return nil, core1_0.VKErrorUnknown, errors.New("cannot create a compute pipeline from a graphics program")
	}

	if c.computePipeline != nil {
		return c.computePipeline, core1_0.VKSuccess, nil
	}

	handle, res, err := c.dev.CreateComputePipeline(core1_0.ComputePipelineCreateInfo{
		Stage:             c.stages[0],
		Layout:            c.layout.PipelineLayout(),
		BasePipelineIndex: -1,
	})
	if err != nil {
		return nil, res, errors.Wrap(err, "could not create compute pipeline")
	}

	c.computePipeline = resource.NewAuto(DisposablePipeline{dev: c.dev, Value: handle}, nil)
	return c.computePipeline, res, nil
}

// PipelineCount is the number of pipelines built from the program
func (c *ShaderCollection) PipelineCount() int {
	count := c.graphicsPipelines.Count()
	if c.computePipeline != nil {
		count++
	}
	return count
}

// Dispose releases every pipeline built from the program. Pipelines still used by a command buffer
// are destroyed when it retires. The layout belongs to the layout cache and is left alone.
func (c *ShaderCollection) Dispose() {
	if c.disposed {
		return
	}
	c.disposed = true

	c.graphicsPipelines.Iter(func(uid PipelineUid, pipeline *resource.Auto[DisposablePipeline]) bool {
		pipeline.Dispose()
		return false
	})
	c.graphicsPipelines.Clear()

	if c.computePipeline != nil {
		c.computePipeline.Dispose()
		c.computePipeline = nil
	}
}

func (c *ShaderCollection) PrintJson(json jwriter.ObjectState) {
	json.Name("Compute").Bool(c.isCompute)
	json.Name("Stages").Int(len(c.stages))
	json.Name("Pipelines").Int(c.PipelineCount())
}
