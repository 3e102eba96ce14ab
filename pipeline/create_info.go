package pipeline

import (
	"math"

	"github.com/vkngwrapper/core/v3/core1_0"
)

// dynamicStates are recorded into the command buffer instead of being baked into pipelines
var dynamicStates = []core1_0.DynamicState{
	core1_0.DynamicStateViewport,
	core1_0.DynamicStateScissor,
	core1_0.DynamicStateDepthBias,
	core1_0.DynamicStateBlendConstants,
	core1_0.DynamicStateLineWidth,
	core1_0.DynamicStateStencilCompareMask,
	core1_0.DynamicStateStencilWriteMask,
	core1_0.DynamicStateStencilReference,
}

func (u *PipelineUid) getBool(f bitField) bool {
	return u.get(f) != 0
}

func (u *PipelineUid) getFloat(f bitField) float32 {
	return math.Float32frombits(uint32(u.get(f)))
}

func (u *PipelineUid) stencilFace(fail, pass, depthFail, compare bitField) core1_0.StencilOpState {
	return core1_0.StencilOpState{
		FailOp:      core1_0.StencilOp(u.get(fail)),
		PassOp:      core1_0.StencilOp(u.get(pass)),
		DepthFailOp: core1_0.StencilOp(u.get(depthFail)),
		CompareOp:   core1_0.CompareOp(u.get(compare)),
	}
}

// graphicsCreateInfo assembles the create info described by the packed bits. Nothing outside the
// uid contributes to fixed-function state.
func (u PipelineUid) graphicsCreateInfo(stages []core1_0.PipelineShaderStageCreateInfo, layout core1_0.PipelineLayout, renderPass core1_0.RenderPass) core1_0.GraphicsPipelineCreateInfo {
	vertexInput := &core1_0.PipelineVertexInputStateCreateInfo{}
	for i := 0; i < int(u.get(fieldVertexBindingCount)); i++ {
		word := u.VertexBindings[i]
		vertexInput.VertexBindingDescriptions = append(vertexInput.VertexBindingDescriptions, core1_0.VertexInputBindingDescription{
			Binding:   i,
			Stride:    int(getBits(word, bindingStride)),
			InputRate: core1_0.VertexInputRate(getBits(word, bindingInputRate)),
		})
	}
	for i := 0; i < int(u.get(fieldVertexAttributeCount)); i++ {
		word := u.VertexAttributes[i]
		vertexInput.VertexAttributeDescriptions = append(vertexInput.VertexAttributeDescriptions, core1_0.VertexInputAttributeDescription{
			Location: uint32(i),
			Binding:  int(getBits(word, attributeBinding)),
			Format:   core1_0.Format(getBits(word, attributeFormat)),
			Offset:   int(getBits(word, attributeOffset)),
		})
	}

	topology := core1_0.PrimitiveTopology(u.get(fieldTopology))
	info := core1_0.GraphicsPipelineCreateInfo{
		Stages:           stages,
		VertexInputState: vertexInput,
		InputAssemblyState: &core1_0.PipelineInputAssemblyStateCreateInfo{
			Topology:               topology,
			PrimitiveRestartEnable: u.getBool(fieldPrimitiveRestart),
		},
		ViewportState: &core1_0.PipelineViewportStateCreateInfo{
			Viewports: make([]core1_0.Viewport, u.get(fieldViewportCount)),
			Scissors:  make([]core1_0.Rect2D, u.get(fieldScissorCount)),
		},
		RasterizationState: &core1_0.PipelineRasterizationStateCreateInfo{
			DepthClampEnable:        u.getBool(fieldDepthClamp),
			RasterizerDiscardEnable: u.getBool(fieldRasterizerDiscard),
			PolygonMode:             core1_0.PolygonMode(u.get(fieldPolygonMode)),
			CullMode:                core1_0.CullModeFlags(u.get(fieldCullMode)),
			FrontFace:               core1_0.FrontFace(u.get(fieldFrontFace)),
			DepthBiasEnable:         u.getBool(fieldDepthBiasEnable),
			LineWidth:               1,
		},
		MultisampleState: &core1_0.PipelineMultisampleStateCreateInfo{
			RasterizationSamples:  core1_0.SampleCountFlags(1 << u.get(fieldSamplesLog2)),
			SampleShadingEnable:   u.getBool(fieldSampleShading),
			MinSampleShading:      u.getFloat(fieldMinSampleShading),
			SampleMask:            []uint32{uint32(u.get(fieldSampleMask))},
			AlphaToCoverageEnable: u.getBool(fieldAlphaToCoverage),
			AlphaToOneEnable:      u.getBool(fieldAlphaToOne),
		},
		DepthStencilState: &core1_0.PipelineDepthStencilStateCreateInfo{
			DepthTestEnable:       u.getBool(fieldDepthTest),
			DepthWriteEnable:      u.getBool(fieldDepthWrite),
			DepthCompareOp:        core1_0.CompareOp(u.get(fieldDepthCompareOp)),
			DepthBoundsTestEnable: u.getBool(fieldDepthBoundsTest),
			StencilTestEnable:     u.getBool(fieldStencilTest),
			Front:                 u.stencilFace(fieldFrontFailOp, fieldFrontPassOp, fieldFrontDepthFailOp, fieldFrontCompareOp),
			Back:                  u.stencilFace(fieldBackFailOp, fieldBackPassOp, fieldBackDepthFailOp, fieldBackCompareOp),
			MinDepthBounds:        u.getFloat(fieldMinDepthBounds),
			MaxDepthBounds:        u.getFloat(fieldMaxDepthBounds),
		},
		ColorBlendState: &core1_0.PipelineColorBlendStateCreateInfo{
			LogicOpEnabled: u.getBool(fieldLogicOpEnable),
			LogicOp:        core1_0.LogicOp(u.get(fieldLogicOp)),
		},
		DynamicState: &core1_0.PipelineDynamicStateCreateInfo{
			DynamicStates: dynamicStates,
		},
		Layout:            layout,
		RenderPass:        renderPass,
		Subpass:           0,
		BasePipelineIndex: -1,
	}

	if topology == core1_0.PrimitiveTopologyPatchList {
		info.TessellationState = &core1_0.PipelineTessellationStateCreateInfo{
			PatchControlPoints: int(u.get(fieldPatchControlPoints)),
		}
	}

	for i := 0; i < int(u.get(fieldColorAttachmentCount)); i++ {
		word := u.ColorBlend[i]
		info.ColorBlendState.Attachments = append(info.ColorBlendState.Attachments, core1_0.PipelineColorBlendAttachmentState{
			BlendEnabled:        getBits(word, blendEnable) != 0,
			SrcColorBlendFactor: core1_0.BlendFactor(getBits(word, blendSrcColor)),
			DstColorBlendFactor: core1_0.BlendFactor(getBits(word, blendDstColor)),
			ColorBlendOp:        core1_0.BlendOp(getBits(word, blendColorOp)),
			SrcAlphaBlendFactor: core1_0.BlendFactor(getBits(word, blendSrcAlpha)),
			DstAlphaBlendFactor: core1_0.BlendFactor(getBits(word, blendDstAlpha)),
			AlphaBlendOp:        core1_0.BlendOp(getBits(word, blendAlphaOp)),
			ColorWriteMask:      core1_0.ColorComponentFlags(getBits(word, blendWriteMask)),
		})
	}

	return info
}
