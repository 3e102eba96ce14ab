package pipeline

import (
	"strings"

	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/vkgal/device"
)

type DynamicStateFlags uint32

const (
	DynamicDepthBias DynamicStateFlags = 1 << iota
	DynamicStencil
	DynamicBlendConstants
	DynamicLineWidth
	DynamicViewport
	DynamicScissor

	DynamicAll = DynamicDepthBias | DynamicStencil | DynamicBlendConstants | DynamicLineWidth | DynamicViewport | DynamicScissor
)

var dynamicStateMapping = []struct {
	flag DynamicStateFlags
	name string
}{
	{DynamicDepthBias, "DepthBias"},
	{DynamicStencil, "Stencil"},
	{DynamicBlendConstants, "BlendConstants"},
	{DynamicLineWidth, "LineWidth"},
	{DynamicViewport, "Viewport"},
	{DynamicScissor, "Scissor"},
}

func (f DynamicStateFlags) String() string {
	var names []string
	for _, entry := range dynamicStateMapping {
		if f&entry.flag != 0 {
			names = append(names, entry.name)
		}
	}
	if len(names) == 0 {
		return "None"
	}
	return strings.Join(names, "|")
}

// StencilDynamic is the part of one face's stencil state recorded into the command buffer
type StencilDynamic struct {
	CompareMask uint32
	WriteMask   uint32
	Reference   uint32
}

// DynamicState is the state every pipeline takes from the command buffer. It only records what
// changed since the last replay, and everything after the command buffer changes.
type DynamicState struct {
	depthBiasConstant float32
	depthBiasClamp    float32
	depthBiasSlope    float32

	front StencilDynamic
	back  StencilDynamic

	blendConstants [4]float32
	lineWidth      float32

	viewports []core1_0.Viewport
	scissors  []core1_0.Rect2D

	dirty DynamicStateFlags
}

func NewDynamicState() *DynamicState {
	return &DynamicState{
		lineWidth: 1,
		front:     StencilDynamic{CompareMask: 0xff, WriteMask: 0xff},
		back:      StencilDynamic{CompareMask: 0xff, WriteMask: 0xff},
		dirty:     DynamicAll,
	}
}

func (s *DynamicState) SetDepthBias(constant, clamp, slope float32) {
	s.depthBiasConstant = constant
	s.depthBiasClamp = clamp
	s.depthBiasSlope = slope
	s.dirty |= DynamicDepthBias
}

func (s *DynamicState) SetStencil(front, back StencilDynamic) {
	s.front = front
	s.back = back
	s.dirty |= DynamicStencil
}

func (s *DynamicState) SetBlendConstants(constants [4]float32) {
	s.blendConstants = constants
	s.dirty |= DynamicBlendConstants
}

func (s *DynamicState) SetLineWidth(width float32) {
	s.lineWidth = width
	s.dirty |= DynamicLineWidth
}

func (s *DynamicState) SetViewports(viewports []core1_0.Viewport) {
	s.viewports = append(s.viewports[:0], viewports...)
	s.dirty |= DynamicViewport
}

func (s *DynamicState) SetScissors(scissors []core1_0.Rect2D) {
	s.scissors = append(s.scissors[:0], scissors...)
	s.dirty |= DynamicScissor
}

func (s *DynamicState) Dirty() DynamicStateFlags {
	return s.dirty
}

// ForceAllDirty schedules every state for the next replay
func (s *DynamicState) ForceAllDirty() {
	s.dirty = DynamicAll
}

// ReplayIfDirty records every state changed since the last replay
func (s *DynamicState) ReplayIfDirty(cb device.CommandBuffer) {
	if s.dirty&DynamicDepthBias != 0 {
		cb.CmdSetDepthBias(s.depthBiasConstant, s.depthBiasClamp, s.depthBiasSlope)
	}

	if s.dirty&DynamicStencil != 0 {
		s.recordStencil(cb)
	}

	if s.dirty&DynamicBlendConstants != 0 {
		cb.CmdSetBlendConstants(s.blendConstants)
	}

	if s.dirty&DynamicLineWidth != 0 {
		cb.CmdSetLineWidth(s.lineWidth)
	}

	if s.dirty&DynamicViewport != 0 && len(s.viewports) > 0 {
		cb.CmdSetViewport(s.viewports)
	}

	if s.dirty&DynamicScissor != 0 && len(s.scissors) > 0 {
		cb.CmdSetScissor(s.scissors)
	}

	s.dirty = 0
}

func (s *DynamicState) recordStencil(cb device.CommandBuffer) {
	if s.front == s.back {
		both := core1_0.StencilFaceFront | core1_0.StencilFaceBack
		cb.CmdSetStencilCompareMask(both, s.front.CompareMask)
		cb.CmdSetStencilWriteMask(both, s.front.WriteMask)
		cb.CmdSetStencilReference(both, s.front.Reference)
		return
	}

	cb.CmdSetStencilCompareMask(core1_0.StencilFaceFront, s.front.CompareMask)
	cb.CmdSetStencilWriteMask(core1_0.StencilFaceFront, s.front.WriteMask)
	cb.CmdSetStencilReference(core1_0.StencilFaceFront, s.front.Reference)
	cb.CmdSetStencilCompareMask(core1_0.StencilFaceBack, s.back.CompareMask)
	cb.CmdSetStencilWriteMask(core1_0.StencilFaceBack, s.back.WriteMask)
	cb.CmdSetStencilReference(core1_0.StencilFaceBack, s.back.Reference)
}
