// Package pipeline turns fixed-function draw state into cached pipeline objects and records the state
// that lives in the command buffer instead: dynamic state, vertex and index buffers and descriptors.
//
// All fixed-function state is packed into a PipelineUid, a comparable value that keys each program's
// pipeline cache. Every field is range checked as it is packed, so two states pack to the same bits
// only if they would build the same pipeline.
package pipeline

import (
	"math"

	"github.com/vkngwrapper/core/v3/core1_0"
	"golang.org/x/exp/slog"
)

const (
	MaxVertexAttributes      = 16
	MaxVertexBindings        = 16
	MaxColorAttachments      = 8
	MaxViewports             = 16
	MaxPatchControlPoints    = 32
	maxVertexAttributeOffset = 1<<16 - 1
)

// bitField locates a value inside the packed state words
type bitField struct {
	word  uint8
	shift uint8
	width uint8
	name  string
}

func (f bitField) max() uint64 {
	return uint64(1)<<f.width - 1
}

var (
	fieldTopology             = bitField{0, 0, 4, "topology"}
	fieldPrimitiveRestart     = bitField{0, 4, 1, "primitive restart"}
	fieldPolygonMode          = bitField{0, 5, 2, "polygon mode"}
	fieldCullMode             = bitField{0, 7, 2, "cull mode"}
	fieldFrontFace            = bitField{0, 9, 1, "front face"}
	fieldDepthClamp           = bitField{0, 10, 1, "depth clamp"}
	fieldRasterizerDiscard    = bitField{0, 11, 1, "rasterizer discard"}
	fieldDepthBiasEnable      = bitField{0, 12, 1, "depth bias"}
	fieldPatchControlPoints   = bitField{0, 13, 6, "patch control points"}
	fieldSamplesLog2          = bitField{0, 19, 3, "sample count"}
	fieldAlphaToCoverage      = bitField{0, 22, 1, "alpha to coverage"}
	fieldAlphaToOne           = bitField{0, 23, 1, "alpha to one"}
	fieldSampleShading        = bitField{0, 24, 1, "sample shading"}
	fieldLogicOpEnable        = bitField{0, 25, 1, "logic op enable"}
	fieldLogicOp              = bitField{0, 26, 4, "logic op"}
	fieldViewportCount        = bitField{0, 30, 5, "viewport count"}
	fieldScissorCount         = bitField{0, 35, 5, "scissor count"}
	fieldVertexAttributeCount = bitField{0, 40, 5, "vertex attribute count"}
	fieldVertexBindingCount   = bitField{0, 45, 5, "vertex binding count"}
	fieldColorAttachmentCount = bitField{0, 50, 4, "color attachment count"}
	fieldHasDepthStencil      = bitField{0, 54, 1, "depth stencil attachment"}

	fieldDepthTest        = bitField{1, 0, 1, "depth test"}
	fieldDepthWrite       = bitField{1, 1, 1, "depth write"}
	fieldDepthCompareOp   = bitField{1, 2, 3, "depth compare op"}
	fieldDepthBoundsTest  = bitField{1, 5, 1, "depth bounds test"}
	fieldStencilTest      = bitField{1, 6, 1, "stencil test"}
	fieldFrontFailOp      = bitField{1, 7, 3, "front stencil fail op"}
	fieldFrontPassOp      = bitField{1, 10, 3, "front stencil pass op"}
	fieldFrontDepthFailOp = bitField{1, 13, 3, "front stencil depth fail op"}
	fieldFrontCompareOp   = bitField{1, 16, 3, "front stencil compare op"}
	fieldBackFailOp       = bitField{1, 19, 3, "back stencil fail op"}
	fieldBackPassOp       = bitField{1, 22, 3, "back stencil pass op"}
	fieldBackDepthFailOp  = bitField{1, 25, 3, "back stencil depth fail op"}
	fieldBackCompareOp    = bitField{1, 28, 3, "back stencil compare op"}
	fieldMinSampleShading = bitField{1, 32, 32, "min sample shading"}

	fieldSampleMask     = bitField{2, 0, 32, "sample mask"}
	fieldMinDepthBounds = bitField{2, 32, 32, "min depth bounds"}
	fieldMaxDepthBounds = bitField{3, 0, 32, "max depth bounds"}
)

var (
	attributeFormat  = bitField{0, 0, 32, "vertex attribute format"}
	attributeBinding = bitField{0, 32, 5, "vertex attribute binding"}
	attributeOffset  = bitField{0, 37, 16, "vertex attribute offset"}

	bindingStride    = bitField{0, 0, 32, "vertex binding stride"}
	bindingInputRate = bitField{0, 32, 1, "vertex input rate"}

	blendEnable    = bitField{0, 0, 1, "blend enable"}
	blendSrcColor  = bitField{0, 1, 5, "source color blend factor"}
	blendDstColor  = bitField{0, 6, 5, "destination color blend factor"}
	blendColorOp   = bitField{0, 11, 3, "color blend op"}
	blendSrcAlpha  = bitField{0, 14, 5, "source alpha blend factor"}
	blendDstAlpha  = bitField{0, 19, 5, "destination alpha blend factor"}
	blendAlphaOp   = bitField{0, 24, 3, "alpha blend op"}
	blendWriteMask = bitField{0, 27, 4, "color write mask"}
)

func getBits(word uint64, f bitField) uint64 {
	return (word >> f.shift) & f.max()
}

func putBits(word uint64, f bitField, value uint64) uint64 {
	return word&^(f.max()<<f.shift) | (value&f.max())<<f.shift
}

// PipelineUid is the packed fixed-function state of a pipeline. It is comparable, and equal values
// always build interchangeable pipelines for the same program.
type PipelineUid struct {
	Words              [4]uint64
	VertexAttributes   [MaxVertexAttributes]uint64
	VertexBindings     [MaxVertexBindings]uint64
	ColorBlend         [MaxColorAttachments]uint64
	ColorFormats       [MaxColorAttachments]core1_0.Format
	DepthStencilFormat core1_0.Format
}

func (u *PipelineUid) get(f bitField) uint64 {
	return getBits(u.Words[f.word], f)
}

func (u *PipelineUid) put(f bitField, value uint64) {
	u.Words[f.word] = putBits(u.Words[f.word], f, value)
}

func boolBits(value bool) uint64 {
	if value {
		return 1
	}
	return 0
}

// VertexAttribute is the input of one shader location
type VertexAttribute struct {
	Binding int
	Format  core1_0.Format
	Offset  int
}

// VertexBinding describes one bound vertex buffer
type VertexBinding struct {
	Stride    int
	InputRate core1_0.VertexInputRate
}

// ColorBlend is the blend state of one color attachment
type ColorBlend struct {
	Enable    bool
	SrcColor  core1_0.BlendFactor
	DstColor  core1_0.BlendFactor
	ColorOp   core1_0.BlendOp
	SrcAlpha  core1_0.BlendFactor
	DstAlpha  core1_0.BlendFactor
	AlphaOp   core1_0.BlendOp
	WriteMask core1_0.ColorComponentFlags
}

// DepthTest is the depth test state
type DepthTest struct {
	TestEnable  bool
	WriteEnable bool
	CompareOp   core1_0.CompareOp
}

// StencilFace is the fixed part of the stencil state of one face. Masks and references are dynamic.
type StencilFace struct {
	FailOp      core1_0.StencilOp
	PassOp      core1_0.StencilOp
	DepthFailOp core1_0.StencilOp
	CompareOp   core1_0.CompareOp
}

// PipelineState builds a PipelineUid. Values that do not fit their packed field are logged and
// replaced with the field's default.
type PipelineState struct {
	logger *slog.Logger
	uid    PipelineUid
}

// NewPipelineState returns the default state: a triangle list with one viewport and scissor, no
// culling, single sampled, every color channel written.
// defaultColorBlend disables blending and writes every component
var defaultColorBlend = putBits(0, blendWriteMask, uint64(colorComponentAll))

func NewPipelineState(logger *slog.Logger) *PipelineState {
	s := &PipelineState{logger: logger}
	s.uid.put(fieldTopology, uint64(core1_0.PrimitiveTopologyTriangleList))
	s.uid.put(fieldDepthCompareOp, uint64(core1_0.CompareOpAlways))
	s.uid.put(fieldViewportCount, 1)
	s.uid.put(fieldScissorCount, 1)
	s.uid.put(fieldSampleMask, math.MaxUint32)
	s.uid.put(fieldMinSampleShading, uint64(math.Float32bits(1)))
	s.uid.put(fieldMaxDepthBounds, uint64(math.Float32bits(1)))
	for i := range s.uid.ColorBlend {
		s.uid.ColorBlend[i] = defaultColorBlend
	}
	return s
}

const colorComponentAll = core1_0.ColorComponentRed | core1_0.ColorComponentGreen |
	core1_0.ColorComponentBlue | core1_0.ColorComponentAlpha

// Uid returns the packed state
func (s *PipelineState) Uid() PipelineUid {
	return s.uid
}

// checked returns value if it fits f, or def after logging
func (s *PipelineState) checked(f bitField, value int, def uint64) uint64 {
	if value < 0 || uint64(value) > f.max() {
		s.logger.Warn("PipelineState value out of range, using default",
			slog.String("field", f.name),
			slog.Int("value", value),
			slog.Uint64("default", def),
		)
		return def
	}
	return uint64(value)
}

func (s *PipelineState) set(f bitField, value int, def uint64) {
	s.uid.put(f, s.checked(f, value, def))
}

func (s *PipelineState) setBool(f bitField, value bool) {
	s.uid.put(f, boolBits(value))
}

func (s *PipelineState) setFloat(f bitField, value float32) {
	s.uid.put(f, uint64(math.Float32bits(value)))
}

func (s *PipelineState) SetTopology(topology core1_0.PrimitiveTopology) {
	s.set(fieldTopology, int(topology), uint64(core1_0.PrimitiveTopologyTriangleList))
}

func (s *PipelineState) Topology() core1_0.PrimitiveTopology {
	return core1_0.PrimitiveTopology(s.uid.get(fieldTopology))
}

func (s *PipelineState) SetPrimitiveRestart(enable bool) {
	s.setBool(fieldPrimitiveRestart, enable)
}

func (s *PipelineState) SetPolygonMode(mode core1_0.PolygonMode) {
	s.set(fieldPolygonMode, int(mode), uint64(core1_0.PolygonModeFill))
}

func (s *PipelineState) SetCullMode(mode core1_0.CullModeFlags) {
	s.set(fieldCullMode, int(mode), 0)
}

func (s *PipelineState) SetFrontFace(face core1_0.FrontFace) {
	s.set(fieldFrontFace, int(face), uint64(core1_0.FrontFaceCounterClockwise))
}

func (s *PipelineState) SetDepthClamp(enable bool) {
	s.setBool(fieldDepthClamp, enable)
}

func (s *PipelineState) SetRasterizerDiscard(enable bool) {
	s.setBool(fieldRasterizerDiscard, enable)
}

func (s *PipelineState) SetDepthBiasEnable(enable bool) {
	s.setBool(fieldDepthBiasEnable, enable)
}

func (s *PipelineState) SetPatchControlPoints(points int) {
	if points > MaxPatchControlPoints {
		points = -1
	}
	s.set(fieldPatchControlPoints, points, 0)
}

// SetSamples sets the rasterization sample count, which must be a power of two no larger than 64
func (s *PipelineState) SetSamples(samples core1_0.SampleCountFlags) {
	log2 := -1
	for i := 0; i <= 6; i++ {
		if int(samples) == 1<<i {
			log2 = i
			break
		}
	}
	s.set(fieldSamplesLog2, log2, 0)
}

func (s *PipelineState) Samples() core1_0.SampleCountFlags {
	return core1_0.SampleCountFlags(1 << s.uid.get(fieldSamplesLog2))
}

func (s *PipelineState) SetAlphaToCoverage(enable bool) {
	s.setBool(fieldAlphaToCoverage, enable)
}

func (s *PipelineState) SetAlphaToOne(enable bool) {
	s.setBool(fieldAlphaToOne, enable)
}

// SetSampleShading enables per-sample shading when minSampleShading is above zero
func (s *PipelineState) SetSampleShading(minSampleShading float32) {
	s.setBool(fieldSampleShading, minSampleShading > 0)
	if minSampleShading <= 0 {
		minSampleShading = 1
	}
	s.setFloat(fieldMinSampleShading, minSampleShading)
}

func (s *PipelineState) SetSampleMask(mask uint32) {
	s.uid.put(fieldSampleMask, uint64(mask))
}

func (s *PipelineState) SetLogicOp(enable bool, op core1_0.LogicOp) {
	s.setBool(fieldLogicOpEnable, enable)
	if !enable {
		op = core1_0.LogicOpCopy
	}
	s.set(fieldLogicOp, int(op), uint64(core1_0.LogicOpCopy))
}

func (s *PipelineState) SetViewportCount(count int) {
	if count > MaxViewports {
		count = -1
	}
	s.set(fieldViewportCount, count, 1)
}

func (s *PipelineState) ViewportCount() int {
	return int(s.uid.get(fieldViewportCount))
}

func (s *PipelineState) SetScissorCount(count int) {
	if count > MaxViewports {
		count = -1
	}
	s.set(fieldScissorCount, count, 1)
}

func (s *PipelineState) ScissorCount() int {
	return int(s.uid.get(fieldScissorCount))
}

// SetVertexAttributes replaces every vertex attribute. Attribute i feeds shader location i.
func (s *PipelineState) SetVertexAttributes(attributes []VertexAttribute) {
	count := len(attributes)
	if count > MaxVertexAttributes {
		s.logger.Warn("PipelineState::SetVertexAttributes dropping attributes", slog.Int("count", count))
		count = MaxVertexAttributes
	}

	for i := range s.uid.VertexAttributes {
		if i >= count {
			s.uid.VertexAttributes[i] = 0
			continue
		}

		attribute := attributes[i]
		binding := attribute.Binding
		if binding >= MaxVertexBindings {
			binding = -1
		}
		offset := attribute.Offset
		if offset > maxVertexAttributeOffset {
			offset = -1
		}

		var word uint64
		word = putBits(word, attributeFormat, s.checked(attributeFormat, int(attribute.Format), 0))
		word = putBits(word, attributeBinding, s.checked(attributeBinding, binding, 0))
		word = putBits(word, attributeOffset, s.checked(attributeOffset, offset, 0))
		s.uid.VertexAttributes[i] = word
	}
	s.uid.put(fieldVertexAttributeCount, uint64(count))
}

// SetVertexBindings replaces every vertex buffer binding description
func (s *PipelineState) SetVertexBindings(bindings []VertexBinding) {
	count := len(bindings)
	if count > MaxVertexBindings {
		s.logger.Warn("PipelineState::SetVertexBindings dropping bindings", slog.Int("count", count))
		count = MaxVertexBindings
	}

	for i := range s.uid.VertexBindings {
		if i >= count {
			s.uid.VertexBindings[i] = 0
			continue
		}
		s.uid.VertexBindings[i] = s.packBinding(bindings[i])
	}
	s.uid.put(fieldVertexBindingCount, uint64(count))
}

// SetVertexBindingStride changes the stride of one existing binding
func (s *PipelineState) SetVertexBindingStride(index, stride int) {
	if index < 0 || index >= s.VertexBindingCount() {
		return
	}

	binding := s.VertexBinding(index)
	binding.Stride = stride
	s.uid.VertexBindings[index] = s.packBinding(binding)
}

func (s *PipelineState) packBinding(binding VertexBinding) uint64 {
	var word uint64
	word = putBits(word, bindingStride, s.checked(bindingStride, binding.Stride, 0))
	word = putBits(word, bindingInputRate, s.checked(bindingInputRate, int(binding.InputRate), 0))
	return word
}

func (s *PipelineState) VertexBindingCount() int {
	return int(s.uid.get(fieldVertexBindingCount))
}

func (s *PipelineState) VertexBinding(index int) VertexBinding {
	word := s.uid.VertexBindings[index]
	return VertexBinding{
		Stride:    int(getBits(word, bindingStride)),
		InputRate: core1_0.VertexInputRate(getBits(word, bindingInputRate)),
	}
}

func (s *PipelineState) SetColorBlend(index int, blend ColorBlend) {
	if index < 0 || index >= MaxColorAttachments {
		s.logger.Warn("PipelineState::SetColorBlend attachment out of range", slog.Int("index", index))
		return
	}

	var word uint64
	word = putBits(word, blendEnable, boolBits(blend.Enable))
	word = putBits(word, blendSrcColor, s.checked(blendSrcColor, int(blend.SrcColor), uint64(core1_0.BlendFactorOne)))
	word = putBits(word, blendDstColor, s.checked(blendDstColor, int(blend.DstColor), uint64(core1_0.BlendFactorZero)))
	word = putBits(word, blendColorOp, s.checked(blendColorOp, int(blend.ColorOp), uint64(core1_0.BlendOpAdd)))
	word = putBits(word, blendSrcAlpha, s.checked(blendSrcAlpha, int(blend.SrcAlpha), uint64(core1_0.BlendFactorOne)))
	word = putBits(word, blendDstAlpha, s.checked(blendDstAlpha, int(blend.DstAlpha), uint64(core1_0.BlendFactorZero)))
	word = putBits(word, blendAlphaOp, s.checked(blendAlphaOp, int(blend.AlphaOp), uint64(core1_0.BlendOpAdd)))
	word = putBits(word, blendWriteMask, s.checked(blendWriteMask, int(blend.WriteMask), uint64(colorComponentAll)))
	s.uid.ColorBlend[index] = word
}

// SetAttachmentFormats sets the formats of the render pass the pipeline draws into. A zero depth
// format means there is no depth stencil attachment.
func (s *PipelineState) SetAttachmentFormats(colors []core1_0.Format, depthStencil core1_0.Format) {
	count := len(colors)
	if count > MaxColorAttachments {
		s.logger.Warn("PipelineState::SetAttachmentFormats dropping color attachments", slog.Int("count", count))
		count = MaxColorAttachments
	}

	for i := range s.uid.ColorFormats {
		if i < count {
			s.uid.ColorFormats[i] = colors[i]
		} else {
			s.uid.ColorFormats[i] = 0
			s.uid.ColorBlend[i] = defaultColorBlend
		}
	}
	s.uid.DepthStencilFormat = depthStencil
	s.uid.put(fieldColorAttachmentCount, uint64(count))
	s.setBool(fieldHasDepthStencil, depthStencil != 0)
}

func (s *PipelineState) ColorAttachmentCount() int {
	return int(s.uid.get(fieldColorAttachmentCount))
}

func (s *PipelineState) SetDepthTest(test DepthTest) {
	s.setBool(fieldDepthTest, test.TestEnable)
	s.setBool(fieldDepthWrite, test.WriteEnable)
	s.set(fieldDepthCompareOp, int(test.CompareOp), uint64(core1_0.CompareOpAlways))
}

func (s *PipelineState) SetDepthBounds(enable bool, min, max float32) {
	s.setBool(fieldDepthBoundsTest, enable)
	if !enable {
		min, max = 0, 1
	}
	s.setFloat(fieldMinDepthBounds, min)
	s.setFloat(fieldMaxDepthBounds, max)
}

func (s *PipelineState) SetStencilTest(enable bool, front, back StencilFace) {
	s.setBool(fieldStencilTest, enable)
	s.set(fieldFrontFailOp, int(front.FailOp), uint64(core1_0.StencilKeep))
	s.set(fieldFrontPassOp, int(front.PassOp), uint64(core1_0.StencilKeep))
	s.set(fieldFrontDepthFailOp, int(front.DepthFailOp), uint64(core1_0.StencilKeep))
	s.set(fieldFrontCompareOp, int(front.CompareOp), uint64(core1_0.CompareOpAlways))
	s.set(fieldBackFailOp, int(back.FailOp), uint64(core1_0.StencilKeep))
	s.set(fieldBackPassOp, int(back.PassOp), uint64(core1_0.StencilKeep))
	s.set(fieldBackDepthFailOp, int(back.DepthFailOp), uint64(core1_0.StencilKeep))
	s.set(fieldBackCompareOp, int(back.CompareOp), uint64(core1_0.CompareOpAlways))
}
