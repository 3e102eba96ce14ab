package pipeline

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/vkgal/buffer"
	"github.com/vkngwrapper/vkgal/descriptor"
	"github.com/vkngwrapper/vkgal/device"
	"github.com/vkngwrapper/vkgal/internal/bitmap"
	"github.com/vkngwrapper/vkgal/memutils"
	"github.com/vkngwrapper/vkgal/resource"
	"github.com/vkngwrapper/vkgal/texture"
	"golang.org/x/exp/slog"
)

// IndexType is the size of one index in an index buffer
type IndexType int

const (
	IndexTypeU8 IndexType = iota
	IndexTypeU16
	IndexTypeU32
)

var indexTypeMapping = map[IndexType]string{
	IndexTypeU8:  "U8",
	IndexTypeU16: "U16",
	IndexTypeU32: "U32",
}

func (t IndexType) String() string {
	return indexTypeMapping[t]
}

// VertexBuffer is a vertex buffer binding. A negative Size extends it to the end of the buffer.
type VertexBuffer struct {
	Holder    *buffer.BufferHolder
	Offset    int
	Size      int
	Stride    int
	InputRate core1_0.VertexInputRate
}

// IndexBuffer is the index buffer binding. A negative Size extends it to the end of the buffer.
type IndexBuffer struct {
	Holder *buffer.BufferHolder
	Offset int
	Size   int
	Type   IndexType
}

// Options configures a pipeline
type Options struct {
	// VertexStrideAlignment re-strides vertex buffers whose stride is not a multiple of it. Zero leaves
	// every stride alone.
	VertexStrideAlignment int
}

// PipelineBase tracks the draw state of the command buffer being recorded. State setters only mark
// what changed; the next draw or dispatch binds a pipeline once for every change made since the
// previous one, replays dynamic state and rebinds whatever buffers and descriptors changed.
type PipelineBase struct {
	logger  *slog.Logger
	dev     device.Device
	flusher buffer.Flusher
	options Options

	cbs  resource.CommandBufferScoped
	rent func() (resource.CommandBufferScoped, common.VkResult, error)

	state      *PipelineState
	dynamic    *DynamicState
	updater    *descriptor.DescriptorSetUpdater
	program    *ShaderCollection
	renderPass core1_0.RenderPass

	framebuffer      core1_0.Framebuffer
	renderArea       core1_0.Rect2D
	clearValues      []core1_0.ClearValue
	renderPassActive bool
	renderPasses     int

	stateDirty      bool
	currentGraphics *resource.Auto[DisposablePipeline]
	currentCompute  *resource.Auto[DisposablePipeline]

	vertexBuffers      [MaxVertexBindings]VertexBuffer
	vertexBufferCount  int
	vertexBuffersDirty bitmap.Word
	vertexResolved     [MaxVertexBindings]boundBuffer
	indexBuffer        IndexBuffer
	indexBufferDirty   bool
	indexResolved      boundBuffer
	indexResolvedType  core1_0.IndexType

	pipelineBinds int
	draws         int
}

func newPipelineBase(logger *slog.Logger, dev device.Device, updater *descriptor.DescriptorSetUpdater, options Options) (*PipelineBase, error) {
	if options.VertexStrideAlignment != 0 {
		if err := memutils.CheckPow2(options.VertexStrideAlignment, "vertex stride alignment"); err != nil {
			return nil, err
		}
	}

	return &PipelineBase{
		logger:     logger,
		dev:        dev,
		options:    options,
		state:      NewPipelineState(logger),
		dynamic:    NewDynamicState(),
		updater:    updater,
		stateDirty: true,
	}, nil
}

func (p *PipelineBase) State() *PipelineState {
	return p.state
}

func (p *PipelineBase) DynamicState() *DynamicState {
	return p.dynamic
}

func (p *PipelineBase) Updater() *descriptor.DescriptorSetUpdater {
	return p.updater
}

// CommandBuffer is the command buffer being recorded. It is invalid if renting a replacement failed
// during the last flush.
func (p *PipelineBase) CommandBuffer() resource.CommandBufferScoped {
	return p.cbs
}

// TransferCommandBuffer returns the recording command buffer for copies and barriers. The render
// pass is ended first, and a command buffer is rented if the last flush could not rent one.
func (p *PipelineBase) TransferCommandBuffer() (resource.CommandBufferScoped, common.VkResult, error) {
	res, err := p.ensureCommandBuffer()
	if err != nil {
		return resource.CommandBufferScoped{}, res, err
	}

	p.EndRenderPass()
	return p.cbs, res, nil
}

func (p *PipelineBase) ensureCommandBuffer() (common.VkResult, error) {
	if p.cbs.Valid() {
		return core1_0.VKSuccess, nil
	}
	if p.rent == nil {
		return core1_0.VKErrorUnknown, errors.New("the pipeline has no command buffer")
	}

	cbs, res, err := p.rent()
	if err != nil {
		return res, errors.Wrap(err, "could not rent a command buffer")
	}

	p.cbs = cbs
	p.SignalCommandBufferChange()
	return res, nil
}

// RenderPassActive reports whether a render pass instance is open on the recording command buffer
func (p *PipelineBase) RenderPassActive() bool {
	return p.renderPassActive
}

// RenderPasses is the number of render pass instances begun
func (p *PipelineBase) RenderPasses() int {
	return p.renderPasses
}

// PipelineBinds is the number of pipeline binds recorded
func (p *PipelineBase) PipelineBinds() int {
	return p.pipelineBinds
}

func (p *PipelineBase) Draws() int {
	return p.draws
}

func (p *PipelineBase) SignalStateChange() {
	p.stateDirty = true
}

func (p *PipelineBase) SetProgram(program *ShaderCollection) {
	if p.program == program {
		return
	}

	p.program = program
	if program != nil {
		p.updater.SetProgram(program.Layout())
	}
	p.SignalStateChange()
}

func (p *PipelineBase) Program() *ShaderCollection {
	return p.program
}

// SetRenderPass selects the render pass later pipelines are built against, along with the formats of
// its attachments. A zero depth format means the pass has no depth stencil attachment.
func (p *PipelineBase) SetRenderPass(renderPass core1_0.RenderPass, samples core1_0.SampleCountFlags, colorFormats []core1_0.Format, depthStencilFormat core1_0.Format) {
	p.EndRenderPass()
	p.renderPass = renderPass
	p.state.SetAttachmentFormats(colorFormats, depthStencilFormat)
	p.state.SetSamples(samples)
	p.SignalStateChange()
}

// SetFramebuffer selects the attachments and render area of the render pass instances begun for
// later draws. Clear values are supplied to every instance, including the ones begun again after a
// flush or a transfer interrupted the previous one.
func (p *PipelineBase) SetFramebuffer(framebuffer core1_0.Framebuffer, renderArea core1_0.Rect2D, clearValues []core1_0.ClearValue) {
	p.EndRenderPass()
	p.framebuffer = framebuffer
	p.renderArea = renderArea
	p.clearValues = append(p.clearValues[:0], clearValues...)
}

func (p *PipelineBase) beginRenderPassIfNeeded() error {
	if p.renderPassActive {
		return nil
	}

	err := p.cbs.CommandBuffer.CmdBeginRenderPass(core1_0.RenderPassBeginInfo{
		RenderPass:  p.renderPass,
		Framebuffer: p.framebuffer,
		RenderArea:  p.renderArea,
		ClearValues: p.clearValues,
	})
	if err != nil {
		return errors.Wrap(err, "could not begin render pass")
	}

	p.renderPassActive = true
	p.renderPasses++
	return nil
}

// EndRenderPass closes the open render pass instance, if any. Draws begin a new one.
func (p *PipelineBase) EndRenderPass() {
	if !p.renderPassActive {
		return
	}

	p.cbs.CommandBuffer.CmdEndRenderPass()
	p.renderPassActive = false
}

func (p *PipelineBase) SetPrimitiveTopology(topology core1_0.PrimitiveTopology) {
	p.state.SetTopology(topology)
	p.SignalStateChange()
}

func (p *PipelineBase) SetPrimitiveRestart(enable bool) {
	p.state.SetPrimitiveRestart(enable)
	p.SignalStateChange()
}

func (p *PipelineBase) SetPatchParameters(controlPoints int) {
	p.state.SetPatchControlPoints(controlPoints)
	p.SignalStateChange()
}

// SetRasterizerState sets the fixed rasterizer state
func (p *PipelineBase) SetRasterizerState(polygonMode core1_0.PolygonMode, cullMode core1_0.CullModeFlags, frontFace core1_0.FrontFace, depthClamp, discard bool) {
	p.state.SetPolygonMode(polygonMode)
	p.state.SetCullMode(cullMode)
	p.state.SetFrontFace(frontFace)
	p.state.SetDepthClamp(depthClamp)
	p.state.SetRasterizerDiscard(discard)
	p.SignalStateChange()
}

func (p *PipelineBase) SetMultisampleState(minSampleShading float32, sampleMask uint32, alphaToCoverage, alphaToOne bool) {
	p.state.SetSampleShading(minSampleShading)
	p.state.SetSampleMask(sampleMask)
	p.state.SetAlphaToCoverage(alphaToCoverage)
	p.state.SetAlphaToOne(alphaToOne)
	p.SignalStateChange()
}

func (p *PipelineBase) SetLogicOpState(enable bool, op core1_0.LogicOp) {
	p.state.SetLogicOp(enable, op)
	p.SignalStateChange()
}

func (p *PipelineBase) SetBlendState(index int, blend ColorBlend) {
	p.state.SetColorBlend(index, blend)
	p.SignalStateChange()
}

func (p *PipelineBase) SetBlendConstants(constants [4]float32) {
	p.dynamic.SetBlendConstants(constants)
}

func (p *PipelineBase) SetDepthTest(test DepthTest) {
	p.state.SetDepthTest(test)
	p.SignalStateChange()
}

func (p *PipelineBase) SetDepthBounds(enable bool, min, max float32) {
	p.state.SetDepthBounds(enable, min, max)
	p.SignalStateChange()
}

// SetDepthBias enables depth bias and sets its factors. The enable is pipeline state; the factors are
// recorded into the command buffer.
func (p *PipelineBase) SetDepthBias(enable bool, constant, clamp, slope float32) {
	p.state.SetDepthBiasEnable(enable)
	p.dynamic.SetDepthBias(constant, clamp, slope)
	p.SignalStateChange()
}

func (p *PipelineBase) SetStencilTest(enable bool, front, back StencilFace, frontDynamic, backDynamic StencilDynamic) {
	p.state.SetStencilTest(enable, front, back)
	p.dynamic.SetStencil(frontDynamic, backDynamic)
	p.SignalStateChange()
}

func (p *PipelineBase) SetLineWidth(width float32) {
	p.dynamic.SetLineWidth(width)
}

// SetViewports changes the viewports. The pipeline only changes if the count does.
func (p *PipelineBase) SetViewports(viewports []core1_0.Viewport) {
	p.dynamic.SetViewports(viewports)
	if p.state.ViewportCount() != len(viewports) {
		p.state.SetViewportCount(len(viewports))
		p.SignalStateChange()
	}
}

// SetScissors changes the scissor rectangles. The pipeline only changes if the count does.
func (p *PipelineBase) SetScissors(scissors []core1_0.Rect2D) {
	p.dynamic.SetScissors(scissors)
	if p.state.ScissorCount() != len(scissors) {
		p.state.SetScissorCount(len(scissors))
		p.SignalStateChange()
	}
}

func (p *PipelineBase) SetVertexAttribs(attributes []VertexAttribute) {
	p.state.SetVertexAttributes(attributes)
	p.SignalStateChange()
}

// SetVertexBuffers replaces every vertex buffer binding. Strides and input rates are pipeline state.
func (p *PipelineBase) SetVertexBuffers(buffers []VertexBuffer) {
	count := len(buffers)
	if count > MaxVertexBindings {
		p.logger.Warn("PipelineBase::SetVertexBuffers dropping bindings", slog.Int("count", count))
		count = MaxVertexBindings
	}

	bindings := make([]VertexBinding, count)
	for i := 0; i < MaxVertexBindings; i++ {
		var vb VertexBuffer
		if i < count {
			vb = buffers[i]
			bindings[i] = VertexBinding{Stride: vb.Stride, InputRate: vb.InputRate}
		}

		if i < count || i < p.vertexBufferCount {
			p.vertexBuffers[i] = vb
			p.vertexBuffersDirty.Set(i)
		}
	}

	p.vertexBufferCount = count
	p.state.SetVertexBindings(bindings)
	p.SignalStateChange()
}

func (p *PipelineBase) SetIndexBuffer(index IndexBuffer) {
	p.indexBuffer = index
	p.indexBufferDirty = true
}

func (p *PipelineBase) SetUniformBuffer(binding int, r descriptor.BufferRange) {
	p.updater.SetUniformBuffer(binding, r)
}

func (p *PipelineBase) SetStorageBuffer(binding int, r descriptor.BufferRange) {
	p.updater.SetStorageBuffer(binding, r)
}

func (p *PipelineBase) SetTextureAndSampler(binding int, view *texture.TextureView, sampler *texture.SamplerHolder) {
	p.updater.SetTextureAndSampler(binding, view, sampler)
}

func (p *PipelineBase) SetImage(binding int, view *texture.TextureView) {
	p.updater.SetImage(binding, view)
}

// SignalCommandBufferChange is called after the recording command buffer is replaced. Nothing bound
// to the previous command buffer carries over.
func (p *PipelineBase) SignalCommandBufferChange() {
	p.renderPassActive = false
	p.currentGraphics = nil
	p.currentCompute = nil
	p.dynamic.ForceAllDirty()

	for i := 0; i < p.vertexBufferCount; i++ {
		p.vertexBuffersDirty.Set(i)
	}
	p.indexBufferDirty = p.indexBuffer.Holder != nil

	p.updater.SignalCommandBufferChange()
}

// withSourceFlush runs a buffer conversion, and runs it again after flushing the recording command
// buffer if it failed because the data it reads is written by that command buffer. Conversions
// record copies, so the render pass is ended first.
func (p *PipelineBase) withSourceFlush(fn func() (common.VkResult, error)) (common.VkResult, error) {
	p.EndRenderPass()

	res, err := fn()
	if !errors.Is(err, buffer.ErrSourceInFlight) || p.flusher == nil {
		return res, err
	}

	p.logger.Debug("PipelineBase flushing to convert a buffer written by the recording command buffer")

	res, err = p.flusher.FlushAllCommands()
	if err != nil {
		return res, err
	}

	return fn()
}

func bufferSize(holder *buffer.BufferHolder, offset, size int) int {
	if size < 0 {
		size = holder.Size() - offset
	}
	return memutils.ClampSize(offset, size, holder.Size())
}

// boundBuffer is a resolved vertex or index buffer. Derived buffers have a negative size and are
// bound whole.
type boundBuffer struct {
	buffer *resource.Auto[buffer.DisposableBuffer]
	offset int
	size   int
}

func (b boundBuffer) get(cbs resource.CommandBufferScoped) core1_0.Buffer {
	if b.size < 0 {
		return b.buffer.Get(cbs).Value
	}
	return b.buffer.GetRange(cbs, b.offset, b.size).Value
}

func derived(auto *resource.Auto[buffer.DisposableBuffer]) boundBuffer {
	return boundBuffer{buffer: auto, size: -1}
}

// resolveBuffers resolves every dirty vertex buffer, and the index buffer when indexed is set.
// Converting a buffer may flush the recording command buffer, so this runs before anything is
// recorded for the draw.
func (p *PipelineBase) resolveBuffers(indexed bool) (common.VkResult, error) {
	res := core1_0.VKSuccess

	for i := 0; i < p.vertexBufferCount; i++ {
		vb := p.vertexBuffers[i]
		if !p.vertexBuffersDirty.IsSet(i) || vb.Holder == nil {
			continue
		}

		var err error
		res, err = p.resolveVertexBuffer(i, vb)
		if err != nil {
			return res, err
		}
	}

	if indexed && p.indexBufferDirty {
		return p.resolveIndexBuffer()
	}

	return res, nil
}

func (p *PipelineBase) resolveVertexBuffer(i int, vb VertexBuffer) (common.VkResult, error) {
	size := bufferSize(vb.Holder, vb.Offset, vb.Size)
	alignment := p.options.VertexStrideAlignment
	if alignment == 0 || vb.Stride%alignment == 0 {
		p.vertexResolved[i] = boundBuffer{
			buffer: vb.Holder.GetBufferRange(vb.Offset, size, false),
			offset: vb.Offset,
			size:   size,
		}
		return core1_0.VKSuccess, nil
	}

	res, err := p.withSourceFlush(func() (common.VkResult, error) {
		aligned, res, err := vb.Holder.GetAlignedVertexBuffer(p.cbs, vb.Offset, size, vb.Stride, alignment)
		if err == nil {
			p.vertexResolved[i] = derived(aligned)
		}
		return res, err
	})
	if err != nil {
		return res, errors.Wrapf(err, "could not align vertex buffer %d", i)
	}

	alignedStride := memutils.AlignUp(vb.Stride, uint(alignment))
	if p.state.VertexBinding(i).Stride != alignedStride {
		p.state.SetVertexBindingStride(i, alignedStride)
		p.SignalStateChange()
	}

	return res, nil
}

// resolveIndexBuffer resolves the index buffer. 8-bit indices are widened to 16 bits.
func (p *PipelineBase) resolveIndexBuffer() (common.VkResult, error) {
	ib := p.indexBuffer
	if ib.Holder == nil {
		return core1_0.VKErrorUnknown, errors.New("indexed draw without an index buffer")
	}

	size := bufferSize(ib.Holder, ib.Offset, ib.Size)

	switch ib.Type {
	case IndexTypeU8:
		res, err := p.withSourceFlush(func() (common.VkResult, error) {
			widened, res, err := ib.Holder.GetBufferI8ToI16(p.cbs, ib.Offset, size)
			if err == nil {
				p.indexResolved = derived(widened)
				p.indexResolvedType = core1_0.IndexTypeUInt16
			}
			return res, err
		})
		if err != nil {
			return res, errors.Wrap(err, "could not widen 8-bit indices")
		}
		return res, nil
	case IndexTypeU32:
		p.indexResolvedType = core1_0.IndexTypeUInt32
	case IndexTypeU16:
		p.indexResolvedType = core1_0.IndexTypeUInt16
	default:
		p.logger.Warn("PipelineBase unknown index type, using U16", slog.Int("type", int(ib.Type)))
		p.indexResolvedType = core1_0.IndexTypeUInt16
	}

	p.indexResolved = boundBuffer{
		buffer: ib.Holder.GetBufferRange(ib.Offset, size, false),
		offset: ib.Offset,
		size:   size,
	}
	return core1_0.VKSuccess, nil
}

// recordVertexBuffers binds each run of dirty bindings that have a buffer
func (p *PipelineBase) recordVertexBuffers() {
	if !p.vertexBuffersDirty.AnySet() {
		return
	}

	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}

		buffers := make([]core1_0.Buffer, 0, end-start)
		offsets := make([]int, 0, end-start)
		for i := start; i < end; i++ {
			buffers = append(buffers, p.vertexResolved[i].get(p.cbs))
			offsets = append(offsets, p.vertexResolved[i].offset)
		}
		p.cbs.CommandBuffer.CmdBindVertexBuffers(start, buffers, offsets)
		start = -1
	}

	for i := 0; i < p.vertexBufferCount; i++ {
		if !p.vertexBuffersDirty.IsSet(i) || p.vertexBuffers[i].Holder == nil {
			flush(i)
			continue
		}
		if start < 0 {
			start = i
		}
	}
	flush(p.vertexBufferCount)

	p.vertexBuffersDirty = 0
}

func (p *PipelineBase) recordIndexBuffer() {
	if !p.indexBufferDirty {
		return
	}

	p.cbs.CommandBuffer.CmdBindIndexBuffer(p.indexResolved.get(p.cbs), p.indexResolved.offset, p.indexResolvedType)
	p.indexBufferDirty = false
}

// RecreatePipelineIfNeeded brings the command buffer up to date before a draw or dispatch. The
// pipeline cache is only consulted if some pipeline state changed since the last bind.
func (p *PipelineBase) RecreatePipelineIfNeeded(bindPoint core1_0.PipelineBindPoint) (common.VkResult, error) {
	return p.recreatePipelineIfNeeded(bindPoint, false)
}

func (p *PipelineBase) recreatePipelineIfNeeded(bindPoint core1_0.PipelineBindPoint, indexed bool) (common.VkResult, error) {
	if p.program == nil {
		return core1_0.VKErrorUnknown, errors.New("no program is bound")
	}
	if p.program.BindPoint() != bindPoint {
		return core1_0.VKErrorUnknown, errors.Newf("the bound program cannot be used at bind point %d", bindPoint)
	}

	res, err := p.ensureCommandBuffer()
	if err != nil {
		return res, err
	}

	if bindPoint == core1_0.PipelineBindPointCompute {
		p.EndRenderPass()
		return p.recreateCompute()
	}

	res, err = p.resolveBuffers(indexed)
	if err != nil {
		return res, err
	}

	err = p.beginRenderPassIfNeeded()
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	if p.stateDirty || p.currentGraphics == nil {
		pipeline, res, err := p.program.GetGraphicsPipeline(p.state, p.renderPass)
		if err != nil {
			return res, err
		}

		if pipeline != p.currentGraphics {
			p.cbs.CommandBuffer.CmdBindPipeline(core1_0.PipelineBindPointGraphics, pipeline.Get(p.cbs).Value)
			p.currentGraphics = pipeline
			p.pipelineBinds++
		}
		p.stateDirty = false
	}

	p.dynamic.ReplayIfDirty(p.cbs.CommandBuffer)
	p.recordVertexBuffers()
	if indexed {
		p.recordIndexBuffer()
	}

	return p.updater.UpdateAndBindDescriptorSets(p.cbs, bindPoint)
}

func (p *PipelineBase) recreateCompute() (common.VkResult, error) {
	pipeline, res, err := p.program.GetComputePipeline()
	if err != nil {
		return res, err
	}

	if pipeline != p.currentCompute {
		p.cbs.CommandBuffer.CmdBindPipeline(core1_0.PipelineBindPointCompute, pipeline.Get(p.cbs).Value)
		p.currentCompute = pipeline
		p.pipelineBinds++
	}

	return p.updater.UpdateAndBindDescriptorSets(p.cbs, core1_0.PipelineBindPointCompute)
}

func (p *PipelineBase) Draw(vertexCount, instanceCount, firstVertex, firstInstance int) (common.VkResult, error) {
	if vertexCount == 0 || instanceCount == 0 {
		return core1_0.VKSuccess, nil
	}

	res, err := p.recreatePipelineIfNeeded(core1_0.PipelineBindPointGraphics, false)
	if err != nil {
		return res, err
	}

	p.cbs.CommandBuffer.CmdDraw(vertexCount, instanceCount, firstVertex, firstInstance)
	p.draws++
	return res, nil
}

func (p *PipelineBase) DrawIndexed(indexCount, instanceCount, firstIndex, vertexOffset, firstInstance int) (common.VkResult, error) {
	if indexCount == 0 || instanceCount == 0 {
		return core1_0.VKSuccess, nil
	}

	res, err := p.recreatePipelineIfNeeded(core1_0.PipelineBindPointGraphics, true)
	if err != nil {
		return res, err
	}

	p.cbs.CommandBuffer.CmdDrawIndexed(indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
	p.draws++
	return res, nil
}

func (p *PipelineBase) DispatchCompute(groupsX, groupsY, groupsZ int) (common.VkResult, error) {
	res, err := p.RecreatePipelineIfNeeded(core1_0.PipelineBindPointCompute)
	if err != nil {
		return res, err
	}

	p.cbs.CommandBuffer.CmdDispatch(groupsX, groupsY, groupsZ)
	return res, nil
}
