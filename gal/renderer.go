// Package gal ties the command buffer pool, buffer and texture storage, descriptor management and the
// pipeline state machine together into a renderer that hands out integer handles for its resources.
package gal

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/vkgal/buffer"
	"github.com/vkngwrapper/vkgal/descriptor"
	"github.com/vkngwrapper/vkgal/device"
	"github.com/vkngwrapper/vkgal/memutils"
	"github.com/vkngwrapper/vkgal/pipeline"
	"github.com/vkngwrapper/vkgal/resource"
	"github.com/vkngwrapper/vkgal/texture"
	"golang.org/x/exp/slog"
)

// nullBufferSize covers the largest uniform block a shader may declare against an unbound binding
const nullBufferSize = 256

// VertexBufferBinding binds a range of a buffer handle to a vertex input binding. A negative Size
// extends the range to the end of the buffer.
type VertexBufferBinding struct {
	Buffer    int
	Offset    int
	Size      int
	Stride    int
	InputRate core1_0.VertexInputRate
}

// Renderer owns every Vulkan object the abstraction layer creates and exposes them through handles
type Renderer struct {
	logger  *slog.Logger
	dev     device.Device
	options CreateOptions

	nullDescriptors    bool
	maxPushDescriptors int

	pool        *resource.CommandBufferPool
	buffers     *buffer.BufferManager
	descriptors *descriptor.DescriptorSetManager
	layouts     *descriptor.PipelineLayoutCache
	pipeline    *pipeline.PipelineFull
	null        descriptor.NullResources

	textures *resource.IdList[*texture.TextureView]
	samplers *resource.IdList[*texture.SamplerHolder]
	programs *resource.IdList[*pipeline.ShaderCollection]

	destroyed bool
}

// NewRenderer builds a renderer on dev. Optional features requested in options.Flags are only used
// when dev reports support for them.
func NewRenderer(logger *slog.Logger, dev device.Device, options CreateOptions) (*Renderer, common.VkResult, error) {
	options = options.normalized()
	if options.MaxCommandBuffers < 0 || options.MaxCommandBuffers > MaxCommandBuffers {
		return nil, core1_0.VKErrorInitializationFailed, errors.Newf("MaxCommandBuffers must be between 1 and %d, but was %d", MaxCommandBuffers, options.MaxCommandBuffers)
	}
	if options.VertexStrideAlignment != 0 {
		err := memutils.CheckPow2(options.VertexStrideAlignment, "options.VertexStrideAlignment")
		if err != nil {
			return nil, core1_0.VKErrorInitializationFailed, err
		}
	}

	features := dev.Features()
	r := &Renderer{
		logger:          logger,
		dev:             dev,
		options:         options,
		nullDescriptors: options.Flags&CreateNullDescriptors != 0 && features.NullDescriptors,
	}
	if options.Flags&CreatePushDescriptors != 0 && features.PushDescriptors {
		r.maxPushDescriptors = features.MaxPushDescriptors
	}

	externallySynchronized := options.Flags&CreateExternallySynchronized != 0
	if externallySynchronized {
		r.textures = resource.NewIdList[*texture.TextureView]("texture", options.TextureCapacity)
		r.samplers = resource.NewIdList[*texture.SamplerHolder]("sampler", options.TextureCapacity)
	} else {
		r.textures = resource.NewConcurrentIdList[*texture.TextureView]("texture", options.TextureCapacity)
		r.samplers = resource.NewConcurrentIdList[*texture.SamplerHolder]("sampler", options.TextureCapacity)
	}
	r.programs = resource.NewIdList[*pipeline.ShaderCollection]("program", options.ProgramCapacity)

	pool, res, err := resource.NewCommandBufferPool(logger, dev, options.MaxCommandBuffers)
	if err != nil {
		return nil, res, err
	}
	r.pool = pool

	r.buffers, res, err = buffer.NewBufferManager(logger, dev, pool, r, buffer.Options{
		GranularTracking:       options.Flags&CreateGranularBufferTracking != 0,
		FastUpdates:            options.Flags&CreateFastBufferUpdates != 0,
		StagingBufferSize:      options.StagingBufferSize,
		Capacity:               options.BufferCapacity,
		ExternallySynchronized: externallySynchronized,
	})
	if err != nil {
		pool.Destroy()
		return nil, res, err
	}

	r.descriptors = descriptor.NewDescriptorSetManager(logger, dev, options.DescriptorPoolMultiplier)
	r.layouts = descriptor.NewPipelineLayoutCache(logger, dev, r.descriptors, pool.Count(), options.DescriptorSetCacheCapacity, r.maxPushDescriptors)

	if !r.nullDescriptors {
		res, err = r.createNullResources()
		if err != nil {
			r.destroyCore()
			return nil, res, err
		}
	}

	updater, err := descriptor.NewDescriptorSetUpdater(logger, dev, r.nullDescriptors, r.null)
	if err != nil {
		r.destroyCore()
		return nil, core1_0.VKErrorInitializationFailed, err
	}

	r.pipeline, res, err = pipeline.NewPipelineFull(logger, dev, pool, updater, pipeline.Options{
		VertexStrideAlignment: options.VertexStrideAlignment,
	})
	if err != nil {
		r.destroyCore()
		return nil, res, err
	}

	logger.Debug("Renderer created",
		slog.String("Flags", options.Flags.String()),
		slog.Int("CommandBuffers", options.MaxCommandBuffers),
		slog.Bool("NullDescriptors", r.nullDescriptors),
		slog.Int("MaxPushDescriptors", r.maxPushDescriptors),
	)

	return r, res, nil
}

// createNullResources builds the zeroed buffer, texture and sampler written into unbound bindings
func (r *Renderer) createNullResources() (common.VkResult, error) {
	nullBuffer, res, err := r.buffers.Create(nullBufferSize, true)
	if err != nil {
		return res, errors.Wrap(err, "could not create the null buffer")
	}
	r.null.Buffer = nullBuffer

	_, err = nullBuffer.SetDataUnchecked(0, make([]byte, nullBufferSize))
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	storage, res, err := texture.NewTextureStorage(r.logger, r.dev, r.buffers, r.pool, r, texture.TextureCreateInfo{
		Width:         1,
		Height:        1,
		Format:        core1_0.FormatR8G8B8A8UnsignedNormalized,
		BytesPerPixel: 4,
		ImageType:     core1_0.ImageType2D,
	})
	if err != nil {
		return res, errors.Wrap(err, "could not create the null texture")
	}

	view, res, err := texture.NewTextureView(r.dev, storage, texture.ViewCreateInfo{ViewType: core1_0.ImageViewType2D})
	if err != nil {
		storage.Dispose()
		return res, errors.Wrap(err, "could not create the null texture view")
	}
	r.null.Texture = view

	res, err = view.SetData(nil, 0, 0, make([]byte, 4))
	if err != nil {
		return res, err
	}

	r.null.Sampler, res, err = texture.NewSamplerHolder(r.dev, core1_0.SamplerCreateInfo{})
	if err != nil {
		return res, errors.Wrap(err, "could not create the null sampler")
	}

	return res, nil
}

func (r *Renderer) Options() CreateOptions {
	return r.options
}

// Pipeline is the state machine that draws and dispatches are recorded through
func (r *Renderer) Pipeline() *pipeline.PipelineFull {
	return r.pipeline
}

func (r *Renderer) CommandBufferPool() *resource.CommandBufferPool {
	return r.pool
}

func (r *Renderer) BufferManager() *buffer.BufferManager {
	return r.buffers
}

func (r *Renderer) UsesNullDescriptors() bool {
	return r.nullDescriptors
}

func (r *Renderer) MaxPushDescriptors() int {
	return r.maxPushDescriptors
}

// FlushAllCommands submits the command buffer being recorded and starts a new one
func (r *Renderer) FlushAllCommands() (common.VkResult, error) {
	if r.pipeline == nil {
		return core1_0.VKSuccess, nil
	}
	return r.pipeline.FlushAllCommands()
}

// CheckCommandBuffers retires submissions the GPU has finished, releasing the resources they held
func (r *Renderer) CheckCommandBuffers() (common.VkResult, error) {
	return r.pool.CheckCommandBuffers()
}

func (r *Renderer) CreateBuffer(size int, hostVisible bool) (int, common.VkResult, error) {
	return r.buffers.CreateWithHandle(size, hostVisible)
}

// DeleteBuffer releases the handle. The buffer itself lives on until no command buffer uses it.
func (r *Renderer) DeleteBuffer(handle int) bool {
	return r.buffers.Delete(handle)
}

// SetBufferData writes data at offset. The write is ordered after every command recorded so far.
func (r *Renderer) SetBufferData(handle, offset int, data []byte) (common.VkResult, error) {
	holder, ok := r.buffers.Get(handle)
	if !ok {
		return core1_0.VKErrorUnknown, errors.Newf("buffer handle %d does not exist", handle)
	}

	cbs, res, err := r.pipeline.TransferCommandBuffer()
	if err != nil {
		return res, err
	}
	return holder.SetData(offset, data, &cbs)
}

// GetBufferData reads size bytes at offset, flushing recorded commands that write to the range first
func (r *Renderer) GetBufferData(handle, offset, size int) ([]byte, common.VkResult, error) {
	return r.buffers.GetData(handle, offset, size)
}

// CreateTexture builds a texture and a view over all of its levels and layers
func (r *Renderer) CreateTexture(info texture.TextureCreateInfo, viewType core1_0.ImageViewType) (int, common.VkResult, error) {
	storage, res, err := texture.NewTextureStorage(r.logger, r.dev, r.buffers, r.pool, r, info)
	if err != nil {
		return 0, res, err
	}

	view, res, err := texture.NewTextureView(r.dev, storage, texture.ViewCreateInfo{ViewType: viewType})
	if err != nil {
		storage.Dispose()
		return 0, res, err
	}

	handle, err := r.textures.Add(view)
	if err != nil {
		view.Dispose()
		storage.Dispose()
		return 0, core1_0.VKErrorOutOfHostMemory, err
	}

	return handle, res, nil
}

func (r *Renderer) texture(handle int) (*texture.TextureView, error) {
	view, ok := r.textures.TryGetValue(handle)
	if !ok {
		return nil, errors.Newf("texture handle %d does not exist", handle)
	}
	return view, nil
}

// DeleteTexture releases the handle. The image is destroyed once no command buffer uses it.
func (r *Renderer) DeleteTexture(handle int) bool {
	view, ok := r.textures.Remove(handle)
	if !ok {
		return false
	}

	view.Dispose()
	view.Storage().Dispose()
	return true
}

// SetTextureData uploads one layer of a mip level, ordered after every command recorded so far.
// The active render pass is ended first; the next draw begins it again.
func (r *Renderer) SetTextureData(handle, layer, level int, data []byte) (common.VkResult, error) {
	view, err := r.texture(handle)
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	cbs, res, err := r.pipeline.TransferCommandBuffer()
	if err != nil {
		return res, err
	}
	return view.SetData(&cbs, layer, level, data)
}

func (r *Renderer) GetTextureData(handle, layer, level int) ([]byte, common.VkResult, error) {
	view, err := r.texture(handle)
	if err != nil {
		return nil, core1_0.VKErrorUnknown, err
	}

	return view.GetData(layer, level)
}

func (r *Renderer) CreateSampler(info core1_0.SamplerCreateInfo) (int, common.VkResult, error) {
	sampler, res, err := texture.NewSamplerHolder(r.dev, info)
	if err != nil {
		return 0, res, err
	}

	handle, err := r.samplers.Add(sampler)
	if err != nil {
		sampler.Dispose()
		return 0, core1_0.VKErrorOutOfHostMemory, err
	}

	return handle, res, nil
}

func (r *Renderer) DeleteSampler(handle int) bool {
	sampler, ok := r.samplers.Remove(handle)
	if !ok {
		return false
	}

	sampler.Dispose()
	return true
}

// CreateProgram builds a shader program from already-compiled modules. Programs with equal binding
// layouts share their pipeline layout and descriptor set caches.
func (r *Renderer) CreateProgram(stages []pipeline.ShaderStage, layout descriptor.ProgramLayout) (int, common.VkResult, error) {
	program, res, err := pipeline.NewShaderCollection(r.logger, r.dev, r.layouts, stages, layout)
	if err != nil {
		return 0, res, err
	}

	handle, err := r.programs.Add(program)
	if err != nil {
		program.Dispose()
		return 0, core1_0.VKErrorOutOfHostMemory, err
	}

	return handle, res, nil
}

// DeleteProgram releases the handle and every pipeline built for the program
func (r *Renderer) DeleteProgram(handle int) bool {
	program, ok := r.programs.Remove(handle)
	if !ok {
		return false
	}

	if r.pipeline.Program() == program {
		r.pipeline.SetProgram(nil)
	}
	program.Dispose()
	return true
}

func (r *Renderer) ProgramCount() int {
	return r.programs.Count()
}

// SetProgram selects the program later draws or dispatches use
func (r *Renderer) SetProgram(handle int) error {
	program, ok := r.programs.TryGetValue(handle)
	if !ok {
		return errors.Newf("program handle %d does not exist", handle)
	}

	r.pipeline.SetProgram(program)
	return nil
}

func (r *Renderer) bufferRange(handle, offset, size int) (descriptor.BufferRange, error) {
	if handle == 0 {
		return descriptor.BufferRange{}, nil
	}

	holder, ok := r.buffers.Get(handle)
	if !ok {
		return descriptor.BufferRange{}, errors.Newf("buffer handle %d does not exist", handle)
	}
	return descriptor.BufferRange{Holder: holder, Offset: offset, Size: size}, nil
}

// SetUniformBuffer binds a range of a buffer to a uniform binding. Handle 0 unbinds it.
func (r *Renderer) SetUniformBuffer(binding, handle, offset, size int) error {
	bound, err := r.bufferRange(handle, offset, size)
	if err != nil {
		return err
	}

	r.pipeline.SetUniformBuffer(binding, bound)
	return nil
}

// SetStorageBuffer binds a range of a buffer to a storage binding. Handle 0 unbinds it.
func (r *Renderer) SetStorageBuffer(binding, handle, offset, size int) error {
	bound, err := r.bufferRange(handle, offset, size)
	if err != nil {
		return err
	}

	r.pipeline.SetStorageBuffer(binding, bound)
	return nil
}

// SetTextureAndSampler binds a texture and sampler pair to a combined image sampler binding. Handle 0
// for either unbinds that half of the pair.
func (r *Renderer) SetTextureAndSampler(binding, textureHandle, samplerHandle int) error {
	var view *texture.TextureView
	var sampler *texture.SamplerHolder
	var err error

	if textureHandle != 0 {
		view, err = r.texture(textureHandle)
		if err != nil {
			return err
		}
	}

	if samplerHandle != 0 {
		var ok bool
		sampler, ok = r.samplers.TryGetValue(samplerHandle)
		if !ok {
			return errors.Newf("sampler handle %d does not exist", samplerHandle)
		}
	}

	r.pipeline.SetTextureAndSampler(binding, view, sampler)
	return nil
}

// SetImage binds a texture to a storage image binding. Handle 0 unbinds it.
func (r *Renderer) SetImage(binding, textureHandle int) error {
	var view *texture.TextureView
	if textureHandle != 0 {
		var err error
		view, err = r.texture(textureHandle)
		if err != nil {
			return err
		}
	}

	r.pipeline.SetImage(binding, view)
	return nil
}

// SetVertexBuffers replaces the vertex buffer bindings. A zero buffer handle leaves its binding empty.
func (r *Renderer) SetVertexBuffers(bindings []VertexBufferBinding) error {
	buffers := make([]pipeline.VertexBuffer, len(bindings))
	for i, binding := range bindings {
		buffers[i] = pipeline.VertexBuffer{
			Offset:    binding.Offset,
			Size:      binding.Size,
			Stride:    binding.Stride,
			InputRate: binding.InputRate,
		}
		if binding.Buffer == 0 {
			continue
		}

		holder, ok := r.buffers.Get(binding.Buffer)
		if !ok {
			return errors.Newf("vertex buffer %d uses buffer handle %d, which does not exist", i, binding.Buffer)
		}
		buffers[i].Holder = holder
	}

	r.pipeline.SetVertexBuffers(buffers)
	return nil
}

// SetIndexBuffer binds a range of a buffer as the index buffer. Handle 0 unbinds it.
func (r *Renderer) SetIndexBuffer(handle, offset, size int, indexType pipeline.IndexType) error {
	index := pipeline.IndexBuffer{Offset: offset, Size: size, Type: indexType}
	if handle != 0 {
		holder, ok := r.buffers.Get(handle)
		if !ok {
			return errors.Newf("index buffer handle %d does not exist", handle)
		}
		index.Holder = holder
	}

	r.pipeline.SetIndexBuffer(index)
	return nil
}

// BuildStatsString describes the state of every pool and table the renderer owns as json
func (r *Renderer) BuildStatsString() string {
	writer := jwriter.NewWriter()
	obj := writer.Object()

	obj.Name("Flags").String(r.options.Flags.String())
	obj.Name("NullDescriptors").Bool(r.nullDescriptors)
	obj.Name("MaxPushDescriptors").Int(r.maxPushDescriptors)

	pool := obj.Name("CommandBuffers").Object()
	r.pool.PrintJson(pool)
	pool.End()

	buffers := obj.Name("BufferManager").Object()
	r.buffers.PrintJson(buffers)
	buffers.End()

	textures := obj.Name("Textures").Object()
	r.textures.PrintJson(textures)
	textures.End()

	samplers := obj.Name("Samplers").Object()
	r.samplers.PrintJson(samplers)
	samplers.End()

	programs := obj.Name("Programs").Object()
	r.programs.PrintJson(programs)
	entries := programs.Name("Entries").Array()
	r.programs.ForEach(func(handle int, program *pipeline.ShaderCollection) {
		o := entries.Object()
		o.Name("Handle").Int(handle)
		program.PrintJson(o)
		o.End()
	})
	entries.End()
	programs.End()

	descriptors := obj.Name("DescriptorSetManager").Object()
	r.descriptors.PrintJson(descriptors)
	descriptors.End()

	layouts := obj.Name("PipelineLayouts").Object()
	r.layouts.PrintJson(layouts)
	layouts.End()

	pipe := obj.Name("Pipeline").Object()
	pipe.Name("Flushes").Int(r.pipeline.Flushes())
	pipe.Name("Draws").Int(r.pipeline.Draws())
	pipe.Name("PipelineBinds").Int(r.pipeline.PipelineBinds())
	pipe.Name("DescriptorUpdates").Int(r.pipeline.Updater().UpdateCalls())
	pipe.Name("DescriptorBinds").Int(r.pipeline.Updater().BindCalls())
	pipe.End()

	obj.End()
	return string(writer.Bytes())
}

// Destroy submits outstanding work, waits for the GPU to finish with it and releases everything the
// renderer owns. Handles that were never deleted are logged and released.
func (r *Renderer) Destroy() (common.VkResult, error) {
	if r.destroyed {
		return core1_0.VKSuccess, nil
	}
	r.destroyed = true

	res, err := r.pipeline.Dispose()
	if err != nil {
		r.logger.LogAttrs(context.Background(), slog.LevelError, "could not submit the final command buffer", slog.Any("error", err))
	}

	r.programs.ForEach(func(handle int, program *pipeline.ShaderCollection) {
		r.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED PROGRAM] program was not deleted before the renderer was destroyed",
			slog.Int("Handle", handle),
			slog.Int("Pipelines", program.PipelineCount()),
		)
		program.Dispose()
	})
	r.programs.Clear()

	r.textures.ForEach(func(handle int, view *texture.TextureView) {
		info := view.Storage().Info()
		r.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED TEXTURE] texture was not deleted before the renderer was destroyed",
			slog.Int("Handle", handle),
			slog.Int("Width", info.Width),
			slog.Int("Height", info.Height),
		)
		view.Dispose()
		view.Storage().Dispose()
	})
	r.textures.Clear()

	r.samplers.ForEach(func(handle int, sampler *texture.SamplerHolder) {
		r.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED SAMPLER] sampler was not deleted before the renderer was destroyed",
			slog.Int("Handle", handle),
		)
		sampler.Dispose()
	})
	r.samplers.Clear()

	r.destroyCore()
	return res, err
}

// destroyCore waits for every submission and then releases the objects shared by all resources
func (r *Renderer) destroyCore() {
	if r.null.Buffer != nil {
		r.null.Buffer.Dispose()
	}
	if r.null.Texture != nil {
		r.null.Texture.Dispose()
		r.null.Texture.Storage().Dispose()
	}
	if r.null.Sampler != nil {
		r.null.Sampler.Dispose()
	}
	r.null = descriptor.NullResources{}

	r.pool.Destroy()
	r.layouts.Destroy()
	r.buffers.Destroy()
	r.descriptors.Destroy()
}
