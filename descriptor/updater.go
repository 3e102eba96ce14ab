package descriptor

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/vkgal/buffer"
	"github.com/vkngwrapper/vkgal/device"
	"github.com/vkngwrapper/vkgal/internal/bitmap"
	"github.com/vkngwrapper/vkgal/memutils"
	"github.com/vkngwrapper/vkgal/resource"
	"github.com/vkngwrapper/vkgal/texture"
	"golang.org/x/exp/slog"
)

// WholeSize is the descriptor range covering a buffer from the offset to its end
const WholeSize = -1

// BufferRange is a buffer binding. A negative Size extends the range to the end of the buffer.
type BufferRange struct {
	Holder *buffer.BufferHolder
	Offset int
	Size   int
}

// TextureBinding is a combined image sampler binding
type TextureBinding struct {
	View    *texture.TextureView
	Sampler *texture.SamplerHolder
}

// NullResources stand in for unbound bindings on devices without null descriptor support
type NullResources struct {
	Buffer  *buffer.BufferHolder
	Texture *texture.TextureView
	Sampler *texture.SamplerHolder
}

type resolvedBuffer struct {
	holder *buffer.BufferHolder
	buffer *resource.Auto[buffer.DisposableBuffer]
	offset int
	size   int
}

func (b resolvedBuffer) id() uint64 {
	if b.buffer == nil {
		return 0
	}
	return b.buffer.ID()
}

func (b resolvedBuffer) info() core1_0.DescriptorBufferInfo {
	if b.buffer == nil {
		return core1_0.DescriptorBufferInfo{Range: WholeSize}
	}

	return core1_0.DescriptorBufferInfo{
		Buffer: b.buffer.GetUnsafe().Value,
		Offset: b.offset,
		Range:  b.size,
	}
}

type resolvedTexture struct {
	view    *resource.Auto[texture.DisposableImageView]
	sampler *resource.Auto[texture.DisposableSampler]
}

func (t resolvedTexture) ids() (uint64, uint64) {
	var view, sampler uint64
	if t.view != nil {
		view = t.view.ID()
	}
	if t.sampler != nil {
		sampler = t.sampler.ID()
	}
	return view, sampler
}

func (t resolvedTexture) info(layout core1_0.ImageLayout) core1_0.DescriptorImageInfo {
	var info core1_0.DescriptorImageInfo
	if t.view != nil {
		info.ImageView = t.view.GetUnsafe().Value
		info.ImageLayout = layout
	}
	if t.sampler != nil {
		info.Sampler = t.sampler.GetUnsafe().Value
	}
	return info
}

// DescriptorSetUpdater holds the resources bound to each binding slot and writes them into descriptor
// sets before a draw or dispatch. Only the kinds that changed since the last update are rewritten.
type DescriptorSetUpdater struct {
	logger          *slog.Logger
	dev             device.Device
	nullDescriptors bool
	null            NullResources

	program *PipelineLayoutCacheEntry

	uniforms [MaxBindingsPerSet]BufferRange
	storages [MaxBindingsPerSet]BufferRange
	textures [MaxBindingsPerSet]TextureBinding
	images   [MaxBindingsPerSet]*texture.TextureView

	// bindings changed since they were last pushed
	modified [KindCount]bitmap.BitMap
	dirty    DirtyFlags

	writes       []core1_0.WriteDescriptorSet
	updateCalls  int
	bindingCalls int
}

// NewDescriptorSetUpdater creates an updater. When nullDescriptors is false, unbound bindings are
// written with the resources in null, which must then all be set.
func NewDescriptorSetUpdater(logger *slog.Logger, dev device.Device, nullDescriptors bool, null NullResources) (*DescriptorSetUpdater, error) {
	if !nullDescriptors && (null.Buffer == nil || null.Texture == nil || null.Sampler == nil) {
		return nil, errors.New("null resources are required when the device does not support null descriptors")
	}

	u := &DescriptorSetUpdater{
		logger:          logger,
		dev:             dev,
		nullDescriptors: nullDescriptors,
		null:            null,
	}
	for kind := range u.modified {
		u.modified[kind] = bitmap.New(MaxBindingsPerSet)
	}
	return u, nil
}

func checkBinding(kind BindingKind, binding int) {
	if binding < 0 || binding >= MaxBindingsPerSet {
		panic(errors.AssertionFailedf("%s binding %d is outside of [0, %d)", kind, binding, MaxBindingsPerSet))
	}
}

func (u *DescriptorSetUpdater) markModified(kind BindingKind, binding int) {
	u.modified[kind].Set(binding)
	u.dirty |= kind.DirtyFlag()
}

func (u *DescriptorSetUpdater) markAll() {
	for kind := range u.modified {
		u.modified[kind].SetRange(0, MaxBindingsPerSet-1)
	}
	u.dirty = DirtyAll
}

// SetProgram selects the layout of the next draw. Changing it dirties every kind.
func (u *DescriptorSetUpdater) SetProgram(program *PipelineLayoutCacheEntry) {
	if program == u.program {
		return
	}

	u.program = program
	u.markAll()
}

func (u *DescriptorSetUpdater) Program() *PipelineLayoutCacheEntry {
	return u.program
}

func (u *DescriptorSetUpdater) SetUniformBuffer(binding int, r BufferRange) {
	checkBinding(KindUniform, binding)
	u.uniforms[binding] = r
	u.markModified(KindUniform, binding)
}

func (u *DescriptorSetUpdater) SetStorageBuffer(binding int, r BufferRange) {
	checkBinding(KindStorage, binding)
	u.storages[binding] = r
	u.markModified(KindStorage, binding)
}

func (u *DescriptorSetUpdater) SetTextureAndSampler(binding int, view *texture.TextureView, sampler *texture.SamplerHolder) {
	checkBinding(KindTexture, binding)
	u.textures[binding] = TextureBinding{View: view, Sampler: sampler}
	u.markModified(KindTexture, binding)
}

func (u *DescriptorSetUpdater) SetImage(binding int, view *texture.TextureView) {
	checkBinding(KindImage, binding)
	u.images[binding] = view
	u.markModified(KindImage, binding)
}

// SignalCommandBufferChange must be called when recording moves to another command buffer, which
// has none of the previous bindings
func (u *DescriptorSetUpdater) SignalCommandBufferChange() {
	u.markAll()
}

func (u *DescriptorSetUpdater) Dirty() DirtyFlags {
	return u.dirty
}

// UpdateCalls is the number of descriptor update and push calls issued
func (u *DescriptorSetUpdater) UpdateCalls() int {
	return u.updateCalls
}

// BindCalls is the number of descriptor set binds issued
func (u *DescriptorSetUpdater) BindCalls() int {
	return u.bindingCalls
}

// UpdateAndBindDescriptorSets writes and binds the sets of every dirty kind the program declares
func (u *DescriptorSetUpdater) UpdateAndBindDescriptorSets(cbs resource.CommandBufferScoped, bindPoint core1_0.PipelineBindPoint) (common.VkResult, error) {
	if u.program == nil {
		return core1_0.VKErrorUnknown, errors.New("descriptor sets were updated before a program was set")
	}

	u.program.UpdateCommandBufferIndex(cbs.CommandBufferIndex)

	for kind := KindUniform; kind < KindCount; kind++ {
		if u.dirty&kind.DirtyFlag() == 0 || !u.program.HasBindings(kind) {
			continue
		}

		var res common.VkResult
		var err error
		switch kind {
		case KindUniform:
			if u.program.UsesPushDescriptors() {
				err = u.pushUniforms(cbs, bindPoint)
			} else {
				res, err = u.updateUniforms(cbs, bindPoint)
			}
		case KindStorage:
			res, err = u.updateStorage(cbs, bindPoint)
		case KindTexture:
			res, err = u.updateTextures(cbs, bindPoint)
		case KindImage:
			res, err = u.updateImages(cbs, bindPoint)
		}
		if err != nil {
			return res, errors.Wrapf(err, "could not update %s descriptors", kind)
		}
	}

	u.dirty = 0
	return core1_0.VKSuccess, nil
}

// forEachWriteRun calls cb for each run of consecutive declared bindings in selected that share
// stage flags, which a single write may cover
func (u *DescriptorSetUpdater) forEachWriteRun(kind BindingKind, selected *bitmap.BitMap, cb func(start, count int)) {
	declared := u.program.Declared(kind)
	stages := &u.program.signature.Stages[kind]

	selected.ForEachRun(func(start, count int) {
		runStart, runCount := -1, 0
		for binding := start; binding < start+count; binding++ {
			if !declared.IsSet(binding) {
				if runStart >= 0 {
					cb(runStart, runCount)
				}
				runStart, runCount = -1, 0
				continue
			}

			if runStart >= 0 && stages[binding] == stages[runStart] {
				runCount++
				continue
			}

			if runStart >= 0 {
				cb(runStart, runCount)
			}
			runStart, runCount = binding, 1
		}

		if runStart >= 0 {
			cb(runStart, runCount)
		}
	})
}

func (u *DescriptorSetUpdater) resolveBuffer(r BufferRange) resolvedBuffer {
	holder := r.Holder
	if holder == nil {
		if u.nullDescriptors {
			return resolvedBuffer{}
		}
		holder = u.null.Buffer
		r = BufferRange{Holder: holder, Size: WholeSize}
	}

	size := r.Size
	if size < 0 {
		size = holder.Size() - r.Offset
	}
	size = memutils.ClampSize(r.Offset, size, holder.Size())

	return resolvedBuffer{
		holder: holder,
		buffer: holder.GetBuffer(),
		offset: r.Offset,
		size:   size,
	}
}

func (u *DescriptorSetUpdater) resolveTexture(binding TextureBinding) resolvedTexture {
	var resolved resolvedTexture

	switch {
	case binding.View != nil:
		resolved.view = binding.View.GetImageView()
	case !u.nullDescriptors:
		resolved.view = u.null.Texture.GetImageView()
	}

	switch {
	case binding.Sampler != nil:
		resolved.sampler = binding.Sampler.GetSampler()
	case u.null.Sampler != nil:
		resolved.sampler = u.null.Sampler.GetSampler()
	}

	return resolved
}

func (u *DescriptorSetUpdater) resolveImage(view *texture.TextureView) resolvedTexture {
	switch {
	case view != nil:
		return resolvedTexture{view: view.GetImageView()}
	case !u.nullDescriptors:
		return resolvedTexture{view: u.null.Texture.GetImageView()}
	}
	return resolvedTexture{}
}

func (u *DescriptorSetUpdater) registerBuffer(cbs resource.CommandBufferScoped, b resolvedBuffer, isWrite bool) {
	if b.holder == nil {
		return
	}

	b.holder.GetBufferRange(b.offset, b.size, isWrite).GetRange(cbs, b.offset, b.size)
}

func (u *DescriptorSetUpdater) registerTexture(cbs resource.CommandBufferScoped, t resolvedTexture) {
	if t.view != nil {
		t.view.Get(cbs)
	}
	if t.sampler != nil {
		t.sampler.Get(cbs)
	}
}

func (u *DescriptorSetUpdater) bufferWrites(set core1_0.DescriptorSet, kind BindingKind, selected *bitmap.BitMap, bound *[MaxBindingsPerSet]BufferRange) {
	u.forEachWriteRun(kind, selected, func(start, count int) {
		infos := make([]core1_0.DescriptorBufferInfo, 0, count)
		for binding := start; binding < start+count; binding++ {
			infos = append(infos, u.resolveBuffer(bound[binding]).info())
		}

		u.writes = append(u.writes, core1_0.WriteDescriptorSet{
			DstSet:         set,
			DstBinding:     start,
			DescriptorType: kind.DescriptorType(),
			BufferInfo:     infos,
		})
	})
}

func (u *DescriptorSetUpdater) flushWrites() error {
	if len(u.writes) == 0 {
		return nil
	}

	err := u.dev.UpdateDescriptorSets(u.writes)
	u.updateCalls++
	u.writes = u.writes[:0]
	return err
}

func (u *DescriptorSetUpdater) bind(cbs resource.CommandBufferScoped, bindPoint core1_0.PipelineBindPoint, kind BindingKind, set *resource.Auto[*DescriptorSetCollection]) {
	collection := set.Get(cbs)
	cbs.CommandBuffer.CmdBindDescriptorSets(bindPoint, u.program.PipelineLayout(), int(kind), collection.Sets(), nil)
	u.bindingCalls++
}

func (u *DescriptorSetUpdater) pushUniforms(cbs resource.CommandBufferScoped, bindPoint core1_0.PipelineBindPoint) error {
	modified := &u.modified[KindUniform]

	u.bufferWrites(core1_0.DescriptorSet{}, KindUniform, modified, &u.uniforms)
	for _, binding := range u.program.Bindings(KindUniform) {
		u.registerBuffer(cbs, u.resolveBuffer(u.uniforms[binding.Binding]), false)
	}
	modified.ClearAll()

	if len(u.writes) == 0 {
		return nil
	}

	err := cbs.CommandBuffer.CmdPushDescriptorSet(bindPoint, u.program.PipelineLayout(), int(KindUniform), u.writes)
	u.updateCalls++
	u.writes = u.writes[:0]
	return err
}

func (u *DescriptorSetUpdater) updateUniforms(cbs resource.CommandBufferScoped, bindPoint core1_0.PipelineBindPoint) (common.VkResult, error) {
	set, _, res, err := u.program.GetNewDescriptorSetCollection(KindUniform)
	if err != nil {
		return res, err
	}

	u.bufferWrites(set.GetUnsafe().Set(0), KindUniform, u.program.Declared(KindUniform), &u.uniforms)
	err = u.flushWrites()
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	for _, binding := range u.program.Bindings(KindUniform) {
		u.registerBuffer(cbs, u.resolveBuffer(u.uniforms[binding.Binding]), false)
	}
	u.modified[KindUniform].ClearAll()

	u.bind(cbs, bindPoint, KindUniform, set)
	return res, nil
}

func (u *DescriptorSetUpdater) updateStorage(cbs resource.CommandBufferScoped, bindPoint core1_0.PipelineBindPoint) (common.VkResult, error) {
	var key BufferHandleSet
	for _, binding := range u.program.Bindings(KindStorage) {
		b := u.resolveBuffer(u.storages[binding.Binding])
		key.Add(b.id(), b.offset, b.size)
		u.registerBuffer(cbs, b, true)
	}
	u.modified[KindStorage].ClearAll()

	cache := u.program.StorageCache()
	set, ok := cache.TryGet(key)
	if !ok {
		var res common.VkResult
		var err error
		u.logger.Debug("DescriptorSetUpdater::UpdateAndBindDescriptorSets writing new storage set", slog.Int("bindings", key.Count))

		set, res, err = u.program.AllocateSet(KindStorage)
		if err != nil {
			return res, err
		}

		u.bufferWrites(set.GetUnsafe().Set(0), KindStorage, u.program.Declared(KindStorage), &u.storages)
		err = u.flushWrites()
		if err != nil {
			set.Dispose()
			return core1_0.VKErrorUnknown, err
		}
		cache.Add(key, set)
	}

	u.bind(cbs, bindPoint, KindStorage, set)
	return core1_0.VKSuccess, nil
}

func (u *DescriptorSetUpdater) imageWrites(set core1_0.DescriptorSet, kind BindingKind, resolve func(binding int) resolvedTexture) {
	u.forEachWriteRun(kind, u.program.Declared(kind), func(start, count int) {
		infos := make([]core1_0.DescriptorImageInfo, 0, count)
		for binding := start; binding < start+count; binding++ {
			infos = append(infos, resolve(binding).info(core1_0.ImageLayoutGeneral))
		}

		u.writes = append(u.writes, core1_0.WriteDescriptorSet{
			DstSet:         set,
			DstBinding:     start,
			DescriptorType: kind.DescriptorType(),
			ImageInfo:      infos,
		})
	})
}

func (u *DescriptorSetUpdater) updateTextures(cbs resource.CommandBufferScoped, bindPoint core1_0.PipelineBindPoint) (common.VkResult, error) {
	resolve := func(binding int) resolvedTexture {
		return u.resolveTexture(u.textures[binding])
	}

	var key CombinedImageHandleSet
	for _, binding := range u.program.Bindings(KindTexture) {
		t := resolve(binding.Binding)
		key.Add(t.ids())
		u.registerTexture(cbs, t)
	}
	u.modified[KindTexture].ClearAll()

	cache := u.program.TextureCache()
	set, ok := cache.TryGet(key)
	if !ok {
		var res common.VkResult
		var err error
		u.logger.Debug("DescriptorSetUpdater::UpdateAndBindDescriptorSets writing new texture set", slog.Int("bindings", key.Count))

		set, res, err = u.program.AllocateSet(KindTexture)
		if err != nil {
			return res, err
		}

		u.imageWrites(set.GetUnsafe().Set(0), KindTexture, resolve)
		err = u.flushWrites()
		if err != nil {
			set.Dispose()
			return core1_0.VKErrorUnknown, err
		}
		cache.Add(key, set)
	}

	u.bind(cbs, bindPoint, KindTexture, set)
	return core1_0.VKSuccess, nil
}

func (u *DescriptorSetUpdater) updateImages(cbs resource.CommandBufferScoped, bindPoint core1_0.PipelineBindPoint) (common.VkResult, error) {
	resolve := func(binding int) resolvedTexture {
		return u.resolveImage(u.images[binding])
	}

	var key HandleSet
	for _, binding := range u.program.Bindings(KindImage) {
		t := resolve(binding.Binding)
		id, _ := t.ids()
		key.Add(id)
		u.registerTexture(cbs, t)
	}
	u.modified[KindImage].ClearAll()

	cache := u.program.ImageCache()
	set, ok := cache.TryGet(key)
	if !ok {
		var res common.VkResult
		var err error
		u.logger.Debug("DescriptorSetUpdater::UpdateAndBindDescriptorSets writing new image set", slog.Int("bindings", key.Count))

		set, res, err = u.program.AllocateSet(KindImage)
		if err != nil {
			return res, err
		}

		u.imageWrites(set.GetUnsafe().Set(0), KindImage, resolve)
		err = u.flushWrites()
		if err != nil {
			set.Dispose()
			return core1_0.VKErrorUnknown, err
		}
		cache.Add(key, set)
	}

	u.bind(cbs, bindPoint, KindImage, set)
	return core1_0.VKSuccess, nil
}
