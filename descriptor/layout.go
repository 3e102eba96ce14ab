package descriptor

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/vkgal/device"
	"github.com/vkngwrapper/vkgal/internal/bitmap"
	"github.com/vkngwrapper/vkgal/resource"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

// Binding is one resource binding declared by a shader program
type Binding struct {
	Binding int
	Stages  core1_0.ShaderStageFlags
}

// ProgramLayout lists the bindings a shader program declares for each kind. The bindings of a kind
// live in the descriptor set whose index is the kind.
type ProgramLayout struct {
	Sets [KindCount][]Binding
	// PushDescriptors requests that uniform buffers be pushed into the command buffer rather than
	// written into allocated sets
	PushDescriptors bool
}

// LayoutSignature is the comparable identity of a ProgramLayout. A zero stage mask means the
// binding is not declared.
type LayoutSignature struct {
	Stages          [KindCount][MaxBindingsPerSet]core1_0.ShaderStageFlags
	PushDescriptors bool
}

// Signature validates the layout and returns its identity
func (l ProgramLayout) Signature() (LayoutSignature, error) {
	var sig LayoutSignature
	sig.PushDescriptors = l.PushDescriptors

	for kind := KindUniform; kind < KindCount; kind++ {
		if len(l.Sets[kind]) > kind.MaxBindings() {
			return sig, errors.Newf("program declares %d %s bindings but at most %d are supported", len(l.Sets[kind]), kind, kind.MaxBindings())
		}

		for _, binding := range l.Sets[kind] {
			if binding.Binding < 0 || binding.Binding >= MaxBindingsPerSet {
				return sig, errors.Newf("%s binding %d is outside of [0, %d)", kind, binding.Binding, MaxBindingsPerSet)
			}
			if binding.Stages == 0 {
				return sig, errors.Newf("%s binding %d has no shader stages", kind, binding.Binding)
			}
			if sig.Stages[kind][binding.Binding] != 0 {
				return sig, errors.Newf("%s binding %d is declared twice", kind, binding.Binding)
			}

			sig.Stages[kind][binding.Binding] = binding.Stages
		}
	}

	return sig, nil
}

// PipelineLayoutCacheEntry owns the set layouts and pipeline layout of one program layout, along with
// the descriptor sets allocated against them.
//
// Sets written per draw are reused across draws through a per command buffer list with a cursor.
// The cursors rewind whenever the recording command buffer changes; the lists only grow.
type PipelineLayoutCacheEntry struct {
	dev     device.Device
	manager *DescriptorSetManager

	signature      LayoutSignature
	bindings       [KindCount][]Binding
	declared       [KindCount]bitmap.BitMap
	setLayouts     [KindCount]core1_0.DescriptorSetLayout
	layoutCount    int
	pipelineLayout core1_0.PipelineLayout
	pushUniforms   bool

	dsCache       [][KindCount][]*resource.Auto[*DescriptorSetCollection]
	dsCacheCursor [KindCount]int
	dsLastCbIndex int

	storageCache *DescriptorSetCache[BufferHandleSet]
	textureCache *DescriptorSetCache[CombinedImageHandleSet]
	imageCache   *DescriptorSetCache[HandleSet]
}

func newPipelineLayoutCacheEntry(dev device.Device, manager *DescriptorSetManager, sig LayoutSignature, commandBufferCount, cacheCapacity, maxPushDescriptors int) (*PipelineLayoutCacheEntry, common.VkResult, error) {
	entry := &PipelineLayoutCacheEntry{
		dev:           dev,
		manager:       manager,
		signature:     sig,
		dsCache:       make([][KindCount][]*resource.Auto[*DescriptorSetCollection], commandBufferCount),
		dsLastCbIndex: -1,
		storageCache:  NewDescriptorSetCache[BufferHandleSet](cacheCapacity),
		textureCache:  NewDescriptorSetCache[CombinedImageHandleSet](cacheCapacity),
		imageCache:    NewDescriptorSetCache[HandleSet](cacheCapacity),
	}

	uniformCount := 0
	for _, stages := range sig.Stages[KindUniform] {
		if stages != 0 {
			uniformCount++
		}
	}
	entry.pushUniforms = sig.PushDescriptors && uniformCount > 0 && uniformCount <= maxPushDescriptors

	for kind := KindUniform; kind < KindCount; kind++ {
		entry.declared[kind] = bitmap.New(MaxBindingsPerSet)

		var layoutBindings []core1_0.DescriptorSetLayoutBinding
		for binding, stages := range sig.Stages[kind] {
			if stages == 0 {
				continue
			}

			entry.declared[kind].Set(binding)
			entry.bindings[kind] = append(entry.bindings[kind], Binding{Binding: binding, Stages: stages})
			layoutBindings = append(layoutBindings, core1_0.DescriptorSetLayoutBinding{
				Binding:         binding,
				DescriptorType:  kind.DescriptorType(),
				DescriptorCount: 1,
				StageFlags:      stages,
			})
		}

		layout, res, err := dev.CreateDescriptorSetLayout(core1_0.DescriptorSetLayoutCreateInfo{
			Bindings: layoutBindings,
		}, kind == KindUniform && entry.pushUniforms)
		if err != nil {
			entry.destroyLayouts()
			return nil, res, errors.Wrapf(err, "could not create %s descriptor set layout", kind)
		}
		entry.setLayouts[kind] = layout
		entry.layoutCount++
	}

	pipelineLayout, res, err := dev.CreatePipelineLayout(core1_0.PipelineLayoutCreateInfo{
		SetLayouts: entry.setLayouts[:],
	})
	if err != nil {
		entry.destroyLayouts()
		return nil, res, errors.Wrap(err, "could not create pipeline layout")
	}
	entry.pipelineLayout = pipelineLayout

	return entry, res, nil
}

func (e *PipelineLayoutCacheEntry) Signature() LayoutSignature {
	return e.signature
}

func (e *PipelineLayoutCacheEntry) PipelineLayout() core1_0.PipelineLayout {
	return e.pipelineLayout
}

func (e *PipelineLayoutCacheEntry) SetLayout(kind BindingKind) core1_0.DescriptorSetLayout {
	return e.setLayouts[kind]
}

// Bindings returns the declared bindings of the kind in ascending order
func (e *PipelineLayoutCacheEntry) Bindings(kind BindingKind) []Binding {
	return e.bindings[kind]
}

// Declared returns the set of declared binding numbers of the kind. Callers must not modify it.
func (e *PipelineLayoutCacheEntry) Declared(kind BindingKind) *bitmap.BitMap {
	return &e.declared[kind]
}

func (e *PipelineLayoutCacheEntry) HasBindings(kind BindingKind) bool {
	return len(e.bindings[kind]) > 0
}

// UsesPushDescriptors reports whether uniform buffers are pushed instead of written into sets
func (e *PipelineLayoutCacheEntry) UsesPushDescriptors() bool {
	return e.pushUniforms
}

func (e *PipelineLayoutCacheEntry) StorageCache() *DescriptorSetCache[BufferHandleSet] {
	return e.storageCache
}

func (e *PipelineLayoutCacheEntry) TextureCache() *DescriptorSetCache[CombinedImageHandleSet] {
	return e.textureCache
}

func (e *PipelineLayoutCacheEntry) ImageCache() *DescriptorSetCache[HandleSet] {
	return e.imageCache
}

// UpdateCommandBufferIndex rewinds every cursor if cbIndex is not the command buffer the entry last
// handed out sets for
func (e *PipelineLayoutCacheEntry) UpdateCommandBufferIndex(cbIndex int) {
	if cbIndex == e.dsLastCbIndex {
		return
	}

	e.dsLastCbIndex = cbIndex
	for kind := range e.dsCacheCursor {
		e.dsCacheCursor[kind] = 0
	}
}

// GetNewDescriptorSetCollection returns the next unused set of the kind for the current command
// buffer. isNew is true when the set was allocated by this call rather than reused from an earlier
// recording of the slot.
func (e *PipelineLayoutCacheEntry) GetNewDescriptorSetCollection(kind BindingKind) (*resource.Auto[*DescriptorSetCollection], bool, common.VkResult, error) {
	if e.dsLastCbIndex < 0 {
		panic(errors.AssertionFailedf("descriptor sets requested before a command buffer was selected"))
	}

	list := e.dsCache[e.dsLastCbIndex][kind]
	cursor := e.dsCacheCursor[kind]
	e.dsCacheCursor[kind] = cursor + 1

	if cursor < len(list) {
		return list[cursor], false, core1_0.VKSuccess, nil
	}

	set, res, err := e.allocateSet(kind)
	if err != nil {
		e.dsCacheCursor[kind] = cursor
		return nil, false, res, err
	}

	e.dsCache[e.dsLastCbIndex][kind] = append(list, set)
	return set, true, res, nil
}

// AllocateSet allocates a set of the kind that the caller owns
func (e *PipelineLayoutCacheEntry) AllocateSet(kind BindingKind) (*resource.Auto[*DescriptorSetCollection], common.VkResult, error) {
	return e.allocateSet(kind)
}

func (e *PipelineLayoutCacheEntry) allocateSet(kind BindingKind) (*resource.Auto[*DescriptorSetCollection], common.VkResult, error) {
	var counts DescriptorCounts
	counts[kind] = len(e.bindings[kind])

	return e.manager.AllocateDescriptorSet([]core1_0.DescriptorSetLayout{e.setLayouts[kind]}, counts)
}

// CachedSetCount is the number of sets the slot has accumulated for the kind
func (e *PipelineLayoutCacheEntry) CachedSetCount(cbIndex int, kind BindingKind) int {
	return len(e.dsCache[cbIndex][kind])
}

func (e *PipelineLayoutCacheEntry) destroyLayouts() {
	for kind := 0; kind < e.layoutCount; kind++ {
		e.dev.DestroyDescriptorSetLayout(e.setLayouts[kind])
	}
	e.layoutCount = 0
}

func (e *PipelineLayoutCacheEntry) destroy() {
	for cbIndex := range e.dsCache {
		for kind := range e.dsCache[cbIndex] {
			for _, set := range e.dsCache[cbIndex][kind] {
				set.Dispose()
			}
			e.dsCache[cbIndex][kind] = nil
		}
	}

	e.storageCache.Clear()
	e.textureCache.Clear()
	e.imageCache.Clear()

	e.dev.DestroyPipelineLayout(e.pipelineLayout)
	e.destroyLayouts()
}

// PipelineLayoutCache shares pipeline layouts between programs that declare identical bindings
type PipelineLayoutCache struct {
	logger             *slog.Logger
	dev                device.Device
	manager            *DescriptorSetManager
	commandBufferCount int
	cacheCapacity      int
	maxPushDescriptors int

	entries *swiss.Map[LayoutSignature, *PipelineLayoutCacheEntry]
}

// NewPipelineLayoutCache creates an empty cache. maxPushDescriptors is zero when the device cannot
// push descriptors.
func NewPipelineLayoutCache(logger *slog.Logger, dev device.Device, manager *DescriptorSetManager, commandBufferCount, cacheCapacity, maxPushDescriptors int) *PipelineLayoutCache {
	return &PipelineLayoutCache{
		logger:             logger,
		dev:                dev,
		manager:            manager,
		commandBufferCount: commandBufferCount,
		cacheCapacity:      cacheCapacity,
		maxPushDescriptors: maxPushDescriptors,
		entries:            swiss.NewMap[LayoutSignature, *PipelineLayoutCacheEntry](8),
	}
}

func (c *PipelineLayoutCache) GetOrCreate(layout ProgramLayout) (*PipelineLayoutCacheEntry, common.VkResult, error) {
	sig, err := layout.Signature()
	if err != nil {
		return nil, core1_0.VKErrorUnknown, err
	}

	if entry, ok := c.entries.Get(sig); ok {
		return entry, core1_0.VKSuccess, nil
	}

	c.logger.Debug("PipelineLayoutCache::GetOrCreate creating layout", slog.Int("layouts", c.entries.Count()+1))

	entry, res, err := newPipelineLayoutCacheEntry(c.dev, c.manager, sig, c.commandBufferCount, c.cacheCapacity, c.maxPushDescriptors)
	if err != nil {
		return nil, res, err
	}

	c.entries.Put(sig, entry)
	return entry, res, nil
}

func (c *PipelineLayoutCache) Count() int {
	return c.entries.Count()
}

func (c *PipelineLayoutCache) Destroy() {
	c.entries.Iter(func(sig LayoutSignature, entry *PipelineLayoutCacheEntry) bool {
		entry.destroy()
		return false
	})
	c.entries.Clear()
}

func (c *PipelineLayoutCache) PrintJson(json jwriter.ObjectState) {
	json.Name("Layouts").Int(c.entries.Count())

	var hits, misses, cached []int
	c.entries.Iter(func(sig LayoutSignature, entry *PipelineLayoutCacheEntry) bool {
		hits = append(hits, entry.storageCache.Hits()+entry.textureCache.Hits()+entry.imageCache.Hits())
		misses = append(misses, entry.storageCache.Misses()+entry.textureCache.Misses()+entry.imageCache.Misses())
		cached = append(cached, entry.storageCache.Count()+entry.textureCache.Count()+entry.imageCache.Count())
		return false
	})
	slices.Sort(cached)

	totalHits, totalMisses := 0, 0
	for i := range hits {
		totalHits += hits[i]
		totalMisses += misses[i]
	}
	json.Name("ContentCacheHits").Int(totalHits)
	json.Name("ContentCacheMisses").Int(totalMisses)
	if len(cached) > 0 {
		json.Name("LargestContentCache").Int(cached[len(cached)-1])
	}
}
