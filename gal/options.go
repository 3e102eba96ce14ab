package gal

import (
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/vkgal/resource"
)

// CreateFlags indicate specific renderer behaviors to activate or deactivate
type CreateFlags int32

var rendererCreateFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	rendererCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return rendererCreateFlagsMapping.FlagsToString(f)
}

const (
	// CreateGranularBufferTracking tracks buffer usage per byte range instead of per buffer, so that
	// writes to a range the GPU is not reading can skip waiting on unrelated command buffers.
	CreateGranularBufferTracking CreateFlags = 1 << iota
	// CreateFastBufferUpdates records small buffer writes directly into the command buffer instead of
	// copying them through the staging ring.
	CreateFastBufferUpdates
	// CreateExternallySynchronized indicates that the renderer and every object created from it will
	// only ever be used from one goroutine at a time. Internal mutexes are skipped.
	CreateExternallySynchronized
	// CreateNullDescriptors writes null handles for unbound bindings. The device must report support
	// for null descriptors, otherwise the flag is ignored and dummy resources are bound instead.
	CreateNullDescriptors
	// CreatePushDescriptors pushes uniform buffer bindings directly into the command buffer when the
	// device supports push descriptors and a program's uniforms fit the device limit.
	CreatePushDescriptors
)

func init() {
	CreateGranularBufferTracking.Register("CreateGranularBufferTracking")
	CreateFastBufferUpdates.Register("CreateFastBufferUpdates")
	CreateExternallySynchronized.Register("CreateExternallySynchronized")
	CreateNullDescriptors.Register("CreateNullDescriptors")
	CreatePushDescriptors.Register("CreatePushDescriptors")
}

const (
	// DefaultMaxCommandBuffers is the size of the command buffer pool when none is provided
	DefaultMaxCommandBuffers int = resource.DefaultCommandBuffers
	// MaxCommandBuffers is the largest supported command buffer pool, bounded by the width of the
	// per-resource fence tracking masks
	MaxCommandBuffers int = resource.MaxCommandBuffers
	// DefaultStagingBufferSize is the size of the staging ring when none is provided. It is equal to 16Mb.
	DefaultStagingBufferSize int = 16 * 1024 * 1024
	// DefaultDescriptorPoolMultiplier is the number of descriptor sets each descriptor pool is sized for
	DefaultDescriptorPoolMultiplier int = 16
	// DefaultDescriptorSetCacheCapacity is the number of descriptor sets remembered per program and kind
	DefaultDescriptorSetCacheCapacity int = 256
	// DefaultTextureCapacity is the size of the texture and sampler handle tables when none is provided
	DefaultTextureCapacity int = 4096
	// DefaultProgramCapacity is the size of the program handle table when none is provided
	DefaultProgramCapacity int = 1024
)

// CreateOptions contains optional settings when creating a renderer
type CreateOptions struct {
	// Flags indicates specific renderer behaviors to activate or deactivate
	Flags CreateFlags
	// MaxCommandBuffers is the number of command buffers that may be in flight or recording at once.
	// It must not exceed MaxCommandBuffers.
	MaxCommandBuffers int
	// StagingBufferSize is the size in bytes of the ring used to upload data to device-local memory
	StagingBufferSize int
	// DescriptorPoolMultiplier is the number of descriptor sets each descriptor pool is sized for
	DescriptorPoolMultiplier int
	// DescriptorSetCacheCapacity is the number of descriptor sets each program remembers per
	// command buffer and binding kind before the oldest is evicted
	DescriptorSetCacheCapacity int
	// BufferCapacity is the size of the buffer handle table
	BufferCapacity int
	// TextureCapacity is the size of the texture and sampler handle tables
	TextureCapacity int
	// ProgramCapacity is the size of the program handle table
	ProgramCapacity int
	// VertexStrideAlignment, when nonzero, is a power of two that every vertex buffer stride must be
	// a multiple of. Buffers with other strides are repacked before they are bound.
	VertexStrideAlignment int
}

func (o CreateOptions) normalized() CreateOptions {
	if o.MaxCommandBuffers == 0 {
		o.MaxCommandBuffers = DefaultMaxCommandBuffers
	}
	if o.StagingBufferSize == 0 {
		o.StagingBufferSize = DefaultStagingBufferSize
	}
	if o.DescriptorPoolMultiplier == 0 {
		o.DescriptorPoolMultiplier = DefaultDescriptorPoolMultiplier
	}
	if o.DescriptorSetCacheCapacity == 0 {
		o.DescriptorSetCacheCapacity = DefaultDescriptorSetCacheCapacity
	}
	if o.TextureCapacity == 0 {
		o.TextureCapacity = DefaultTextureCapacity
	}
	if o.ProgramCapacity == 0 {
		o.ProgramCapacity = DefaultProgramCapacity
	}
	return o
}
