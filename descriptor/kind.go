package descriptor

import "github.com/vkngwrapper/core/v3/core1_0"

// BindingKind is a category of resource binding. Each kind is bound through its own descriptor set,
// whose set index is the kind's value.
type BindingKind int

const (
	KindUniform BindingKind = iota
	KindStorage
	KindTexture
	KindImage
	KindCount
)

const (
	MaxUniformBufferBindings = 16
	MaxStorageBufferBindings = MaxBufferHandles
	MaxTextureBindings       = MaxHandles
	MaxImageBindings         = 16

	// MaxBindingsPerSet bounds the binding numbers of every kind
	MaxBindingsPerSet = 32
)

var kindMapping = map[BindingKind]string{
	KindUniform: "Uniform",
	KindStorage: "Storage",
	KindTexture: "Texture",
	KindImage:   "Image",
}

func (k BindingKind) String() string {
	return kindMapping[k]
}

func (k BindingKind) DescriptorType() core1_0.DescriptorType {
	switch k {
	case KindUniform:
		return core1_0.DescriptorTypeUniformBuffer
	case KindStorage:
		return core1_0.DescriptorTypeStorageBuffer
	case KindTexture:
		return core1_0.DescriptorTypeCombinedImageSampler
	default:
		return core1_0.DescriptorTypeStorageImage
	}
}

// MaxBindings is the number of bindings a program may declare for the kind
func (k BindingKind) MaxBindings() int {
	switch k {
	case KindUniform:
		return MaxUniformBufferBindings
	case KindStorage:
		return MaxStorageBufferBindings
	case KindTexture:
		return MaxTextureBindings
	default:
		return MaxImageBindings
	}
}

// DirtyFlags marks the binding kinds whose descriptor sets must be refreshed before the next draw
type DirtyFlags uint8

const (
	DirtyUniform DirtyFlags = 1 << iota
	DirtyStorage
	DirtyTexture
	DirtyImage

	DirtyAll = DirtyUniform | DirtyStorage | DirtyTexture | DirtyImage
)

func (k BindingKind) DirtyFlag() DirtyFlags {
	return DirtyFlags(1) << k
}

func (f DirtyFlags) String() string {
	if f == 0 {
		return "None"
	}

	var str string
	for kind := KindUniform; kind < KindCount; kind++ {
		if f&kind.DirtyFlag() == 0 {
			continue
		}
		if str != "" {
			str += "|"
		}
		str += kind.String()
	}
	return str
}
