package descriptor

import (
	"github.com/dolthub/maphash"
)

const (
	// MaxHandles is the capacity of HandleSet and CombinedImageHandleSet
	MaxHandles = 32
	// MaxBufferHandles is the capacity of BufferHandleSet
	MaxBufferHandles = 16
)

var (
	handleSetHasher              = maphash.NewHasher[HandleSet]()
	bufferHandleSetHasher        = maphash.NewHasher[BufferHandleSet]()
	combinedImageHandleSetHasher = maphash.NewHasher[CombinedImageHandleSet]()
)

// HandleSet identifies the resources bound to a descriptor set by their Auto IDs. Only the first
// Count entries are significant.
type HandleSet struct {
	Count   int
	Handles [MaxHandles]uint64
}

// Add appends a handle, returning false if the set is full
func (s *HandleSet) Add(handle uint64) bool {
	if s.Count == MaxHandles {
		return false
	}

	s.Handles[s.Count] = handle
	s.Count++
	return true
}

func (s HandleSet) Equals(other HandleSet) bool {
	if s.Count != other.Count {
		return false
	}

	for i := 0; i < s.Count; i++ {
		if s.Handles[i] != other.Handles[i] {
			return false
		}
	}

	return true
}

func (s HandleSet) Hash() uint64 {
	return handleSetHasher.Hash(s.canonical())
}

// canonical zeroes every entry past Count, so that == agrees with Equals
func (s HandleSet) canonical() HandleSet {
	c := HandleSet{Count: s.Count}
	copy(c.Handles[:s.Count], s.Handles[:s.Count])
	return c
}

// BufferHandleSet identifies the buffer ranges bound to a descriptor set
type BufferHandleSet struct {
	Count   int
	Handles [MaxBufferHandles]uint64
	Offsets [MaxBufferHandles]int
	Sizes   [MaxBufferHandles]int
}

func (s *BufferHandleSet) Add(handle uint64, offset, size int) bool {
	if s.Count == MaxBufferHandles {
		return false
	}

	s.Handles[s.Count] = handle
	s.Offsets[s.Count] = offset
	s.Sizes[s.Count] = size
	s.Count++
	return true
}

func (s BufferHandleSet) Equals(other BufferHandleSet) bool {
	if s.Count != other.Count {
		return false
	}

	for i := 0; i < s.Count; i++ {
		if s.Handles[i] != other.Handles[i] || s.Offsets[i] != other.Offsets[i] || s.Sizes[i] != other.Sizes[i] {
			return false
		}
	}

	return true
}

func (s BufferHandleSet) Hash() uint64 {
	return bufferHandleSetHasher.Hash(s.canonical())
}

func (s BufferHandleSet) canonical() BufferHandleSet {
	c := BufferHandleSet{Count: s.Count}
	copy(c.Handles[:s.Count], s.Handles[:s.Count])
	copy(c.Offsets[:s.Count], s.Offsets[:s.Count])
	copy(c.Sizes[:s.Count], s.Sizes[:s.Count])
	return c
}

// CombinedImageHandleSet identifies the image view and sampler pairs bound to a descriptor set
type CombinedImageHandleSet struct {
	Count    int
	Images   [MaxHandles]uint64
	Samplers [MaxHandles]uint64
}

func (s *CombinedImageHandleSet) Add(image, sampler uint64) bool {
	if s.Count == MaxHandles {
		return false
	}

	s.Images[s.Count] = image
	s.Samplers[s.Count] = sampler
	s.Count++
	return true
}

func (s CombinedImageHandleSet) Equals(other CombinedImageHandleSet) bool {
	if s.Count != other.Count {
		return false
	}

	for i := 0; i < s.Count; i++ {
		if s.Images[i] != other.Images[i] || s.Samplers[i] != other.Samplers[i] {
			return false
		}
	}

	return true
}

func (s CombinedImageHandleSet) Hash() uint64 {
	return combinedImageHandleSetHasher.Hash(s.canonical())
}

func (s CombinedImageHandleSet) canonical() CombinedImageHandleSet {
	c := CombinedImageHandleSet{Count: s.Count}
	copy(c.Images[:s.Count], s.Images[:s.Count])
	copy(c.Samplers[:s.Count], s.Samplers[:s.Count])
	return c
}
