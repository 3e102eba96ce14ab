package buffer

import (
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/vkgal/memutils"
	"github.com/vkngwrapper/vkgal/resource"
)

// CacheKind identifies how a cached buffer was derived from its source range
type CacheKind int

const (
	// CacheI8ToI16 is an 8-bit index range widened to 16-bit indices
	CacheI8ToI16 CacheKind = iota
	// CacheAlignedVertexBuffer is a vertex range re-strided to satisfy an alignment
	CacheAlignedVertexBuffer
)

var cacheKindMapping = map[CacheKind]string{
	CacheI8ToI16:             "I8ToI16",
	CacheAlignedVertexBuffer: "AlignedVertexBuffer",
}

func (k CacheKind) String() string {
	return cacheKindMapping[k]
}

// CacheKey distinguishes derived buffers built from the same source range
type CacheKey struct {
	Kind      CacheKind
	Stride    int
	Alignment int
}

func I8ToI16CacheKey() CacheKey {
	return CacheKey{Kind: CacheI8ToI16}
}

func AlignedVertexBufferCacheKey(stride, alignment int) CacheKey {
	return CacheKey{Kind: CacheAlignedVertexBuffer, Stride: stride, Alignment: alignment}
}

type cacheRange struct {
	Offset int
	Size   int
}

type cacheEntry[T resource.Disposable] struct {
	Key   CacheKey
	Value T
}

// CacheByRange memoizes values derived from a byte range of a buffer. Entries are disposed when the
// range they were derived from is written.
type CacheByRange[T resource.Disposable] struct {
	ranges *swiss.Map[cacheRange, []cacheEntry[T]]
	count  int
}

func (c *CacheByRange[T]) Add(offset, size int, key CacheKey, value T) {
	if c.ranges == nil {
		c.ranges = swiss.NewMap[cacheRange, []cacheEntry[T]](8)
	}

	r := cacheRange{Offset: offset, Size: size}
	entries, _ := c.ranges.Get(r)
	c.ranges.Put(r, append(entries, cacheEntry[T]{Key: key, Value: value}))
	c.count++
}

func (c *CacheByRange[T]) TryGetValue(offset, size int, key CacheKey) (T, bool) {
	var zero T
	if c.ranges == nil {
		return zero, false
	}

	entries, ok := c.ranges.Get(cacheRange{Offset: offset, Size: size})
	if !ok {
		return zero, false
	}

	for _, entry := range entries {
		if entry.Key == key {
			return entry.Value, true
		}
	}

	return zero, false
}

func (c *CacheByRange[T]) Count() int {
	return c.count
}

// Clear disposes every entry
func (c *CacheByRange[T]) Clear() {
	if c.ranges == nil {
		return
	}

	c.ranges.Iter(func(r cacheRange, entries []cacheEntry[T]) bool {
		for _, entry := range entries {
			entry.Value.Dispose()
		}
		return false
	})

	c.ranges = nil
	c.count = 0
}

// ClearRange disposes every entry derived from a range that overlaps [offset, offset+size)
func (c *CacheByRange[T]) ClearRange(offset, size int) {
	if c.ranges == nil {
		return
	}

	var stale []cacheRange
	c.ranges.Iter(func(r cacheRange, entries []cacheEntry[T]) bool {
		if memutils.RangesOverlap(r.Offset, r.Size, offset, size) {
			stale = append(stale, r)
		}
		return false
	})

	for _, r := range stale {
		entries, _ := c.ranges.Get(r)
		for _, entry := range entries {
			entry.Value.Dispose()
		}
		c.ranges.Delete(r)
		c.count -= len(entries)
	}
}
