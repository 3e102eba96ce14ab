package descriptor

import (
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/vkgal/resource"
)

// DefaultCacheCapacity is the number of descriptor sets a content cache holds before evicting
const DefaultCacheCapacity = 256

// HandleKey is a descriptor set content key
type HandleKey[K any] interface {
	Hash() uint64
	Equals(other K) bool
}

type cacheEntry[K HandleKey[K]] struct {
	key   K
	value *resource.Auto[*DescriptorSetCollection]
}

// DescriptorSetCache memoizes descriptor sets by the exact resources written into them. Once full,
// the oldest entry is evicted and released; command buffers still using its sets keep them alive.
type DescriptorSetCache[K HandleKey[K]] struct {
	capacity int
	buckets  *swiss.Map[uint64, []cacheEntry[K]]
	order    []K
	head     int
	count    int

	hits   int
	misses int
}

func NewDescriptorSetCache[K HandleKey[K]](capacity int) *DescriptorSetCache[K] {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}

	return &DescriptorSetCache[K]{
		capacity: capacity,
		buckets:  swiss.NewMap[uint64, []cacheEntry[K]](uint32(capacity)),
		order:    make([]K, capacity),
	}
}

func (c *DescriptorSetCache[K]) TryGet(key K) (*resource.Auto[*DescriptorSetCollection], bool) {
	entries, ok := c.buckets.Get(key.Hash())
	if ok {
		for _, entry := range entries {
			if entry.key.Equals(key) {
				c.hits++
				return entry.value, true
			}
		}
	}

	c.misses++
	return nil, false
}

// Add stores value under key, which must not already be present. The cache takes ownership of the
// creator's reference to value.
func (c *DescriptorSetCache[K]) Add(key K, value *resource.Auto[*DescriptorSetCollection]) {
	if c.count == c.capacity {
		c.evictOldest()
	}

	hash := key.Hash()
	entries, _ := c.buckets.Get(hash)
	c.buckets.Put(hash, append(entries, cacheEntry[K]{key: key, value: value}))

	c.order[(c.head+c.count)%c.capacity] = key
	c.count++
}

func (c *DescriptorSetCache[K]) evictOldest() {
	key := c.order[c.head]
	var zero K
	c.order[c.head] = zero
	c.head = (c.head + 1) % c.capacity
	c.count--

	hash := key.Hash()
	entries, ok := c.buckets.Get(hash)
	if !ok {
		return
	}

	for i, entry := range entries {
		if !entry.key.Equals(key) {
			continue
		}

		entry.value.Dispose()
		entries = append(entries[:i], entries[i+1:]...)
		break
	}

	if len(entries) == 0 {
		c.buckets.Delete(hash)
	} else {
		c.buckets.Put(hash, entries)
	}
}

func (c *DescriptorSetCache[K]) Count() int {
	return c.count
}

func (c *DescriptorSetCache[K]) Hits() int {
	return c.hits
}

func (c *DescriptorSetCache[K]) Misses() int {
	return c.misses
}

// Clear releases every cached set
func (c *DescriptorSetCache[K]) Clear() {
	c.buckets.Iter(func(hash uint64, entries []cacheEntry[K]) bool {
		for _, entry := range entries {
			entry.value.Dispose()
		}
		return false
	})

	c.buckets.Clear()
	var zero K
	for i := range c.order {
		c.order[i] = zero
	}
	c.head = 0
	c.count = 0
}

func (c *DescriptorSetCache[K]) PrintJson(json jwriter.ObjectState) {
	json.Name("Count").Int(c.count)
	json.Name("Capacity").Int(c.capacity)
	json.Name("Hits").Int(c.hits)
	json.Name("Misses").Int(c.misses)
}
