package resource

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/vkgal/memutils"
	"golang.org/x/exp/slices"
)

// BufferRange is a half-open byte interval [Offset, Offset+Size)
type BufferRange struct {
	Offset int
	Size   int
}

func (r BufferRange) End() int {
	return r.Offset + r.Size
}

func (r BufferRange) OverlapsWith(offset, size int) bool {
	return memutils.RangesOverlap(r.Offset, r.Size, offset, size)
}

// BufferRangeList records, per command buffer slot, the byte ranges of a buffer that the slot has
// accessed. Each slot's list is kept sorted by offset with overlapping and adjacent ranges merged.
type BufferRangeList struct {
	ranges [][]BufferRange
}

var _ memutils.Validatable = &BufferRangeList{}

func NewBufferRangeList(slotCount int) *BufferRangeList {
	return &BufferRangeList{
		ranges: make([][]BufferRange, slotCount),
	}
}

// Add merges [offset, offset+size) into the slot's list
func (l *BufferRangeList) Add(cbIndex, offset, size int) {
	if size <= 0 {
		return
	}

	list := l.ranges[cbIndex]
	end := offset + size

	// first range whose end reaches offset: everything before it ends strictly before the new range
	first, _ := slices.BinarySearchFunc(list, offset, func(r BufferRange, target int) int {
		if r.End() < target {
			return -1
		}
		return 1
	})

	last := first
	for last < len(list) && list[last].Offset <= end {
		if list[last].Offset < offset {
			offset = list[last].Offset
		}
		if list[last].End() > end {
			end = list[last].End()
		}
		last++
	}

	merged := BufferRange{Offset: offset, Size: end - offset}
	l.ranges[cbIndex] = slices.Replace(list, first, last, merged)

	memutils.DebugValidate(l)
}

// OverlapsWith reports whether any range recorded for the slot intersects [offset, offset+size)
func (l *BufferRangeList) OverlapsWith(cbIndex, offset, size int) bool {
	list := l.ranges[cbIndex]
	index, _ := slices.BinarySearchFunc(list, offset, func(r BufferRange, target int) int {
		if r.End() <= target {
			return -1
		}
		return 1
	})

	return index < len(list) && list[index].OverlapsWith(offset, size)
}

// OverlapsWithAny reports whether any slot has recorded a range intersecting [offset, offset+size)
func (l *BufferRangeList) OverlapsWithAny(offset, size int) bool {
	for cbIndex := range l.ranges {
		if l.OverlapsWith(cbIndex, offset, size) {
			return true
		}
	}
	return false
}

// Ranges returns the slot's current ranges. The slice is owned by the list.
func (l *BufferRangeList) Ranges(cbIndex int) []BufferRange {
	return l.ranges[cbIndex]
}

func (l *BufferRangeList) Clear(cbIndex int) {
	l.ranges[cbIndex] = l.ranges[cbIndex][:0]
}

func (l *BufferRangeList) Validate() error {
	for cbIndex, list := range l.ranges {
		for i, r := range list {
			if r.Size <= 0 {
				return errors.Newf("slot %d range %d has non-positive size %d", cbIndex, i, r.Size)
			}
			if i > 0 && list[i-1].End() >= r.Offset {
				return errors.Newf("slot %d ranges %d and %d are unsorted or unmerged: %+v, %+v", cbIndex, i-1, i, list[i-1], r)
			}
		}
	}
	return nil
}
