package bitmap

import (
	"fmt"
	"math/bits"
)

const (
	intSize  = 64
	intShift = 6
	intMask  = intSize - 1
)

// BitMap is a fixed-capacity bit set. The capacity is chosen at construction time
// and never grows.
type BitMap struct {
	masks []uint64
	count int
}

func New(count int) BitMap {
	return BitMap{
		masks: make([]uint64, (count+intMask)/intSize),
		count: count,
	}
}

// Count is the number of bits this map can hold
func (m *BitMap) Count() int {
	return m.count
}

func (m *BitMap) checkBit(bit int) {
	if bit < 0 || bit >= m.count {
		panic(fmt.Sprintf("bit %d is outside of a bitmap of %d bits", bit, m.count))
	}
}

func (m *BitMap) AnySet() bool {
	for _, mask := range m.masks {
		if mask != 0 {
			return true
		}
	}

	return false
}

func (m *BitMap) IsSet(bit int) bool {
	m.checkBit(bit)

	return m.masks[bit>>intShift]&(uint64(1)<<(bit&intMask)) != 0
}

// Set sets a bit and returns true if the bit was previously clear
func (m *BitMap) Set(bit int) bool {
	m.checkBit(bit)

	index := bit >> intShift
	mask := uint64(1) << (bit & intMask)

	if m.masks[index]&mask != 0 {
		return false
	}

	m.masks[index] |= mask
	return true
}

// SetRange sets every bit in the inclusive range [start, end]
func (m *BitMap) SetRange(start, end int) {
	if start > end {
		return
	}
	m.checkBit(start)
	m.checkBit(end)

	startIndex := start >> intShift
	startBit := start & intMask
	endIndex := end >> intShift
	endBit := end & intMask

	if startIndex == endIndex {
		m.masks[startIndex] |= rangeMask(startBit, endBit)
		return
	}

	m.masks[startIndex] |= rangeMask(startBit, intMask)
	for i := startIndex + 1; i < endIndex; i++ {
		m.masks[i] = ^uint64(0)
	}
	m.masks[endIndex] |= rangeMask(0, endBit)
}

func (m *BitMap) Clear(bit int) {
	m.checkBit(bit)

	m.masks[bit>>intShift] &^= uint64(1) << (bit & intMask)
}

// ClearRange clears every bit in the inclusive range [start, end]
func (m *BitMap) ClearRange(start, end int) {
	if start > end {
		return
	}
	m.checkBit(start)
	m.checkBit(end)

	startIndex := start >> intShift
	startBit := start & intMask
	endIndex := end >> intShift
	endBit := end & intMask

	if startIndex == endIndex {
		m.masks[startIndex] &^= rangeMask(startBit, endBit)
		return
	}

	m.masks[startIndex] &^= rangeMask(startBit, intMask)
	for i := startIndex + 1; i < endIndex; i++ {
		m.masks[i] = 0
	}
	m.masks[endIndex] &^= rangeMask(0, endBit)
}

func (m *BitMap) ClearAll() {
	for i := range m.masks {
		m.masks[i] = 0
	}
}

// FindFirstUnset returns the lowest clear bit, or -1 if every bit is set
func (m *BitMap) FindFirstUnset() int {
	for i, mask := range m.masks {
		if mask == ^uint64(0) {
			continue
		}

		bit := i*intSize + bits.TrailingZeros64(^mask)
		if bit >= m.count {
			return -1
		}
		return bit
	}

	return -1
}

// ForEachRun calls cb once for every maximal run of consecutive set bits, in ascending order
func (m *BitMap) ForEachRun(cb func(start, count int)) {
	start, count := -1, 0

	for i, mask := range m.masks {
		for mask != 0 {
			bit := i*intSize + bits.TrailingZeros64(mask)
			mask &= mask - 1

			if start >= 0 && start+count == bit {
				count++
				continue
			}

			if start >= 0 {
				cb(start, count)
			}
			start, count = bit, 1
		}
	}

	if start >= 0 {
		cb(start, count)
	}
}

func rangeMask(startBit, endBit int) uint64 {
	width := endBit - startBit + 1
	if width == intSize {
		return ^uint64(0)
	}

	return ((uint64(1) << width) - 1) << startBit
}
