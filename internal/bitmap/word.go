package bitmap

import "math/bits"

// WordCapacity is the number of bits a Word can hold
const WordCapacity = 64

// Word is an inline bit set of up to 64 bits. It is used where a per-object set must not
// allocate, such as the command buffer ownership bits of a tracked resource.
type Word uint64

// Set sets a bit and returns true if the bit was previously clear
func (w *Word) Set(bit int) bool {
	mask := Word(1) << bit
	if *w&mask != 0 {
		return false
	}

	*w |= mask
	return true
}

func (w *Word) Clear(bit int) {
	*w &^= Word(1) << bit
}

func (w Word) IsSet(bit int) bool {
	return w&(Word(1)<<bit) != 0
}

func (w Word) AnySet() bool {
	return w != 0
}

func (w Word) Count() int {
	return bits.OnesCount64(uint64(w))
}

func (w Word) ForEach(cb func(bit int)) {
	for w != 0 {
		bit := bits.TrailingZeros64(uint64(w))
		w &= w - 1
		cb(bit)
	}
}
