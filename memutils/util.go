package memutils

import (
	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint | ~uint32 | ~uint64
}

func CheckPow2[T Number](number T, name string) error {
	if number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

// ClampSize returns the number of bytes of a size-byte access at offset that fit inside a
// resource of totalSize bytes. Accesses that start past the end have a size of 0.
func ClampSize(offset, size, totalSize int) int {
	if offset >= totalSize || size <= 0 {
		return 0
	}
	if remaining := totalSize - offset; size > remaining {
		return remaining
	}
	return size
}

// RangesOverlap reports whether [offset1, offset1+size1) and [offset2, offset2+size2) intersect
func RangesOverlap(offset1, size1, offset2, size2 int) bool {
	return offset1 < offset2+size2 && offset2 < offset1+size1
}
