package buffer

import (
	"encoding/binary"
)

// ConvertI8ToI16 widens 8-bit indices to little-endian 16-bit indices
func ConvertI8ToI16(src []byte) []byte {
	dst := make([]byte, len(src)*2)
	for i, index := range src {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(index))
	}
	return dst
}

// ChangeStride copies every whole stride-byte element of src into a newStride-byte slot. Bytes
// past the end of each element are zero.
func ChangeStride(src []byte, stride, newStride int) []byte {
	count := len(src) / stride
	dst := make([]byte, count*newStride)

	copySize := stride
	if newStride < copySize {
		copySize = newStride
	}

	for i := 0; i < count; i++ {
		copy(dst[i*newStride:i*newStride+copySize], src[i*stride:i*stride+copySize])
	}
	return dst
}
