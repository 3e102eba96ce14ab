package resource

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBufferRangeListMerges(t *testing.T) {
	testCases := map[string]struct {
		adds     []BufferRange
		expected []BufferRange
	}{
		"Disjoint": {
			adds:     []BufferRange{{Offset: 20, Size: 5}, {Offset: 0, Size: 5}, {Offset: 40, Size: 10}},
			expected: []BufferRange{{Offset: 0, Size: 5}, {Offset: 20, Size: 5}, {Offset: 40, Size: 10}},
		},
		"Adjacent": {
			adds:     []BufferRange{{Offset: 0, Size: 8}, {Offset: 8, Size: 8}},
			expected: []BufferRange{{Offset: 0, Size: 16}},
		},
		"Overlapping": {
			adds:     []BufferRange{{Offset: 4, Size: 8}, {Offset: 0, Size: 6}},
			expected: []BufferRange{{Offset: 0, Size: 12}},
		},
		"Contained": {
			adds:     []BufferRange{{Offset: 0, Size: 100}, {Offset: 10, Size: 10}},
			expected: []BufferRange{{Offset: 0, Size: 100}},
		},
		"BridgesSeveral": {
			adds:     []BufferRange{{Offset: 0, Size: 4}, {Offset: 10, Size: 4}, {Offset: 20, Size: 4}, {Offset: 30, Size: 4}, {Offset: 2, Size: 20}},
			expected: []BufferRange{{Offset: 0, Size: 24}, {Offset: 30, Size: 4}},
		},
		"ZeroSizeIgnored": {
			adds:     []BufferRange{{Offset: 5, Size: 0}},
			expected: []BufferRange{},
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			list := NewBufferRangeList(2)
			for _, r := range testCase.adds {
				list.Add(1, r.Offset, r.Size)
			}

			require.Equal(t, testCase.expected, append([]BufferRange{}, list.Ranges(1)...))
			require.Empty(t, list.Ranges(0))
			require.NoError(t, list.Validate())
		})
	}
}

func TestBufferRangeListOverlaps(t *testing.T) {
	list := NewBufferRangeList(2)
	list.Add(0, 16, 16)
	list.Add(0, 64, 8)

	require.False(t, list.OverlapsWith(0, 0, 16))
	require.True(t, list.OverlapsWith(0, 0, 17))
	require.True(t, list.OverlapsWith(0, 31, 1))
	require.False(t, list.OverlapsWith(0, 32, 32))
	require.True(t, list.OverlapsWith(0, 32, 33))
	require.False(t, list.OverlapsWith(0, 72, 100))
	require.False(t, list.OverlapsWith(1, 16, 16))

	require.True(t, list.OverlapsWithAny(20, 1))
	list.Clear(0)
	require.False(t, list.OverlapsWithAny(20, 1))
}

func TestBufferRangeListMatchesReferenceUnion(t *testing.T) {
	const bufferSize = 512
	rng := rand.New(rand.NewSource(1234))

	for iteration := 0; iteration < 50; iteration++ {
		list := NewBufferRangeList(1)
		var covered [bufferSize]bool

		for step := 0; step < 40; step++ {
			offset := rng.Intn(bufferSize - 1)
			size := 1 + rng.Intn(bufferSize-offset-1)
			if rng.Intn(4) == 0 {
				size = 1 + rng.Intn(8)
				if offset+size > bufferSize {
					size = bufferSize - offset
				}
			}

			list.Add(0, offset, size)
			for i := offset; i < offset+size; i++ {
				covered[i] = true
			}

			require.NoError(t, list.Validate())

			var fromList [bufferSize]bool
			for _, r := range list.Ranges(0) {
				for i := r.Offset; i < r.End(); i++ {
					fromList[i] = true
				}
			}
			require.Equal(t, covered, fromList)

			queryOffset := rng.Intn(bufferSize)
			querySize := 1 + rng.Intn(bufferSize-queryOffset)
			expected := false
			for i := queryOffset; i < queryOffset+querySize; i++ {
				expected = expected || covered[i]
			}
			require.Equal(t, expected, list.OverlapsWith(0, queryOffset, querySize))
		}
	}
}
