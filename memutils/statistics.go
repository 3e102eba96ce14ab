package memutils

import "github.com/launchdarkly/go-jsonstream/v3/jwriter"

// Statistics describes the occupancy of a set of fixed-size blocks, such as a staging ring or a
// group of descriptor pools. Allocations are the live suballocations handed out from those blocks.
type Statistics struct {
	BlockCount          int
	AllocationCount     int
	BlockBytes          int
	AllocationBytes     int
	PeakAllocationBytes int
}

func (s *Statistics) AddAllocation(size int) {
	s.AllocationCount++
	s.AllocationBytes += size

	if s.AllocationBytes > s.PeakAllocationBytes {
		s.PeakAllocationBytes = s.AllocationBytes
	}
}

func (s *Statistics) RemoveAllocation(size int) {
	s.AllocationCount--
	s.AllocationBytes -= size
}

// UnusedBytes is the number of block bytes not covered by a live allocation
func (s *Statistics) UnusedBytes() int {
	return s.BlockBytes - s.AllocationBytes
}

func (s *Statistics) PrintJson(json jwriter.ObjectState) {
	json.Name("BlockCount").Int(s.BlockCount)
	json.Name("BlockBytes").Int(s.BlockBytes)
	json.Name("AllocationCount").Int(s.AllocationCount)
	json.Name("AllocationBytes").Int(s.AllocationBytes)
	json.Name("PeakAllocationBytes").Int(s.PeakAllocationBytes)
	json.Name("UnusedBytes").Int(s.UnusedBytes())
}
