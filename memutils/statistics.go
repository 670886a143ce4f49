package memutils

import "math"

// Statistics is a basic set of allocation counters that can be cheaply
// collected from any block list or region registry.
type Statistics struct {
	// BlockCount is the number of managed regions (heap blocks and live mappings)
	BlockCount int
	// AllocationCount is the number of regions currently in use by the consumer
	AllocationCount int
	// BlockBytes is the payload capacity of all managed regions, in bytes
	BlockBytes int
	// AllocationBytes is the payload capacity of all in-use regions, in bytes
	AllocationBytes int
}

func (s *Statistics) Clear() {
	s.BlockCount = 0
	s.AllocationCount = 0
	s.BlockBytes = 0
	s.AllocationBytes = 0
}

// DetailedStatistics extends Statistics with min/max extremes and a count of
// free ranges. Collecting it requires a full walk of the block list.
type DetailedStatistics struct {
	Statistics
	UnusedRangeCount   int
	AllocationSizeMin  int
	AllocationSizeMax  int
	UnusedRangeSizeMin int
	UnusedRangeSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.UnusedRangeCount = 0
	s.AllocationSizeMin = math.MaxInt
	s.AllocationSizeMax = 0
	s.UnusedRangeSizeMin = math.MaxInt
	s.UnusedRangeSizeMax = 0
}

func (s *DetailedStatistics) AddUnusedRange(size int) {
	s.UnusedRangeCount++

	if size < s.UnusedRangeSizeMin {
		s.UnusedRangeSizeMin = size
	}

	if size > s.UnusedRangeSizeMax {
		s.UnusedRangeSizeMax = size
	}
}

func (s *DetailedStatistics) AddAllocation(size int) {
	s.AllocationCount++
	s.AllocationBytes += size

	if size < s.AllocationSizeMin {
		s.AllocationSizeMin = size
	}

	if size > s.AllocationSizeMax {
		s.AllocationSizeMax = size
	}
}
