package osmem

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/slog"

	"github.com/osmem-go/osmem/memutils"
	"github.com/osmem-go/osmem/metadata"
)

// Stats collects basic allocation counters across the heap list and the live
// mapped regions.
func (a *Allocator) Stats() memutils.Statistics {
	var stats memutils.DetailedStatistics
	stats.Clear()
	a.AddDetailedStatistics(&stats)

	return stats.Statistics
}

// AddDetailedStatistics sums this allocator's statistics into the statistics
// currently present in the provided memutils.DetailedStatistics object. This
// walks the full heap list.
func (a *Allocator) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	a.list.AddDetailedStatistics(stats)

	a.mapped.Iter(func(_ uintptr, block *metadata.Block) bool {
		stats.BlockCount++
		stats.BlockBytes += block.Size()
		stats.AddAllocation(block.Size())
		return false
	})
}

// BuildStatsString builds a JSON string detailing the current state of the
// allocator. The detailed form lists every heap block and mapped region and
// should generally only be used for diagnostic purposes.
func (a *Allocator) BuildStatsString(detailed bool) string {
	writer := jwriter.NewWriter()
	obj := writer.Object()

	var stats memutils.DetailedStatistics
	stats.Clear()
	a.AddDetailedStatistics(&stats)

	general := obj.Name("General").Object()
	general.Name("BlockCount").Int(stats.BlockCount)
	general.Name("BlockBytes").Int(stats.BlockBytes)
	general.Name("AllocationCount").Int(stats.AllocationCount)
	general.Name("AllocationBytes").Int(stats.AllocationBytes)
	general.Name("UnusedRangeCount").Int(stats.UnusedRangeCount)
	general.End()

	if detailed {
		heap := obj.Name("HeapBlocks").Array()
		_ = a.list.VisitBlocks(func(b *metadata.Block) error {
			blockObj := heap.Object()
			blockObj.Name("Size").Int(b.Size())
			blockObj.Name("Status").String(b.Status().String())
			blockObj.End()
			return nil
		})
		heap.End()

		mapped := obj.Name("MappedRegions").Array()
		a.mapped.Iter(func(_ uintptr, b *metadata.Block) bool {
			regionObj := mapped.Object()
			regionObj.Name("Size").Int(b.Size())
			regionObj.End()
			return false
		})
		mapped.End()
	}

	obj.End()
	return string(writer.Bytes())
}

// DebugLogAllAllocations will log, at debug level, every live allocation the
// allocator is serving, both heap-backed and mapped.
func (a *Allocator) DebugLogAllAllocations(logger *slog.Logger) {
	_ = a.list.VisitBlocks(func(b *metadata.Block) error {
		if !b.IsFree() {
			logger.Debug("live heap allocation",
				slog.Uint64("address", uint64(uintptr(b.Payload()))),
				slog.Int("size", b.Size()))
		}
		return nil
	})

	a.mapped.Iter(func(addr uintptr, b *metadata.Block) bool {
		logger.Debug("live mapped allocation",
			slog.Uint64("address", uint64(addr)),
			slog.Int("size", b.Size()))
		return false
	})
}
