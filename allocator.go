// Package osmem is a user-space dynamic memory allocator built directly on
// the two OS-level acquisition primitives: incremental growth of the process
// data segment and anonymous private mappings. It manages a pool of
// variably-sized blocks with best-fit search, splitting, and lazy coalescing,
// and routes large requests to their own mappings so they never pollute the
// heap.
//
// An Allocator assumes a single in-flight operation at a time. Concurrent
// consumers must serialize access externally.
package osmem

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"golang.org/x/exp/slog"

	"github.com/osmem-go/osmem/mem"
	"github.com/osmem-go/osmem/memutils"
	"github.com/osmem-go/osmem/metadata"
)

// Allocator owns a heap block list and a registry of live mapped regions and
// serves the allocate/zero-allocate/resize/release family from them.
type Allocator struct {
	logger *slog.Logger
	source mem.Source

	list metadata.HeapList
	// mapped tracks every live mapped region by payload address. Mapped
	// blocks never enter the heap list.
	mapped *swiss.Map[uintptr, *metadata.Block]

	mapThreshold int
}

// Malloc returns the address of a region of at least size usable bytes, or
// nil when size is not positive. Requests whose header-inclusive aligned size
// falls under the map threshold are served from the heap; larger requests get
// their own anonymous mapping. Exhaustion of the underlying OS primitive is
// fatal and panics after logging.
func (a *Allocator) Malloc(size int) unsafe.Pointer {
	if size <= 0 {
		return nil
	}

	p := a.allocAux(size, a.mapThreshold)
	memutils.DebugValidate(a)
	return p
}

// Calloc returns a zero-filled region of count*elemSize bytes, or nil when
// either argument is not positive or the multiplication overflows. Unlike
// Malloc, the heap-vs-mapping decision uses the system page size as the
// threshold.
func (a *Allocator) Calloc(count, elemSize int) unsafe.Pointer {
	if count <= 0 || elemSize <= 0 {
		return nil
	}

	total := count * elemSize
	if total/count != elemSize {
		// A wrapped size would silently serve a shorter region than the
		// caller asked for
		a.logger.Warn("calloc size computation overflows",
			slog.Int("count", count),
			slog.Int("elemSize", elemSize))
		return nil
	}

	p := a.allocAux(total, a.source.PageSize())
	if p == nil {
		return nil
	}

	payload := unsafe.Slice((*byte)(p), total)
	for i := range payload {
		payload[i] = 0
	}

	memutils.DebugValidate(a)
	return p
}

// Free releases a region returned by Malloc, Calloc, or Realloc. A nil
// pointer is a no-op. Heap-backed regions are only flipped back to free and
// stay available for reuse; mapped regions are returned to the OS and cease
// to exist. Freeing a heap pointer that is already free is undefined
// behavior: no liveness tracking is performed for heap blocks.
func (a *Allocator) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}

	block := metadata.FromPayload(ptr)

	switch block.Status() {
	case metadata.StatusAllocated:
		block.MarkFree()

	case metadata.StatusMapped:
		if _, ok := a.mapped.Get(uintptr(ptr)); !ok {
			a.logger.Warn("free of unknown mapped pointer",
				slog.Uint64("address", uint64(uintptr(ptr))))
			return
		}
		a.mapped.Delete(uintptr(ptr))

		err := a.source.Unmap(unsafe.Pointer(block), block.Size()+metadata.HeaderSize)
		if err != nil {
			a.fatal("munmap failed", err)
		}
	}

	memutils.DebugValidate(a)
}

// UsableSize reports the payload capacity of the region behind ptr, which may
// exceed the size originally requested because of alignment or retained
// padding. Returns 0 for a nil pointer.
func (a *Allocator) UsableSize(ptr unsafe.Pointer) int {
	if ptr == nil {
		return 0
	}

	return metadata.FromPayload(ptr).Size()
}

// allocAux implements the allocation decision sequence shared by Malloc and
// Calloc, parameterized on the heap-vs-mapping threshold.
func (a *Allocator) allocAux(size, threshold int) unsafe.Pointer {
	if size <= 0 {
		return nil
	}

	aligned := memutils.AlignBlock(size)

	// Serve from existing memory when the request is small enough to live on
	// the heap
	if a.list.Initialized() && aligned < threshold {
		block := a.list.FindBestFit(aligned)
		if block != nil {
			block.MarkAllocated()
			return block.Payload()
		}
	}

	// A free tail that is too small is not abandoned: grow the break by the
	// deficit and extend it in place
	tail := a.list.Tail()
	if tail != nil && tail.IsFree() && tail.Size() < aligned && aligned < threshold-metadata.HeaderSize {
		_, err := a.source.Grow(aligned - tail.Size())
		if err != nil {
			a.fatal("heap break growth failed", err)
		}

		tail.SetSize(aligned)
		tail.MarkAllocated()
		return tail.Payload()
	}

	// First heap use: pre-grow by one full threshold-sized block to amortize
	// the cost of many small requests, then serve this one from it
	if !a.list.Initialized() && aligned < threshold-metadata.HeaderSize {
		a.preallocate()

		block := a.list.FindBestFit(aligned)
		if block == nil {
			panic("preallocated segment could not satisfy an under-threshold request")
		}

		block.MarkAllocated()
		return block.Payload()
	}

	block := a.createBlock(aligned, threshold-metadata.HeaderSize)
	if block.Status() == metadata.StatusAllocated {
		a.list.Append(block)
	}

	return block.Payload()
}

// createBlock acquires a freshly backed block from the OS: heap growth below
// the limit, an anonymous mapping at or above it. OS failure is fatal.
func (a *Allocator) createBlock(size, limit int) *metadata.Block {
	aligned := memutils.AlignBlock(size)
	inclusive := aligned + metadata.HeaderSize

	if aligned < limit {
		p, err := a.source.Grow(inclusive)
		if err != nil {
			a.fatal("heap break growth failed", err)
		}

		return metadata.InitBlock(p, aligned, metadata.StatusAllocated)
	}

	p, err := a.source.Map(inclusive)
	if err != nil {
		a.fatal("anonymous mapping failed", err)
	}

	block := metadata.InitBlock(p, aligned, metadata.StatusMapped)
	a.mapped.Put(uintptr(block.Payload()), block)
	return block
}

// preallocate performs the first-ever heap growth: one full threshold-sized
// free block that becomes both head and tail of the list.
func (a *Allocator) preallocate() {
	block := a.createBlock(a.mapThreshold-metadata.HeaderSize, a.mapThreshold)
	block.MarkFree()
	a.list.InitFirst(block)
}

// fatal reports an unrecoverable OS-level failure. The allocator has no
// fallback strategy once the OS denies memory, so this never returns.
func (a *Allocator) fatal(msg string, err error) {
	a.logger.Error(msg, slog.Any("error", err))
	panic(errors.Wrap(err, msg))
}

// Validate performs internal consistency checks on the heap list and the
// mapped region registry. When the allocator is functioning correctly it
// should not be possible for this method to return an error.
func (a *Allocator) Validate() error {
	err := a.list.Validate()
	if err != nil {
		return err
	}

	a.mapped.Iter(func(addr uintptr, block *metadata.Block) bool {
		if block.Status() != metadata.StatusMapped {
			err = errors.Newf("registered mapping at %#x has status %s", addr, block.Status())
			return true
		}
		if block.Next() != nil {
			err = errors.Newf("mapped block at %#x is linked to a successor", addr)
			return true
		}
		if uintptr(block.Payload()) != addr {
			err = errors.Newf("mapped block registered at %#x reports payload %#x", addr, uintptr(block.Payload()))
			return true
		}
		return false
	})

	return err
}
