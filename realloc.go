package osmem

import (
	"unsafe"

	"github.com/osmem-go/osmem/memutils"
	"github.com/osmem-go/osmem/metadata"
)

// Realloc returns a region of at least size bytes whose content matches the
// original region up to the smaller of the two sizes.
//
// A nil pointer behaves like Malloc(size), a zero size behaves like Free(ptr)
// and returns nil, and resizing a block that is currently free is a caller
// error reported as nil with no mutation. In-place reuse is preferred: the
// tail block grows by moving the heap break, other heap blocks grow by
// absorbing free successors while that keeps them under the map threshold,
// and shrinking splits off the surplus when it can carry a header of its own.
// Only when none of that suffices is the content moved to a fresh region and
// the original released. A relocation failure returns nil and leaves the
// original region untouched.
func (a *Allocator) Realloc(ptr unsafe.Pointer, size int) unsafe.Pointer {
	if ptr == nil {
		return a.Malloc(size)
	}

	if size == 0 {
		a.Free(ptr)
		return nil
	}

	if size < 0 {
		return nil
	}

	block := metadata.FromPayload(ptr)
	if block.IsFree() {
		return nil
	}

	newAligned := memutils.AlignBlock(size)
	newInclusive := newAligned + metadata.HeaderSize
	oldInclusive := block.Size() + metadata.HeaderSize

	// The tail grows in place by moving the break, mirroring allocation's
	// tail-extension shortcut
	if block == a.list.Tail() && oldInclusive < newInclusive && newAligned < a.mapThreshold-metadata.HeaderSize {
		_, err := a.source.Grow(newAligned - block.Size())
		if err != nil {
			a.fatal("heap break growth failed", err)
		}

		block.SetSize(newAligned)
		block.MarkAllocated()

		memutils.DebugValidate(a)
		return ptr
	}

	// Growing under the threshold: absorb free successors until the block is
	// large enough or absorbing would push it over the threshold
	if oldInclusive < newInclusive && newInclusive < a.mapThreshold {
		for block.Next() != nil && block.Next().IsFree() {
			merged := memutils.AlignBlock(block.Size() + block.Next().Size() + metadata.HeaderSize)
			if merged > a.mapThreshold {
				break
			}

			a.list.AbsorbNext(block)

			if block.Size()+metadata.HeaderSize >= newInclusive {
				break
			}
		}
	}

	oldInclusive = block.Size() + metadata.HeaderSize

	if oldInclusive == newInclusive {
		return ptr
	}

	// More than a header's worth of surplus beyond the target
	if oldInclusive > newInclusive+metadata.HeaderSize {
		if block.Status() == metadata.StatusMapped {
			// Mapped regions cannot be split in place; move the content to a
			// right-sized region instead
			return a.relocate(ptr, block, size, newAligned)
		}

		a.list.Split(block, size)
		memutils.DebugValidate(a)
		return ptr
	}

	// Surplus too small to split: the padding stays with the block
	if oldInclusive > newInclusive {
		return ptr
	}

	// Insufficient room after all coalescing
	return a.relocate(ptr, block, size, newAligned)
}

// relocate serves a resize that cannot reuse the block in place: allocate
// fresh, copy the lesser of the two payload capacities, release the original.
// On allocation failure the original block is left untouched and nil is
// returned.
func (a *Allocator) relocate(ptr unsafe.Pointer, block *metadata.Block, size, newAligned int) unsafe.Pointer {
	newPtr := a.Malloc(size)
	if newPtr == nil {
		return nil
	}

	length := block.Size()
	if newAligned < length {
		length = newAligned
	}
	copy(unsafe.Slice((*byte)(newPtr), length), unsafe.Slice((*byte)(ptr), length))

	a.Free(ptr)
	memutils.DebugValidate(a)
	return newPtr
}
