package metadata

import (
	"unsafe"

	"github.com/pkg/errors"

	"github.com/osmem-go/osmem/memutils"
)

// HeapList is the address-ordered chain of heap-backed blocks, rooted at a
// head/tail pair. Because every heap block is carved from the same contiguous
// data segment, list order equals ascending address order and neighboring
// list entries are physically adjacent. Mapped blocks never enter the list.
//
// HeapList carries no synchronization. The allocator that owns it assumes a
// single in-flight operation at a time.
type HeapList struct {
	head *Block
	tail *Block
}

// Initialized returns true once the first heap block has been linked in.
func (l *HeapList) Initialized() bool {
	return l.head != nil
}

// Head returns the structurally first block, or nil before initialization.
func (l *HeapList) Head() *Block {
	return l.head
}

// Tail returns the structurally last block, or nil before initialization.
func (l *HeapList) Tail() *Block {
	return l.tail
}

// InitFirst installs the very first heap block as both head and tail.
func (l *HeapList) InitFirst(b *Block) {
	if l.head != nil {
		panic("heap list is already initialized")
	}

	l.head = b
	l.tail = b
}

// Append links a freshly created heap block after the current tail and
// advances the tail. New heap blocks always sit where the heap break was, so
// appending preserves address order.
func (l *HeapList) Append(b *Block) {
	if l.head == nil {
		l.InitFirst(b)
		return
	}

	l.tail.SetNext(b)
	l.tail = b
}

// Coalesce merges every pair of adjacent free blocks into one, repeating
// until no adjacent pair is both free, then recomputes the tail as the last
// reachable node. Merging absorbs the successor's payload plus its header
// into the predecessor. Invoking Coalesce twice in a row is a no-op the
// second time.
func (l *HeapList) Coalesce() {
	curr := l.head

	for curr != nil && curr.Next() != nil {
		if curr.IsFree() && curr.Next().IsFree() {
			l.AbsorbNext(curr)
		} else {
			curr = curr.Next()
		}
	}

	l.recomputeTail()
}

// recomputeTail walks to the last reachable node and reinstalls it as the
// tail. Merging can unlink the node the tail pointed at.
func (l *HeapList) recomputeTail() {
	curr := l.head
	for curr != nil && curr.Next() != nil {
		curr = curr.Next()
	}
	l.tail = curr
}

// AbsorbNext merges b's immediate successor into b: the successor's payload
// capacity and header become part of b's payload, and the successor is
// unlinked. When the absorbed node was the tail, the tail moves back to b.
func (l *HeapList) AbsorbNext(b *Block) {
	absorbed := b.Next()
	if absorbed == nil {
		panic("cannot absorb past the tail block")
	}

	b.SetNext(absorbed.Next())
	b.SetSize(memutils.AlignBlock(b.Size() + absorbed.Size() + HeaderSize))

	if l.tail == absorbed {
		l.tail = b
	}
}

// FindBestFit returns the smallest free block whose payload capacity can hold
// size bytes, splitting off the surplus as a new free block when the winner
// is larger than the header-inclusive request. The list is coalesced first,
// so the search always sees maximally merged candidates. The first block
// encountered wins over later blocks of equal size. Returns nil when no free
// block is large enough.
//
// size must already be aligned to the block alignment quantum.
func (l *HeapList) FindBestFit(size int) *Block {
	if l.head == nil {
		return nil
	}

	l.Coalesce()

	var best *Block
	for curr := l.head; curr != nil; curr = curr.Next() {
		if !curr.IsFree() || curr.Size() < size {
			continue
		}

		// Strict comparison: of two equal fits the earlier block is kept
		if best == nil || curr.Size() < best.Size() {
			best = curr
		}
	}

	if best == nil {
		return nil
	}

	if best.Size() > memutils.AlignBlock(size+HeaderSize) {
		l.Split(best, size)
	}

	return best
}

// Split cuts b in two: b keeps the requested payload capacity (aligned) and
// its current status, and the remainder becomes a new free block linked in
// b's place as successor. The caller must have verified that b's capacity
// exceeds the header-inclusive request, so the remainder can carry a header.
// When b was the tail, the tail moves to the remainder.
func (l *HeapList) Split(b *Block, size int) *Block {
	inclusive := memutils.AlignBlock(size + HeaderSize)

	remainder := InitBlock(unsafe.Add(unsafe.Pointer(b), inclusive), b.Size()-inclusive, StatusFree)
	remainder.SetNext(b.Next())

	b.SetNext(remainder)
	b.SetSize(memutils.AlignBlock(size))

	if l.tail == b {
		l.tail = remainder
	}

	return remainder
}

// VisitBlocks calls the provided callback once for every block in list order.
func (l *HeapList) VisitBlocks(handleBlock func(b *Block) error) error {
	for curr := l.head; curr != nil; curr = curr.Next() {
		err := handleBlock(curr)
		if err != nil {
			return err
		}
	}

	return nil
}

// AddDetailedStatistics sums the list's block statistics into the statistics
// currently present in the provided memutils.DetailedStatistics object.
func (l *HeapList) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	for curr := l.head; curr != nil; curr = curr.Next() {
		stats.BlockCount++
		stats.BlockBytes += curr.Size()

		if curr.IsFree() {
			stats.AddUnusedRange(curr.Size())
		} else {
			stats.AddAllocation(curr.Size())
		}
	}
}

// Validate performs internal consistency checks on the list. When the
// allocator is functioning correctly it should not be possible for this
// method to return an error.
func (l *HeapList) Validate() error {
	if l.head == nil {
		if l.tail != nil {
			return errors.New("heap list has a tail but no head")
		}
		return nil
	}

	var last *Block
	for curr := l.head; curr != nil; curr = curr.Next() {
		if curr.Size() != memutils.AlignBlock(curr.Size()) {
			return errors.Errorf("block at %#x has unaligned size %d", curr.Addr(), curr.Size())
		}

		if curr.Status() == StatusMapped {
			return errors.Errorf("block at %#x is mapped but linked into the heap list", curr.Addr())
		}

		if curr.IsFree() && !curr.freeMarginIntact() {
			return errors.Errorf("free block at %#x was written to after being freed", curr.Addr())
		}

		next := curr.Next()
		if next != nil {
			if next.Addr() <= curr.Addr() {
				return errors.Errorf("block at %#x precedes its list successor at %#x in memory", curr.Addr(), next.Addr())
			}

			if curr.Addr()+uintptr(HeaderSize+curr.Size()) != next.Addr() {
				return errors.Errorf("block at %#x does not end at its successor's start address %#x", curr.Addr(), next.Addr())
			}
		}

		last = curr
	}

	if l.tail != last {
		return errors.Errorf("heap list tail points at %#x, but the last reachable block is at %#x", l.tail.Addr(), last.Addr())
	}

	return nil
}
