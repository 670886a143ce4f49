package metadata

import (
	"unsafe"

	"github.com/osmem-go/osmem/memutils"
)

// Status describes the lifecycle state of a block.
type Status uint32

const (
	// StatusFree indicates a heap-backed block that is available for reuse
	StatusFree Status = iota
	// StatusAllocated indicates a heap-backed block that is in use by the consumer
	StatusAllocated
	// StatusMapped indicates a block backed by its own anonymous mapping. Mapped
	// blocks are singletons: never linked, split, or coalesced, and their memory
	// is returned to the OS on free.
	StatusMapped
)

var statusMapping = map[Status]string{
	StatusFree:      "StatusFree",
	StatusAllocated: "StatusAllocated",
	StatusMapped:    "StatusMapped",
}

func (s Status) String() string {
	return statusMapping[s]
}

// Block is the metadata header physically prefixed to every managed region.
// The payload immediately follows the header in memory, so a payload address
// always maps back to its header by subtracting HeaderSize.
//
// Block values are never created with new() or composite literals; they are
// laid over raw memory obtained from a mem.Source via InitBlock.
type Block struct {
	// size is the payload capacity in bytes, always a multiple of the
	// alignment quantum and never including HeaderSize
	size int
	// next is the block immediately following this one in list order, nil at
	// the tail. Mapped blocks always carry nil here.
	next *Block
	// status is the lifecycle state of the block
	status Status
}

// HeaderSize is the per-block metadata overhead: the size of the Block struct
// rounded up to the alignment quantum. A block's header-inclusive size is
// Size() + HeaderSize.
const HeaderSize = int((unsafe.Sizeof(Block{}) + uintptr(memutils.BlockAlignment) - 1) &^ (uintptr(memutils.BlockAlignment) - 1))

// InitBlock lays a block header over the raw region starting at p. The region
// must be at least HeaderSize + AlignBlock(size) bytes long. The payload
// capacity is rounded up to the alignment quantum.
func InitBlock(p unsafe.Pointer, size int, status Status) *Block {
	b := (*Block)(p)
	b.size = memutils.AlignBlock(size)
	b.next = nil
	b.status = status

	if status == StatusFree {
		b.stampFreeMargin()
	}
	return b
}

// FromPayload recovers the block header governing a payload address that was
// previously handed out via Payload. This is the single place where the
// "subtract the header" conversion happens.
func FromPayload(payload unsafe.Pointer) *Block {
	return (*Block)(unsafe.Add(payload, -HeaderSize))
}

// Payload returns the address of the first usable byte of the block.
func (b *Block) Payload() unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(b), HeaderSize)
}

// PayloadBytes exposes the block's full payload capacity as a byte slice.
func (b *Block) PayloadBytes() []byte {
	return unsafe.Slice((*byte)(b.Payload()), b.size)
}

// Addr returns the address of the block header, used only for ordering checks
// and diagnostics.
func (b *Block) Addr() uintptr {
	return uintptr(unsafe.Pointer(b))
}

// Size returns the payload capacity of the block in bytes.
func (b *Block) Size() int {
	return b.size
}

// SetSize replaces the payload capacity. The value must already be a multiple
// of the alignment quantum.
func (b *Block) SetSize(size int) {
	if size != memutils.AlignBlock(size) {
		panic("block size must be aligned to the block alignment quantum")
	}
	b.size = size
}

// Status returns the lifecycle state of the block.
func (b *Block) Status() Status {
	return b.status
}

func (b *Block) IsFree() bool {
	return b.status == StatusFree
}

func (b *Block) MarkFree() {
	b.status = StatusFree
	b.stampFreeMargin()
}

// stampFreeMargin writes the corruption-detection marker at the start of a
// free block's payload. Blocks too small to hold the margin are skipped.
func (b *Block) stampFreeMargin() {
	if memutils.DebugMargin > 0 && b.size >= memutils.DebugMargin {
		memutils.WriteMagicValue(b.Payload(), 0)
	}
}

// freeMarginIntact reports whether the corruption-detection marker stamped at
// free time is still present.
func (b *Block) freeMarginIntact() bool {
	if memutils.DebugMargin > 0 && b.size >= memutils.DebugMargin {
		return memutils.ValidateMagicValue(b.Payload(), 0)
	}
	return true
}

func (b *Block) MarkAllocated() {
	b.status = StatusAllocated
}

func (b *Block) MarkMapped() {
	b.status = StatusMapped
}

// Next returns the block immediately following this one in list order, or nil
// at the tail.
func (b *Block) Next() *Block {
	return b.next
}

func (b *Block) SetNext(next *Block) {
	b.next = next
}
