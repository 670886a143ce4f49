// Package mem abstracts the two OS-level memory-acquisition primitives the
// allocator is built on: incremental growth of the process data segment and
// anonymous private mappings.
package mem

import "unsafe"

// Source obtains raw memory from the operating system (or a stand-in for it).
//
// Every successful call returns a fresh address range that overlaps no range
// previously handed out by the same Source. Errors are not retryable: a
// consumer that cannot fall back to another acquisition strategy must treat
// them as fatal.
type Source interface {
	// Grow extends the data segment by exactly delta bytes and returns the
	// base address of the freshly added range. Ranges returned by successive
	// Grow calls are contiguous and ascending.
	Grow(delta int) (unsafe.Pointer, error)

	// Map establishes an anonymous private mapping of length bytes,
	// independent of the data segment.
	Map(length int) (unsafe.Pointer, error)

	// Unmap releases a mapping previously established by Map. The address
	// must be exactly the address Map returned and length must be the length
	// it was created with; the memory is gone once Unmap returns.
	Unmap(p unsafe.Pointer, length int) error

	// PageSize reports the system page size in bytes.
	PageSize() int
}
