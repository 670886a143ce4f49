package mem

import (
	"unsafe"

	"github.com/cockroachdb/errors"

	"github.com/osmem-go/osmem/memutils"
)

// DefaultSimReserve is the data segment capacity a SimSource reserves when no
// explicit reserve is given.
const DefaultSimReserve = 4 * 1024 * 1024

// SimSource simulates the OS primitives inside the process, with no syscalls.
// The data segment is a slab reserved up front, so Grow hands out contiguous
// ascending ranges exactly like a real program break, and mappings are plain
// heap buffers tracked until Unmap. It exists for tests and for platforms
// where the real primitives are unavailable.
type SimSource struct {
	slab []byte
	// base is the first aligned byte of the slab; brk is the simulated break
	base     int
	brk      int
	mappings map[uintptr][]byte
	pageSize int
}

// NewSimSource reserves a simulated data segment of the given capacity.
// Passing 0 reserves DefaultSimReserve bytes.
func NewSimSource(reserve int) *SimSource {
	if reserve == 0 {
		reserve = DefaultSimReserve
	}

	s := &SimSource{
		slab:     make([]byte, reserve),
		mappings: make(map[uintptr][]byte),
		pageSize: 4096,
	}

	// Start the simulated break at the slab's first aligned byte so every
	// block header lands on the alignment quantum
	base := uintptr(unsafe.Pointer(&s.slab[0]))
	if rem := base % uintptr(memutils.BlockAlignment); rem != 0 {
		s.base = int(uintptr(memutils.BlockAlignment) - rem)
	}
	s.brk = s.base

	return s
}

func (s *SimSource) Grow(delta int) (unsafe.Pointer, error) {
	if delta <= 0 {
		return nil, errors.Newf("invalid data segment growth: %d bytes", delta)
	}
	if s.brk+delta > len(s.slab) {
		return nil, errors.Newf("simulated data segment exhausted: %d bytes requested, %d remaining", delta, len(s.slab)-s.brk)
	}

	p := unsafe.Pointer(&s.slab[s.brk])
	s.brk += delta
	return p, nil
}

func (s *SimSource) Map(length int) (unsafe.Pointer, error) {
	if length <= 0 {
		return nil, errors.Newf("invalid mapping length: %d bytes", length)
	}

	// Over-allocate so the handed-out base can be aligned to the quantum
	buffer := make([]byte, length+int(memutils.BlockAlignment))
	base := uintptr(unsafe.Pointer(&buffer[0]))
	offset := 0
	if rem := base % uintptr(memutils.BlockAlignment); rem != 0 {
		offset = int(uintptr(memutils.BlockAlignment) - rem)
	}

	p := unsafe.Pointer(&buffer[offset])
	s.mappings[uintptr(p)] = buffer
	return p, nil
}

func (s *SimSource) Unmap(p unsafe.Pointer, length int) error {
	buffer, ok := s.mappings[uintptr(p)]
	if !ok {
		return errors.Newf("address %#x is not the base of a live simulated mapping", uintptr(p))
	}
	if length > len(buffer) {
		return errors.Newf("simulated mapping at %#x is %d bytes long, not %d", uintptr(p), len(buffer), length)
	}

	delete(s.mappings, uintptr(p))
	return nil
}

func (s *SimSource) PageSize() int {
	return s.pageSize
}

// HeapBytes reports how many bytes of the simulated data segment have been
// handed out so far. Test hook.
func (s *SimSource) HeapBytes() int {
	return s.brk - s.base
}

// MappingCount reports the number of live simulated mappings. Test hook.
func (s *SimSource) MappingCount() int {
	return len(s.mappings)
}
