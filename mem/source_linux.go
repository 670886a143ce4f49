//go:build linux

package mem

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// systemSource is the real OS source: Grow moves the program break with
// brk(2), Map and Unmap use anonymous private mmap(2)/munmap(2).
type systemSource struct {
	// mappings remembers the slice behind every live mapping so munmap can be
	// handed back exactly what mmap produced, keyed by base address
	mappings map[uintptr][]byte
}

// System returns the Source backed by the operating system's own primitives.
func System() Source {
	return &systemSource{
		mappings: make(map[uintptr][]byte),
	}
}

// brk sets the program break to addr and returns the resulting break. Passing
// 0 leaves the break unchanged and reports its current position.
func (s *systemSource) brk(addr uintptr) uintptr {
	observed, _, _ := unix.Syscall(unix.SYS_BRK, addr, 0, 0)
	return observed
}

func (s *systemSource) Grow(delta int) (unsafe.Pointer, error) {
	if delta <= 0 {
		return nil, errors.Newf("invalid data segment growth: %d bytes", delta)
	}

	current := s.brk(0)
	want := current + uintptr(delta)

	// The raw syscall reports the old break instead of -1 when it cannot move
	observed := s.brk(want)
	if observed < want {
		return nil, errors.Newf("brk failed to extend the data segment to %#x", want)
	}

	return unsafe.Pointer(current), nil
}

func (s *systemSource) Map(length int) (unsafe.Pointer, error) {
	if length <= 0 {
		return nil, errors.Newf("invalid mapping length: %d bytes", length)
	}

	mapping, err := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, errors.Wrap(err, "mmap failed")
	}

	p := unsafe.Pointer(&mapping[0])
	s.mappings[uintptr(p)] = mapping
	return p, nil
}

func (s *systemSource) Unmap(p unsafe.Pointer, length int) error {
	mapping, ok := s.mappings[uintptr(p)]
	if !ok {
		return errors.Newf("address %#x is not the base of a live mapping", uintptr(p))
	}
	if length != len(mapping) {
		return errors.Newf("mapping at %#x is %d bytes long, not %d", uintptr(p), len(mapping), length)
	}

	delete(s.mappings, uintptr(p))
	return errors.Wrap(unix.Munmap(mapping), "munmap failed")
}

func (s *systemSource) PageSize() int {
	return unix.Getpagesize()
}
