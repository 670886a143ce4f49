//go:build !linux

package mem

import (
	"os"
	"unsafe"

	"github.com/cockroachdb/errors"
)

// unsupportedSource stands in for the OS source on platforms without a usable
// brk(2). Acquisition always fails; consumers on these platforms should build
// on a SimSource instead.
type unsupportedSource struct{}

// System returns the Source backed by the operating system's own primitives.
// On this platform no such source exists, so the returned Source fails on
// first use.
func System() Source {
	return unsupportedSource{}
}

func (unsupportedSource) Grow(delta int) (unsafe.Pointer, error) {
	return nil, errors.New("data segment growth is not supported on this platform")
}

func (unsupportedSource) Map(length int) (unsafe.Pointer, error) {
	return nil, errors.New("anonymous mapping is not supported on this platform")
}

func (unsupportedSource) Unmap(p unsafe.Pointer, length int) error {
	return errors.New("anonymous mapping is not supported on this platform")
}

func (unsupportedSource) PageSize() int {
	return os.Getpagesize()
}
