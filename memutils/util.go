package memutils

import (
	cerrors "github.com/cockroachdb/errors"
)

// BlockAlignment is the alignment quantum, in bytes, of every payload and
// header-inclusive size managed by this module.
const BlockAlignment uint = 8

type Number interface {
	~int | ~uint
}

func CheckPow2[T Number](number T, name string) error {
	if number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

func AlignDown(value int, alignment uint) int {
	return value & int(^(alignment - 1))
}

// AlignBlock rounds value up to the next multiple of BlockAlignment.
func AlignBlock(value int) int {
	return AlignUp(value, BlockAlignment)
}
