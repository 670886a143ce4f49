package osmem_test

import (
	"io"
	"testing"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"

	"github.com/osmem-go/osmem"
	"github.com/osmem-go/osmem/mem/mock_mem"
	"github.com/osmem-go/osmem/metadata"
)

func mockAllocator(t *testing.T) (*osmem.Allocator, *mock_mem.MockSource) {
	t.Helper()

	ctrl := gomock.NewController(t)
	source := mock_mem.NewMockSource(ctrl)

	logger := slog.New(slog.NewTextHandler(io.Discard))
	allocator, err := osmem.New(logger, osmem.CreateOptions{
		Source:       source,
		MapThreshold: testThreshold,
	})
	require.NoError(t, err)

	return allocator, source
}

func TestMallocPanicsWhenBreakGrowthFails(t *testing.T) {
	allocator, source := mockAllocator(t)

	source.EXPECT().Grow(testThreshold).
		Return(unsafe.Pointer(nil), errors.New("out of memory"))

	require.Panics(t, func() {
		allocator.Malloc(100)
	})
}

func TestMallocPanicsWhenMappingFails(t *testing.T) {
	allocator, source := mockAllocator(t)

	source.EXPECT().Map(8000 + metadata.HeaderSize).
		Return(unsafe.Pointer(nil), errors.New("out of memory"))

	require.Panics(t, func() {
		allocator.Malloc(8000)
	})
}

func TestCallocPanicsWhenMappingFails(t *testing.T) {
	allocator, source := mockAllocator(t)

	source.EXPECT().PageSize().Return(4096)
	source.EXPECT().Map(8000 + metadata.HeaderSize).
		Return(unsafe.Pointer(nil), errors.New("out of memory"))

	require.Panics(t, func() {
		allocator.Calloc(1, 8000)
	})
}
