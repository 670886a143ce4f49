package osmem_test

import (
	"io"
	"math"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"github.com/osmem-go/osmem"
	"github.com/osmem-go/osmem/mem"
	"github.com/osmem-go/osmem/metadata"
)

const testThreshold = 4096

func testAllocator(t *testing.T) (*osmem.Allocator, *mem.SimSource) {
	t.Helper()

	source := mem.NewSimSource(1 << 20)
	logger := slog.New(slog.NewTextHandler(io.Discard))

	allocator, err := osmem.New(logger, osmem.CreateOptions{
		Source:       source,
		MapThreshold: testThreshold,
	})
	require.NoError(t, err)

	return allocator, source
}

func bytesAt(p unsafe.Pointer, length int) []byte {
	return unsafe.Slice((*byte)(p), length)
}

func TestNewDefaults(t *testing.T) {
	allocator, err := osmem.New(nil, osmem.CreateOptions{Source: mem.NewSimSource(0)})
	require.NoError(t, err)
	require.NotNil(t, allocator)
}

func TestNewRejectsUnalignedThreshold(t *testing.T) {
	_, err := osmem.New(nil, osmem.CreateOptions{
		Source:       mem.NewSimSource(0),
		MapThreshold: 100,
	})
	require.Error(t, err)
}

func TestNewRejectsTinyThreshold(t *testing.T) {
	_, err := osmem.New(nil, osmem.CreateOptions{
		Source:       mem.NewSimSource(0),
		MapThreshold: metadata.HeaderSize,
	})
	require.Error(t, err)
}

func TestMallocRejectsNonPositiveSizes(t *testing.T) {
	allocator, _ := testAllocator(t)

	require.Nil(t, allocator.Malloc(0))
	require.Nil(t, allocator.Malloc(-1))
}

func TestMallocWriteReadBack(t *testing.T) {
	allocator, _ := testAllocator(t)

	p := allocator.Malloc(100)
	require.NotNil(t, p)

	payload := bytesAt(p, 100)
	for i := range payload {
		payload[i] = byte(i)
	}

	for i, b := range bytesAt(p, 100) {
		require.Equal(t, byte(i), b)
	}
}

func TestMallocPayloadsAreAligned(t *testing.T) {
	allocator, _ := testAllocator(t)

	for _, size := range []int{1, 3, 7, 8, 13, 64, 100, 511, 4072, 8000} {
		p := allocator.Malloc(size)
		require.NotNil(t, p)
		require.Equal(t, uintptr(0), uintptr(p)%8, "allocation of %d bytes is unaligned", size)
		allocator.Free(p)
	}
}

func TestFirstAllocationPreGrowsByThreshold(t *testing.T) {
	allocator, source := testAllocator(t)

	p := allocator.Malloc(100)
	require.NotNil(t, p)
	require.Equal(t, testThreshold, source.HeapBytes())

	// Later small requests are carved from the preallocated segment without
	// touching the break again
	q := allocator.Malloc(100)
	require.NotNil(t, q)
	require.Equal(t, testThreshold, source.HeapBytes())
	require.Equal(t, 0, source.MappingCount())
}

func TestBestFitReusesFreedBlock(t *testing.T) {
	allocator, source := testAllocator(t)

	p1 := allocator.Malloc(100)
	p2 := allocator.Malloc(200)
	require.NotNil(t, p1)
	require.NotNil(t, p2)

	allocator.Free(p1)
	grown := source.HeapBytes()

	p3 := allocator.Malloc(50)
	require.Equal(t, p1, p3)
	require.Equal(t, grown, source.HeapBytes())
}

func TestThresholdBoundaryServedByMapping(t *testing.T) {
	allocator, source := testAllocator(t)

	// Header-inclusive aligned size is exactly the threshold
	p := allocator.Malloc(testThreshold - metadata.HeaderSize)
	require.NotNil(t, p)
	require.Equal(t, 1, source.MappingCount())
	require.Equal(t, 0, source.HeapBytes())
}

func TestJustUnderThresholdServedByHeap(t *testing.T) {
	allocator, source := testAllocator(t)

	p := allocator.Malloc(testThreshold - metadata.HeaderSize - 8)
	require.NotNil(t, p)
	require.Equal(t, 0, source.MappingCount())
	require.Equal(t, testThreshold, source.HeapBytes())
}

func TestMappedAllocationLifecycle(t *testing.T) {
	allocator, source := testAllocator(t)

	p := allocator.Malloc(8000)
	require.NotNil(t, p)
	require.Equal(t, 1, source.MappingCount())

	payload := bytesAt(p, 8000)
	payload[0] = 0x11
	payload[7999] = 0x22

	stats := allocator.Stats()
	require.Equal(t, 1, stats.BlockCount)
	require.Equal(t, 1, stats.AllocationCount)
	require.Equal(t, 8000, stats.AllocationBytes)

	allocator.Free(p)
	require.Equal(t, 0, source.MappingCount())
	require.Equal(t, 0, allocator.Stats().BlockCount)
}

func TestFreeNilIsNoop(t *testing.T) {
	allocator, _ := testAllocator(t)

	require.NotPanics(t, func() { allocator.Free(nil) })
}

func TestFreeUnknownMappedPointerIsRejected(t *testing.T) {
	allocator, source := testAllocator(t)

	// A block that claims to be mapped but was never registered must not
	// reach the OS unmap path
	raw, err := source.Grow(metadata.HeaderSize + 64)
	require.NoError(t, err)
	foreign := metadata.InitBlock(raw, 64, metadata.StatusMapped)

	require.NotPanics(t, func() { allocator.Free(foreign.Payload()) })
	require.Equal(t, metadata.StatusMapped, foreign.Status())
}

func TestCallocZeroFillsReusedMemory(t *testing.T) {
	allocator, _ := testAllocator(t)

	dirty := allocator.Malloc(100)
	require.NotNil(t, dirty)
	payload := bytesAt(dirty, 100)
	for i := range payload {
		payload[i] = 0xFF
	}
	allocator.Free(dirty)

	p := allocator.Calloc(5, 4)
	require.NotNil(t, p)
	for _, b := range bytesAt(p, 20) {
		require.Equal(t, byte(0), b)
	}
}

func TestCallocRejectsNonPositiveArguments(t *testing.T) {
	allocator, _ := testAllocator(t)

	require.Nil(t, allocator.Calloc(0, 8))
	require.Nil(t, allocator.Calloc(8, 0))
	require.Nil(t, allocator.Calloc(-1, 8))
}

func TestCallocOverflowReturnsNil(t *testing.T) {
	allocator, _ := testAllocator(t)

	require.Nil(t, allocator.Calloc(math.MaxInt/2+2, 2))
}

func TestCallocUsesPageSizeThreshold(t *testing.T) {
	source := mem.NewSimSource(1 << 20)
	logger := slog.New(slog.NewTextHandler(io.Discard))

	// The general threshold is far above the request, so only the page-size
	// substitution can route it to a mapping
	allocator, err := osmem.New(logger, osmem.CreateOptions{Source: source})
	require.NoError(t, err)

	p := allocator.Calloc(1, 8000)
	require.NotNil(t, p)
	require.Equal(t, 1, source.MappingCount())

	q := allocator.Malloc(8000)
	require.NotNil(t, q)
	require.Equal(t, 1, source.MappingCount())
}

func TestUsableSize(t *testing.T) {
	allocator, _ := testAllocator(t)

	require.Equal(t, 0, allocator.UsableSize(nil))

	p := allocator.Malloc(100)
	require.Equal(t, 104, allocator.UsableSize(p))
}

func TestStatsTrackChurn(t *testing.T) {
	allocator, _ := testAllocator(t)

	p1 := allocator.Malloc(100)
	p2 := allocator.Malloc(200)
	p3 := allocator.Malloc(8000)

	stats := allocator.Stats()
	require.Equal(t, 3, stats.AllocationCount)
	require.Equal(t, 104+200+8000, stats.AllocationBytes)

	allocator.Free(p1)
	allocator.Free(p3)

	stats = allocator.Stats()
	require.Equal(t, 1, stats.AllocationCount)
	require.Equal(t, 200, stats.AllocationBytes)

	allocator.Free(p2)
	require.NoError(t, allocator.Validate())
}

func TestBuildStatsString(t *testing.T) {
	allocator, _ := testAllocator(t)

	p := allocator.Malloc(100)
	m := allocator.Malloc(8000)

	summary := allocator.BuildStatsString(false)
	require.Contains(t, summary, `"General"`)
	require.Contains(t, summary, `"BlockCount"`)
	require.NotContains(t, summary, `"HeapBlocks"`)

	detailed := allocator.BuildStatsString(true)
	require.Contains(t, detailed, `"HeapBlocks"`)
	require.Contains(t, detailed, `"MappedRegions"`)
	require.Contains(t, detailed, `"StatusAllocated"`)

	allocator.Free(p)
	allocator.Free(m)
}

func TestValidateAfterChurn(t *testing.T) {
	allocator, _ := testAllocator(t)

	var live []unsafe.Pointer
	for i := 1; i <= 32; i++ {
		p := allocator.Malloc(i * 24)
		require.NotNil(t, p)
		live = append(live, p)
	}

	for i := 0; i < len(live); i += 2 {
		allocator.Free(live[i])
	}

	for i := 1; i < len(live); i += 2 {
		live[i] = allocator.Realloc(live[i], (i+1)*36)
		require.NotNil(t, live[i])
	}

	require.NoError(t, allocator.Validate())
}
