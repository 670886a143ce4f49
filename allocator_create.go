package osmem

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"golang.org/x/exp/slog"

	"github.com/osmem-go/osmem/mem"
	"github.com/osmem-go/osmem/memutils"
	"github.com/osmem-go/osmem/metadata"
)

const (
	// DefaultMapThreshold is the heap-vs-mapping boundary used when none is
	// provided via CreateOptions. It is equal to 128KiB.
	DefaultMapThreshold int = 128 * 1024
)

// CreateOptions contains optional settings when creating an allocator
type CreateOptions struct {
	// Source supplies the OS memory-acquisition primitives. When nil,
	// mem.System() is used.
	Source mem.Source

	// MapThreshold is the boundary between heap-backed blocks and dedicated
	// anonymous mappings: a request whose header-inclusive aligned size
	// reaches the threshold is served by mapping. It must be a multiple of
	// the alignment quantum and large enough to carry block headers. When 0,
	// DefaultMapThreshold is used. Calloc substitutes the system page size
	// for this value.
	MapThreshold int
}

// New creates a new Allocator
//
// logger - Optional: the logger the allocator reports through. When nil,
// slog.Default() is used.
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, options CreateOptions) (*Allocator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	source := options.Source
	if source == nil {
		source = mem.System()
	}

	threshold := options.MapThreshold
	if threshold == 0 {
		threshold = DefaultMapThreshold
	}
	if threshold != memutils.AlignBlock(threshold) {
		return nil, errors.Newf("MapThreshold %d is not a multiple of the alignment quantum", threshold)
	}
	if threshold <= 2*metadata.HeaderSize {
		return nil, errors.Newf("MapThreshold %d cannot accommodate block headers", threshold)
	}

	return &Allocator{
		logger: logger,
		source: source,

		mapped: swiss.NewMap[uintptr, *metadata.Block](8),

		mapThreshold: threshold,
	}, nil
}
