// Package memory provides page-granular durable memories and a manager that
// carves a single backing memory into isolated, independently growable regions.
package memory

import (
	"github.com/pkg/errors"
)

const PageSize = 64 * 1024 // 64KB

var (
	ErrOutOfBounds = errors.New("access out of memory bounds")
	ErrBadMagic    = errors.New("bad magic")
	ErrVersion     = errors.New("unsupported layout version")
	ErrRegionLimit = errors.New("no buckets left for region growth")
	ErrInvalidID   = errors.New("invalid region id")
)

// Memory is a byte-addressable store that grows in whole pages. Bytes of a
// freshly grown page read as zero.
type Memory interface {
	// Size returns the current size in pages.
	Size() uint64
	// Grow extends the memory by the given number of pages and returns the
	// previous size in pages.
	Grow(pages uint64) (uint64, error)
	Read(offset uint64, dst []byte) error
	Write(offset uint64, src []byte) error
}

// Syncer is implemented by memories that buffer writes.
type Syncer interface {
	Sync() error
}

func checkBounds(pages uint64, offset uint64, n int) error {
	end := offset + uint64(n)

	if end < offset || end > pages*PageSize {
		return errors.Wrapf(ErrOutOfBounds, "offset %d, length %d, size %d bytes", offset, n, pages*PageSize)
	}

	return nil
}

// PagesFor returns the number of pages needed to hold n bytes.
func PagesFor(n uint64) uint64 {
	return (n + PageSize - 1) / PageSize
}
