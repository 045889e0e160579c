package vmem

import (
	"fmt"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/go-stack/stack"
	"go.uber.org/zap"
)

// Allocator is the capability every container and allocator in this
// package is written against.
//
// Alloc returns a slice of exactly n bytes. Calloc is Alloc(count*size)
// with the bytes zeroed. Realloc resizes a live block and may move it:
// Realloc(nil, n) behaves as Alloc(n) and Realloc(b, 0) frees b and
// returns nil. Free(nil) is a no-op.
//
// A block obtained from an Allocator must only be reallocated or freed
// through that same Allocator. Zero-size requests return a nil slice.
type Allocator interface {
	Alloc(n int) ([]byte, error)
	Calloc(count, size int) ([]byte, error)
	Realloc(b []byte, n int) ([]byte, error)
	Free(b []byte)
}

var (
	// ErrOutOfMemory is returned when a request cannot be satisfied.
	ErrOutOfMemory = errors.New("vmem: out of memory")

	// ErrInvalidSize is returned for negative sizes.
	ErrInvalidSize = errors.New("vmem: invalid allocation size")

	// ErrTooLarge is returned by an Arena when an aligned request exceeds
	// the usable size of a page. It is also an ErrOutOfMemory.
	ErrTooLarge = errors.Mark(errors.New("vmem: size too large for arena page"), ErrOutOfMemory)

	// ErrReleased is returned when an allocator is used after teardown.
	ErrReleased = errors.New("vmem: use after release")

	// ErrGenerationWrap is returned when a tracker generation overflows.
	ErrGenerationWrap = errors.New("vmem: generation wrap-around")
)

// isNull reports whether b is the null block.
func isNull(b []byte) bool {
	return cap(b) == 0
}

// checkedMul returns count*size, failing on negative input or overflow.
func checkedMul(count, size int) (int, error) {
	if count < 0 || size < 0 {
		return 0, errors.Wrapf(ErrInvalidSize, "calloc(%d, %d)", count, size)
	}
	if size != 0 && count > math.MaxInt/size {
		return 0, errors.Wrapf(ErrOutOfMemory, "calloc(%d, %d) overflows", count, size)
	}
	return count * size, nil
}

// alignUp rounds n up to a multiple of align, which must be a power of two.
func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// callSite formats the frame skip levels above its caller as
// path/file.go:line.
func callSite(skip int) string {
	c := stack.Caller(skip + 1)
	if c.Frame().PC == 0 {
		return unknownLocation
	}
	return fmt.Sprintf("%+v", c)
}

const unknownLocation = "(unknown)"

// traceAlloc logs one allocator call when tracing is on. skip counts
// frames above the caller of traceAlloc, as for callSite.
func traceAlloc(log *zap.Logger, on bool, prefix string, n int, skip int) {
	if !on {
		return
	}
	log.Debug("alloc", zap.String("allocator", prefix), zap.Int("size", n), zap.String("at", callSite(skip+1)))
}

// assertf panics with an assertion failure; used for invalid use that
// would be undefined behaviour in the C heritage of this package.
func assertf(format string, args ...interface{}) {
	panic(errors.AssertionFailedf(format, args...))
}
