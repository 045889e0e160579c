package vmem

import (
	"unsafe"
)

// New returns a pointer to a zeroed T stored in memory from a.
// T must be plain data: a Go pointer stored only in allocator memory is
// invisible to the garbage collector.
func New[T any](a Allocator) (*T, error) {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if size == 0 {
		return &zero, nil
	}
	b, err := a.Calloc(1, size)
	if err != nil {
		return nil, err
	}
	return (*T)(unsafe.Pointer(unsafe.SliceData(b))), nil
}

// Free returns the memory behind p, obtained from New, to a.
func Free[T any](a Allocator, p *T) {
	if p == nil {
		return
	}
	var zero T
	size := int(unsafe.Sizeof(zero))
	if size == 0 {
		return
	}
	a.Free(unsafe.Slice((*byte)(unsafe.Pointer(p)), size))
}

// NewSlice allocates a slice of n elements of type T from a.
// The contents are whatever the allocator hands out.
// Returns nil if n <= 0.
func NewSlice[T any](a Allocator, n int) ([]T, error) {
	if n <= 0 {
		return nil, nil
	}
	var zero T
	elemSize := int(unsafe.Sizeof(zero))
	total, err := checkedMul(n, elemSize)
	if err != nil {
		return nil, err
	}
	b, err := a.Alloc(total)
	if err != nil {
		return nil, err
	}
	return sliceOf[T](b, n), nil
}

// NewSliceZeroed allocates a slice of n zeroed elements of type T from a.
func NewSliceZeroed[T any](a Allocator, n int) ([]T, error) {
	if n <= 0 {
		return nil, nil
	}
	var zero T
	b, err := a.Calloc(n, int(unsafe.Sizeof(zero)))
	if err != nil {
		return nil, err
	}
	return sliceOf[T](b, n), nil
}

// FreeSlice returns a slice obtained from NewSlice or NewSliceZeroed to a.
func FreeSlice[T any](a Allocator, s []T) {
	if cap(s) == 0 {
		return
	}
	a.Free(bytesOf(s[:cap(s)]))
}

// zeroBase backs views of zero-size element types.
var zeroBase struct{}

// sliceOf views the first n elements of b as []T.
func sliceOf[T any](b []byte, n int) []T {
	if n == 0 {
		return nil
	}
	if cap(b) == 0 {
		return unsafe.Slice((*T)(unsafe.Pointer(&zeroBase)), n)
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), n)
}

// bytesOf views s as its underlying bytes.
func bytesOf[T any](s []T) []byte {
	var zero T
	size := int(unsafe.Sizeof(zero)) * len(s)
	if size == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), size)
}
