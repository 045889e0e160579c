package vmem

import (
	"slices"
	"unsafe"
)

// ElemMaxSize is the largest element Reverse swaps through its fixed
// scratch buffer. Larger elements are swapped as typed values.
const ElemMaxSize = 128

// Array is a growable buffer of T backed by memory from an Allocator.
//
// The handle records its length, capacity and the allocator that owns
// the buffer. The backing buffer may move on any operation that grows
// the array, so slices and pointers obtained from Items, At and
// AppendZero are only valid until the next growing call.
//
// T must be plain data (see New). Array is not safe for concurrent use.
type Array[T any] struct {
	buf   []byte
	items []T
	count int
	alc   Allocator
}

// NewArray creates an empty array with room for capacity elements.
func NewArray[T any](capacity int, a Allocator) (*Array[T], error) {
	if capacity < 0 {
		return nil, ErrInvalidSize
	}
	n, err := checkedMul(capacity, elemSize[T]())
	if err != nil {
		return nil, err
	}
	buf, err := a.Alloc(n)
	if err != nil {
		return nil, err
	}
	return &Array[T]{buf: buf, items: sliceOf[T](buf, capacity), alc: a}, nil
}

// Destroy returns the buffer to the allocator. The array must not be
// used afterwards.
func (arr *Array[T]) Destroy() {
	arr.alc.Free(arr.buf)
	arr.buf = nil
	arr.items = nil
	arr.count = 0
	arr.alc = nil
}

// Len returns the number of elements.
func (arr *Array[T]) Len() int { return arr.count }

// Cap returns the number of elements the buffer holds without growing.
func (arr *Array[T]) Cap() int { return len(arr.items) }

// Empty reports whether the array has no elements.
func (arr *Array[T]) Empty() bool { return arr.count == 0 }

// Allocator returns the allocator that owns the buffer.
func (arr *Array[T]) Allocator() Allocator { return arr.alc }

// Items returns the live elements. Appending to the returned slice
// never writes into the array's buffer.
func (arr *Array[T]) Items() []T {
	return arr.items[:arr.count:arr.count]
}

// At returns a pointer to element i.
func (arr *Array[T]) At(i int) *T {
	return &arr.items[:arr.count][i]
}

// Get returns element i.
func (arr *Array[T]) Get(i int) T {
	return arr.items[:arr.count][i]
}

// Set overwrites element i.
func (arr *Array[T]) Set(i int, v T) {
	arr.items[:arr.count][i] = v
}

// First returns a pointer to the first element.
func (arr *Array[T]) First() *T { return arr.At(0) }

// Last returns a pointer to the last element.
func (arr *Array[T]) Last() *T { return arr.FromEnd(1) }

// FromEnd returns a pointer to the i-th element counting from the end,
// so FromEnd(1) is the last element.
func (arr *Array[T]) FromEnd(i int) *T { return arr.At(arr.count - i) }

// Reserve grows the buffer to exactly n elements if it holds fewer.
// It never shrinks and leaves the buffer untouched when n <= Cap().
func (arr *Array[T]) Reserve(n int) error {
	if n <= len(arr.items) {
		return nil
	}
	size, err := checkedMul(n, elemSize[T]())
	if err != nil {
		return err
	}
	buf, err := arr.alc.Realloc(arr.buf, size)
	if err != nil {
		return err
	}
	arr.buf = buf
	arr.items = sliceOf[T](buf, n)
	return nil
}

// SetLen sets the length to n, growing the buffer if needed. Elements
// exposed by growing the length are zeroed.
func (arr *Array[T]) SetLen(n int) error {
	if n < 0 {
		assertf("array: negative length %d", n)
	}
	if err := arr.Reserve(n); err != nil {
		return err
	}
	if n > arr.count {
		clear(arr.items[arr.count:n])
	}
	arr.count = n
	return nil
}

// grow makes room for one more element, growing capacity by half plus one.
func (arr *Array[T]) grow() error {
	if arr.count < len(arr.items) {
		return nil
	}
	return arr.Reserve(len(arr.items)*3/2 + 1)
}

// AppendZero appends a zeroed element and returns a pointer to it so the
// caller can fill it in place.
func (arr *Array[T]) AppendZero() (*T, error) {
	if err := arr.grow(); err != nil {
		return nil, err
	}
	arr.count++
	p := &arr.items[arr.count-1]
	var zero T
	*p = zero
	return p, nil
}

// Append adds v to the end.
func (arr *Array[T]) Append(v T) error {
	p, err := arr.AppendZero()
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// InsertZero opens a zeroed slot at i, shifting elements at or after i
// one place toward the end, and returns a pointer to the slot.
func (arr *Array[T]) InsertZero(i int) (*T, error) {
	if i < 0 || i > arr.count {
		assertf("array: insert index %d out of range [0, %d]", i, arr.count)
	}
	if err := arr.grow(); err != nil {
		return nil, err
	}
	arr.count++
	copy(arr.items[i+1:arr.count], arr.items[i:arr.count-1])
	p := &arr.items[i]
	var zero T
	*p = zero
	return p, nil
}

// Insert places v at i, preserving the order of the other elements.
func (arr *Array[T]) Insert(i int, v T) error {
	p, err := arr.InsertZero(i)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// InsertFast places v at i in O(1) by moving the element previously at i
// to the end. The order of the displaced element is not preserved.
func (arr *Array[T]) InsertFast(i int, v T) error {
	if i < 0 || i > arr.count {
		assertf("array: insert index %d out of range [0, %d]", i, arr.count)
	}
	if err := arr.grow(); err != nil {
		return err
	}
	arr.count++
	arr.items[arr.count-1] = arr.items[i]
	arr.items[i] = v
	return nil
}

// Remove deletes element i, preserving order.
func (arr *Array[T]) Remove(i int) {
	arr.RemoveN(i, 1)
}

// RemoveN deletes n elements starting at i, preserving order.
func (arr *Array[T]) RemoveN(i, n int) {
	if n <= 0 {
		assertf("array: remove of %d elements", n)
	}
	if i < 0 || i+n-1 >= arr.count {
		assertf("array: remove [%d, %d) out of range [0, %d)", i, i+n, arr.count)
	}
	copy(arr.items[i:], arr.items[i+n:arr.count])
	arr.count -= n
}

// RemoveFast deletes element i in O(1) by moving the last element into
// its slot. Order is not preserved.
func (arr *Array[T]) RemoveFast(i int) {
	if i < 0 || i >= arr.count {
		assertf("array: remove index %d out of range [0, %d)", i, arr.count)
	}
	if i != arr.count-1 {
		arr.items[i] = arr.items[arr.count-1]
	}
	arr.count--
}

// Pop removes and returns the last element.
func (arr *Array[T]) Pop() T {
	if arr.count == 0 {
		assertf("array: pop of empty array")
	}
	arr.count--
	return arr.items[arr.count]
}

// Clear drops all elements and keeps the buffer.
func (arr *Array[T]) Clear() {
	arr.count = 0
}

// CopyFrom makes arr a copy of src, growing arr's buffer if needed.
func (arr *Array[T]) CopyFrom(src *Array[T]) error {
	if err := arr.Reserve(src.count); err != nil {
		return err
	}
	arr.count = src.count
	copy(bytesOf(arr.items[:arr.count]), bytesOf(src.items[:src.count]))
	return nil
}

// Reverse reverses the elements in place.
func (arr *Array[T]) Reverse() {
	size := elemSize[T]()
	n := arr.count
	if n < 2 || size == 0 {
		return
	}
	if size > ElemMaxSize {
		for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
			arr.items[i], arr.items[j] = arr.items[j], arr.items[i]
		}
		return
	}
	var scratch [ElemMaxSize]byte
	raw := bytesOf(arr.items[:n])
	for i := 0; i < n/2; i++ {
		l := raw[i*size : (i+1)*size]
		r := raw[(n-1-i)*size : (n-i)*size]
		swapBytes(l, r, scratch[:size])
	}
}

// Find returns a pointer to the first element e with cmp(e, v) == 0, or
// nil if there is none.
func (arr *Array[T]) Find(v T, cmp func(a, b T) int) *T {
	if i := arr.Index(v, cmp); i >= 0 {
		return &arr.items[i]
	}
	return nil
}

// Index returns the index of the first element e with cmp(e, v) == 0,
// or -1 if there is none.
func (arr *Array[T]) Index(v T, cmp func(a, b T) int) int {
	for i := 0; i < arr.count; i++ {
		if cmp(arr.items[i], v) == 0 {
			return i
		}
	}
	return -1
}

// UpperBound returns a pointer to the first element strictly greater
// than v in an array sorted by cmp, or nil if every element is <= v.
func (arr *Array[T]) UpperBound(v T, cmp func(a, b T) int) *T {
	left, right := 0, arr.count
	var res *T
	for left != right {
		mid := left + (right-left)/2
		if cmp(v, arr.items[mid]) < 0 {
			res = &arr.items[mid]
			right = mid
		} else {
			left = mid + 1
		}
	}
	return res
}

// Sort sorts the elements by cmp.
func (arr *Array[T]) Sort(cmp func(a, b T) int) {
	slices.SortFunc(arr.items[:arr.count], cmp)
}

// BinarySearch searches a sorted array for v and returns its position
// and whether it was found.
func (arr *Array[T]) BinarySearch(v T, cmp func(a, b T) int) (int, bool) {
	return slices.BinarySearchFunc(arr.items[:arr.count], v, cmp)
}

// Each calls fn for every element in order until fn returns false.
func (arr *Array[T]) Each(fn func(i int, v *T) bool) {
	for i := 0; i < arr.count; i++ {
		if !fn(i, &arr.items[i]) {
			return
		}
	}
}

func elemSize[T any]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// swapBytes exchanges a and b through tmp, which must be as long as both.
func swapBytes(a, b, tmp []byte) {
	copy(tmp, a)
	copy(a, b)
	copy(b, tmp)
}
