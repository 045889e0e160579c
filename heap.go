package vmem

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// heapAlign keeps heap blocks on the same boundary as arena blocks so a
// buffer can move between allocators without changing element alignment.
const heapAlign = 16

// MaxHeapRequest is the largest single request a Heap passes to the Go
// runtime: 128 TiB on 64-bit platforms, 1 GiB on 32-bit ones. Larger
// requests fail with ErrOutOfMemory.
const MaxHeapRequest = 1 << (30 + 17*(^uint(0)>>63))

// Heap is the passthrough allocator over the Go heap.
//
// Every live block is pinned in a live-set until it is freed, which is
// what lets other allocators and containers refer to Heap memory from
// raw buffers. Free drops the pin and leaves reclamation to the GC.
type Heap struct {
	live     map[uintptr][]byte
	maxAlloc int
	log      *zap.Logger
	trace    bool
	onError  func(error)
}

// NewHeap returns a Heap. A positive maxAlloc caps the size of a single
// request below MaxHeapRequest; anything larger fails with
// ErrOutOfMemory.
func NewHeap(maxAlloc int, log *zap.Logger) *Heap {
	if log == nil {
		log = zap.NewNop()
	}
	return &Heap{
		live:     make(map[uintptr][]byte),
		maxAlloc: maxAlloc,
		log:      log,
	}
}

// SetTrace turns per-call debug logging on or off.
func (h *Heap) SetTrace(on bool) {
	h.trace = on
}

// Alloc returns n bytes from the Go heap.
func (h *Heap) Alloc(n int) ([]byte, error) {
	b, err := h.alloc(n)
	if err != nil {
		return nil, raise(h.onError, err)
	}
	traceAlloc(h.log, h.trace, "std", n, 1)
	return b, nil
}

func (h *Heap) alloc(n int) ([]byte, error) {
	if n < 0 {
		return nil, errors.Wrapf(ErrInvalidSize, "heap alloc(%d)", n)
	}
	if n == 0 {
		return nil, nil
	}
	if n > h.limit() {
		return nil, errors.Wrapf(ErrOutOfMemory, "heap alloc(%d) exceeds limit %d", n, h.limit())
	}
	buf := make([]byte, alignUp(n, heapAlign))
	h.live[addrOf(buf)] = buf
	return buf[:n:n], nil
}

// Calloc returns count*size zeroed bytes. Go heap memory is always zeroed.
func (h *Heap) Calloc(count, size int) ([]byte, error) {
	n, err := checkedMul(count, size)
	if err != nil {
		return nil, raise(h.onError, err)
	}
	b, err := h.alloc(n)
	if err != nil {
		return nil, raise(h.onError, err)
	}
	traceAlloc(h.log, h.trace, "std", n, 1)
	return b, nil
}

// Realloc resizes b. Shrinking and growth within the pinned block keep
// the address; otherwise the contents move to a new block.
func (h *Heap) Realloc(b []byte, n int) ([]byte, error) {
	if isNull(b) {
		return h.Alloc(n)
	}
	if n == 0 {
		h.Free(b)
		return nil, nil
	}
	if n < 0 {
		return nil, raise(h.onError, errors.Wrapf(ErrInvalidSize, "heap realloc(%d)", n))
	}
	pinned := h.pinned(b)
	if n <= cap(pinned) {
		return pinned[:n:n], nil
	}
	nb, err := h.alloc(n)
	if err != nil {
		return nil, raise(h.onError, err)
	}
	copy(nb, pinned)
	delete(h.live, addrOf(b))
	traceAlloc(h.log, h.trace, "std", n, 1)
	return nb, nil
}

// Free unpins b.
func (h *Heap) Free(b []byte) {
	if isNull(b) {
		return
	}
	h.pinned(b)
	delete(h.live, addrOf(b))
}

func (h *Heap) limit() int {
	if h.maxAlloc > 0 && h.maxAlloc < MaxHeapRequest {
		return h.maxAlloc
	}
	return MaxHeapRequest
}

// Live returns the number of blocks currently pinned.
func (h *Heap) Live() int {
	return len(h.live)
}

// pinned returns the full pinned block that b starts.
func (h *Heap) pinned(b []byte) []byte {
	p, ok := h.live[addrOf(b)]
	if !ok {
		assertf("heap: block %p was not allocated by this heap", unsafe.SliceData(b))
	}
	return p
}

// addrOf returns the address of the first byte of b.
func addrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}
