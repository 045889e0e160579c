package vmem

import (
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// trackHeaderSize is the metadata placed in front of every tracked block:
// the node id and the block size, 8 bytes each. It is a multiple of the
// arena alignment so tracked blocks keep the inner allocator's alignment.
const trackHeaderSize = 16

type allocNode struct {
	prev, next *allocNode
	id         uint64
	addr       uintptr
	size       int
	generation uint64
	location   string
}

// TrackerOptions controls what a Tracker records.
type TrackerOptions struct {
	// CallSites records the file:line of every allocation. Without it
	// every block is attributed to "(unknown)".
	CallSites bool
	// Trace logs every allocation at debug level.
	Trace bool
}

// TrackerStats is a snapshot of a tracker's counters.
type TrackerStats struct {
	CurrentBytes int    // bytes in live blocks
	PeakBytes    int    // running maximum of CurrentBytes
	TotalBytes   int    // bytes ever allocated, reallocations included
	TotalChunks  int    // allocations ever made, reallocations included
	LiveBlocks   int    // blocks not yet freed
	Generation   uint64 // current generation
}

// LiveAllocation describes one block that has not been freed.
type LiveAllocation struct {
	Addr       uintptr
	Size       int
	Location   string
	Generation uint64
}

// Tracker is an Allocator that records every live block.
//
// Each block is allocated from the inner allocator with a small header in
// front of the caller's bytes. Live blocks form a doubly linked list in
// allocation order, so a leak report at shutdown lists everything still
// outstanding with its size, call-site and the generation it was
// allocated in. Advance the generation between logical phases (frames,
// requests) to attribute leaks to a phase.
//
// A Tracker is not safe for concurrent use.
type Tracker struct {
	inner Allocator

	head, tail *allocNode
	nodes      map[uint64]*allocNode
	addrs      map[uintptr]uint64
	nextID     uint64
	generation uint64

	current int
	peak    int
	total   int
	chunks  int

	log       *zap.Logger
	callSites bool
	trace     bool
	onError   func(error)
}

// NewTracker returns a Tracker over inner.
func NewTracker(inner Allocator, log *zap.Logger, opts TrackerOptions) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		inner:     inner,
		nodes:     make(map[uint64]*allocNode),
		addrs:     make(map[uintptr]uint64),
		log:       log,
		callSites: opts.CallSites,
		trace:     opts.Trace,
	}
}

// Alloc allocates n bytes and records the block.
func (t *Tracker) Alloc(n int) ([]byte, error) {
	return t.alloc(n, false, t.location(1))
}

// Calloc allocates count*size zeroed bytes and records the block.
func (t *Tracker) Calloc(count, size int) ([]byte, error) {
	n, err := checkedMul(count, size)
	if err != nil {
		return nil, t.fail(err)
	}
	return t.alloc(n, true, t.location(1))
}

func (t *Tracker) alloc(n int, zero bool, loc string) ([]byte, error) {
	if n < 0 {
		return nil, t.fail(errors.Wrapf(ErrInvalidSize, "tracked alloc(%d)", n))
	}
	if n == 0 {
		return nil, nil
	}
	if n > math.MaxInt-trackHeaderSize {
		return nil, t.fail(errors.Wrapf(ErrOutOfMemory, "tracked alloc(%d)", n))
	}
	var block []byte
	var err error
	if zero {
		block, err = t.inner.Calloc(1, trackHeaderSize+n)
	} else {
		block, err = t.inner.Alloc(trackHeaderSize + n)
	}
	if err != nil {
		return nil, t.fail(err)
	}
	t.nextID++
	node := &allocNode{id: t.nextID}
	t.nodes[node.id] = node
	t.initNode(node, block, n, loc)
	t.recordAlloc(n)
	t.appendNode(node)
	if t.trace {
		t.log.Debug("alloc", zap.String("allocator", "tracked"), zap.Int("size", n), zap.String("at", loc))
	}
	return block[trackHeaderSize : trackHeaderSize+n : trackHeaderSize+n], nil
}

// Realloc resizes a tracked block. The block keeps its place in the live
// list but takes the current generation and the new call-site.
func (t *Tracker) Realloc(b []byte, n int) ([]byte, error) {
	loc := t.location(1)
	if isNull(b) {
		return t.alloc(n, false, loc)
	}
	if n == 0 {
		t.Free(b)
		return nil, nil
	}
	if n < 0 {
		return nil, t.fail(errors.Wrapf(ErrInvalidSize, "tracked realloc(%d)", n))
	}
	if n > math.MaxInt-trackHeaderSize {
		return nil, t.fail(errors.Wrapf(ErrOutOfMemory, "tracked realloc(%d)", n))
	}
	node, block := t.lookup(b)
	nb, err := t.inner.Realloc(block, trackHeaderSize+n)
	if err != nil {
		return nil, t.fail(err)
	}
	t.recordFree(node.size)
	t.recordAlloc(n)
	t.initNode(node, nb, n, loc)
	if t.trace {
		t.log.Debug("realloc", zap.String("allocator", "tracked"), zap.Int("size", n), zap.String("at", loc))
	}
	return nb[trackHeaderSize : trackHeaderSize+n : trackHeaderSize+n], nil
}

// Free unlinks the block and returns it to the inner allocator. Freeing a
// block this tracker did not allocate panics.
func (t *Tracker) Free(b []byte) {
	if isNull(b) {
		return
	}
	node, block := t.lookup(b)
	t.unlink(node)
	delete(t.nodes, node.id)
	delete(t.addrs, node.addr)
	t.recordFree(node.size)
	t.inner.Free(block)
}

// AdvanceGeneration starts a new generation. Blocks allocated from now on
// are attributed to it.
func (t *Tracker) AdvanceGeneration() error {
	t.generation++
	if t.generation == 0 {
		return t.fail(ErrGenerationWrap)
	}
	return nil
}

// Generation returns the current generation.
func (t *Tracker) Generation() uint64 {
	return t.generation
}

// Stats returns a snapshot of the counters.
func (t *Tracker) Stats() TrackerStats {
	return TrackerStats{
		CurrentBytes: t.current,
		PeakBytes:    t.peak,
		TotalBytes:   t.total,
		TotalChunks:  t.chunks,
		LiveBlocks:   len(t.nodes),
		Generation:   t.generation,
	}
}

// Live returns the live blocks in allocation order.
func (t *Tracker) Live() []LiveAllocation {
	live := make([]LiveAllocation, 0, len(t.nodes))
	for n := t.head; n != nil; n = n.next {
		live = append(live, LiveAllocation{
			Addr:       n.addr,
			Size:       n.size,
			Location:   n.location,
			Generation: n.generation,
		})
	}
	return live
}

func (t *Tracker) initNode(node *allocNode, block []byte, n int, loc string) {
	binary.LittleEndian.PutUint64(block[0:8], node.id)
	binary.LittleEndian.PutUint64(block[8:16], uint64(n))
	if node.addr != 0 {
		delete(t.addrs, node.addr)
	}
	node.addr = addrOf(block) + trackHeaderSize
	t.addrs[node.addr] = node.id
	node.size = n
	node.generation = t.generation
	node.location = loc
}

// lookup finds the node of b and returns the whole inner block. The
// header in front of b is only read once b is known to be a live block
// of this tracker.
func (t *Tracker) lookup(b []byte) (*allocNode, []byte) {
	id, ok := t.addrs[addrOf(b)]
	if !ok {
		assertf("tracker: block %p was not allocated by this tracker", unsafe.SliceData(b))
	}
	node := t.nodes[id]
	base := unsafe.Add(unsafe.Pointer(unsafe.SliceData(b)), -trackHeaderSize)
	hdr := unsafe.Slice((*byte)(base), trackHeaderSize)
	if binary.LittleEndian.Uint64(hdr[0:8]) != id || uint64(node.size) != binary.LittleEndian.Uint64(hdr[8:16]) {
		assertf("tracker: header of block %p is corrupt", unsafe.SliceData(b))
	}
	return node, unsafe.Slice((*byte)(base), trackHeaderSize+node.size)
}

func (t *Tracker) appendNode(node *allocNode) {
	node.next = nil
	if t.tail != nil {
		t.tail.next = node
		node.prev = t.tail
		t.tail = node
	} else {
		node.prev = nil
		t.head = node
		t.tail = node
	}
}

func (t *Tracker) unlink(node *allocNode) {
	if node.prev != nil {
		node.prev.next = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	}
	if t.head == node {
		t.head = node.next
	}
	if t.tail == node {
		t.tail = node.prev
	}
	node.prev, node.next = nil, nil
}

func (t *Tracker) recordAlloc(n int) {
	t.current += n
	if t.peak < t.current {
		t.peak = t.current
	}
	t.total += n
	t.chunks++
}

func (t *Tracker) recordFree(n int) {
	t.current -= n
}

func (t *Tracker) location(skip int) string {
	if !t.callSites {
		return unknownLocation
	}
	return callSite(skip + 1)
}

func (t *Tracker) fail(err error) error {
	return raise(t.onError, err)
}
