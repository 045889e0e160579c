package vmem

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Default page geometry. With 4096-byte pages and 16-byte alignment a
// page has 256 slots, so the header needs 256 control bytes and leaves
// 3840 usable bytes.
const (
	DefaultPageSize  = 4096
	DefaultAlignment = 16
)

// ArenaConfig sets the page geometry and diagnostics of an Arena.
type ArenaConfig struct {
	PageSize  int // bytes per page, power of two
	Alignment int // allocation boundary, power of two, >= 8

	// Analyze logs a warning for every Free that cannot reclaim memory.
	Analyze bool
	// Trace logs every allocation at debug level.
	Trace bool
}

func (c ArenaConfig) withDefaults() ArenaConfig {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.Alignment <= 0 {
		c.Alignment = DefaultAlignment
	}
	return c
}

func (c ArenaConfig) validate() error {
	if c.PageSize&(c.PageSize-1) != 0 {
		return errors.Newf("arena: page size %d is not a power of two", c.PageSize)
	}
	if c.Alignment&(c.Alignment-1) != 0 || c.Alignment < 8 {
		return errors.Newf("arena: alignment %d must be a power of two >= 8", c.Alignment)
	}
	if c.Alignment >= c.PageSize {
		return errors.Newf("arena: alignment %d must be smaller than page size %d", c.Alignment, c.PageSize)
	}
	header := c.PageSize / c.Alignment
	if (c.PageSize-header)/c.Alignment > 255 {
		return errors.Newf("arena: %d-byte pages at %d-byte alignment need more than one control byte per slot",
			c.PageSize, c.Alignment)
	}
	return nil
}

// Watermark is a saved arena position. Restoring it frees everything
// allocated after it was taken.
type Watermark struct {
	page   Ref
	cursor int
}

// Arena is a paged bump allocator.
//
// Memory is handed out from fixed-size pages by advancing a cursor. Each
// page starts with one control byte per alignment slot, holding the size
// of the block that starts in that slot divided by the alignment.
//
// Free only reclaims the most recent live block of the current page.
// Freeing any other block is a no-op: the hole stays allocated until a
// watermark before it is restored or the arena is reset. Pages are kept
// for reuse and only returned to the backing allocator by Release.
//
// An Arena is not safe for concurrent use.
type Arena struct {
	pages   *List[unsafe.Pointer]
	current Ref
	cursor  int

	pageSize int
	align    int
	header   int

	backing  Allocator
	log      *zap.Logger
	analyze  bool
	trace    bool
	onError  func(error)
	released bool
}

// NewArena creates an arena whose pages and page list are allocated from
// backing. The first page is allocated immediately.
func NewArena(backing Allocator, cfg ArenaConfig, log *zap.Logger) (*Arena, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	pages, err := NewList[unsafe.Pointer](backing)
	if err != nil {
		return nil, err
	}
	a := &Arena{
		pages:    pages,
		current:  NilRef,
		pageSize: cfg.PageSize,
		align:    cfg.Alignment,
		header:   cfg.PageSize / cfg.Alignment,
		backing:  backing,
		log:      log,
		analyze:  cfg.Analyze,
		trace:    cfg.Trace,
	}
	if err := a.addPage(); err != nil {
		pages.Destroy()
		return nil, err
	}
	return a, nil
}

// UsableSize returns the largest single allocation a page can hold.
func (a *Arena) UsableSize() int {
	return a.pageSize - a.header
}

// Alloc returns n bytes from the current page, moving to the next page
// when the current one is full.
func (a *Arena) Alloc(n int) ([]byte, error) {
	b, err := a.alloc(n)
	if err != nil {
		return nil, a.fail(err)
	}
	traceAlloc(a.log, a.trace, "pgb", n, 1)
	return b, nil
}

func (a *Arena) alloc(n int) ([]byte, error) {
	if a.released {
		return nil, ErrReleased
	}
	if n < 0 {
		return nil, errors.Wrapf(ErrInvalidSize, "arena alloc(%d)", n)
	}
	if n == 0 {
		return nil, nil
	}
	if n > a.UsableSize() {
		return nil, errors.Wrapf(ErrTooLarge, "arena alloc(%d): usable page size is %d", n, a.UsableSize())
	}
	size := alignUp(n, a.align)
	if size > a.UsableSize() {
		return nil, errors.Wrapf(ErrTooLarge, "arena alloc(%d): aligned size %d, usable page size is %d",
			n, size, a.UsableSize())
	}
	if a.cursor+size > a.pageSize {
		if err := a.advance(); err != nil {
			return nil, err
		}
	}
	page := a.page(a.current)
	off := a.cursor
	page[off/a.align] = byte(size / a.align)
	a.cursor += size
	return page[off : off+n : off+n], nil
}

// advance moves to the next page, reusing one left behind by a restore
// or appending a fresh page.
func (a *Arena) advance() error {
	next := a.pages.Next(a.current)
	if next == NilRef {
		return a.addPage()
	}
	a.current = next
	a.cursor = a.header
	return nil
}

func (a *Arena) addPage() error {
	b, err := a.backing.Alloc(a.pageSize)
	if err != nil {
		return errors.Wrap(err, "arena: allocating page")
	}
	clear(b[:a.header])
	r, err := a.pages.Append(unsafe.Pointer(unsafe.SliceData(b)))
	if err != nil {
		a.backing.Free(b)
		return errors.Wrap(err, "arena: growing page list")
	}
	a.current = r
	a.cursor = a.header
	return nil
}

// Calloc returns count*size zeroed bytes.
func (a *Arena) Calloc(count, size int) ([]byte, error) {
	n, err := checkedMul(count, size)
	if err != nil {
		return nil, a.fail(err)
	}
	b, err := a.alloc(n)
	if err != nil {
		return nil, a.fail(err)
	}
	clear(b)
	traceAlloc(a.log, a.trace, "pgb", n, 1)
	return b, nil
}

// Realloc resizes b. The most recent block of the current page is
// resized in place when the new size still fits the page. Any other block
// is copied to a fresh allocation and the old block is abandoned until
// the arena is rewound.
func (a *Arena) Realloc(b []byte, n int) ([]byte, error) {
	if a.released {
		return nil, a.fail(ErrReleased)
	}
	if isNull(b) {
		nb, err := a.alloc(n)
		if err != nil {
			return nil, a.fail(err)
		}
		return nb, nil
	}
	if n == 0 {
		a.Free(b)
		return nil, nil
	}
	if n < 0 {
		return nil, a.fail(errors.Wrapf(ErrInvalidSize, "arena realloc(%d)", n))
	}
	if off, ok := a.lastAlloc(b); ok && n <= a.UsableSize() && off+alignUp(n, a.align) <= a.pageSize {
		page := a.page(a.current)
		size := alignUp(n, a.align)
		page[off/a.align] = byte(size / a.align)
		a.cursor = off + size
		traceAlloc(a.log, a.trace, "pgb", n, 1)
		return page[off : off+n : off+n], nil
	}

	old := b
	if r, ok := a.PageOf(b); ok {
		page := a.page(r)
		off := int(addrOf(b) - addrOf(page))
		old = page[off : off+a.recordedSize(page, off)]
	} else {
		a.log.Warn("arena: could not find page for allocation", zap.String("at", callSite(1)))
	}
	nb, err := a.alloc(n)
	if err != nil {
		return nil, a.fail(err)
	}
	copy(nb, old)
	traceAlloc(a.log, a.trace, "pgb", n, 1)
	return nb, nil
}

// Free reclaims b if it is the most recent block of the current page and
// does nothing otherwise.
func (a *Arena) Free(b []byte) {
	if isNull(b) || a.released {
		return
	}
	if off, ok := a.lastAlloc(b); ok {
		a.cursor = off
		return
	}
	if a.analyze {
		a.log.Warn("arena: cannot recapture memory", zap.String("at", callSite(1)))
	}
}

// Save captures the current position.
func (a *Arena) Save() Watermark {
	a.mustLive()
	return Watermark{page: a.current, cursor: a.cursor}
}

// Restore rewinds to w in O(1). Blocks allocated after w was saved must
// not be used again.
func (a *Arena) Restore(w Watermark) {
	a.mustLive()
	a.current = w.page
	a.cursor = w.cursor
}

// Scope saves the current position and returns a func that restores it:
//
//	defer a.Scope()()
func (a *Arena) Scope() func() {
	w := a.Save()
	return func() { a.Restore(w) }
}

// Reset rewinds to the start of the first page, keeping every page for
// reuse.
func (a *Arena) Reset() {
	a.mustLive()
	a.current = a.pages.First()
	a.cursor = a.header
}

// EnsureCapacity makes sure the current page has room for an n-byte
// block, moving to another page if it does not.
func (a *Arena) EnsureCapacity(n int) error {
	if a.released {
		return ErrReleased
	}
	if n < 0 {
		return errors.Wrapf(ErrInvalidSize, "arena: reserve(%d)", n)
	}
	if n > a.UsableSize() {
		return errors.Wrapf(ErrTooLarge, "arena: cannot reserve %d bytes in one page", n)
	}
	if a.cursor+alignUp(n, a.align) > a.pageSize {
		return a.advance()
	}
	return nil
}

// Release returns every page and the page list to the backing allocator.
// Allocation afterwards fails with ErrReleased.
func (a *Arena) Release() {
	if a.released {
		return
	}
	a.pages.Each(func(r Ref, _ *unsafe.Pointer) bool {
		a.backing.Free(a.page(r))
		return true
	})
	a.pages.Destroy()
	a.current = NilRef
	a.cursor = 0
	a.released = true
}

// PageOf searches backward from the current page for the page holding b.
func (a *Arena) PageOf(b []byte) (Ref, bool) {
	p := addrOf(b)
	for r := a.current; r != NilRef; r = a.pages.Prev(r) {
		base := addrOf(a.page(r))
		if p > base && p < base+uintptr(a.pageSize) {
			return r, true
		}
	}
	return NilRef, false
}

// lastAlloc reports whether b is the most recent block of the current
// page, and its offset in that page.
func (a *Arena) lastAlloc(b []byte) (int, bool) {
	page := a.page(a.current)
	base, p := addrOf(page), addrOf(b)
	if p <= base || p >= base+uintptr(a.pageSize) {
		return 0, false
	}
	off := int(p - base)
	return off, off+a.recordedSize(page, off) == a.cursor
}

func (a *Arena) recordedSize(page []byte, off int) int {
	return int(page[off/a.align]) * a.align
}

func (a *Arena) page(r Ref) []byte {
	return unsafe.Slice((*byte)(*a.pages.At(r)), a.pageSize)
}

func (a *Arena) fail(err error) error {
	return raise(a.onError, err)
}

func (a *Arena) mustLive() {
	if a.released {
		assertf("arena: use after Release")
	}
}
