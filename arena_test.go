package vmem

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestArena(t testing.TB, cfg ArenaConfig) (*Arena, *Heap) {
	t.Helper()
	h := NewHeap(0, nil)
	a, err := NewArena(h, cfg, nil)
	require.NoError(t, err)
	return a, h
}

func TestNewArena(t *testing.T) {
	tests := []struct {
		name     string
		cfg      ArenaConfig
		pageSize int
		usable   int
	}{
		{"default geometry", ArenaConfig{}, 4096, 3840},
		{"small pages", ArenaConfig{PageSize: 1024, Alignment: 8}, 1024, 896},
		{"wide alignment", ArenaConfig{PageSize: 8192, Alignment: 32}, 8192, 7936},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := newTestArena(t, tt.cfg)
			if a.PageSize() != tt.pageSize {
				t.Errorf("PageSize() = %d, want %d", a.PageSize(), tt.pageSize)
			}
			if a.UsableSize() != tt.usable {
				t.Errorf("UsableSize() = %d, want %d", a.UsableSize(), tt.usable)
			}
			if a.NumPages() != 1 {
				t.Errorf("NumPages() = %d, want 1", a.NumPages())
			}
		})
	}
}

func TestNewArenaInvalidGeometry(t *testing.T) {
	tests := []struct {
		name string
		cfg  ArenaConfig
	}{
		{"page size not a power of two", ArenaConfig{PageSize: 1000}},
		{"alignment below 8", ArenaConfig{Alignment: 4}},
		{"alignment not a power of two", ArenaConfig{Alignment: 24}},
		{"alignment not below page size", ArenaConfig{PageSize: 64, Alignment: 64}},
		{"size does not fit control byte", ArenaConfig{PageSize: 8192, Alignment: 16}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewArena(NewHeap(0, nil), tt.cfg, nil)
			assert.Error(t, err)
		})
	}
}

func TestArenaAlloc(t *testing.T) {
	a, _ := newTestArena(t, ArenaConfig{})

	b1, err := a.Alloc(100)
	require.NoError(t, err)
	assert.Len(t, b1, 100)
	assert.Zero(t, addrOf(b1)%DefaultAlignment)

	b2, err := a.Alloc(1)
	require.NoError(t, err)
	// 100 bytes round up to 112 at 16-byte alignment.
	assert.Equal(t, uintptr(112), addrOf(b2)-addrOf(b1))

	z, err := a.Alloc(0)
	require.NoError(t, err)
	assert.Nil(t, z)

	_, err = a.Alloc(-1)
	assert.True(t, errors.Is(err, ErrInvalidSize))
}

func TestArenaPageOverflow(t *testing.T) {
	a, _ := newTestArena(t, ArenaConfig{})

	full, err := a.Alloc(a.UsableSize())
	require.NoError(t, err)
	assert.Len(t, full, 3840)
	assert.Equal(t, 1, a.NumPages())

	next, err := a.Alloc(1)
	require.NoError(t, err)
	assert.Equal(t, 2, a.NumPages())

	r1, ok := a.PageOf(full)
	require.True(t, ok)
	r2, ok := a.PageOf(next)
	require.True(t, ok)
	assert.NotEqual(t, r1, r2)
}

func TestArenaTooLarge(t *testing.T) {
	a, _ := newTestArena(t, ArenaConfig{})

	_, err := a.Alloc(a.UsableSize() + 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTooLarge))
	assert.True(t, errors.Is(err, ErrOutOfMemory))
	assert.Equal(t, 1, a.NumPages())
}

func TestArenaFreeLastBlock(t *testing.T) {
	a, _ := newTestArena(t, ArenaConfig{})

	first, err := a.Alloc(100)
	require.NoError(t, err)
	second, err := a.Alloc(50)
	require.NoError(t, err)

	a.Free(second)
	again, err := a.Alloc(50)
	require.NoError(t, err)
	assert.Equal(t, addrOf(second), addrOf(again))

	// first is no longer the most recent block: freeing it changes nothing.
	before := a.SizeInUse()
	a.Free(first)
	assert.Equal(t, before, a.SizeInUse())
}

func TestArenaAnalyzeWarnsOnHole(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	a, err := NewArena(NewHeap(0, nil), ArenaConfig{Analyze: true}, zap.New(core))
	require.NoError(t, err)

	first, err := a.Alloc(32)
	require.NoError(t, err)
	_, err = a.Alloc(32)
	require.NoError(t, err)

	a.Free(first)
	entries := logs.FilterMessage("arena: cannot recapture memory").All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ContextMap()["at"], "arena_test.go")
}

func TestArenaSaveRestore(t *testing.T) {
	a, _ := newTestArena(t, ArenaConfig{})
	_, err := a.Alloc(64)
	require.NoError(t, err)

	w := a.Save()
	mark, err := a.Alloc(16)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		_, err := a.Alloc(200)
		require.NoError(t, err)
	}
	pages := a.NumPages()
	require.Greater(t, pages, 1)

	a.Restore(w)
	assert.Equal(t, w, a.Save())
	assert.Equal(t, pages, a.NumPages(), "pages are kept for reuse")

	again, err := a.Alloc(16)
	require.NoError(t, err)
	assert.Equal(t, addrOf(mark), addrOf(again))

	// Refilling reuses the retained pages instead of allocating more.
	for i := 0; i < 100; i++ {
		_, err := a.Alloc(200)
		require.NoError(t, err)
	}
	assert.Equal(t, pages, a.NumPages())
}

func TestArenaScope(t *testing.T) {
	a, _ := newTestArena(t, ArenaConfig{})
	w := a.Save()
	func() {
		defer a.Scope()()
		_, err := a.Alloc(500)
		require.NoError(t, err)
	}()
	assert.Equal(t, w, a.Save())
}

func TestArenaCallocAfterRestore(t *testing.T) {
	a, _ := newTestArena(t, ArenaConfig{})
	w := a.Save()

	dirty, err := a.Alloc(64)
	require.NoError(t, err)
	for i := range dirty {
		dirty[i] = 0xff
	}
	a.Restore(w)

	clean, err := a.Calloc(8, 8)
	require.NoError(t, err)
	assert.Equal(t, addrOf(dirty), addrOf(clean))
	assert.Equal(t, make([]byte, 64), clean)
}

func TestArenaRealloc(t *testing.T) {
	a, _ := newTestArena(t, ArenaConfig{})

	b, err := a.Realloc(nil, 16)
	require.NoError(t, err)
	copy(b, "abcdefghijklmnop")

	grown, err := a.Realloc(b, 64)
	require.NoError(t, err)
	assert.Equal(t, addrOf(b), addrOf(grown), "last block grows in place")
	assert.Equal(t, "abcdefghijklmnop", string(grown[:16]))

	_, err = a.Alloc(8)
	require.NoError(t, err)

	moved, err := a.Realloc(grown, 128)
	require.NoError(t, err)
	assert.NotEqual(t, addrOf(grown), addrOf(moved))
	assert.Equal(t, "abcdefghijklmnop", string(moved[:16]))

	shrunk, err := a.Realloc(moved, 4)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(shrunk))

	gone, err := a.Realloc(shrunk, 0)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestArenaReallocTooLargeKeepsBlock(t *testing.T) {
	a, _ := newTestArena(t, ArenaConfig{})
	b, err := a.Alloc(16)
	require.NoError(t, err)
	copy(b, "keep")
	used := a.SizeInUse()

	_, err = a.Realloc(b, a.UsableSize()+1)
	assert.True(t, errors.Is(err, ErrTooLarge))
	assert.Equal(t, used, a.SizeInUse())
	assert.Equal(t, "keep", string(b[:4]))
}

func TestArenaEnsureCapacity(t *testing.T) {
	a, _ := newTestArena(t, ArenaConfig{})

	require.NoError(t, a.EnsureCapacity(100))
	assert.Equal(t, 1, a.NumPages())

	_, err := a.Alloc(3000)
	require.NoError(t, err)
	require.NoError(t, a.EnsureCapacity(1000))
	assert.Equal(t, 2, a.NumPages())

	assert.True(t, errors.Is(a.EnsureCapacity(a.UsableSize()+1), ErrTooLarge))

	err = a.EnsureCapacity(-1)
	assert.True(t, errors.Is(err, ErrInvalidSize))
	assert.False(t, errors.Is(err, ErrOutOfMemory), "a negative size is not an out-of-memory condition")
}

func TestArenaReset(t *testing.T) {
	a, _ := newTestArena(t, ArenaConfig{})

	_, err := a.Alloc(3000)
	require.NoError(t, err)
	_, err = a.Alloc(3000)
	require.NoError(t, err)
	require.NotZero(t, a.SizeInUse())

	a.Reset()
	if a.SizeInUse() != 0 {
		t.Errorf("SizeInUse after Reset() = %d, want 0", a.SizeInUse())
	}
	if a.NumPages() != 2 {
		t.Errorf("NumPages after Reset() = %d, want 2", a.NumPages())
	}
}

func TestArenaRelease(t *testing.T) {
	a, h := newTestArena(t, ArenaConfig{})
	_, err := a.Alloc(3000)
	require.NoError(t, err)
	_, err = a.Alloc(3000)
	require.NoError(t, err)
	// Two pages plus the page list's node buffer.
	assert.Equal(t, 3, h.Live())

	a.Release()
	assert.Equal(t, 0, h.Live())
	assert.Equal(t, 0, a.NumPages())

	_, err = a.Alloc(8)
	assert.True(t, errors.Is(err, ErrReleased))
	a.Release()

	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic on Save after Release()")
		}
	}()
	a.Save()
}

func TestArenaOnTracker(t *testing.T) {
	tr := NewTracker(NewHeap(0, nil), nil, TrackerOptions{})
	a, err := NewArena(tr, ArenaConfig{}, nil)
	require.NoError(t, err)

	b, err := a.Alloc(24)
	require.NoError(t, err)
	assert.Zero(t, addrOf(b)%DefaultAlignment)
	assert.Equal(t, 2, tr.Stats().LiveBlocks)

	a.Release()
	assert.Equal(t, 0, tr.Stats().CurrentBytes)
}

func BenchmarkArenaAlloc(b *testing.B) {
	a, _ := newTestArena(b, ArenaConfig{})
	sizes := []int{8, 64, 256, 1024}

	for _, size := range sizes {
		b.Run(fmt.Sprintf("size-%d", size), func(b *testing.B) {
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := a.Alloc(size); err != nil {
					b.Fatal(err)
				}
				if i%1000 == 999 {
					a.Reset()
				}
			}
		})
	}
}

func BenchmarkArenaVsBuiltin(b *testing.B) {
	b.Run("arena", func(b *testing.B) {
		a, _ := newTestArena(b, ArenaConfig{})
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			a.Alloc(64)
			if i%1000 == 999 {
				a.Reset()
			}
		}
	})

	b.Run("builtin", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_ = make([]byte, 64)
		}
	})
}
