package vmem

import (
	"sync"
)

// SafeAllocator is a mutex-protected wrapper around an Allocator for
// concurrent access. Every call is serialized, so the wrapped allocator
// and everything it allocates from must not be used directly while the
// wrapper is shared.
type SafeAllocator struct {
	mu sync.Mutex
	a  Allocator
}

// NewSafeAllocator wraps a.
func NewSafeAllocator(a Allocator) *SafeAllocator {
	return &SafeAllocator{a: a}
}

// Alloc thread-safely allocates n bytes.
func (s *SafeAllocator) Alloc(n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.a.Alloc(n)
}

// Calloc thread-safely allocates count*size zeroed bytes.
func (s *SafeAllocator) Calloc(count, size int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.a.Calloc(count, size)
}

// Realloc thread-safely resizes b.
func (s *SafeAllocator) Realloc(b []byte, n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.a.Realloc(b, n)
}

// Free thread-safely frees b.
func (s *SafeAllocator) Free(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.a.Free(b)
}

// Do runs fn with exclusive access to the wrapped allocator, for reading
// its statistics or running several calls as one step.
func (s *SafeAllocator) Do(fn func(a Allocator)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.a)
}
