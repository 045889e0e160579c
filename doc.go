// Package vmem implements the memory layer of a game engine runtime:
// pluggable allocators, a paged bump allocator with constant-time scoped
// rollback, a leak-tracking allocator, a stack of error handlers that
// cooperates with scoped memory, and growable containers built on raw
// allocator buffers.
//
// # Allocators
//
// Everything is written against the Allocator interface. Heap passes
// requests to the Go heap, Arena hands out memory from fixed-size pages,
// Tracker records every live block of another allocator:
//
//	heap := vmem.NewHeap(0, log)
//	tracked := vmem.NewTracker(heap, log, vmem.TrackerOptions{CallSites: true})
//	temp, err := vmem.NewArena(tracked, vmem.ArenaConfig{}, log)
//
// A block must be reallocated or freed through the allocator that
// produced it. Memory from an allocator is invisible to the garbage
// collector as a holder of pointers, so only plain data (numbers, arrays
// and structs of them, Refs) may be stored in it.
//
// # Temporary memory
//
// An Arena is rewound in O(1) to a saved Watermark:
//
//	defer temp.Scope()()
//	scratch, err := vmem.NewArray[float32](64, temp)
//
// # Guarded blocks
//
// A Runtime bundles a default allocator, a temporary arena and an
// ErrorStack. Outside a guarded block a raised error is fatal. Inside
// one it is logged, the block is marked failed, and temporary memory is
// rolled back when the block ends:
//
//	ok := rt.Try(func() error {
//		buf, err := rt.Temp().Alloc(100)
//		...
//	})
//
// # Containers
//
// Array[T] is a growable array whose buffer comes from an Allocator and
// moves on growth. List[T] is a doubly linked list over an Array of
// nodes; its Refs survive growth.
//
// # Thread Safety
//
// Nothing in this package locks. Use one Runtime per goroutine, or wrap
// a shared allocator in a SafeAllocator.
//
// # Metrics and Monitoring
//
//	m := temp.Metrics()
//	fmt.Printf("Utilization: %.2f%%\n", m.Utilization*100)
//	prometheus.MustRegister(vmem.NewCollector("engine", rt))
package vmem
