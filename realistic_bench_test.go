package vmem

import (
	"runtime"
	"testing"
)

// BenchmarkRealisticUsage tests scenarios where the temporary arena should excel
func BenchmarkRealisticUsage(b *testing.B) {

	// Test 1: Many small allocations with periodic cleanup
	b.Run("ManySmallAllocs/Arena", func(b *testing.B) {
		a, _ := newTestArena(b, ArenaConfig{})
		b.ResetTimer()

		for i := 0; i < b.N; i++ {
			w := a.Save()
			// Allocate 100 small objects
			for j := 0; j < 100; j++ {
				a.Alloc(64)
			}
			// Rewind once per frame
			a.Restore(w)
		}
	})

	b.Run("ManySmallAllocs/Builtin", func(b *testing.B) {
		b.ResetTimer()

		for i := 0; i < b.N; i++ {
			// Allocate 100 small objects
			objects := make([][]byte, 100)
			for j := 0; j < 100; j++ {
				objects[j] = make([]byte, 64)
			}
			// Force GC to clean up (simulates frame cleanup)
			if i%10 == 0 {
				runtime.GC()
			}
		}
	})

	// Test 2: Struct allocation patterns
	type TestStruct struct {
		ID   int64
		Data [56]byte // Total 64 bytes
	}

	b.Run("StructAllocs/Arena", func(b *testing.B) {
		a, _ := newTestArena(b, ArenaConfig{})
		b.ResetTimer()

		for i := 0; i < b.N; i++ {
			// Allocate 50 structs
			for j := 0; j < 50; j++ {
				s, _ := New[TestStruct](a)
				s.ID = int64(j)
			}
			a.Reset()
		}
	})

	b.Run("StructAllocs/Builtin", func(b *testing.B) {
		b.ResetTimer()

		for i := 0; i < b.N; i++ {
			// Allocate 50 structs
			structs := make([]*TestStruct, 50)
			for j := 0; j < 50; j++ {
				structs[j] = &TestStruct{ID: int64(j)}
			}
			if i%10 == 0 {
				runtime.GC()
			}
		}
	})

	// Test 3: Scratch arrays inside guarded frames
	b.Run("GuardedFrames/Runtime", func(b *testing.B) {
		rt, err := NewRuntime(DefaultConfig(), nil)
		if err != nil {
			b.Fatal(err)
		}
		defer rt.Close()
		b.ResetTimer()

		for i := 0; i < b.N; i++ {
			rt.Try(func() error {
				arr, err := NewArray[int32](0, rt.Temp())
				if err != nil {
					return err
				}
				for j := int32(0); j < 256; j++ {
					if err := arr.Append(j); err != nil {
						return err
					}
				}
				return nil
			})
		}
	})

	b.Run("GuardedFrames/Builtin", func(b *testing.B) {
		b.ResetTimer()

		for i := 0; i < b.N; i++ {
			var arr []int32
			for j := int32(0); j < 256; j++ {
				arr = append(arr, j)
			}
			_ = arr
		}
	})

	// Test 4: Tracking overhead
	b.Run("Tracked/Heap", func(b *testing.B) {
		tr := NewTracker(NewHeap(0, nil), nil, TrackerOptions{})
		b.ResetTimer()

		for i := 0; i < b.N; i++ {
			buf, _ := tr.Alloc(128)
			tr.Free(buf)
		}
	})

	b.Run("Tracked/CallSites", func(b *testing.B) {
		tr := NewTracker(NewHeap(0, nil), nil, TrackerOptions{CallSites: true})
		b.ResetTimer()

		for i := 0; i < b.N; i++ {
			buf, _ := tr.Alloc(128)
			tr.Free(buf)
		}
	})

	b.Run("Untracked/Heap", func(b *testing.B) {
		h := NewHeap(0, nil)
		b.ResetTimer()

		for i := 0; i < b.N; i++ {
			buf, _ := h.Alloc(128)
			h.Free(buf)
		}
	})
}
