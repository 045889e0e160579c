package vmem

import (
	"go.uber.org/zap"
)

// Runtime bundles the allocators a subsystem shares: a default allocator
// for long-lived memory, a temporary arena for scratch memory, and the
// error stack guarded blocks run on.
//
// One Runtime per goroutine. Pass it explicitly to the code that
// allocates; containers remember the allocator they were created with.
type Runtime struct {
	cfg     Config
	log     *zap.Logger
	heap    *Heap
	tracker *Tracker
	def     Allocator
	temp    *Arena
	errs    *ErrorStack
	closed  bool
}

// NewRuntime builds a Runtime from cfg. With TrackMemory set the default
// allocator is a Tracker over the heap. The temporary arena takes its
// pages straight from the heap, so the tracker only sees the caller's
// allocations and temp memory is reported on its own line.
func NewRuntime(cfg Config, log *zap.Logger) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	rt := &Runtime{
		cfg:  cfg,
		log:  log,
		heap: NewHeap(cfg.MaxAlloc, log.Named("heap")),
		errs: NewErrorStack(log.Named("errors"), cfg.Debug),
	}
	rt.heap.SetTrace(cfg.TraceAllocations)
	rt.def = rt.heap
	if cfg.TrackMemory {
		rt.tracker = NewTracker(rt.heap, log.Named("tracker"), TrackerOptions{
			CallSites: cfg.TrackCallSites,
			Trace:     cfg.TraceAllocations,
		})
		rt.tracker.onError = rt.errs.Raise
		rt.def = rt.tracker
	} else {
		rt.heap.onError = rt.errs.Raise
	}

	temp, err := NewArena(rt.heap, cfg.arenaConfig(), log.Named("arena"))
	if err != nil {
		return nil, err
	}
	temp.onError = rt.errs.Raise
	rt.temp = temp
	return rt, nil
}

// Allocator returns the default allocator.
func (rt *Runtime) Allocator() Allocator { return rt.def }

// Temp returns the temporary arena.
func (rt *Runtime) Temp() *Arena { return rt.temp }

// Tracker returns the tracker behind the default allocator, or nil when
// memory tracking is off.
func (rt *Runtime) Tracker() *Tracker { return rt.tracker }

// Heap returns the heap at the bottom of the default allocator.
func (rt *Runtime) Heap() *Heap { return rt.heap }

// Errors returns the error stack.
func (rt *Runtime) Errors() *ErrorStack { return rt.errs }

// Logger returns the runtime's logger.
func (rt *Runtime) Logger() *zap.Logger { return rt.log }

// Config returns the configuration the runtime was built with.
func (rt *Runtime) Config() Config { return rt.cfg }

// SaveTemp captures the temporary arena's position.
func (rt *Runtime) SaveTemp() Watermark { return rt.temp.Save() }

// RestoreTemp frees every temporary allocation made since w was saved.
func (rt *Runtime) RestoreTemp(w Watermark) { rt.temp.Restore(w) }

// Enter starts a guarded block on the runtime's error stack and
// temporary arena.
func (rt *Runtime) Enter() *Guard {
	return NewGuard(rt.errs, rt.temp)
}

// Try runs fn as a guarded block and reports whether it succeeded.
func (rt *Runtime) Try(fn func() error) bool {
	return Guarded(rt.errs, rt.temp, fn)
}

// Raise hands err to the current error handler. Outside a guarded block
// this terminates the process.
func (rt *Runtime) Raise(err error) {
	rt.errs.Raise(err)
}

// Check raises err if it is not nil and reports whether it was nil.
func (rt *Runtime) Check(err error) bool {
	if err == nil {
		return true
	}
	rt.errs.Raise(err)
	return false
}

// AdvanceGeneration starts a new tracking generation. It does nothing
// when tracking is off.
func (rt *Runtime) AdvanceGeneration() error {
	if rt.tracker == nil {
		return nil
	}
	return rt.tracker.AdvanceGeneration()
}

// LogUsage logs the tracker diagnostic, if tracking is on, and the
// temporary arena's page usage.
func (rt *Runtime) LogUsage() {
	rt.logUsage(rt.temp.NumPages())
}

func (rt *Runtime) logUsage(tempPages int) {
	if rt.tracker != nil {
		rt.tracker.LogUsage()
	}
	rt.log.Info("temp", zap.Int("bytes", tempPages*rt.temp.PageSize()), zap.Int("pages", tempPages))
}

// Close releases the temporary arena and logs the final usage report.
// Anything the tracker still holds afterwards is a leak.
func (rt *Runtime) Close() {
	if rt.closed {
		return
	}
	rt.closed = true
	pages := rt.temp.NumPages()
	rt.temp.Release()
	rt.logUsage(pages)
}
