package vmem

import (
	"go.uber.org/zap"
)

// Guard is a guarded block: a handler frame on an ErrorStack paired with
// a watermark of a temporary arena.
//
// While the guard is on top of the stack, raised errors are logged and
// mark the guard as failed instead of terminating the process. Leave pops
// the frame and restores the watermark, so temporary memory allocated
// inside the block never outlives it.
//
//	g := rt.Enter()
//	defer g.Leave()
type Guard struct {
	errs   *ErrorStack
	temp   *Arena
	mark   Watermark
	frame  int
	failed bool
	left   bool
}

// NewGuard saves temp's position and pushes a frame on errs.
func NewGuard(errs *ErrorStack, temp *Arena) *Guard {
	g := &Guard{errs: errs, temp: temp, mark: temp.Save()}
	g.frame = errs.Push(catchGuard, g)
	return g
}

func catchGuard(err error, ctx any) {
	g := ctx.(*Guard)
	g.errs.log.Error("guarded block failed", zap.Error(err))
	g.failed = true
}

// Failed reports whether an error was raised while the guard was on top.
func (g *Guard) Failed() bool {
	return g.failed
}

// Leave pops the guard's frame and restores the watermark. Calling it
// again does nothing.
func (g *Guard) Leave() {
	if g.left {
		return
	}
	g.left = true
	g.errs.Pop(g.frame)
	g.temp.Restore(g.mark)
}

// Guarded runs fn inside a guard and reports whether it completed without
// a raised error. An error returned by fn is raised through the guard.
// Temporary memory allocated by fn is released on return, including when
// fn panics.
func Guarded(errs *ErrorStack, temp *Arena, fn func() error) (ok bool) {
	g := NewGuard(errs, temp)
	defer g.Leave()
	if err := fn(); err != nil && !g.failed {
		errs.Raise(err)
	}
	return !g.failed
}
