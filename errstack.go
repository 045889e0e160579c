package vmem

import (
	"os"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// MaxHandlers is the number of handler frames that can be pushed above
// the default frame.
const MaxHandlers = 5

// Handler reacts to a raised error. ctx is the value given to Push.
type Handler func(err error, ctx any)

type handlerFrame struct {
	fn   Handler
	ctx  any
	prev int
}

// ErrorStack is a bounded stack of error handlers.
//
// The bottom frame is fixed: it logs the error and terminates the process,
// or panics when debug is set so the goroutine stack survives for
// inspection. Guards push frames above it for the duration of a block.
type ErrorStack struct {
	frames [MaxHandlers]handlerFrame
	top    int
	log    *zap.Logger
	debug  bool
	exit   func(code int)
}

// NewErrorStack returns a stack holding only the default frame.
func NewErrorStack(log *zap.Logger, debug bool) *ErrorStack {
	if log == nil {
		log = zap.NewNop()
	}
	return &ErrorStack{top: -1, log: log, debug: debug, exit: os.Exit}
}

// Push installs h with ctx on top of the stack and returns the frame,
// which must be passed to the matching Pop.
func (s *ErrorStack) Push(h Handler, ctx any) int {
	idx := s.top + 1
	if idx >= MaxHandlers {
		assertf("error stack: more than %d handlers", MaxHandlers)
	}
	s.frames[idx] = handlerFrame{fn: h, ctx: ctx, prev: s.top}
	s.top = idx
	return idx
}

// Pop removes frame, which must be the top of the stack.
func (s *ErrorStack) Pop(frame int) {
	if s.top < 0 {
		assertf("error stack: pop of the default handler")
	}
	if frame != s.top {
		assertf("error stack: pop of frame %d while frame %d is on top", frame, s.top)
	}
	s.top = s.frames[frame].prev
	s.frames[frame] = handlerFrame{}
}

// Depth returns the number of frames above the default one.
func (s *ErrorStack) Depth() int {
	return s.top + 1
}

// Raise hands err to the handler on top of the stack.
func (s *ErrorStack) Raise(err error) {
	if err == nil {
		return
	}
	if s.top < 0 {
		s.fatal(err)
		return
	}
	f := s.frames[s.top]
	f.fn(err, f.ctx)
}

func (s *ErrorStack) fatal(err error) {
	s.log.Error("fatal", zap.Error(err))
	if s.debug {
		panic(err)
	}
	s.exit(1)
}

// errRaised marks errors that have already been handed to a handler so a
// failure crossing several allocators is only reported once.
var errRaised = errors.New("raised")

// raise reports err through h unless it was reported already, and
// returns err marked as reported.
func raise(h func(error), err error) error {
	if h == nil || errors.Is(err, errRaised) {
		return err
	}
	h(err)
	return errors.Mark(err, errRaised)
}
