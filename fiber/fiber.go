// Package fiber implements the Coroutine abstraction: a user-level unit
// of cooperative execution with a status lifecycle (Created, Ready,
// Running, Suspended, Finished) wrapping a backend.Context, plus the
// resume/yield exchange of values and a panic-to-error containment
// boundary (safeExecute) so one coroutine's panic cannot take down the
// scheduler.
package fiber

import (
	"fmt"
	"sync"

	"github.com/kobi2187/arsenal-sub002/backend"
	"github.com/kobi2187/arsenal-sub002/errs"
	"github.com/kobi2187/arsenal-sub002/logging"
)

// Status is a Coroutine's position in its lifecycle.
type Status int

const (
	Created Status = iota
	Ready
	Running
	Suspended
	Finished
)

func (s Status) String() string {
	switch s {
	case Created:
		return "created"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Suspended:
		return "suspended"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// Func is a coroutine's body. It receives the Yield function closed over
// its own Coroutine, and the initial argument passed to Resume. Its
// return value becomes the final value observed by whoever calls Resume
// after the body returns.
type Func func(yield func(any) any, arg any) any

// Coroutine is a single user-level cooperative execution unit.
type Coroutine struct {
	mu     sync.Mutex
	status Status
	ctx    backend.Context
	xfer   any // value in transit across the current Resume/Yield boundary
	err    error
	panicV any
}

// New creates a Coroutine that will run fn, switched via the given
// backend. The coroutine starts in Created and does no work until the
// first Resume.
func New(be backend.Backend, fn Func) *Coroutine {
	co := &Coroutine{status: Created}
	co.ctx = be.Create(func(self backend.Context) {
		arg := co.takeXfer()
		result, err := safeExecute(func() any {
			return fn(co.yieldFn(self), arg)
		})
		co.mu.Lock()
		co.xfer = result
		co.err = err
		co.status = Finished
		co.mu.Unlock()
	})
	return co
}

// Option configures the backend a NewWithOptions-constructed Coroutine
// switches via.
type Option func(*options)

type options struct {
	model    backend.Model
	poolSize int
}

// WithStackBackend selects Direct (the default) or Pooled as the
// context-switch strategy.
func WithStackBackend(model backend.Model) Option {
	return func(o *options) { o.model = model }
}

// WithStackSize bounds how many Pooled contexts may hold a host goroutine
// concurrently; ignored under Direct. Named for parity with a
// per-coroutine-stack backend's stack-size knob, which this goroutine-based
// Pooled backend has no direct equivalent of.
func WithStackSize(n int) Option {
	return func(o *options) { o.poolSize = n }
}

// NewWithOptions is New's convenience form: it builds the backend.Backend
// from opts instead of requiring the caller to construct one directly.
func NewWithOptions(fn Func, opts ...Option) *Coroutine {
	o := options{model: backend.Direct, poolSize: 1}
	for _, opt := range opts {
		opt(&o)
	}
	return New(backend.New(o.model, o.poolSize), fn)
}

// safeExecute runs fn, converting a panic into an error rather than
// letting it propagate across the context switch and crash whichever
// goroutine happens to be running the scheduler.
func safeExecute(fn func() any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fiber: coroutine panicked: %v", r)
			logging.For(logging.CategoryScheduler).Err().Interface("recover", r).Log("fiber: coroutine panicked")
		}
	}()
	result = fn()
	return result, nil
}

func (co *Coroutine) takeXfer() any {
	co.mu.Lock()
	defer co.mu.Unlock()
	v := co.xfer
	co.xfer = nil
	return v
}

func (co *Coroutine) yieldFn(self backend.Context) func(any) any {
	return func(v any) any {
		co.mu.Lock()
		co.xfer = v
		co.status = Suspended
		co.mu.Unlock()
		self.Yield()
		co.mu.Lock()
		co.status = Running
		arg := co.xfer
		co.xfer = nil
		co.mu.Unlock()
		return arg
	}
}

// MarkReady flags a Created or Suspended coroutine as queued to run; the
// scheduler calls it when the coroutine enters the ready queue. Running
// and Finished coroutines are left untouched, so a stale wake cannot
// revive or demote them.
func (co *Coroutine) MarkReady() {
	co.mu.Lock()
	if co.status == Created || co.status == Suspended {
		co.status = Ready
	}
	co.mu.Unlock()
}

// Status returns the coroutine's current lifecycle state.
func (co *Coroutine) Status() Status {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.status
}

// Resume transfers control into the coroutine, passing arg as the value
// the coroutine's pending Yield (or, on the first Resume, Func itself)
// receives, and blocks until the coroutine yields or finishes. It
// returns the value the coroutine yielded or returned, and a non-nil
// error if the coroutine is already Finished or panicked.
func (co *Coroutine) Resume(arg any) (any, error) {
	co.mu.Lock()
	if co.status == Finished {
		co.mu.Unlock()
		return nil, errs.NewUsageError("Resume", "coroutine already finished")
	}
	if co.status == Running {
		co.mu.Unlock()
		return nil, errs.NewUsageError("Resume", "coroutine is already running")
	}
	co.xfer = arg
	co.status = Running
	co.mu.Unlock()

	if err := co.ctx.Resume(); err != nil {
		return nil, err
	}

	co.mu.Lock()
	defer co.mu.Unlock()
	result := co.xfer
	resErr := co.err
	return result, resErr
}

// Destroy releases the coroutine's backend resources. Only legal once
// the coroutine has reached Finished.
func (co *Coroutine) Destroy() error {
	return co.ctx.Destroy()
}
