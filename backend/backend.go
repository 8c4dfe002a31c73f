// Package backend implements a context-switch primitive: Create, Switch
// (modeled here as a Resume/Yield pair sharing one rendezvous),
// IsFinished, and Destroy, behind one interface with two interchangeable
// implementations. Both are built from goroutine rendezvous rather than
// hand-rolled assembly context switching — see DESIGN.md for why.
package backend

import "github.com/kobi2187/arsenal-sub002/errs"

// Model selects which context-switch backend a Coroutine is built on.
type Model int

const (
	// Direct models a per-coroutine-stack backend: a dedicated host
	// goroutine is reserved for the context the instant it is created,
	// regardless of whether it is ever resumed.
	Direct Model = iota
	// Pooled models a shared-stack backend: the host goroutine backing a
	// context is not claimed until the context's first Resume,
	// and at most a fixed number of contexts may hold a host goroutine
	// concurrently, mirroring a single shared stack buffer generalized to
	// a small fixed pool.
	Pooled
)

// Context is the backend's handle to one coroutine's switchable
// execution state.
type Context interface {
	// Resume switches control from the caller into this context, and
	// blocks the caller until the context yields or its entry function
	// returns. Calling Resume on a Finished context is a UsageError.
	Resume() error
	// Yield switches control from inside this context back to whichever
	// goroutine last called Resume, and blocks until Resume is called
	// again. Yield must only be called from inside the context's own
	// entry function.
	Yield()
	// Finished reports whether the entry function has returned.
	Finished() bool
	// Destroy releases backend resources associated with the context.
	// Only legal once Finished reports true.
	Destroy() error
}

// Backend constructs Context values implementing one switching strategy.
type Backend interface {
	// Create allocates a new context wrapping entry. entry receives the
	// Context itself so it can call Yield on the same object Resume is
	// invoked against, giving the entry function a way to pass values
	// back and forth across each switch.
	Create(entry func(self Context)) Context
}

// New returns the Backend implementing the requested Model. poolSize is
// only consulted for Pooled; values below 1 are treated as 1.
func New(model Model, poolSize int) Backend {
	switch model {
	case Pooled:
		if poolSize < 1 {
			poolSize = 1
		}
		return &pooledBackend{slots: make(chan struct{}, poolSize)}
	default:
		return directBackend{}
	}
}

var errNotFinished = errs.NewUsageError("Destroy", "context has not finished")
var errAlreadyFinished = errs.NewUsageError("Resume", "context already finished")
