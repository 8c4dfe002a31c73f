// Package eventloop implements a readiness-based event loop: fd
// registration with a waiter callback, a timer min-heap, Poll/HasWaiters
// for the scheduler to drive, and AfterFunc for cselect's timeout
// clauses. All registration bookkeeping and callback dispatch live in
// FastPoller below; the platform-specific syscall layer underneath it is
// epoll on Linux (poller_linux.go) and kqueue on Darwin
// (poller_darwin.go), via golang.org/x/sys/unix.
package eventloop

import (
	"errors"
	"sync"
	"sync/atomic"
)

// IOEvents is a bitmask of readiness conditions a registered fd may be
// interested in or report.
type IOEvents uint32

const (
	EventRead IOEvents = 1 << iota
	EventWrite
	EventError
	EventHangup
)

// IOCallback is invoked with the readiness bits observed for a
// registered fd, once per PollIO call that reports it ready.
type IOCallback func(IOEvents)

var (
	ErrFDOutOfRange        = errors.New("eventloop: fd out of range")
	ErrFDAlreadyRegistered = errors.New("eventloop: fd already registered")
	ErrFDNotRegistered     = errors.New("eventloop: fd not registered")
	ErrPollerClosed        = errors.New("eventloop: poller closed")
)

// selector is the thin platform syscall layer under FastPoller: it
// creates and closes the OS readiness handle, arms and disarms per-fd
// interest, and blocks for readiness, reporting raw (fd, events) pairs
// back through deliver. It holds no registration state of its own —
// which fds are registered, and with what callback, is entirely
// FastPoller's concern. poller_linux.go implements it over epoll,
// poller_darwin.go over kqueue.
type selector interface {
	open() error
	close() error
	arm(fd int, events IOEvents) error
	modify(fd int, old, new IOEvents) error
	disarm(fd int, events IOEvents) error
	wait(timeoutMs int, deliver func(fd int, ev IOEvents)) error
}

// fdWaiter is one registered fd's callback and current interest mask.
// The mask is kept here, not just in the kernel, because kqueue has no
// "replace interest" operation — modify needs the old mask to compute
// which per-direction filters to add and delete.
type fdWaiter struct {
	cb     IOCallback
	events IOEvents
}

// FastPoller pairs the platform selector with an fd → waiter table.
//
// A readiness report is revalidated against the table at delivery time:
// a waiter unregistered while the kernel wait was in flight is simply
// skipped, so a stale report can never invoke a callback that is no
// longer registered, and reports for fds that are still live are never
// discarded wholesale.
type FastPoller struct {
	sel    selector
	closed atomic.Bool

	mu      sync.RWMutex
	waiters map[int]fdWaiter
}

// Init creates the OS selector. Must be called before any other method.
func (p *FastPoller) Init() error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	p.waiters = make(map[int]fdWaiter)
	p.sel = newSelector()
	return p.sel.open()
}

// Close releases the OS selector. Outstanding registrations are
// abandoned; their fds are not touched.
func (p *FastPoller) Close() error {
	if !p.closed.CompareAndSwap(false, true) || p.sel == nil {
		return nil
	}
	return p.sel.close()
}

// RegisterFD records cb as fd's waiter and arms kernel interest for
// events. Registering an fd that already has a waiter is an error; the
// interest mask of an existing registration is changed with ModifyFD.
func (p *FastPoller) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	if fd < 0 {
		return ErrFDOutOfRange
	}
	p.mu.Lock()
	if _, ok := p.waiters[fd]; ok {
		p.mu.Unlock()
		return ErrFDAlreadyRegistered
	}
	p.waiters[fd] = fdWaiter{cb: cb, events: events}
	p.mu.Unlock()

	if err := p.sel.arm(fd, events); err != nil {
		p.mu.Lock()
		delete(p.waiters, fd)
		p.mu.Unlock()
		return err
	}
	return nil
}

// UnregisterFD removes fd's waiter and disarms kernel interest. The
// table entry is removed before the syscall, so a concurrent PollIO
// delivery observes the removal even if the kernel still reports the fd.
func (p *FastPoller) UnregisterFD(fd int) error {
	p.mu.Lock()
	w, ok := p.waiters[fd]
	if !ok {
		p.mu.Unlock()
		return ErrFDNotRegistered
	}
	delete(p.waiters, fd)
	p.mu.Unlock()
	return p.sel.disarm(fd, w.events)
}

// ModifyFD replaces fd's interest mask, keeping its callback.
func (p *FastPoller) ModifyFD(fd int, events IOEvents) error {
	p.mu.Lock()
	w, ok := p.waiters[fd]
	if !ok {
		p.mu.Unlock()
		return ErrFDNotRegistered
	}
	old := w.events
	w.events = events
	p.waiters[fd] = w
	p.mu.Unlock()
	return p.sel.modify(fd, old, events)
}

// PollIO blocks up to timeoutMs for readiness and dispatches callbacks
// inline on the calling goroutine. It returns how many callbacks ran —
// readiness reports whose fd was unregistered mid-wait are skipped and
// not counted.
func (p *FastPoller) PollIO(timeoutMs int) (int, error) {
	if p.closed.Load() {
		return 0, ErrPollerClosed
	}
	dispatched := 0
	err := p.sel.wait(timeoutMs, func(fd int, ev IOEvents) {
		p.mu.RLock()
		w, ok := p.waiters[fd]
		p.mu.RUnlock()
		if ok && w.cb != nil {
			dispatched++
			w.cb(ev)
		}
	})
	return dispatched, err
}

// RegisteredCount reports how many fds are currently registered,
// whatever their interest mask.
func (p *FastPoller) RegisteredCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.waiters)
}
