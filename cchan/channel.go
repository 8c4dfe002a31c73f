// Package cchan implements a CSP-style channel: a single type unifying
// unbuffered (rendezvous) and buffered (ring) channels,
// with send/recv/try_send/try_recv/close/is_closed/len/cap and FIFO
// waiter lists on both the send and receive sides.
//
// A waiter list is protected by the same lockx.Mutex guarding the ring
// buffer, not a lock-free queue: waking the correct waiter is a
// compound check-buffer-then-notify operation, and a lock-free queue
// does not compose atomically with that second step. The lock-free
// queues in lfqueue are for the hot single-operation SPSC/MPMC case; a
// channel's send/recv pairing is not that case.
package cchan

import (
	"github.com/kobi2187/arsenal-sub002/errs"
	"github.com/kobi2187/arsenal-sub002/lockx"
	"github.com/kobi2187/arsenal-sub002/scheduler"
)

// waiter is a coroutine parked inside Send or Recv, or a case registered
// by cselect awaiting a partner. trackBlocked is true for the former
// (Send/Recv adjust the scheduler's blocked counter themselves);
// onMatch, set only by cselect's registration methods, is invoked
// instead of rescheduling the coroutine directly, since a select
// coroutine parks once across many cases rather than once per channel.
//
// claim, also set only by cselect, is the commit gate shared by every
// case of one select: the channel calls it under its own mutex before
// transferring a value through the waiter, and a false return means
// another case of that select already won — the waiter is discarded
// without consuming or producing anything, so no value ever moves
// through a losing branch.
type waiter[T any] struct {
	self         *scheduler.Self
	value        T // populated by the sender; read by the receiver
	result       error
	trackBlocked bool
	claim        func() bool
	onMatch      func()
}

// claimable reports whether the waiter may still complete, committing
// its select (if any) to this channel operation as a side effect.
func (w *waiter[T]) claimable() bool {
	return w.claim == nil || w.claim()
}

// wake fires once a waiter's partner has been found.
func (w *waiter[T]) wake() {
	if w.trackBlocked {
		w.self.Sched.MarkUnblocked()
	}
	if w.onMatch != nil {
		w.onMatch()
		return
	}
	w.self.Sched.Ready(w.self.Co, w)
}

// Chan is a CSP channel of T. capacity 0 makes it a rendezvous channel:
// Send only completes once a matching Recv is waiting, and vice versa.
// capacity > 0 gives it a bounded FIFO buffer of that size.
type Chan[T any] struct {
	mu       lockx.Mutex
	closed   bool
	capacity int
	buf      []T

	sendWaiters []*waiter[T]
	recvWaiters []*waiter[T]
}

// New creates a channel. capacity 0 is a rendezvous channel.
func New[T any](capacity int) *Chan[T] {
	c := &Chan[T]{capacity: capacity}
	if capacity > 0 {
		c.buf = make([]T, 0, capacity)
	}
	return c
}

// Cap returns the channel's buffer capacity (0 for rendezvous).
func (c *Chan[T]) Cap() int { return c.capacity }

// Len returns the number of buffered values not yet received. For a
// rendezvous channel this is always 0.
func (c *Chan[T]) Len() int {
	c.mu.Acquire()
	defer c.mu.Release()
	return len(c.buf)
}

// IsClosed reports whether Close has been called.
func (c *Chan[T]) IsClosed() bool {
	c.mu.Acquire()
	defer c.mu.Release()
	return c.closed
}

// Close marks the channel closed, waking every waiter with
// errs.ErrChannelClosed. Closing an already-closed channel is a
// UsageError.
func (c *Chan[T]) Close() error {
	c.mu.Acquire()
	if c.closed {
		c.mu.Release()
		return errs.NewUsageError("Close", "channel already closed")
	}
	c.closed = true
	sendW := c.sendWaiters
	recvW := c.recvWaiters
	c.sendWaiters = nil
	c.recvWaiters = nil
	c.mu.Release()

	for _, w := range sendW {
		if !w.claimable() {
			continue
		}
		w.result = errs.ErrChannelClosed
		w.wake()
	}
	for _, w := range recvW {
		if !w.claimable() {
			continue
		}
		w.result = errs.ErrChannelClosed
		w.wake()
	}
	return nil
}

// TrySend attempts to send v without parking the caller. It returns
// errs.ErrWouldBlock if no receiver is waiting and the buffer (if any)
// is full, and errs.ErrChannelClosed if the channel is closed.
func (c *Chan[T]) TrySend(v T) error {
	c.mu.Acquire()
	defer c.mu.Release()
	return c.trySendLocked(v)
}

func (c *Chan[T]) trySendLocked(v T) error {
	if c.closed {
		return errs.ErrChannelClosed
	}
	if w := c.popRecvWaiterLocked(); w != nil {
		w.value = v
		w.wake()
		return nil
	}
	if c.capacity > 0 && len(c.buf) < c.capacity {
		c.buf = append(c.buf, v)
		return nil
	}
	return errs.ErrWouldBlock
}

// popSendWaiterLocked pops the oldest sender that can still commit,
// discarding select registrations whose claim has already been lost.
// Called with mu held.
func (c *Chan[T]) popSendWaiterLocked() *waiter[T] {
	for len(c.sendWaiters) > 0 {
		w := c.sendWaiters[0]
		c.sendWaiters = c.sendWaiters[1:]
		if w.claimable() {
			return w
		}
	}
	return nil
}

// popRecvWaiterLocked is popSendWaiterLocked's receive-side counterpart.
func (c *Chan[T]) popRecvWaiterLocked() *waiter[T] {
	for len(c.recvWaiters) > 0 {
		w := c.recvWaiters[0]
		c.recvWaiters = c.recvWaiters[1:]
		if w.claimable() {
			return w
		}
	}
	return nil
}

// TryRecv attempts to receive without parking the caller. ok is false
// if no value is immediately available; err distinguishes a closed,
// drained channel (errs.ErrChannelClosed) from a channel that simply has
// nothing ready (nil error, ok false).
func (c *Chan[T]) TryRecv() (v T, ok bool, err error) {
	c.mu.Acquire()
	defer c.mu.Release()
	return c.tryRecvLocked()
}

func (c *Chan[T]) tryRecvLocked() (v T, ok bool, err error) {
	if c.capacity > 0 && len(c.buf) > 0 {
		v = c.buf[0]
		c.buf = c.buf[1:]
		c.admitOneSenderLocked()
		return v, true, nil
	}
	if w := c.popSendWaiterLocked(); w != nil {
		v = w.value
		w.wake()
		return v, true, nil
	}
	if c.closed {
		return v, false, errs.ErrChannelClosed
	}
	return v, false, nil
}

// admitOneSenderLocked moves one parked sender's value into the buffer
// once Recv frees a slot, called with mu held.
func (c *Chan[T]) admitOneSenderLocked() {
	if len(c.buf) >= c.capacity {
		return
	}
	w := c.popSendWaiterLocked()
	if w == nil {
		return
	}
	c.buf = append(c.buf, w.value)
	w.wake()
}

// Send delivers v, parking the calling coroutine via self until a
// receiver (or, for a buffered channel, free capacity) is available.
// Returns errs.ErrChannelClosed if the channel is or becomes closed
// before the send completes.
func (c *Chan[T]) Send(self *scheduler.Self, v T) error {
	c.mu.Acquire()
	if err := c.trySendLocked(v); err != errs.ErrWouldBlock {
		c.mu.Release()
		return err
	}
	w := &waiter[T]{self: self, value: v, trackBlocked: true}
	c.sendWaiters = append(c.sendWaiters, w)
	self.Sched.MarkBlocked()
	c.mu.Release()

	res := self.Yield(w)
	done := res.(*waiter[T])
	return done.result
}

// Recv receives a value, parking the calling coroutine via self until a
// sender (or, for a buffered channel, a buffered value) is available.
// ok is false only when the channel is closed and drained.
func (c *Chan[T]) Recv(self *scheduler.Self) (v T, ok bool, err error) {
	c.mu.Acquire()
	v, ok, err = c.tryRecvLocked()
	if ok || err != nil {
		c.mu.Release()
		return v, ok, err
	}
	w := &waiter[T]{self: self, trackBlocked: true}
	c.recvWaiters = append(c.recvWaiters, w)
	self.Sched.MarkBlocked()
	c.mu.Release()

	res := self.Yield(w)
	done := res.(*waiter[T])
	if done.result != nil {
		return v, false, done.result
	}
	return done.value, true, nil
}

// RegisterSend parks a pending send without blocking the calling
// goroutine: it is cselect's building block, used when a coroutine wants
// to wait on several channel operations at once rather than committing
// to one. claim is consulted under the channel's mutex before any value
// moves through the registration; returning false discards it, so a
// select whose other case already won never has a value transferred
// through this one. onMatch fires at most once, from whichever goroutine
// resolves the waiter (a concurrent TryRecv/Recv/Close), after claim has
// committed. The returned cancel removes the registration if another
// case wins first; calling cancel after onMatch has fired is a harmless
// no-op.
func (c *Chan[T]) RegisterSend(v T, claim func() bool, onMatch func(err error)) (cancel func()) {
	w := &waiter[T]{value: v, claim: claim}
	w.onMatch = func() { onMatch(w.result) }
	c.mu.Acquire()
	c.sendWaiters = append(c.sendWaiters, w)
	c.mu.Release()
	return func() { c.removeSendWaiter(w) }
}

// RegisterRecv is RegisterSend's receive-side counterpart.
func (c *Chan[T]) RegisterRecv(claim func() bool, onMatch func(v T, err error)) (cancel func()) {
	w := &waiter[T]{claim: claim}
	w.onMatch = func() { onMatch(w.value, w.result) }
	c.mu.Acquire()
	c.recvWaiters = append(c.recvWaiters, w)
	c.mu.Release()
	return func() { c.removeRecvWaiter(w) }
}

func (c *Chan[T]) removeSendWaiter(target *waiter[T]) {
	c.mu.Acquire()
	defer c.mu.Release()
	for i, w := range c.sendWaiters {
		if w == target {
			c.sendWaiters = append(c.sendWaiters[:i], c.sendWaiters[i+1:]...)
			return
		}
	}
}

func (c *Chan[T]) removeRecvWaiter(target *waiter[T]) {
	c.mu.Acquire()
	defer c.mu.Release()
	for i, w := range c.recvWaiters {
		if w == target {
			c.recvWaiters = append(c.recvWaiters[:i], c.recvWaiters[i+1:]...)
			return
		}
	}
}
