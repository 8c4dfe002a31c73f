// Package lfqueue implements bounded lock-free SPSC and MPMC ring
// queues: a Lamport ring with cached indices for the single-producer/
// single-consumer case, and a Vyukov per-slot-sequence ring for the
// multi-producer/multi-consumer case, built on code.hybscloud.com/atomix
// ordered atomics and code.hybscloud.com/spin backoff.
package lfqueue

import (
	"code.hybscloud.com/atomix"

	"github.com/kobi2187/arsenal-sub002/errs"
)

// pad prevents false sharing between hot atomic fields on adjacent cache
// lines by keeping head and tail on separate cache lines.
type pad [64]byte

// SPSC is a single-producer/single-consumer bounded ring queue. Only one
// goroutine may call Push, and only one (possibly different) goroutine
// may call Pop.
type SPSC[T any] struct {
	_          pad
	head       atomix.Uint64 // consumer-owned
	_          pad
	cachedTail uint64 // consumer's cached view of tail
	_          pad
	tail       atomix.Uint64 // producer-owned
	_          pad
	cachedHead uint64 // producer's cached view of head
	_          pad
	buffer     []T
	mask       uint64
}

// NewSPSC creates an SPSC queue. Capacity is rounded up to the next
// power of two, as required for the mask-based index arithmetic.
func NewSPSC[T any](capacity int) *SPSC[T] {
	if capacity < 1 {
		panic("lfqueue: capacity must be >= 1")
	}
	n := roundToPow2(capacity)
	return &SPSC[T]{
		buffer: make([]T, n),
		mask:   uint64(n - 1),
	}
}

// Push enqueues v (producer only). Returns errs.ErrWouldBlock if full.
func (q *SPSC[T]) Push(v T) error {
	tail := q.tail.LoadRelaxed()
	if tail-q.cachedHead > q.mask {
		q.cachedHead = q.head.LoadAcquire()
		if tail-q.cachedHead > q.mask {
			return errs.ErrWouldBlock
		}
	}
	q.buffer[tail&q.mask] = v
	q.tail.StoreRelease(tail + 1)
	return nil
}

// Pop dequeues a value (consumer only). ok is false if empty.
func (q *SPSC[T]) Pop() (v T, ok bool) {
	head := q.head.LoadRelaxed()
	if head >= q.cachedTail {
		q.cachedTail = q.tail.LoadAcquire()
		if head >= q.cachedTail {
			return v, false
		}
	}
	v = q.buffer[head&q.mask]
	var zero T
	q.buffer[head&q.mask] = zero
	q.head.StoreRelease(head + 1)
	return v, true
}

// Cap returns the queue's physical capacity.
func (q *SPSC[T]) Cap() int { return int(q.mask + 1) }

// Len returns a best-effort count of queued items. Under SPSC's single
// producer/consumer precondition this value is exact with respect to the
// calling side's own view.
func (q *SPSC[T]) Len() int {
	return int(q.tail.LoadAcquire() - q.head.LoadAcquire())
}

// IsEmpty reports whether the queue currently holds no items.
func (q *SPSC[T]) IsEmpty() bool { return q.Len() == 0 }

// IsFull reports whether the queue is at capacity.
func (q *SPSC[T]) IsFull() bool { return q.Len() >= int(q.mask+1) }

func roundToPow2(n int) int {
	if n < 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
