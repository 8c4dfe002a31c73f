package lfqueue

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"

	"github.com/kobi2187/arsenal-sub002/errs"
)

type mpmcSlot[T any] struct {
	seq  atomix.Uint64
	data T
	_    [64 - 8]byte
}

// MPMC is a bounded multi-producer/multi-consumer ring queue using
// per-slot sequence numbers (Vyukov's algorithm). Slot i is writable
// exactly when its sequence equals the enqueue position, and readable
// exactly when its sequence equals dequeue-position+1.
type MPMC[T any] struct {
	_        pad
	tail     atomix.Uint64 // enqueue position
	_        pad
	head     atomix.Uint64 // dequeue position
	_        pad
	buffer   []mpmcSlot[T]
	mask     uint64
	capacity uint64
}

// NewMPMC creates an MPMC queue. Capacity is rounded up to the next
// power of two.
func NewMPMC[T any](capacity int) *MPMC[T] {
	if capacity < 1 {
		panic("lfqueue: capacity must be >= 1")
	}
	n := uint64(roundToPow2(capacity))
	q := &MPMC[T]{
		buffer:   make([]mpmcSlot[T], n),
		mask:     n - 1,
		capacity: n,
	}
	for i := uint64(0); i < n; i++ {
		q.buffer[i].seq.StoreRelaxed(i)
	}
	return q
}

// Push enqueues v. Safe for concurrent use by multiple producers.
// Returns errs.ErrWouldBlock if the queue is full.
func (q *MPMC[T]) Push(v T) error {
	sw := spin.Wait{}
	for {
		tail := q.tail.LoadAcquire()
		slot := &q.buffer[tail&q.mask]
		seq := slot.seq.LoadAcquire()
		diff := int64(seq) - int64(tail)

		switch {
		case diff == 0:
			if q.tail.CompareAndSwapAcqRel(tail, tail+1) {
				slot.data = v
				slot.seq.StoreRelease(tail + 1)
				return nil
			}
		case diff < 0:
			return errs.ErrWouldBlock
		}
		sw.Once()
	}
}

// Pop dequeues a value. Safe for concurrent use by multiple consumers.
// ok is false if the queue is empty.
func (q *MPMC[T]) Pop() (v T, ok bool) {
	sw := spin.Wait{}
	for {
		head := q.head.LoadAcquire()
		slot := &q.buffer[head&q.mask]
		seq := slot.seq.LoadAcquire()
		diff := int64(seq) - int64(head+1)

		switch {
		case diff == 0:
			if q.head.CompareAndSwapAcqRel(head, head+1) {
				v = slot.data
				var zero T
				slot.data = zero
				slot.seq.StoreRelease(head + q.capacity)
				return v, true
			}
		case diff < 0:
			return v, false
		}
		sw.Once()
	}
}

// Cap returns the queue's physical capacity.
func (q *MPMC[T]) Cap() int { return int(q.capacity) }

// Len returns a best-effort, momentarily-consistent count of queued items.
func (q *MPMC[T]) Len() int {
	n := int64(q.tail.LoadAcquire()) - int64(q.head.LoadAcquire())
	if n < 0 {
		return 0
	}
	return int(n)
}

// IsEmpty reports whether the queue appeared empty at the instant checked.
func (q *MPMC[T]) IsEmpty() bool { return q.Len() == 0 }

// IsFull reports whether the queue appeared full at the instant checked.
func (q *MPMC[T]) IsFull() bool { return q.Len() >= int(q.capacity) }
