// Package lockx implements three lock variants: a fast spinning mutex, a
// fair FIFO ticket lock, and a reader/writer lock packed into a single
// atomic word, plus scoped with-lock helpers.
//
// These are built as if shared across threads (channels and the
// lock-free queues in lfqueue may cross OS-thread boundaries even though
// the scheduler itself is single-threaded), so all three are built on
// code.hybscloud.com/atomix and code.hybscloud.com/spin rather than
// sync.Mutex.
package lockx

import (
	"runtime"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// spinBudget bounds how many times Acquire spins before yielding to the
// Go scheduler.
const spinBudget = 256

// Mutex is a single atomic word, CAS-acquired, with a bounded spin
// before falling back to runtime.Gosched.
type Mutex struct {
	state atomix.Uint64
}

const (
	unlocked uint64 = 0
	locked   uint64 = 1
)

// TryAcquire attempts to acquire the mutex without blocking.
func (m *Mutex) TryAcquire() bool {
	return m.state.CompareAndSwapAcqRel(unlocked, locked)
}

// Acquire blocks until the mutex is held by the caller.
func (m *Mutex) Acquire() {
	if m.TryAcquire() {
		return
	}
	sw := spin.Wait{}
	spins := 0
	for !m.TryAcquire() {
		if spins < spinBudget {
			sw.Once()
			spins++
			continue
		}
		runtime.Gosched()
	}
}

// Release unlocks the mutex. Releasing an unheld mutex is a no-op from
// the caller's perspective (the word is simply reset with a release
// store).
func (m *Mutex) Release() {
	m.state.StoreRelease(unlocked)
}

// WithLock acquires m, runs fn, and releases m on every exit path,
// including a panic inside fn.
func WithLock(m *Mutex, fn func()) {
	m.Acquire()
	defer m.Release()
	fn()
}

// TicketLock is a fair FIFO lock: acquirers draw a ticket and spin until
// it is their turn, guaranteeing no starvation.
type TicketLock struct {
	nextTicket atomix.Uint64
	nowServing atomix.Uint64
}

// Acquire draws a ticket and waits for it to be served.
func (t *TicketLock) Acquire() uint64 {
	my := t.nextTicket.AddAcqRel(1) - 1
	sw := spin.Wait{}
	for t.nowServing.LoadAcquire() != my {
		sw.Once()
	}
	return my
}

// TryAcquire succeeds only if the caller would be served immediately,
// i.e. no other goroutine is waiting ahead of it.
func (t *TicketLock) TryAcquire() (ticket uint64, ok bool) {
	now := t.nowServing.LoadAcquire()
	if t.nextTicket.CompareAndSwapAcqRel(now, now+1) {
		return now, true
	}
	return 0, false
}

// Release admits the next ticket holder.
func (t *TicketLock) Release() {
	t.nowServing.AddAcqRel(1)
}

// WithTicketLock acquires t, runs fn, and releases t unconditionally.
func WithTicketLock(t *TicketLock, fn func()) {
	t.Acquire()
	defer t.Release()
	fn()
}

// RWLock packs a writer bit and a reader count into one atomic word.
type RWLock struct {
	word atomix.Uint64
}

const writerBit uint64 = 1 << 63

// AcquireWrite blocks until the word is entirely clear, then claims the
// writer bit.
func (l *RWLock) AcquireWrite() {
	sw := spin.Wait{}
	for {
		if l.word.CompareAndSwapAcqRel(0, writerBit) {
			return
		}
		sw.Once()
	}
}

// TryAcquireWrite claims the writer bit only if the lock is entirely free.
func (l *RWLock) TryAcquireWrite() bool {
	return l.word.CompareAndSwapAcqRel(0, writerBit)
}

// ReleaseWrite clears the writer bit.
func (l *RWLock) ReleaseWrite() {
	l.word.StoreRelease(0)
}

// AcquireRead blocks while the writer bit is set, then adds one reader.
func (l *RWLock) AcquireRead() {
	sw := spin.Wait{}
	for {
		cur := l.word.LoadAcquire()
		if cur&writerBit != 0 {
			sw.Once()
			continue
		}
		if l.word.CompareAndSwapAcqRel(cur, cur+1) {
			return
		}
		sw.Once()
	}
}

// TryAcquireRead adds one reader only if no writer currently holds the lock.
func (l *RWLock) TryAcquireRead() bool {
	cur := l.word.LoadAcquire()
	if cur&writerBit != 0 {
		return false
	}
	return l.word.CompareAndSwapAcqRel(cur, cur+1)
}

// ReleaseRead removes one reader.
func (l *RWLock) ReleaseRead() {
	l.word.AddAcqRel(^uint64(0)) // -1
}

// WithReadLock acquires a read lock, runs fn, and releases it unconditionally.
func WithReadLock(l *RWLock, fn func()) {
	l.AcquireRead()
	defer l.ReleaseRead()
	fn()
}

// WithWriteLock acquires a write lock, runs fn, and releases it unconditionally.
func WithWriteLock(l *RWLock, fn func()) {
	l.AcquireWrite()
	defer l.ReleaseWrite()
	fn()
}
