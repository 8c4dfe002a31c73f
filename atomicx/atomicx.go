// Package atomicx provides typed atomic wrappers with explicit memory
// orders, thread/signal fences, and a CPU spin hint.
//
// Load/store/compare-and-swap/fetch-add on the ordered types below are
// built directly on code.hybscloud.com/atomix. Operations atomix has no
// single method for (exchange, fetch-and/or/xor) are CAS retry loops
// over CompareAndSwapAcqRel with spin backoff; the pointer type wraps
// the standard library's sync/atomic, the only portable option — the Go
// memory model ties ordering to the atomic operation itself, and atomix
// exposes no ordered pointer primitive to build on instead.
package atomicx

import (
	"sync/atomic"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// Order is a memory-order tag. Unlike C++/Rust, Go does not expose a
// fence-per-order intrinsic; ordering is a property of the atomic
// operation, not a standalone parameter. Order exists to let callers
// name an ordering explicitly, and to select the matching atomix method
// (LoadAcquire vs LoadRelaxed, etc) under the hood.
type Order uint8

const (
	Relaxed Order = iota
	Acquire
	Release
	AcqRel
	SeqCst
)

// Int64 is a typed atomic signed 64-bit integer.
type Int64 struct{ v atomix.Int64 }

func (a *Int64) Load(o Order) int64 {
	if o == Relaxed {
		return a.v.LoadRelaxed()
	}
	return a.v.LoadAcquire()
}

func (a *Int64) Store(val int64, o Order) {
	if o == Relaxed {
		a.v.StoreRelaxed(val)
		return
	}
	a.v.StoreRelease(val)
}

func (a *Int64) CompareAndSwap(expected, new int64, o Order) (ok bool, actual int64) {
	if a.v.CompareAndSwapAcqRel(expected, new) {
		return true, new
	}
	return false, a.v.LoadAcquire()
}

func (a *Int64) FetchAdd(delta int64, o Order) int64 { return a.v.AddAcqRel(delta) - delta }
func (a *Int64) FetchSub(delta int64, o Order) int64 { return a.FetchAdd(-delta, o) }

// Exchange atomically replaces the value with new and returns the prior
// value.
func (a *Int64) Exchange(new int64, o Order) int64 {
	return a.rmw(func(int64) int64 { return new })
}

func (a *Int64) FetchAnd(mask int64, o Order) int64 {
	return a.rmw(func(v int64) int64 { return v & mask })
}

func (a *Int64) FetchOr(mask int64, o Order) int64 {
	return a.rmw(func(v int64) int64 { return v | mask })
}

func (a *Int64) FetchXor(mask int64, o Order) int64 {
	return a.rmw(func(v int64) int64 { return v ^ mask })
}

// rmw applies f as an atomic read-modify-write via a CAS retry loop,
// returning the prior value.
func (a *Int64) rmw(f func(int64) int64) int64 {
	sw := spin.Wait{}
	for {
		cur := a.v.LoadAcquire()
		if a.v.CompareAndSwapAcqRel(cur, f(cur)) {
			return cur
		}
		sw.Once()
	}
}

// Uint64 is a typed atomic unsigned 64-bit integer.
type Uint64 struct{ v atomix.Uint64 }

func (a *Uint64) Load(o Order) uint64 {
	if o == Relaxed {
		return a.v.LoadRelaxed()
	}
	return a.v.LoadAcquire()
}

func (a *Uint64) Store(val uint64, o Order) {
	if o == Relaxed {
		a.v.StoreRelaxed(val)
		return
	}
	a.v.StoreRelease(val)
}

func (a *Uint64) CompareAndSwap(expected, new uint64, o Order) (ok bool, actual uint64) {
	if a.v.CompareAndSwapAcqRel(expected, new) {
		return true, new
	}
	return false, a.v.LoadAcquire()
}

func (a *Uint64) FetchAdd(delta uint64, o Order) uint64 { return a.v.AddAcqRel(delta) - delta }

// Exchange atomically replaces the value with new and returns the prior
// value.
func (a *Uint64) Exchange(new uint64, o Order) uint64 {
	return a.rmw(func(uint64) uint64 { return new })
}

func (a *Uint64) FetchAnd(mask uint64, o Order) uint64 {
	return a.rmw(func(v uint64) uint64 { return v & mask })
}

func (a *Uint64) FetchOr(mask uint64, o Order) uint64 {
	return a.rmw(func(v uint64) uint64 { return v | mask })
}

func (a *Uint64) FetchXor(mask uint64, o Order) uint64 {
	return a.rmw(func(v uint64) uint64 { return v ^ mask })
}

func (a *Uint64) rmw(f func(uint64) uint64) uint64 {
	sw := spin.Wait{}
	for {
		cur := a.v.LoadAcquire()
		if a.v.CompareAndSwapAcqRel(cur, f(cur)) {
			return cur
		}
		sw.Once()
	}
}

// Bool is a typed atomic boolean.
type Bool struct{ v atomix.Bool }

func (a *Bool) Load(o Order) bool {
	if o == Relaxed {
		return a.v.LoadRelaxed()
	}
	return a.v.LoadAcquire()
}

func (a *Bool) Store(val bool, o Order) {
	if o == Relaxed {
		a.v.StoreRelaxed(val)
		return
	}
	a.v.StoreRelease(val)
}

func (a *Bool) CompareAndSwap(expected, new bool, o Order) (ok bool, actual bool) {
	if a.v.CompareAndSwapAcqRel(expected, new) {
		return true, new
	}
	return false, a.v.LoadAcquire()
}

// Exchange atomically replaces the value with new and returns the prior
// value.
func (a *Bool) Exchange(new bool, o Order) bool {
	sw := spin.Wait{}
	for {
		cur := a.v.LoadAcquire()
		if a.v.CompareAndSwapAcqRel(cur, new) {
			return cur
		}
		sw.Once()
	}
}

// Pointer is a typed atomic pointer. atomix has no ordered pointer
// type, so this wraps sync/atomic.Pointer directly (see package doc).
type Pointer[T any] struct{ v atomic.Pointer[T] }

func (a *Pointer[T]) Load() *T      { return a.v.Load() }
func (a *Pointer[T]) Store(p *T)    { a.v.Store(p) }
func (a *Pointer[T]) Swap(p *T) *T  { return a.v.Swap(p) }
func (a *Pointer[T]) CompareAndSwap(old, new *T) bool {
	return a.v.CompareAndSwap(old, new)
}

// ThreadFence establishes a cross-goroutine happens-before edge. Go's
// memory model attaches this to the atomic operation itself (there is no
// standalone fence instruction exposed to Go code); ThreadFence performs
// a SeqCst round trip through a throwaway atomic word to approximate one.
func ThreadFence(Order) {
	var v atomic.Uint32
	v.CompareAndSwap(0, 0)
}

// SignalFence is a compiler-only barrier preventing reordering of
// ordinary (non-atomic) accesses around it within the same goroutine.
// Go's compiler does not reorder across atomic package calls, so this is
// realized the same way as ThreadFence.
func SignalFence(Order) {
	var v atomic.Uint32
	v.CompareAndSwap(0, 0)
}

// SpinHint yields the CPU for one iteration of a tight retry loop,
// wrapping code.hybscloud.com/spin.Wait's progressive backoff.
type SpinHint struct{ w spin.Wait }

// Once performs one spin/backoff step.
func (s *SpinHint) Once() { s.w.Once() }
