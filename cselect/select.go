// Package cselect implements non-blocking select arbitration: select
// over several channel try-operations, an optional non-blocking default
// (SelectDefault), a fairness tie-break for
// blocking Select when more than one case is immediately ready, and
// atomic cancellation of every non-winning branch once one wins.
//
// A timeout clause composes the same way time.After composes with a
// native Go select: After returns an ordinary receive channel fed by a
// one-shot timer, selected on exactly like any other case, and
// SelectTimeout bundles that wiring, revoking the timer when an
// ordinary case wins.
package cselect

import (
	"sync/atomic"
	"time"

	"github.com/kobi2187/arsenal-sub002/atomicx"
	"github.com/kobi2187/arsenal-sub002/cchan"
	"github.com/kobi2187/arsenal-sub002/errs"
	"github.com/kobi2187/arsenal-sub002/scheduler"
)

// Case is one arm of a select, built by SendCase or RecvCase. register
// hands the shared claim down into the channel, which consults it under
// its own mutex before committing any value transfer — the channel side
// of the single-winner protocol.
type Case struct {
	tryNow   func() bool
	register func(claim func() bool, onWin func()) (cancel func())
}

// SendCase builds a select arm that sends v on ch. *result receives the
// outcome (nil on success, errs.ErrChannelClosed if ch is closed) once
// this case is chosen.
func SendCase[T any](ch *cchan.Chan[T], v T, result *error) Case {
	return Case{
		tryNow: func() bool {
			err := ch.TrySend(v)
			if err == errs.ErrWouldBlock {
				return false
			}
			*result = err
			return true
		},
		register: func(claim func() bool, onWin func()) func() {
			return ch.RegisterSend(v, claim, func(err error) {
				*result = err
				onWin()
			})
		},
	}
}

// RecvCase builds a select arm that receives from ch into *dst. *result
// receives the outcome the same way Chan.Recv does: nil with a value
// landed in *dst, or errs.ErrChannelClosed once the channel is drained
// and closed.
func RecvCase[T any](ch *cchan.Chan[T], dst *T, result *error) Case {
	return Case{
		tryNow: func() bool {
			v, ok, err := ch.TryRecv()
			if !ok && err == nil {
				return false
			}
			if ok {
				*dst = v
			}
			*result = err
			return true
		},
		register: func(claim func() bool, onWin func()) func() {
			return ch.RegisterRecv(claim, func(v T, err error) {
				*dst = v
				*result = err
				onWin()
			})
		},
	}
}

// rotate drives the fairness tie-break: successive Select/SelectDefault
// calls start scanning cases from a different offset, so no single case
// is systematically favored when several are simultaneously ready.
var rotate atomic.Uint64

func startOffset(n int) int {
	if n == 0 {
		return 0
	}
	return int(rotate.Add(1) % uint64(n))
}

// SelectDefault tries every case once, in fairness-rotated order, and
// returns the index of the first one that is immediately ready. If none
// are ready it returns (-1, true) rather than parking the caller — the
// select's default clause.
func SelectDefault(cases ...Case) (idx int, usedDefault bool) {
	n := len(cases)
	start := startOffset(n)
	for i := 0; i < n; i++ {
		j := (start + i) % n
		if cases[j].tryNow() {
			return j, false
		}
	}
	return -1, true
}

// Select tries every case once (same fairness rotation as
// SelectDefault); if none are immediately ready it parks self and
// registers every case as a pending waiter. Whichever case's partner
// shows up first wins — guarded by a single shared claim so a race
// between two simultaneously-ready partners cannot resolve the select
// twice — and every other case's registration is cancelled before
// Select returns the winning index.
func Select(self *scheduler.Self, cases ...Case) int {
	n := len(cases)
	if n == 0 {
		panic("cselect: Select requires at least one case")
	}
	start := startOffset(n)
	for i := 0; i < n; i++ {
		j := (start + i) % n
		if cases[j].tryNow() {
			return j
		}
	}

	var claimed atomicx.Bool
	claim := func() bool {
		ok, _ := claimed.CompareAndSwap(false, true, atomicx.AcqRel)
		return ok
	}

	cancels := make([]func(), n)
	self.Sched.MarkBlocked()
	for i, c := range cases {
		idx := i
		cancels[idx] = c.register(claim, func() {
			self.Sched.MarkUnblocked()
			self.Sched.Ready(self.Co, idx)
		})
	}

	won := self.Yield(nil).(int)
	for _, cancel := range cancels {
		if cancel != nil {
			cancel()
		}
	}
	return won
}

// TimerSource schedules a one-shot callback, the minimal slice of the
// event loop's timer facility After needs. eventloop.Loop implements it.
type TimerSource interface {
	AfterFunc(d time.Duration, fn func()) (cancel func())
}

// After returns a channel that receives the firing time once, after d
// has elapsed, exactly like time.After — but backed by the cooperative
// scheduler's own timer source instead of a dedicated OS timer
// goroutine, so selecting on it parks the calling coroutine rather than
// an OS thread.
func After(ts TimerSource, d time.Duration) *cchan.Chan[time.Time] {
	ch := cchan.New[time.Time](1)
	ts.AfterFunc(d, func() {
		_ = ch.TrySend(time.Now())
	})
	return ch
}

// SelectTimeout is Select with a timeout clause: it arbitrates cases
// exactly as Select does, but if none completes within d the timeout
// branch wins instead, reported as (-1, true). When an ordinary case
// wins, the timer is cancelled before returning, so it cannot fire a
// stale wake later; the losing channel registrations are revoked by
// Select itself.
func SelectTimeout(self *scheduler.Self, ts TimerSource, d time.Duration, cases ...Case) (idx int, timedOut bool) {
	var at time.Time
	var terr error
	tch := cchan.New[time.Time](1)
	cancel := ts.AfterFunc(d, func() {
		_ = tch.TrySend(time.Now())
	})

	all := make([]Case, 0, len(cases)+1)
	all = append(all, cases...)
	all = append(all, RecvCase(tch, &at, &terr))

	won := Select(self, all...)
	if won == len(cases) {
		return -1, true
	}
	cancel()
	return won, false
}
