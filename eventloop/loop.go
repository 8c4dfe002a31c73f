package eventloop

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
	"golang.org/x/sys/unix"

	"github.com/kobi2187/arsenal-sub002/logging"
	"github.com/kobi2187/arsenal-sub002/scheduler"
)

// defaultMaxPollMs bounds how long a single Poll call blocks when the
// caller asks for an indefinite wait, so a stalled wake pipe cannot hang
// the loop forever. Overridable per Loop via WithPollTimeout.
const defaultMaxPollMs = 10_000

// Option configures a Loop at construction.
type Option func(*Loop)

// WithLogger overrides the logger a Loop uses for panic containment
// inside timer callbacks, in place of the package-level logging.Default.
func WithLogger(l *logiface.Logger[*logging.Event]) Option {
	return func(loop *Loop) { loop.logger = l }
}

// WithPollTimeout bounds how long a single Poll call may block when the
// caller requests an indefinite wait (a negative timeoutNanos), in place
// of the 10-second default.
func WithPollTimeout(d time.Duration) Option {
	return func(loop *Loop) { loop.maxPollMs = d.Milliseconds() }
}

// Loop combines the FastPoller with a timer min-heap and a self-pipe
// wake mechanism, giving scheduler.Scheduler a single Poller it can
// block in whenever the ready queue empties but parked coroutines
// remain. It also implements cselect.TimerSource, so cselect.After can
// register one-shot callbacks directly against it.
type Loop struct {
	poller FastPoller

	mu     sync.Mutex
	timers timerHeap

	wakeRead, wakeWrite int
	wakePending         atomic.Bool

	logger    *logiface.Logger[*logging.Event]
	maxPollMs int64

	closed atomic.Bool
}

// New creates a Loop and initializes its poller and wake pipe.
func New(opts ...Option) (*Loop, error) {
	l := &Loop{maxPollMs: defaultMaxPollMs}
	for _, opt := range opts {
		opt(l)
	}
	if err := l.poller.Init(); err != nil {
		return nil, err
	}

	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		_ = l.poller.Close()
		return nil, err
	}
	l.wakeRead, l.wakeWrite = fds[0], fds[1]
	_ = unix.SetNonblock(l.wakeRead, true)
	_ = unix.SetNonblock(l.wakeWrite, true)

	if err := l.poller.RegisterFD(l.wakeRead, EventRead, func(IOEvents) {
		l.drainWake()
	}); err != nil {
		_ = l.poller.Close()
		_ = unix.Close(l.wakeRead)
		_ = unix.Close(l.wakeWrite)
		return nil, err
	}
	return l, nil
}

// Close releases the poller, the wake pipe, and leaves any pending
// timers uncalled.
func (l *Loop) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := l.poller.Close()
	_ = unix.Close(l.wakeRead)
	_ = unix.Close(l.wakeWrite)
	return err
}

// shutdownPollInterval bounds how long a single Poll call inside Shutdown
// blocks, so a cancelled ctx is noticed promptly rather than only between
// polls that might otherwise wait the full maxPollMs.
const shutdownPollInterval = 50 * time.Millisecond

// Shutdown is Close's graceful counterpart: it keeps polling until no fd
// interest or timer remains outstanding (HasWaiters reports false),
// then closes the loop, or returns ctx.Err() if ctx is done first. Close
// itself remains the immediate teardown that abandons outstanding work.
func (l *Loop) Shutdown(ctx context.Context) error {
	if l.closed.Load() {
		return nil
	}
	for l.HasWaiters() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		l.Poll(int64(shutdownPollInterval))
	}
	return l.Close()
}

func (l *Loop) drainWake() {
	l.wakePending.Store(false)
	var buf [64]byte
	for {
		_, err := unix.Read(l.wakeRead, buf[:])
		if err != nil {
			return
		}
	}
}

// wake interrupts a blocked PollIO call from another goroutine, used
// when RegisterFD/AfterFunc is called concurrently with a Poll in
// progress elsewhere.
func (l *Loop) wake() {
	if !l.wakePending.CompareAndSwap(false, true) {
		return
	}
	_, _ = unix.Write(l.wakeWrite, []byte{1})
}

// RegisterFD exposes the poller's fd registration to asocket.
func (l *Loop) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
	return l.poller.RegisterFD(fd, events, cb)
}

// UnregisterFD exposes the poller's fd deregistration to asocket.
func (l *Loop) UnregisterFD(fd int) error { return l.poller.UnregisterFD(fd) }

// ModifyFD exposes the poller's fd interest-set update to asocket.
func (l *Loop) ModifyFD(fd int, events IOEvents) error { return l.poller.ModifyFD(fd, events) }

// AfterFunc schedules fn to run once, after d has elapsed, the next time
// the loop polls. It implements cselect.TimerSource.
func (l *Loop) AfterFunc(d time.Duration, fn func()) (cancel func()) {
	e := &timerEntry{when: time.Now().Add(d), fn: fn}
	l.mu.Lock()
	heap.Push(&l.timers, e)
	l.mu.Unlock()
	l.wake()
	return func() {
		l.mu.Lock()
		e.cancelled = true
		l.mu.Unlock()
	}
}

// SleepUntil parks the calling coroutine until deadline has passed,
// waking it through the same timer heap AfterFunc uses.
func (l *Loop) SleepUntil(self *scheduler.Self, deadline time.Time) {
	l.AfterFunc(time.Until(deadline), func() {
		self.Sched.Unpark(self.Co, nil)
	})
	self.Park()
}

// Sleep parks the calling coroutine until at least d has elapsed.
func (l *Loop) Sleep(self *scheduler.Self, d time.Duration) {
	l.SleepUntil(self, time.Now().Add(d))
}

// nextTimeoutMs returns how long Poll should block, in milliseconds,
// capped by the next timer's deadline.
func (l *Loop) nextTimeoutMs(maxMs int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.timers) == 0 {
		return int(maxMs)
	}
	delay := time.Until(l.timers[0].when)
	if delay <= 0 {
		return 0
	}
	if ms := delay.Milliseconds(); ms < maxMs || maxMs < 0 {
		if ms == 0 {
			return 1 // ceiling round so sub-millisecond delays still wait
		}
		return int(ms)
	}
	return int(maxMs)
}

// runExpiredTimers fires every timer whose deadline has passed.
func (l *Loop) runExpiredTimers() int {
	now := time.Now()
	var fired []*timerEntry
	l.mu.Lock()
	for len(l.timers) > 0 && !l.timers[0].when.After(now) {
		e := heap.Pop(&l.timers).(*timerEntry)
		if !e.cancelled {
			fired = append(fired, e)
		}
	}
	l.mu.Unlock()

	for _, e := range fired {
		l.safeRun(e.fn)
	}
	return len(fired)
}

func (l *Loop) safeRun(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log(logging.CategoryTimer).Err().Interface("recover", r).Log("eventloop: timer callback panicked")
		}
	}()
	fn()
}

// log returns the Loop's configured logger scoped to category, falling
// back to the package-level default when WithLogger was not supplied.
func (l *Loop) log(category string) *logiface.Logger[*logging.Event] {
	base := l.logger
	if base == nil {
		base = logging.Default()
	}
	return logging.Scoped(base, category)
}

// Poll implements scheduler.Poller: it blocks up to timeoutNanos (a
// negative value blocks indefinitely, capped at maxPollMs so a stalled
// wake pipe cannot hang the loop forever) waiting for I/O or timer
// readiness, then runs whatever fired. It returns the number of I/O and
// timer events dispatched in this call.
func (l *Loop) Poll(timeoutNanos int64) int {
	maxMs := l.maxPollMs
	if timeoutNanos >= 0 {
		ms := timeoutNanos / int64(time.Millisecond)
		if ms < maxMs {
			maxMs = ms
		}
	}
	timeoutMs := l.nextTimeoutMs(maxMs)

	n, err := l.poller.PollIO(timeoutMs)
	if err != nil && err != ErrPollerClosed {
		l.log(logging.CategoryEventLoop).Err().Err(err).Log("eventloop: poll failed")
	}
	return n + l.runExpiredTimers()
}

// HasWaiters implements scheduler.Poller: true while any timer is still
// pending, or any fd other than the internal wake pipe is registered
// with a nonzero interest mask. An fd registered with no interest (such
// as an idle asocket.Socket with no parked coroutine) does not count.
func (l *Loop) HasWaiters() bool {
	l.mu.Lock()
	timers := len(l.timers)
	l.mu.Unlock()
	if timers > 0 {
		return true
	}
	l.poller.mu.RLock()
	defer l.poller.mu.RUnlock()
	for fd, w := range l.poller.waiters {
		if fd != l.wakeRead && w.events != 0 {
			return true
		}
	}
	return false
}
