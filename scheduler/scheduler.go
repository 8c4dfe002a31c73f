// Package scheduler implements a single-threaded cooperative scheduler:
// a FIFO ready queue, a blocked set (owned implicitly by whichever
// subsystem parked the coroutine — cchan, cselect, or asocket), spawn,
// yield, park/ready, and an error sink for coroutine failures that
// escape safeExecute.
//
// The ready queue is an active/spare slice pair: Ready appends under a
// mutex, and the drain swaps the active slice for the empty spare and
// releases the mutex before resuming anything, so work submitted during
// a drain lands in the next batch instead of contending on every single
// append.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kobi2187/arsenal-sub002/atomicx"
	"github.com/kobi2187/arsenal-sub002/backend"
	"github.com/kobi2187/arsenal-sub002/fiber"
	"github.com/kobi2187/arsenal-sub002/logging"
)

// task pairs a coroutine with the value its next Resume should deliver.
type task struct {
	co  *fiber.Coroutine
	arg any
}

// Poller is the subset of the event loop the scheduler needs: a way to
// block for external readiness (I/O, timers) when the ready queue is
// empty but parked work still exists, without busy-spinning.
type Poller interface {
	// Poll blocks up to timeout (a negative duration means "forever",
	// zero means "don't block") waiting for I/O or timer readiness,
	// calling back into the scheduler via Ready for whatever it wakes.
	// It returns the number of events it dispatched.
	Poll(timeoutNanos int64) int
	// HasWaiters reports whether any fd interest or timer is still
	// outstanding, i.e. whether polling could still produce progress.
	HasWaiters() bool
}

// ErrorSink receives errors from coroutines that panicked, since
// Resume's caller (the scheduler loop) is not the code that spawned
// them. A value returned by a coroutine body, even an error value, is
// its result and is not passed to the sink.
type ErrorSink func(co *fiber.Coroutine, err error)

// Scheduler runs coroutines cooperatively on the calling goroutine.
// A Scheduler is not safe for concurrent use by multiple goroutines
// calling Run simultaneously, but Ready and Spawn may be called from any
// goroutine (including from inside a running coroutine, or from an
// eventloop poller callback), since the parking API is thread-safe even
// though execution itself is single-threaded.
type Scheduler struct {
	backend     backend.Backend
	onError     ErrorSink
	poller      Poller
	onOverload  func(error)
	readyBudget int

	state atomicx.Bool

	mu     sync.Mutex
	active []task
	spare  []task

	blockedCount atomicx.Int64
}

// Option configures a Scheduler at construction.
type Option func(*Scheduler)

// WithPoller attaches an event loop Poller consulted whenever the ready
// queue drains but blocked coroutines remain outstanding.
func WithPoller(p Poller) Option {
	return func(s *Scheduler) { s.poller = p }
}

// WithEventLoop is WithPoller's named alias for the common case of
// attaching an *eventloop.Loop (which satisfies Poller), matching the
// spelling callers expect when the attached Poller is in fact the event
// loop rather than a test double.
func WithEventLoop(p Poller) Option {
	return WithPoller(p)
}

// WithErrorSink overrides the default error sink, which logs coroutine
// errors through the scheduler-category logger.
func WithErrorSink(sink ErrorSink) Option {
	return func(s *Scheduler) { s.onError = sink }
}

func defaultErrorSink(_ *fiber.Coroutine, err error) {
	logging.For(logging.CategoryScheduler).Err().Err(err).Log("scheduler: coroutine failed")
}

// defaultReadyBudget is how many coroutines a single runOnce pass may
// resume before WithOnOverload's callback fires.
const defaultReadyBudget = 10_000

// ErrOverloaded is passed to a WithOnOverload callback when a single
// ready-queue drain exceeds the configured (or default) budget,
// indicating coroutines are being spawned or woken faster than the
// scheduler can drain them.
var ErrOverloaded = errors.New("scheduler: ready queue exceeds tick budget")

// WithOnOverload registers a callback invoked once per runOnce pass
// whose batch size exceeds the ready-queue budget (WithOverloadBudget,
// or defaultReadyBudget if unset). A panic inside the callback is
// recovered and routed to the error sink instead of propagating into
// Run, the same containment boundary fiber applies to coroutine bodies.
func WithOnOverload(fn func(error)) Option {
	return func(s *Scheduler) { s.onOverload = fn }
}

// WithOverloadBudget overrides defaultReadyBudget, the ready-queue batch
// size beyond which WithOnOverload's callback fires.
func WithOverloadBudget(n int) Option {
	return func(s *Scheduler) { s.readyBudget = n }
}

// New creates a Scheduler whose coroutines switch via be.
func New(be backend.Backend, opts ...Option) *Scheduler {
	s := &Scheduler{
		backend:     be,
		onError:     defaultErrorSink,
		readyBudget: defaultReadyBudget,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Self is the handle a running coroutine's body uses to talk back to the
// scheduler that owns it: park itself, and reach the owning Scheduler
// and its own Coroutine handle for bookkeeping by cchan/cselect/asocket.
type Self struct {
	Sched *Scheduler
	Co    *fiber.Coroutine
	// Yield suspends the calling coroutine, handing v to whoever called
	// (or next calls) Resume, and returns the value a later Resume call
	// delivers. Subsystems parking a coroutine call this directly; it is
	// the same closure fiber.New threads through the coroutine body.
	Yield func(any) any
}

// YieldNow re-enqueues the calling coroutine at the tail of the ready
// queue and switches out, so every other ready coroutine gets a turn
// before this one runs again.
func (s *Self) YieldNow() {
	s.Sched.Ready(s.Co, nil)
	s.Yield(nil)
}

// Park switches the calling coroutine out without re-enqueuing it. Some
// external actor must eventually hand it back via Unpark; the value
// Unpark supplies becomes Park's return value.
func (s *Self) Park() any {
	s.Sched.MarkBlocked()
	return s.Yield(nil)
}

// Unpark makes a coroutine parked via Park ready again, delivering arg
// as Park's return value. It pairs MarkUnblocked with Ready so the
// scheduler's blocked accounting stays balanced.
func (s *Scheduler) Unpark(co *fiber.Coroutine, arg any) {
	s.MarkUnblocked()
	s.Ready(co, arg)
}

// Spawn creates a new coroutine running fn and enqueues it on the ready
// queue with a nil initial argument. It returns immediately; fn does not
// run until a subsequent Run drains the queue.
func (s *Scheduler) Spawn(fn func(self *Self, arg any) any) *fiber.Coroutine {
	var co *fiber.Coroutine
	co = fiber.New(s.backend, func(yield func(any) any, arg any) any {
		return fn(&Self{Sched: s, Co: co, Yield: yield}, arg)
	})
	s.Ready(co, nil)
	return co
}

// Ready re-enqueues a coroutine onto the FIFO ready queue with arg as
// the value its next Resume delivers. Safe to call from any goroutine,
// including from an I/O readiness callback waking a parked coroutine —
// this is the sole entry point subsystems like cchan/cselect/asocket use
// to hand a parked coroutine back to the scheduler.
func (s *Scheduler) Ready(co *fiber.Coroutine, arg any) {
	co.MarkReady()
	s.mu.Lock()
	s.active = append(s.active, task{co: co, arg: arg})
	s.mu.Unlock()
}

// MarkBlocked records that a coroutine has parked itself outside the
// ready queue (e.g. awaiting a channel partner or I/O). Callers pair
// this with a later Ready once the wait resolves. It exists purely so
// Run can tell "queue empty, nothing left to do" apart from "queue
// empty, but N coroutines are parked waiting on something" and poll
// instead of returning.
func (s *Scheduler) MarkBlocked() { s.blockedCount.FetchAdd(1, atomicx.AcqRel) }

// MarkUnblocked undoes a MarkBlocked once the coroutine is handed back
// to Ready.
func (s *Scheduler) MarkUnblocked() { s.blockedCount.FetchAdd(-1, atomicx.AcqRel) }

func (s *Scheduler) drain() []task {
	s.mu.Lock()
	batch := s.active
	s.active = s.spare[:0]
	s.spare = batch[:0]
	s.mu.Unlock()
	return batch
}

// reportOverload invokes the configured onOverload callback, recovering
// any panic and routing it to the error sink instead of letting it
// escape runOnce.
func (s *Scheduler) reportOverload() {
	defer func() {
		if r := recover(); r != nil {
			s.onError(nil, errors.New("scheduler: OnOverload callback panicked"))
		}
	}()
	s.onOverload(ErrOverloaded)
}

// runOnce resumes every coroutine currently in the ready queue exactly
// once and returns the number it resumed.
func (s *Scheduler) runOnce() int {
	batch := s.drain()
	if s.onOverload != nil && len(batch) > s.readyBudget {
		s.reportOverload()
	}
	for _, t := range batch {
		if t.co.Status() == fiber.Finished {
			continue
		}
		result, err := t.co.Resume(t.arg)
		if t.co.Status() == fiber.Finished {
			if err != nil {
				s.onError(t.co, err)
			}
			continue
		}
		_ = result // Suspended coroutines are re-added to ready elsewhere.
	}
	return len(batch)
}

// Run drains the ready queue to exhaustion, polling the attached Poller
// (if any) whenever the queue empties but blocked coroutines remain
// outstanding, and returns once there is truly nothing left to do: an
// empty ready queue, zero blocked coroutines, and (if a Poller is
// attached) no outstanding fd/timer waiters. With no Poller attached it
// also returns once the ready queue is empty while coroutines are still
// blocked, since nothing could wake them; those coroutines stay parked.
func (s *Scheduler) Run() {
	s.state.Store(true, atomicx.Release)
	defer s.state.Store(false, atomicx.Release)

	for {
		if n := s.runOnce(); n > 0 {
			continue
		}
		if s.blockedCount.Load(atomicx.Acquire) == 0 {
			if s.poller == nil || !s.poller.HasWaiters() {
				return
			}
		}
		if s.poller == nil {
			// Nothing can ever wake the blocked coroutines.
			return
		}
		s.poller.Poll(-1)
	}
}

// RunUntilIdle is Run's non-blocking sibling: it drains whatever is
// ready right now (polling the Poller with a zero timeout in between)
// and returns as soon as a drain pass resumes nothing, without waiting
// indefinitely on a Poller that might still produce future work.
func (s *Scheduler) RunUntilIdle() {
	for {
		if n := s.runOnce(); n > 0 {
			continue
		}
		if s.poller != nil && s.poller.Poll(0) > 0 {
			continue
		}
		return
	}
}

// runPollInterval bounds how long RunAll blocks in a single Poll call, so
// a cancelled ctx is noticed promptly instead of only between poll calls
// that might otherwise wait indefinitely.
const runPollInterval = 50 * time.Millisecond

// RunAll is Run's cancellable counterpart: it drains the ready queue and
// polls exactly as Run does, but also watches ctx, returning ctx.Err()
// the moment it is cancelled instead of waiting for every blocked
// coroutine to resolve on its own. Coroutines still parked when RunAll
// returns this way remain parked; a later Run or RunAll call resumes
// them from where they left off. This is the graceful counterpart to
// Run's immediate "stop when there is truly nothing left" contract.
func (s *Scheduler) RunAll(ctx context.Context) error {
	s.state.Store(true, atomicx.Release)
	defer s.state.Store(false, atomicx.Release)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if n := s.runOnce(); n > 0 {
			continue
		}
		if s.blockedCount.Load(atomicx.Acquire) == 0 {
			if s.poller == nil || !s.poller.HasWaiters() {
				return nil
			}
		}
		if s.poller == nil {
			return nil
		}
		s.poller.Poll(int64(runPollInterval))
	}
}

// IsRunning reports whether Run is currently executing.
func (s *Scheduler) IsRunning() bool { return s.state.Load(atomicx.Acquire) }

// Stats is a point-in-time snapshot of scheduler load: ready-queue
// depth, parked-coroutine count, and whether Run is currently executing.
type Stats struct {
	ReadyLen int
	Blocked  int64
	Running  bool
}

// Stats reports the scheduler's current load.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	ready := len(s.active)
	s.mu.Unlock()
	return Stats{
		ReadyLen: ready,
		Blocked:  s.blockedCount.Load(atomicx.Acquire),
		Running:  s.IsRunning(),
	}
}
