// Package errs defines the error taxonomy shared by the scheduler,
// channels, queues, event loop, and async sockets.
package errs

import (
	"errors"
	"fmt"

	"code.hybscloud.com/iox"
)

var (
	// ErrChannelClosed is returned by a blocking send on a closed channel,
	// or a blocking recv on a closed-and-drained channel.
	ErrChannelClosed = errors.New("csparsenal: channel closed")

	// ErrWouldBlock is the internal would-block signal. Try-variants
	// translate it into a bool/absence; blocking variants never return it
	// to the caller. Aliased onto iox.ErrWouldBlock so queue, channel,
	// and socket call sites share one sentinel with iox-based code.
	ErrWouldBlock = iox.ErrWouldBlock

	// ErrTimedOut names the timed-out condition. No operation in this
	// module returns it: cselect.SelectTimeout reports a timeout as
	// (-1, true) instead.
	ErrTimedOut = errors.New("csparsenal: timed out")

	// ErrLoopTerminated names the stopped-event-loop condition. No
	// operation in this module returns it: a closed eventloop.Loop
	// reports eventloop.ErrPollerClosed instead.
	ErrLoopTerminated = errors.New("csparsenal: event loop terminated")
)

// UsageError reports a programming error: double-close, resuming a
// finished coroutine, or destroying an unfinished one. These are never
// part of normal control flow. A second registration of the same fd is
// reported by the event loop as eventloop.ErrFDAlreadyRegistered, not as
// a UsageError.
type UsageError struct {
	Op  string
	Msg string
}

func (e *UsageError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("csparsenal: usage error: %s", e.Op)
	}
	return fmt.Sprintf("csparsenal: usage error: %s: %s", e.Op, e.Msg)
}

// NewUsageError constructs a UsageError for the named operation.
func NewUsageError(op, msg string) *UsageError {
	return &UsageError{Op: op, Msg: msg}
}

// IOError wraps a syscall failure with the fd and underlying errno that
// produced it.
type IOError struct {
	FD  int
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("csparsenal: io error: %s fd=%d: %v", e.Op, e.FD, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// NewIOError constructs an IOError.
func NewIOError(op string, fd int, err error) *IOError {
	return &IOError{FD: fd, Op: op, Err: err}
}

// IsWouldBlock reports whether err indicates the operation would block,
// delegating to iox.IsWouldBlock for wrapped-error support.
func IsWouldBlock(err error) bool {
	return iox.IsWouldBlock(err)
}
