//go:build linux || darwin

package eventloop

import (
	"context"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/stretchr/testify/assert"

	"github.com/kobi2187/arsenal-sub002/backend"
	"github.com/kobi2187/arsenal-sub002/logging"
	"github.com/kobi2187/arsenal-sub002/scheduler"
)

func TestLoopRegisterFDFiresOnWrite(t *testing.T) {
	l, err := New()
	assert.NoError(t, err)
	defer l.Close()

	var fds [2]int
	assert.NoError(t, unix.Pipe(fds[:]))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])
	assert.NoError(t, unix.SetNonblock(fds[0], true))

	fired := make(chan IOEvents, 1)
	assert.NoError(t, l.RegisterFD(fds[0], EventRead, func(ev IOEvents) {
		fired <- ev
	}))

	_, err = unix.Write(fds[1], []byte("x"))
	assert.NoError(t, err)

	n := l.Poll(int64(time.Second))
	assert.GreaterOrEqual(t, n, 1)

	select {
	case ev := <-fired:
		assert.NotZero(t, ev&EventRead)
	default:
		t.Fatal("callback did not fire")
	}
}

func TestLoopRegisterFDTwiceErrors(t *testing.T) {
	l, err := New()
	assert.NoError(t, err)
	defer l.Close()

	var fds [2]int
	assert.NoError(t, unix.Pipe(fds[:]))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	assert.NoError(t, l.RegisterFD(fds[0], EventRead, func(IOEvents) {}))
	assert.ErrorIs(t, l.RegisterFD(fds[0], EventWrite, func(IOEvents) {}), ErrFDAlreadyRegistered)
}

func TestLoopUnregisterFD(t *testing.T) {
	l, err := New()
	assert.NoError(t, err)
	defer l.Close()

	var fds [2]int
	assert.NoError(t, unix.Pipe(fds[:]))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	assert.NoError(t, l.RegisterFD(fds[0], EventRead, func(IOEvents) {}))
	assert.NoError(t, l.UnregisterFD(fds[0]))
	assert.Error(t, l.UnregisterFD(fds[0]))
}

func TestLoopAfterFuncFires(t *testing.T) {
	l, err := New()
	assert.NoError(t, err)
	defer l.Close()

	fired := make(chan struct{}, 1)
	l.AfterFunc(5*time.Millisecond, func() { fired <- struct{}{} })

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		l.Poll(int64(50 * time.Millisecond))
		select {
		case <-fired:
			return
		default:
		}
	}
	t.Fatal("timer never fired")
}

func TestLoopAfterFuncCancel(t *testing.T) {
	l, err := New()
	assert.NoError(t, err)
	defer l.Close()

	fired := false
	cancel := l.AfterFunc(5*time.Millisecond, func() { fired = true })
	cancel()

	l.Poll(int64(20 * time.Millisecond))
	assert.False(t, fired)
}

func TestLoopHasWaiters(t *testing.T) {
	l, err := New()
	assert.NoError(t, err)
	defer l.Close()

	assert.False(t, l.HasWaiters())
	l.AfterFunc(time.Minute, func() {})
	assert.True(t, l.HasWaiters())
}

func TestWithPollTimeoutBoundsIndefiniteWait(t *testing.T) {
	l, err := New(WithPollTimeout(20 * time.Millisecond))
	assert.NoError(t, err)
	defer l.Close()

	start := time.Now()
	l.Poll(-1)
	assert.Less(t, time.Since(start), time.Second)
}

func TestShutdownClosesOnceWaitersDrain(t *testing.T) {
	l, err := New()
	assert.NoError(t, err)

	l.AfterFunc(10*time.Millisecond, func() {})

	done := make(chan error, 1)
	go func() { done <- l.Shutdown(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Shutdown never returned")
	}
}

func TestShutdownReturnsContextErrorWhenWaitersNeverDrain(t *testing.T) {
	l, err := New()
	assert.NoError(t, err)
	defer l.Close()

	l.AfterFunc(time.Minute, func() {})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Shutdown(ctx), context.DeadlineExceeded)
}

func TestSleepParksUntilTimerFires(t *testing.T) {
	l, err := New()
	assert.NoError(t, err)
	defer l.Close()

	s := scheduler.New(backend.New(backend.Direct, 0), scheduler.WithPoller(l))

	const nap = 20 * time.Millisecond
	start := time.Now()
	var elapsed time.Duration
	s.Spawn(func(self *scheduler.Self, arg any) any {
		l.Sleep(self, nap)
		elapsed = time.Since(start)
		return nil
	})

	s.Run()
	assert.GreaterOrEqual(t, elapsed, nap)
}

func TestSleepingCoroutinesInterleave(t *testing.T) {
	l, err := New()
	assert.NoError(t, err)
	defer l.Close()

	s := scheduler.New(backend.New(backend.Direct, 0), scheduler.WithPoller(l))

	var order []string
	s.Spawn(func(self *scheduler.Self, arg any) any {
		l.Sleep(self, 30*time.Millisecond)
		order = append(order, "slow")
		return nil
	})
	s.Spawn(func(self *scheduler.Self, arg any) any {
		l.Sleep(self, 5*time.Millisecond)
		order = append(order, "fast")
		return nil
	})

	s.Run()
	assert.Equal(t, []string{"fast", "slow"}, order)
}

func TestWithLoggerOverridesPanicLogging(t *testing.T) {
	logger := logging.Default()
	l, err := New(WithLogger(logger))
	assert.NoError(t, err)
	defer l.Close()

	assert.NotPanics(t, func() {
		l.AfterFunc(time.Millisecond, func() { panic("boom") })
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			if l.Poll(int64(50*time.Millisecond)) > 0 {
				return
			}
		}
	})
}
