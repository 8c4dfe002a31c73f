//go:build darwin

package eventloop

import "golang.org/x/sys/unix"

// kqueueSelector drives readiness through kqueue. kqueue has no combined
// interest mask: each direction is its own EVFILT_READ/EVFILT_WRITE
// kevent, so arm/disarm expand the mask into one change per set bit and
// modify is expressed as the delta between the old and new masks.
type kqueueSelector struct {
	kq       int
	eventBuf [128]unix.Kevent_t
}

func newSelector() selector { return &kqueueSelector{kq: -1} }

func (s *kqueueSelector) open() error {
	kq, err := unix.Kqueue()
	if err != nil {
		return err
	}
	unix.CloseOnExec(kq)
	s.kq = kq
	return nil
}

func (s *kqueueSelector) close() error {
	if s.kq < 0 {
		return nil
	}
	return unix.Close(s.kq)
}

func (s *kqueueSelector) arm(fd int, events IOEvents) error {
	return s.change(fd, events, unix.EV_ADD|unix.EV_ENABLE)
}

func (s *kqueueSelector) modify(fd int, old, new IOEvents) error {
	if dropped := old &^ new; dropped != 0 {
		// Best effort: the filter may already be gone after an EV_EOF.
		_ = s.change(fd, dropped, unix.EV_DELETE)
	}
	if added := new &^ old; added != 0 {
		return s.change(fd, added, unix.EV_ADD|unix.EV_ENABLE)
	}
	return nil
}

func (s *kqueueSelector) disarm(fd int, events IOEvents) error {
	return s.change(fd, events, unix.EV_DELETE)
}

// change applies flags to every per-direction filter named by events.
func (s *kqueueSelector) change(fd int, events IOEvents, flags uint16) error {
	var changes [2]unix.Kevent_t
	n := 0
	if events&EventRead != 0 {
		changes[n] = unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags}
		n++
	}
	if events&EventWrite != 0 {
		changes[n] = unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags}
		n++
	}
	if n == 0 {
		return nil
	}
	_, err := unix.Kevent(s.kq, changes[:n], nil, nil)
	return err
}

func (s *kqueueSelector) wait(timeoutMs int, deliver func(fd int, ev IOEvents)) error {
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		ts = &unix.Timespec{
			Sec:  int64(timeoutMs / 1000),
			Nsec: int64((timeoutMs % 1000) * 1000000),
		}
	}
	n, err := unix.Kevent(s.kq, nil, s.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}
	for i := 0; i < n; i++ {
		deliver(int(s.eventBuf[i].Ident), ioEventsFromKevent(&s.eventBuf[i]))
	}
	return nil
}

// ioEventsFromKevent translates one kevent's filter and flags into the
// module's IOEvents mask, as the syscall ABI dictates.
func ioEventsFromKevent(kev *unix.Kevent_t) IOEvents {
	var events IOEvents
	switch kev.Filter {
	case unix.EVFILT_READ:
		events |= EventRead
	case unix.EVFILT_WRITE:
		events |= EventWrite
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		events |= EventError
	}
	if kev.Flags&unix.EV_EOF != 0 {
		events |= EventHangup
	}
	return events
}
