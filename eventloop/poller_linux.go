//go:build linux

package eventloop

import "golang.org/x/sys/unix"

// epollSelector drives readiness through a single level-triggered epoll
// instance. epoll carries a whole interest mask per fd, so modify is one
// EPOLL_CTL_MOD and the old mask is not needed.
type epollSelector struct {
	epfd     int
	eventBuf [128]unix.EpollEvent
}

func newSelector() selector { return &epollSelector{epfd: -1} }

func (s *epollSelector) open() error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	s.epfd = epfd
	return nil
}

func (s *epollSelector) close() error {
	if s.epfd < 0 {
		return nil
	}
	return unix.Close(s.epfd)
}

func (s *epollSelector) arm(fd int, events IOEvents) error {
	return s.ctl(unix.EPOLL_CTL_ADD, fd, events)
}

func (s *epollSelector) modify(fd int, _, new IOEvents) error {
	return s.ctl(unix.EPOLL_CTL_MOD, fd, new)
}

func (s *epollSelector) disarm(fd int, _ IOEvents) error {
	return unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (s *epollSelector) ctl(op, fd int, events IOEvents) error {
	ev := unix.EpollEvent{Events: epollBits(events), Fd: int32(fd)}
	return unix.EpollCtl(s.epfd, op, fd, &ev)
}

func (s *epollSelector) wait(timeoutMs int, deliver func(fd int, ev IOEvents)) error {
	n, err := unix.EpollWait(s.epfd, s.eventBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}
	for i := 0; i < n; i++ {
		deliver(int(s.eventBuf[i].Fd), ioEventsFromEpoll(s.eventBuf[i].Events))
	}
	return nil
}

// epollBits and ioEventsFromEpoll translate between the module's
// IOEvents mask and epoll's event bits, as the syscall ABI dictates.
func epollBits(events IOEvents) uint32 {
	var bits uint32
	if events&EventRead != 0 {
		bits |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		bits |= unix.EPOLLOUT
	}
	return bits
}

func ioEventsFromEpoll(bits uint32) IOEvents {
	var events IOEvents
	if bits&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if bits&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if bits&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if bits&unix.EPOLLHUP != 0 {
		events |= EventHangup
	}
	return events
}
