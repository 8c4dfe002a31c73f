//go:build linux || darwin

// Package asocket implements async socket primitives:
// new/listen/accept/connect/recv/send/close, all parking the
// calling coroutine on the shared event loop instead of blocking an OS
// thread. It is built directly on golang.org/x/sys/unix, the same
// non-blocking-fd-plus-readiness-callback style eventloop's FastPoller
// uses, rather than net.Conn, since a coroutine parking on fd readiness
// needs the raw fd and EAGAIN retry loop underneath net.Conn's blocking
// API.
package asocket

import (
	"net"
	"strconv"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/kobi2187/arsenal-sub002/errs"
	"github.com/kobi2187/arsenal-sub002/eventloop"
	"github.com/kobi2187/arsenal-sub002/logging"
	"github.com/kobi2187/arsenal-sub002/scheduler"
)

// pending tracks one coroutine parked awaiting a single readiness edge.
type pending struct {
	self *scheduler.Self
}

// Socket is a non-blocking fd registered with an event loop, with at
// most one coroutine parked awaiting readability and one awaiting
// writability at a time.
type Socket struct {
	fd   int
	loop *eventloop.Loop

	mu         sync.Mutex
	registered eventloop.IOEvents
	pendRead   *pending
	pendWrite  *pending
	closed     bool
}

func wrap(loop *eventloop.Loop, fd int) (*Socket, error) {
	s := &Socket{fd: fd, loop: loop}
	if err := loop.RegisterFD(fd, 0, s.onEvent); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return s, nil
}

// onEvent runs inline on whichever goroutine is driving the event loop's
// Poll call, per eventloop's dispatch-inline design.
func (s *Socket) onEvent(ev eventloop.IOEvents) {
	s.mu.Lock()
	var wokeRead, wokeWrite *pending
	mask := s.registered
	if ev&eventloop.EventRead != 0 && s.pendRead != nil {
		wokeRead, s.pendRead = s.pendRead, nil
		mask &^= eventloop.EventRead
	}
	if (ev&eventloop.EventWrite != 0 || ev&eventloop.EventError != 0 || ev&eventloop.EventHangup != 0) && s.pendWrite != nil {
		wokeWrite, s.pendWrite = s.pendWrite, nil
		mask &^= eventloop.EventWrite
	}
	if mask != s.registered {
		s.registered = mask
		_ = s.loop.ModifyFD(s.fd, mask)
	}
	s.mu.Unlock()

	if wokeRead != nil {
		wokeRead.self.Sched.MarkUnblocked()
		wokeRead.self.Sched.Ready(wokeRead.self.Co, nil)
	}
	if wokeWrite != nil {
		wokeWrite.self.Sched.MarkUnblocked()
		wokeWrite.self.Sched.Ready(wokeWrite.self.Co, nil)
	}
}

func (s *Socket) awaitRead(self *scheduler.Self) {
	s.mu.Lock()
	s.pendRead = &pending{self: self}
	if s.registered&eventloop.EventRead == 0 {
		s.registered |= eventloop.EventRead
		_ = s.loop.ModifyFD(s.fd, s.registered)
	}
	s.mu.Unlock()
	self.Sched.MarkBlocked()
	self.Yield(nil)
}

func (s *Socket) awaitWrite(self *scheduler.Self) {
	s.mu.Lock()
	s.pendWrite = &pending{self: self}
	if s.registered&eventloop.EventWrite == 0 {
		s.registered |= eventloop.EventWrite
		_ = s.loop.ModifyFD(s.fd, s.registered)
	}
	s.mu.Unlock()
	self.Sched.MarkBlocked()
	self.Yield(nil)
}

func resolveInet4(address string) (*unix.SockaddrInet4, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp4", address)
	if err != nil {
		return nil, err
	}
	sa := &unix.SockaddrInet4{Port: tcpAddr.Port}
	if ip := tcpAddr.IP.To4(); ip != nil {
		copy(sa.Addr[:], ip)
	}
	return sa, nil
}

// Listen creates a non-blocking, listening TCP socket bound to address.
func Listen(loop *eventloop.Loop, address string) (*Socket, error) {
	sa, err := resolveInet4(address)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, errs.NewIOError("listen", fd, err)
	}
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, errs.NewIOError("bind", fd, err)
	}
	if err := unix.Listen(fd, 128); err != nil {
		_ = unix.Close(fd)
		return nil, errs.NewIOError("listen", fd, err)
	}
	return wrap(loop, fd)
}

// Accept parks self until a connection is pending, then returns the
// accepted Socket.
func (s *Socket) Accept(self *scheduler.Self) (*Socket, error) {
	for {
		nfd, _, err := unix.Accept4(s.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err == nil {
			return wrap(s.loop, nfd)
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			s.awaitRead(self)
			continue
		}
		return nil, errs.NewIOError("accept", s.fd, err)
	}
}

// Dial connects to address, parking self until the connection completes
// (or fails).
func Dial(self *scheduler.Self, loop *eventloop.Loop, address string) (*Socket, error) {
	sa, err := resolveInet4(address)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, errs.NewIOError("connect", fd, err)
	}
	connErr := unix.Connect(fd, sa)
	sock, err := wrap(loop, fd)
	if err != nil {
		return nil, err
	}
	if connErr != nil && connErr != unix.EINPROGRESS {
		_ = sock.Close()
		return nil, errs.NewIOError("connect", fd, connErr)
	}
	if connErr == unix.EINPROGRESS {
		sock.awaitWrite(self)
		if serr, gerr := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR); gerr == nil && serr != 0 {
			_ = sock.Close()
			return nil, errs.NewIOError("connect", fd, syscall.Errno(serr))
		}
	}
	return sock, nil
}

// Addr returns the "ip:port" address the socket is bound to, primarily
// useful for a listener created with a wildcard port ("address:0") to
// discover which port the kernel actually assigned.
func (s *Socket) Addr() (string, error) {
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return "", errs.NewIOError("getsockname", s.fd, err)
	}
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return "", errs.NewUsageError("Addr", "socket is not an AF_INET address")
	}
	ip := net.IP(in4.Addr[:])
	return net.JoinHostPort(ip.String(), strconv.Itoa(in4.Port)), nil
}

// Recv reads into buf, parking self while the socket is not yet
// readable. n is 0 and err nil on a graceful peer close, distinguishing
// a closed peer from an IO error.
func (s *Socket) Recv(self *scheduler.Self, buf []byte) (int, error) {
	for {
		n, err := unix.Read(s.fd, buf)
		if err == nil {
			return n, nil
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			s.awaitRead(self)
			continue
		}
		return 0, errs.NewIOError("recv", s.fd, err)
	}
}

// Send writes all of buf, parking self whenever the socket's write
// buffer is full.
func (s *Socket) Send(self *scheduler.Self, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := unix.Write(s.fd, buf[total:])
		if err == nil {
			total += n
			continue
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			s.awaitWrite(self)
			continue
		}
		return total, errs.NewIOError("send", s.fd, err)
	}
	return total, nil
}

// Close unregisters and closes the underlying fd. Closing an
// already-closed Socket is a UsageError.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errs.NewUsageError("Close", "socket already closed")
	}
	s.closed = true
	s.mu.Unlock()
	if err := s.loop.UnregisterFD(s.fd); err != nil {
		logging.For(logging.CategorySocket).Warning().Err(err).Log("asocket: unregister on close failed")
	}
	return unix.Close(s.fd)
}
