//go:build linux || darwin

package coro

import (
	"bytes"
	"crypto/tls"
	"fmt"

	"golang.org/x/sys/unix"
)

// defaultMaxIOCalls is the number of non-blocking retries a single logical
// Socket operation may make before it yields once to the tail of the run
// queue, bounding how long one Task can monopolise the driver chasing a
// level-triggered readiness event that turns out to deliver less than a
// full buffer at a time.
const defaultMaxIOCalls = 10

// SocketClass is the per-class operation table a Socket dispatches Read and
// Write through, covering tcp, udp and tls. Connect/Bind/Accept/RecvFrom/
// SendTo are not part of the table: they only make sense for a subset of
// classes and are implemented directly as Socket methods on the raw fd,
// without going through the table.
type SocketClass struct {
	Name  string
	Read  func(s *Socket, t *Task, buf []byte) (int, error)
	Write func(s *Socket, t *Task, buf []byte) (int, error)
	Close func(s *Socket) error
}

// ClassTCP is the stream-socket class: Read/Write are raw non-blocking
// read(2)/write(2) retried through the suspension protocol.
var ClassTCP = &SocketClass{Name: "tcp", Read: rawRead, Write: rawWrite, Close: rawClose}

// ClassUDP is the datagram-socket class. RecvFrom/SendTo are the primary
// operations for this class; Read/Write are still wired for symmetry and
// work on a connected UDP socket.
var ClassUDP = &SocketClass{Name: "udp", Read: rawRead, Write: rawWrite, Close: rawClose}

// Socket is the schedulable I/O handle: one file descriptor (or, for a tls
// Socket, one wrapped Socket) plus the SchedNode used to park the owning
// Task on readiness.
type Socket struct {
	id    uint64
	sched *Scheduler
	class *SocketClass

	fd   int
	kind int // unix.SOCK_STREAM or unix.SOCK_DGRAM; unused by the tls class
	node SchedNode

	closed  bool
	ioCalls int

	localAddr Addr
	peerAddr  Addr
	hasPeer   bool

	acceptLimiter *acceptLimiter

	wrapped *Socket   // the underlying tcp Socket, for the tls class
	tlsConn *tls.Conn // non-nil for the tls class
	tlsTask *Task     // the Task currently driving tlsConn's Read/Write/Handshake

	ownerTask *Task // the Task this Socket is attached to, if any; see Task.attach
}

func newSocket(sched *Scheduler, class *SocketClass, fd, kind int) *Socket {
	s := &Socket{id: sched.nextObjectID(), sched: sched, class: class, fd: fd, kind: kind}
	s.node = SchedNode{fd: fd, sched: sched}
	return s
}

func newRawSocket(family, sockType int) (int, error) {
	fd, err := unix.Socket(family, sockType, 0)
	if err != nil {
		return -1, wrapSyscallErr("socket", err)
	}
	if err := setNonblock(fd); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	unix.CloseOnExec(fd)
	return fd, nil
}

func translateErrno(op string, err error) error {
	switch err {
	case nil:
		return nil
	case unix.EAGAIN:
		return ErrWouldBlock
	case unix.EPIPE, unix.ECONNRESET:
		return ErrEPipe
	default:
		return wrapSyscallErr(op, err)
	}
}

// retryIO drives attempt through the non-blocking retry protocol shared by
// every Socket operation: call attempt; if it reports [ErrWouldBlock], park
// the calling Task on events (or, on reaching the Scheduler's maxIOCalls
// consecutive would-blocks, see [WithMaxIOCalls], yield once to the run
// queue instead, to bound how long one Task can starve the rest of the
// Scheduler waiting on one fd) and retry.
func (s *Socket) retryIO(t *Task, events IOEvents, attempt func() error) error {
	s.ioCalls = 0
	deadline, hasDeadline := t.takePendingDeadline()
	for {
		err := attempt()
		if err == nil {
			return nil
		}
		if err != ErrWouldBlock {
			return err
		}
		s.ioCalls++
		if s.ioCalls >= s.sched.maxIOCalls {
			s.ioCalls = 0
			t.suspend(reportYield)
			continue
		}
		s.node.fd = s.fd
		cause := t.parkOn(&s.node, events, deadline, hasDeadline)
		switch cause {
		case WakeTimeout:
			return ErrTimeout
		case WakeCancelled:
			return ErrCancelled
		}
	}
}

func rawRead(s *Socket, t *Task, buf []byte) (int, error) {
	var n int
	err := s.retryIO(t, EventRead, func() error {
		var rerr error
		n, rerr = unix.Read(s.fd, buf)
		return translateErrno("read", rerr)
	})
	return n, err
}

func rawWrite(s *Socket, t *Task, buf []byte) (int, error) {
	var n int
	err := s.retryIO(t, EventWrite, func() error {
		var rerr error
		n, rerr = unix.Write(s.fd, buf)
		return translateErrno("write", rerr)
	})
	return n, err
}

func rawClose(s *Socket) error {
	return closeFD(s.fd)
}

func classSockType(class *SocketClass) int {
	if class == ClassUDP {
		return unix.SOCK_DGRAM
	}
	return unix.SOCK_STREAM
}

// Listen creates, binds and (for a stream class) listens on a Socket of the
// given class, collapsing the init/bind/listen sequence into the one call
// most callers want. class is typically [ClassTCP] or [ClassUDP];
// a udp Listen skips the listen(2) call and is ready for RecvFrom/SendTo.
func Listen(sched *Scheduler, class *SocketClass, address string, opts ...SocketOption) (*Socket, error) {
	if sched.State() == StateStopping || sched.State() == StateStopped {
		return nil, ErrSchedulerStopped
	}
	cfg, err := resolveSocketOptions(opts)
	if err != nil {
		return nil, err
	}
	addr, err := ParseAddr(address)
	if err != nil {
		return nil, err
	}
	sockType := classSockType(class)
	fd, err := newRawSocket(addr.family(), sockType)
	if err != nil {
		return nil, err
	}
	s := newSocket(sched, class, fd, sockType)
	s.acceptLimiter = cfg.acceptLimiter
	if err := s.Bind(addr); err != nil {
		_ = closeFD(fd)
		return nil, err
	}
	if sockType == unix.SOCK_STREAM {
		if err := unix.Listen(fd, 128); err != nil {
			_ = closeFD(fd)
			return nil, wrapSyscallErr("listen", err)
		}
	}
	sched.registry.addSocket(s)
	return s, nil
}

// Dial creates a Socket of the given class and connects it to address,
// parking t until the connection completes, fails, times out or is
// cancelled. class is typically [ClassTCP]; for udp's connectionless model
// use [DialUDP] instead, which records a default peer without a handshake.
func Dial(sched *Scheduler, t *Task, class *SocketClass, address string, signal *AbortSignal) (*Socket, error) {
	if sched.State() == StateStopping || sched.State() == StateStopped {
		return nil, ErrSchedulerStopped
	}
	addr, err := ParseAddr(address)
	if err != nil {
		return nil, err
	}
	sockType := classSockType(class)
	fd, err := newRawSocket(addr.family(), sockType)
	if err != nil {
		return nil, err
	}
	s := newSocket(sched, class, fd, sockType)
	sched.registry.addSocket(s)
	if err := s.Connect(t, addr, signal); err != nil {
		s.Close()
		return nil, err
	}
	t.attach(s)
	return s, nil
}

// DialUDP creates a udp Socket and records address as its default peer for
// Read/Write (connected-UDP style); use Listen with [ClassUDP] plus
// RecvFrom/SendTo for the unconnected style.
func DialUDP(sched *Scheduler, address string) (*Socket, error) {
	if sched.State() == StateStopping || sched.State() == StateStopped {
		return nil, ErrSchedulerStopped
	}
	addr, err := ParseAddr(address)
	if err != nil {
		return nil, err
	}
	fd, err := newRawSocket(addr.family(), unix.SOCK_DGRAM)
	if err != nil {
		return nil, err
	}
	sa, err := addr.sockaddr()
	if err != nil {
		_ = closeFD(fd)
		return nil, err
	}
	if err := unix.Connect(fd, sa); err != nil && err != unix.EINPROGRESS {
		_ = closeFD(fd)
		return nil, wrapSyscallErr("connect", err)
	}
	s := newSocket(sched, ClassUDP, fd, unix.SOCK_DGRAM)
	s.peerAddr, s.hasPeer = addr, true
	sched.registry.addSocket(s)
	return s, nil
}

// Bind assigns the local address of s. SO_REUSEADDR is always set so a
// restarted listener can rebind a port still in TIME_WAIT.
func (s *Socket) Bind(addr Addr) error {
	sa, err := addr.sockaddr()
	if err != nil {
		return err
	}
	if err := unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return wrapSyscallErr("setsockopt(SO_REUSEADDR)", err)
	}
	if err := unix.Bind(s.fd, sa); err != nil {
		return wrapSyscallErr("bind", err)
	}
	s.localAddr = addr
	return nil
}

// Connect connects s to addr, parking t on writability until the kernel
// reports the connection's outcome via SO_ERROR.
func (s *Socket) Connect(t *Task, addr Addr, signal *AbortSignal) error {
	sa, err := addr.sockaddr()
	if err != nil {
		return err
	}
	err = unix.Connect(s.fd, sa)
	if err == nil {
		s.peerAddr, s.hasPeer = addr, true
		return nil
	}
	if err != unix.EINPROGRESS {
		return wrapSyscallErr("connect", err)
	}

	deadline, hasDeadline := t.takePendingDeadline()
	if signal != nil {
		signal.attach(t)
		defer signal.detach(t)
	}
	s.node.fd = s.fd
	for {
		cause := t.parkOn(&s.node, EventWrite, deadline, hasDeadline)
		switch cause {
		case WakeTimeout:
			return ErrTimeout
		case WakeCancelled:
			return ErrCancelled
		}
		errno, gerr := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if gerr != nil {
			return wrapSyscallErr("getsockopt(SO_ERROR)", gerr)
		}
		if errno == 0 {
			s.peerAddr, s.hasPeer = addr, true
			return nil
		}
		return wrapSyscallErr("connect", unix.Errno(errno))
	}
}

// Accept accepts one pending connection on a listening tcp Socket. If an
// accept rate limiter is configured and the current window is exceeded, the
// accepted connection is held and t is parked on a timer for the reported
// remaining duration, then the limiter is checked again, until it allows the
// connection to be returned — accept never itself returns a rate-limit error.
func (s *Socket) Accept(t *Task, signal *AbortSignal) (*Socket, error) {
	if signal != nil {
		signal.attach(t)
		defer signal.detach(t)
	}
	deadline, hasDeadline := t.takePendingDeadline()
	s.ioCalls = 0
	for {
		nfd, sa, err := unix.Accept(s.fd)
		if err == nil {
			if err := setNonblock(nfd); err != nil {
				_ = unix.Close(nfd)
				return nil, err
			}
			unix.CloseOnExec(nfd)

			for s.acceptLimiter != nil {
				wait, ok := s.acceptLimiter.allow(s.localAddr.String())
				if ok {
					break
				}
				waitNode := &SchedNode{sched: s.sched, owner: t}
				cause := t.parkOn(waitNode, 0, s.sched.nowMs()+wait.Milliseconds(), true)
				if cause == WakeCancelled {
					_ = unix.Close(nfd)
					return nil, ErrCancelled
				}
			}

			peer, _ := addrFromSockaddr(sa)
			conn := newSocket(s.sched, ClassTCP, nfd, unix.SOCK_STREAM)
			conn.peerAddr, conn.hasPeer = peer, true
			conn.localAddr = s.localAddr
			s.sched.registry.addSocket(conn)
			t.attach(conn)
			return conn, nil
		}
		if err != unix.EAGAIN {
			return nil, wrapSyscallErr("accept", err)
		}
		s.ioCalls++
		if s.ioCalls >= s.sched.maxIOCalls {
			s.ioCalls = 0
			t.suspend(reportYield)
			continue
		}
		s.node.fd = s.fd
		cause := t.parkOn(&s.node, EventRead, deadline, hasDeadline)
		switch cause {
		case WakeTimeout:
			return nil, ErrTimeout
		case WakeCancelled:
			return nil, ErrCancelled
		}
	}
}

// Read performs one logical read, parking t across would-block retries
// until at least one byte is read, the peer closes (n == 0, err == nil), or
// the operation times out or is cancelled.
func (s *Socket) Read(t *Task, buf []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	return s.class.Read(s, t, buf)
}

// Write performs one logical write; a short write is returned as-is,
// leaving further writes to the caller (see Writev for the
// drain-the-whole-sequence variant).
func (s *Socket) Write(t *Task, buf []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	return s.class.Write(s, t, buf)
}

// Writev writes every buffer in order, re-parking across short writes until
// the entire sequence is drained or an error/timeout/cancellation occurs.
func (s *Socket) Writev(t *Task, buffers [][]byte) (int, error) {
	var total int
	for i := range buffers {
		remaining := buffers[i]
		for len(remaining) > 0 {
			n, err := s.Write(t, remaining)
			total += n
			if err != nil {
				return total, err
			}
			remaining = remaining[n:]
		}
	}
	return total, nil
}

// RecvFrom reads one datagram and its source address from a udp Socket.
func (s *Socket) RecvFrom(t *Task, buf []byte) (int, Addr, error) {
	if s.closed {
		return 0, Addr{}, ErrClosed
	}
	var n int
	var from Addr
	err := s.retryIO(t, EventRead, func() error {
		nn, sa, rerr := unix.Recvfrom(s.fd, buf, 0)
		if rerr == nil {
			n = nn
			from, rerr = addrFromSockaddr(sa)
		}
		return translateErrno("recvfrom", rerr)
	})
	return n, from, err
}

// SendTo sends one datagram to addr on a udp Socket.
func (s *Socket) SendTo(t *Task, buf []byte, addr Addr) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	sa, err := addr.sockaddr()
	if err != nil {
		return 0, err
	}
	sendErr := s.retryIO(t, EventWrite, func() error {
		return translateErrno("sendto", unix.Sendto(s.fd, buf, 0, sa))
	})
	if sendErr != nil {
		return 0, sendErr
	}
	return len(buf), nil
}

// ReadLine accumulates bytes via Read until delim is found, returning the
// accumulated bytes including the delimiter. It reads one byte at a time,
// so no byte past the delimiter is consumed from the stream. It scans only
// the newly-appended region (plus the len(delim)-1 bytes preceding it, to
// catch a delimiter split across two reads) each round, rather than
// re-scanning the whole buffer. Returns [ErrOverflow] if max bytes
// accumulate without the delimiter appearing.
func (s *Socket) ReadLine(t *Task, delim []byte, max int) ([]byte, error) {
	if len(delim) == 0 {
		return nil, fmt.Errorf("coro: ReadLine: empty delimiter")
	}
	var buf []byte
	scanFrom := 0
	chunk := make([]byte, 1)
	for {
		if idx := bytes.Index(buf[scanFrom:], delim); idx >= 0 {
			return buf[:scanFrom+idx+len(delim)], nil
		}
		if len(buf) >= max {
			return buf, ErrOverflow
		}

		n, err := s.Read(t, chunk)
		if n > 0 {
			room := max - len(buf)
			if n > room {
				buf = append(buf, chunk[:room]...)
				return buf, ErrOverflow
			}
			scanFrom = len(buf) - min(len(delim)-1, len(buf))
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			return buf, err
		}
		if n == 0 {
			return buf, ErrClosed
		}
	}
}

// Expect reads exactly len(expected) bytes, comparing them as they arrive;
// on the first mismatch it returns [ErrMismatch] without reading past the
// differing byte.
func (s *Socket) Expect(t *Task, expected []byte) error {
	buf := make([]byte, len(expected))
	got := 0
	for got < len(expected) {
		n, err := s.Read(t, buf[got:got+1])
		for i := 0; i < n; i++ {
			if buf[got+i] != expected[got+i] {
				return ErrMismatch
			}
		}
		got += n
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrClosed
		}
	}
	return nil
}

// SetTimeout arms the deadline consumed by this Socket's next blocking
// operation on t. A thin forwarder to [Task.SetTimeout], kept as a Socket
// method since that's where most callers reach for it.
func (s *Socket) SetTimeout(t *Task, ms int64) {
	t.SetTimeout(ms)
}

// Dup duplicates the underlying file descriptor into a new, independent
// Socket sharing the same class and addresses.
func (s *Socket) Dup() (*Socket, error) {
	nfd, err := unix.Dup(s.fd)
	if err != nil {
		return nil, wrapSyscallErr("dup", err)
	}
	if err := setNonblock(nfd); err != nil {
		_ = unix.Close(nfd)
		return nil, err
	}
	unix.CloseOnExec(nfd)
	dup := newSocket(s.sched, s.class, nfd, s.kind)
	dup.localAddr, dup.peerAddr, dup.hasPeer = s.localAddr, s.peerAddr, s.hasPeer
	s.sched.registry.addSocket(dup)
	return dup, nil
}

// Close releases s. Safe to call more than once; only the first call has
// any effect.
func (s *Socket) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.sched.unregisterNode(&s.node)
	s.sched.registry.removeSocket(s)
	if s.ownerTask != nil && s.ownerTask.attachedSocket == s {
		s.ownerTask.attachedSocket = nil
	}
	return s.class.Close(s)
}

// Destroy is an alias for Close; there is no separate forceful teardown
// path, since a Socket owns no resources a graceful close wouldn't also
// release.
func (s *Socket) Destroy() error { return s.Close() }

// LocalAddr returns the Socket's bound local address, if any.
func (s *Socket) LocalAddr() Addr { return s.localAddr }

// RemoteAddr returns the Socket's connected peer address, if any.
func (s *Socket) RemoteAddr() (Addr, bool) { return s.peerAddr, s.hasPeer }

// Fd returns the underlying file descriptor, for interop with code outside
// this package (e.g. diagnostics).
func (s *Socket) Fd() int { return s.fd }
