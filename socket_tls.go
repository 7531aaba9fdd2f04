//go:build linux || darwin

package coro

import (
	"crypto/tls"
	"io"
	"net"
	"time"
)

// ClassTLS wraps a tcp Socket's class table, driving a crypto/tls.Conn's
// handshake and encrypted Read/Write through the same suspension protocol
// as every other class. Close tears down both the tls.Conn and the wrapped
// raw Socket.
var ClassTLS = &SocketClass{Name: "tls", Read: tlsRead, Write: tlsWrite, Close: tlsClose}

// socketConn adapts a raw tcp Socket, plus whichever Task is currently
// driving the owning tls Socket, to the synchronous net.Conn interface
// crypto/tls requires. Read/Write calls made by tls.Conn block (from
// crypto/tls's point of view) exactly as long as the underlying Socket
// call suspends the Task — crypto/tls never needs to know the connection
// is cooperatively scheduled.
type socketConn struct {
	raw   *Socket
	outer *Socket
}

func (c *socketConn) Read(p []byte) (int, error) {
	n, err := c.raw.Read(c.outer.tlsTask, p)
	if err == nil && n == 0 {
		return 0, io.EOF
	}
	return n, translateNetErr(err)
}

func (c *socketConn) Write(p []byte) (int, error) {
	n, err := c.raw.Write(c.outer.tlsTask, p)
	return n, translateNetErr(err)
}

func (c *socketConn) Close() error                     { return c.raw.Close() }
func (c *socketConn) LocalAddr() net.Addr              { return c.raw.localAddr }
func (c *socketConn) RemoteAddr() net.Addr             { return c.raw.peerAddr }
func (c *socketConn) SetDeadline(time.Time) error      { return nil }
func (c *socketConn) SetReadDeadline(time.Time) error  { return nil }
func (c *socketConn) SetWriteDeadline(time.Time) error { return nil }

func translateNetErr(err error) error {
	if err == io.EOF {
		return nil
	}
	return err
}

func tlsRead(s *Socket, t *Task, buf []byte) (int, error) {
	s.tlsTask = t
	n, err := s.tlsConn.Read(buf)
	if err == io.EOF {
		return 0, nil
	}
	return n, err
}

func tlsWrite(s *Socket, t *Task, buf []byte) (int, error) {
	s.tlsTask = t
	return s.tlsConn.Write(buf)
}

func tlsClose(s *Socket) error {
	_ = s.tlsConn.Close()
	return s.wrapped.Close()
}

// NewTLSClient wraps raw (an already-connected tcp Socket) as the client
// side of a TLS connection. Handshake must be called before the first
// Read/Write.
func NewTLSClient(sched *Scheduler, raw *Socket, config *tls.Config) *Socket {
	return newTLSSocket(sched, raw, func(conn net.Conn) *tls.Conn { return tls.Client(conn, config) })
}

// NewTLSServer wraps raw (an already-accepted tcp Socket) as the server
// side of a TLS connection.
func NewTLSServer(sched *Scheduler, raw *Socket, config *tls.Config) *Socket {
	return newTLSSocket(sched, raw, func(conn net.Conn) *tls.Conn { return tls.Server(conn, config) })
}

func newTLSSocket(sched *Scheduler, raw *Socket, build func(net.Conn) *tls.Conn) *Socket {
	s := &Socket{
		id:        sched.nextObjectID(),
		sched:     sched,
		class:     ClassTLS,
		wrapped:   raw,
		localAddr: raw.localAddr,
		peerAddr:  raw.peerAddr,
		hasPeer:   raw.hasPeer,
	}
	conn := &socketConn{raw: raw, outer: s}
	s.tlsConn = build(conn)
	sched.registry.addSocket(s)
	return s
}

// Handshake drives the TLS handshake to completion on t, the Task that will
// also drive this Socket's subsequent Read/Write calls.
func (s *Socket) Handshake(t *Task) error {
	s.tlsTask = t
	return s.tlsConn.Handshake()
}
