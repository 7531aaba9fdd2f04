package coro

import (
	"fmt"
	"net"
	"net/netip"

	"golang.org/x/sys/unix"
)

// Addr is a parsed IPv4 or IPv6 socket address, kept separate from net.Addr
// so Socket operations can pass it straight into the raw syscalls
// (unix.Sockaddr) without an intermediate DNS-capable type.
type Addr struct {
	IP   netip.Addr
	Port int
}

// ParseAddr parses "host:port" into an Addr. host must already be a
// numeric IPv4 or IPv6 literal; name resolution is out of scope.
func ParseAddr(hostport string) (Addr, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return Addr{}, fmt.Errorf("coro: ParseAddr: %w", err)
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return Addr{}, fmt.Errorf("coro: ParseAddr: invalid host %q: %w", host, err)
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return Addr{}, fmt.Errorf("coro: ParseAddr: invalid port %q: %w", portStr, err)
	}
	if port < 0 || port > 65535 {
		return Addr{}, fmt.Errorf("coro: ParseAddr: port %d out of range", port)
	}
	return Addr{IP: ip, Port: port}, nil
}

// String formats the Addr as "host:port", bracketing IPv6 literals.
func (a Addr) String() string {
	return net.JoinHostPort(a.IP.String(), fmt.Sprintf("%d", a.Port))
}

// Network satisfies net.Addr, so an Addr can stand in as the LocalAddr/
// RemoteAddr of the net.Conn adapter crypto/tls drives (see socketConn in
// socket_tls.go).
func (a Addr) Network() string { return "tcp" }

// sockaddr converts Addr to the kernel sockaddr form used by bind/connect.
func (a Addr) sockaddr() (unix.Sockaddr, error) {
	if a.IP.Is4() || a.IP.Is4In6() {
		sa := &unix.SockaddrInet4{Port: a.Port}
		sa.Addr = a.IP.As4()
		return sa, nil
	}
	if a.IP.Is6() {
		sa := &unix.SockaddrInet6{Port: a.Port}
		sa.Addr = a.IP.As16()
		return sa, nil
	}
	return nil, fmt.Errorf("coro: Addr: invalid IP %v", a.IP)
}

// addrFromSockaddr converts a kernel sockaddr (as returned by accept/
// getpeername) back into an Addr.
func addrFromSockaddr(sa unix.Sockaddr) (Addr, error) {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return Addr{IP: netip.AddrFrom4(v.Addr), Port: v.Port}, nil
	case *unix.SockaddrInet6:
		return Addr{IP: netip.AddrFrom16(v.Addr), Port: v.Port}, nil
	default:
		return Addr{}, fmt.Errorf("coro: unsupported sockaddr type %T", sa)
	}
}

// family returns the syscall address family for socket().
func (a Addr) family() int {
	if a.IP.Is4() || a.IP.Is4In6() {
		return unix.AF_INET
	}
	return unix.AF_INET6
}
