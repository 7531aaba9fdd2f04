package coro

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestParseAddr_IPv4(t *testing.T) {
	a, err := ParseAddr("127.0.0.1:8080")
	if err != nil {
		t.Fatalf("ParseAddr failed: %v", err)
	}
	if a.Port != 8080 {
		t.Fatalf("Port = %d, want 8080", a.Port)
	}
	if !a.IP.Is4() {
		t.Fatal("IP is not IPv4")
	}
	if got, want := a.String(), "127.0.0.1:8080"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
	if a.family() != unix.AF_INET {
		t.Fatalf("family() = %d, want AF_INET", a.family())
	}
}

func TestParseAddr_IPv6(t *testing.T) {
	a, err := ParseAddr("[::1]:443")
	if err != nil {
		t.Fatalf("ParseAddr failed: %v", err)
	}
	if !a.IP.Is6() {
		t.Fatal("IP is not IPv6")
	}
	if a.family() != unix.AF_INET6 {
		t.Fatalf("family() = %d, want AF_INET6", a.family())
	}
}

func TestParseAddr_RejectsHostname(t *testing.T) {
	if _, err := ParseAddr("localhost:80"); err == nil {
		t.Fatal("ParseAddr accepted a non-numeric host")
	}
}

func TestParseAddr_RejectsBadPort(t *testing.T) {
	if _, err := ParseAddr("127.0.0.1:notaport"); err == nil {
		t.Fatal("ParseAddr accepted a non-numeric port")
	}
	if _, err := ParseAddr("127.0.0.1:99999"); err == nil {
		t.Fatal("ParseAddr accepted an out-of-range port")
	}
}

func TestAddr_SockaddrRoundTrip(t *testing.T) {
	a, err := ParseAddr("192.168.1.5:9000")
	if err != nil {
		t.Fatalf("ParseAddr failed: %v", err)
	}
	sa, err := a.sockaddr()
	if err != nil {
		t.Fatalf("sockaddr() failed: %v", err)
	}
	back, err := addrFromSockaddr(sa)
	if err != nil {
		t.Fatalf("addrFromSockaddr() failed: %v", err)
	}
	if back.String() != a.String() {
		t.Fatalf("round trip = %q, want %q", back.String(), a.String())
	}
}
