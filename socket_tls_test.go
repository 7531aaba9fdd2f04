package coro

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"
)

// generateSelfSignedCert builds a throwaway ECDSA certificate/key pair for
// loopback TLS tests; nothing here is ever persisted to disk.
func generateSelfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("CreateCertificate failed: %v", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}
}

func TestSocket_TLSHandshakeAndRoundTrip(t *testing.T) {
	cert := generateSelfSignedCert(t)

	sched, err := NewScheduler()
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	defer sched.Close()

	ln, err := Listen(sched, ClassTCP, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer ln.Close()

	serverCfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	clientCfg := &tls.Config{InsecureSkipVerify: true}

	serverDone := make(chan struct{})
	clientDone := make(chan struct{})
	var got []byte
	var serverErr, clientErr error

	TaskStart(sched, func(task *Task) {
		defer close(serverDone)
		raw, err := ln.Accept(task, nil)
		if err != nil {
			serverErr = err
			return
		}
		tlsConn := NewTLSServer(sched, raw, serverCfg)
		defer tlsConn.Close()
		if err := tlsConn.Handshake(task); err != nil {
			serverErr = err
			return
		}
		buf := make([]byte, 64)
		n, err := tlsConn.Read(task, buf)
		if err != nil {
			serverErr = err
			return
		}
		if _, err := tlsConn.Write(task, buf[:n]); err != nil {
			serverErr = err
		}
	})

	TaskStart(sched, func(task *Task) {
		defer close(clientDone)
		raw, err := Dial(sched, task, ClassTCP, ln.LocalAddr().String(), nil)
		if err != nil {
			clientErr = err
			return
		}
		tlsConn := NewTLSClient(sched, raw, clientCfg)
		defer tlsConn.Close()
		if err := tlsConn.Handshake(task); err != nil {
			clientErr = err
			return
		}
		if _, err := tlsConn.Write(task, []byte("secure")); err != nil {
			clientErr = err
			return
		}
		buf := make([]byte, 64)
		n, err := tlsConn.Read(task, buf)
		if err != nil {
			clientErr = err
			return
		}
		got = append(got, buf[:n]...)
	})

	runEchoLoop(t, sched, serverDone, clientDone)

	if serverErr != nil {
		t.Fatalf("server error: %v", serverErr)
	}
	if clientErr != nil {
		t.Fatalf("client error: %v", clientErr)
	}
	if string(got) != "secure" {
		t.Fatalf("echoed = %q, want %q", got, "secure")
	}
}
