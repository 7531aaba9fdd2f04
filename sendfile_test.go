//go:build linux || darwin

package coro

import (
	"os"
	"testing"
)

func TestSocket_SendFileRespectsOffsetAndCount(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "sendfile-*")
	if err != nil {
		t.Fatalf("CreateTemp failed: %v", err)
	}
	defer f.Close()
	const content = "0123456789ABCDEFGHIJ"
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("WriteString failed: %v", err)
	}

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

	serverDone := make(chan struct{})
	clientDone := make(chan struct{})
	var got []byte
	var serverErr, clientErr error

	TaskStart(sched, func(task *Task) {
		defer close(serverDone)
		conn, err := ln.Accept(task, nil)
		if err != nil {
			serverErr = err
			return
		}
		defer conn.Close()
		src, err := os.Open(f.Name())
		if err != nil {
			serverErr = err
			return
		}
		defer src.Close()
		// Skip the leading 5 bytes and send exactly 10, independent of
		// src's own file position (left at 0 the whole time).
		if _, serverErr = conn.SendFile(task, src, 5, 10); serverErr != nil {
			return
		}
		if pos, _ := src.Seek(0, os.SEEK_CUR); pos != 0 {
			t.Errorf("SendFile moved src's file position to %d, want 0", pos)
		}
	})

	TaskStart(sched, func(task *Task) {
		defer close(clientDone)
		conn, err := Dial(sched, task, ClassTCP, ln.LocalAddr().String(), nil)
		if err != nil {
			clientErr = err
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		for len(got) < 10 {
			n, err := conn.Read(task, buf)
			if err != nil {
				clientErr = err
				return
			}
			got = append(got, buf[:n]...)
		}
	})

	runEchoLoop(t, sched, serverDone, clientDone)

	if serverErr != nil {
		t.Fatalf("server error: %v", serverErr)
	}
	if clientErr != nil {
		t.Fatalf("client error: %v", clientErr)
	}
	if want := content[5:15]; string(got) != want {
		t.Fatalf("SendFile payload = %q, want %q", got, want)
	}
}
