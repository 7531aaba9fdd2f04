//go:build darwin

package coro

import (
	"syscall"
)

// createWakeFd creates a self-pipe for cross-goroutine wakeups.
func createWakeFd() (readFd, writeFd int, err error) {
	var fds [2]int
	if err := syscall.Pipe(fds[:]); err != nil {
		return 0, 0, err
	}
	syscall.CloseOnExec(fds[0])
	syscall.CloseOnExec(fds[1])
	if err := syscall.SetNonblock(fds[0], true); err != nil {
		syscall.Close(fds[0])
		syscall.Close(fds[1])
		return 0, 0, err
	}
	if err := syscall.SetNonblock(fds[1], true); err != nil {
		syscall.Close(fds[0])
		syscall.Close(fds[1])
		return 0, 0, err
	}
	return fds[0], fds[1], nil
}

func writeWake(fd int) error {
	var buf [1]byte
	_, err := syscall.Write(fd, buf[:])
	if err != nil && err != syscall.EAGAIN {
		return err
	}
	return nil
}

func drainWake(fd int) {
	var buf [64]byte
	for {
		n, err := syscall.Read(fd, buf[:])
		if err != nil || n == 0 {
			return
		}
	}
}
