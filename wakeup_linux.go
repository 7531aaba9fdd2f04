//go:build linux

package coro

import (
	"golang.org/x/sys/unix"
)

// createWakeFd creates an eventfd for cross-goroutine wakeups. Linux uses a
// single fd for both ends.
func createWakeFd() (readFd, writeFd int, err error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return 0, 0, err
	}
	return fd, fd, nil
}

func writeWake(fd int) error {
	var buf [8]byte
	buf[7] = 1
	_, err := unix.Write(fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return err
	}
	return nil
}

func drainWake(fd int) {
	var buf [8]byte
	for {
		if _, err := unix.Read(fd, buf[:]); err != nil {
			return
		}
	}
}
