//go:build linux

package coro

import (
	"os"

	"golang.org/x/sys/unix"
)

// SendFile copies up to count bytes from src, starting at offset, into s
// using the sendfile(2) zero-copy path, retrying across would-blocks like
// any other write. offset is independent of src's own file position; the
// kernel advances it in place as bytes are consumed, leaving src's position
// untouched.
func (s *Socket) SendFile(t *Task, src *os.File, offset int64, count int64) (int64, error) {
	if s.closed {
		return 0, ErrClosed
	}
	var sent int64
	srcFd := int(src.Fd())
	for sent < count {
		var n int
		err := s.retryIO(t, EventWrite, func() error {
			var serr error
			n, serr = unix.Sendfile(s.fd, srcFd, &offset, int(count-sent))
			return translateErrno("sendfile", serr)
		})
		sent += int64(n)
		if err != nil {
			return sent, err
		}
		if n == 0 {
			return sent, nil
		}
	}
	return sent, nil
}
