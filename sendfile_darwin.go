//go:build darwin

package coro

import (
	"errors"
	"io"
	"os"
)

// SendFile copies up to count bytes from src, starting at offset, into s.
// Darwin's sendfile(2) signature (off_t offset, off_t *len, struct sf_hdtr
// *hdtr) doesn't match golang.org/x/sys/unix's Linux-shaped wrapper, so this
// falls back to a plain read/write copy loop through the same suspension
// protocol as every other Socket operation, rather than the zero-copy
// kernel path. ReadAt keeps src's own file position untouched, matching
// sendfile(2)'s independent-offset semantics.
func (s *Socket) SendFile(t *Task, src *os.File, offset int64, count int64) (int64, error) {
	if s.closed {
		return 0, ErrClosed
	}
	buf := make([]byte, 32*1024)
	var sent int64
	for sent < count {
		chunk := buf
		if remaining := count - sent; remaining < int64(len(chunk)) {
			chunk = chunk[:remaining]
		}
		n, rerr := src.ReadAt(chunk, offset+sent)
		if n > 0 {
			written, werr := s.Write(t, chunk[:n])
			sent += int64(written)
			if werr != nil {
				return sent, werr
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return sent, nil
			}
			return sent, rerr
		}
	}
	return sent, nil
}
