package evloop

import (
	"errors"
	"golang.org/x/sys/unix"
)

// IsWouldBlock reports whether err, or any error it wraps, means the
// non-blocking operation had nothing to do. Handlers should treat it as
// success.
func IsWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}
