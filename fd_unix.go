//go:build linux || darwin

package asyncrt

import (
	"golang.org/x/sys/unix"
)

// closeFD closes a file descriptor on Unix systems.
func closeFD(fd int) error {
	return unix.Close(fd)
}

// readFD reads from a file descriptor on Unix systems.
func readFD(fd int, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}

// writeFD writes to a file descriptor on Unix systems.
func writeFD(fd int, buf []byte) (int, error) {
	return unix.Write(fd, buf)
}

// setNonblocking puts fd into non-blocking mode. The async_read/async_write/
// async_connect facade (spec section 4.5) is responsible for doing this
// before the first Poller registration, since a blocking fd would stall a
// worker goroutine instead of yielding EAGAIN.
func setNonblocking(fd int) error {
	return unix.SetNonblock(fd, true)
}

// isWouldBlock reports whether err is the fast-path EAGAIN/EWOULDBLOCK
// condition that the I/O facade must never surface to the caller.
func isWouldBlock(err error) bool {
	return errorsIsOneOf(err, unix.EAGAIN, unix.EWOULDBLOCK)
}

func errorsIsOneOf(err error, targets ...error) bool {
	for _, t := range targets {
		if err == t {
			return true
		}
	}
	return false
}
