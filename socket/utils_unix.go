//go:build linux
// +build linux

package socket

import (
	"golang.org/x/sys/unix"
)

func isFDValid(fd int) bool {
	// Try to get the flags of the file descriptor
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	if err != nil {
		return false
	} else {
		return true
	}
}

// isTemporaryError checks if the error is temporary, e.g., EAGAIN or EWOULDBLOCK.
func isTemporaryError(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR
}

func closeFd(fd int) error {
	if fd >= 0 && isFDValid(fd) {
		if err := unix.Close(fd); err != nil {
			return err
		}
	}
	return nil
}

// waitWritable blocks until fd reports POLLOUT. Used by the blocking send
// loop so a non-blocking descriptor does not spin on EAGAIN.
func waitWritable(fd int) error {
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	for {
		_, err := unix.Poll(pfd, -1)
		if err == unix.EINTR {
			continue
		}
		return err
	}
}
