//go:build linux || darwin

package logger

import (
	"syscall"
	"unsafe"
)

// isTerminal reports whether fd is attached to a terminal. Asking for
// the terminal attributes only succeeds on a real tty, so the ioctl
// doubles as the detection probe. Color output stays off for pipes and
// redirected files.
func isTerminal(fd uintptr) bool {
	var attrs syscall.Termios
	_, _, errno := syscall.Syscall6(
		syscall.SYS_IOCTL,
		fd,
		termiosRequest,
		uintptr(unsafe.Pointer(&attrs)),
		0, 0, 0,
	)
	return errno == 0
}
