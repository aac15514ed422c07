//go:build darwin

package logger

import "syscall"

// macOS reads terminal attributes with TIOCGETA.
const termiosRequest = syscall.TIOCGETA
