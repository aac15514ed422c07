//go:build linux

package logger

import "syscall"

// Linux reads terminal attributes with TCGETS.
const termiosRequest = syscall.TCGETS
