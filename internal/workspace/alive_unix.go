//go:build !windows

package workspace

import (
	"errors"
	"os"
	"syscall"
)

// pidAlive reports whether a process with the given pid exists. Signal 0
// checks existence without delivering anything; EPERM means the process
// exists under another user.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errors.Is(err, os.ErrProcessDone) {
		return false
	}
	return errors.Is(err, syscall.EPERM)
}
