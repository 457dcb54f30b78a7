//go:build windows

package workspace

import "os"

// pidAlive reports whether a process with the given pid exists. On
// Windows, FindProcess opens a handle and fails for dead processes.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	proc.Release()
	return true
}
