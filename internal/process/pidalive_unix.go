//go:build !windows

package process

import (
	"errors"
	"syscall"
)

// PIDAlive reports whether a process with the given pid currently exists, treating
// EPERM (exists but owned by another user) as alive. This is the same check
// detector.pidAlive makes internally; it is exported here so
// the persistence recovery path (outside this package) can re-attach to a process
// found alive via its last-known pid file without duplicating the syscall.
func PIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
