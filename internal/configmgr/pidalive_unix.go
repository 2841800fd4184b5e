//go:build !windows

package configmgr

import (
	"golang.org/x/sys/unix"
)

// pidAlive reports whether pid is a running process, by sending signal 0
// (no-op signal, delivery still validates the PID exists). EPERM means the
// process exists but belongs to someone else; still alive for our purposes.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
