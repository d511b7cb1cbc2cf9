//go:build unix

package spinlock

import "golang.org/x/sys/unix"

// isProcessAlive probes PID liveness with a signal-0 send, the standard
// POSIX "is this process still there" check: no signal is delivered, but
// the syscall still validates permission/existence.
func isProcessAlive(pid uint32) bool {
	if pid == 0 {
		return false
	}
	err := unix.Kill(int(pid), 0)
	if err == nil {
		return true
	}
	// EPERM means the process exists but we lack permission to signal it —
	// still alive from our point of view.
	return err == unix.EPERM
}
