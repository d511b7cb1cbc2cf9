//go:build unix

package datahub

import "golang.org/x/sys/unix"

// isProcessAlive probes PID liveness with a signal-0 send, the same
// POSIX check internal/spinlock uses for write_lock zombie reclamation,
// reused here for consumer heartbeat table sweeps.
func isProcessAlive(pid uint32) bool {
	if pid == 0 {
		return false
	}
	err := unix.Kill(int(pid), 0)
	if err == nil {
		return true
	}
	return err == unix.EPERM
}
