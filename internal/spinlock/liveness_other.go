//go:build !unix

package spinlock

// isProcessAlive is a conservative fallback on platforms without a signal-0
// probe: reports every nonzero pid alive, so a held lock is never
// reclaimed here and acquirers time out instead of false-positive
// reclaiming a live owner.
func isProcessAlive(pid uint32) bool {
	return pid != 0
}
