package errors

import stderrors "errors"

// These sentinels are the "expected outcome" half of spec §7's error
// taxonomy: conditions a well-behaved caller checks for with errors.Is and
// handles inline (back off and retry, skip this poll, log and continue),
// as distinct from the rich *ValidationError / *SegmentError / *ProtocolError
// types above, which callers are expected to surface rather than recover
// from. Named distinctly from internal/spinlock's own AcquireError sentinels
// (spinlock.ErrTimeout etc.) since those describe lock acquisition
// specifically, while these describe slot-protocol and read outcomes one
// level up, in pkg/datahub.
var (
	// ErrResultTimeout means a blocking call (WriteTransaction, ReadTransaction,
	// Slots) returned because its deadline elapsed, not because of failure.
	ErrResultTimeout = stderrors.New("datahub: operation timed out")

	// ErrNoSlotAvailable means a consumer's resolved read target was no
	// longer COMMITTED when it tried to acquire it. A full ring (producer
	// side) or an empty one (consumer side) is reported as ErrResultTimeout
	// once the wait's deadline elapses.
	ErrNoSlotAvailable = stderrors.New("datahub: no slot available")

	// ErrStaleRead means a Latest_only consumer's read target was overwritten
	// by the producer before or during the read, detected via the TOCTTOU
	// generation check (spec §3.2, §5.3 "Latest_only").
	ErrStaleRead = stderrors.New("datahub: read target overwritten, stale")
)
