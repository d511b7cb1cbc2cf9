package datahub

import (
	"context"
	"iter"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/qing-lab/datahub/internal/diagnostics"
	"github.com/qing-lab/datahub/internal/slot"
	dherrors "github.com/qing-lab/datahub/pkg/errors"
)

// ReadTransaction is the consumer-side scoped block of spec §4.8: a
// read-only handle to the flex zone and a lazy sequence of read slots,
// both only valid for the lifetime of the RunReadTransaction call that
// produced it.
type ReadTransaction struct {
	c   *Consumer
	ctx context.Context
}

// FlexZone returns the raw flex-zone bytes for read-only access. The
// caller must itself verify the flex-zone checksum via ValidateFlexZone
// when ChecksumEnforced is in effect; this method never blocks on it.
func (t *ReadTransaction) FlexZone() []byte {
	return t.c.seg.FlexZone()
}

// ValidateFlexZone reports whether the flex zone's current contents match
// the checksum the producer last stored (spec §4.4.2 step 2's flex-zone
// half). Always true under ChecksumNone.
func (t *ReadTransaction) ValidateFlexZone() bool {
	if t.c.checksumPol == slot.ChecksumNone {
		return true
	}
	digest := blake2b.Sum256(t.c.seg.FlexZone())
	return t.c.seg.Header.VerifyFlexZoneChecksum(digest)
}

// UpdateHeartbeat records a consumer heartbeat beat, usable from inside a
// long-running transaction to keep liveness fresh between slot reads.
func (t *ReadTransaction) UpdateHeartbeat() {
	t.c.seg.Header.ConsumerHBTable.Entry(t.c.hbIndex).Beat(diagnostics.Now())
}

// Slots returns a lazy sequence of read slots (spec §4.8: "slots(timeout)
// — lazy sequence of read tickets"). Iteration stops when the caller's
// range loop breaks, when ctx/timeout expires (yielding a nil ReadSlot and
// the sentinel error once), or when the loop body panics — in which case
// the in-flight slot is still released (readers have no publish step to
// skip, only the reader_count decrement to guarantee).
func (t *ReadTransaction) Slots(timeout time.Duration) iter.Seq2[*ReadSlot, error] {
	return func(yield func(*ReadSlot, error) bool) {
		for {
			rs, err := t.acquireReadSlot(timeout)
			if err != nil {
				yield(nil, err)
				return
			}
			if !t.runSlotScope(rs, yield) {
				return
			}
		}
	}
}

func (t *ReadTransaction) runSlotScope(rs *ReadSlot, yield func(*ReadSlot, error) bool) (cont bool) {
	defer func() {
		if !rs.released {
			rs.releaseLocked()
		}
	}()
	cont = yield(rs, nil)
	return cont
}

// ReadSlot is one acquired ring-buffer slot, valid only for the duration
// of the Slots iteration step that produced it.
type ReadSlot struct {
	t          *ReadTransaction
	logicalID  uint64
	generation uint64
	stale      bool
	released   bool
}

// Bytes returns the read-only payload buffer for this slot. Reading it
// after the transaction's scope has exited is undefined, same as every
// other handle in this package.
func (r *ReadSlot) Bytes() []byte {
	return r.t.c.seg.RingBufferSlot(r.t.c.ring.PhysicalIndex(r.logicalID))
}

// LogicalID returns this slot's logical id.
func (r *ReadSlot) LogicalID() uint64 { return r.logicalID }

// ValidateChecksum verifies this slot's stored payload checksum against
// its current bytes (spec §4.4.2 step 2's slot half). Always true under
// ChecksumNone.
func (r *ReadSlot) ValidateChecksum() bool {
	if r.t.c.checksumPol == slot.ChecksumNone {
		return true
	}
	digest := blake2b.Sum256(r.Bytes())
	idx := r.t.c.ring.PhysicalIndex(r.logicalID)
	return r.t.c.seg.Checksum[idx].Verify(digest)
}

// Stale reports whether the producer overwrote this slot during the read
// (spec §3.2 TOCTTOU defense). Only meaningful for Latest_only, where
// overwrite-while-reading is expected and not itself an error; callers
// that need freshness should check this and re-read.
func (r *ReadSlot) Stale() bool {
	if r.released {
		return r.stale
	}
	return r.t.c.ring.SlotAt(r.logicalID).WriteGeneration() != r.generation
}

func (r *ReadSlot) releaseLocked() {
	if r.released {
		return
	}
	sl := r.t.c.ring.SlotAt(r.logicalID)
	r.stale = sl.ReleaseRead(r.generation)

	var minSlot uint64
	var haveMin bool
	if r.t.c.ring.Policy == slot.PolicySyncReader {
		r.t.c.seg.Header.ConsumerHBTable.Entry(r.t.c.hbIndex).SetNextReadSlot(r.logicalID + 1)
		minSlot, haveMin = r.t.c.seg.Header.ConsumerHBTable.MinNextReadSlot()
	}
	r.t.c.ring.AdvanceReadCursor(r.logicalID, minSlot, haveMin)
	r.released = true
}

// acquireReadSlot implements spec §4.4.2 step 1: resolve the next read
// target per policy (blocking up to timeout), then acquire it.
func (t *ReadTransaction) acquireReadSlot(timeout time.Duration) (*ReadSlot, error) {
	c := t.c
	var cursor uint64
	if c.ring.Policy == slot.PolicySyncReader {
		cursor = c.seg.Header.ConsumerHBTable.Entry(c.hbIndex).NextReadSlot()
	}

	target, err := c.ring.WaitForReadTarget(t.ctx, cursor, timeout)
	if err != nil {
		return nil, dherrors.ErrResultTimeout
	}

	sl := c.ring.SlotAt(target)
	generation, ok := sl.AcquireRead()
	if !ok {
		return nil, dherrors.ErrNoSlotAvailable
	}

	c.seg.Header.ConsumerHBTable.Entry(c.hbIndex).Beat(diagnostics.Now())
	return &ReadSlot{t: t, logicalID: target, generation: generation}, nil
}
