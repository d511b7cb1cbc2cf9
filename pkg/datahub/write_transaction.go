package datahub

import (
	"context"
	"iter"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/qing-lab/datahub/internal/diagnostics"
	"github.com/qing-lab/datahub/internal/slot"
	"github.com/qing-lab/datahub/internal/spinlock"
	dherrors "github.com/qing-lab/datahub/pkg/errors"
)

// WriteTransaction is the producer-side scoped block of spec §4.8: a
// handle to the flex zone and a lazy sequence of write slots, both only
// valid for the lifetime of the RunWriteTransaction call that produced it.
type WriteTransaction struct {
	p   *Producer
	ctx context.Context

	flexZoneTouched  bool
	suppressChecksum bool
	flexZoneFlushed  bool
}

// FlexZone returns the raw flex-zone bytes for direct read/write access
// (spec §4.4.1 "flex_zone() — mutable view over the flex zone"). Calling it
// marks the zone touched for the end-of-transaction auto-flush, whether or
// not anything is then written through the returned slice.
func (t *WriteTransaction) FlexZone() []byte {
	t.flexZoneTouched = true
	return t.p.seg.FlexZone()
}

// SuppressFlexZoneChecksum opts this transaction out of the end-of-scope
// auto-flush (spec §4.4.1 step 5: "unless suppressed"), for callers using
// ChecksumManual who will call PublishFlexZone themselves.
func (t *WriteTransaction) SuppressFlexZoneChecksum() {
	t.suppressChecksum = true
}

// PublishFlexZone computes and stores the flex-zone checksum immediately,
// for ChecksumManual callers that want an explicit flush point instead of
// relying on end-of-transaction auto-flush.
func (t *WriteTransaction) PublishFlexZone() {
	t.flushFlexZoneChecksum()
}

// UpdateHeartbeat records a producer heartbeat beat, usable from inside a
// long-running transaction to keep liveness fresh between slot publishes
// (spec §4.6: "every commit, every write-iterator step, and on explicit
// keep-alive").
func (t *WriteTransaction) UpdateHeartbeat() {
	t.p.seg.Header.ProducerHB.Beat(t.p.pid, diagnostics.Now())
}

// autoFlushFlexZone runs the spec §4.4.1 step 5 auto-flush: only if the
// zone was actually touched this transaction, checksums are not None, and
// the caller did not suppress it.
func (t *WriteTransaction) autoFlushFlexZone() {
	if !t.flexZoneTouched || t.suppressChecksum || t.flexZoneFlushed {
		return
	}
	if t.p.checksumPolicy == slot.ChecksumNone {
		return
	}
	t.flushFlexZoneChecksum()
}

func (t *WriteTransaction) flushFlexZoneChecksum() {
	digest := blake2b.Sum256(t.p.seg.FlexZone())
	t.p.seg.Header.SetFlexZoneChecksum(digest)
	t.flexZoneFlushed = true
}

// Slots returns a lazy sequence of write slots (spec §4.8: "slots(timeout)
// — lazy sequence of write tickets, blocking up to timeout between each").
// Iteration stops when the caller's range loop breaks, when ctx/timeout
// expires (yielding a nil WriteSlot and the sentinel error exactly once,
// via the second iterator return value), or when the loop body panics — in
// which case the in-flight slot is aborted rather than published, matching
// "On exceptional exit, skip" (spec §4.4.1).
func (t *WriteTransaction) Slots(timeout time.Duration) iter.Seq2[*WriteSlot, error] {
	return func(yield func(*WriteSlot, error) bool) {
		for {
			ws, err := t.acquireWriteSlot(timeout)
			if err != nil {
				yield(nil, err)
				return
			}
			if !t.runSlotScope(ws, yield) {
				return
			}
		}
	}
}

// runSlotScope brackets one slot's lifetime: normal yield return publishes
// (unless the caller already did so explicitly), a panic aborts and
// re-panics, matching "auto-publish at iterator scope exit (normal exit
// only; uncaught exception skips publish)" (spec §4.8).
func (t *WriteTransaction) runSlotScope(ws *WriteSlot, yield func(*WriteSlot, error) bool) (cont bool) {
	completedNormally := false
	defer func() {
		if completedNormally {
			return
		}
		// yield panicked, or the range loop's body panicked further up the
		// stack: the slot was never finalized, so abort it rather than
		// leave it stuck in WRITING.
		ws.abortLocked()
	}()

	cont = yield(ws, nil)
	if !ws.finalized {
		ws.publishLocked()
	}
	completedNormally = true
	return cont
}

// WriteSlot is one reserved ring-buffer slot, valid only for the duration
// of the Slots iteration step that produced it.
type WriteSlot struct {
	t         *WriteTransaction
	ticket    slot.WriteTicket
	guard     *spinlock.Guard
	finalized bool
}

// Bytes returns the mutable payload buffer for this slot, sized
// logical_unit_size (spec §4.4.1: "write the DataBlock payload into the
// reserved slot's ring-buffer region").
func (w *WriteSlot) Bytes() []byte {
	return w.t.p.seg.RingBufferSlot(w.t.p.ring.PhysicalIndex(w.ticket.LogicalID))
}

// LogicalID returns this slot's monotonic logical id.
func (w *WriteSlot) LogicalID() uint64 { return w.ticket.LogicalID }

// Publish finalizes this slot early, inside the loop body, instead of
// waiting for the implicit end-of-iteration-step publish (spec §4.8:
// "publish() — finalize early"). Calling it twice is a no-op.
func (w *WriteSlot) Publish() {
	if w.finalized {
		return
	}
	w.publishLocked()
}

func (w *WriteSlot) publishLocked() {
	if w.t.p.checksumPolicy != slot.ChecksumNone {
		digest := blake2b.Sum256(w.Bytes())
		w.t.p.seg.Checksum[w.t.p.ring.PhysicalIndex(w.ticket.LogicalID)].Set(digest)
	}
	w.t.p.ring.Publish(w.ticket)
	_ = w.guard.Release()
	w.finalized = true
}

func (w *WriteSlot) abortLocked() {
	if w.finalized {
		return
	}
	w.ticket.Slot.Abort()
	_ = w.guard.Release()
	w.finalized = true
}

// acquireWriteSlot implements spec §4.4.1 steps 1-5 up to (but not
// including) publish: wait for ring space, reserve a logical id, acquire
// write_lock, drain a COMMITTED slot under Latest_only, then transition to
// WRITING.
func (t *WriteTransaction) acquireWriteSlot(timeout time.Duration) (*WriteSlot, error) {
	p := t.p
	ticket, err := p.ring.AcquireWrite(t.ctx, timeout)
	if err != nil {
		p.seg.Header.IncWriterTimeout()
		return nil, dherrors.ErrResultTimeout
	}

	lock := spinlock.New(ticket.Slot.Owner(), spinlock.ModePIDTid, spinlock.WithLivenessProber(isProcessAlive))
	guard, err := lock.TryAcquire(t.ctx, p.pid, p.tid, timeout)
	if err != nil {
		return nil, dherrors.ErrResultTimeout
	}

	if ticket.Slot.State() == slot.StateCommitted && p.ring.Policy == slot.PolicyLatestOnly {
		if err := p.ring.DrainSlot(t.ctx, ticket.Slot, timeout); err != nil {
			p.seg.Header.IncWriterReaderTimeout()
			_ = guard.Release()
			return nil, dherrors.ErrResultTimeout
		}
	}
	ticket.Slot.BeginWrite()

	p.seg.Header.ProducerHB.Beat(p.pid, diagnostics.Now())
	return &WriteSlot{t: t, ticket: ticket, guard: guard}, nil
}
