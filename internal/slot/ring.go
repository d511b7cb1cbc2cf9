package slot

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	dherrors "github.com/qing-lab/datahub/pkg/errors"
)

// SyncPolicy selects how consumer cursors gate the producer and each
// other, per spec §4.5.
type SyncPolicy uint8

const (
	PolicyLatestOnly SyncPolicy = iota
	PolicySingleReader
	PolicySyncReader
)

// ChecksumPolicy mirrors pkg/config.ChecksumPolicy without importing it,
// since internal/slot sits below pkg/config in the dependency order;
// pkg/datahub maps the public enum onto this one at the boundary.
type ChecksumPolicy uint8

const (
	ChecksumNone ChecksumPolicy = iota
	ChecksumEnforced
	ChecksumManual
)

// Indices holds the three coordination indices of spec §4.3: write_index,
// commit_index, read_index. All monotonic, atomically updated.
type Indices struct {
	writeIndex  uint64
	commitIndex uint64
	readIndex   uint64
}

func (idx *Indices) WriteIndex() uint64  { return atomic.LoadUint64(&idx.writeIndex) }
func (idx *Indices) CommitIndex() uint64 { return atomic.LoadUint64(&idx.commitIndex) }
func (idx *Indices) ReadIndex() uint64   { return atomic.LoadUint64(&idx.readIndex) }

// fetchAddWriteIndex reserves the next logical write slot.
func (idx *Indices) fetchAddWriteIndex() uint64 {
	return atomic.AddUint64(&idx.writeIndex, 1) - 1
}

// advanceCommitIndex sets commit_index = max(commit_index, want), per spec
// §4.4.1 publish step 3.
func (idx *Indices) advanceCommitIndex(want uint64) {
	for {
		cur := atomic.LoadUint64(&idx.commitIndex)
		if cur >= want {
			return
		}
		if atomic.CompareAndSwapUint64(&idx.commitIndex, cur, want) {
			return
		}
	}
}

// casReadIndex advances read_index from from to to under Single_reader.
func (idx *Indices) casReadIndex(from, to uint64) bool {
	return atomic.CompareAndSwapUint64(&idx.readIndex, from, to)
}

func (idx *Indices) setReadIndex(to uint64) {
	atomic.StoreUint64(&idx.readIndex, to)
}

// Ring binds a fixed-capacity array of Slots to the coordination indices
// and drives the producer/consumer transitions of spec §4.4, parameterized
// by SyncPolicy. It does not own the backing memory — callers construct it
// over a slice that already lives inside a mapped segment (internal/segment)
// or, in tests, a plain Go slice.
type Ring struct {
	slots    []Slot
	capacity uint64
	Indices  *Indices
	Policy   SyncPolicy
}

// NewRing wraps an existing slots slice (len(slots) == capacity) as a Ring,
// allocating its own Indices. Used by standalone tests and by callers that
// don't need the indices to live in shared memory.
func NewRing(slots []Slot, policy SyncPolicy) *Ring {
	return NewRingOver(&Indices{}, slots, policy)
}

// NewRingOver wraps an existing slots slice together with an Indices value
// that already lives elsewhere — typically inside a mapped
// internal/segment.Header, so the coordination indices are the same memory
// every attached process sees.
func NewRingOver(indices *Indices, slots []Slot, policy SyncPolicy) *Ring {
	return &Ring{slots: slots, capacity: uint64(len(slots)), Indices: indices, Policy: policy}
}

// Capacity returns the ring's slot count.
func (r *Ring) Capacity() uint64 { return r.capacity }

// PhysicalIndex maps a logical slot id to its physical array index
// (spec §3.1: "Physical slot index = slot_id mod capacity").
func (r *Ring) PhysicalIndex(logicalID uint64) uint64 { return logicalID % r.capacity }

// SlotAt returns the Slot at a logical id's physical position.
func (r *Ring) SlotAt(logicalID uint64) *Slot {
	return &r.slots[r.PhysicalIndex(logicalID)]
}

// WriteTicket describes a slot reserved for writing, returned by
// AcquireWrite.
type WriteTicket struct {
	LogicalID uint64
	Slot      *Slot
}

// backoff implements the same three-stage spin/yield/sleep ladder as
// internal/spinlock.Lock.TryAcquire, reused here for the ring-full and
// drain waits of spec §4.4.1 steps 1 and 4 (both are "spin/wait up to
// timeout" conditions distinct from write_lock acquisition itself).
func backoff(ctx context.Context, deadline time.Time, attempt *int, predicate func() bool) bool {
	const (
		spinIterations  = 400
		yieldIterations = 200
		sleepStep       = 200 * time.Microsecond
	)
	for {
		if predicate() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if *attempt < spinIterations {
			*attempt++
			continue
		}
		if *attempt < spinIterations+yieldIterations {
			runtime.Gosched()
			*attempt++
			continue
		}
		if time.Now().After(deadline) {
			return false
		}
		remaining := time.Until(deadline)
		sleep := sleepStep
		if sleep > remaining {
			sleep = remaining
		}
		time.Sleep(sleep)
		*attempt++
	}
}

// RingFull reports the spec §4.4.1 step 1 predicate for Single_reader and
// Sync_reader: write_index - read_index >= capacity.
func (r *Ring) RingFull() bool {
	return r.Indices.WriteIndex()-r.Indices.ReadIndex() >= r.capacity
}

// WaitForRingSpace blocks (spin/yield/sleep, bounded by ctx/timeout) until
// RingFull is false, per spec §4.4.1 step 1. Returns
// pkg/errors.ErrResultTimeout on timeout. Under Latest_only it returns nil
// immediately — that policy has no ring-full barrier (spec §4.5).
func (r *Ring) WaitForRingSpace(ctx context.Context, timeout time.Duration) error {
	if r.Policy == PolicyLatestOnly {
		return nil
	}
	deadline := time.Now().Add(timeout)
	attempt := 0
	ok := backoff(ctx, deadline, &attempt, func() bool { return !r.RingFull() })
	if !ok {
		return dherrors.ErrResultTimeout
	}
	return nil
}

// DrainSlot waits for a COMMITTED slot's reader_count to reach zero after
// transitioning it to DRAINING, the Latest_only overwrite path of spec
// §4.4.1 step 4. On timeout it restores slot_state to COMMITTED and
// returns pkg/errors.ErrResultTimeout; the caller (holding write_lock) is
// responsible for releasing write_lock and bumping
// writer_reader_timeout_count.
func (r *Ring) DrainSlot(ctx context.Context, s *Slot, timeout time.Duration) error {
	if !s.BeginDraining() {
		// Nothing to drain: slot was FREE, not COMMITTED.
		return nil
	}
	deadline := time.Now().Add(timeout)
	attempt := 0
	ok := backoff(ctx, deadline, &attempt, s.ReaderCountZero)
	if !ok {
		s.RestoreCommitted()
		return dherrors.ErrResultTimeout
	}
	return nil
}

// AcquireWrite reserves the next logical slot for writing. It performs the
// ring-full wait (steps 1) and the logical id reservation (step 2), and
// returns the ticket only; the caller checks the slot's state itself and,
// for a COMMITTED slot, runs DrainSlot while holding write_lock — acquiring
// write_lock itself is the caller's responsibility via
// internal/spinlock, since Ring has no notion of which lock guards which
// slot beyond the embedded ownerstate.State.
func (r *Ring) AcquireWrite(ctx context.Context, timeout time.Duration) (WriteTicket, error) {
	if err := r.WaitForRingSpace(ctx, timeout); err != nil {
		return WriteTicket{}, err
	}
	logicalID := r.Indices.fetchAddWriteIndex()
	return WriteTicket{LogicalID: logicalID, Slot: r.SlotAt(logicalID)}, nil
}

// Publish finalizes a write ticket: transitions WRITING -> COMMITTED and
// advances commit_index, per spec §4.4.1 publish steps 2-3. Checksum
// computation and write_lock release are the caller's responsibility
// (checksum policy lives above this package; lock release lives in
// internal/spinlock).
func (r *Ring) Publish(t WriteTicket) {
	t.Slot.Publish()
	r.Indices.advanceCommitIndex(t.LogicalID + 1)
}

// ReadTarget resolves which logical slot a consumer should read next,
// per spec §4.4.2 step 1's per-policy rule. cursor is the consumer's own
// next_read_slot (meaningful only for Sync_reader).
func (r *Ring) ReadTarget(cursor uint64) (target uint64, ready bool) {
	switch r.Policy {
	case PolicyLatestOnly:
		commit := r.Indices.CommitIndex()
		if commit == 0 {
			return 0, false
		}
		return commit - 1, true
	case PolicySingleReader:
		ri := r.Indices.ReadIndex()
		if ri == r.Indices.CommitIndex() {
			return 0, false
		}
		return ri, true
	default: // PolicySyncReader
		if cursor == r.Indices.CommitIndex() {
			return 0, false
		}
		return cursor, true
	}
}

// WaitForReadTarget blocks until ReadTarget reports ready, bounded by
// timeout, returning pkg/errors.ErrResultTimeout otherwise.
func (r *Ring) WaitForReadTarget(ctx context.Context, cursor uint64, timeout time.Duration) (uint64, error) {
	deadline := time.Now().Add(timeout)
	attempt := 0
	var target uint64
	ok := backoff(ctx, deadline, &attempt, func() bool {
		t, ready := r.ReadTarget(cursor)
		if !ready {
			return false
		}
		target = t
		return true
	})
	if !ok {
		return 0, dherrors.ErrResultTimeout
	}
	return target, nil
}

// AdvanceReadCursor applies the per-policy cursor-advance rule of spec
// §4.4.2 release_read step 4. For Sync_reader, minNextReadSlot is the
// caller's freshly recomputed minimum across the heartbeat table
// (internal/heartbeat.Table.MinNextReadSlot), since Ring has no view of
// the consumer table.
func (r *Ring) AdvanceReadCursor(logicalID uint64, minNextReadSlot uint64, haveMin bool) {
	switch r.Policy {
	case PolicyLatestOnly:
		// no cursor advance
	case PolicySingleReader:
		r.Indices.casReadIndex(logicalID, logicalID+1)
	case PolicySyncReader:
		if haveMin {
			r.Indices.setReadIndex(minNextReadSlot)
		}
	}
}
