// Package slot implements the per-slot state machine and write_lock of
// spec §4.4: FREE → WRITING → COMMITTED → READING → FREE, with a
// transient DRAINING state for the Latest_only overwrite case, plus the
// reader_count/write_generation bookkeeping that backs the TOCTTOU defense
// of spec §3.2.
//
// Slot embeds an internal/ownerstate.State for its write_lock, the same
// way structure.StationData's Epoch entries in lixiasky-back-coroTracer
// are laid out as fixed-size, cache-line-sized records inside a larger
// mapped array — generalized here from a passive telemetry record to an
// actively locked, stateful slot.
package slot

import (
	"sync/atomic"
	"unsafe"

	"github.com/qing-lab/datahub/internal/ownerstate"
)

// State is the slot_state enumeration of spec §4.4.
type State uint32

const (
	StateFree State = iota
	StateWriting
	StateCommitted
	StateReading
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "FREE"
	case StateWriting:
		return "WRITING"
	case StateCommitted:
		return "COMMITTED"
	case StateReading:
		return "READING"
	case StateDraining:
		return "DRAINING"
	default:
		return "UNKNOWN"
	}
}

// Size is the wire size of one Slot record: ownerstate.Size (32) +
// state(4) + writeGeneration(8) + readerCount(4) + padding(0) = 48 bytes
// (spec §4: "SlotState[capacity], each 48 bytes, 64-byte aligned base").
const Size = 48

// Slot is one entry in the header's fixed-capacity slot-state array.
// Field order is chosen so the struct packs to exactly Size bytes with no
// compiler-inserted padding: the two 8-byte-aligned members (owner,
// writeGeneration) come first, then the two 4-byte members.
type Slot struct {
	owner           ownerstate.State // write_lock owner record, 0x00
	writeGeneration uint64           // 0x20
	state           uint32           // 0x28
	readerCount     uint32           // 0x2C
}

func init() {
	if unsafe.Sizeof(Slot{}) != Size {
		panic("slot: Slot size drifted from the 48-byte wire layout")
	}
}

// Owner exposes the embedded write_lock owner record for wrapping in an
// internal/spinlock.Lock.
func (s *Slot) Owner() *ownerstate.State { return &s.owner }

// State returns the current slot_state, relaxed.
func (s *Slot) State() State { return State(atomic.LoadUint32(&s.state)) }

// WriteGeneration returns the current write_generation counter, used for
// the TOCTTOU snapshot/validate pattern (spec §3.2).
func (s *Slot) WriteGeneration() uint64 { return atomic.LoadUint64(&s.writeGeneration) }

// ReaderCount returns the current number of active readers.
func (s *Slot) ReaderCount() uint32 { return atomic.LoadUint32(&s.readerCount) }

// casState attempts slot_state: from -> to.
func (s *Slot) casState(from, to State) bool {
	return atomic.CompareAndSwapUint32(&s.state, uint32(from), uint32(to))
}

// setState unconditionally sets slot_state. Only valid while the caller
// holds write_lock.
func (s *Slot) setState(to State) {
	atomic.StoreUint32(&s.state, uint32(to))
}

// BeginWrite transitions a FREE or COMMITTED slot into WRITING, per spec
// §4.4.1 steps 4-5. Callers must already hold write_lock. Returns the
// observed prior state. Draining a COMMITTED slot (BeginDraining, or
// Ring.DrainSlot) has to happen before this call: once the slot is
// WRITING, BeginDraining's COMMITTED -> DRAINING CAS no longer matches.
func (s *Slot) BeginWrite() State {
	prior := s.State()
	s.setState(StateWriting)
	return prior
}

// BeginDraining transitions a COMMITTED slot to DRAINING, the
// Latest_only-overwrite path of spec §4.4.1 step 4. Callers must already
// hold write_lock.
func (s *Slot) BeginDraining() bool {
	return s.casState(StateCommitted, StateDraining)
}

// RestoreCommitted reverts a DRAINING slot back to COMMITTED, used when
// the drain wait times out (spec §4.4.1 step 4: "On timeout: restore
// slot_state = COMMITTED").
func (s *Slot) RestoreCommitted() {
	s.setState(StateCommitted)
}

// Publish transitions WRITING -> COMMITTED (release) and bumps
// write_generation, per spec §4.4.1 publish steps 2 and 4. Callers must
// already hold write_lock; Publish does not release it.
func (s *Slot) Publish() {
	s.setState(StateCommitted)
	atomic.AddUint64(&s.writeGeneration, 1)
}

// Abort transitions WRITING back to FREE without publishing, per spec
// §4.4.1 "abort (exception during write)". commit_index is left
// unchanged by the caller.
func (s *Slot) Abort() {
	s.setState(StateFree)
}

// AcquireRead increments reader_count and re-validates slot_state ==
// COMMITTED, per spec §4.4.2 step 2. On failure (state changed out from
// under the increment — e.g. a concurrent DRAINING transition) the
// increment is rolled back and ok is false.
func (s *Slot) AcquireRead() (generation uint64, ok bool) {
	atomic.AddUint32(&s.readerCount, 1)
	if s.State() != StateCommitted {
		atomic.AddUint32(&s.readerCount, ^uint32(0))
		return 0, false
	}
	return s.WriteGeneration(), true
}

// ReleaseRead decrements reader_count and reports whether the
// write_generation snapshot taken at AcquireRead is still current (spec
// §3.2 TOCTTOU invariant, §4.4.2 release_read step 1). stale == true means
// the producer overwrote this slot while it was being read; the caller
// must still decrement reader_count, which this method always does.
func (s *Slot) ReleaseRead(snapshotGeneration uint64) (stale bool) {
	stale = s.WriteGeneration() != snapshotGeneration
	atomic.AddUint32(&s.readerCount, ^uint32(0))
	return stale
}

// ForceClearReaders zeroes reader_count directly, for
// internal/diagnostics.ReleaseZombieReaders to use once every holder is
// confirmed dead. Not part of the normal acquire/release protocol: this
// is a last-resort recovery primitive, not a synchronization guarantee.
func (s *Slot) ForceClearReaders() {
	atomic.StoreUint32(&s.readerCount, 0)
}

// ReaderCountZero reports whether the slot has no active readers,
// polled by a writer draining a slot before overwriting it (spec §4.4.1
// step 4). The caller is responsible for enforcing its own timeout
// around repeated calls.
func (s *Slot) ReaderCountZero() bool {
	return s.ReaderCount() == 0
}
