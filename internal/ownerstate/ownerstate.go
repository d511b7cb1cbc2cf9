// Package ownerstate defines the uniform 32-byte ownership record shared by
// every intra-segment lock in DataHub — the slot write_lock and (in token
// mode) in-process handoff locks. One layout,
// interpretation varies by the lock mode that owns it.
package ownerstate

import (
	"sync/atomic"
	"unsafe"
)

// Size is the fixed on-wire size of a State record: pid(4) + recursion(4) +
// tid(8) + token/generation(8) + reserved(8) = 32 bytes, matching the
// cache-line-fraction layout described in spec §2.1.
const Size = 32

// State is the 32-byte, cache-line-friendly ownership record backing a Lock.
// Every field is touched through sync/atomic once the record lives inside a
// shared-memory segment; the struct itself carries no synchronization of its
// own (callers hold the enclosing Lock's fast-path CAS loop responsibility).
//
// Layout must not change size without a matching bump to the segment wire
// format in internal/segment.
type State struct {
	pid            uint32  // 0x00: owning process ID, 0 means unowned.
	recursionCount uint32  // 0x04: same-thread re-entrant acquire depth.
	tid            uint64  // 0x08: owning OS/goroutine thread identifier.
	token          uint64  // 0x10: generation counter (pid/tid mode) or handoff token (token mode).
	_              [8]byte // 0x18: reserved, keeps State at exactly 32 bytes.
}

func init() {
	if unsafe.Sizeof(State{}) != Size {
		panic("ownerstate: State size drifted from the 32-byte wire layout")
	}
}

// Snapshot is a point-in-time, non-atomic copy of a State, safe to pass
// around and compare after the fact.
type Snapshot struct {
	PID            uint32
	TID            uint64
	Token          uint64
	RecursionCount uint32
}

// Load takes an atomic snapshot of the state.
func (s *State) Load() Snapshot {
	return Snapshot{
		PID:            atomic.LoadUint32(&s.pid),
		TID:            atomic.LoadUint64(&s.tid),
		Token:          atomic.LoadUint64(&s.token),
		RecursionCount: atomic.LoadUint32(&s.recursionCount),
	}
}

// CASOwner attempts to transition ownership from wantPID to newPID
// atomically. Only the pid field participates in the CAS;
// tid/token/recursion are set by the caller immediately afterwards, under
// the exclusivity the successful CAS grants.
func (s *State) CASOwner(wantPID, newPID uint32) bool {
	return atomic.CompareAndSwapUint32(&s.pid, wantPID, newPID)
}

// PID returns the current owning PID, relaxed (hint-only; callers needing a
// consistency guarantee must pair this with the lock's own protocol).
func (s *State) PID() uint32 { return atomic.LoadUint32(&s.pid) }

// SetOwner populates tid/token/recursion after a successful CASOwner. Not
// safe to call without having first won the CAS.
func (s *State) SetOwner(tid, token uint64) {
	atomic.StoreUint64(&s.tid, tid)
	atomic.StoreUint64(&s.token, token)
	atomic.StoreUint32(&s.recursionCount, 1)
}

// TID returns the owning thread/goroutine identifier.
func (s *State) TID() uint64 { return atomic.LoadUint64(&s.tid) }

// Token returns the current generation/handoff token.
func (s *State) Token() uint64 { return atomic.LoadUint64(&s.token) }

// IncRecursion bumps the recursion depth for a same-thread re-entrant
// acquire and returns the new depth.
func (s *State) IncRecursion() uint32 {
	return atomic.AddUint32(&s.recursionCount, 1)
}

// DecRecursion decrements the recursion depth and returns the new depth.
func (s *State) DecRecursion() uint32 {
	return atomic.AddUint32(&s.recursionCount, ^uint32(0))
}

// Recursion returns the current recursion depth.
func (s *State) Recursion() uint32 { return atomic.LoadUint32(&s.recursionCount) }

// Clear releases ownership and bumps the generation counter, so any stale
// holder of a pre-release Snapshot can detect the change (spec §3.2 TOCTTOU
// defense; §4.1 "release... bumps the generation counter").
func (s *State) Clear() {
	atomic.StoreUint32(&s.recursionCount, 0)
	atomic.AddUint64(&s.token, 1)
	atomic.StoreUint64(&s.tid, 0)
	atomic.StoreUint32(&s.pid, 0)
}

// Reclaim atomically replaces a dead owner's PID with the caller's and bumps
// the generation, without requiring the dead owner to have released
// cleanly. Returns false if the observed PID already changed (another
// reclaimer won the race).
func (s *State) Reclaim(deadPID, newPID uint32, newTID uint64) bool {
	if !atomic.CompareAndSwapUint32(&s.pid, deadPID, newPID) {
		return false
	}
	atomic.AddUint64(&s.token, 1)
	atomic.StoreUint64(&s.tid, newTID)
	atomic.StoreUint32(&s.recursionCount, 1)
	return true
}
