// Package heartbeat implements the producer and consumer liveness tables of
// spec §4.6: a single producer heartbeat entry and a fixed-capacity table
// of consumer heartbeat entries, each {pid, last_heartbeat_ns}, plus for
// consumers a next_read_slot cursor used by the Sync_reader policy
// (spec §4.5).
//
// Layout and CAS-allocation follow internal/ownerstate's pattern of raw
// sync/atomic field access over a fixed-size record embedded directly in
// the mapped segment, generalized from a single owner slot to a table of
// them the way rishavpaul-system-design's disruptor gating sequences track
// one cursor per registered consumer.
package heartbeat

import (
	"sync/atomic"
	"unsafe"
)

// TableCapacity is the fixed consumer heartbeat table size (spec §4.6:
// "convention: 8 entries"), resolved as a SPEC_FULL.md Open Question into a
// hard constant rather than a configurable size, since the header layout
// is fixed at segment-creation time.
const TableCapacity = 8

// StaleAfterNanos is the default liveness staleness threshold (spec §4.6:
// "Stale threshold: 5 seconds").
const StaleAfterNanos = int64(5 * 1_000_000_000)

// EntrySize is the wire size of one consumer heartbeat entry: pid(4) +
// padding(4) + last_heartbeat_ns(8) + next_read_slot(8) + reserved(40) =
// 64 bytes (spec §4: "each 64 bytes").
const EntrySize = 64

// ProducerHeartbeat is the single producer liveness entry (spec §4: "producer_pid,
// producer_last_heartbeat_ns").
type ProducerHeartbeat struct {
	pid           uint32
	_             uint32
	lastBeatNanos int64
}

// Beat records a producer heartbeat at nowNanos, called at segment
// creation, on every commit, every write-iterator step, and on explicit
// keep-alive (spec §4.6).
func (p *ProducerHeartbeat) Beat(pid uint32, nowNanos int64) {
	atomic.StoreUint32(&p.pid, pid)
	atomic.StoreInt64(&p.lastBeatNanos, nowNanos)
}

// PID returns the recorded producer pid, 0 if none has ever beaten.
func (p *ProducerHeartbeat) PID() uint32 { return atomic.LoadUint32(&p.pid) }

// LastBeatNanos returns the last recorded heartbeat timestamp.
func (p *ProducerHeartbeat) LastBeatNanos() int64 { return atomic.LoadInt64(&p.lastBeatNanos) }

// Stale reports whether the producer heartbeat is older than staleAfter,
// relative to nowNanos. A never-beaten entry (pid == 0) is never "stale" —
// it is simply absent; callers check PID() == 0 separately.
func (p *ProducerHeartbeat) Stale(nowNanos, staleAfter int64) bool {
	if p.PID() == 0 {
		return false
	}
	return nowNanos-p.LastBeatNanos() > staleAfter
}

// ConsumerEntry is one slot in the fixed consumer heartbeat table.
type ConsumerEntry struct {
	pid           uint32
	_             uint32
	lastBeatNanos int64
	nextReadSlot  uint64
	_             [40]byte // reserved, pads ConsumerEntry to exactly EntrySize bytes
}

func init() {
	if unsafe.Sizeof(ConsumerEntry{}) != EntrySize {
		panic("heartbeat: ConsumerEntry size drifted from the 64-byte wire layout")
	}
}

// Empty reports whether this entry is unallocated.
func (c *ConsumerEntry) Empty() bool { return atomic.LoadUint32(&c.pid) == 0 }

// PID returns the owning consumer pid, 0 if unallocated.
func (c *ConsumerEntry) PID() uint32 { return atomic.LoadUint32(&c.pid) }

// LastBeatNanos returns the last recorded heartbeat timestamp.
func (c *ConsumerEntry) LastBeatNanos() int64 { return atomic.LoadInt64(&c.lastBeatNanos) }

// NextReadSlot returns the Sync_reader cursor stored in this entry
// (spec §4.3: "next_read_slot — cursor living in the consumer's heartbeat
// entry; used only by Sync_reader").
func (c *ConsumerEntry) NextReadSlot() uint64 { return atomic.LoadUint64(&c.nextReadSlot) }

// SetNextReadSlot advances the Sync_reader cursor.
func (c *ConsumerEntry) SetNextReadSlot(slot uint64) { atomic.StoreUint64(&c.nextReadSlot, slot) }

// Stale reports whether this entry's heartbeat is older than staleAfter.
func (c *ConsumerEntry) Stale(nowNanos, staleAfter int64) bool {
	return nowNanos-c.LastBeatNanos() > staleAfter
}

// Beat records a heartbeat for an already-allocated entry.
func (c *ConsumerEntry) Beat(nowNanos int64) {
	atomic.StoreInt64(&c.lastBeatNanos, nowNanos)
}

// clear atomically releases this entry back to the free pool.
func (c *ConsumerEntry) clear() {
	atomic.StoreUint64(&c.nextReadSlot, 0)
	atomic.StoreInt64(&c.lastBeatNanos, 0)
	atomic.StoreUint32(&c.pid, 0)
}

// Table is the fixed-capacity consumer heartbeat table embedded in the
// segment header.
type Table struct {
	entries [TableCapacity]ConsumerEntry
}

// Attach allocates a free entry for pid via a CAS loop over the table
// (spec §4.3 step 6, §4.6: "Allocated at attach via CAS loop over free
// slots"), seeding next_read_slot to joinAtSlot (the producer's
// commit_index at attach time, for Sync_reader join-at-latest, spec §4.5).
// Returns the allocated entry and its index, or ok=false if the table is
// full (spec §8.3 scenario 3: the 9th consumer attach fails).
func (t *Table) Attach(pid uint32, nowNanos int64, joinAtSlot uint64) (*ConsumerEntry, int, bool) {
	for i := range t.entries {
		e := &t.entries[i]
		if atomic.CompareAndSwapUint32(&e.pid, 0, pid) {
			atomic.StoreInt64(&e.lastBeatNanos, nowNanos)
			atomic.StoreUint64(&e.nextReadSlot, joinAtSlot)
			return e, i, true
		}
	}
	return nil, -1, false
}

// Detach releases the entry at index, called at consumer drop (spec §4.3
// "Destruction (consumer). Clear own heartbeat entry") or as part of
// zombie reclamation.
func (t *Table) Detach(index int) {
	t.entries[index].clear()
}

// Entry returns the entry at index for direct inspection.
func (t *Table) Entry(index int) *ConsumerEntry {
	return &t.entries[index]
}

// ActiveCount returns the number of allocated (non-empty) entries, which
// must equal the header's active_consumer_count invariant (spec §4.2:
// "active_consumer_count == count(heartbeat_table where consumer_pid != 0)").
func (t *Table) ActiveCount() int {
	n := 0
	for i := range t.entries {
		if !t.entries[i].Empty() {
			n++
		}
	}
	return n
}

// MinNextReadSlot computes read_index under Sync_reader: the minimum
// next_read_slot across all active entries (spec §4.3, §5.3). Returns
// ok=false if there are no active consumers (caller keeps the prior value).
func (t *Table) MinNextReadSlot() (uint64, bool) {
	min := uint64(0)
	found := false
	for i := range t.entries {
		e := &t.entries[i]
		if e.Empty() {
			continue
		}
		v := e.NextReadSlot()
		if !found || v < min {
			min = v
			found = true
		}
	}
	return min, found
}

// ReclaimStale walks the table and clears every entry whose owning pid is
// not alive (per isAlive) or whose heartbeat is stale past staleAfter,
// gating the OS liveness probe behind the heartbeat check the way spec
// §4.6 describes ("possibly gated by heartbeat freshness to avoid
// syscalls on hot paths"). Returns the indices reclaimed.
func (t *Table) ReclaimStale(nowNanos, staleAfter int64, isAlive func(pid uint32) bool) []int {
	var reclaimed []int
	for i := range t.entries {
		e := &t.entries[i]
		pid := e.PID()
		if pid == 0 {
			continue
		}
		if !e.Stale(nowNanos, staleAfter) {
			continue
		}
		if isAlive(pid) {
			continue
		}
		if atomic.CompareAndSwapUint32(&e.pid, pid, 0) {
			e.clear()
			reclaimed = append(reclaimed, i)
		}
	}
	return reclaimed
}
