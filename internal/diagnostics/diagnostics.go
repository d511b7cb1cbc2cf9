// Package diagnostics implements spec §6.4's recovery/diagnostic API:
// live-segment integrity checks, per-slot state reports, and explicit
// zombie reclamation, plus a JSONL audit log of every reclamation event.
//
// Grounded on lixiasky-back-coroTracer's deepdive/analyzer.go
// (RunDeepDive: scan recorded state, build a structured Report) and
// structure/jsonl.go (StationWriter: a buffered, allocation-light JSONL
// writer) — generalized from deepdive's offline scan of a JSONL file
// written by a separate harvest loop to a direct, live introspection of an
// attached internal/segment.Segment, since DataHub has no separate
// harvesting process to produce that intermediate file.
package diagnostics

import (
	"time"
	"unsafe"

	"golang.org/x/crypto/blake2b"

	"github.com/qing-lab/datahub/internal/heartbeat"
	"github.com/qing-lab/datahub/internal/segment"
	"github.com/qing-lab/datahub/internal/slot"
)

// IntegrityReport is the result of integrity_validate(segment) (spec §6.4).
type IntegrityReport struct {
	HeaderSizeOK       bool
	MagicOK            bool
	VersionSupported   bool
	HeaderChecksumOK   bool
	ActiveConsumers    int
	WriterTimeouts     uint64
	WriterReaderWaits  uint64
	ChecksumFailures   uint64
	SchemaMismatches   uint64
}

// Healthy reports whether every structural check passed. Metric counters
// (timeouts, mismatches) are informational, not failure conditions.
func (r IntegrityReport) Healthy() bool {
	return r.HeaderSizeOK && r.MagicOK && r.VersionSupported && r.HeaderChecksumOK
}

// ValidateIntegrity implements integrity_validate(segment): a structural
// check of the header plus a snapshot of its metrics, without mutating
// anything (spec §6.4, §8.1 invariant 6: "sizeof(header) == 4096").
func ValidateIntegrity(s *segment.Segment) IntegrityReport {
	h := s.Header
	// The header checksum covers the layout-describing prefix, up to Indices.
	prefix := unsafe.Slice((*byte)(unsafe.Pointer(h)), unsafe.Offsetof(segment.Header{}.Indices))
	return IntegrityReport{
		HeaderSizeOK:      segment.HeaderSize == 4096,
		MagicOK:           h.LoadMagic() == segment.Magic,
		VersionSupported:  h.Version >= segment.MinSupportedVersion,
		HeaderChecksumOK:  blake2b.Sum256(prefix) == h.HeaderChecksum,
		ActiveConsumers:   h.ConsumerHBTable.ActiveCount(),
		WriterTimeouts:    h.WriterTimeoutCount,
		WriterReaderWaits: h.WriterReaderTimeoutCount,
		ChecksumFailures:  h.ChecksumFailures,
		SchemaMismatches:  h.SchemaMismatchCount,
	}
}

// SlotReport is one entry of slot_diagnostics(segment) (spec §6.4).
type SlotReport struct {
	LogicalID  uint64
	State      slot.State
	Generation uint64
	ReaderCount uint32
	OwnerPID   uint32
}

// SlotDiagnostics implements slot_diagnostics(segment): per-slot state,
// generation, and current write_lock holder, for every physical slot.
func SlotDiagnostics(s *segment.Segment) []SlotReport {
	reports := make([]SlotReport, len(s.Slots))
	for i := range s.Slots {
		sl := &s.Slots[i]
		reports[i] = SlotReport{
			LogicalID:   uint64(i),
			State:       sl.State(),
			Generation:  sl.WriteGeneration(),
			ReaderCount: sl.ReaderCount(),
			OwnerPID:    sl.Owner().PID(),
		}
	}
	return reports
}

// ReclaimWriter implements release_zombie_writer(segment, slot_id): it
// replaces the slot write_lock's current owner with (callerPID, callerTID)
// via internal/ownerstate.State.Reclaim on the slot's Owner(), which bumps
// the owner record's token. It does not change the slot's
// write_generation, so an in-flight reader's generation check does not
// observe the reclamation, and it does not probe the current owner's
// liveness. Returns false if the lock is unowned or the CAS loses a race.
func ReclaimWriter(s *segment.Segment, logicalID uint64, callerPID uint32, callerTID uint64) bool {
	sl := s.SlotAtDiagnostic(logicalID)
	owner := sl.Owner()
	deadPID := owner.PID()
	if deadPID == 0 {
		return false
	}
	return owner.Reclaim(deadPID, callerPID, callerTID)
}

// ReleaseZombieReaders implements release_zombie_readers(segment,
// slot_id): forces a slot's reader_count to zero when every consumer
// holding it is known dead, unblocking a Latest_only DRAINING writer that
// would otherwise wait out its full timeout every time. This is a last
// resort: it trusts the caller to have already confirmed (via
// internal/heartbeat.Table.ReclaimStale and an OS liveness probe) that no
// live reader remains.
func ReleaseZombieReaders(s *segment.Segment, logicalID uint64) {
	s.SlotAtDiagnostic(logicalID).ForceClearReaders()
}

// LivenessProber is the is_process_alive(pid) probe IsWriterAlive falls
// back to once the producer heartbeat is stale; callers supply it, with the
// same signature as internal/spinlock.LivenessProber.
type LivenessProber func(pid uint32) bool

// IsWriterAlive implements is_writer_alive(header, pid): heartbeat-first,
// falling back to an OS probe only once the heartbeat is stale (spec
// §6.4, §4.6).
func IsWriterAlive(s *segment.Segment, nowNanos int64, alive LivenessProber) bool {
	h := s.Header
	if h.ProducerHB.PID() == 0 {
		return false
	}
	if !h.ProducerHB.Stale(nowNanos, heartbeat.StaleAfterNanos) {
		return true
	}
	return alive(h.ProducerHB.PID())
}

// Now is a small indirection so tests can supply a fixed clock instead of
// depending on wall-clock time.
func Now() int64 { return time.Now().UnixNano() }
