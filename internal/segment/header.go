// Package segment implements the 4 KiB-aligned control header and
// mmap-backed lifecycle of spec §3.1 ("Header") and §4.2 ("Segment Layout
// & Header Lifecycle"): creation with magic-set-last publication, attach
// with poll-then-validate, and destruction that unlinks the segment name.
//
// Grounded on lixiasky-back-coroTracer/engine.go's NewTracerEngine: open
// (or create) a backing file, Truncate to the computed size, syscall.Mmap
// it PROT_READ|PROT_WRITE/MAP_SHARED, then reinterpret the first bytes as
// a fixed-size header struct via unsafe.Pointer — generalized here from a
// single fixed 1024-byte header with a hardcoded struct-cast to a
// capacity-dependent layout computed by Layout (this package's analogue
// of the teacher's "memSize := HeaderSize + stationCount*StationSize").
package segment

import (
	"sync/atomic"
	"unsafe"

	"github.com/qing-lab/datahub/internal/heartbeat"
	"github.com/qing-lab/datahub/internal/slot"
)

// Magic is the sentinel value written last during creation and checked
// first during attach (spec §4.2 step 7 / step 4).
const Magic uint64 = 0x44415441_48554221 // "DATAHUB!" in ASCII-ish hex

// Version is the current header wire format version.
const Version uint32 = 1

// MinSupportedVersion is the oldest header version an attaching consumer
// will accept.
const MinSupportedVersion uint32 = 1

// InitState enumerates header publication stages (spec §3.3, §4.2).
type InitState uint32

const (
	InitStateUninit InitState = iota
	InitStateLockReady
	InitStateFullyInit
)

// HeaderSize is the fixed, 4 KiB-aligned size of Header (spec §2: "The
// 4 KiB-aligned control header").
const HeaderSize = 4096

// Header is the segment's fixed control block, laid out so every field
// used by internal/slot and internal/heartbeat lives at a stable offset
// other processes can map onto directly. Every member sits at a naturally
// aligned offset, with explicit blank padding fields where needed, so the
// compiler inserts no implicit padding — the same discipline
// lixiasky-back-coroTracer/structure.GlobalHeader uses ("Hard padding,
// reject C++ implicit padding") generalized from one trailing padding
// array to a layout where every field is explicitly accounted for.
type Header struct {
	Magic        uint64
	Version      uint32
	HeaderSz     uint32
	SharedSecret uint64
	InitState    uint32
	PolicyFlags  uint32

	FlexZoneSchemaHash  [32]byte
	DatablockSchemaHash [32]byte
	SchemaVersion       uint32
	_                   uint32

	FlexZoneSize       uint64
	RingBufferCapacity uint64
	LogicalUnitSize    uint64

	SlotStateOffset    uint64
	SlotStateStride    uint64
	SlotChecksumOffset uint64
	SlotChecksumStride uint64
	FlexZoneOffset     uint64
	RingBufferOffset   uint64

	Indices         slot.Indices
	ProducerHB      heartbeat.ProducerHeartbeat
	ConsumerHBTable heartbeat.Table

	WriterTimeoutCount       uint64
	WriterReaderTimeoutCount uint64
	ChecksumFailures         uint64
	SchemaMismatchCount      uint64

	// FlexZoneChecksum is the end-of-transaction auto-flush target of spec
	// §4.4.1 step 5 / §4.4.2 step 2: updated by the producer on normal
	// transaction exit (unless suppressed), verified by a consumer under
	// ChecksumEnforced. It is runtime-mutable, same as the indices and
	// metrics above, so it sits outside the header checksum's scope.
	FlexZoneChecksum slot.Checksum
	_                [7]byte // pad slot.Checksum's 33 bytes to an 8-byte boundary

	HeaderChecksum [32]byte

	_ [3264]byte // reserved, pads Header to exactly HeaderSize bytes
}

func init() {
	if unsafe.Sizeof(Header{}) != HeaderSize {
		panic("segment: Header size drifted from the 4096-byte wire layout")
	}
}

// LoadInitState reads init_state with an acquire-ish load; Go's memory
// model gives atomic loads acquire semantics by convention for this
// codebase's cross-process polling use (spec §4.2 step 3: "Issue acquire
// fence").
func (h *Header) LoadInitState() InitState {
	return InitState(atomic.LoadUint32(&h.InitState))
}

func (h *Header) storeInitState(s InitState) {
	atomic.StoreUint32(&h.InitState, uint32(s))
}

// LoadMagic reads the magic sentinel.
func (h *Header) LoadMagic() uint64 {
	return atomic.LoadUint64(&h.Magic)
}

// publishMagic sets magic last, per spec §4.2 step 7 ("Set magic and
// init_state = FULLY_INIT last").
func (h *Header) publishMagic() {
	atomic.StoreUint64(&h.Magic, Magic)
	h.storeInitState(InitStateFullyInit)
}

// IncWriterTimeout bumps the writer_timeout_count metric.
func (h *Header) IncWriterTimeout() { atomic.AddUint64(&h.WriterTimeoutCount, 1) }

// IncWriterReaderTimeout bumps the writer_reader_timeout_count metric
// (spec §4.4.1 step 4, §4.4.3 claim).
func (h *Header) IncWriterReaderTimeout() { atomic.AddUint64(&h.WriterReaderTimeoutCount, 1) }

// IncChecksumFailure bumps the checksum_failures metric.
func (h *Header) IncChecksumFailure() { atomic.AddUint64(&h.ChecksumFailures, 1) }

// IncSchemaMismatch bumps the schema_mismatch_count metric (spec §8.3
// scenario 4: "schema_mismatch_count incremented").
func (h *Header) IncSchemaMismatch() { atomic.AddUint64(&h.SchemaMismatchCount, 1) }

// SetFlexZoneChecksum stores the flex-zone digest computed by the
// producer's end-of-transaction auto-flush or explicit PublishFlexZone
// (spec §4.4.1 step 5). Not atomic: the only writer is the producer's
// write transaction, serialized by the Producer's mutex rather than by any
// slot write_lock, and a reader racing an in-flight update is the same
// accepted staleness spec §3.2 already tolerates for this field.
func (h *Header) SetFlexZoneChecksum(digest [32]byte) { h.FlexZoneChecksum.Set(digest) }

// VerifyFlexZoneChecksum implements the flex-zone half of release_read
// step 2 under ChecksumEnforced.
func (h *Header) VerifyFlexZoneChecksum(digest [32]byte) bool { return h.FlexZoneChecksum.Verify(digest) }
