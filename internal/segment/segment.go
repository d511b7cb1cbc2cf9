package segment

import (
	"context"
	"os"
	"syscall"
	"time"
	"unsafe"

	"go.uber.org/zap"

	"github.com/qing-lab/datahub/internal/slot"
	dherrors "github.com/qing-lab/datahub/pkg/errors"
)

// layoutDescribingBytes is the byte range of Header covered by the
// full-header checksum: everything up to (but not including) the runtime
// fields — Indices, the heartbeat tables, and the metrics counters all
// change after creation and are deliberately excluded (spec §3.1: "A
// full-header checksum used to detect tampering/corruption of
// layout-describing fields").
const layoutDescribingBytes = uintptr(unsafe.Offsetof(Header{}.Indices))

// Segment owns one mmap'd shared-memory region and the typed views over
// it. Grounded on lixiasky-back-coroTracer/engine.go's TracerEngine: an
// *os.File plus the []byte returned by syscall.Mmap, with typed pointers
// punched into it via unsafe.Pointer — generalized from one fixed header
// + station array to Header plus a capacity-sized slot-state array and
// slot-checksum array, both computed by Layout.
type Segment struct {
	path string
	file *os.File
	data []byte

	Header   *Header
	Layout   Layout
	Slots    []slot.Slot
	Checksum []slot.Checksum

	log *zap.SugaredLogger
}

func mapRegions(data []byte, layout Layout) (*Header, []slot.Slot, []slot.Checksum) {
	header := (*Header)(unsafe.Pointer(&data[0]))
	slots := unsafe.Slice((*slot.Slot)(unsafe.Pointer(&data[layout.SlotStateOffset])), layout.Capacity)
	checksums := unsafe.Slice((*slot.Checksum)(unsafe.Pointer(&data[layout.SlotChecksumOffset])), layout.Capacity)
	return header, slots, checksums
}

// SlotAtDiagnostic maps a logical slot id to its physical Slot, for
// diagnostics/recovery call sites that operate on a logical id rather than
// going through an internal/slot.Ring (which owns the coordination indices
// this package does not).
func (s *Segment) SlotAtDiagnostic(logicalID uint64) *slot.Slot {
	return &s.Slots[logicalID%s.Layout.Capacity]
}

// FlexZone returns the raw flex-zone bytes.
func (s *Segment) FlexZone() []byte {
	return s.data[s.Layout.FlexZoneOffset : s.Layout.FlexZoneOffset+s.Layout.FlexZoneSize]
}

// RingBufferSlot returns the raw payload bytes for one physical slot
// index, sized logical_unit_size.
func (s *Segment) RingBufferSlot(physicalIndex uint64) []byte {
	start := s.Layout.RingBufferOffset + physicalIndex*s.Layout.LogicalUnitSize
	return s.data[start : start+s.Layout.LogicalUnitSize]
}

// CreateParams bundles the inputs to Create.
type CreateParams struct {
	Path                string
	Capacity            uint64
	LogicalUnitSize     uint64
	FlexZoneSize        uint64
	PhysicalPageSize    uint64
	SharedSecret        uint64
	FlexZoneSchemaHash  [32]byte
	DatablockSchemaHash [32]byte
	SchemaVersion       uint32
	PolicyFlags         uint32
	Logger              *zap.SugaredLogger
}

// Create implements spec §4.2 "Creation": size and zero the segment,
// construct the header with init_state = UNINIT, populate every
// layout-describing field, compute and store the full-header checksum,
// issue a release fence, then set magic and init_state = FULLY_INIT last.
func Create(p CreateParams) (*Segment, error) {
	log := p.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	layout, err := ComputeLayout(p.Capacity, p.LogicalUnitSize, p.FlexZoneSize, p.PhysicalPageSize)
	if err != nil {
		return nil, dherrors.NewValidationError(dherrors.ErrorCodeInvalidConfig, err.Error())
	}

	os.Remove(p.Path)
	f, err := os.OpenFile(p.Path, os.O_CREATE|os.O_RDWR, 0o666)
	if err != nil {
		return nil, dherrors.NewSegmentError(err, dherrors.ErrorCodeIO, "creating segment backing file")
	}
	if err := f.Truncate(int64(layout.TotalSize)); err != nil {
		f.Close()
		return nil, dherrors.NewSegmentError(err, dherrors.ErrorCodeIO, "sizing segment backing file")
	}

	data, err := syscall.Mmap(int(f.Fd()), 0, int(layout.TotalSize), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, dherrors.NewSegmentError(err, dherrors.ErrorCodeIO, "mmap segment")
	}

	header, slots, checksums := mapRegions(data, layout)
	// header.Magic/InitState are already zero from Truncate — init_state
	// starts at UNINIT implicitly (spec §4.2 step 3).

	header.HeaderSz = HeaderSize
	header.Version = Version
	header.SharedSecret = p.SharedSecret
	header.storeInitState(InitStateLockReady) // step 4; the header carries no separate management-lock record to initialize

	header.FlexZoneSchemaHash = p.FlexZoneSchemaHash
	header.DatablockSchemaHash = p.DatablockSchemaHash
	header.SchemaVersion = p.SchemaVersion
	header.PolicyFlags = p.PolicyFlags
	header.FlexZoneSize = layout.FlexZoneSize
	header.RingBufferCapacity = layout.Capacity
	header.LogicalUnitSize = layout.LogicalUnitSize
	header.SlotStateOffset = layout.SlotStateOffset
	header.SlotStateStride = uint64(slot.Size)
	header.SlotChecksumOffset = layout.SlotChecksumOffset
	header.SlotChecksumStride = uint64(slot.ChecksumSize)
	header.FlexZoneOffset = layout.FlexZoneOffset
	header.RingBufferOffset = layout.RingBufferOffset

	header.HeaderChecksum = computeHeaderChecksum(header)

	// Release fence: Go's sync/atomic stores below already carry release
	// semantics; publishMagic's atomic store of Magic is the publication
	// point every attaching process polls on (spec §4.2 steps 6-7).
	header.publishMagic()

	log.Infow("segment created", "path", p.Path, "capacity", layout.Capacity, "total_size", layout.TotalSize)

	return &Segment{
		path:     p.Path,
		file:     f,
		data:     data,
		Header:   header,
		Layout:   layout,
		Slots:    slots,
		Checksum: checksums,
		log:      log,
	}, nil
}

// AttachParams bundles the inputs to Attach.
type AttachParams struct {
	Path                string
	SharedSecret        uint64
	FlexZoneSchemaHash  [32]byte
	DatablockSchemaHash [32]byte
	PollTimeout         time.Duration
	Logger              *zap.SugaredLogger
}

// Attach implements spec §4.2 "Attach": open read-write, poll init_state
// and magic with a timeout, then validate magic/version/secret, the
// full-header checksum, and both schema fingerprints.
func Attach(ctx context.Context, p AttachParams) (*Segment, error) {
	log := p.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	f, err := os.OpenFile(p.Path, os.O_RDWR, 0o666)
	if err != nil {
		return nil, dherrors.NewSegmentError(err, dherrors.ErrorCodeIO, "opening segment backing file")
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, dherrors.NewSegmentError(err, dherrors.ErrorCodeIO, "stat segment backing file")
	}
	if info.Size() < HeaderSize {
		f.Close()
		return nil, dherrors.NewSegmentError(nil, dherrors.ErrorCodeCorruptSegment, "segment file smaller than header size")
	}

	data, err := syscall.Mmap(int(f.Fd()), 0, int(info.Size()), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, dherrors.NewSegmentError(err, dherrors.ErrorCodeIO, "mmap segment")
	}

	header := (*Header)(unsafe.Pointer(&data[0]))

	deadline := time.Now().Add(p.PollTimeout)
	for header.LoadInitState() != InitStateFullyInit || header.LoadMagic() != Magic {
		if time.Now().After(deadline) {
			syscall.Munmap(data)
			f.Close()
			return nil, dherrors.NewSegmentError(dherrors.ErrResultTimeout, dherrors.ErrorCodeCorruptSegment, "producer never completed segment initialization")
		}
		select {
		case <-ctx.Done():
			syscall.Munmap(data)
			f.Close()
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	// Acquire fence: the init_state/magic poll loop above already
	// establishes happens-before via atomic loads (spec §4.2 step 3).

	if header.Version < MinSupportedVersion {
		syscall.Munmap(data)
		f.Close()
		return nil, dherrors.NewSegmentError(nil, dherrors.ErrorCodeCorruptSegment, "unsupported header version").
			WithDetail("version", header.Version)
	}
	if header.SharedSecret != p.SharedSecret {
		syscall.Munmap(data)
		f.Close()
		return nil, dherrors.NewSegmentError(nil, dherrors.ErrorCodeSecretMismatch, "shared secret mismatch")
	}
	if computeHeaderChecksum(header) != header.HeaderChecksum {
		syscall.Munmap(data)
		f.Close()
		return nil, dherrors.NewSegmentError(nil, dherrors.ErrorCodeCorruptSegment, "header checksum mismatch")
	}
	if header.FlexZoneSchemaHash != p.FlexZoneSchemaHash {
		header.IncSchemaMismatch()
		syscall.Munmap(data)
		f.Close()
		return nil, dherrors.NewSegmentError(nil, dherrors.ErrorCodeSchemaMismatch, "flex-zone schema mismatch")
	}
	if header.DatablockSchemaHash != p.DatablockSchemaHash {
		header.IncSchemaMismatch()
		syscall.Munmap(data)
		f.Close()
		return nil, dherrors.NewSegmentError(nil, dherrors.ErrorCodeSchemaMismatch, "datablock schema mismatch")
	}

	layout, err := ComputeLayout(header.RingBufferCapacity, header.LogicalUnitSize, header.FlexZoneSize, pageSizeFromPolicy(header))
	if err != nil {
		syscall.Munmap(data)
		f.Close()
		return nil, dherrors.NewSegmentError(err, dherrors.ErrorCodeCorruptSegment, "recomputing layout from attached header")
	}

	_, slots, checksums := mapRegions(data, layout)

	log.Infow("segment attached", "path", p.Path, "capacity", layout.Capacity)

	return &Segment{
		path:     p.Path,
		file:     f,
		data:     data,
		Header:   header,
		Layout:   layout,
		Slots:    slots,
		Checksum: checksums,
		log:      log,
	}, nil
}

// pageSizeFromPolicy recovers the physical_page_size used at creation
// from logical_unit_size's constraint (>= and a multiple of it); since the
// header does not itself store physical_page_size (it is not needed for
// any wire-format decision after layout is fixed), this picks the largest
// page-size enum member logical_unit_size is a multiple of, matching
// config's own enumeration.
func pageSizeFromPolicy(h *Header) uint64 {
	candidates := []uint64{16 * 1024 * 1024, 4 * 1024 * 1024, 4096}
	for _, c := range candidates {
		if h.LogicalUnitSize%c == 0 {
			return c
		}
	}
	return 4096
}

// DestroyProducer implements spec §4.2 "Destruction (producer)": warn if
// consumers are still attached, unmap, and unlink the segment name.
func (s *Segment) DestroyProducer() error {
	active := s.Header.ConsumerHBTable.ActiveCount()
	if active > 0 {
		s.log.Warnw("destroying segment with active consumers", "active_consumer_count", active)
	}
	if err := s.unmap(); err != nil {
		return err
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return dherrors.NewSegmentError(err, dherrors.ErrorCodeIO, "unlinking segment")
	}
	return nil
}

// DetachConsumer implements spec §4.2 "Destruction (consumer)": clear the
// caller's own heartbeat entry, then unmap. Clearing the entry is the
// caller's responsibility via internal/heartbeat.Table.Detach before
// calling this, since only the caller knows its own table index.
func (s *Segment) DetachConsumer() error {
	return s.unmap()
}

func (s *Segment) unmap() error {
	if s.data == nil {
		return nil
	}
	err := syscall.Munmap(s.data)
	s.data = nil
	closeErr := s.file.Close()
	if err != nil {
		return dherrors.NewSegmentError(err, dherrors.ErrorCodeIO, "munmap segment")
	}
	if closeErr != nil {
		return dherrors.NewSegmentError(closeErr, dherrors.ErrorCodeIO, "closing segment backing file")
	}
	return nil
}
