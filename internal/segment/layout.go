package segment

import (
	"fmt"

	"github.com/qing-lab/datahub/internal/slot"
)

// Layout is the computed size/offset table for one segment instance,
// derived from its capacity and unit sizes (spec §4.2 "Creation" step 1
// and "Layout constraints").
type Layout struct {
	Capacity         uint64
	LogicalUnitSize  uint64
	FlexZoneSize     uint64
	PhysicalPageSize uint64

	SlotStateOffset    uint64
	SlotStateSize      uint64
	SlotChecksumOffset uint64
	SlotChecksumSize   uint64
	FlexZoneOffset     uint64
	RingBufferOffset   uint64
	TotalSize          uint64
}

func roundUp(v, multiple uint64) uint64 {
	if multiple == 0 || v%multiple == 0 {
		return v
	}
	return v + (multiple - v%multiple)
}

// ComputeLayout validates spec §4.2's layout constraints and derives every
// offset a created or attached segment needs.
//
//   - flex_zone_size multiple of 4 KiB.
//   - logical_unit_size >= physical_page_size, multiple of physical_page_size.
//   - Slot-state array base immediately follows the (already 4 KiB-aligned)
//     header; slot-checksum array immediately follows that.
//   - Data region base (flex zone, then ring buffer) is 4 KiB-aligned,
//     after the padded control region.
func ComputeLayout(capacity, logicalUnitSize, flexZoneSize, physicalPageSize uint64) (Layout, error) {
	const fourKiB = 4096

	if flexZoneSize%fourKiB != 0 {
		return Layout{}, fmt.Errorf("segment: flex_zone_size %d is not a multiple of 4KiB", flexZoneSize)
	}
	if logicalUnitSize < physicalPageSize || logicalUnitSize%physicalPageSize != 0 {
		return Layout{}, fmt.Errorf("segment: logical_unit_size %d must be >= and a multiple of physical_page_size %d", logicalUnitSize, physicalPageSize)
	}
	if capacity == 0 {
		return Layout{}, fmt.Errorf("segment: ring_buffer_capacity must be >= 1")
	}

	slotStateOffset := uint64(HeaderSize)
	slotStateSize := capacity * uint64(slot.Size)

	slotChecksumOffset := slotStateOffset + slotStateSize
	slotChecksumSize := capacity * uint64(slot.ChecksumSize)

	controlEnd := slotChecksumOffset + slotChecksumSize
	dataRegionOffset := roundUp(controlEnd, fourKiB)

	flexZoneOffset := dataRegionOffset
	ringBufferOffset := flexZoneOffset + flexZoneSize
	totalSize := roundUp(ringBufferOffset+capacity*logicalUnitSize, physicalPageSize)

	return Layout{
		Capacity:           capacity,
		LogicalUnitSize:    logicalUnitSize,
		FlexZoneSize:       flexZoneSize,
		PhysicalPageSize:   physicalPageSize,
		SlotStateOffset:    slotStateOffset,
		SlotStateSize:      slotStateSize,
		SlotChecksumOffset: slotChecksumOffset,
		SlotChecksumSize:   slotChecksumSize,
		FlexZoneOffset:     flexZoneOffset,
		RingBufferOffset:   ringBufferOffset,
		TotalSize:          totalSize,
	}, nil
}
