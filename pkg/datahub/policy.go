package datahub

import (
	"github.com/qing-lab/datahub/internal/slot"
	"github.com/qing-lab/datahub/pkg/config"
)

// PolicyFlags packs a segment's consumer_sync_policy (low nibble) and
// checksum_policy (next nibble) into the header's single policy_flags
// word, since both are fixed for the segment's lifetime and neither
// changes the control-region layout the way physical_page_size or
// flex_zone_size do.
func packPolicyFlags(sync config.ConsumerSyncPolicy, checksum config.ChecksumPolicy) uint32 {
	var flags uint32
	switch sync {
	case config.PolicyLatestOnly:
		flags |= 0
	case config.PolicySingleReader:
		flags |= 1
	case config.PolicySyncReader:
		flags |= 2
	}
	switch checksum {
	case config.ChecksumNone:
		flags |= 0 << 4
	case config.ChecksumEnforced:
		flags |= 1 << 4
	case config.ChecksumManual:
		flags |= 2 << 4
	}
	return flags
}

func unpackPolicyFlags(flags uint32) (slot.SyncPolicy, slot.ChecksumPolicy) {
	var sp slot.SyncPolicy
	switch flags & 0xF {
	case 1:
		sp = slot.PolicySingleReader
	case 2:
		sp = slot.PolicySyncReader
	default:
		sp = slot.PolicyLatestOnly
	}

	var cp slot.ChecksumPolicy
	switch (flags >> 4) & 0xF {
	case 1:
		cp = slot.ChecksumEnforced
	case 2:
		cp = slot.ChecksumManual
	default:
		cp = slot.ChecksumNone
	}
	return sp, cp
}
