package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// fileConfig mirrors Config's serializable fields for file-based overrides.
// Kept separate from Config so Config itself never needs json tags driven
// by file-format concerns.
type fileConfig struct {
	ChannelName         string `json:"channel_name"`
	PhysicalPageSize    uint32 `json:"physical_page_size"`
	LogicalUnitSize     uint64 `json:"logical_unit_size"`
	RingBufferCapacity  uint64 `json:"ring_buffer_capacity"`
	FlexZoneSize        uint64 `json:"flex_zone_size"`
	Policy              string `json:"policy"`
	ConsumerSyncPolicy  string `json:"consumer_sync_policy"`
	ChecksumPolicy      string `json:"checksum_policy"`
	DiagnosticsEnabled  bool   `json:"diagnostics_enabled"`
	HeartbeatStaleAfter uint64 `json:"heartbeat_stale_after_millis"`
}

// LoadFile reads a JSON-with-comments channel config file (operators
// commonly hand-edit these, per SPEC_FULL.md's ambient-stack notes) and
// returns the equivalent Options to fold into New, the same
// standardize-then-unmarshal approach calvinalkan-agent-task's
// internal/ticket.parseConfig uses for its own JSONC ticket configs.
func LoadFile(path string) ([]Option, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("datahub: reading config file %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("datahub: invalid JSONC in %s: %w", path, err)
	}

	var fc fileConfig
	if err := json.Unmarshal(standardized, &fc); err != nil {
		return nil, fmt.Errorf("datahub: invalid config JSON in %s: %w", path, err)
	}

	return []Option{
		WithChannelName(fc.ChannelName),
		WithPhysicalPageSize(PhysicalPageSize(fc.PhysicalPageSize)),
		WithLogicalUnitSize(fc.LogicalUnitSize),
		WithRingBufferCapacity(fc.RingBufferCapacity),
		WithFlexZoneSize(fc.FlexZoneSize),
		WithPolicy(SegmentPolicy(fc.Policy)),
		WithConsumerSyncPolicy(ConsumerSyncPolicy(fc.ConsumerSyncPolicy)),
		WithChecksumPolicy(ChecksumPolicy(fc.ChecksumPolicy)),
		WithDiagnosticsEnabled(fc.DiagnosticsEnabled),
		WithHeartbeatStaleAfterMillis(fc.HeartbeatStaleAfter),
	}, nil
}
