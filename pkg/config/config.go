// Package config implements DataHub's producer-side configuration record
// (spec §6.3): a functional-options Config struct whose fields are
// enumerated and required rather than silently defaulted, since they are
// all safety-relevant (they fix the segment's wire layout for its whole
// lifetime). Grounded on iamNilotpal-ignite/pkg/options's OptionFunc
// pattern, generalized from ignite's "apply defaults, then override" shape
// to one where every layout-fixing option is mandatory and validated in New.
package config

import (
	"fmt"

	dherrors "github.com/qing-lab/datahub/pkg/errors"
)

// PhysicalPageSize enumerates the OS page sizes DataHub lays segments out
// against (spec §6.3).
type PhysicalPageSize uint32

const (
	PageSize4KiB  PhysicalPageSize = 4 * 1024
	PageSize4MiB  PhysicalPageSize = 4 * 1024 * 1024
	PageSize16MiB PhysicalPageSize = 16 * 1024 * 1024
)

func (p PhysicalPageSize) valid() bool {
	switch p {
	case PageSize4KiB, PageSize4MiB, PageSize16MiB:
		return true
	default:
		return false
	}
}

// SegmentPolicy selects the segment's addressing scheme. RingBuffer is the
// only policy spec §6.3 names; the type stays open for future additions
// the same way ErrorCode stays open as a string rather than a closed iota.
type SegmentPolicy string

const PolicyRingBuffer SegmentPolicy = "RingBuffer"

// ConsumerSyncPolicy selects how consumer cursors gate the producer and
// each other (spec §5.3).
type ConsumerSyncPolicy string

const (
	PolicyLatestOnly   ConsumerSyncPolicy = "Latest_only"
	PolicySingleReader ConsumerSyncPolicy = "Single_reader"
	PolicySyncReader   ConsumerSyncPolicy = "Sync_reader"
)

func (p ConsumerSyncPolicy) valid() bool {
	switch p {
	case PolicyLatestOnly, PolicySingleReader, PolicySyncReader:
		return true
	default:
		return false
	}
}

// ChecksumPolicy selects how flex-zone/slot checksums are maintained
// (spec §6.3). Under both Enforced and Manual the producer computes slot
// checksums at publish and auto-flushes a touched flex zone at
// transaction exit; None computes neither.
type ChecksumPolicy string

const (
	ChecksumNone     ChecksumPolicy = "None"
	ChecksumEnforced ChecksumPolicy = "Enforced"
	ChecksumManual   ChecksumPolicy = "Manual"
)

func (p ChecksumPolicy) valid() bool {
	switch p {
	case ChecksumNone, ChecksumEnforced, ChecksumManual:
		return true
	default:
		return false
	}
}

// Config is the producer-create configuration record of spec §6.3. Every
// field that fixes a safety-relevant part of the segment's wire layout for
// its entire lifetime is required, with no zero-value-is-a-default
// fallback; only DiagnosticsEnabled and HeartbeatStaleAfter may be left
// zero. Build the fully-formed Config with New, which rejects any required
// field left unset.
type Config struct {
	ChannelName         string
	PhysicalPageSize    PhysicalPageSize
	LogicalUnitSize     uint64
	RingBufferCapacity  uint64
	FlexZoneSize        uint64
	Policy              SegmentPolicy
	ConsumerSyncPolicy  ConsumerSyncPolicy
	ChecksumPolicy      ChecksumPolicy
	DiagnosticsEnabled  bool
	HeartbeatStaleAfter uint64 // milliseconds; 0 uses DefaultHeartbeatStaleAfterMillis
}

// DefaultHeartbeatStaleAfterMillis is the liveness staleness threshold used
// when HeartbeatStaleAfter is left at zero (SPEC_FULL.md Open Questions:
// not safety-relevant, so this one field may default).
const DefaultHeartbeatStaleAfterMillis = 5000

// Option mutates a Config under construction.
type Option func(*Config)

func WithChannelName(name string) Option {
	return func(c *Config) { c.ChannelName = name }
}

func WithPhysicalPageSize(size PhysicalPageSize) Option {
	return func(c *Config) { c.PhysicalPageSize = size }
}

func WithLogicalUnitSize(size uint64) Option {
	return func(c *Config) { c.LogicalUnitSize = size }
}

func WithRingBufferCapacity(capacity uint64) Option {
	return func(c *Config) { c.RingBufferCapacity = capacity }
}

func WithFlexZoneSize(size uint64) Option {
	return func(c *Config) { c.FlexZoneSize = size }
}

func WithPolicy(policy SegmentPolicy) Option {
	return func(c *Config) { c.Policy = policy }
}

func WithConsumerSyncPolicy(policy ConsumerSyncPolicy) Option {
	return func(c *Config) { c.ConsumerSyncPolicy = policy }
}

func WithChecksumPolicy(policy ChecksumPolicy) Option {
	return func(c *Config) { c.ChecksumPolicy = policy }
}

func WithDiagnosticsEnabled(enabled bool) Option {
	return func(c *Config) { c.DiagnosticsEnabled = enabled }
}

func WithHeartbeatStaleAfterMillis(millis uint64) Option {
	return func(c *Config) { c.HeartbeatStaleAfter = millis }
}

// New applies opts over a blank Config and validates the result. Every
// safety-relevant field must be explicitly set by some Option; New never
// silently fills one in.
func New(opts ...Option) (*Config, error) {
	var c Config
	for _, opt := range opts {
		opt(&c)
	}
	if c.HeartbeatStaleAfter == 0 {
		c.HeartbeatStaleAfter = DefaultHeartbeatStaleAfterMillis
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate enforces spec §6.3's field constraints. Returns a
// *pkg/errors.ValidationError identifying the first offending field.
func (c *Config) Validate() error {
	if c.ChannelName == "" {
		return dherrors.NewValidationError(dherrors.ErrorCodeInvalidConfig, "channel_name is required").
			WithField("channel_name")
	}
	if !c.PhysicalPageSize.valid() {
		return dherrors.NewValidationError(dherrors.ErrorCodeInvalidConfig, "physical_page_size must be 4KiB, 4MiB, or 16MiB").
			WithField("physical_page_size").
			WithProvided(c.PhysicalPageSize)
	}
	if c.LogicalUnitSize == 0 || c.LogicalUnitSize%uint64(c.PhysicalPageSize) != 0 {
		return dherrors.NewValidationError(dherrors.ErrorCodeInvalidConfig, "logical_unit_size must be a nonzero multiple of physical_page_size").
			WithField("logical_unit_size").
			WithProvided(c.LogicalUnitSize).
			WithExpected(fmt.Sprintf("multiple of %d", c.PhysicalPageSize))
	}
	if c.RingBufferCapacity < 1 {
		return dherrors.NewValidationError(dherrors.ErrorCodeInvalidConfig, "ring_buffer_capacity must be >= 1").
			WithField("ring_buffer_capacity").
			WithProvided(c.RingBufferCapacity)
	}
	const fourKiB = 4 * 1024
	if c.FlexZoneSize%fourKiB != 0 {
		return dherrors.NewValidationError(dherrors.ErrorCodeInvalidConfig, "flex_zone_size must be a multiple of 4KiB").
			WithField("flex_zone_size").
			WithProvided(c.FlexZoneSize)
	}
	if c.Policy == "" {
		return dherrors.NewValidationError(dherrors.ErrorCodeInvalidConfig, "policy is required").
			WithField("policy")
	}
	if !c.ConsumerSyncPolicy.valid() {
		return dherrors.NewValidationError(dherrors.ErrorCodeInvalidConfig, "consumer_sync_policy must be Latest_only, Single_reader, or Sync_reader").
			WithField("consumer_sync_policy").
			WithProvided(c.ConsumerSyncPolicy)
	}
	if !c.ChecksumPolicy.valid() {
		return dherrors.NewValidationError(dherrors.ErrorCodeInvalidConfig, "checksum_policy must be None, Enforced, or Manual").
			WithField("checksum_policy").
			WithProvided(c.ChecksumPolicy)
	}
	return nil
}
