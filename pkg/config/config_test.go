package config

import (
	"os"
	"path/filepath"
	"testing"

	dherrors "github.com/qing-lab/datahub/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validOpts() []Option {
	return []Option{
		WithChannelName("telemetry.raw"),
		WithPhysicalPageSize(PageSize4KiB),
		WithLogicalUnitSize(4096),
		WithRingBufferCapacity(64),
		WithFlexZoneSize(4096),
		WithPolicy(PolicyRingBuffer),
		WithConsumerSyncPolicy(PolicySyncReader),
		WithChecksumPolicy(ChecksumEnforced),
	}
}

func TestNewAppliesDefaultHeartbeatStaleness(t *testing.T) {
	c, err := New(validOpts()...)
	require.NoError(t, err)
	assert.EqualValues(t, DefaultHeartbeatStaleAfterMillis, c.HeartbeatStaleAfter)
}

func TestNewRejectsMissingChannelName(t *testing.T) {
	opts := []Option{
		WithPhysicalPageSize(PageSize4KiB),
		WithLogicalUnitSize(4096),
		WithRingBufferCapacity(64),
		WithFlexZoneSize(0),
		WithPolicy(PolicyRingBuffer),
		WithConsumerSyncPolicy(PolicyLatestOnly),
		WithChecksumPolicy(ChecksumNone),
	}
	_, err := New(opts...)
	require.Error(t, err)

	var verr *dherrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "channel_name", verr.Field())
}

func TestNewRejectsMisalignedLogicalUnitSize(t *testing.T) {
	opts := validOpts()
	opts = append(opts, WithLogicalUnitSize(100))
	_, err := New(opts...)

	var verr *dherrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "logical_unit_size", verr.Field())
}

func TestNewRejectsZeroCapacityAndBadPolicies(t *testing.T) {
	opts := validOpts()
	opts = append(opts, WithRingBufferCapacity(0))
	_, err := New(opts...)
	var verr *dherrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "ring_buffer_capacity", verr.Field())

	opts2 := validOpts()
	opts2 = append(opts2, WithConsumerSyncPolicy("bogus"))
	_, err = New(opts2...)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "consumer_sync_policy", verr.Field())
}

func TestLoadFileParsesJSONC(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "channel.jsonc")
	contents := `{
		// trailing comments are fine, this is JSONC
		"channel_name": "telemetry.raw",
		"physical_page_size": 4096,
		"logical_unit_size": 4096,
		"ring_buffer_capacity": 64,
		"flex_zone_size": 4096,
		"policy": "RingBuffer",
		"consumer_sync_policy": "Sync_reader",
		"checksum_policy": "Enforced",
	}`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	opts, err := LoadFile(path)
	require.NoError(t, err)

	c, err := New(opts...)
	require.NoError(t, err)
	assert.Equal(t, "telemetry.raw", c.ChannelName)
	assert.Equal(t, PolicySyncReader, c.ConsumerSyncPolicy)
}
