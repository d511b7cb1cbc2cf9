package segment

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	dherrors "github.com/qing-lab/datahub/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams(path string) CreateParams {
	return CreateParams{
		Path:             path,
		Capacity:         8,
		LogicalUnitSize:  4096,
		FlexZoneSize:     4096,
		PhysicalPageSize: 4096,
		SharedSecret:     0xC0FFEE,
		SchemaVersion:    1,
	}
}

func TestCreateThenAttachRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channel.seg")

	prod, err := Create(testParams(path))
	require.NoError(t, err)
	defer prod.DestroyProducer()

	assert.Equal(t, InitStateFullyInit, prod.Header.LoadInitState())
	assert.Equal(t, Magic, prod.Header.LoadMagic())
	assert.Len(t, prod.Slots, 8)
	assert.Len(t, prod.Checksum, 8)

	cons, err := Attach(context.Background(), AttachParams{
		Path:         path,
		SharedSecret: 0xC0FFEE,
		PollTimeout:  time.Second,
	})
	require.NoError(t, err)
	defer cons.DetachConsumer()

	assert.EqualValues(t, 8, cons.Header.RingBufferCapacity)
	assert.Len(t, cons.Slots, 8)
}

func TestAttachRejectsWrongSharedSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channel.seg")
	prod, err := Create(testParams(path))
	require.NoError(t, err)
	defer prod.DestroyProducer()

	_, err = Attach(context.Background(), AttachParams{
		Path:         path,
		SharedSecret: 0xBAD,
		PollTimeout:  time.Second,
	})
	require.Error(t, err)

	var serr *dherrors.SegmentError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, dherrors.ErrorCodeSecretMismatch, serr.Code())
}

func TestAttachRejectsSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channel.seg")
	params := testParams(path)
	params.DatablockSchemaHash = [32]byte{0x01}
	prod, err := Create(params)
	require.NoError(t, err)
	defer prod.DestroyProducer()

	_, err = Attach(context.Background(), AttachParams{
		Path:                path,
		SharedSecret:        params.SharedSecret,
		DatablockSchemaHash: [32]byte{0x02},
		PollTimeout:         time.Second,
	})
	require.Error(t, err)

	var serr *dherrors.SegmentError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, dherrors.ErrorCodeSchemaMismatch, serr.Code())
	assert.EqualValues(t, 1, prod.Header.SchemaMismatchCount)
}

func TestAttachTimesOutIfNeverPublished(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channel.seg")
	prod, err := Create(testParams(path))
	require.NoError(t, err)
	defer prod.DestroyProducer()

	// Simulate an unfinished producer: roll back publication.
	prod.Header.InitState = uint32(InitStateLockReady)
	prod.Header.Magic = 0

	_, err = Attach(context.Background(), AttachParams{
		Path:         path,
		SharedSecret: 0xC0FFEE,
		PollTimeout:  20 * time.Millisecond,
	})
	require.Error(t, err)
}

func TestHeaderChecksumDetectsTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channel.seg")
	prod, err := Create(testParams(path))
	require.NoError(t, err)
	defer prod.DestroyProducer()

	prod.Header.RingBufferCapacity = 999 // tamper with a layout-describing field

	_, err = Attach(context.Background(), AttachParams{
		Path:         path,
		SharedSecret: 0xC0FFEE,
		PollTimeout:  time.Second,
	})
	require.Error(t, err)

	var serr *dherrors.SegmentError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, dherrors.ErrorCodeCorruptSegment, serr.Code())
}

func TestDestroyProducerUnlinksSegment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channel.seg")
	prod, err := Create(testParams(path))
	require.NoError(t, err)
	require.NoError(t, prod.DestroyProducer())

	_, err = Attach(context.Background(), AttachParams{
		Path:         path,
		SharedSecret: 0xC0FFEE,
		PollTimeout:  10 * time.Millisecond,
	})
	assert.Error(t, err)
}
