package slot

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotSize(t *testing.T) {
	var s Slot
	assert.EqualValues(t, Size, unsafe.Sizeof(s))
}

func TestBeginWriteFromFree(t *testing.T) {
	var s Slot
	prior := s.BeginWrite()
	assert.Equal(t, StateFree, prior)
	assert.Equal(t, StateWriting, s.State())
}

func TestPublishAndAbort(t *testing.T) {
	var s Slot
	s.BeginWrite()
	gen := s.WriteGeneration()
	s.Publish()
	assert.Equal(t, StateCommitted, s.State())
	assert.Equal(t, gen+1, s.WriteGeneration())

	var s2 Slot
	s2.BeginWrite()
	s2.Abort()
	assert.Equal(t, StateFree, s2.State())
}

func TestDrainCycle(t *testing.T) {
	var s Slot
	s.BeginWrite()
	s.Publish()

	require.True(t, s.BeginDraining())
	assert.Equal(t, StateDraining, s.State())
	s.RestoreCommitted()
	assert.Equal(t, StateCommitted, s.State())
}

func TestAcquireReadRejectsNonCommitted(t *testing.T) {
	var s Slot // FREE
	_, ok := s.AcquireRead()
	assert.False(t, ok)
	assert.Zero(t, s.ReaderCount())
}

func TestAcquireReleaseReadDetectsStaleness(t *testing.T) {
	var s Slot
	s.BeginWrite()
	s.Publish()

	gen, ok := s.AcquireRead()
	require.True(t, ok)
	assert.EqualValues(t, 1, s.ReaderCount())

	stale := s.ReleaseRead(gen)
	assert.False(t, stale)
	assert.Zero(t, s.ReaderCount())

	// Simulate an overwrite (bumps generation) while a reader is mid-flight.
	gen2, ok := s.AcquireRead()
	require.True(t, ok)
	s.BeginWrite() // producer reclaims same physical slot
	s.Publish()    // bumps write_generation again

	stale = s.ReleaseRead(gen2)
	assert.True(t, stale)
	assert.Zero(t, s.ReaderCount())
}

func TestChecksumSetVerifyClear(t *testing.T) {
	var c Checksum
	assert.False(t, c.Verify([32]byte{1}))

	digest := [32]byte{0xAB}
	c.Set(digest)
	assert.True(t, c.Verify(digest))
	assert.False(t, c.Verify([32]byte{0xCD}))

	c.Clear()
	assert.False(t, c.Verify(digest))
}
