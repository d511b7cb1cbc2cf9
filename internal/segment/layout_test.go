package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeLayoutAlignsDataRegionToPage(t *testing.T) {
	l, err := ComputeLayout(8, 4096, 4096, 4096)
	require.NoError(t, err)
	assert.Zero(t, l.FlexZoneOffset%4096)
	assert.Equal(t, l.FlexZoneOffset+l.FlexZoneSize, l.RingBufferOffset)
	assert.Zero(t, l.TotalSize%4096)
}

func TestComputeLayoutRejectsMisalignedFlexZone(t *testing.T) {
	_, err := ComputeLayout(8, 4096, 100, 4096)
	assert.Error(t, err)
}

func TestComputeLayoutRejectsSubPageLogicalUnit(t *testing.T) {
	_, err := ComputeLayout(8, 100, 0, 4096)
	assert.Error(t, err)
}

func TestComputeLayoutRejectsZeroCapacity(t *testing.T) {
	_, err := ComputeLayout(0, 4096, 0, 4096)
	assert.Error(t, err)
}

func TestComputeLayoutFlexZoneMayBeZero(t *testing.T) {
	l, err := ComputeLayout(4, 4096, 0, 4096)
	require.NoError(t, err)
	assert.Equal(t, l.FlexZoneOffset, l.RingBufferOffset)
}
