package slot

import (
	"context"
	"testing"
	"time"

	dherrors "github.com/qing-lab/datahub/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRing(capacity int, policy SyncPolicy) *Ring {
	return NewRing(make([]Slot, capacity), policy)
}

func TestAcquireWritePublishSingleReaderHappyPath(t *testing.T) {
	r := newRing(4, PolicySingleReader)
	ctx := context.Background()

	ticket, err := r.AcquireWrite(ctx, time.Second)
	require.NoError(t, err)
	assert.EqualValues(t, 0, ticket.LogicalID)

	ticket.Slot.BeginWrite()
	r.Publish(ticket)

	assert.EqualValues(t, 1, r.Indices.CommitIndex())
}

func TestRingFullBlocksSingleReaderWriter(t *testing.T) {
	r := newRing(2, PolicySingleReader)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ticket, err := r.AcquireWrite(ctx, time.Second)
		require.NoError(t, err)
		ticket.Slot.BeginWrite()
		r.Publish(ticket)
	}

	_, err := r.AcquireWrite(ctx, 20*time.Millisecond)
	assert.ErrorIs(t, err, dherrors.ErrResultTimeout)

	// Consumer catches up, freeing ring space.
	r.Indices.casReadIndex(0, 1)
	_, err = r.AcquireWrite(ctx, time.Second)
	assert.NoError(t, err)
}

func TestLatestOnlyNeverRingFull(t *testing.T) {
	r := newRing(2, PolicyLatestOnly)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		ticket, err := r.AcquireWrite(ctx, time.Second)
		require.NoError(t, err)
		prior := ticket.Slot.BeginWrite()
		if prior == StateCommitted {
			require.NoError(t, r.DrainSlot(ctx, ticket.Slot, time.Second))
		}
		r.Publish(ticket)
	}
	assert.EqualValues(t, 10, r.Indices.CommitIndex())
}

func TestDrainTimeoutRestoresCommitted(t *testing.T) {
	r := newRing(1, PolicyLatestOnly)
	var s Slot
	s.BeginWrite()
	s.Publish()
	_, ok := s.AcquireRead() // reader never releases
	require.True(t, ok)

	err := r.DrainSlot(context.Background(), &s, 10*time.Millisecond)
	assert.ErrorIs(t, err, dherrors.ErrResultTimeout)
	assert.Equal(t, StateCommitted, s.State())
}

func TestReadTargetLatestOnly(t *testing.T) {
	r := newRing(4, PolicyLatestOnly)
	_, ready := r.ReadTarget(0)
	assert.False(t, ready, "nothing committed yet")

	r.Indices.advanceCommitIndex(3)
	target, ready := r.ReadTarget(0)
	require.True(t, ready)
	assert.EqualValues(t, 2, target)
}

func TestReadTargetSingleReaderWaitsForCommit(t *testing.T) {
	r := newRing(4, PolicySingleReader)
	_, ready := r.ReadTarget(0)
	assert.False(t, ready)

	r.Indices.advanceCommitIndex(1)
	target, ready := r.ReadTarget(0)
	require.True(t, ready)
	assert.EqualValues(t, 0, target)
}

func TestAdvanceReadCursorSingleReaderCAS(t *testing.T) {
	r := newRing(4, PolicySingleReader)
	r.AdvanceReadCursor(0, 0, false)
	assert.EqualValues(t, 1, r.Indices.ReadIndex())
}

func TestWaitForReadTargetTimesOut(t *testing.T) {
	r := newRing(4, PolicySingleReader)
	_, err := r.WaitForReadTarget(context.Background(), 0, 10*time.Millisecond)
	assert.ErrorIs(t, err, dherrors.ErrResultTimeout)
}
