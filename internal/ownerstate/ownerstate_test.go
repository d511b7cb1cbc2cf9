package ownerstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateSize(t *testing.T) {
	require.EqualValues(t, Size, 32)
}

func TestCASOwnerAndClear(t *testing.T) {
	var s State
	assert.True(t, s.CASOwner(0, 42))
	assert.False(t, s.CASOwner(0, 7), "second CAS from 0 must fail once owned")
	s.SetOwner(99, 1)

	snap := s.Load()
	assert.EqualValues(t, 42, snap.PID)
	assert.EqualValues(t, 99, snap.TID)
	assert.EqualValues(t, 1, snap.RecursionCount)

	before := s.Token()
	s.Clear()
	assert.Zero(t, s.PID())
	assert.Greater(t, s.Token(), before, "Clear must bump the generation")
}

func TestReclaim(t *testing.T) {
	var s State
	require.True(t, s.CASOwner(0, 1))
	s.SetOwner(10, 0)

	genBefore := s.Token()
	ok := s.Reclaim(1, 2, 20)
	require.True(t, ok)
	assert.EqualValues(t, 2, s.PID())
	assert.EqualValues(t, 20, s.TID())
	assert.Greater(t, s.Token(), genBefore)

	// Reclaiming against a stale expected PID must fail.
	assert.False(t, s.Reclaim(1, 3, 30))
}

func TestRecursionDepth(t *testing.T) {
	var s State
	require.True(t, s.CASOwner(0, 1))
	s.SetOwner(10, 0)
	assert.EqualValues(t, 1, s.Recursion())

	assert.EqualValues(t, 2, s.IncRecursion())
	assert.EqualValues(t, 1, s.DecRecursion())
}
