package heartbeat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducerHeartbeatBeatAndStale(t *testing.T) {
	var p ProducerHeartbeat
	p.Beat(100, 1_000)
	assert.EqualValues(t, 100, p.PID())
	assert.False(t, p.Stale(1_000+StaleAfterNanos-1, StaleAfterNanos))
	assert.True(t, p.Stale(1_000+StaleAfterNanos+1, StaleAfterNanos))
}

func TestTableAttachAndCapacity(t *testing.T) {
	var tbl Table
	for i := 0; i < TableCapacity; i++ {
		_, idx, ok := tbl.Attach(uint32(i+1), 0, 0)
		require.True(t, ok)
		assert.Equal(t, i, idx)
	}
	_, _, ok := tbl.Attach(999, 0, 0)
	assert.False(t, ok, "9th attach must fail, table is full")
	assert.Equal(t, TableCapacity, tbl.ActiveCount())
}

func TestTableDetachFreesSlot(t *testing.T) {
	var tbl Table
	_, idx, ok := tbl.Attach(1, 0, 0)
	require.True(t, ok)
	tbl.Detach(idx)
	assert.Equal(t, 0, tbl.ActiveCount())

	_, _, ok = tbl.Attach(2, 0, 0)
	assert.True(t, ok)
}

func TestMinNextReadSlotAcrossActiveConsumers(t *testing.T) {
	var tbl Table
	e1, _, _ := tbl.Attach(1, 0, 10)
	e2, _, _ := tbl.Attach(2, 0, 5)
	_ = e1

	min, ok := tbl.MinNextReadSlot()
	require.True(t, ok)
	assert.EqualValues(t, 5, min)

	e2.SetNextReadSlot(20)
	min, ok = tbl.MinNextReadSlot()
	require.True(t, ok)
	assert.EqualValues(t, 10, min)
}

func TestMinNextReadSlotEmptyTable(t *testing.T) {
	var tbl Table
	_, ok := tbl.MinNextReadSlot()
	assert.False(t, ok)
}

func TestReclaimStaleClearsDeadOrStaleEntries(t *testing.T) {
	var tbl Table
	tbl.Attach(1, 0, 0)   // stale and dead
	tbl.Attach(2, 1000, 0) // fresh
	tbl.Attach(3, 0, 0)   // stale but alive

	alive := map[uint32]bool{2: true, 3: true}
	reclaimed := tbl.ReclaimStale(1000+StaleAfterNanos+1, StaleAfterNanos, func(pid uint32) bool {
		return alive[pid]
	})

	require.Len(t, reclaimed, 1)
	assert.Equal(t, 2, tbl.ActiveCount())
	assert.True(t, tbl.Entry(reclaimed[0]).Empty())
}
