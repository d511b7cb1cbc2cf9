package spinlock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qing-lab/datahub/internal/ownerstate"
)

func alwaysAlive(uint32) bool { return true }
func neverAlive(uint32) bool  { return false }

func TestAcquireReleaseRoundTrip(t *testing.T) {
	var st ownerstate.State
	l := New(&st, ModePIDTid, WithLivenessProber(alwaysAlive))

	g, err := l.TryAcquire(context.Background(), 1, 1, time.Second)
	require.NoError(t, err)
	require.NotNil(t, g)

	assert.EqualValues(t, 1, st.PID())
	require.NoError(t, g.Release())
	assert.Zero(t, st.PID())
}

func TestRecursiveAcquireSameThread(t *testing.T) {
	var st ownerstate.State
	l := New(&st, ModePIDTid, WithLivenessProber(alwaysAlive))

	g1, err := l.TryAcquire(context.Background(), 1, 1, time.Second)
	require.NoError(t, err)
	g2, err := l.TryAcquire(context.Background(), 1, 1, time.Second)
	require.NoError(t, err)

	assert.EqualValues(t, 2, st.Recursion())
	require.NoError(t, g2.Release())
	assert.EqualValues(t, 1, st.PID(), "still held after one of two releases")
	require.NoError(t, g1.Release())
	assert.Zero(t, st.PID())
}

func TestTimeoutWhenContendedByLiveOwner(t *testing.T) {
	var st ownerstate.State
	l := New(&st, ModePIDTid, WithLivenessProber(alwaysAlive))

	_, err := l.TryAcquire(context.Background(), 1, 1, time.Second)
	require.NoError(t, err)

	_, err = l.TryAcquire(context.Background(), 2, 2, 5*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestReclaimFromDeadOwner(t *testing.T) {
	var st ownerstate.State
	l := New(&st, ModePIDTid, WithLivenessProber(neverAlive))

	g, err := l.TryAcquire(context.Background(), 1, 1, time.Second)
	require.NoError(t, err)
	_ = g // simulate process 1 dying without releasing

	g2, err := l.TryAcquire(context.Background(), 2, 2, time.Second)
	require.NoError(t, err)
	assert.EqualValues(t, 2, st.PID())
	require.NoError(t, g2.Release())
}

func TestConcurrentMutualExclusion(t *testing.T) {
	var st ownerstate.State
	l := New(&st, ModePIDTid, WithLivenessProber(alwaysAlive))

	var counter int
	var mu sync.Mutex // guards counter only, not the lock under test
	var wg sync.WaitGroup

	const goroutines = 16
	const iterations = 50
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(n int) {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				g, err := l.TryAcquire(context.Background(), uint32(n+1), uint64(j), time.Second)
				if err != nil {
					t.Errorf("unexpected acquire error: %v", err)
					return
				}
				mu.Lock()
				counter++
				mu.Unlock()
				_ = g.Release()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, goroutines*iterations, counter)
}
