// Package spinlock implements the spin-with-backoff lock described in
// spec §4.1: intra-segment mutual exclusion over a single
// internal/ownerstate.State, with PID-based ownership, zombie reclamation,
// and an optional token-handoff mode.
//
// The backoff ladder (spin, then yield, then short sleep, bounded by a
// caller deadline) follows the same shape as
// rishavpaul-system-design/order-matching-engine's disruptor.Sequencer.Next
// spin loop and calvinalkan-agent-task's acquireLockWithTimeout retry loop,
// generalized from a fixed spin count / fixed file-lock timeout to a
// three-stage backoff bounded by an arbitrary caller timeout.
package spinlock

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/qing-lab/datahub/internal/ownerstate"
)

// Mode selects the ownership semantics of a Lock.
type Mode uint8

const (
	// ModePIDTid requires the acquiring (pid, tid) pair to release; supports
	// same-thread recursion and zombie reclamation via OS liveness probes.
	ModePIDTid Mode = iota
	// ModeToken allows any holder of the returned token to release, and
	// supports handing the token to another thread without a full release.
	ModeToken
)

// AcquireError enumerates the ways try_acquire can fail, per spec §4.1.
type AcquireError int

const (
	// ErrNone is the zero value; never returned as an error.
	ErrNone AcquireError = iota
	// ErrTimeout means the deadline elapsed before the lock was obtained.
	ErrTimeout
	// ErrContended means another live holder holds the lock (informational,
	// collapses into ErrTimeout once the deadline is reached).
	ErrContended
	// ErrPoisonRecovered means the lock was obtained by reclaiming a dead
	// owner's ownership, not by a clean acquire.
	ErrPoisonRecovered
)

func (e AcquireError) Error() string {
	switch e {
	case ErrTimeout:
		return "spinlock: acquire timed out"
	case ErrContended:
		return "spinlock: lock is held by a live owner"
	case ErrPoisonRecovered:
		return "spinlock: lock recovered from a dead owner"
	default:
		return "spinlock: no error"
	}
}

// ReclaimOutcome reports what try_reclaim_if_dead observed and did.
type ReclaimOutcome int

const (
	// ReclaimNotDead means the recorded owner is still alive; nothing changed.
	ReclaimNotDead ReclaimOutcome = iota
	// ReclaimUnowned means the lock was already free.
	ReclaimUnowned
	// ReclaimSucceeded means a dead owner's slot was replaced with the caller's.
	ReclaimSucceeded
	// ReclaimLostRace means another reclaimer won the CAS first.
	ReclaimLostRace
)

// LivenessProber reports whether a PID still refers to a live OS process.
// Production callers pass a probe gated by heartbeat freshness (spec §4.1:
// "possibly gated by heartbeat freshness to avoid syscalls on hot paths");
// tests can substitute a fake.
type LivenessProber func(pid uint32) bool

// Metrics receives counters bumped by reclamation and contention, so the
// owning segment can surface them in its header metrics block (spec §4.1
// "Reclamation is logged and reported via metrics").
type Metrics interface {
	IncReclamations()
	IncContention()
}

type noopMetrics struct{}

func (noopMetrics) IncReclamations() {}
func (noopMetrics) IncContention()   {}

// Lock is a spin-with-backoff mutual exclusion lock over one shared
// ownerstate.State. The zero value is not usable; construct with New.
type Lock struct {
	state   *ownerstate.State
	mode    Mode
	alive   LivenessProber
	metrics Metrics
}

// Option configures a Lock at construction time.
type Option func(*Lock)

// WithLivenessProber overrides the default OS process probe used for zombie
// reclamation.
func WithLivenessProber(p LivenessProber) Option {
	return func(l *Lock) { l.alive = p }
}

// WithMetrics attaches a counter sink for reclamation/contention events.
func WithMetrics(m Metrics) Option {
	return func(l *Lock) { l.metrics = m }
}

// New wraps an existing ownerstate.State (typically one living inside a
// mapped segment) as a Lock in the given mode.
func New(state *ownerstate.State, mode Mode, opts ...Option) *Lock {
	l := &Lock{state: state, mode: mode, alive: defaultLivenessProber, metrics: noopMetrics{}}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Guard represents a held lock; Release must be called exactly once.
type Guard struct {
	lock      *Lock
	pid       uint32
	tid       uint64
	token     uint64
	recursive bool
}

// Token returns the generation/handoff token observed at acquire time.
func (g *Guard) Token() uint64 { return g.token }

// TryAcquire attempts to take the lock before ctx is done or timeout
// elapses, whichever comes first. pid/tid identify the caller for
// ModePIDTid; in ModeToken, tid is only used for diagnostics.
func (l *Lock) TryAcquire(ctx context.Context, pid uint32, tid uint64, timeout time.Duration) (*Guard, error) {
	deadline := time.Now().Add(timeout)
	const (
		spinIterations = 400
		yieldIterations = 200
		sleepStep       = 200 * time.Microsecond
	)

	attempt := 0
	for {
		if g, ok := l.tryOnce(pid, tid); ok {
			return g, nil
		}

		select {
		case <-ctx.Done():
			return nil, ErrTimeout
		default:
		}

		// Stage 1: pure spin — cheapest, for very short critical sections.
		if attempt < spinIterations {
			attempt++
			continue
		}

		// Stage 2: yield to the Go scheduler, then OS scheduler.
		if attempt < spinIterations+yieldIterations {
			runtime.Gosched()
			attempt++
			continue
		}

		// Before sleeping, consider reclaiming a dead owner.
		if outcome := l.tryReclaimLocked(pid, tid); outcome == ReclaimSucceeded {
			// Reclaim already installed (pid, tid) with recursion depth 1.
			return &Guard{lock: l, pid: pid, tid: tid, token: l.state.Token()}, nil
		} else if l.metrics != nil {
			l.metrics.IncContention()
		}

		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}

		// Stage 3: bounded sleep, retry until the deadline.
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrTimeout
		}
		sleep := sleepStep
		if sleep > remaining {
			sleep = remaining
		}
		time.Sleep(sleep)
		attempt++
	}
}

// tryOnce makes a single, non-blocking acquire attempt: a fresh CAS from
// unowned, or a same-thread recursive re-entry.
func (l *Lock) tryOnce(pid uint32, tid uint64) (*Guard, bool) {
	snap := l.state.Load()
	if snap.PID == pid && snap.TID == tid && snap.PID != 0 && l.mode == ModePIDTid {
		depth := l.state.IncRecursion()
		return &Guard{lock: l, pid: pid, tid: tid, token: snap.Token, recursive: depth > 1}, true
	}

	if l.state.CASOwner(0, pid) {
		l.state.SetOwner(tid, l.state.Token())
		return &Guard{lock: l, pid: pid, tid: tid, token: l.state.Token()}, true
	}
	return nil, false
}

// tryReclaimLocked checks the current owner's liveness and, if dead,
// atomically hands ownership to (pid, tid).
func (l *Lock) tryReclaimLocked(pid uint32, tid uint64) ReclaimOutcome {
	snap := l.state.Load()
	if snap.PID == 0 {
		return ReclaimUnowned
	}
	if l.alive(snap.PID) {
		return ReclaimNotDead
	}
	if !l.state.Reclaim(snap.PID, pid, tid) {
		return ReclaimLostRace
	}
	if l.metrics != nil {
		l.metrics.IncReclamations()
	}
	return ReclaimSucceeded
}

// TryReclaimIfDead is the standalone maintenance entry point described in
// spec §4.1 and §4.6: any thread may call this outside of an acquire
// attempt (e.g. a background sweeper) to free a lock stuck on a dead PID.
func (l *Lock) TryReclaimIfDead(callerPID uint32, callerTID uint64) ReclaimOutcome {
	return l.tryReclaimLocked(callerPID, callerTID)
}

// Release releases the guard. Only the (pid, tid) that acquired it — or, in
// ModeToken, any holder of the token — may call this.
func (g *Guard) Release() error {
	if g.lock.mode == ModePIDTid {
		if depth := g.lock.state.DecRecursion(); depth > 0 {
			return nil
		}
	}
	g.lock.state.Clear()
	return nil
}

// Handoff transfers a ModeToken lock to another thread without releasing
// it, per spec §4.1 "ownership may be transferred to another thread".
func (g *Guard) Handoff(newTID uint64) error {
	if g.lock.mode != ModeToken {
		return errors.New("spinlock: handoff is only valid in token mode")
	}
	g.lock.state.SetOwner(newTID, g.lock.state.Token())
	return nil
}

func defaultLivenessProber(pid uint32) bool {
	return isProcessAlive(pid)
}
