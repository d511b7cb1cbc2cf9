// Package datahub is the public producer/consumer API (spec §4.8): the
// thing an application actually imports. It wires together
// internal/segment (mmap lifecycle), internal/slot (ring + state machine),
// internal/heartbeat, internal/blds (schema identity), internal/diagnostics
// (recovery) and pkg/broker (registration) into two handle types,
// Producer and Consumer, each exposing a scoped-transaction surface.
//
// Grounded on iamNilotpal-ignite/internal/engine.Engine: a handle that
// owns a background-supervised lifecycle (start/stop via a context and an
// errgroup.Group) and a single-shot close guard (here a closed flag read
// and set under the handle's mutex) — generalized
// here from one HTTP-serving engine to two handle kinds, each supervising
// a heartbeat/reclamation goroutine instead of an HTTP listener.
package datahub

import (
	"os"
	"sync/atomic"

	"go.uber.org/zap"
)

var tidCounter uint64

// nextTID hands out a process-unique "thread identity" for a handle. Go
// has no OS thread/goroutine id to hand to internal/ownerstate the way a
// native pid/tid pair would provide one; spec §5 already requires a
// single handle be used by one goroutine at a time (serialized via the
// handle's own internal mutex), so one counter value per handle — not per
// goroutine — is sufficient to satisfy ownerstate's pid/tid identity
// check.
func nextTID() uint64 {
	return atomic.AddUint64(&tidCounter, 1)
}

func currentPID() uint32 {
	return uint32(os.Getpid())
}

func noopLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
