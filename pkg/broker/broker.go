// Package broker implements the minimal control-plane surface spec §6.2
// names as "consumed" by the DataBlock core — register/discover/deregister
// plus two events — without trying to be the full broker service spec §1
// explicitly places out of scope. The wire encoding (JSON over a Unix
// domain socket) is an internal implementation convenience, not a frozen
// cross-version contract (see DESIGN.md's Open Questions).
//
// Grounded on lixiasky-back-coroTracer/engine.go's NewTracerEngine, which
// opens a Unix domain socket with net.Listen("unix", sockPath) as its
// control channel — repurposed here from a one-shot wake-up signal to a
// line-delimited JSON request/response protocol.
package broker

import (
	"context"
	"fmt"

	dherrors "github.com/qing-lab/datahub/pkg/errors"
)

// Registration is the payload of spec §6.2's Register call.
type Registration struct {
	ChannelName   string `json:"channel_name"`
	Endpoint      string `json:"endpoint"`
	SharedSecret  uint64 `json:"shared_secret"`
	FlexZoneHash  [32]byte `json:"flexzone_hash"`
	DatablockHash [32]byte `json:"datablock_hash"`
	SchemaVersion uint32 `json:"schema_version"`
}

// Discovery is the payload returned by spec §6.2's Discover call.
type Discovery struct {
	Endpoint      string   `json:"endpoint"`
	SharedSecret  uint64   `json:"shared_secret"`
	FlexZoneHash  [32]byte `json:"flexzone_hash"`
	DatablockHash [32]byte `json:"datablock_hash"`
	ConsumerCount int      `json:"consumer_count"`
}

// EventKind enumerates the two events spec §6.2 says the core publishes.
type EventKind string

const (
	EventConsumerDied  EventKind = "ConsumerDied"
	EventChannelError  EventKind = "ChannelError"
)

// Event is one broker notification emitted by the core.
type Event struct {
	Kind    EventKind `json:"kind"`
	Channel string    `json:"channel"`
	PID     uint32    `json:"pid,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}

// Broker is the surface the DataBlock core consumes (spec §6.2). Real
// deployments may back this with a remote service; this module ships Client,
// which implements it by talking to a LocalBroker server over its Unix
// socket, for single-host use and for tests.
type Broker interface {
	Register(ctx context.Context, reg Registration) error
	Discover(ctx context.Context, channel string) (Discovery, error)
	RegisterConsumer(ctx context.Context, channel string, pid uint32) error
	DeregisterProducer(ctx context.Context, channel string) error
	DeregisterConsumer(ctx context.Context, channel string, pid uint32) error
	PublishEvent(ctx context.Context, ev Event) error
}

// ErrChannelNotFound is the error LocalBroker's registry wraps when no
// producer has registered the channel (spec §6.2: "NotFound"). Over the
// socket, Client.Discover returns that message as a plain error, which does
// not match ErrChannelNotFound under errors.Is.
var ErrChannelNotFound = dherrors.NewSegmentError(nil, dherrors.ErrorCodeBrokerUnreachable, "channel not registered")

func channelKeyError(channel string) error {
	return fmt.Errorf("broker: channel %q: %w", channel, ErrChannelNotFound)
}
