package broker

import (
	"bytes"
	"encoding/json"
	"os"
	"sync"

	"github.com/natefinch/atomic"
)

// registryEntry is the durable, on-disk half of a channel's broker state:
// the producer's Registration plus the set of attached consumer pids.
// Grounded on calvinalkan-agent-task/internal/ticket/cache.go, which
// marshals its cached struct to JSON and writes it with
// atomic.WriteFile(path, bytes.NewReader(buf)) — a temp-file-plus-rename
// so a crash mid-write never leaves a half-written registry on disk.
type registryEntry struct {
	Registration Registration    `json:"registration"`
	Consumers    map[uint32]bool `json:"consumers"`
}

// registry is the in-memory channel table, mirrored to disk on every
// mutation. It holds its own lock rather than relying on the caller,
// since LocalBroker may be driven concurrently by multiple UDS connections.
type registry struct {
	mu      sync.Mutex
	path    string // empty disables persistence (used by tests)
	entries map[string]*registryEntry
}

func newRegistry(path string) (*registry, error) {
	r := &registry{path: path, entries: make(map[string]*registryEntry)}
	if path == "" {
		return r, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return r, nil
	}
	if err := json.Unmarshal(raw, &r.entries); err != nil {
		return nil, err
	}
	return r, nil
}

// persist rewrites the whole registry file. Called with mu held.
func (r *registry) persist() error {
	if r.path == "" {
		return nil
	}
	buf, err := json.Marshal(r.entries)
	if err != nil {
		return err
	}
	return atomic.WriteFile(r.path, bytes.NewReader(buf))
}

func (r *registry) register(reg Registration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[reg.ChannelName] = &registryEntry{
		Registration: reg,
		Consumers:    make(map[uint32]bool),
	}
	return r.persist()
}

func (r *registry) discover(channel string) (Discovery, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[channel]
	if !ok {
		return Discovery{}, false
	}
	return Discovery{
		Endpoint:      e.Registration.Endpoint,
		SharedSecret:  e.Registration.SharedSecret,
		FlexZoneHash:  e.Registration.FlexZoneHash,
		DatablockHash: e.Registration.DatablockHash,
		ConsumerCount: len(e.Consumers),
	}, true
}

func (r *registry) registerConsumer(channel string, pid uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[channel]
	if !ok {
		return channelKeyError(channel)
	}
	e.Consumers[pid] = true
	return r.persist()
}

func (r *registry) deregisterProducer(channel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[channel]; !ok {
		return channelKeyError(channel)
	}
	delete(r.entries, channel)
	return r.persist()
}

func (r *registry) deregisterConsumer(channel string, pid uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[channel]
	if !ok {
		return channelKeyError(channel)
	}
	delete(e.Consumers, pid)
	return r.persist()
}
