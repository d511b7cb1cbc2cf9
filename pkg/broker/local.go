package broker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"

	"go.uber.org/zap"
)

// rpcRequest is one line of the broker's UDS wire protocol: a method name
// plus a raw JSON payload, decoded according to Method.
type rpcRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// LocalBroker is the reference broker server (spec §6.2) for a single host,
// which Client talks to: a
// Unix domain socket listener serving newline-delimited JSON requests,
// backed by a registry durably persisted via natefinch/atomic.
//
// Grounded on lixiasky-back-coroTracer/engine.go's NewTracerEngine/Run,
// which opens net.Listen("unix", sockPath) and Accepts connections in a
// loop — generalized here from a single long-lived trace connection to a
// short request/response RPC server fielding many short-lived clients.
type LocalBroker struct {
	sockPath string
	listener net.Listener
	reg      *registry
	log      *zap.SugaredLogger

	mu        sync.Mutex
	listeners []chan Event

	wg sync.WaitGroup
}

// LocalBrokerParams configures NewLocalBroker.
type LocalBrokerParams struct {
	// SocketPath is the Unix domain socket this broker listens on.
	SocketPath string
	// RegistryPath, if non-empty, is where the channel registry is
	// durably persisted between broker restarts. Empty keeps the
	// registry in memory only (used by tests and ephemeral brokers).
	RegistryPath string
	Logger       *zap.SugaredLogger
}

// NewLocalBroker opens (or recreates) the control socket and starts
// serving. Call Close to stop.
func NewLocalBroker(p LocalBrokerParams) (*LocalBroker, error) {
	reg, err := newRegistry(p.RegistryPath)
	if err != nil {
		return nil, fmt.Errorf("broker: load registry: %w", err)
	}

	os.Remove(p.SocketPath)
	listener, err := net.Listen("unix", p.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("broker: listen uds %s: %w", p.SocketPath, err)
	}

	log := p.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	b := &LocalBroker{
		sockPath: p.SocketPath,
		listener: listener,
		reg:      reg,
		log:      log,
	}
	b.wg.Add(1)
	go b.acceptLoop()
	return b, nil
}

func (b *LocalBroker) acceptLoop() {
	defer b.wg.Done()
	for {
		conn, err := b.listener.Accept()
		if err != nil {
			b.log.Debugw("broker: listener closed", "error", err)
			return
		}
		b.wg.Add(1)
		go b.serve(conn)
	}
}

func (b *LocalBroker) serve(conn net.Conn) {
	defer b.wg.Done()
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		var req rpcRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			enc.Encode(rpcResponse{Error: err.Error()})
			continue
		}
		resp := b.dispatch(req)
		if err := enc.Encode(resp); err != nil {
			b.log.Debugw("broker: write response failed", "error", err)
			return
		}
	}
}

func (b *LocalBroker) dispatch(req rpcRequest) rpcResponse {
	switch req.Method {
	case "Register":
		var reg Registration
		if err := json.Unmarshal(req.Params, &reg); err != nil {
			return rpcResponse{Error: err.Error()}
		}
		if err := b.reg.register(reg); err != nil {
			return rpcResponse{Error: err.Error()}
		}
		return rpcResponse{}

	case "Discover":
		var params struct {
			Channel string `json:"channel_name"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return rpcResponse{Error: err.Error()}
		}
		d, ok := b.reg.discover(params.Channel)
		if !ok {
			return rpcResponse{Error: channelKeyError(params.Channel).Error()}
		}
		raw, _ := json.Marshal(d)
		return rpcResponse{Result: raw}

	case "RegisterConsumer":
		var params struct {
			Channel string `json:"channel_name"`
			PID     uint32 `json:"pid"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return rpcResponse{Error: err.Error()}
		}
		if err := b.reg.registerConsumer(params.Channel, params.PID); err != nil {
			return rpcResponse{Error: err.Error()}
		}
		return rpcResponse{}

	case "DeregisterProducer":
		var params struct {
			Channel string `json:"channel_name"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return rpcResponse{Error: err.Error()}
		}
		if err := b.reg.deregisterProducer(params.Channel); err != nil {
			return rpcResponse{Error: err.Error()}
		}
		return rpcResponse{}

	case "DeregisterConsumer":
		var params struct {
			Channel string `json:"channel_name"`
			PID     uint32 `json:"pid"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return rpcResponse{Error: err.Error()}
		}
		if err := b.reg.deregisterConsumer(params.Channel, params.PID); err != nil {
			return rpcResponse{Error: err.Error()}
		}
		return rpcResponse{}

	case "PublishEvent":
		var ev Event
		if err := json.Unmarshal(req.Params, &ev); err != nil {
			return rpcResponse{Error: err.Error()}
		}
		b.broadcast(ev)
		return rpcResponse{}

	default:
		return rpcResponse{Error: fmt.Sprintf("broker: unknown method %q", req.Method)}
	}
}

func (b *LocalBroker) broadcast(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.listeners {
		select {
		case ch <- ev:
		default:
			b.log.Warnw("broker: dropping event, subscriber channel full", "channel", ev.Channel, "kind", ev.Kind)
		}
	}
}

// Subscribe returns a channel of events broadcast by this LocalBroker:
// both those published in-process via Events and PublishEvent requests
// received over the socket. Used by callers that host the LocalBroker
// in-process and want to observe ConsumerDied / ChannelError without a
// round trip through the socket.
func (b *LocalBroker) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, 16)
	b.listeners = append(b.listeners, ch)
	return ch
}

// Close stops accepting connections, waits for in-flight requests to
// finish, and removes the socket file.
func (b *LocalBroker) Close() error {
	err := b.listener.Close()
	b.wg.Wait()
	os.Remove(b.sockPath)
	return err
}

// Events implements Broker.PublishEvent's in-process counterpart for a
// broker hosted in the same process as its caller (the common case for a
// single-host deployment): it broadcasts directly, bypassing the socket.
func (b *LocalBroker) Events(ev Event) {
	b.broadcast(ev)
}
