package broker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"
)

// Client is a Broker implementation that talks to a LocalBroker over its
// Unix domain socket. One Client serializes all requests on a single
// connection, reconnecting lazily if the connection drops.
type Client struct {
	sockPath string

	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Scanner
}

// NewClient returns a Broker bound to the control socket at sockPath. The
// connection is established lazily on the first call.
func NewClient(sockPath string) *Client {
	return &Client{sockPath: sockPath}
}

func (c *Client) ensureConn() error {
	if c.conn != nil {
		return nil
	}
	conn, err := net.Dial("unix", c.sockPath)
	if err != nil {
		return channelBrokerUnreachable(err)
	}
	c.conn = conn
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	c.r = scanner
	return nil
}

func channelBrokerUnreachable(cause error) error {
	return fmt.Errorf("broker: dial failed: %w", cause)
}

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConn(); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	req := rpcRequest{Method: method, Params: raw}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	line = append(line, '\n')

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
	} else {
		c.conn.SetDeadline(time.Time{})
	}

	if _, err := c.conn.Write(line); err != nil {
		c.conn.Close()
		c.conn = nil
		return nil, channelBrokerUnreachable(err)
	}
	if !c.r.Scan() {
		c.conn.Close()
		c.conn = nil
		return nil, channelBrokerUnreachable(c.r.Err())
	}

	var resp rpcResponse
	if err := json.Unmarshal(c.r.Bytes(), &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("broker: %s", resp.Error)
	}
	return resp.Result, nil
}

func (c *Client) Register(ctx context.Context, reg Registration) error {
	_, err := c.call(ctx, "Register", reg)
	return err
}

func (c *Client) Discover(ctx context.Context, channel string) (Discovery, error) {
	raw, err := c.call(ctx, "Discover", struct {
		Channel string `json:"channel_name"`
	}{channel})
	if err != nil {
		return Discovery{}, err
	}
	var d Discovery
	if err := json.Unmarshal(raw, &d); err != nil {
		return Discovery{}, err
	}
	return d, nil
}

func (c *Client) RegisterConsumer(ctx context.Context, channel string, pid uint32) error {
	_, err := c.call(ctx, "RegisterConsumer", struct {
		Channel string `json:"channel_name"`
		PID     uint32 `json:"pid"`
	}{channel, pid})
	return err
}

func (c *Client) DeregisterProducer(ctx context.Context, channel string) error {
	_, err := c.call(ctx, "DeregisterProducer", struct {
		Channel string `json:"channel_name"`
	}{channel})
	return err
}

func (c *Client) DeregisterConsumer(ctx context.Context, channel string, pid uint32) error {
	_, err := c.call(ctx, "DeregisterConsumer", struct {
		Channel string `json:"channel_name"`
		PID     uint32 `json:"pid"`
	}{channel, pid})
	return err
}

func (c *Client) PublishEvent(ctx context.Context, ev Event) error {
	_, err := c.call(ctx, "PublishEvent", ev)
	return err
}

// Close closes the underlying connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

var _ Broker = (*Client)(nil)
