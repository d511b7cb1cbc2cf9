package datahub

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/qing-lab/datahub/internal/blds"
	"github.com/qing-lab/datahub/internal/diagnostics"
	"github.com/qing-lab/datahub/internal/segment"
	"github.com/qing-lab/datahub/internal/slot"
	"github.com/qing-lab/datahub/pkg/broker"
	dherrors "github.com/qing-lab/datahub/pkg/errors"
)

// consumerHeartbeatInterval is how often a Consumer's background goroutine
// beats its heartbeat entry between reads (spec §4.6).
const consumerHeartbeatInterval = 1 * time.Second

// ConsumerParams are the inputs to NewConsumer (spec §4.8 "Consumer
// factory"): broker reference, channel name, and the schema samples used
// to validate both BLDS fingerprints against whatever the producer
// registered.
type ConsumerParams struct {
	Broker          broker.Broker
	Channel         string
	Endpoint        string // overrides broker discovery when non-empty; mainly for tests
	FlexZoneSample  any
	DatablockSample any
	SchemaVersion   blds.Version
	PollTimeout     time.Duration
	Logger          *zap.SugaredLogger
}

// Consumer is an attached handle over a discovered segment (spec §4.8). It
// is safe for use by one goroutine at a time, same as Producer.
type Consumer struct {
	mu sync.Mutex

	channel string
	pid     uint32
	tid     uint64

	seg         *segment.Segment
	ring        *slot.Ring
	broker      broker.Broker
	log         *zap.SugaredLogger
	hbIndex     int
	checksumPol slot.ChecksumPolicy

	cancel context.CancelFunc
	group  *errgroup.Group
	closed bool
}

// NewConsumer implements spec §4.8's consumer factory: discover the
// channel via the broker, attach the segment, validate schemas, and
// register a heartbeat entry.
func NewConsumer(ctx context.Context, p ConsumerParams) (*Consumer, error) {
	log := p.Logger
	if log == nil {
		log = noopLogger()
	}
	if p.PollTimeout == 0 {
		p.PollTimeout = 5 * time.Second
	}

	flexInfo, err := schemaInfoOrEmpty(p.FlexZoneSample, p.SchemaVersion)
	if err != nil {
		return nil, dherrors.NewValidationError(dherrors.ErrorCodeInvalidConfig, "flex-zone type is not trivially copyable").
			WithDetail("cause", err.Error())
	}
	datablockInfo, err := blds.SchemaInfo(p.DatablockSample, p.SchemaVersion)
	if err != nil {
		return nil, dherrors.NewValidationError(dherrors.ErrorCodeInvalidConfig, "datablock type is not trivially copyable").
			WithDetail("cause", err.Error())
	}

	disc, err := p.Broker.Discover(ctx, p.Channel)
	if err != nil {
		return nil, dherrors.NewSegmentError(err, dherrors.ErrorCodeBrokerUnreachable, "discovering channel").
			WithChannel(p.Channel)
	}
	endpoint := p.Endpoint
	if endpoint == "" {
		endpoint = disc.Endpoint
	}

	seg, err := segment.Attach(ctx, segment.AttachParams{
		Path:                endpoint,
		SharedSecret:        disc.SharedSecret,
		FlexZoneSchemaHash:  flexInfo.Hash,
		DatablockSchemaHash: datablockInfo.Hash,
		PollTimeout:         p.PollTimeout,
		Logger:              log,
	})
	if err != nil {
		return nil, err
	}

	syncPolicy, checksumPolicy := unpackPolicyFlags(seg.Header.PolicyFlags)
	ring := slot.NewRingOver(&seg.Header.Indices, seg.Slots, syncPolicy)

	pid := currentPID()
	tid := nextTID()
	now := diagnostics.Now()
	_, idx, ok := seg.Header.ConsumerHBTable.Attach(pid, now, ring.Indices.CommitIndex())
	if !ok {
		seg.DetachConsumer()
		return nil, dherrors.NewSegmentError(nil, dherrors.ErrorCodeHeartbeatTableFull, "consumer heartbeat table is full").
			WithChannel(p.Channel)
	}

	if err := p.Broker.RegisterConsumer(ctx, p.Channel, pid); err != nil {
		seg.Header.ConsumerHBTable.Detach(idx)
		seg.DetachConsumer()
		return nil, dherrors.NewSegmentError(err, dherrors.ErrorCodeBrokerUnreachable, "registering consumer").
			WithChannel(p.Channel)
	}

	groupCtx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(groupCtx)

	cons := &Consumer{
		channel:     p.Channel,
		pid:         pid,
		tid:         tid,
		seg:         seg,
		ring:        ring,
		broker:      p.Broker,
		log:         log,
		hbIndex:     idx,
		checksumPol: checksumPolicy,
		cancel:      cancel,
		group:       group,
	}

	group.Go(func() error { return cons.heartbeatLoop(gctx) })

	log.Infow("consumer attached", "channel", cons.channel)
	return cons, nil
}

// heartbeatLoop beats this consumer's table entry on a fixed interval so a
// producer-side reclaim sweep does not mistake a slow-but-alive reader for
// a zombie (spec §4.6).
func (c *Consumer) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(consumerHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.seg.Header.ConsumerHBTable.Entry(c.hbIndex).Beat(diagnostics.Now())
		}
	}
}

// Channel returns the channel name this consumer attached to.
func (c *Consumer) Channel() string { return c.channel }

// RunReadTransaction implements spec §4.8's "read transaction
// (consumer-side scoped block)": fn receives a *ReadTransaction scoped to
// this call.
func (c *Consumer) RunReadTransaction(ctx context.Context, fn func(*ReadTransaction) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return dherrors.NewSegmentError(nil, dherrors.ErrorCodeSegmentDestroyed, "consumer is closed").WithChannel(c.channel)
	}

	txn := &ReadTransaction{c: c, ctx: ctx}
	return fn(txn)
}

// Close stops the heartbeat goroutine, clears this consumer's heartbeat
// entry, deregisters from the broker, and unmaps the segment (spec §4.2
// "Destruction (consumer)").
func (c *Consumer) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	c.cancel()
	_ = c.group.Wait()

	c.seg.Header.ConsumerHBTable.Detach(c.hbIndex)
	if err := c.broker.DeregisterConsumer(ctx, c.channel, c.pid); err != nil {
		c.log.Warnw("deregistering consumer failed", "channel", c.channel, "error", err)
	}
	return c.seg.DetachConsumer()
}
