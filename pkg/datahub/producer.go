package datahub

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/qing-lab/datahub/internal/blds"
	"github.com/qing-lab/datahub/internal/diagnostics"
	"github.com/qing-lab/datahub/internal/heartbeat"
	"github.com/qing-lab/datahub/internal/segment"
	"github.com/qing-lab/datahub/internal/slot"
	"github.com/qing-lab/datahub/pkg/broker"
	"github.com/qing-lab/datahub/pkg/config"
	dherrors "github.com/qing-lab/datahub/pkg/errors"
)

// reclaimSweepInterval is how often a Producer's background goroutine
// sweeps the consumer heartbeat table for dead or stale entries (spec
// §4.6 "Zombie reclamation").
const reclaimSweepInterval = 1 * time.Second

// ProducerParams are the inputs to NewProducer (spec §4.8 "Producer
// factory"): broker reference, channel name (carried on Config), policy
// and sizing (Config), and explicit schema samples used to compute both
// BLDS fingerprints.
type ProducerParams struct {
	Broker          broker.Broker
	Config          *config.Config
	Endpoint        string // shared-memory segment backing file path
	FlexZoneSample  any    // zero value of the flex-zone type, or nil if FlexZoneSize == 0
	DatablockSample any    // zero value of the datablock (slot payload) type
	SchemaVersion   blds.Version
	Logger          *zap.SugaredLogger
}

// Producer is an owning handle over a created segment (spec §4.8). It is
// safe for use by one goroutine at a time; parallel writers need
// independent Producers is not supported by spec §5 ("One producer per
// segment").
type Producer struct {
	mu sync.Mutex

	channel string
	pid     uint32
	tid     uint64

	cfg    *config.Config
	seg    *segment.Segment
	ring   *slot.Ring
	broker broker.Broker
	log    *zap.SugaredLogger

	flexZoneInfo   blds.Info
	datablockInfo  blds.Info
	checksumPolicy slot.ChecksumPolicy

	cancel context.CancelFunc
	group  *errgroup.Group
	closed bool
}

// NewProducer implements spec §4.8's producer factory: validates config,
// creates the segment, initializes the header, and registers with the
// broker.
func NewProducer(ctx context.Context, p ProducerParams) (*Producer, error) {
	if p.Config == nil {
		return nil, dherrors.NewValidationError(dherrors.ErrorCodeInvalidConfig, "config is required")
	}
	if err := p.Config.Validate(); err != nil {
		return nil, err
	}
	log := p.Logger
	if log == nil {
		log = noopLogger()
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

	secret, err := generateSharedSecret()
	if err != nil {
		return nil, dherrors.NewSegmentError(err, dherrors.ErrorCodeIO, "generating shared secret")
	}

	seg, err := segment.Create(segment.CreateParams{
		Path:                p.Endpoint,
		Capacity:            p.Config.RingBufferCapacity,
		LogicalUnitSize:     p.Config.LogicalUnitSize,
		FlexZoneSize:        p.Config.FlexZoneSize,
		PhysicalPageSize:    uint64(p.Config.PhysicalPageSize),
		SharedSecret:        secret,
		FlexZoneSchemaHash:  flexInfo.Hash,
		DatablockSchemaHash: datablockInfo.Hash,
		SchemaVersion:       datablockInfo.Version.Pack(),
		PolicyFlags:         packPolicyFlags(p.Config.ConsumerSyncPolicy, p.Config.ChecksumPolicy),
		Logger:              log,
	})
	if err != nil {
		return nil, err
	}

	syncPolicy, checksumPolicy := unpackPolicyFlags(seg.Header.PolicyFlags)
	ring := slot.NewRingOver(&seg.Header.Indices, seg.Slots, syncPolicy)

	pid := currentPID()
	tid := nextTID()
	seg.Header.ProducerHB.Beat(pid, diagnostics.Now())

	if err := p.Broker.Register(ctx, broker.Registration{
		ChannelName:   p.Config.ChannelName,
		Endpoint:      p.Endpoint,
		SharedSecret:  secret,
		FlexZoneHash:  flexInfo.Hash,
		DatablockHash: datablockInfo.Hash,
		SchemaVersion: datablockInfo.Version.Pack(),
	}); err != nil {
		seg.DestroyProducer()
		return nil, dherrors.NewSegmentError(err, dherrors.ErrorCodeBrokerUnreachable, "registering producer").
			WithChannel(p.Config.ChannelName)
	}

	groupCtx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(groupCtx)

	prod := &Producer{
		channel:        p.Config.ChannelName,
		pid:            pid,
		tid:            tid,
		cfg:            p.Config,
		seg:            seg,
		ring:           ring,
		broker:         p.Broker,
		log:            log,
		flexZoneInfo:   flexInfo,
		datablockInfo:  datablockInfo,
		checksumPolicy: checksumPolicy,
		cancel:         cancel,
		group:          group,
	}

	group.Go(func() error { return prod.reclaimSweepLoop(gctx) })

	log.Infow("producer started", "channel", prod.channel, "capacity", p.Config.RingBufferCapacity)
	return prod, nil
}

func schemaInfoOrEmpty(sample any, version blds.Version) (blds.Info, error) {
	if sample == nil {
		return blds.Info{Version: version}, nil
	}
	return blds.SchemaInfo(sample, version)
}

func generateSharedSecret() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// reclaimSweepLoop periodically clears dead/stale consumer heartbeat
// entries (spec §4.6 "Zombie reclamation"), so a crashed consumer's
// next_read_slot stops counting toward Sync_reader's read_index the next
// time a live consumer recomputes it; the sweep itself does not move
// read_index. Grounded on lixiasky-back-coroTracer/main.go's
// `go tracer.Run()` background-goroutine pattern, generalized from one
// fixed harvest loop to an errgroup-supervised sweep this handle's Close
// cancels and waits on.
func (p *Producer) reclaimSweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(reclaimSweepInterval)
	defer ticker.Stop()
	staleAfter := int64(heartbeat.StaleAfterNanos)
	if p.cfg != nil && p.cfg.HeartbeatStaleAfter != 0 {
		staleAfter = int64(p.cfg.HeartbeatStaleAfter) * int64(time.Millisecond)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			reclaimed := p.seg.Header.ConsumerHBTable.ReclaimStale(diagnostics.Now(), staleAfter, isProcessAlive)
			if len(reclaimed) > 0 {
				p.log.Warnw("reclaimed stale consumer heartbeat entries", "channel", p.channel, "count", len(reclaimed))
			}
		}
	}
}

// FlexZoneInfo returns the schema fingerprint registered for the flex
// zone.
func (p *Producer) FlexZoneInfo() blds.Info { return p.flexZoneInfo }

// DatablockInfo returns the schema fingerprint registered for the
// ring-buffer payload type.
func (p *Producer) DatablockInfo() blds.Info { return p.datablockInfo }

// Channel returns the channel name this producer registered.
func (p *Producer) Channel() string { return p.channel }

// RunWriteTransaction implements spec §4.8's "write transaction
// (producer-side scoped block)": fn receives a *WriteTransaction scoped to
// this call; on fn's normal return, the end-of-transaction flex-zone
// checksum auto-flush runs (unless suppressed or already None policy).
// On fn's panic, the auto-flush is skipped and the panic propagates,
// matching "On exceptional exit, skip" (spec §4.4.1).
func (p *Producer) RunWriteTransaction(ctx context.Context, fn func(*WriteTransaction) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return dherrors.NewSegmentError(nil, dherrors.ErrorCodeSegmentDestroyed, "producer is closed").WithChannel(p.channel)
	}

	txn := &WriteTransaction{p: p, ctx: ctx}
	err := fn(txn)
	if err == nil {
		txn.autoFlushFlexZone()
	}
	return err
}

// Close stops the background sweeper, deregisters from the broker, and
// destroys the segment (spec §4.2 "Destruction (producer)").
func (p *Producer) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	p.cancel()
	_ = p.group.Wait()

	if err := p.broker.DeregisterProducer(ctx, p.channel); err != nil {
		p.log.Warnw("deregistering producer failed", "channel", p.channel, "error", err)
	}
	return p.seg.DestroyProducer()
}
