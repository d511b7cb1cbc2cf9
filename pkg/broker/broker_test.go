package broker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestBroker(t *testing.T) (*LocalBroker, *Client) {
	t.Helper()
	dir := t.TempDir()
	sock := filepath.Join(dir, "broker.sock")
	b, err := NewLocalBroker(LocalBrokerParams{
		SocketPath:   sock,
		RegistryPath: filepath.Join(dir, "registry.json"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	c := NewClient(sock)
	t.Cleanup(func() { c.Close() })
	return b, c
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRegisterThenDiscoverRoundTrip(t *testing.T) {
	_, c := startTestBroker(t)
	ctx := testCtx(t)

	reg := Registration{
		ChannelName:   "telemetry",
		Endpoint:      "/tmp/telemetry.seg",
		SharedSecret:  0xdeadbeef,
		SchemaVersion: 1,
	}
	require.NoError(t, c.Register(ctx, reg))

	d, err := c.Discover(ctx, "telemetry")
	require.NoError(t, err)
	assert.Equal(t, reg.Endpoint, d.Endpoint)
	assert.Equal(t, reg.SharedSecret, d.SharedSecret)
	assert.Zero(t, d.ConsumerCount)
}

func TestDiscoverUnknownChannelErrors(t *testing.T) {
	_, c := startTestBroker(t)
	_, err := c.Discover(testCtx(t), "nope")
	assert.Error(t, err)
}

func TestRegisterConsumerIncrementsCount(t *testing.T) {
	_, c := startTestBroker(t)
	ctx := testCtx(t)
	require.NoError(t, c.Register(ctx, Registration{ChannelName: "ch"}))
	require.NoError(t, c.RegisterConsumer(ctx, "ch", 101))
	require.NoError(t, c.RegisterConsumer(ctx, "ch", 102))

	d, err := c.Discover(ctx, "ch")
	require.NoError(t, err)
	assert.Equal(t, 2, d.ConsumerCount)

	require.NoError(t, c.DeregisterConsumer(ctx, "ch", 101))
	d, err = c.Discover(ctx, "ch")
	require.NoError(t, err)
	assert.Equal(t, 1, d.ConsumerCount)
}

func TestDeregisterProducerRemovesChannel(t *testing.T) {
	_, c := startTestBroker(t)
	ctx := testCtx(t)
	require.NoError(t, c.Register(ctx, Registration{ChannelName: "ch"}))
	require.NoError(t, c.DeregisterProducer(ctx, "ch"))

	_, err := c.Discover(ctx, "ch")
	assert.Error(t, err)
}

func TestPublishEventReachesSubscriber(t *testing.T) {
	b, c := startTestBroker(t)
	events := b.Subscribe()

	require.NoError(t, c.PublishEvent(testCtx(t), Event{
		Kind:    EventConsumerDied,
		Channel: "ch",
		PID:     42,
	}))

	select {
	case ev := <-events:
		assert.Equal(t, EventConsumerDied, ev.Kind)
		assert.EqualValues(t, 42, ev.PID)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestRegistryPersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	sock := filepath.Join(dir, "broker.sock")
	regPath := filepath.Join(dir, "registry.json")

	b1, err := NewLocalBroker(LocalBrokerParams{SocketPath: sock, RegistryPath: regPath})
	require.NoError(t, err)
	c1 := NewClient(sock)
	require.NoError(t, c1.Register(testCtx(t), Registration{ChannelName: "durable", Endpoint: "/tmp/x"}))
	require.NoError(t, c1.Close())
	require.NoError(t, b1.Close())

	b2, err := NewLocalBroker(LocalBrokerParams{SocketPath: sock, RegistryPath: regPath})
	require.NoError(t, err)
	defer b2.Close()
	c2 := NewClient(sock)
	defer c2.Close()

	d, err := c2.Discover(testCtx(t), "durable")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x", d.Endpoint)
}
