package ingest_test

import (
	"context"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"

	"github.com/btcrawl/crawlyd/internal/clockrand"
	"github.com/btcrawl/crawlyd/internal/ingest"
	"github.com/btcrawl/crawlyd/internal/peerstore"
	"github.com/btcrawl/crawlyd/internal/wire"
)

// fakeStore records every BatchUpsert call so tests can assert on what
// survived the filter pipeline without a real Postgres instance.
type fakeStore struct {
	peerstore.Store
	batches [][]peerstore.DiscoveredNode
	fail    int
}

func (f *fakeStore) BatchUpsert(_ context.Context, nodes []peerstore.DiscoveredNode) error {
	if f.fail > 0 {
		f.fail--
		return deadlockErr{}
	}
	f.batches = append(f.batches, nodes)
	return nil
}

type deadlockErr struct{}

func (deadlockErr) Error() string { return "simulated deadlock" }
func (deadlockErr) Deadlock() bool { return true }

func TestIngestFilterBoundaries(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	source := clockrand.NewWithClock(clock.NewTestClock(now))
	store := &fakeStore{}
	p := ingest.New(store, source)

	addrs := []wire.NetAddr{
		{Type: wire.AddrIPv4, Addr: "10.0.0.1", Port: 8333, Time: uint32(now.Unix())},
		{Type: wire.AddrIPv6, Addr: "::1", Port: 8333, Time: uint32(now.Add(-72 * time.Hour).Unix())},      // stale
		{Type: wire.AddrOnionV3, Addr: "x.onion", Port: 8333, Time: uint32(now.Add(2 * time.Hour).Unix())}, // attack
		{Type: wire.AddrI2P, Addr: "y.b32.i2p", Port: 0, Time: uint32(now.Unix())},                         // port defaulting
	}

	err := p.Ingest(context.Background(), "peer1", addrs)
	require.NoError(t, err)
	require.Len(t, store.batches, 1)

	got := store.batches[0]
	require.Len(t, got, 2)

	byAddr := make(map[string]peerstore.DiscoveredNode, len(got))
	for _, n := range got {
		byAddr[n.Addr] = n
	}

	require.Contains(t, byAddr, "10.0.0.1")
	require.Contains(t, byAddr, "y.b32.i2p")
	require.Equal(t, uint16(8333), byAddr["y.b32.i2p"].Port)
	require.NotContains(t, byAddr, "::1")
	require.NotContains(t, byAddr, "x.onion")
}

func TestIngestNearFutureClamp(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	source := clockrand.NewWithClock(clock.NewTestClock(now))
	store := &fakeStore{}
	p := ingest.New(store, source)

	addrs := []wire.NetAddr{
		{Type: wire.AddrIPv4, Addr: "10.0.0.2", Port: 8333, Time: uint32(now.Add(600 * time.Second).Unix())},
		{Type: wire.AddrIPv4, Addr: "10.0.0.3", Port: 8333, Time: uint32(now.Add(601 * time.Second).Unix())},
		{Type: wire.AddrIPv4, Addr: "10.0.0.4", Port: 8333, Time: uint32(now.Add(3601 * time.Second).Unix())},
	}

	require.NoError(t, p.Ingest(context.Background(), "peer1", addrs))
	require.Len(t, store.batches, 1)
	require.Len(t, store.batches[0], 2) // .4 (3601s future) rejected outright
}

func TestIngestDedupWithinBatch(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	source := clockrand.NewWithClock(clock.NewTestClock(now))
	store := &fakeStore{}
	p := ingest.New(store, source)

	addrs := []wire.NetAddr{
		{Type: wire.AddrIPv4, Addr: "10.0.0.1", Port: 8333, Time: uint32(now.Unix())},
		{Type: wire.AddrIPv4, Addr: "10.0.0.1", Port: 8333, Time: uint32(now.Unix())},
	}

	require.NoError(t, p.Ingest(context.Background(), "peer1", addrs))
	require.Len(t, store.batches[0], 1)
}

func TestIngestDeadlockRetry(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	source := clockrand.NewWithClock(clock.NewTestClock(now))
	store := &fakeStore{fail: 2}
	p := ingest.New(store, source)

	addrs := []wire.NetAddr{
		{Type: wire.AddrIPv4, Addr: "10.0.0.1", Port: 8333, Time: uint32(now.Unix())},
	}

	require.NoError(t, p.Ingest(context.Background(), "peer1", addrs))
	require.Len(t, store.batches, 1)
}
