package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/btcrawl/crawlyd/internal/peerstore"
)

// fakeStore hands out a fixed batch of nodes exactly once, then empty
// batches, so a single tick is observable deterministically.
type fakeStore struct {
	peerstore.Store

	mu     sync.Mutex
	nodes  []peerstore.NodeToScan
	served bool
}

func (f *fakeStore) GetNodesToScan(context.Context, int) ([]peerstore.NodeToScan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.served {
		return nil, nil
	}
	f.served = true
	return f.nodes, nil
}

// trackingDispatcher counts concurrent and total dispatches, optionally
// blocking until released, to exercise the scheduler's concurrency bound.
type trackingDispatcher struct {
	release chan struct{}

	mu          sync.Mutex
	maxInFlight int32
	inFlight    int32
	total       int32
}

func (d *trackingDispatcher) Dispatch(ctx context.Context, node peerstore.NodeToScan) error {
	n := atomic.AddInt32(&d.inFlight, 1)
	defer atomic.AddInt32(&d.inFlight, -1)

	d.mu.Lock()
	if n > d.maxInFlight {
		d.maxInFlight = n
	}
	d.mu.Unlock()
	atomic.AddInt32(&d.total, 1)

	if d.release != nil {
		select {
		case <-d.release:
		case <-ctx.Done():
		}
	}

	return nil
}

func TestSchedulerTickDispatchesBatch(t *testing.T) {
	nodes := []peerstore.NodeToScan{
		{Address: "10.0.0.1:8333", Type: peerstore.AddrIPv4},
		{Address: "10.0.0.2:8333", Type: peerstore.AddrIPv4},
		{Address: "10.0.0.3:8333", Type: peerstore.AddrIPv4},
	}
	store := &fakeStore{nodes: nodes}
	dispatcher := &trackingDispatcher{}

	sched := New(store, dispatcher)

	require.NoError(t, sched.tick(context.Background()))
	require.Equal(t, int32(len(nodes)), atomic.LoadInt32(&dispatcher.total))

	// Second tick: store has nothing left to serve.
	require.NoError(t, sched.tick(context.Background()))
	require.Equal(t, int32(len(nodes)), atomic.LoadInt32(&dispatcher.total))
}

func TestSchedulerTickBoundsConcurrency(t *testing.T) {
	const n = 10
	nodes := make([]peerstore.NodeToScan, n)
	for i := range nodes {
		nodes[i] = peerstore.NodeToScan{Address: string(rune('a' + i)), Type: peerstore.AddrIPv4}
	}

	store := &fakeStore{nodes: nodes}
	release := make(chan struct{})
	dispatcher := &trackingDispatcher{release: release}

	sched := New(store, dispatcher)
	sched.sem = semaphore.NewWeighted(2) // shrink the bound so the test finishes quickly

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sched.tick(ctx) }()

	require.Eventually(t, func() bool {
		dispatcher.mu.Lock()
		defer dispatcher.mu.Unlock()
		return dispatcher.maxInFlight == 2
	}, time.Second, 5*time.Millisecond)

	close(release)
	<-done

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	require.LessOrEqual(t, dispatcher.maxInFlight, int32(2))
}
