// Package scheduler is the crawl driver of spec §4.5: every tick it pulls
// a batch of due peers from the store and fans them out to a bounded pool
// of concurrent workers.
package scheduler

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/btcrawl/crawlyd/internal/metrics"
	"github.com/btcrawl/crawlyd/internal/peerstore"
)

// Interval is how often the scheduler polls the store for due peers.
const Interval = 10 * time.Second

// BatchSize is how many peers one tick pulls from the store.
const BatchSize = 100

// Concurrency bounds the number of conversations running at once, per
// spec §4.5 ("never more than 100 conversations in flight").
const Concurrency = 100

// Dispatcher runs one conversation against a scheduled node. Implementations
// own their own failure accounting (store.HandleFailedConnection) and
// ingest wiring; the scheduler's only job is concurrency control.
type Dispatcher interface {
	Dispatch(ctx context.Context, node peerstore.NodeToScan) error
}

// Scheduler is the crawl's outbound driver loop.
type Scheduler struct {
	store      peerstore.Store
	dispatcher Dispatcher

	interval  time.Duration
	batchSize int
	sem       *semaphore.Weighted
}

// New returns a Scheduler using the default interval, batch size, and
// concurrency bound.
func New(store peerstore.Store, dispatcher Dispatcher) *Scheduler {
	return &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		interval:   Interval,
		batchSize:  BatchSize,
		sem:        semaphore.NewWeighted(Concurrency),
	}
}

// Run drives the crawl until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				log.Errorf("scheduler tick: %v", err)
			}
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) error {
	nodes, err := s.store.GetNodesToScan(ctx, s.batchSize)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return nil
	}

	log.Debugf("scheduling %d nodes", len(nodes))

	// A zero-value errgroup.Group (not WithContext) is deliberate: one
	// peer's conversation failing must not cancel the others in flight.
	var g errgroup.Group

	for _, node := range nodes {
		node := node

		if err := s.sem.Acquire(ctx, 1); err != nil {
			// ctx canceled while waiting for a worker slot; stop
			// dispatching the rest of this batch.
			break
		}

		g.Go(func() error {
			metrics.InFlightConversations.Inc()
			defer metrics.InFlightConversations.Dec()
			defer s.sem.Release(1)

			if err := s.dispatcher.Dispatch(ctx, node); err != nil {
				log.Debugf("dispatch %s: %v", node.Address, err)
			}
			return nil
		})
	}

	return g.Wait()
}
