// Package crawlyd wires the crawler's components together: the peer
// store, scheduler, conversation engine, ingest pipeline, passive
// listener, and DNS seeding. It plays the role lnd.go/server.go play in
// the teacher repo — the top-level composition root — cut down to what
// a crawler needs.
package crawlyd

import (
	"context"
	"fmt"
	"time"

	"github.com/btcrawl/crawlyd/internal/clockrand"
	"github.com/btcrawl/crawlyd/internal/conversation"
	"github.com/btcrawl/crawlyd/internal/dialer"
	"github.com/btcrawl/crawlyd/internal/ingest"
	"github.com/btcrawl/crawlyd/internal/listener"
	"github.com/btcrawl/crawlyd/internal/natmap"
	"github.com/btcrawl/crawlyd/internal/peerstore"
	"github.com/btcrawl/crawlyd/internal/scheduler"
	"github.com/btcrawl/crawlyd/internal/seed"
)

// cleanupInterval is how often the expired-peer garbage collector runs.
const cleanupInterval = 1 * time.Hour

// Daemon owns every long-lived component of one crawler process.
type Daemon struct {
	cfg *Config

	store     *peerstore.Postgres
	scheduler *scheduler.Scheduler
	listener  *listener.Listener
	natMap    *natmap.Mapping

	cancel context.CancelFunc
}

// dispatcher adapts the conversation engine and ingest pipeline into the
// scheduler.Dispatcher interface, keeping the scheduler itself ignorant
// of the wire protocol or store details.
type dispatcher struct {
	engine *conversation.Engine
	ingest *ingest.Pipeline
}

func (d *dispatcher) Dispatch(ctx context.Context, node peerstore.NodeToScan) error {
	res, err := d.engine.Run(ctx, node)
	if err != nil {
		return err
	}
	if res == nil || len(res.Addresses) == 0 {
		return nil
	}
	return d.ingest.Ingest(ctx, res.Peer, res.Addresses)
}

// New builds a Daemon from cfg: connects the store (applying migrations),
// binds the listener (unless disabled), and wires the scheduler's
// dispatcher.
func New(ctx context.Context, cfg *Config) (*Daemon, error) {
	source := clockrand.New()

	store, err := peerstore.Open(ctx, cfg.PeerStoreDSN, source)
	if err != nil {
		return nil, fmt.Errorf("crawlyd: open peer store: %w", err)
	}

	dial := dialer.New(dialer.Config{
		TorProxyAddr: cfg.TorProxy,
		I2PProxyAddr: cfg.I2PProxy,
	})

	engine := conversation.New(store, dial, source, cfg.SelfAddress)
	pipeline := ingest.New(store, source)
	sched := scheduler.New(store, &dispatcher{engine: engine, ingest: pipeline})

	d := &Daemon{cfg: cfg, store: store, scheduler: sched}

	if !cfg.NoListen {
		ln, err := listener.Listen(store)
		if err != nil {
			// A bind failure disables passive mode for the run but
			// must not be fatal to the crawler, per spec §7's
			// ListenerAcceptError entry.
			log.Errorf("listener bind failed, passive mode disabled: %v", err)
		} else {
			d.listener = ln
			if !cfg.NoNAT {
				d.natMap = natmap.Map(ctx, ln.Port())
			}
		}
	}

	return d, nil
}

// Seed primes an empty store with the compiled-in DNS seed list, per
// spec §4.8.
func (d *Daemon) Seed(ctx context.Context) error {
	resolver, err := seed.NewResolver()
	if err != nil {
		return fmt.Errorf("crawlyd: build seed resolver: %w", err)
	}

	endpoints := resolver.ResolveAll(ctx)
	if len(endpoints) == 0 {
		return fmt.Errorf("crawlyd: dns seeding resolved no endpoints")
	}

	return d.store.Seed(ctx, endpoints)
}

// Run starts the scheduler, listener, and cleanup loops. It blocks until
// ctx is canceled and returns once the scheduler loop has observed the
// cancellation. The listener and cleanup goroutines stop on their own at
// their next iteration boundary; Run does not wait for them.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	stop := make(chan struct{})

	if d.listener != nil {
		go func() {
			<-ctx.Done()
			d.listener.Close()
		}()
		go d.listener.Serve(stop)
	}

	go d.cleanupLoop(ctx)

	log.Infof("crawler running (listen=%v nat=%v)", d.listener != nil, d.natMap != nil)
	err := d.scheduler.Run(ctx)
	close(stop)

	return err
}

// Shutdown releases the daemon's resources. Inflight conversation tasks
// are not individually canceled; the 60-second per-conversation deadline
// bounds drain time after Run returns.
func (d *Daemon) Shutdown() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.natMap != nil {
		if err := d.natMap.Close(); err != nil {
			log.Warnf("tear down nat mapping: %v", err)
		}
	}
	if d.listener != nil {
		d.listener.Close()
	}
	d.store.Close()
}

func (d *Daemon) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := d.store.CleanDB(ctx)
			if err != nil {
				log.Warnf("clean_db: %v", err)
				continue
			}
			if n > 0 {
				log.Infof("clean_db removed %d stale peers", n)
			}
		}
	}
}
