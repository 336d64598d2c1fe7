// Package ingest turns one conversation's disclosed addresses into
// store rows, applying the admission-control filters of spec §4.7:
// reject far-future timestamps, clamp near-future ones, discard stale
// entries, default well-known ports for the transports that omit them,
// and deduplicate before the batch write.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcrawl/crawlyd/internal/clockrand"
	"github.com/btcrawl/crawlyd/internal/metrics"
	"github.com/btcrawl/crawlyd/internal/peerstore"
	"github.com/btcrawl/crawlyd/internal/wire"
)

// Filter window constants, per spec §4.7 step 3.
const (
	futureRejectWindow = 1 * time.Hour
	nearFutureWindow   = 10 * time.Minute
	staleWindow        = 48 * time.Hour
)

// batchChunkSize is how many rows go into a single BatchUpsert call.
const batchChunkSize = 50

// maxRetries bounds the deadlock-retry loop of step 7.
const maxRetries = 3

// retryBackoffMin/Max are the randomized retry backoff window, per spec
// §4.7 step 7.
const (
	retryBackoffMin = 100 * time.Millisecond
	retryBackoffMax = 600 * time.Millisecond
)

// defaultPort is applied to address families whose AddrV2 entries
// routinely omit a port.
const defaultPort = 8333

// Pipeline turns decoded wire addresses into persisted peers.
type Pipeline struct {
	store  peerstore.Store
	source clockrand.Source
}

// New returns an ingest Pipeline.
func New(store peerstore.Store, source clockrand.Source) *Pipeline {
	return &Pipeline{store: store, source: source}
}

// Ingest filters, deduplicates, and persists addrs, the set disclosed by
// one peer's addr/addrv2 message.
func (p *Pipeline) Ingest(ctx context.Context, from string, addrs []wire.NetAddr) error {
	filtered := p.filter(addrs)
	nodes := dedup(filtered)

	metrics.AddrEntriesIngested.WithLabelValues("kept").Add(float64(len(nodes)))
	metrics.AddrEntriesIngested.WithLabelValues("dropped").Add(float64(len(addrs) - len(filtered)))

	if len(nodes) == 0 {
		log.Debugf("%s disclosed no admissible addresses", from)
		return nil
	}

	log.Debugf("%s disclosed %d addresses (%d after filtering)", from, len(addrs), len(nodes))

	for i := 0; i < len(nodes); i += batchChunkSize {
		end := i + batchChunkSize
		if end > len(nodes) {
			end = len(nodes)
		}
		if err := p.upsertWithRetry(ctx, nodes[i:end]); err != nil {
			return fmt.Errorf("ingest: batch upsert: %w", err)
		}
	}

	return nil
}

func (p *Pipeline) filter(addrs []wire.NetAddr) []wire.NetAddr {
	now := p.source.Now()
	futureCutoff := now.Add(futureRejectWindow).Unix()
	nearFutureCutoff := now.Add(nearFutureWindow).Unix()
	staleCutoff := now.Add(-staleWindow).Unix()
	nowUnix := now.Unix()

	out := make([]wire.NetAddr, 0, len(addrs))
	for _, a := range addrs {
		t := int64(a.Time)

		if t > futureCutoff {
			// Attack-grade future timestamp: reject outright.
			continue
		}
		if t > nowUnix && t <= nearFutureCutoff {
			// Plausible clock skew: clamp to now rather than reject.
			a.Time = uint32(nowUnix)
			t = nowUnix
		}
		if t < staleCutoff {
			continue
		}

		a.Port = defaultPortFor(a.Type, a.Port)
		out = append(out, a)
	}

	return out
}

func defaultPortFor(typ wire.AddrType, port uint16) uint16 {
	if port != 0 {
		return port
	}
	switch typ {
	case wire.AddrI2P, wire.AddrOnionV2:
		return defaultPort
	default:
		return port
	}
}

func dedup(addrs []wire.NetAddr) []peerstore.DiscoveredNode {
	seen := make(map[string]struct{}, len(addrs))
	out := make([]peerstore.DiscoveredNode, 0, len(addrs))

	for _, a := range addrs {
		if _, ok := seen[a.Addr]; ok {
			continue
		}
		seen[a.Addr] = struct{}{}

		out = append(out, peerstore.DiscoveredNode{
			Type:     peerstore.AddrType(a.Type),
			Addr:     a.Addr,
			Port:     a.Port,
			Services: a.Services.String(),
		})
	}

	return out
}

func (p *Pipeline) upsertWithRetry(ctx context.Context, nodes []peerstore.DiscoveredNode) error {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := p.store.BatchUpsert(ctx, nodes)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isDeadlock(err) {
			return err
		}

		backoff := p.source.Jitter(retryBackoffMin, retryBackoffMax)
		log.Debugf("batch upsert deadlock, retrying in %s (attempt %d/%d)", backoff, attempt+1, maxRetries)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("exhausted %d retries: %w", maxRetries, lastErr)
}

// temporaryDeadlock is implemented by any BatchUpsert error that wants to
// self-identify as a retryable deadlock without the caller needing to know
// about *pgconn.PgError — tests use it to simulate one.
type temporaryDeadlock interface {
	Deadlock() bool
}

// isDeadlock classifies a BatchUpsert error as retryable.
func isDeadlock(err error) bool {
	var dl temporaryDeadlock
	if errors.As(err, &dl) {
		return dl.Deadlock()
	}
	return peerstore.IsDeadlock(err)
}
