// Package seed resolves the crawler's compile-time list of DNS seed
// hostnames at startup, per spec §4.8, priming an empty peer store.
package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/miekg/dns"

	"github.com/btcrawl/crawlyd/internal/peerstore"
)

// Port is the well-known Bitcoin mainnet port every seed-resolved
// endpoint is assumed to listen on.
const Port = 8333

// queryTimeout bounds a single A/AAAA lookup against one seed hostname.
const queryTimeout = 10 * time.Second

// Hostnames is the compile-time list of 10 DNS seed domains resolved at
// startup, mirroring the seed list bundled with Bitcoin Core.
var Hostnames = []string{
	"seed.bitcoin.sipa.be",
	"dnsseed.bluematt.me",
	"dnsseed.bitcoin.dashjr.org",
	"seed.bitcoinstats.com",
	"seed.bitcoin.jonasschnelli.ch",
	"seed.btc.petertodd.org",
	"seed.bitcoin.sprovoost.nl",
	"dnsseed.emzy.de",
	"seed.bitcoin.wiz.biz",
	"seed.mainnet.achownetwork.xyz",
}

// Resolver resolves seed hostnames to DiscoveredNode endpoints. The
// production implementation queries the system resolver's configured
// nameservers directly via miekg/dns rather than net.LookupHost, so it
// can distinguish A from AAAA answers without a second round trip.
type Resolver struct {
	client      *dns.Client
	nameservers []string
}

// NewResolver builds a Resolver from /etc/resolv.conf, falling back to a
// public resolver if the system config can't be read (e.g. minimal
// containers).
func NewResolver() (*Resolver, error) {
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	servers := []string{"1.1.1.1:53"}
	if err == nil && len(cfg.Servers) > 0 {
		servers = make([]string, len(cfg.Servers))
		for i, s := range cfg.Servers {
			servers[i] = fmt.Sprintf("%s:%s", s, cfg.Port)
		}
	}

	return &Resolver{
		client:      &dns.Client{Timeout: queryTimeout},
		nameservers: servers,
	}, nil
}

// ResolveAll queries every hostname in Hostnames for A and AAAA records
// and flattens the results into DiscoveredNode endpoints. A single
// hostname failing to resolve is logged and skipped; it does not abort
// the run.
func (r *Resolver) ResolveAll(ctx context.Context) []peerstore.DiscoveredNode {
	var out []peerstore.DiscoveredNode

	for _, host := range Hostnames {
		out = append(out, r.resolveOne(ctx, host)...)
	}

	return out
}

func (r *Resolver) resolveOne(ctx context.Context, host string) []peerstore.DiscoveredNode {
	var nodes []peerstore.DiscoveredNode

	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(host), qtype)

		reply, _, err := r.exchange(ctx, msg)
		if err != nil {
			log.Debugf("seed resolve %s (%d): %v", host, qtype, err)
			continue
		}

		for _, rr := range reply.Answer {
			switch rec := rr.(type) {
			case *dns.A:
				nodes = append(nodes, peerstore.DiscoveredNode{
					Type: peerstore.AddrIPv4,
					Addr: rec.A.String(),
					Port: Port,
				})
			case *dns.AAAA:
				nodes = append(nodes, peerstore.DiscoveredNode{
					Type: peerstore.AddrIPv6,
					Addr: rec.AAAA.String(),
					Port: Port,
				})
			}
		}
	}

	return nodes
}

func (r *Resolver) exchange(ctx context.Context, msg *dns.Msg) (*dns.Msg, time.Duration, error) {
	var lastErr error
	for _, ns := range r.nameservers {
		reply, rtt, err := r.client.ExchangeContext(ctx, msg, ns)
		if err == nil {
			return reply, rtt, nil
		}
		lastErr = err
	}
	return nil, 0, lastErr
}
