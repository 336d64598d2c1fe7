// Package natmap is best-effort port mapping for the passive listener:
// it tries UPnP IGD first, then NAT-PMP via the local gateway, logging
// and giving up quietly if neither is available. Nothing else in the
// crawler depends on a successful mapping — it only improves the odds
// that the listener is actually reachable from the public internet.
package natmap

import (
	"context"
	"time"

	upnp "github.com/NebulousLabs/go-upnp"
	natpmp "github.com/jackpal/go-nat-pmp"
	"github.com/jackpal/gateway"

	"github.com/btcsuite/btclog"
)

var log = btclog.Disabled

// UseLogger sets the package-wide logger used by NAT traversal.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// leaseDuration is how long a NAT-PMP mapping is requested for. Map does
// not renew the lease; the mapping lapses unless Map is called again.
const leaseDuration = 1 * time.Hour

// discoverTimeout bounds how long UPnP gateway discovery is allowed to
// block startup.
const discoverTimeout = 5 * time.Second

// Mapping describes an established port forward, so the caller can log
// or later explicitly tear it down.
type Mapping struct {
	ExternalPort uint16
	Method       string
	unmap        func() error
}

// Close removes the mapping, if the underlying method supports it.
func (m *Mapping) Close() error {
	if m == nil || m.unmap == nil {
		return nil
	}
	return m.unmap()
}

// Map attempts to forward port externally via UPnP, falling back to
// NAT-PMP against the default gateway. A failure of both is logged and
// returns a nil *Mapping — passive reachability then depends on whatever
// the operator configured manually, which is an acceptable degraded mode.
func Map(ctx context.Context, port uint16) *Mapping {
	if m := mapUPnP(ctx, port); m != nil {
		return m
	}
	if m := mapNATPMP(port); m != nil {
		return m
	}

	log.Warnf("no NAT traversal method available; listener may be unreachable from outside the LAN")
	return nil
}

func mapUPnP(ctx context.Context, port uint16) *Mapping {
	dctx, cancel := context.WithTimeout(ctx, discoverTimeout)
	defer cancel()

	igd, err := upnp.DiscoverCtx(dctx)
	if err != nil {
		log.Debugf("upnp discover: %v", err)
		return nil
	}

	if err := igd.Forward(port, "btcrawl crawler listener"); err != nil {
		log.Debugf("upnp forward port %d: %v", port, err)
		return nil
	}

	log.Infof("mapped port %d via UPnP", port)
	return &Mapping{
		ExternalPort: port,
		Method:       "upnp",
		unmap: func() error {
			return igd.Clear(port)
		},
	}
}

func mapNATPMP(port uint16) *Mapping {
	gw, err := gateway.DiscoverGateway()
	if err != nil {
		log.Debugf("gateway discover: %v", err)
		return nil
	}

	client := natpmp.NewClient(gw)
	res, err := client.AddPortMapping("tcp", int(port), int(port), int(leaseDuration.Seconds()))
	if err != nil {
		log.Debugf("nat-pmp map port %d via %s: %v", port, gw, err)
		return nil
	}

	external := res.MappedExternalPort
	log.Infof("mapped port %d (external %d) via NAT-PMP on gateway %s", port, external, gw)

	return &Mapping{
		ExternalPort: external,
		Method:       "nat-pmp",
		unmap: func() error {
			_, err := client.AddPortMapping("tcp", int(port), 0, 0)
			return err
		},
	}
}

