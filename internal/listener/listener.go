// Package listener implements the passive reachability probe of spec
// §4.5: a short-lived handler per inbound connection whose only purpose
// is to observe a version frame and record the peer as reachable. It
// never completes the handshake.
package listener

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/btcrawl/crawlyd/internal/metrics"
	"github.com/btcrawl/crawlyd/internal/peerstore"
	"github.com/btcrawl/crawlyd/internal/wire"
)

// Addr is the dual-stack bind address for the Bitcoin port.
const Addr = "0.0.0.0:8333"

// FirstFrameDeadline bounds how long a connection has to present its
// version frame before the handler gives up and closes.
const FirstFrameDeadline = 30 * time.Second

// MaxFirstFramePayload is the strict cap on the one frame the listener
// ever reads, tighter than the codec's general MaxPayloadLength.
const MaxFirstFramePayload = 1024

// Listener accepts inbound connections and records reachability.
type Listener struct {
	store peerstore.Store
	ln    net.Listener
}

// Listen binds Addr. A bind failure disables passive mode for the run
// (logged by the caller) but must not be treated as fatal to the crawler,
// per spec §7's ListenerAcceptError entry.
func Listen(store peerstore.Store) (*Listener, error) {
	ln, err := net.Listen("tcp", Addr)
	if err != nil {
		return nil, err
	}
	return &Listener{store: store, ln: ln}, nil
}

// Addr returns the bound address, useful once a NAT mapper needs the
// actual listening port.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Port returns the bound TCP port, for handing to a NAT mapper.
func (l *Listener) Port() uint16 {
	if tcpAddr, ok := l.ln.Addr().(*net.TCPAddr); ok {
		return uint16(tcpAddr.Port)
	}
	return 0
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Serve accepts connections until Close is called or stop fires.
func (l *Listener) Serve(stop <-chan struct{}) {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Errorf("accept: %v", err)
			continue
		}

		go l.handle(conn)
	}
}

func (l *Listener) handle(conn net.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()

	wc := wire.NewConn(conn)
	wc.MaxPayload = MaxFirstFramePayload

	deadline := time.Now().Add(FirstFrameDeadline)
	command, payload, err := wc.ReadFrame(deadline)
	if err != nil {
		log.Debugf("inbound %s: first frame error: %v", remote, err)
		metrics.InboundConnections.WithLabelValues("dropped").Inc()
		return
	}

	if command != wire.CmdVersion {
		log.Debugf("inbound %s: first frame was %q, not version; dropping", remote, command)
		metrics.InboundConnections.WithLabelValues("dropped").Inc()
		return
	}

	ver, err := wire.DecodeVersion(payload)
	if err != nil {
		log.Debugf("inbound %s: malformed version: %v", remote, err)
		metrics.InboundConnections.WithLabelValues("dropped").Inc()
		return
	}

	addr := peerstore.NormalizeAddress(remote)
	info := peerstore.HandshakeInfo{
		UserAgent:       ver.UserAgent,
		Services:        ver.Services.String(),
		ProtocolVersion: int32(ver.ProtocolVersion),
		StartHeight:     ver.StartHeight,
		Relay:           ver.Relay,
	}

	if err := l.store.UpdateInboundNodeInfo(context.Background(), addr, info); err != nil {
		log.Warnf("inbound %s: update_inbound_node_info: %v", remote, err)
		metrics.StoreErrors.WithLabelValues("update_inbound_node_info").Inc()
	}

	metrics.InboundConnections.WithLabelValues("reachable").Inc()
	log.Infof("inbound reachability confirmed for %s (%s)", addr, ver.UserAgent)
	// Deliberately no verack: the connection's purpose is evidence of
	// reachability, not protocol participation, per spec §4.5.
}
