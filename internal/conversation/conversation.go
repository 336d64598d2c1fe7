// Package conversation drives one outbound handshake with a candidate
// peer: dial, version/verack exchange, addr harvesting, and the
// reliability accounting that follows. This is the crawler's analogue of
// lnd's peer state machine, cut down to the handful of messages a crawler
// speaks and terminating the instant it has what it came for: one batch
// of addresses.
package conversation

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/btcrawl/crawlyd/internal/clockrand"
	"github.com/btcrawl/crawlyd/internal/dialer"
	"github.com/btcrawl/crawlyd/internal/metrics"
	"github.com/btcrawl/crawlyd/internal/peerstore"
	"github.com/btcrawl/crawlyd/internal/wire"
)

// state names the outbound handshake's progression, per spec §4.4.
type state int

const (
	stateInit state = iota
	stateVersionSent
	stateVerackPhase
	stateGetAddrSent
	stateIngest
	stateDone
)

// GlobalDeadline bounds an entire conversation end to end, per spec §4.4.
const GlobalDeadline = 60 * time.Second

// UserAgent is advertised in the crawler's outbound version message, per
// spec §4.3 and the original source's hard-coded user_agent literal.
const UserAgent = "Crawly"

// Engine runs outbound conversations against scheduled peers.
type Engine struct {
	store    peerstore.Store
	dial     dialer.Dialer
	source   clockrand.Source
	selfAddr net.IP
}

// New returns a conversation Engine. selfAddr is the address advertised as
// addr_from in outbound version messages (spec §9's Open Question,
// resolved as the --selfaddress config flag); an unparseable or empty
// value falls back to 0.0.0.0, matching the spec's default.
func New(store peerstore.Store, dial dialer.Dialer, source clockrand.Source, selfAddr string) *Engine {
	ip := net.ParseIP(selfAddr)
	if ip == nil {
		ip = net.IPv4zero
	}
	return &Engine{store: store, dial: dial, source: source, selfAddr: ip}
}

// Result is what a conversation yields on success: the addresses its peer
// disclosed, ready for the ingest pipeline.
type Result struct {
	Peer      string
	Addresses []wire.NetAddr
}

// Run dials node, performs the handshake, and harvests the first batch of
// addresses it announces. Any failure — dial, protocol, or deadline —
// results in store.HandleFailedConnection and a non-nil error; the caller
// (the scheduler's worker) is expected to log and move on, never treat
// this as fatal to the crawl.
func (e *Engine) Run(ctx context.Context, node peerstore.NodeToScan) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, GlobalDeadline)
	defer cancel()

	conn, err := e.dialNode(ctx, node)
	if err != nil {
		log.Debugf("dial %s failed: %v", node.Address, err)
		_ = e.store.HandleFailedConnection(ctx, node.Address)
		metrics.ConversationsTotal.WithLabelValues(string(node.Type), "failure").Inc()
		return nil, fmt.Errorf("conversation: dial %s: %w", node.Address, err)
	}
	defer conn.Close()

	wc := wire.NewConn(conn)

	res, err := e.handshake(ctx, wc, node)
	if err != nil {
		log.Debugf("handshake with %s failed: %v", node.Address, err)
		_ = e.store.HandleFailedConnection(ctx, node.Address)
		metrics.ConversationsTotal.WithLabelValues(string(node.Type), "failure").Inc()
		return nil, err
	}

	metrics.ConversationsTotal.WithLabelValues(string(node.Type), "success").Inc()
	return res, nil
}

func (e *Engine) dialNode(ctx context.Context, node peerstore.NodeToScan) (net.Conn, error) {
	switch node.Type {
	case peerstore.AddrIPv4, peerstore.AddrIPv6:
		return e.dial.DialTCP(ctx, net.JoinHostPort(node.Host, portString(node.Port)))
	case peerstore.AddrOnionV3:
		return e.dial.DialTor(ctx, node.Host, node.Port)
	case peerstore.AddrI2P:
		return e.dial.DialI2P(ctx, node.Host, node.Port)
	default:
		return nil, fmt.Errorf("conversation: unsupported outbound address type %q", node.Type)
	}
}

// handshake runs the INIT -> VERSION_SENT -> VERACK_PHASE -> GETADDR_SENT
// -> INGEST -> DONE state machine of spec §4.4 against one connection.
func (e *Engine) handshake(ctx context.Context, wc *wire.Conn, node peerstore.NodeToScan) (*Result, error) {
	st := stateInit

	if err := e.sendVersion(ctx, wc, node); err != nil {
		return nil, fmt.Errorf("conversation: send version: %w", err)
	}
	st = stateVersionSent

	for {
		deadline, _ := ctx.Deadline()
		command, payload, err := wc.ReadFrame(deadline)
		if err != nil {
			return nil, fmt.Errorf("conversation: read frame (state %d): %w", st, err)
		}

		switch command {
		case wire.CmdVersion:
			ver, err := wire.DecodeVersion(payload)
			if err != nil {
				return nil, fmt.Errorf("conversation: decode version: %w", err)
			}

			info := peerstore.HandshakeInfo{
				UserAgent:       ver.UserAgent,
				Services:        ver.Services.String(),
				ProtocolVersion: int32(ver.ProtocolVersion),
				StartHeight:     ver.StartHeight,
				Relay:           ver.Relay,
			}
			if err := e.store.HandleSuccessfulConnection(ctx, node.Address); err != nil {
				log.Warnf("handle_successful_connection %s: %v", node.Address, err)
			}
			if err := e.store.UpdateHandshakeInfo(ctx, node.Address, info); err != nil {
				log.Warnf("update_handshake_info %s: %v", node.Address, err)
			}

			deadline, _ := ctx.Deadline()
			// sendaddrv2 must reach the peer before our verack: Bitcoin
			// Core only honors it if it precedes the verack that closes
			// version negotiation, per spec §4.4/§5.
			if err := wc.WriteFrame(deadline, wire.CmdSendAddrV2, wire.EncodeSendAddrV2()); err != nil {
				return nil, fmt.Errorf("conversation: send sendaddrv2: %w", err)
			}
			if err := wc.WriteFrame(deadline, wire.CmdVerAck, wire.EncodeVerAck()); err != nil {
				return nil, fmt.Errorf("conversation: send verack: %w", err)
			}
			st = stateVerackPhase

		case wire.CmdVerAck:
			if st == stateVersionSent {
				// A peer replying verack before its own version is a
				// protocol deviation: close and fail.
				return nil, fmt.Errorf("%w: verack before version", wire.ErrProtocolDeviation)
			}

			deadline, _ := ctx.Deadline()
			if err := wc.WriteFrame(deadline, wire.CmdGetAddr, wire.EncodeGetAddr()); err != nil {
				return nil, fmt.Errorf("conversation: send getaddr: %w", err)
			}
			st = stateGetAddrSent

		case wire.CmdPing:
			ping, err := wire.DecodePing(payload)
			if err != nil {
				return nil, fmt.Errorf("conversation: decode ping: %w", err)
			}
			deadline, _ := ctx.Deadline()
			if err := wc.WriteFrame(deadline, wire.CmdPong, wire.EncodePong(ping.Nonce)); err != nil {
				return nil, fmt.Errorf("conversation: send pong: %w", err)
			}

		case wire.CmdAddrV2:
			st = stateIngest
			addrs, err := wire.DecodeAddrV2(payload)
			if err != nil {
				return nil, fmt.Errorf("conversation: decode addrv2: %w", err)
			}
			st = stateDone
			return &Result{Peer: node.Address, Addresses: addrs}, nil

		case wire.CmdAddr:
			st = stateIngest
			entries, err := wire.DecodeAddr(payload)
			if err != nil {
				return nil, fmt.Errorf("conversation: decode addr: %w", err)
			}
			addrs := make([]wire.NetAddr, 0, len(entries))
			for _, ent := range entries {
				typ := wire.AddrIPv6
				ip4 := ent.Addr.IP.To4()
				host := ent.Addr.IP.String()
				if ip4 != nil {
					typ = wire.AddrIPv4
					host = ip4.String()
				}
				addrs = append(addrs, wire.NetAddr{
					Type:     typ,
					Addr:     host,
					Port:     ent.Addr.Port,
					Services: ent.Addr.Services,
					Time:     ent.Time,
				})
			}
			st = stateDone
			return &Result{Peer: node.Address, Addresses: addrs}, nil

		default:
			// Unrecognized command: ignore and keep reading, same
			// tolerance lnd's peer loop applies to messages it doesn't
			// act on.
		}
	}
}

func (e *Engine) sendVersion(ctx context.Context, wc *wire.Conn, node peerstore.NodeToScan) error {
	peerIP := net.ParseIP(node.Host)

	msg := &wire.MsgVersion{
		ProtocolVersion: wire.ProtocolVersion,
		Services:        wire.OutboundServices,
		Timestamp:       e.source.Now().Unix(),
		// addr_recv carries the peer's own address with NONE services
		// (we don't know what it offers yet); addr_from carries our
		// configured self address with the full service set we claim
		// to offer, per spec §4.3.
		AddrRecv:    wire.VersionAddr{Services: 0, IP: peerIP, Port: node.Port},
		AddrFrom:    wire.VersionAddr{Services: wire.OutboundServices, IP: e.selfAddr},
		Nonce:       e.source.Uint64(),
		UserAgent:   UserAgent,
		StartHeight: 0,
		Relay:       false,
	}

	payload, err := msg.Encode()
	if err != nil {
		return err
	}

	deadline, _ := ctx.Deadline()
	return wc.WriteFrame(deadline, wire.CmdVersion, payload)
}

func portString(port uint16) string {
	return fmt.Sprintf("%d", port)
}
