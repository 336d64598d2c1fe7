package peerstore

import (
	"context"
	"time"
)

// AddrType mirrors wire.AddrType without importing the wire package, to
// keep the store's contract independent of the codec. The store package
// is deliberately leaf-most: the wire, conversation, and ingest packages
// import it, not the reverse.
type AddrType string

const (
	AddrIPv4      AddrType = "ipv4"
	AddrIPv6      AddrType = "ipv6"
	AddrOnionV2   AddrType = "onionv2"
	AddrOnionV3   AddrType = "onionv3"
	AddrI2P       AddrType = "i2p"
	AddrCJDNS     AddrType = "cjdns"
	AddrYggdrasil AddrType = "yggdrasil"
)

// IsOnion reports whether t is one of the two onion address families,
// which drives the aggressive-pruning invariant of spec §3.
func (t AddrType) IsOnion() bool {
	return t == AddrOnionV2 || t == AddrOnionV3
}

// IsHiddenService reports whether t is reached via a SOCKS5 proxy
// (Tor or I2P), which drives the success-backoff window of spec §4.1.
func (t AddrType) IsHiddenService() bool {
	return t.IsOnion() || t == AddrI2P
}

// Peer is the primary entity of spec §3.
type Peer struct {
	Address             string
	Type                AddrType
	Port                uint16
	Services            string
	Added               time.Time
	Detected            time.Time
	Scanned             *time.Time
	Soft                string
	ProtocolVersion     *int32
	StartHeight         *int32
	Relay               *bool
	Incoming            *bool
	ConsecutiveFailures int32
	ReliabilityScore    int64
	NextAttemptTime     *time.Time
	Country, City, ISP  string
	Latitude, Longitude *float64
	ASN                 *int32
}

// DiscoveredNode is one parsed AddrV2 entry pending batch insert, per
// spec §3's transient DiscoveredNode entity.
type DiscoveredNode struct {
	Type     AddrType
	Addr     string
	Port     uint16
	Services string
}

// NodeToScan is a scheduler-selected job, the tagged union of spec §3's
// transient NodeToScan entity.
type NodeToScan struct {
	Address string
	Type    AddrType
	Host    string
	Port    uint16
}

// HandshakeInfo is the set of attributes learned from a peer's version
// message, shared by UpdateHandshakeInfo and UpdateInboundNodeInfo.
type HandshakeInfo struct {
	UserAgent       string
	Services        string
	ProtocolVersion int32
	StartHeight     int32
	Relay           bool
}

// Store is the persistent peer-store contract of spec §4.1/§6. Every
// operation returns a plain error; callers (workers, ingest pipeline)
// never treat a Store error as fatal — they log it and continue, per
// spec §7's StoreError taxonomy entry.
type Store interface {
	// Seed inserts each endpoint as an unknown-reliability peer, but
	// only if the store is currently empty.
	Seed(ctx context.Context, endpoints []DiscoveredNode) error

	// GetNodesToScan returns up to limit eligible peers ordered by
	// next_attempt_time ascending with NULL first, restricted to the
	// outbound-eligible address types (onionv2 excluded).
	GetNodesToScan(ctx context.Context, limit int) ([]NodeToScan, error)

	// Upsert inserts addr or, on conflict, refreshes only its Detected
	// timestamp.
	Upsert(ctx context.Context, typ AddrType, addr string, port uint16, services string) error

	// BatchUpsert applies Upsert semantics to many rows atomically.
	BatchUpsert(ctx context.Context, nodes []DiscoveredNode) error

	// UpdateHandshakeInfo records a completed handshake's attributes and
	// marks the peer reachable.
	UpdateHandshakeInfo(ctx context.Context, addr string, info HandshakeInfo) error

	// UpdateInboundNodeInfo is UpdateHandshakeInfo without touching
	// Incoming — the listener already knows the peer initiated.
	UpdateInboundNodeInfo(ctx context.Context, addr string, info HandshakeInfo) error

	// HandleSuccessfulConnection applies the success-side reliability
	// and backoff accounting of spec §4.1.
	HandleSuccessfulConnection(ctx context.Context, addr string) error

	// HandleFailedConnection applies the failure-side reliability and
	// backoff accounting of spec §4.1, including the deletion of onion
	// peers (not i2p) after repeated failures.
	HandleFailedConnection(ctx context.Context, addr string) error

	// CleanDB deletes peers not detected within the last 48 hours.
	CleanDB(ctx context.Context) (int64, error)

	// Close releases the store's underlying resources.
	Close()
}
