package wire

import (
	"encoding/base32"
	"fmt"
	"net"
)

// AddrType is the tagged union discriminant over the address families the
// crawler understands, per spec §3/§4.3. Modeled as a single enum with a
// normalize operation rather than an interface hierarchy per spec §9
// ("avoid inheritance").
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

// BIP 155 network IDs.
const (
	netIDIPv4      = 0x01
	netIDIPv6      = 0x02
	netIDTorV2     = 0x03
	netIDTorV3     = 0x04
	netIDI2P       = 0x05
	netIDCJDNS     = 0x06
	netIDYggdrasil = 0x07
)

// NetAddr is a decoded AddrV2 address-variant entry: a tagged union over
// the seven families plus the port and services carried alongside it on
// the wire. Addr is the canonical string form (dotted quad, bracket-free
// IPv6, or the relevant onion/b32 literal) — the same form persisted as
// Peer.address.
type NetAddr struct {
	Type     AddrType
	Addr     string
	Port     uint16
	Services ServiceFlag
	Time     uint32
}

var onionB32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// DecodeAddrVariant normalizes one BIP 155 (network ID, address bytes) pair
// into a NetAddr. ok is false (with no error) for Unknown variants that
// aren't the yggdrasil carve-out, which spec §4.3 says to silently discard.
func DecodeAddrVariant(netID byte, addr []byte) (NetAddr, bool, error) {
	switch netID {
	case netIDIPv4:
		if len(addr) != 4 {
			return NetAddr{}, false, fmt.Errorf("%w: ipv4 wants 4 bytes, got %d", ErrDecode, len(addr))
		}
		ip := net.IP(addr)
		return NetAddr{Type: AddrIPv4, Addr: ip.String()}, true, nil

	case netIDIPv6:
		if len(addr) != 16 {
			return NetAddr{}, false, fmt.Errorf("%w: ipv6 wants 16 bytes, got %d", ErrDecode, len(addr))
		}
		ip := net.IP(addr)
		return NetAddr{Type: AddrIPv6, Addr: ip.String()}, true, nil

	case netIDTorV2:
		if len(addr) != 10 {
			return NetAddr{}, false, fmt.Errorf("%w: onionv2 wants 10 bytes, got %d", ErrDecode, len(addr))
		}
		host := strLower(onionB32.EncodeToString(addr)) + ".onion"
		return NetAddr{Type: AddrOnionV2, Addr: host}, true, nil

	case netIDTorV3:
		if len(addr) != 32 {
			return NetAddr{}, false, fmt.Errorf("%w: onionv3 wants 32 bytes, got %d", ErrDecode, len(addr))
		}
		host, err := DeriveOnionV3(addr)
		if err != nil {
			return NetAddr{}, false, err
		}
		return NetAddr{Type: AddrOnionV3, Addr: host}, true, nil

	case netIDI2P:
		if len(addr) != 32 {
			return NetAddr{}, false, fmt.Errorf("%w: i2p wants 32 bytes, got %d", ErrDecode, len(addr))
		}
		host := strLower(onionB32.EncodeToString(addr)) + ".b32.i2p"
		return NetAddr{Type: AddrI2P, Addr: host}, true, nil

	case netIDCJDNS:
		if len(addr) != 16 {
			return NetAddr{}, false, fmt.Errorf("%w: cjdns wants 16 bytes, got %d", ErrDecode, len(addr))
		}
		ip := net.IP(addr)
		return NetAddr{Type: AddrCJDNS, Addr: ip.String()}, true, nil

	case netIDYggdrasil:
		if len(addr) != 16 {
			return NetAddr{}, false, fmt.Errorf("%w: yggdrasil wants 16 bytes, got %d", ErrDecode, len(addr))
		}
		ip := net.IP(addr)
		return NetAddr{Type: AddrYggdrasil, Addr: ip.String()}, true, nil

	default:
		// Unknown network ID other than the yggdrasil carve-out above:
		// discarded per spec §4.3.
		return NetAddr{}, false, nil
	}
}

func strLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
