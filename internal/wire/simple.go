package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// EncodeVerAck, EncodeSendAddrV2, and EncodeGetAddr all have empty payloads;
// they exist by name for symmetry with the command constants and to keep
// call sites self-documenting.

func EncodeVerAck() []byte     { return nil }
func EncodeSendAddrV2() []byte { return nil }
func EncodeGetAddr() []byte    { return nil }

// MsgPing/MsgPong carry an 8-byte nonce that must be echoed back.
type MsgPing struct {
	Nonce uint64
}

type MsgPong struct {
	Nonce uint64
}

func EncodePong(nonce uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, nonce)
	return buf
}

func DecodePing(payload []byte) (*MsgPing, error) {
	if len(payload) != 8 {
		return nil, fmt.Errorf("%w: ping payload must be 8 bytes, got %d", ErrDecode, len(payload))
	}
	return &MsgPing{Nonce: binary.LittleEndian.Uint64(payload)}, nil
}

// AddrEntry is one entry of a legacy "addr" message: a 4-byte timestamp
// followed by the same fixed-width address form used in version messages.
type AddrEntry struct {
	Time uint32
	Addr VersionAddr
}

// maxAddrEntries bounds the legacy addr message the same way Bitcoin Core
// does (1000 entries is the protocol-level cap).
const maxAddrEntries = 1000

// DecodeAddr parses a legacy "addr" message payload.
func DecodeAddr(payload []byte) ([]AddrEntry, error) {
	r := bytes.NewReader(payload)

	count, err := readVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("%w: addr.count: %v", ErrDecode, err)
	}
	if count > maxAddrEntries {
		return nil, fmt.Errorf("%w: addr.count %d exceeds max %d", ErrDecode, count, maxAddrEntries)
	}

	entries := make([]AddrEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		var ts uint32
		if err := binary.Read(r, binary.LittleEndian, &ts); err != nil {
			return nil, fmt.Errorf("%w: addr[%d].time: %v", ErrDecode, i, err)
		}

		addr, err := decodeVersionAddr(r)
		if err != nil {
			return nil, fmt.Errorf("%w: addr[%d].addr: %v", ErrDecode, i, err)
		}

		entries = append(entries, AddrEntry{Time: ts, Addr: addr})
	}

	return entries, nil
}
