package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// maxAddrV2Entries bounds the number of entries in a single addrv2 message
// the crawler will parse from one peer.
const maxAddrV2Entries = 1000

// maxAddrV2AddrLen bounds the address-byte length field per BIP 155 (the
// largest currently-defined variant, I2P/TorV3, is 32 bytes; anything
// wildly larger is either a future variant this crawler doesn't understand
// or a hostile peer).
const maxAddrV2AddrLen = 512

// DecodeAddrV2 parses an "addrv2" message payload into its NetAddr entries,
// applying BIP 155's per-entry encoding: time(4) + services(varint) +
// network_id(1) + addr_len(varint) + addr(addr_len) + port(2, big-endian).
//
// Entries whose network ID isn't recognized (ok=false from
// DecodeAddrVariant), or whose address bytes are malformed for their
// network ID, are skipped rather than failing the whole message. The skip
// is silent: nothing is logged here, and the returned slice gives the
// caller no count or record of the skipped entries.
func DecodeAddrV2(payload []byte) ([]NetAddr, error) {
	r := bytes.NewReader(payload)

	count, err := readVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("%w: addrv2.count: %v", ErrDecode, err)
	}
	if count > maxAddrV2Entries {
		return nil, fmt.Errorf("%w: addrv2.count %d exceeds max %d", ErrDecode, count, maxAddrV2Entries)
	}

	out := make([]NetAddr, 0, count)
	for i := uint64(0); i < count; i++ {
		var ts uint32
		if err := binary.Read(r, binary.LittleEndian, &ts); err != nil {
			return nil, fmt.Errorf("%w: addrv2[%d].time: %v", ErrDecode, i, err)
		}

		services, err := readVarInt(r)
		if err != nil {
			return nil, fmt.Errorf("%w: addrv2[%d].services: %v", ErrDecode, i, err)
		}

		netID, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: addrv2[%d].network_id: %v", ErrDecode, i, err)
		}

		addrLen, err := readVarInt(r)
		if err != nil {
			return nil, fmt.Errorf("%w: addrv2[%d].addr_len: %v", ErrDecode, i, err)
		}
		if addrLen > maxAddrV2AddrLen {
			return nil, fmt.Errorf("%w: addrv2[%d].addr_len %d exceeds max %d",
				ErrDecode, i, addrLen, maxAddrV2AddrLen)
		}

		addrBytes := make([]byte, addrLen)
		if _, err := io.ReadFull(r, addrBytes); err != nil {
			return nil, fmt.Errorf("%w: addrv2[%d].addr: %v", ErrDecode, i, err)
		}

		var port uint16
		if err := binary.Read(r, binary.BigEndian, &port); err != nil {
			return nil, fmt.Errorf("%w: addrv2[%d].port: %v", ErrDecode, i, err)
		}

		na, ok, err := DecodeAddrVariant(netID, addrBytes)
		if err != nil {
			// Malformed payload for a recognized network ID: skip this
			// entry rather than aborting the whole message or the
			// connection, per spec §4.7 step 4.
			continue
		}
		if !ok {
			continue
		}

		na.Time = ts
		na.Port = port
		na.Services = ServiceFlag(services)
		out = append(out, na)
	}

	return out, nil
}
