package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// maxUserAgentLen bounds the user-agent string read from a hostile peer.
const maxUserAgentLen = 256

// VersionAddr is the fixed-width (no timestamp, no AddrV2 variants) address
// form embedded in a version message: services(8) + ip(16, v4-mapped for
// IPv4) + port(2, big-endian).
type VersionAddr struct {
	Services ServiceFlag
	IP       net.IP
	Port     uint16
}

func (a VersionAddr) encode(w io.Writer) error {
	var buf [26]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(a.Services))

	ip16 := a.IP.To16()
	if ip16 == nil {
		ip16 = net.IPv4zero.To16()
	}
	copy(buf[8:24], ip16)

	binary.BigEndian.PutUint16(buf[24:26], a.Port)

	_, err := w.Write(buf[:])
	return err
}

func decodeVersionAddr(r io.Reader) (VersionAddr, error) {
	var buf [26]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return VersionAddr{}, err
	}

	services := ServiceFlag(binary.LittleEndian.Uint64(buf[0:8]))
	ip := net.IP(append([]byte(nil), buf[8:24]...))
	port := binary.BigEndian.Uint16(buf[24:26])

	return VersionAddr{Services: services, IP: ip, Port: port}, nil
}

// MsgVersion is the handshake-opening message.
type MsgVersion struct {
	ProtocolVersion uint32
	Services        ServiceFlag
	Timestamp       int64
	AddrRecv        VersionAddr
	AddrFrom        VersionAddr
	Nonce           uint64
	UserAgent       string
	StartHeight     int32
	Relay           bool
}

// Encode serializes an outbound version message per spec §4.3.
func (m *MsgVersion) Encode() ([]byte, error) {
	var buf bytes.Buffer

	if err := binary.Write(&buf, binary.LittleEndian, int32(m.ProtocolVersion)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint64(m.Services)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, m.Timestamp); err != nil {
		return nil, err
	}
	if err := m.AddrRecv.encode(&buf); err != nil {
		return nil, err
	}
	if err := m.AddrFrom.encode(&buf); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, m.Nonce); err != nil {
		return nil, err
	}
	if err := writeVarString(&buf, m.UserAgent); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, m.StartHeight); err != nil {
		return nil, err
	}

	relay := byte(0)
	if m.Relay {
		relay = 1
	}
	buf.WriteByte(relay)

	return buf.Bytes(), nil
}

// DecodeVersion parses an inbound version message payload.
func DecodeVersion(payload []byte) (*MsgVersion, error) {
	r := bytes.NewReader(payload)

	var pver int32
	if err := binary.Read(r, binary.LittleEndian, &pver); err != nil {
		return nil, fmt.Errorf("%w: version.protocol_version: %v", ErrDecode, err)
	}

	var services uint64
	if err := binary.Read(r, binary.LittleEndian, &services); err != nil {
		return nil, fmt.Errorf("%w: version.services: %v", ErrDecode, err)
	}

	var ts int64
	if err := binary.Read(r, binary.LittleEndian, &ts); err != nil {
		return nil, fmt.Errorf("%w: version.timestamp: %v", ErrDecode, err)
	}

	addrRecv, err := decodeVersionAddr(r)
	if err != nil {
		return nil, fmt.Errorf("%w: version.addr_recv: %v", ErrDecode, err)
	}

	addrFrom, err := decodeVersionAddr(r)
	if err != nil {
		return nil, fmt.Errorf("%w: version.addr_from: %v", ErrDecode, err)
	}

	var nonce uint64
	if err := binary.Read(r, binary.LittleEndian, &nonce); err != nil {
		return nil, fmt.Errorf("%w: version.nonce: %v", ErrDecode, err)
	}

	ua, err := readVarString(r, maxUserAgentLen)
	if err != nil {
		return nil, fmt.Errorf("%w: version.user_agent: %v", ErrDecode, err)
	}

	var startHeight int32
	if err := binary.Read(r, binary.LittleEndian, &startHeight); err != nil {
		return nil, fmt.Errorf("%w: version.start_height: %v", ErrDecode, err)
	}

	relay := true
	if b, err := r.ReadByte(); err == nil {
		relay = b != 0
	}
	// Absence of the relay byte (pre-70001 peers) leaves relay at its
	// default of true; it's optional trailing data, not a decode error.

	return &MsgVersion{
		ProtocolVersion: uint32(pver),
		Services:        ServiceFlag(services),
		Timestamp:       ts,
		AddrRecv:        addrRecv,
		AddrFrom:        addrFrom,
		Nonce:           nonce,
		UserAgent:       ua,
		StartHeight:     startHeight,
		Relay:           relay,
	}, nil
}
