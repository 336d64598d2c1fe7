package wire

import (
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	payload := []byte("hello bitcoin")
	require.NoError(t, WriteFrame(&buf, CmdPing, payload))

	cmd, got, err := ReadFrame(&buf, MaxPayloadLength)
	require.NoError(t, err)
	require.Equal(t, CmdPing, cmd)
	require.Equal(t, payload, got)
}

func TestFrameRejectsOversizePayload(t *testing.T) {
	var buf bytes.Buffer

	// Hand-craft a header claiming a payload of MaxPayloadLength+1 bytes
	// without actually writing that many bytes, mirroring a hostile peer
	// that lies about its frame length (spec §8 boundary: 1,000,001 is
	// rejected).
	hdr := make([]byte, HeaderSize)
	copy(hdr, []byte{0xf9, 0xbe, 0xb4, 0xd9})
	copy(hdr[4:16], []byte(CmdPing))
	hdr[16] = 0x41 // length = MaxPayloadLength + 1 = 0x000f4241, little-endian uint32
	hdr[17] = 0x42
	hdr[18] = 0x0f
	hdr[19] = 0x00
	buf.Write(hdr)

	_, _, err := ReadFrame(&buf, MaxPayloadLength)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestFrameAcceptsExactlyMaxPayload(t *testing.T) {
	var buf bytes.Buffer

	payload := make([]byte, MaxPayloadLength)
	require.NoError(t, WriteFrame(&buf, CmdAddr, payload))

	cmd, got, err := ReadFrame(&buf, MaxPayloadLength)
	require.NoError(t, err)
	require.Equal(t, CmdAddr, cmd)
	require.Len(t, got, MaxPayloadLength)
}

func TestListenerFirstFrameBoundary(t *testing.T) {
	const listenerLimit = 1024

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, CmdVersion, make([]byte, listenerLimit)))
	_, _, err := ReadFrame(&buf, listenerLimit)
	require.NoError(t, err)

	buf.Reset()
	require.NoError(t, WriteFrame(&buf, CmdVersion, make([]byte, listenerLimit+1)))
	_, _, err = ReadFrame(&buf, listenerLimit)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestVersionRoundTrip(t *testing.T) {
	v := &MsgVersion{
		ProtocolVersion: ProtocolVersion,
		Services:        OutboundServices,
		Timestamp:       1_700_000_000,
		AddrRecv:        VersionAddr{IP: net.ParseIP("203.0.113.5"), Port: 8333},
		AddrFrom:        VersionAddr{Services: OutboundServices, IP: net.IPv4zero, Port: 8333},
		Nonce:           0xdeadbeefcafef00d,
		UserAgent:       "/Crawly:0.1.0/",
		StartHeight:     0,
		Relay:           true,
	}

	payload, err := v.Encode()
	require.NoError(t, err)

	got, err := DecodeVersion(payload)
	require.NoError(t, err)

	require.Equal(t, v.ProtocolVersion, got.ProtocolVersion)
	require.Equal(t, v.Services, got.Services)
	require.Equal(t, v.Timestamp, got.Timestamp)
	require.Equal(t, v.Nonce, got.Nonce)
	require.Equal(t, v.UserAgent, got.UserAgent)
	require.Equal(t, v.StartHeight, got.StartHeight)
	require.Equal(t, v.Relay, got.Relay)
	require.True(t, got.AddrRecv.IP.Equal(v.AddrRecv.IP))
	require.Equal(t, v.AddrRecv.Port, got.AddrRecv.Port)
}

func TestDecodeAddrVariants(t *testing.T) {
	tests := []struct {
		name    string
		netID   byte
		addr    []byte
		wantTyp AddrType
	}{
		{"ipv4", netIDIPv4, []byte{192, 0, 2, 1}, AddrIPv4},
		{"ipv6", netIDIPv6, net.ParseIP("2001:db8::1").To16(), AddrIPv6},
		{"cjdns", netIDCJDNS, net.ParseIP("fc00:1234::1").To16(), AddrCJDNS},
		{"yggdrasil", netIDYggdrasil, net.ParseIP("0200:1234::1").To16(), AddrYggdrasil},
		{"i2p", netIDI2P, make([]byte, 32), AddrI2P},
		{"onionv2", netIDTorV2, make([]byte, 10), AddrOnionV2},
		{"onionv3", netIDTorV3, make([]byte, 32), AddrOnionV3},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			na, ok, err := DecodeAddrVariant(tc.netID, tc.addr)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, tc.wantTyp, na.Type)
		})
	}
}

func TestDecodeAddrVariantUnknownDiscarded(t *testing.T) {
	na, ok, err := DecodeAddrVariant(0x99, []byte{1, 2, 3})
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, na)
}

func TestOnionV3ZeroPubkey(t *testing.T) {
	pub := make([]byte, 32)
	host, err := DeriveOnionV3(pub)
	require.NoError(t, err)
	require.Len(t, host, 56+len(".onion"))

	gotPub, ok := VerifyOnionV3(host)
	require.True(t, ok)
	require.Equal(t, pub, gotPub)
}

func TestOnionV3DeterministicAndChecksumSelfConsistent(t *testing.T) {
	pub := make([]byte, 32)
	for i := range pub {
		pub[i] = byte(i)
	}

	host1, err := DeriveOnionV3(pub)
	require.NoError(t, err)
	host2, err := DeriveOnionV3(pub)
	require.NoError(t, err)
	require.Equal(t, host1, host2)

	suffix := ".onion"
	require.Equal(t, suffix, host1[len(host1)-len(suffix):])
	require.Len(t, host1, 56+len(suffix))

	_, ok := VerifyOnionV3(host1)
	require.True(t, ok)
}

func TestOnionV3RejectsTamperedChecksum(t *testing.T) {
	pub := make([]byte, 32)
	host, err := DeriveOnionV3(pub)
	require.NoError(t, err)

	// Character 52 encodes bits 260-264 of the decoded address, which lie
	// inside the two checksum bytes; for the zero pubkey it is '2'.
	tampered := host[:52] + "a" + host[53:]
	_, ok := VerifyOnionV3(tampered)
	require.False(t, ok)
}

func TestAddrV2MixedBatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeVarInt(&buf, 2))

	// Entry 1: ipv4.
	writeAddrV2Entry(t, &buf, 1_700_000_000, netIDIPv4, []byte{198, 51, 100, 7}, 8333)
	// Entry 2: unknown network id, discarded.
	writeAddrV2Entry(t, &buf, 1_700_000_000, 0x42, []byte{1, 2, 3, 4}, 1)

	entries, err := DecodeAddrV2(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, AddrIPv4, entries[0].Type)
	require.Equal(t, uint16(8333), entries[0].Port)
}

func writeAddrV2Entry(t *testing.T, buf *bytes.Buffer, ts uint32, netID byte, addr []byte, port uint16) {
	t.Helper()

	var tsBuf [4]byte
	tsBuf[0] = byte(ts)
	tsBuf[1] = byte(ts >> 8)
	tsBuf[2] = byte(ts >> 16)
	tsBuf[3] = byte(ts >> 24)
	buf.Write(tsBuf[:])

	require.NoError(t, writeVarInt(buf, 0)) // services
	buf.WriteByte(netID)
	require.NoError(t, writeVarInt(buf, uint64(len(addr))))
	buf.Write(addr)

	buf.WriteByte(byte(port >> 8))
	buf.WriteByte(byte(port))
}
