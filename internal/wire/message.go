// Package wire implements the subset of the Bitcoin P2P wire protocol the
// crawler needs: frame (de)serialization, the handful of messages the
// crawler speaks, and AddrV2 address-variant decoding per BIP 155.
//
// Deliberately not a general-purpose reimplementation of btcd/wire: the
// crawler only ever encodes version/verack/sendaddrv2/getaddr/pong and only
// ever decodes version/verack/ping/addr/addrv2, so only those are modeled.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Magic is the mainnet message magic, the first four bytes of every frame.
const Magic uint32 = 0xd9b4bef9 // little-endian on the wire: F9 BE B4 D9

// commandSize is the fixed width of the null-padded ASCII command field.
const commandSize = 12

// HeaderSize is the fixed 24-byte frame header: magic(4) + command(12) +
// length(4) + checksum(4).
const HeaderSize = 4 + commandSize + 4 + 4

// MaxPayloadLength is the hard ceiling on any frame's payload, per spec: a
// reader MUST treat a larger claimed length as a hostile peer and close the
// connection.
const MaxPayloadLength = 1_000_000

// Command strings used on the wire.
const (
	CmdVersion    = "version"
	CmdVerAck     = "verack"
	CmdSendAddrV2 = "sendaddrv2"
	CmdGetAddr    = "getaddr"
	CmdPing       = "ping"
	CmdPong       = "pong"
	CmdAddr       = "addr"
	CmdAddrV2     = "addrv2"
)

// ProtocolVersion is advertised by the crawler in its outbound version
// message. BIP 155 (addrv2) requires >= 70016.
const ProtocolVersion uint32 = 70016

// Header is the 24-byte frame header.
type Header struct {
	Command string
	Length  uint32
	Sum     [4]byte
}

// checksum computes the Bitcoin wire checksum: the first four bytes of the
// double-SHA256 of the payload.
func checksum(payload []byte) [4]byte {
	h := chainhash.DoubleHashB(payload)
	var sum [4]byte
	copy(sum[:], h[:4])
	return sum
}

// WriteFrame encodes a full frame (header + payload) to w.
func WriteFrame(w io.Writer, command string, payload []byte) error {
	if len(command) > commandSize {
		return fmt.Errorf("wire: command %q exceeds %d bytes", command, commandSize)
	}
	if len(payload) > MaxPayloadLength {
		return fmt.Errorf("wire: payload of %d bytes exceeds max %d", len(payload), MaxPayloadLength)
	}

	var hdr [HeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], Magic)

	var cmd [commandSize]byte
	copy(cmd[:], command)
	copy(hdr[4:16], cmd[:])

	binary.LittleEndian.PutUint32(hdr[16:20], uint32(len(payload)))

	sum := checksum(payload)
	copy(hdr[20:24], sum[:])

	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		// No payload bytes to send. A zero-length Write is skipped
		// because on unbuffered connections such as net.Pipe it blocks
		// until the peer issues a Read.
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads and validates one frame from r, enforcing maxPayload as
// the admission-control limit for this connection (the listener uses a
// stricter limit than the outbound conversation engine does for its first
// frame).
func ReadFrame(r io.Reader, maxPayload uint32) (command string, payload []byte, err error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return "", nil, err
	}

	magic := binary.LittleEndian.Uint32(hdr[0:4])
	if magic != Magic {
		return "", nil, fmt.Errorf("%w: got magic %x", ErrDecode, magic)
	}

	cmd := hdr[4:16]
	nul := len(cmd)
	for i, b := range cmd {
		if b == 0 {
			nul = i
			break
		}
	}
	command = string(cmd[:nul])

	length := binary.LittleEndian.Uint32(hdr[16:20])
	if length > maxPayload {
		return command, nil, fmt.Errorf("%w: frame of %d bytes exceeds limit %d",
			ErrFrameTooLarge, length, maxPayload)
	}

	var wantSum [4]byte
	copy(wantSum[:], hdr[20:24])

	payload = make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return command, nil, err
	}

	if gotSum := checksum(payload); gotSum != wantSum {
		return command, nil, fmt.Errorf("%w: checksum mismatch for %q", ErrDecode, command)
	}

	return command, payload, nil
}
