package wire

import (
	"fmt"

	"golang.org/x/crypto/sha3"
)

// onionChecksumPrefix is the domain-separation string the Tor onion v3
// address spec mixes into the checksum hash.
const onionChecksumPrefix = ".onion checksum"

// onionV3Version is the single version byte appended to every v3 address.
const onionV3Version = 0x03

// DeriveOnionV3 implements the onion-v3 address construction of spec §4.3:
//
//	H = SHA3-256(".onion checksum" || pubkey || 0x03)
//	checksum = H[0:2]
//	full = pubkey || checksum || 0x03
//	address = base32(full) + ".onion"
//
// pubkey must be the 32-byte ed25519 public key carried in the AddrV2
// TorV3 variant.
func DeriveOnionV3(pubkey []byte) (string, error) {
	if len(pubkey) != 32 {
		return "", fmt.Errorf("%w: onionv3 pubkey must be 32 bytes, got %d", ErrDecode, len(pubkey))
	}

	h := onionV3Checksum(pubkey)

	full := make([]byte, 0, 35)
	full = append(full, pubkey...)
	full = append(full, h[0], h[1])
	full = append(full, onionV3Version)

	return strLower(onionB32.EncodeToString(full)) + ".onion", nil
}

// onionV3Checksum computes the two checksum bytes embedded in a v3 address.
func onionV3Checksum(pubkey []byte) [2]byte {
	buf := make([]byte, 0, len(onionChecksumPrefix)+len(pubkey)+1)
	buf = append(buf, onionChecksumPrefix...)
	buf = append(buf, pubkey...)
	buf = append(buf, onionV3Version)

	sum := sha3.Sum256(buf)

	var out [2]byte
	copy(out[:], sum[:2])
	return out
}

// VerifyOnionV3 decodes a 56-character onion-v3 hostname (without the
// ".onion" suffix requirement on the caller) and recomputes its checksum,
// returning false if the address is malformed or the checksum doesn't
// match its embedded pubkey. Used by tests (spec §8 property 8) and
// available for ingest-side sanity checks.
func VerifyOnionV3(host string) (pubkey []byte, ok bool) {
	name := host
	if len(name) > len(".onion") && name[len(name)-len(".onion"):] == ".onion" {
		name = name[:len(name)-len(".onion")]
	}
	if len(name) != 56 {
		return nil, false
	}

	full, err := onionB32.DecodeString(strUpper(name))
	if err != nil || len(full) != 35 {
		return nil, false
	}

	pub := full[:32]
	wantChecksum := full[32:34]
	version := full[34]
	if version != onionV3Version {
		return nil, false
	}

	gotChecksum := onionV3Checksum(pub)
	if gotChecksum[0] != wantChecksum[0] || gotChecksum[1] != wantChecksum[1] {
		return nil, false
	}

	return pub, true
}

func strUpper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}
