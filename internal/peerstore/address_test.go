package peerstore_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/btcrawl/crawlyd/internal/peerstore"
)

func TestNormalizeAddress(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"ipv4 with port", "203.0.113.5:8333", "203.0.113.5"},
		{"ipv4 no port", "203.0.113.5", "203.0.113.5"},
		{"bracketed ipv6 with port", "[2001:db8::1]:8333", "2001:db8::1"},
		{"bare ipv6 no brackets", "2001:db8::1", "2001:db8::1"},
		{"onion with port", "exampleexampleexampleexampleexampleexampleexampleexamplea.onion:8333", "exampleexampleexampleexampleexampleexampleexampleexamplea.onion"},
		{"whitespace trimmed", "  203.0.113.5:8333  ", "203.0.113.5"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, peerstore.NormalizeAddress(tc.in))
		})
	}
}

func TestAddrTypeClassification(t *testing.T) {
	require.True(t, peerstore.AddrOnionV2.IsOnion())
	require.True(t, peerstore.AddrOnionV3.IsOnion())
	require.False(t, peerstore.AddrIPv4.IsOnion())

	require.True(t, peerstore.AddrOnionV3.IsHiddenService())
	require.True(t, peerstore.AddrI2P.IsHiddenService())
	require.False(t, peerstore.AddrIPv6.IsHiddenService())
}
