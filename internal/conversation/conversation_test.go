package conversation_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"

	"github.com/btcrawl/crawlyd/internal/clockrand"
	"github.com/btcrawl/crawlyd/internal/conversation"
	"github.com/btcrawl/crawlyd/internal/dialer"
	"github.com/btcrawl/crawlyd/internal/peerstore"
	"github.com/btcrawl/crawlyd/internal/wire"
)

// fakeStore records every call the conversation engine makes so tests can
// assert on the handshake's side effects without a real Postgres instance.
type fakeStore struct {
	peerstore.Store

	mu         sync.Mutex
	successes  []string
	failures   []string
	handshakes map[string]peerstore.HandshakeInfo
}

func newFakeStore() *fakeStore {
	return &fakeStore{handshakes: make(map[string]peerstore.HandshakeInfo)}
}

func (f *fakeStore) HandleSuccessfulConnection(_ context.Context, addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.successes = append(f.successes, addr)
	return nil
}

func (f *fakeStore) HandleFailedConnection(_ context.Context, addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, addr)
	return nil
}

func (f *fakeStore) UpdateHandshakeInfo(_ context.Context, addr string, info peerstore.HandshakeInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handshakes[addr] = info
	return nil
}

// pipeDialer hands out one end of a net.Pipe for every dial, regardless of
// the requested address, so tests can drive the other end directly.
type pipeDialer struct {
	conn net.Conn
}

func (d *pipeDialer) DialTCP(context.Context, string) (net.Conn, error)         { return d.conn, nil }
func (d *pipeDialer) DialTor(context.Context, string, uint16) (net.Conn, error) { return d.conn, nil }
func (d *pipeDialer) DialI2P(context.Context, string, uint16) (net.Conn, error) { return d.conn, nil }

var _ dialer.Dialer = (*pipeDialer)(nil)

func TestEngineRunCleanHandshake(t *testing.T) {
	clientConn, peerConn := net.Pipe()
	defer peerConn.Close()

	store := newFakeStore()
	source := clockrand.NewWithClock(clock.NewTestClock(time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)))
	engine := conversation.New(store, &pipeDialer{conn: clientConn}, source, "203.0.113.1")

	node := peerstore.NodeToScan{
		Address: "198.51.100.9:8333",
		Type:    peerstore.AddrIPv4,
		Host:    "198.51.100.9",
		Port:    8333,
	}

	done := make(chan struct{ res *conversation.Result; err error }, 1)
	go func() {
		res, err := engine.Run(context.Background(), node)
		done <- struct {
			res *conversation.Result
			err error
		}{res, err}
	}()

	// Act as the remote peer: read the outbound version, reply with our
	// own version, then verack, then an empty addrv2 — the minimal S1
	// scenario from spec §8.
	cmd, payload, err := readFrame(t, peerConn)
	require.NoError(t, err)
	require.Equal(t, wire.CmdVersion, cmd)

	_, err = wire.DecodeVersion(payload)
	require.NoError(t, err)

	remoteVersion := &wire.MsgVersion{
		ProtocolVersion: wire.ProtocolVersion,
		Services:        wire.OutboundServices,
		Timestamp:       source.Now().Unix(),
		AddrRecv:        wire.VersionAddr{IP: net.IPv4zero},
		AddrFrom:        wire.VersionAddr{IP: net.IPv4zero},
		Nonce:           0x1122334455667788,
		UserAgent:       "/Satoshi:26.0.0/",
		StartHeight:     820000,
		Relay:           true,
	}
	rvPayload, err := remoteVersion.Encode()
	require.NoError(t, err)
	require.NoError(t, wire.WriteFrame(peerConn, wire.CmdVersion, rvPayload))

	// sendaddrv2 must arrive before our verack, per spec §4.4/§5.
	cmd, _, err = readFrame(t, peerConn)
	require.NoError(t, err)
	require.Equal(t, wire.CmdSendAddrV2, cmd)

	cmd, _, err = readFrame(t, peerConn)
	require.NoError(t, err)
	require.Equal(t, wire.CmdVerAck, cmd)

	require.NoError(t, wire.WriteFrame(peerConn, wire.CmdVerAck, nil))

	cmd, _, err = readFrame(t, peerConn)
	require.NoError(t, err)
	require.Equal(t, wire.CmdGetAddr, cmd)

	var addrv2Payload []byte // empty addrv2: zero entries encoded as a single 0x00 varint
	addrv2Payload = append(addrv2Payload, 0x00)
	require.NoError(t, wire.WriteFrame(peerConn, wire.CmdAddrV2, addrv2Payload))

	result := <-done
	require.NoError(t, result.err)
	require.NotNil(t, result.res)
	require.Empty(t, result.res.Addresses)

	require.Equal(t, []string{node.Address}, store.successes)
	require.Empty(t, store.failures)
	require.Equal(t, "/Satoshi:26.0.0/", store.handshakes[node.Address].UserAgent)
	require.Equal(t, int32(820000), store.handshakes[node.Address].StartHeight)
}

func TestEngineRunPingBeforeAddr(t *testing.T) {
	clientConn, peerConn := net.Pipe()
	defer peerConn.Close()

	store := newFakeStore()
	source := clockrand.New()
	engine := conversation.New(store, &pipeDialer{conn: clientConn}, source, "")

	node := peerstore.NodeToScan{Address: "198.51.100.10:8333", Type: peerstore.AddrIPv4, Host: "198.51.100.10", Port: 8333}

	done := make(chan error, 1)
	go func() {
		_, err := engine.Run(context.Background(), node)
		done <- err
	}()

	_, _, err := readFrame(t, peerConn) // version
	require.NoError(t, err)

	remoteVersion := &wire.MsgVersion{ProtocolVersion: wire.ProtocolVersion, UserAgent: "/Satoshi:26.0.0/"}
	payload, err := remoteVersion.Encode()
	require.NoError(t, err)
	require.NoError(t, wire.WriteFrame(peerConn, wire.CmdVersion, payload))

	_, _, err = readFrame(t, peerConn) // sendaddrv2, ahead of verack
	require.NoError(t, err)

	_, _, err = readFrame(t, peerConn) // verack
	require.NoError(t, err)
	require.NoError(t, wire.WriteFrame(peerConn, wire.CmdVerAck, nil))

	_, _, err = readFrame(t, peerConn) // getaddr
	require.NoError(t, err)

	// Peer pings before disclosing addresses; the engine must reply pong
	// and keep waiting rather than terminating, per spec §4.4.
	require.NoError(t, wire.WriteFrame(peerConn, wire.CmdPing, encodeNonce(0xabad1dea)))

	cmd, pongPayload, err := readFrame(t, peerConn)
	require.NoError(t, err)
	require.Equal(t, wire.CmdPong, cmd)
	ping, err := wire.DecodePing(pongPayload)
	require.NoError(t, err)
	require.Equal(t, uint64(0xabad1dea), ping.Nonce)

	require.NoError(t, wire.WriteFrame(peerConn, wire.CmdAddrV2, []byte{0x00}))

	require.NoError(t, <-done)
}

func readFrame(t *testing.T, conn net.Conn) (string, []byte, error) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return wire.ReadFrame(conn, wire.MaxPayloadLength)
}

func encodeNonce(n uint64) []byte {
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[i] = byte(n >> (8 * i))
	}
	return buf
}
