package listener

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/btcrawl/crawlyd/internal/peerstore"
	"github.com/btcrawl/crawlyd/internal/wire"
)

// fakeStore records the one call handle is allowed to make.
type fakeStore struct {
	peerstore.Store

	addr string
	info peerstore.HandshakeInfo
	err  error
}

func (f *fakeStore) UpdateInboundNodeInfo(_ context.Context, addr string, info peerstore.HandshakeInfo) error {
	f.addr = addr
	f.info = info
	return f.err
}

func TestHandleRecordsReachabilityOnVersion(t *testing.T) {
	clientConn, serverConn := net.Pipe()

	store := &fakeStore{}
	l := &Listener{store: store}

	done := make(chan struct{})
	go func() {
		l.handle(serverConn)
		close(done)
	}()

	version := &wire.MsgVersion{
		ProtocolVersion: wire.ProtocolVersion,
		Services:        wire.OutboundServices,
		UserAgent:       "/Satoshi:26.0.0/",
		StartHeight:     820000,
		Relay:           true,
	}
	payload, err := version.Encode()
	require.NoError(t, err)
	require.NoError(t, wire.WriteFrame(clientConn, wire.CmdVersion, payload))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handle did not return after receiving version")
	}

	require.Equal(t, "/Satoshi:26.0.0/", store.info.UserAgent)
	require.Equal(t, int32(820000), store.info.StartHeight)
	require.True(t, store.info.Relay)

	// handle must close its side without ever sending a verack: reading
	// from the client's end should now see EOF, not another frame.
	clientConn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 1)
	_, err = clientConn.Read(buf)
	require.Error(t, err)
}

func TestHandleDropsNonVersionFirstFrame(t *testing.T) {
	clientConn, serverConn := net.Pipe()

	store := &fakeStore{}
	l := &Listener{store: store}

	done := make(chan struct{})
	go func() {
		l.handle(serverConn)
		close(done)
	}()

	require.NoError(t, wire.WriteFrame(clientConn, wire.CmdPing, make([]byte, 8)))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handle did not return after a non-version first frame")
	}

	require.Empty(t, store.addr)
}
