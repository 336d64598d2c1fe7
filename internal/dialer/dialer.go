// Package dialer implements the unified transport dial operations of
// spec §4.2: direct TCP for IPv4/IPv6, and SOCKS5-proxied connections for
// Tor and I2P hidden services.
package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/proxy"

	"github.com/btcsuite/btclog"
)

var log = btclog.Disabled

// UseLogger sets the package-wide logger used by the dialer.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// Timeouts per spec §4.2.
const (
	TCPTimeout = 5 * time.Second
	TorTimeout = 30 * time.Second
	I2PTimeout = 30 * time.Second
)

// Error taxonomy per spec §7.
var (
	ErrDialTimeout = errors.New("dialer: dial timeout")
	ErrDialRefused = errors.New("dialer: connection refused")
)

// Dialer is the transport-dial contract every conversation worker uses.
type Dialer interface {
	DialTCP(ctx context.Context, addr string) (net.Conn, error)
	DialTor(ctx context.Context, host string, port uint16) (net.Conn, error)
	DialI2P(ctx context.Context, host string, port uint16) (net.Conn, error)
}

// Config holds the local SOCKS5 proxy endpoints.
type Config struct {
	TorProxyAddr string // default 127.0.0.1:9050
	I2PProxyAddr string // default 127.0.0.1:4446
}

// DefaultConfig returns the well-known default proxy endpoints.
func DefaultConfig() Config {
	return Config{
		TorProxyAddr: "127.0.0.1:9050",
		I2PProxyAddr: "127.0.0.1:4446",
	}
}

type netDialer struct {
	cfg Config
}

// New returns the production Dialer.
func New(cfg Config) Dialer {
	return &netDialer{cfg: cfg}
}

func (d *netDialer) DialTCP(ctx context.Context, addr string) (net.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, TCPTimeout)
	defer cancel()

	var nd net.Dialer
	conn, err := nd.DialContext(dctx, "tcp", addr)
	if err != nil {
		return nil, classify(err)
	}
	return conn, nil
}

func (d *netDialer) DialTor(ctx context.Context, host string, port uint16) (net.Conn, error) {
	return d.dialSOCKS5(ctx, d.cfg.TorProxyAddr, host, port, TorTimeout)
}

func (d *netDialer) DialI2P(ctx context.Context, host string, port uint16) (net.Conn, error) {
	return d.dialSOCKS5(ctx, d.cfg.I2PProxyAddr, host, port, I2PTimeout)
}

func (d *netDialer) dialSOCKS5(ctx context.Context, proxyAddr, host string, port uint16, timeout time.Duration) (net.Conn, error) {
	target := net.JoinHostPort(host, fmt.Sprintf("%d", port))

	// proxy.SOCKS5 builds a Dialer whose Dial is synchronous; run it in
	// a goroutine so the caller's timeout/context is still honored even
	// though the SOCKS5 handshake itself has no context-aware variant.
	sockDialer, err := proxy.SOCKS5("tcp", proxyAddr, nil, &net.Dialer{Timeout: timeout})
	if err != nil {
		log.Errorf("build socks5 dialer for %s: %v", proxyAddr, err)
		return nil, fmt.Errorf("dialer: build socks5 dialer for %s: %w", proxyAddr, err)
	}

	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)

	go func() {
		conn, err := sockDialer.Dial("tcp", target)
		ch <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ErrDialTimeout
	case res := <-ch:
		if res.err != nil {
			return nil, classify(res.err)
		}
		return res.conn, nil
	case <-time.After(timeout):
		return nil, ErrDialTimeout
	}
}

func classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrDialTimeout, err)
	}
	var syscallErr *net.OpError
	if errors.As(err, &syscallErr) {
		return fmt.Errorf("%w: %v", ErrDialRefused, err)
	}
	return err
}
