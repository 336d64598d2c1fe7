// Package peerstore is the persistent, concurrency-safe view of known
// peers described in spec §3/§4.1: the Store interface is the contract
// every other component (scheduler, conversation engine, ingest pipeline,
// listener) depends on, and postgres.go is the one production
// implementation.
package peerstore

import "strings"

// NormalizeAddress strips an optional ":port" suffix and surrounding
// "[]" brackets from addr, returning the canonical form used as the
// store's unique key. Per spec §4.1: "Input addresses may carry :port
// suffixes and IPv6 brackets; the store strips the rightmost :port and
// surrounding [] before key lookup."
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if strings.HasPrefix(addr, "[") {
		// Bracketed IPv6 literal, optionally with a trailing :port.
		if end := strings.IndexByte(addr, ']'); end != -1 {
			host := addr[1:end]
			return host
		}
		return addr
	}

	// Unbracketed: strip the rightmost ":port" only if what precedes it
	// isn't itself an unbracketed IPv6 literal (which would have more
	// than one colon). A bare IPv6 literal with no port is left alone.
	if idx := strings.LastIndexByte(addr, ':'); idx != -1 {
		if strings.Count(addr, ":") == 1 {
			return addr[:idx]
		}
	}

	return addr
}
