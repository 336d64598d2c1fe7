package peerstore

import "github.com/btcsuite/btclog"

var log = btclog.Disabled

// UseLogger sets the package-wide logger used by the peer store.
func UseLogger(logger btclog.Logger) {
	log = logger
}
