package seed

import "github.com/btcsuite/btclog"

var log = btclog.Disabled

// UseLogger sets the package-wide logger used by DNS seed resolution.
func UseLogger(logger btclog.Logger) {
	log = logger
}
