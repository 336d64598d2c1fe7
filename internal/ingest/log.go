package ingest

import "github.com/btcsuite/btclog"

var log = btclog.Disabled

// UseLogger sets the package-wide logger used by the ingest pipeline.
func UseLogger(logger btclog.Logger) {
	log = logger
}
