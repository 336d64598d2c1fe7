package conversation

import "github.com/btcsuite/btclog"

// log is the package-level subsystem logger, set by UseLogger at daemon
// startup. It defaults to disabled so the package is silent when imported
// by a caller that never wires a backend (e.g. a unit test).
var log = btclog.Disabled

// UseLogger sets the package-wide logger used by the conversation engine.
func UseLogger(logger btclog.Logger) {
	log = logger
}
