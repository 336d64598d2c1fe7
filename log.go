package crawlyd

import (
	"os"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"

	"github.com/btcrawl/crawlyd/internal/conversation"
	"github.com/btcrawl/crawlyd/internal/dialer"
	"github.com/btcrawl/crawlyd/internal/ingest"
	"github.com/btcrawl/crawlyd/internal/listener"
	"github.com/btcrawl/crawlyd/internal/natmap"
	"github.com/btcrawl/crawlyd/internal/peerstore"
	"github.com/btcrawl/crawlyd/internal/scheduler"
	"github.com/btcrawl/crawlyd/internal/seed"
)

var log btclog.Logger

// logWriter sends written data to both standard output and a rotating
// log file, matching lnd's logWriter.
type logWriter struct {
	rotator *rotator.Rotator
}

func (w *logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	return w.rotator.Write(p)
}

// InitLogRotator opens a rotating log file and returns a backend writing
// to it and to stdout, matching lnd's initLogRotator.
func InitLogRotator(logFile string, maxLogFileSize, maxLogFiles int) (*btclog.Backend, *rotator.Rotator, error) {
	r, err := rotator.New(logFile, int64(maxLogFileSize*1024), false, maxLogFiles)
	if err != nil {
		return nil, nil, err
	}

	backend := btclog.NewBackend(&logWriter{rotator: r})
	return backend, r, nil
}

// UseLogger sets the main CRWL logger and propagates a level-scoped
// subsystem logger into every internal package, matching lnd's
// useLogger/setLogLevels split across its subsystem table.
func UseLogger(backend *btclog.Backend, level btclog.Level) {
	log = backend.Logger("CRWL")
	log.SetLevel(level)

	sub := func(tag string) btclog.Logger {
		l := backend.Logger(tag)
		l.SetLevel(level)
		return l
	}

	scheduler.UseLogger(sub("SCHD"))
	conversation.UseLogger(sub("CONV"))
	dialer.UseLogger(sub("DIAL"))
	listener.UseLogger(sub("LSTN"))
	ingest.UseLogger(sub("INGS"))
	seed.UseLogger(sub("SEED"))
	natmap.UseLogger(sub("NATM"))
	peerstore.UseLogger(sub("STOR"))
}
