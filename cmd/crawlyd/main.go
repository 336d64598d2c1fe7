// Command crawlyd is the crawler daemon: it loads configuration, wires
// logging, and runs the scheduler/listener/cleanup loops until signaled.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	crawlyd "github.com/btcrawl/crawlyd"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := crawlyd.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logFile := filepath.Join(cfg.LogDir, cfg.LogFile)
	backend, rotator, err := crawlyd.InitLogRotator(logFile, crawlyd.DefaultMaxLogFileSize, crawlyd.DefaultMaxLogFiles)
	if err != nil {
		return fmt.Errorf("init log rotator: %w", err)
	}
	defer rotator.Close()

	crawlyd.UseLogger(backend, cfg.LogLevel())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	daemon, err := crawlyd.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init daemon: %w", err)
	}
	defer daemon.Shutdown()

	if err := daemon.Seed(ctx); err != nil {
		// Seeding only runs against an empty store; failing to reach
		// the DNS seeds on a non-empty store is not fatal.
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
	}

	return daemon.Run(ctx)
}
