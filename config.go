package crawlyd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	flags "github.com/jessevdk/go-flags"

	"github.com/btcsuite/btclog"

	"github.com/btcrawl/crawlyd/internal/dialer"
	"github.com/btcrawl/crawlyd/internal/scheduler"
	"github.com/btcrawl/crawlyd/internal/seed"
)

const (
	defaultConfigFilename = "crawlyd.conf"
	defaultLogFilename    = "crawlyd.log"
	defaultLogDirname     = "logs"
	defaultListenAddr     = "0.0.0.0:8333"

	// DefaultMaxLogFileSize is the rotation threshold, in megabytes.
	DefaultMaxLogFileSize = 10
	// DefaultMaxLogFiles is how many rotated log files are retained.
	DefaultMaxLogFiles = 3
)

// Config mirrors lnd's config struct: go-flags struct tags, defaults
// applied before Parse overlays the command line (and, if present, an
// INI file).
type Config struct {
	ConfigFile string `long:"configfile" description:"Path to configuration file"`

	DataDir    string `long:"datadir" description:"Data directory; accepted but not read by the daemon (logs go to logdir)"`
	LogDir     string `long:"logdir" description:"Directory to log output"`
	LogFile    string `long:"logfile" description:"Log filename"`
	DebugLevel string `long:"debuglevel" description:"Logging level for all subsystems: trace, debug, info, warn, error, critical"`

	PeerStoreDSN string `long:"peerstoredsn" description:"Postgres connection string for the peer store"`

	ListenAddr string `long:"listenaddr" description:"Accepted but not applied: the passive listener always binds 0.0.0.0:8333"`
	NoListen   bool   `long:"nolisten" description:"Disable the passive inbound listener"`
	NoNAT      bool   `long:"nonat" description:"Disable best-effort UPnP/NAT-PMP port mapping"`

	TorProxy string `long:"torproxy" description:"SOCKS5 endpoint for Tor dials"`
	I2PProxy string `long:"i2pproxy" description:"SOCKS5 endpoint for I2P dials"`

	SchedulerInterval    string `long:"scheduler.interval" description:"Scheduler tick interval (Go duration syntax); accepted but not applied: the scheduler uses its built-in 10s"`
	SchedulerBatchSize   int    `long:"scheduler.batchsize" description:"Nodes pulled from the store per tick; accepted but not applied: the scheduler uses its built-in 100"`
	SchedulerConcurrency int64  `long:"scheduler.concurrency" description:"Maximum concurrent outbound conversations; accepted but not applied: the scheduler uses its built-in 100"`

	SelfAddress string `long:"selfaddress" description:"Address advertised as addr_from in outbound version messages"`
}

// defaultConfig returns a Config populated with lnd-style defaults, to be
// overlaid by LoadConfig.
func defaultConfig() Config {
	return Config{
		ConfigFile:           defaultConfigFilename,
		LogDir:               defaultLogDirname,
		LogFile:              defaultLogFilename,
		DebugLevel:           "info",
		ListenAddr:           defaultListenAddr,
		TorProxy:             dialer.DefaultConfig().TorProxyAddr,
		I2PProxy:             dialer.DefaultConfig().I2PProxyAddr,
		SchedulerInterval:    scheduler.Interval.String(),
		SchedulerBatchSize:   scheduler.BatchSize,
		SchedulerConcurrency: scheduler.Concurrency,
		SelfAddress:          "0.0.0.0",
	}
}

// LoadConfig reads an optional INI file, then overlays command-line
// flags, matching lnd's LoadConfig two-pass parse: a first pass just to
// learn ConfigFile, then a second pass that applies the INI file (if any)
// before the real command-line overlay.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	preCfg := cfg
	if _, err := flags.NewParser(&preCfg, flags.HelpFlag|flags.IgnoreUnknown).ParseArgs(os.Args[1:]); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, err
		}
	}
	if preCfg.ConfigFile != "" {
		cfg.ConfigFile = preCfg.ConfigFile
	}

	if fileExists(cfg.ConfigFile) {
		parser := flags.NewParser(&cfg, flags.Default)
		if err := flags.NewIniParser(parser).ParseFile(cfg.ConfigFile); err != nil {
			return nil, fmt.Errorf("config: parsing ini file: %w", err)
		}
	}

	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.ParseArgs(os.Args[1:]); err != nil {
		return nil, err
	}

	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	if len(seed.Hostnames) == 0 {
		return nil, fmt.Errorf("config: compiled-in seed list is empty")
	}
	if cfg.PeerStoreDSN == "" {
		return nil, fmt.Errorf("config: peerstoredsn is required")
	}

	return &cfg, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func cleanAndExpandPath(path string) string {
	if path == "" {
		return path
	}
	return filepath.Clean(os.ExpandEnv(path))
}

// LogLevel parses the configured debug level into a btclog.Level,
// defaulting to Info on an unrecognized string.
func (c *Config) LogLevel() btclog.Level {
	lvl, ok := btclog.LevelFromString(c.DebugLevel)
	if !ok {
		return btclog.LevelInfo
	}
	return lvl
}
