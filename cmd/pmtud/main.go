// Command pmtud captures ICMP "Fragmentation Needed" and "Packet Too Big"
// messages on one interface and rebroadcasts them at layer 2, so that every
// host behind an ECMP or anycast cluster sees path MTU signals regardless
// of which cluster member they were hashed to.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"

	"pmtud/pkg/capture"
	"pmtud/pkg/config"
	"pmtud/pkg/inject"
	"pmtud/pkg/logging"
	"pmtud/pkg/relay"
)

const usageText = `Usage:

    pmtud [options]

pmtud captures and broadcasts ICMP messages related to MTU detection. It
listens on an interface, waiting for ICMP messages (IPv4 type 3 code 4 or
IPv6 type 2 code 0), and forwards them verbatim to the broadcast ethernet
address.

Options:

  --iface           Network interface to listen on
  --src-rate        Pps limit from single source (default=%.1f pps)
  --iface-rate      Pps limit to send on a single interface (default=%.1f pps)
  --verbose         Increase packet log verbosity (repeatable)
  --dry-run         Don't inject packets, just dry run
  --cpu             Pin process to particular cpu
  --ports           Forward only ICMP packets with payload containing an L4
                    source port on this list (comma separated)
  --config          Load YAML or JSON configuration file
  --promisc         Capture in promiscuous mode
  --stats-interval  Periodically dump counters to the diagnostic log
  --log-file        Mirror diagnostics to a rotating file
  --log-level       Diagnostic log level (debug, info, warn, error)
  --help            Print this message

Example:

    pmtud --iface=eth2 --src-rate=%.1f --iface-rate=%.1f
`

// countFlag implements a repeatable boolean flag that counts occurrences.
type countFlag int

func (c *countFlag) String() string   { return strconv.Itoa(int(*c)) }
func (c *countFlag) Set(string) error { *c++; return nil }
func (c *countFlag) IsBoolFlag() bool { return true }

func main() {
	cfg := loadConfig(os.Args[1:])

	if err := cfg.Validate(); err != nil {
		logging.Fatalf("%v", err)
	}
	if err := cfg.ApplyLogging(); err != nil {
		logging.Fatalf("%v", err)
	}

	if err := run(cfg); err != nil {
		logging.Fatalf("%v", err)
	}
}

// loadConfig merges defaults, an optional config file, environment
// variables, and command-line flags, in that order of precedence. Parse
// failures and --help print usage to stderr and exit nonzero.
func loadConfig(args []string) *config.Config {
	fs := flag.NewFlagSet("pmtud", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, usageText,
			config.DefaultSrcRatePPS, config.DefaultIfaceRatePPS,
			config.DefaultSrcRatePPS, config.DefaultIfaceRatePPS)
	}

	var (
		iface         = fs.String("iface", "", "network interface to listen on")
		srcRate       = fs.Float64("src-rate", config.DefaultSrcRatePPS, "pps limit from single source")
		ifaceRate     = fs.Float64("iface-rate", config.DefaultIfaceRatePPS, "pps limit on the interface")
		dryRun        = fs.Bool("dry-run", false, "don't inject packets")
		cpu           = fs.Int("cpu", -1, "pin process to cpu")
		ports         = fs.String("ports", "", "comma separated L4 source port allow-list")
		configPath    = fs.String("config", "", "configuration file (YAML or JSON)")
		promisc       = fs.Bool("promisc", false, "capture in promiscuous mode")
		statsInterval = fs.Duration("stats-interval", 0, "periodic counter dump interval")
		logFile       = fs.String("log-file", "", "rotating diagnostic log file")
		logLevel      = fs.String("log-level", "", "diagnostic log level")
		verbose       countFlag
	)
	fs.Var(&verbose, "verbose", "increase packet log verbosity (repeatable)")
	fs.Var(&verbose, "v", "increase packet log verbosity (repeatable)")

	if err := fs.Parse(args); err != nil {
		// flag has already written the diagnostic and, for --help, the
		// usage text.
		os.Exit(2)
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "not sure what you mean by %q\n", fs.Arg(0))
		os.Exit(2)
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		if err := config.LoadFromFile(*configPath, cfg); err != nil {
			logging.Fatalf("%v", err)
		}
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		logging.Fatalf("%v", err)
	}

	// Explicit flags override the file and the environment.
	var flagErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "iface":
			cfg.Iface = *iface
		case "src-rate":
			cfg.SrcRate = *srcRate
		case "iface-rate":
			cfg.IfaceRate = *ifaceRate
		case "dry-run":
			cfg.DryRun = *dryRun
		case "cpu":
			cfg.CPU = *cpu
		case "ports":
			parsed, err := config.ParsePorts(*ports)
			if err != nil {
				flagErr = err
				return
			}
			cfg.Ports = parsed
		case "config":
		case "promisc":
			cfg.Promiscuous = *promisc
		case "stats-interval":
			cfg.StatsInterval = *statsInterval
		case "log-file":
			cfg.Logging.File = *logFile
		case "log-level":
			cfg.Logging.Level = *logLevel
		case "verbose", "v":
			cfg.Verbose = int(verbose)
		}
	})
	if flagErr != nil {
		logging.Fatalf("%v", flagErr)
	}

	return cfg
}

func run(cfg *config.Config) error {
	enableCoreDumps()
	if cfg.CPU >= 0 {
		pinCPU(cfg.CPU)
	}

	source, err := capture.Open(cfg.Iface, capture.Options{Promiscuous: cfg.Promiscuous})
	if err != nil {
		return err
	}
	defer source.Close()

	injector, err := inject.Open(cfg.Iface)
	if err != nil {
		return err
	}
	defer injector.Close()

	pipeline := relay.NewPipeline(relay.Config{
		SrcRate:   cfg.SrcRate,
		IfaceRate: cfg.IfaceRate,
		Ports:     cfg.Ports,
		Injector:  injector,
		Verbose:   cfg.Verbose,
		DryRun:    cfg.DryRun,
	})
	loop := relay.NewLoop(source, pipeline)

	pid := os.Getpid()
	logging.Infof("#%d Started pmtud on %q rates={iface=%.1f pps source=%.1f pps}, verbose=%d, dry_run=%v",
		pid, cfg.Iface, cfg.IfaceRate, cfg.SrcRate, cfg.Verbose, cfg.DryRun)

	if cfg.StatsInterval > 0 {
		stop := make(chan struct{})
		defer close(stop)
		go runStatsReporter(cfg.StatsInterval, pipeline, source, injector, stop)
	}

	runErr := loop.Run()

	logging.Infof("#%d Quitting", pid)
	if stats, err := source.Stats(); err == nil {
		logging.Infof("#%d recv=%d drop=%d ifdrop=%d",
			pid, stats.Received, stats.Dropped, stats.IfDropped)
	}

	return runErr
}

// enableCoreDumps lifts RLIMIT_CORE so a crash leaves something to debug.
// Best effort.
func enableCoreDumps() {
	limit := &unix.Rlimit{Cur: unix.RLIM_INFINITY, Max: unix.RLIM_INFINITY}
	if err := unix.Setrlimit(unix.RLIMIT_CORE, limit); err != nil {
		logging.Warnf("failed to enable core dumps: %v", err)
	}
}

// pinCPU binds the process to a single core. Best effort.
func pinCPU(cpu int) {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		logging.Warnf("sched_setaffinity(%d): %v", cpu, err)
	}
}
