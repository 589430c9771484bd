// Command lcapd is the changelog aggregation daemon: it binds a single
// ZeroMQ ROUTER socket, runs a reader goroutine per configured metadata
// target, and relays client RPCs between the two through the broker.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-zeromq/zmq4"

	"github.com/lcap-io/lcapd/internal/broker"
	"github.com/lcap-io/lcapd/internal/config"
	"github.com/lcap-io/lcapd/internal/constants"
	"github.com/lcap-io/lcapd/internal/lbmod"
	"github.com/lcap-io/lcapd/internal/logging"
	"github.com/lcap-io/lcapd/internal/reader"
	"github.com/lcap-io/lcapd/internal/source"
	"github.com/lcap-io/lcapd/internal/transport"

	lcap "github.com/lcap-io/lcapd"
)

// verbosityFlag implements flag.Value, counting one "-v" occurrence per
// appearance instead of taking a single numeric argument.
type verbosityFlag int

func (v *verbosityFlag) String() string  { return fmt.Sprintf("%d", int(*v)) }
func (v *verbosityFlag) Set(string) error { *v++; return nil }
func (v *verbosityFlag) IsBoolFlag() bool { return true }

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = flag.String("c", constants.DefaultConfigPath, "path to lcap.cfg")
		oneshot    = flag.Bool("o", false, "each reader exits once its source reaches EOF")
		verbosity  verbosityFlag
	)
	flag.Var(&verbosity, "v", "increase log verbosity (repeatable)")
	flag.CommandLine.Init(os.Args[0], flag.ContinueOnError)
	if err := flag.CommandLine.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 1
	}

	cfg := config.Default()
	cfg.ConfigPath = *configPath
	if f, err := os.Open(*configPath); err == nil {
		defer f.Close()
		if err := config.Parse(f, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "lcapd: %s: %v\n", *configPath, err)
			return 1
		}
	} else if *configPath != constants.DefaultConfigPath {
		fmt.Fprintf(os.Stderr, "lcapd: %s: %v\n", *configPath, err)
		return 1
	}
	cfg.ResolveDefaults()
	if *oneshot {
		cfg.Oneshot = true
	}
	if int(verbosity) > 0 {
		cfg.Verbosity = int(verbosity)
	}

	logConfig := logging.DefaultConfig()
	logConfig.Level = logging.LevelFromVerbosity(cfg.Verbosity)
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)
	if cfg.LogType == "syslog" {
		logger.Warn("logtype syslog requested, degrading to stderr")
	}

	// Only "llapi" has a reader backend here (source.NewSimulated stands
	// in for the real lu_client.c wrapper, which this daemon has no
	// native equivalent for, per the Non-goals); any other clreader
	// value is rejected at start-up rather than silently accepted and
	// then ignored.
	if cfg.CLReader != "" && cfg.CLReader != "llapi" {
		logger.Error("unsupported clreader directive", "clreader", cfg.CLReader)
		return 1
	}

	if len(cfg.MDT) == 0 {
		logger.Error("no mdtdevice directives configured, nothing to serve")
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	router := zmq4.NewRouter(ctx)
	defer router.Close()
	if err := router.Listen(constants.DefaultBrokerEndpoint); err != nil {
		logger.Error("cannot bind broker socket", "endpoint", constants.DefaultBrokerEndpoint, "error", err)
		return 1
	}
	brokerPoller := transport.NewPoller(router)
	br := broker.New(cfg.MDT)

	// A loadmodule directive selects a Distributor that every reader
	// shares instead of its own per-MDT Cache: an unknown module name
	// is a fatal configuration error rather than a silently-ignored
	// directive, mirroring lcap_module_load_external's dlopen failure
	// path aborting startup.
	var dist lbmod.Distributor
	if cfg.ModuleName != "" {
		var err error
		dist, err = lbmod.New(cfg.ModuleName, cfg.MDT, cfg.WorkerCount)
		if err != nil {
			logger.Error("cannot load distribution module", "module", cfg.ModuleName, "error", err)
			return 1
		}
		defer dist.Close()
		logger.Info("distribution module loaded", "module", cfg.ModuleName, "workers", cfg.WorkerCount)
	}

	readers := make([]*reader.Reader, 0, len(cfg.MDT))
	var wg sync.WaitGroup

	for i, mdt := range cfg.MDT {
		dealer := zmq4.NewDealer(ctx, zmq4.WithID(zmq4.SocketIdentity(mdt)))
		if err := dealer.Dial(constants.DefaultBrokerEndpoint); err != nil {
			logger.Error("reader cannot dial broker", "mdt", mdt, "error", err)
			return 1
		}
		defer dealer.Close()

		src := newSourceForMDT(mdt)
		sender := reader.NewSocketSender(dealer)
		r := reader.New(mdt, src, cfg.RecBatchCount, cfg.MaxBuckets, constants.AnyIndex, sender, lcap.NewMetrics())
		r.Follow = !cfg.Oneshot
		if dist != nil {
			r.Distributor = dist
			r.WorkerID = i % cfg.WorkerCount
		}
		readers = append(readers, r)

		dealerPoller := transport.NewPoller(dealer)
		wg.Add(1)
		go runReader(ctx, &wg, r, dealer, dealerPoller, cfg.Oneshot, cancel)
	}

	wg.Add(1)
	go runBroker(ctx, &wg, br, router, brokerPoller)

	installSignalHandlers(cancel, readers, *configPath, cfg)

	logger.Info("lcapd running", "mdt_count", len(cfg.MDT), "endpoint", constants.DefaultBrokerEndpoint, "oneshot", cfg.Oneshot)

	<-ctx.Done()
	logger.Info("shutting down")

	joined := make(chan struct{})
	go func() {
		wg.Wait()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(2 * time.Second):
		logger.Warn("shutdown timed out waiting for goroutines, exiting anyway")
	}

	for _, r := range readers {
		r.Close(context.Background())
	}
	return 0
}

// newSourceForMDT builds the source a reader pulls records from. The
// daemon has no real filesystem-native changelog implementation wired in
// (out of scope per the Non-goals); it reads from an empty Simulated
// source so the wiring above is exercised end to end. A deployment with
// a real Source implementation would construct it here instead.
func newSourceForMDT(mdt string) source.Source {
	return source.NewSimulated(nil)
}

func runReader(ctx context.Context, wg *sync.WaitGroup, r *reader.Reader, sock transport.Socket, poller transport.Poller, oneshot bool, cancelAll context.CancelFunc) {
	defer wg.Done()

	if err := r.Signal(0); err != nil {
		logging.Default().Errorf("reader[%s]: cannot register with broker: %v", r.MDT, err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			r.Signal(1)
			return
		default:
		}

		if err := r.Enqueue(ctx); err != nil {
			logging.Default().Errorf("reader[%s]: enqueue failed, exiting: %v", r.MDT, err)
			r.Signal(1)
			return
		}

		if _, err := r.Serve(ctx, sock, poller); err != nil {
			logging.Default().Errorf("reader[%s]: serve failed, exiting: %v", r.MDT, err)
			r.Signal(1)
			return
		}

		if oneshot && r.Drained() {
			logging.Default().Infof("reader[%s]: drained, exiting (oneshot)", r.MDT)
			r.Signal(1)
			return
		}

		timeout := time.Duration(r.ServePollTimeout()) * time.Millisecond
		select {
		case <-ctx.Done():
			r.Signal(1)
			return
		case <-time.After(timeout):
		}
	}
}

func runBroker(ctx context.Context, wg *sync.WaitGroup, br *broker.Broker, sock transport.Socket, poller transport.Poller) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, err := br.Serve(ctx, sock, poller); err != nil {
			logging.Default().Errorf("broker: serve failed: %v", err)
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// installSignalHandlers wires SIGTERM/SIGINT to root-context cancellation,
// SIGHUP to a best-effort config re-read, and SIGUSR1 to a per-reader
// stats dump, mirroring cmd/ublk-mem/main.go's SIGUSR1 goroutine-stack-dump
// handler repurposed here from stack dumps to ReaderStats dumps.
func installSignalHandlers(cancel context.CancelFunc, readers []*reader.Reader, configPath string, cfg *config.Config) {
	term := make(chan os.Signal, 1)
	signal.Notify(term, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-term
		logging.Default().Info("received shutdown signal")
		cancel()
	}()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			logging.Default().Infof("SIGHUP received, re-reading %s (live readers are not reconfigured)", configPath)
			if f, err := os.Open(configPath); err == nil {
				var reloaded config.Config
				err := config.Parse(f, &reloaded)
				f.Close()
				if err != nil {
					logging.Default().Warnf("config reload failed: %v", err)
				}
			} else {
				logging.Default().Warnf("config reload failed: %v", err)
			}
		}
	}()

	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	go func() {
		for range usr1 {
			logging.Default().Info("=== READER STATS DUMP ===")
			for _, r := range readers {
				s := r.Stats()
				logging.Default().Infof("reader[%s]: read=%d sent=%d acked=%d bytes=%d rate=%.1f/s",
					s.MDT, s.RecordsRead, s.RecordsSent, s.RecordsAcked, s.BytesSent, s.ProcessingRate)
			}
		}
	}()
}
