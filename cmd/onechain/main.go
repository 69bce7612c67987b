package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dd0wney/onechain/pkg/config"
	"github.com/dd0wney/onechain/pkg/digest"
	"github.com/dd0wney/onechain/pkg/health"
	"github.com/dd0wney/onechain/pkg/logging"
	"github.com/dd0wney/onechain/pkg/lsm"
	"github.com/dd0wney/onechain/pkg/metrics"
	"github.com/dd0wney/onechain/pkg/sys"
)

// version is overridden at link time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

// maxPhoneKeys bounds -count so every key renders as ten digits
const maxPhoneKeys = 100_000_000

// run drives the engine. It returns instead of exiting so the deferred Close
// always performs the final sync.
func run(args []string) (err error) {
	fs := flag.NewFlagSet("onechain", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	dataDir := fs.String("data-dir", "", "Data directory (overrides config)")
	count := fs.Int("count", 1000, "Number of phone numbers to write")
	deleteEvery := fs.Int("delete-every", 10, "Delete every Nth phone number (0 disables)")
	compact := fs.Bool("compact", false, "Compact segments after writing")
	metricsAddr := fs.String("metrics-addr", "", "Serve /metrics and /health on this address and wait for a signal")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *count < 0 || *count > maxPhoneKeys {
		return fmt.Errorf("-count must be between 0 and %d", maxPhoneKeys)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	logger := logging.NewJSONLogger(os.Stderr, cfg.Level())
	registry := metrics.NewRegistry()
	registry.SetBuildInfo(version)

	opts, err := cfg.EngineOptions(logger, registry)
	if err != nil {
		return fmt.Errorf("engine options: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := lsm.OpenContext(ctx, opts)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer func() {
		if cerr := engine.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close engine: %w", cerr))
		}
	}()

	var server *http.Server
	if cfg.MetricsAddr != "" {
		server = serve(cfg.MetricsAddr, registry, newChecker(engine, cfg), logger)
	}

	fmt.Printf("onechain: %s (%s)\n", cfg.DataDir, opts.Compression)

	start := time.Now()
	deleted := 0
	for i := 0; i < *count; i++ {
		key := phoneKey(i)
		if err := engine.Put(key); err != nil {
			return fmt.Errorf("write %d: %w", i, err)
		}
		if *deleteEvery > 0 && i%*deleteEvery == 0 {
			if err := engine.Delete(key); err != nil {
				return fmt.Errorf("delete %d: %w", i, err)
			}
			deleted++
		}
	}
	if err := engine.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	elapsed := time.Since(start)
	fmt.Printf("  wrote %d, deleted %d in %v (%.0f ops/sec)\n",
		*count, deleted, elapsed, float64(*count+deleted)/elapsed.Seconds())

	if *compact {
		if err := engine.Compact(); err != nil {
			return fmt.Errorf("compact: %w", err)
		}
	}

	printStats(engine.Stats())
	spotCheck(engine, *count)

	if server != nil {
		fmt.Printf("\nServing /metrics and /health on %s, interrupt to exit\n", cfg.MetricsAddr)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", logging.Error(err))
		}
	}
	return nil
}

// phoneKey renders i as a ten digit mobile number. i must be below maxPhoneKeys.
func phoneKey(i int) digest.Key {
	var key digest.Key
	copy(key[:], fmt.Sprintf("04%08d", i))
	return key
}

// maxHealthySegments is the open segment count above which compaction is due
const maxHealthySegments = 32

func newChecker(engine *lsm.Engine, cfg *config.Config) *health.Checker {
	checker := health.NewChecker()
	checker.Register("engine", health.KindLiveness, health.EngineCheck(engine.Closed))
	checker.Register("disk_space", health.KindReadiness, health.DiskSpaceCheck(func() (uint64, uint64, error) {
		return sys.DiskUsage(cfg.DataDir)
	}))
	checker.Register("segments", health.KindGeneral, health.SegmentCheck(func() int {
		return engine.Stats().SegmentCount
	}, maxHealthySegments))
	checker.Register("pinned_memory", health.KindGeneral, health.PinnedMemoryCheck(cfg.PinMemory, engine.PinnedBytes))
	checker.Register("memory", health.KindGeneral, health.MemoryCheck())
	return checker
}

// serve exposes /metrics and the health endpoints on addr
func serve(addr string, registry *metrics.Registry, checker *health.Checker, logger logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry.GetPrometheusRegistry(), promhttp.HandlerOpts{}))
	checker.Mount(mux)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", logging.Error(err))
		}
	}()
	return server
}

func printStats(s lsm.StatsSnapshot) {
	fmt.Printf("\nStats:\n")
	fmt.Printf("  Writes: %d  Deletes: %d  Lookups: %d\n", s.WriteCount, s.DeleteCount, s.LookupCount)
	fmt.Printf("  Buffer flushes: %d  MemTable flushes: %d  Compactions: %d\n",
		s.BufferFlushes, s.MemTableFlushes, s.CompactionCount)
	fmt.Printf("  Segments: %d (%d bytes written)  Recovered records: %d\n",
		s.SegmentCount, s.SegmentBytes, s.RecoveredRecords)
	fmt.Printf("  Buffer: %d records, fingerprint %s\n", s.BufferRecords, s.BufferDigest)
}

// spotCheck looks up a spread of written and unwritten numbers
func spotCheck(engine *lsm.Engine, count int) {
	fmt.Printf("\nSpot checks:\n")
	for _, i := range []int{0, 1, count / 2, count - 1, count, count * 2} {
		if i < 0 || i >= maxPhoneKeys {
			continue
		}
		fmt.Printf("  04%08d present=%v\n", i, engine.MayContain(phoneKey(i)))
	}

	s := engine.Stats()
	fmt.Printf("  bloom negatives: %d  cache hits: %d  misses: %d\n", s.BloomNegatives, s.CacheHits, s.CacheMisses)
}
