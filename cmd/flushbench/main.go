// Command flushbench runs a synthetic write/read workload against a sharded
// index while background workers flush it into bucket storage, and exposes
// optional pprof/Prometheus endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"os"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/shardindex/index"
	pmet "github.com/IvanBrykalov/shardindex/metrics/prom"
	"github.com/IvanBrykalov/shardindex/policy/dirtiest"
)

func main() {
	// ---- Flags ----
	var (
		bins    = flag.Int("bins", 64, "number of bins (shards)")
		threads = flag.Int("threads", 1, "background flush workers")
		dir     = flag.String("dir", "", "bucket directory (empty = memory-only)")
		policy  = flag.String("policy", "roundrobin", "flush selection policy: roundrobin | dirtiest")
		age     = flag.Duration("age", 5*time.Second, "age threshold before entries leave memory")
		wait    = flag.Duration("wait", index.DefaultWaitTimeout, "worker wait timeout")
		rateLim = flag.Int("flush_rate", 0, "max flushed entries per second (0 = unlimited)")

		clients  = flag.Int("clients", 2*runtime.GOMAXPROCS(0), "number of client goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		readPct  = flag.Int("reads", 80, "read percentage [0..100]")
		keys     = flag.Int("keys", 1_000_000, "keyspace size")
		zipfS    = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV    = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed     = flag.Int64("seed", time.Now().UnixNano(), "random seed")

		logLevel  = flag.String("log-level", "info", "log level: debug | info | warn | error")
		logFormat = flag.String("log-format", "text", "log format: text | json")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	flag.Parse()

	logger, err := newLogger(*logLevel, *logFormat)
	if err != nil {
		log.Fatal(err)
	}

	// ---- pprof server (on DefaultServeMux) ----
	if *pprofAddr != "" {
		go func() {
			logger.Info("pprof serving", "addr", *pprofAddr)
			logger.Error("pprof server stopped", "err", http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	// ---- Prometheus metrics (on DefaultServeMux) ----
	metrics := pmet.New(nil, "shardindex", "bench", nil)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		logger.Info("metrics serving", "addr", *metricsAddr)
		logger.Error("metrics server stopped", "err", http.ListenAndServe(*metricsAddr, nil))
	}()

	// ---- Build index ----
	opt := &index.Options[string, []byte]{
		FlushThreads:   *threads,
		WaitTimeout:    *wait,
		AgeThreshold:   *age,
		FlushRateLimit: *rateLim,
		BucketDir:      *dir,
		Metrics:        metrics,
		Logger:         logger,
	}
	switch *policy {
	case "roundrobin":
		// nil => round robin by default
	case "dirtiest":
		opt.Policy = dirtiest.New(0)
	default:
		log.Fatalf("unknown policy: %q (use roundrobin or dirtiest)", *policy)
	}
	o, err := index.New[string, []byte](*bins, opt)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		if err := o.Close(); err != nil {
			logger.Error("close failed", "err", err)
		}
	}()
	if *bins == 0 {
		logger.Warn("zero bins: nothing to route keys to")
		return
	}

	// ---- Load generation ----
	readPctVal := *readPct
	keysMax := uint64(max(*keys, 1) - 1)
	clientsN := max(*clients, 1)

	var reads, writes, hits, misses, total atomic.Uint64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	var g errgroup.Group
	for c := 0; c < clientsN; c++ {
		g.Go(func() error {
			// Each client gets its own RNG + Zipf (rand.Rand is NOT goroutine-safe).
			r := rand.New(rand.NewSource(*seed + int64(c)*9973))
			zipf := rand.NewZipf(r, *zipfS, *zipfV, keysMax)

			for ctx.Err() == nil {
				k := "k:" + strconv.FormatUint(zipf.Uint64(), 10)
				s := o.ShardFor(k)
				total.Add(1)
				if int(r.Int31n(100)) < readPctVal {
					reads.Add(1)
					_, ok, err := s.Get(ctx, k)
					if err != nil && ctx.Err() == nil {
						return err
					}
					if ok {
						hits.Add(1)
					} else {
						misses.Add(1)
					}
				} else {
					writes.Add(1)
					s.Upsert(k, []byte("v"+strconv.Itoa(r.Int())))
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("client failed", "err", err)
	}
	elapsed := time.Since(start)

	// ---- Report ----
	ops := total.Load()
	hitRate := 0.0
	if n := reads.Load(); n > 0 {
		hitRate = float64(hits.Load()) / float64(n) * 100
	}
	st := o.Stats()

	fmt.Printf("bins=%d threads=%d policy=%s dir=%q clients=%d keys=%d dur=%v seed=%d\n",
		*bins, *threads, *policy, *dir, clientsN, *keys, elapsed, *seed)
	fmt.Printf("ops=%d (%.0f ops/s)  reads=%d  writes=%d\n",
		ops, float64(ops)/elapsed.Seconds(), reads.Load(), writes.Load())
	fmt.Printf("hits=%d  misses=%d  hit-rate=%.2f%%\n", hits.Load(), misses.Load(), hitRate)
	fmt.Printf("scans=%d  flushed=%d  evicted=%d  loaded=%d  flush_errors=%d  resident=%d  dirty=%d\n",
		st.ScanPasses, st.FlushedEntries, st.EvictedEntries, st.LoadedEntries, st.FlushErrors, st.Resident, st.Dirty)
}

// newLogger builds the process logger from flag values.
func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("bad -log-level %q: %w", level, err)
	}
	hopt := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, hopt)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, hopt)), nil
	default:
		return nil, fmt.Errorf("bad -log-format %q (use text or json)", format)
	}
}
