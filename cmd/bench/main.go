// Command bench runs a synthetic session/container workload against the
// scoper and exposes optional pprof/Prometheus endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
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

	"github.com/IvanBrykalov/scopecache/config"
	pmet "github.com/IvanBrykalov/scopecache/metrics/prom"
	"github.com/IvanBrykalov/scopecache/scope"
)

type view struct{ id int }

var errRefused = errors.New("bench: construction refused")

func main() {
	// ---- Flags ----
	var (
		cfgPath = flag.String("config", "", "YAML config file (optional)")
		shards  = flag.Int("shards", -1, "session shards (-1 = from config, 0 = auto)")

		workers  = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		views    = flag.Int("views", 4, "containers constructed per session")
		resolves = flag.Int("resolves", 32, "resolves per container after commit")
		kinds    = flag.Int("kinds", 64, "distinct keys per container")
		failPct  = flag.Int("fail", 5, "percentage of constructions that roll back [0..100]")
		zipfS    = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (key skew)")
		seed     = flag.Int64("seed", time.Now().UnixNano(), "random seed")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bench:", err)
		os.Exit(1)
	}
	logger := cfg.Logger()
	if *shards >= 0 {
		cfg.Scope.Shards = *shards
	}

	// ---- pprof server (on DefaultServeMux) ----
	if *pprofAddr != "" {
		go func() {
			logger.Info().Str("addr", *pprofAddr).Msg("pprof: serving")
			logger.Error().Err(http.ListenAndServe(*pprofAddr, nil)).Msg("pprof: stopped")
		}()
	}

	// ---- Prometheus metrics (on DefaultServeMux) ----
	metrics := pmet.New(nil, "scopecache", "bench", nil)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		logger.Info().Str("addr", *metricsAddr).Msg("metrics: serving")
		logger.Error().Err(http.ListenAndServe(*metricsAddr, nil)).Msg("metrics: stopped")
	}()

	// ---- Build scoper ----
	pool := scope.NewPool(cfg.PoolOptions(metrics, &logger))
	s := scope.New(scope.Options[string, *view]{
		Pool:        pool,
		Shards:      cfg.Scope.Shards,
		CloseValues: cfg.Scope.CloseValues,
		Metrics:     metrics,
		Logger:      &logger,
	})

	// Keys are built once; resolves only pick among them.
	keyset := make([]scope.Key, max(*kinds, 1))
	for i := range keyset {
		keyset[i] = scope.Qualified("bench.value", strconv.Itoa(i))
	}

	// ---- Snapshot flags for goroutines ----
	workersN := max(*workers, 1)
	viewsN, resolvesN, failPctVal := *views, *resolves, *failPct
	seedBase, zipfSVal := *seed, *zipfS

	// ---- Load generation ----
	var sessions, commits, rollbacks, hits, total atomic.Uint64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workersN; w++ {
		g.Go(func() error {
			// rand.Rand is not goroutine-safe; one per worker.
			localR := rand.New(rand.NewSource(seedBase + int64(w)*9973))
			localZipf := rand.NewZipf(localR, zipfSVal, 1, uint64(len(keyset)-1))
			prefix := "w" + strconv.Itoa(w) + ":"

			for n := 0; gctx.Err() == nil; n++ {
				sess := prefix + strconv.Itoa(n)
				s.OnSessionStart(sess)
				sctx := scope.WithSession(gctx, sess)

				for v := 0; v < viewsN; v++ {
					refuse := int(localR.Int31n(100)) < failPctVal
					ui, err := scope.Construct(sctx, s, func(ictx context.Context) (*view, error) {
						for i := 0; i < 4; i++ {
							if _, err := s.Resolve(ictx, keyset[localZipf.Uint64()], newValue); err != nil {
								return nil, err
							}
						}
						if refuse {
							return nil, errRefused
						}
						return &view{id: v}, nil
					})
					if err != nil {
						if !errors.Is(err, errRefused) {
							return err
						}
						rollbacks.Add(1)
						continue
					}
					commits.Add(1)

					vctx := scope.WithContainer(sctx, ui)
					c := s.Cache(vctx)
					for i := 0; i < resolvesN; i++ {
						k := keyset[localZipf.Uint64()]
						if _, ok := c.Get(k); ok {
							hits.Add(1)
						}
						if _, err := s.Resolve(vctx, k, newValue); err != nil {
							return err
						}
						total.Add(1)
					}
				}

				s.OnSessionEnd(sess)
				sessions.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("bench: worker failed")
	}
	elapsed := time.Since(start)

	// ---- Report ----
	ops := total.Load()
	hitRate := 0.0
	if ops > 0 {
		hitRate = float64(hits.Load()) / float64(ops) * 100
	}
	st := pool.Stats()

	fmt.Printf("workers=%d views=%d resolves=%d kinds=%d fail=%d%% dur=%v seed=%d\n",
		workersN, viewsN, resolvesN, len(keyset), failPctVal, elapsed, seedBase)
	fmt.Printf("sessions=%d (%.0f/s)  commits=%d  rollbacks=%d\n",
		sessions.Load(), float64(sessions.Load())/elapsed.Seconds(), commits.Load(), rollbacks.Load())
	fmt.Printf("resolves=%d (%.0f ops/s)  hit-rate=%.2f%%\n", ops, float64(ops)/elapsed.Seconds(), hitRate)
	fmt.Printf("pool: leased=%d reused=%d released=%d discarded=%d idle=%d\n",
		st.Leased, st.Reused, st.Released, st.Discarded, st.Idle)
}

func newValue(context.Context) (any, error) { return new([64]byte), nil }

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFile(path)
}
