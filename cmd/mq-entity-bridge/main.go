package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/platformbuilds/mq-entity-bridge/internal/config"
	"github.com/platformbuilds/mq-entity-bridge/internal/observability"
	"github.com/platformbuilds/mq-entity-bridge/internal/pipeline"

	"golang.org/x/sync/errgroup"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// These can be overridden at build time using -ldflags:
//
//	-ldflags="-X main.version=$(git describe --tags --dirty --always) -X main.commit=$(git rev-parse --short HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// -------- flags & env --------
	defaultCfg := envOr("MQBRIDGE_CONFIG", "config.yaml")
	var (
		cfgPath     = flag.String("config", defaultCfg, "Path to the config YAML")
		metricsAddr = flag.String("metrics.addr", envOr("MQBRIDGE_METRICS_ADDR", ":9090"), "Prometheus metrics HTTP listen address")
		pprofAddr   = flag.String("pprof.addr", envOr("MQBRIDGE_PPROF_ADDR", ""), "pprof HTTP listen address (disabled if empty)")
		logTime     = flag.Bool("log.timestamps", true, "Include timestamps in log output")
	)
	flag.Parse()

	if *logTime {
		log.SetFlags(log.LstdFlags | log.Lmsgprefix)
	} else {
		log.SetFlags(0)
	}
	log.Printf("mq-entity-bridge %s (commit %s, built %s)", version, commit, date)

	// -------- load config --------
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("loaded config from %s with %d receiver(s), account=%s provider=%s",
		*cfgPath, len(cfg.Receivers), cfg.AccountID, cfg.Provider)

	// -------- root context & signals --------
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// -------- metrics & health servers --------
	ready := &atomic.Bool{}
	ready.Store(false)

	metrics := observability.New(prometheus.DefaultRegisterer)

	metricsSrv := &http.Server{
		Addr:              *metricsAddr,
		Handler:           setupMetricsMux(ready),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("metrics: listening on %s", *metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics: server error: %v", err)
		}
	}()

	// Optional pprof (disabled by default)
	if *pprofAddr != "" {
		go func() {
			pp := &http.Server{Addr: *pprofAddr, Handler: pprofMux()}
			log.Printf("pprof: listening on %s", *pprofAddr)
			if err := pp.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("pprof: server error: %v", err)
			}
		}()
	}

	// -------- run the pipeline (blocking until ctx done) --------
	var g errgroup.Group

	g.Go(func() error {
		ready.Store(true) // mark ready once the pipeline starts
		if err := pipeline.New(cfg, metrics).Run(ctx); err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}
		return nil
	})

	// signal watcher
	g.Go(func() error {
		s := <-sigCh
		log.Printf("signal received: %s — initiating graceful shutdown", s)
		cancel()
		return nil
	})

	// graceful shutdown of metrics server when ctx ends
	g.Go(func() error {
		<-ctx.Done()
		shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shCancel()
		if err := metricsSrv.Shutdown(shCtx); err != nil {
			log.Printf("metrics: shutdown error: %v", err)
		}
		return nil
	})

	// wait for all
	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Printf("shutdown with error: %v", err)
	} else {
		log.Printf("shutdown complete")
	}
}

// setupMetricsMux registers Prometheus /metrics plus simple health endpoints.
func setupMetricsMux(ready *atomic.Bool) http.Handler {
	mux := http.NewServeMux()
	// Prometheus scrape endpoint
	mux.Handle("/metrics", promhttp.Handler())
	// Liveness: if the process is up, return 200
	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	// Readiness: once the pipeline started, return 200
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if ready.Load() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		http.Error(w, "not ready", http.StatusServiceUnavailable)
	})
	return mux
}

// pprofMux builds a mux with the standard pprof handlers on their usual paths.
func pprofMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
