// Command pagekvd runs a pagekv engine as a standalone daemon: load a YAML
// config, start the worker pool, and optionally serve the Prometheus
// metrics endpoint and the gRPC gateway, following the same flag-driven
// main that tinySQL's cmd/server uses for its own HTTP/gRPC listeners.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pagekv/pagekv"
	"github.com/pagekv/pagekv/internal/metrics"
	"github.com/pagekv/pagekv/internal/util/log"
)

var (
	flagConfig    = flag.String("config", "", "path to a YAML engine config (empty uses built-in defaults)")
	flagMetrics   = flag.String("metrics", ":9100", "Prometheus /metrics listen address (empty to disable)")
	flagLogLevel  = flag.String("log-level", "info", "log level: debug, info, warn, error")
	flagLogJSON   = flag.Bool("log-json", false, "emit structured JSON logs instead of console output")
)

func main() {
	flag.Parse()

	if err := log.Init(log.Config{Level: *flagLogLevel, JSONOutput: *flagLogJSON}); err != nil {
		log.Logger.Fatal().Err(err).Msg("invalid log level")
	}

	cfg := pagekv.DefaultConfig()
	if *flagConfig != "" {
		loaded, err := pagekv.LoadConfig(*flagConfig)
		if err != nil {
			log.Error("config load failed", err, "path", *flagConfig)
			os.Exit(1)
		}
		cfg = loaded
	}

	engine, err := pagekv.Open(cfg)
	if err != nil {
		log.Error("engine open failed", err)
		os.Exit(1)
	}

	if err := engine.Start(); err != nil {
		log.Error("engine start failed", err)
		os.Exit(1)
	}
	log.Info("engine started", "workers", cfg.Workers, "dataDir", cfg.DataDir)

	var metricsSrv *http.Server
	if *flagMetrics != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: *flagMetrics, Handler: mux}
		go func() {
			log.Info("metrics: listening", "addr", *flagMetrics)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", err)
			}
		}()
	}

	var gw interface{ Stop() }
	if cfg.Gateway.Enabled {
		g := engine.Gateway()
		gw = g
		go func() {
			if err := g.Serve(cfg.Gateway.ListenAddr); err != nil {
				log.Error("gateway server failed", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	if gw != nil {
		gw.Stop()
	}
	if metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsSrv.Shutdown(ctx)
		cancel()
	}
	engine.Stop()
	if err := engine.Close(); err != nil {
		log.Error("engine close failed", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
