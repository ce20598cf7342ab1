// Command core runs the telemetry aggregation process: it accepts shard
// connections over the shard link, accepts dashboard connections over
// the feed link, and serves /health and /metrics.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "go.uber.org/automaxprocs"

	"github.com/odin-telemetry/core/internal/aggregator"
	"github.com/odin-telemetry/core/internal/config"
	"github.com/odin-telemetry/core/internal/feedlink"
	"github.com/odin-telemetry/core/internal/health"
	"github.com/odin-telemetry/core/internal/logging"
	"github.com/odin-telemetry/core/internal/metrics"
	"github.com/odin-telemetry/core/internal/shardlink"
	"github.com/odin-telemetry/core/internal/sysinfo"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	flag.Parse()

	cfg, err := config.LoadCore()
	if err != nil {
		panic(err)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Role: "core"})
	metrics.Register()

	agg := aggregator.New(cfg.Denylist, cfg.MaxThirdPartyNodes, cfg.FirstPartyChains, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go agg.Run(ctx)

	shardSrv := shardlink.New(agg, logger)
	feedSrv := feedlink.New(agg, logger)

	mux := http.NewServeMux()
	mux.Handle("/feed", feedSrv)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", health.Handler(func() health.Status {
		snap := sysinfo.Read()
		return health.Status{
			Healthy: true,
			Details: map[string]any{"resources": snap},
		}
	}))

	httpServer := &http.Server{Addr: cfg.FeedAddr, Handler: mux}

	shardMux := http.NewServeMux()
	shardMux.Handle("/shard_submit", shardSrv)
	shardServer := &http.Server{Addr: cfg.ShardAddr, Handler: shardMux}

	go func() {
		logger.Info().Str("addr", cfg.FeedAddr).Msg("feed listener starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("feed listener stopped")
		}
	}()
	go func() {
		logger.Info().Str("addr", cfg.ShardAddr).Msg("shard listener starting")
		if err := shardServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("shard listener stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down core")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = shardServer.Shutdown(shutdownCtx)
}
