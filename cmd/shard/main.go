// Command shard runs one ShardIngest process: it accepts node websocket
// connections, forwards decoded telemetry to core over CoreLink, and
// serves /health and /metrics.
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

	"github.com/odin-telemetry/core/internal/config"
	"github.com/odin-telemetry/core/internal/connlimit"
	"github.com/odin-telemetry/core/internal/corelink"
	"github.com/odin-telemetry/core/internal/health"
	"github.com/odin-telemetry/core/internal/logging"
	"github.com/odin-telemetry/core/internal/metrics"
	"github.com/odin-telemetry/core/internal/ratelimit"
	"github.com/odin-telemetry/core/internal/shardserver"
	"github.com/odin-telemetry/core/internal/sysinfo"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	flag.Parse()

	cfg, err := config.LoadShard()
	if err != nil {
		panic(err)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Role: "shard"})
	metrics.Register()

	link := corelink.New(cfg.CoreURL, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go link.Run(ctx)

	limits := connlimit.New(connlimit.Config{Logger: logger})
	blocks := ratelimit.NewBlocklist()

	srv := shardserver.New(shardserver.Config{
		MaxNodesPerConnection: cfg.MaxNodesPerConnection,
		MaxBytesPerSecond:     cfg.MaxBytesPerSecond,
		BlockDuration:         cfg.BlockDuration,
	}, link, limits, blocks, logger)

	go relayMutes(ctx, link, srv)

	mux := http.NewServeMux()
	mux.Handle("/submit", srv)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", health.Handler(func() health.Status {
		snap := sysinfo.Read()
		return health.Status{
			Healthy: link.Status() == corelink.StateConnected,
			Details: map[string]any{"resources": snap},
		}
	}))

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("shard ingest listener starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("shard ingest listener stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down shard")
	cancel()
	limits.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

// relayMutes forwards core's Mute decisions into the shard server so it
// stops forwarding a rejected node's telemetry.
func relayMutes(ctx context.Context, link *corelink.Link, srv *shardserver.Server) {
	for {
		select {
		case <-ctx.Done():
			return
		case mute := <-link.Inbound():
			srv.HandleMute(mute.LocalId)
		}
	}
}
