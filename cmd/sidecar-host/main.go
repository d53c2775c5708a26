package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/gaspardpetit/sidecar/internal/config"
	"github.com/gaspardpetit/sidecar/internal/docstore"
	"github.com/gaspardpetit/sidecar/internal/host"
	"github.com/gaspardpetit/sidecar/internal/logx"
	"github.com/gaspardpetit/sidecar/internal/metrics"
	"github.com/gaspardpetit/sidecar/internal/redisx"
	"github.com/gaspardpetit/sidecar/internal/transport/redisbus"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	var cfg config.HostConfig
	// Resolve config with precedence: defaults < file < env < args
	cfg.SetDefaults()
	cfg.ApplyEnv()
	for i := 1; i < len(os.Args); i++ {
		a := os.Args[i]
		if (a == "--config" || a == "-config") && i+1 < len(os.Args) {
			cfg.ConfigFile = os.Args[i+1]
			break
		}
		if strings.HasPrefix(a, "--config=") || strings.HasPrefix(a, "-config=") {
			cfg.ConfigFile = a[strings.Index(a, "=")+1:]
			break
		}
	}
	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			logx.Log.Fatal().Err(err).Str("path", cfg.ConfigFile).Msg("load config")
		}
	}
	cfg.ApplyEnv()
	cfg.BindFlagsFromCurrent(nil)
	flag.Usage = func() {
		_, _ = fmt.Fprintf(flag.CommandLine.Output(), "sidecar-host version=%s sha=%s date=%s\n\n", version, buildSHA, buildDate)
		flag.PrintDefaults()
	}
	flag.Parse()
	if *showVersion {
		fmt.Printf("sidecar-host version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}

	logx.Configure(cfg.LogLevel)
	reg := prometheus.NewRegistry()
	metrics.Register(reg)
	metrics.SetBuildInfo(version, buildSHA, buildDate)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var rdb redis.UniversalClient
	if cfg.RedisAddr != "" {
		c, err := redisx.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			logx.Log.Fatal().Err(err).Msg("connect redis")
		}
		rdb = c
		defer func() { _ = rdb.Close() }()
		logx.Log.Info().Str("addr", cfg.RedisAddr).Msg("redis connected")
	}

	store, err := docstore.Open(docstore.Options{Mode: cfg.StorageMode, Dir: cfg.StorageDir, Redis: rdb})
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("open document store")
	}

	h := host.New(host.Options{
		ID:             cfg.HostID,
		Version:        version,
		Store:          store,
		StorageModes:   cfg.StorageModes(),
		Document:       cfg.Document,
		PropertyPanel:  cfg.UI.PropertyPanel,
		Menubar:        cfg.UI.Menubar,
		RequestTimeout: cfg.RequestTimeout,
		Observer:       metrics.Observer{},
	})
	defer h.Close()

	if cfg.RedisChannel != "" {
		if rdb == nil {
			logx.Log.Fatal().Msg("--redis-channel requires --redis-addr")
		}
		t, err := redisbus.New(ctx, rdb, cfg.RedisChannel)
		if err != nil {
			logx.Log.Fatal().Err(err).Msg("subscribe redis channel")
		}
		h.Attach(t)
		logx.Log.Info().Str("channel", cfg.RedisChannel).Msg("serving editors over redis")
	}

	mainAddr := fmt.Sprintf(":%d", cfg.Port)
	metricsAddr := cfg.MetricsListenAddr()
	promHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	var inline http.Handler
	if metricsAddr == mainAddr {
		inline = promHandler
	}
	srv := &http.Server{Addr: mainAddr, Handler: host.NewRouter(h, cfg, inline), ReadHeaderTimeout: 10 * time.Second}
	var metricsSrv *http.Server
	if inline == nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promHandler)
		metricsSrv = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	}

	go func() {
		<-ctx.Done()
		logx.Log.Info().Msg("shutting down")
		if cfg.DrainTimeout != 0 {
			h.Drain(context.Background(), cfg.DrainTimeout)
		}
		h.Close()
		sctx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		if err := srv.Shutdown(sctx); err != nil {
			logx.Log.Error().Err(err).Msg("server shutdown")
		}
		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(sctx); err != nil {
				logx.Log.Error().Err(err).Msg("metrics server shutdown")
			}
		}
	}()

	if metricsSrv != nil {
		go func() {
			logx.Log.Info().Str("addr", metricsAddr).Msg("metrics server starting")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logx.Log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}
	logx.Log.Info().Int("port", cfg.Port).Str("ws_path", cfg.WSPath).Str("storage", store.Mode()).Msg("host starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logx.Log.Fatal().Err(err).Msg("server error")
	}
}
