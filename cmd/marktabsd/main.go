// Package main implements the tab-mark daemon. It keeps three loosely
// coupled stores consistent: the durable tab-fact store (JetStream KV),
// the in-memory tab cache, and the remote sidebar process that renders
// marks as presentation states.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Lej77/tst-mark-tabs/bridge/natsbridge"
	"github.com/Lej77/tst-mark-tabs/bridge/wsbridge"
	"github.com/Lej77/tst-mark-tabs/config"
	"github.com/Lej77/tst-mark-tabs/marker"
	"github.com/Lej77/tst-mark-tabs/metric"
	"github.com/Lej77/tst-mark-tabs/natsclient"
	"github.com/Lej77/tst-mark-tabs/sidebar"
	"github.com/Lej77/tst-mark-tabs/storage/tabstore"
	"github.com/Lej77/tst-mark-tabs/tabcache"
	"github.com/Lej77/tst-mark-tabs/types"
)

const (
	Version = "0.1.0"
	appName = "marktabsd"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("daemon failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to JSON config file (defaults apply when empty)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)
	logger.Info("starting", "config", *configPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metric.NewMetricsRegistry()
	metricsSrv := startMetricsServer(cfg.Metrics, registry, logger)

	// NATS carries the durable store, and the sidebar too unless the
	// websocket transport is selected.
	client, err := natsclient.NewClient(cfg.NATS.URL,
		natsclient.WithName(cfg.NATS.Name),
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(registry),
		natsclient.WithTimeout(cfg.NATS.ConnectTimeout.Std()),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait.Std()),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects))
	if err != nil {
		return err
	}
	connectCtx, cancel := context.WithTimeout(ctx, cfg.NATS.ConnectTimeout.Std())
	err = client.Connect(connectCtx)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.Close(closeCtx); err != nil {
			logger.Warn("nats close failed", "error", err)
		}
	}()

	bucket, err := client.EnsureKeyValue(ctx, jetstream.KeyValueConfig{Bucket: cfg.Store.Bucket})
	if err != nil {
		return err
	}
	kv := client.NewKVStore(bucket, func(o *natsclient.KVOptions) {
		o.Timeout = cfg.Store.OpTimeout.Std()
	})
	store := tabstore.New(kv, tabstore.WithLogger(logger))

	notifier, closeBridge, err := buildNotifier(ctx, cfg, client, logger)
	if err != nil {
		return err
	}
	defer closeBridge()

	cache := tabcache.New(store, cfg.Cache.MonitoredKeys,
		tabcache.WithLogger(logger),
		tabcache.WithMetrics(registry, "tabs"),
		tabcache.WithIdleEviction(cfg.Cache.IdleEviction.Std()))
	defer cache.Dispose()

	if !cache.Start(ctx) {
		logger.Warn("cache bootstrap degraded, continuing with partial data")
	}

	sync, err := marker.New(cache, notifier, cfg.Marker,
		marker.WithLogger(logger),
		marker.WithMetrics(registry))
	if err != nil {
		return err
	}
	defer sync.Dispose(context.Background())

	if err := sync.Start(ctx); err != nil {
		return err
	}

	// Externally-made store changes flow into the cache, and from
	// there into the synchronizer. Tab lifecycle is synthesized from
	// the fact traffic, so closed tabs leave the cache too.
	stopWatch, err := store.Watch(ctx, tabstore.WatchHandlers{
		TabCreated:  func(ev types.TabCreated) { cache.HandleTabCreated(ctx, ev.Tab) },
		TabRemoved:  func(ev types.TabRemoved) { cache.HandleTabRemoved(ctx, ev.Tab) },
		FactChanged: func(ev types.FactChanged) { cache.HandleFactChanged(ctx, ev) },
	})
	if err != nil {
		return err
	}
	defer stopWatch()

	if err := wireSidebarEvents(notifier, sync, store, cache, logger); err != nil {
		return err
	}

	// A NATS reconnect may have dropped sidebar traffic; rebuild the
	// sidebar-side state from belief.
	client.OnReconnect(func() {
		if err := sync.ResetMirror(context.Background()); err != nil {
			logger.Warn("post-reconnect mirror reset failed", "error", err)
		}
	})

	logger.Info("running", "bucket", cfg.Store.Bucket, "transport", cfg.Sidebar.Transport)
	<-ctx.Done()
	logger.Info("shutting down")

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown failed", "error", err)
		}
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return &cfg, nil
	}
	return config.Load(path)
}

// buildNotifier selects the sidebar transport. The returned close
// function is a no-op for the NATS bridge, which shares the client's
// lifecycle.
func buildNotifier(ctx context.Context, cfg *config.Config, client *natsclient.Client, logger *slog.Logger) (sidebar.Notifier, func(), error) {
	switch cfg.Sidebar.Transport {
	case config.TransportWebsocket:
		bridge, err := wsbridge.Dial(ctx, cfg.Sidebar.URL,
			wsbridge.WithLogger(logger),
			wsbridge.WithRequestTimeout(cfg.Sidebar.RequestTimeout.Std()))
		if err != nil {
			return nil, nil, err
		}
		return bridge, func() { _ = bridge.Close() }, nil
	default:
		bridge := natsbridge.New(client,
			natsbridge.WithSubjectPrefix(cfg.Sidebar.SubjectPrefix),
			natsbridge.WithRequestTimeout(cfg.Sidebar.RequestTimeout.Std()),
			natsbridge.WithLogger(logger))
		return bridge, func() {}, nil
	}
}

// wireSidebarEvents routes host announcements into the engine: a
// restart re-asserts everything, a moved tab re-asserts that tab, and
// a closed tab has its durable facts dropped.
func wireSidebarEvents(notifier sidebar.Notifier, sync *marker.Synchronizer,
	store *tabstore.Store, cache *tabcache.Cache, logger *slog.Logger) error {

	onRestart := func() {
		if err := sync.ResetMirror(context.Background()); err != nil {
			logger.Warn("mirror reset after sidebar restart failed", "error", err)
		}
	}
	onMoved := func(tab types.TabID) {
		if !sync.HandleTabMoved(context.Background(), tab) {
			logger.Warn("moved-tab state restore failed", "tab", tab)
		}
	}
	onClosed := func(tab types.TabID) {
		ctx := context.Background()
		if err := store.RemoveTab(ctx, tab); err != nil {
			logger.Warn("closed-tab fact cleanup failed", "tab", tab, "error", err)
		}
		cache.HandleTabRemoved(ctx, tab)
	}

	switch bridge := notifier.(type) {
	case *wsbridge.Bridge:
		bridge.OnSidebarRestarted(onRestart)
		bridge.OnTabMoved(onMoved)
		bridge.OnTabRemoved(onClosed)
		return nil
	case *natsbridge.Bridge:
		if err := bridge.OnSidebarRestarted(onRestart); err != nil {
			return err
		}
		if err := bridge.OnTabMoved(onMoved); err != nil {
			return err
		}
		return bridge.OnTabRemoved(onClosed)
	default:
		return nil
	}
}

func startMetricsServer(cfg config.MetricsConfig, registry *metric.MetricsRegistry, logger *slog.Logger) *http.Server {
	if !cfg.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry.PrometheusRegistry(), promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics endpoint listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}
