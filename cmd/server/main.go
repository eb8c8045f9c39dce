package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/nathanyu/subscriber-transfer/internal/config"
	"github.com/nathanyu/subscriber-transfer/internal/cqrs"
	"github.com/nathanyu/subscriber-transfer/internal/engine"
	"github.com/nathanyu/subscriber-transfer/internal/gateway"
	"github.com/nathanyu/subscriber-transfer/internal/journal"
	"github.com/nathanyu/subscriber-transfer/internal/middleware"
	"github.com/nathanyu/subscriber-transfer/internal/queue"
	"github.com/nathanyu/subscriber-transfer/internal/resolver"
	"github.com/nathanyu/subscriber-transfer/internal/store"
	"github.com/nathanyu/subscriber-transfer/internal/telemetry"
)

const serviceName = "subscriber-transfer"

func main() {
	telemetry.InitLogger(serviceName)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	cleanup, err := telemetry.InitTracer(serviceName)
	if err != nil {
		slog.Warn("failed to initialize tracer", "error", err)
	} else {
		defer cleanup()
	}

	gin.SetMode(cfg.GinMode)

	slog.Info("starting subscriber transfer service")

	// Address resolver: static bindings plus trusted prefixes.
	prefixes, err := resolver.ParsePrefixes(cfg.TrustedCIDRs)
	if err != nil {
		slog.Error("invalid trusted CIDR configuration", "error", err)
		os.Exit(1)
	}
	bindings, err := resolver.LoadBindings(cfg.BindingsPath)
	if err != nil {
		slog.Error("failed to load address bindings", "path", cfg.BindingsPath, "error", err)
		os.Exit(1)
	}
	res := resolver.New(bindings, prefixes)
	slog.Info("resolver configured", "bindings", len(bindings), "trusted_prefixes", len(prefixes))

	// Durable journal and the account store it backs.
	jnl, err := journal.Open(cfg.JournalPath)
	if err != nil {
		slog.Error("failed to open journal", "path", cfg.JournalPath, "error", err)
		os.Exit(1)
	}
	defer jnl.Close()

	st := store.New(store.WithJournal(jnl), store.WithLockWait(cfg.LockWait))

	// Optional NATS command bus.
	var natsClient *queue.Client
	if !cfg.DirectMode {
		natsClient, err = queue.NewClient(cfg.NATSURL)
		if err != nil {
			slog.Error("failed to connect to NATS", "url", cfg.NATSURL, "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()
		slog.Info("connected to NATS", "url", cfg.NATSURL)
	}

	eng := engine.New(st, jnl, connOf(natsClient))
	readModel := cqrs.NewReadModel(connOf(natsClient))
	if cfg.DirectMode {
		// With NATS, entries reach the read model through its own
		// subscription; registering the direct handler as well would
		// deliver every entry twice.
		eng.RegisterEntryHandler(readModel.HandleEntry)
	}

	// Replay the journal so balances, projections and idempotency
	// state all survive restarts.
	entries, err := jnl.LoadAll()
	if err != nil {
		slog.Error("failed to load journal", "error", err)
		os.Exit(1)
	}
	if err := st.Replay(entries); err != nil {
		slog.Error("failed to replay journal into store", "error", err)
		os.Exit(1)
	}
	readModel.Replay(entries)
	eng.Restore(entries)

	if natsClient != nil {
		if err := eng.Start(); err != nil {
			slog.Error("failed to start engine", "error", err)
			os.Exit(1)
		}
		defer eng.Stop()

		if err := readModel.Start(engine.EntrySubject); err != nil {
			slog.Error("failed to start read model", "error", err)
			os.Exit(1)
		}
		defer readModel.Stop()
	}

	gw := gateway.New(res, st, readModel, natsClient, eng)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Tracing())
	router.Use(middleware.Metrics())
	router.Use(middleware.RateLimit(rate.Limit(cfg.RateLimit), cfg.RateBurst))
	router.Use(middleware.Admission(res))
	gateway.SetupRoutes(router, gw)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metricsMux,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	go func() {
		slog.Info("metrics server listening", "addr", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced to shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(ctx); err != nil {
		slog.Error("metrics server forced to shutdown", "error", err)
	}

	slog.Info("service stopped")
}

// connOf unwraps the NATS connection, tolerating direct mode.
func connOf(c *queue.Client) *nats.Conn {
	if c == nil {
		return nil
	}
	return c.Conn()
}
