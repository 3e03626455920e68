package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"media-status/internal/library"
	"media-status/internal/platform/config"
	"media-status/internal/platform/logger"
	"media-status/internal/platform/metrics"
	"media-status/internal/platform/ratelimit"
	"media-status/internal/platform/telemetry"
	"media-status/internal/status"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	serviceName     = "media-status"
	shutdownTimeout = 10 * time.Second
)

func main() {
	_ = config.Load()
	cfg := config.FromEnv()

	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	shutdownTracing, err := telemetry.Init(context.Background(), serviceName)
	if err != nil {
		log.Error("telemetry init failed", "error", err)
		os.Exit(1)
	}

	lib, err := library.Open(cfg.LibraryDB)
	if err != nil {
		log.Error("open media library failed", "path", cfg.LibraryDB, "error", err)
		os.Exit(1)
	}
	defer lib.Close()

	if cfg.MediaRoot != "" {
		n, err := lib.Scan(cfg.MediaRoot)
		if err != nil {
			log.Warn("media scan incomplete", "root", cfg.MediaRoot, "catalogued", n, "error", err)
		} else {
			log.Info("media scan finished", "root", cfg.MediaRoot, "catalogued", n)
		}
	}

	registry := status.NewRegistry(lib, log)
	svc := status.NewService(registry, lib, status.NewPlayerDirectory(), cfg.HLSSegmentSeconds)
	met := metrics.New()
	h := status.NewHandler(svc, log, met, status.HandlerConfig{
		UploadDir:      cfg.UploadDir,
		DefaultBitRate: cfg.HLSDefaultBitRate,
		PushInterval:   cfg.WSPushInterval,
	})

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			st := svc.Stats()
			met.SetActiveTransfers(string(status.KindStream), st.ActiveStreams)
			met.SetActiveTransfers(string(status.KindDownload), st.Downloads)
			met.SetActiveTransfers(string(status.KindUpload), st.Uploads)
			met.SetInactiveStreams(st.InactiveStreams)
			met.SetRemotePlays(st.RemotePlays)
		}).ServeHTTP(w, r)
	})
	h.RegisterRoutes(r, ratelimit.Middleware(cfg.RemotePlayRPS, cfg.RemotePlayBurst))

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr: addr,
		Handler: otelhttp.NewHandler(r, serviceName,
			otelhttp.WithFilter(func(r *http.Request) bool { return r.URL.Path != "/metrics" }),
		),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", cfg.Port,
		"library_db", cfg.LibraryDB,
		"upload_dir", cfg.UploadDir,
		"log_level", cfg.LogLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	if err := shutdownTracing(ctx); err != nil {
		log.Warn("tracing shutdown error", "error", err)
	}

	log.Info("server stopped")
}
