package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/josinaldojr/smart-mrag/internal/app"
	"github.com/josinaldojr/smart-mrag/internal/config"
	apphttp "github.com/josinaldojr/smart-mrag/internal/http"
	"github.com/josinaldojr/smart-mrag/internal/logging"
	"github.com/josinaldojr/smart-mrag/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, logCloser, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Options{Dir: cfg.TelemetryDir})
	if err != nil {
		logger.Warn("telemetry disabled", "err", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Error("telemetry shutdown", "err", err)
		}
	}()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build session", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	var history apphttp.HistoryReader
	if a.History != nil {
		history = a.History
	}
	var opts []apphttp.HandlerOption
	if cfg.DocumentsRoot != "" {
		opts = append(opts, apphttp.WithDocumentsRoot(cfg.DocumentsRoot))
	} else {
		logger.Info("DOCUMENTS_ROOT not set, POST /documents only accepts uploads")
	}
	h := apphttp.NewHandler(a.Service, history, logger, opts...)
	handler := apphttp.CORSMiddleware(apphttp.NewRouter(h))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	logger.Info("API listening", "addr", srv.Addr, "store", cfg.Store, "collection", cfg.Collection)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped", "err", err)
	}
}
