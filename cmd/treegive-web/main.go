// treegive-web serves the browser-facing checkout flow of the treegive
// tree-donation platform over the donation backend's REST API.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ormanly/treegive"
	"github.com/ormanly/treegive/internal/web"
)

func main() {
	var (
		configPath = flag.String("config", "treegive.yaml", "Path to YAML config")
		listenAddr = flag.String("listen", "", "Listen address (overrides config)")
		verbose    = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	cfg, err := treegive.LoadConfig(*configPath)
	if err != nil {
		logger.Error("loading config", "error", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}

	store, err := treegive.OpenSQLiteStore(cfg.StorePath)
	if err != nil {
		logger.Error("opening client store", "path", cfg.StorePath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	api, err := treegive.NewClient(
		treegive.WithBaseURL(cfg.BaseURL),
		treegive.WithRetry(),
	)
	if err != nil {
		logger.Error("building gateway client", "error", err)
		os.Exit(1)
	}

	handler := web.NewHandler(cfg, api, treegive.NewStateStore(store), logger)
	defer handler.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := handler.RestoreSession(ctx); err != nil {
		logger.Warn("could not restore stored session", "error", err)
	}

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("treegive-web listening", "addr", cfg.ListenAddr, "backend", cfg.BaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
