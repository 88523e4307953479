package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/koraltal167/moviesquad/client"
	"github.com/koraltal167/moviesquad/internal/api"
	"github.com/koraltal167/moviesquad/internal/config"
	"github.com/koraltal167/moviesquad/internal/db"
	"github.com/koraltal167/moviesquad/internal/logging"
)

func main() {
	// .env is optional and only a convenience for development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Sugar().Fatalw("failed to load config", "err", err)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logger.Sync()
	log := logger.Sugar()

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		log.Fatalw("failed to create data directory", "dir", cfg.DataDir, "err", err)
	}

	store, err := db.Open(filepath.Join(cfg.DataDir, "client.db"))
	if err != nil {
		log.Fatalw("failed to open database", "err", err)
	}
	defer store.Close()

	apiClient := api.New(cfg.Backend.BaseURL, cfg.Backend.Timeout)
	handler := client.NewHandler(cfg, apiClient, store, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Resume the chat session if the user is still logged in.
	if err := handler.StartSavedSession(ctx); err != nil {
		log.Warnw("failed to resume session", "err", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handler.HandleWebSocket)
	mux.HandleFunc("/api/session", handler.HandleSession)
	mux.HandleFunc("/api/users/search", handler.HandleUserSearch)
	mux.HandleFunc("/api/preferences", handler.HandlePreferences)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.Listen.WebDir))))
	mux.HandleFunc("/", handler.HandleIndex)

	httpServer := &http.Server{
		Addr:    cfg.Listen.Addr,
		Handler: mux,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
		handler.Shutdown()
		cancel()
	}()

	log.Infow("moviesquad client running", "addr", cfg.Listen.Addr, "backend", cfg.Backend.BaseURL)
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalw("server error", "err", err)
	}
}
