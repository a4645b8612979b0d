package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/auth"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/chat"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/clock"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/config"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/handlers"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/middleware"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/presence"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/store/sqlstore"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/ws"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	store, err := sqlstore.New(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	backend, err := newPresenceBackend(ctx, cfg.Presence)
	if err != nil {
		return fmt.Errorf("presence backend: %w", err)
	}
	p, err := presence.New(ctx, backend, cfg.Presence.Channel(), clock.Real(), logger.With("component", "presence"))
	if err != nil {
		backend.Close()
		return fmt.Errorf("presence: %w", err)
	}
	defer p.Close()

	verifier, err := auth.NewVerifier([]byte(cfg.Auth.Secret), cfg.Auth.Issuer)
	if err != nil {
		return err
	}

	// Initialize WebSocket Hub
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := ws.NewHub(p, logger.With("component", "hub"))
	go hub.Run(hubCtx)

	svc := chat.NewService(store,
		chat.WithNotifier(hub),
		chat.WithTyping(p),
		chat.WithLogger(logger.With("component", "chat")),
	)
	chatHandler := &handlers.ChatHandler{Chat: svc, Presence: p, Hub: hub, Logger: logger}

	r := mux.NewRouter()
	r.Use(middleware.LoggingMiddleware(logger))
	r.HandleFunc("/healthz", chatHandler.Healthz).Methods("GET")

	api := r.NewRoute().Subrouter()
	api.Use(middleware.AuthMiddleware(verifier))
	chatHandler.Routes(api)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.Addr, "db", cfg.DB.Driver, "presence", cfg.Presence.Backend)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)

	// Hijacked websocket connections are not tracked by Shutdown.
	stopHub()
	return err
}

func newPresenceBackend(ctx context.Context, cfg config.Presence) (presence.Backend, error) {
	if cfg.Backend == "redis" {
		return presence.NewRedisBackend(ctx, cfg.RedisURL)
	}
	return presence.NewMemoryBackend(), nil
}
