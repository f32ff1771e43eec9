package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shehryarbajwa/chatsync/internal/api"
	"github.com/shehryarbajwa/chatsync/internal/events"
	"github.com/shehryarbajwa/chatsync/internal/logger"
	"github.com/shehryarbajwa/chatsync/internal/persistence"
	"github.com/shehryarbajwa/chatsync/internal/ratelimit"
	"github.com/shehryarbajwa/chatsync/internal/remote"
	"github.com/shehryarbajwa/chatsync/pkg/models"
)

func runServe(cmd *cobra.Command, _ []string) error {
	logger.Info("Starting chatsync")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := openStack(ctx, cfg, true)
	if err != nil {
		return err
	}

	hub := events.NewHub()
	unsubscribe := st.manager.OnSessionsChanged(func(sessions []models.Session) {
		hub.Publish(events.SessionsChanged(sessions, st.manager.ActiveID()))
	})
	logger.Info("Event hub initialized")

	watcher, err := persistence.NewWatcher(st.primary, persistence.DefaultWatchDebounce)
	if err != nil {
		st.close(ctx)
		return err
	}
	if err := watcher.Start(); err != nil {
		st.close(ctx)
		return err
	}
	go func() {
		for key := range watcher.Events() {
			if key != persistence.KeySessions {
				continue
			}
			if err := st.manager.Reload(context.Background()); err != nil {
				logger.Warn("Reload after external write failed", "error", err)
			}
		}
	}()
	logger.Info("Watching storage for external writes", "dir", st.primary.Dir())

	st.manager.Start()
	if cfg.Remote.Enabled {
		if err := st.manager.Resync(ctx, true); err != nil && remote.IsTransient(err) {
			logger.Warn("Initial resync failed, will retry on schedule", "error", err)
		} else if err != nil {
			logger.Error("Initial resync failed", "error", err)
		}
	}

	rateLimiter := ratelimit.NewLimiter(ratelimit.PerHour(cfg.API.RequestsPerHour), cfg.API.Burst)
	logger.Info("Rate limiter initialized", "requests_per_hour", cfg.API.RequestsPerHour, "burst", cfg.API.Burst)

	router := api.NewHandler(st.manager).SetupRoutes(hub, rateLimiter, cfg.API.RequestsPerHour)

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "addr", cfg.HTTP.Addr, "api", "/v1", "events", "/v1/events")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-serveErr:
		if err != nil {
			logger.Error("Server error", "error", err)
		}
	}

	logger.Info("Shutting down server gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	unsubscribe()
	hub.Close()
	if err := watcher.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := st.close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	logger.Info("Server stopped cleanly")
	return nil
}
