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

	"github.com/shehryarbajwa/chatsync/internal/logger"
	"github.com/shehryarbajwa/chatsync/internal/remote"
)

// runBackend serves the backend protocol from memory so the sync path can
// be exercised locally without the real service.
func runBackend(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	token, _ := cmd.Flags().GetString("token")

	srv := &http.Server{
		Addr:         addr,
		Handler:      remote.NewBackendRouter(remote.NewMemoryClient(), token),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("Development backend listening", "addr", addr, "auth", token != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errc:
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
