package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shehryarbajwa/chatsync/internal/clock"
	"github.com/shehryarbajwa/chatsync/internal/config"
	"github.com/shehryarbajwa/chatsync/internal/logger"
	"github.com/shehryarbajwa/chatsync/internal/persistence"
	"github.com/shehryarbajwa/chatsync/internal/remote"
	"github.com/shehryarbajwa/chatsync/internal/scheduler"
	"github.com/shehryarbajwa/chatsync/internal/session"
	"github.com/shehryarbajwa/chatsync/internal/store"
)

// stack is the storage and session layer shared by every command
type stack struct {
	primary *persistence.FileBackend
	layer   *persistence.Layer
	manager *session.Manager
}

func openStack(ctx context.Context, cfg *config.Config, withRemote bool) (*stack, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	primary, err := persistence.NewFileBackend(filepath.Join(cfg.DataDir, "primary"), cfg.PrimaryQuotaBytes)
	if err != nil {
		return nil, err
	}
	fallback, err := persistence.OpenSQLite(filepath.Join(cfg.DataDir, "fallback.db"))
	if err != nil {
		return nil, err
	}
	layer := persistence.NewLayer(primary, fallback)

	var rc remote.Client
	remoteEnabled := withRemote && cfg.Remote.Enabled
	if remoteEnabled {
		rc, err = remote.NewHTTPClient(remote.HTTPConfig{
			BaseURL:       cfg.Remote.URL,
			Token:         cfg.Remote.Token,
			RatePerSecond: cfg.Remote.RatePerSec,
			Burst:         cfg.Remote.Burst,
			CacheTTL:      cfg.ResyncInterval / 2,
		})
		if err != nil {
			layer.Close()
			return nil, err
		}
	}

	clk := clock.NewLogical()
	mgr, err := session.New(store.New(clk), layer, rc, clk, &session.Config{
		FlushWait:         cfg.FlushWait,
		AutoCreateDelay:   cfg.AutoCreateDelay,
		RemoteEnabled:     remoteEnabled,
		RemoteParallelism: 4,
		Scheduler: &scheduler.Config{
			Debounce:       cfg.Debounce,
			Throttle:       cfg.Throttle,
			ResyncInterval: cfg.ResyncInterval,
		},
	})
	if err != nil {
		layer.Close()
		return nil, err
	}

	if err := mgr.Load(ctx); err != nil {
		layer.Close()
		return nil, err
	}

	logger.Info("Storage ready", "dir", cfg.DataDir, "sessions", len(mgr.Sessions()), "remote", remoteEnabled)
	return &stack{primary: primary, layer: layer, manager: mgr}, nil
}

// close flushes pending state and releases storage
func (s *stack) close(ctx context.Context) error {
	return errors.Join(s.manager.Close(ctx), s.layer.Close())
}
