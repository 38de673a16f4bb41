package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pders01/stashsave/internal/auth"
	"github.com/pders01/stashsave/internal/backend"
	"github.com/pders01/stashsave/internal/browser"
	"github.com/pders01/stashsave/internal/config"
	"github.com/pders01/stashsave/internal/coordinator"
	"github.com/pders01/stashsave/internal/debuglog"
	"github.com/pders01/stashsave/internal/session"
	"github.com/pders01/stashsave/internal/storage"
)

// services holds the wired collaborators shared by the TUI and the
// one-shot commands.
type services struct {
	cfg      *config.Config
	store    *storage.Store
	client   *auth.Client
	sessions *session.Store
	api      *backend.Client
	coord    *coordinator.Coordinator
	launcher *browser.Launcher
}

func commandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// loadConfig applies the persistent flag overrides on top of the loaded
// configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbPath != "" {
		cfg.Database.Path = expandTilde(dbPath)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

func newServices(ctx context.Context) (*services, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	if err := debuglog.Configure(debuglog.Options{
		Level:      debuglog.ParseLogLevel(cfg.Log.Level),
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: logging disabled: %v\n", err)
	}

	store, err := storage.NewStore(cfg.Database.Path, cfg.Database.Timeout)
	if err != nil {
		debuglog.Close()
		return nil, err
	}

	rt := &services{
		cfg:      cfg,
		store:    store,
		api:      backend.NewClient(cfg.API),
		launcher: browser.NewLauncher(cfg.UI.Opener),
	}

	// A nil provider keeps the app usable with every action disabled
	var provider auth.Provider
	client, err := auth.NewClient(cfg.Auth, store, rt.launcher)
	switch {
	case errors.Is(err, auth.ErrNotConfigured):
		debuglog.Warnf("identity service not configured; actions disabled")
	case err != nil:
		store.Close()
		debuglog.Close()
		return nil, fmt.Errorf("creating auth client: %w", err)
	default:
		rt.client = client
		provider = client
	}

	rt.sessions = session.NewStore(provider)
	rt.sessions.Start(ctx)
	rt.coord = coordinator.New(provider, rt.sessions, rt.api, store, coordinator.OptionsFromConfig(cfg))

	debuglog.Infof("started: backend=%s auth_configured=%t db=%s", rt.api.BaseURL(), provider != nil, cfg.Database.Path)
	return rt, nil
}

func (rt *services) Close() {
	rt.sessions.Close()
	if rt.client != nil {
		if err := rt.client.Close(); err != nil {
			debuglog.Warnf("closing auth client: %v", err)
		}
	}
	if err := rt.store.Close(); err != nil {
		debuglog.Warnf("closing store: %v", err)
	}
	debuglog.Close()
}
