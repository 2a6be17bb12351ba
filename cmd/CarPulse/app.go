package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BTreeMap/CarPulse/internal/chart"
	"github.com/BTreeMap/CarPulse/internal/flow"
	"github.com/BTreeMap/CarPulse/internal/lockfile"
	"github.com/BTreeMap/CarPulse/internal/store"
)

// bot bundles the components shared by the serve and chat commands.
type bot struct {
	lock     *lockfile.Lock
	catalog  *store.CatalogStore
	sessions store.SessionStore
	renderer *chart.Renderer
	engine   *flow.Engine
}

// openBot takes the state directory lock and assembles the conversation
// engine over the catalog and session stores.
func openBot(cfg *Config) (*bot, error) {
	if err := ensureDirectoriesExist(cfg); err != nil {
		return nil, err
	}
	lock, err := lockfile.AcquireLock(cfg.StateDir)
	if err != nil {
		return nil, err
	}

	catalog, err := openCatalog(cfg)
	if err != nil {
		lock.Release()
		return nil, err
	}
	sessions, err := store.NewSessionStore(cfg.SessionDSN)
	if err != nil {
		lock.Release()
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	renderer := chart.NewRenderer(catalog)
	engine := flow.NewEngine(catalog, renderer, flow.NewStoreBasedSessionManager(sessions))
	return &bot{
		lock:     lock,
		catalog:  catalog,
		sessions: sessions,
		renderer: renderer,
		engine:   engine,
	}, nil
}

// Close releases the session store and the state directory lock.
func (b *bot) Close() {
	if err := b.sessions.Close(); err != nil {
		slog.Error("Failed to close session store", "error", err)
	}
	if err := b.lock.Release(); err != nil {
		slog.Error("Failed to release lock", "error", err)
	}
}

// openCatalog loads the catalog file, falling back to the seed catalog.
func openCatalog(cfg *Config) (*store.CatalogStore, error) {
	periods, err := cfg.periods()
	if err != nil {
		return nil, err
	}
	catalog := store.NewCatalogStore(cfg.CatalogFile, periods)
	report := catalog.LoadWithReport()
	if report.Degraded() {
		slog.Warn("Catalog loaded in degraded mode",
			"path", cfg.CatalogFile,
			"source", report.Source,
			"defects", len(report.Defects),
			"seeded", report.Seeded,
			"seed_error", report.SeedErr)
	} else {
		slog.Info("Catalog loaded", "path", cfg.CatalogFile, "vehicles", report.Loaded, "padded", len(report.Padded))
	}
	return catalog, nil
}

// ensureDirectoriesExist creates the state directory and the directories of
// file-based stores.
func ensureDirectoriesExist(cfg *Config) error {
	dirs := []string{cfg.StateDir, filepath.Dir(cfg.CatalogFile)}
	switch store.DetectDSNType(cfg.SessionDSN) {
	case store.DSNTypeSQLite, store.DSNTypeBolt:
		dirs = append(dirs, filepath.Dir(filepath.Clean(trimFileScheme(cfg.SessionDSN))))
	}
	for _, dir := range dirs {
		slog.Debug("Creating directory", "dir", dir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("Failed to create directory", "error", err, "dir", dir)
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// trimFileScheme strips a bolt:// or file: prefix and any query from a file DSN.
func trimFileScheme(dsn string) string {
	dsn = strings.TrimPrefix(dsn, "bolt://")
	dsn = strings.TrimPrefix(dsn, "file:")
	path, _, _ := strings.Cut(dsn, "?")
	return path
}
