package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/Veraticus/hearth/internal/config"
	"github.com/Veraticus/hearth/internal/events"
	"github.com/Veraticus/hearth/internal/guest"
	"github.com/Veraticus/hearth/internal/household"
	"github.com/Veraticus/hearth/internal/ledger"
	"github.com/Veraticus/hearth/internal/model"
	"github.com/Veraticus/hearth/internal/replication"
	"github.com/Veraticus/hearth/internal/storage"
)

// app is everything a command needs, wired over one database.
type app struct {
	store    *storage.SQLiteStorage
	settings *storage.SettingsStore
	bus      *events.Bus
	resolver *household.Resolver
	ledger   *ledger.Services
	sync     *replication.Engine
	guests   *guest.Manager
	user     *model.User
}

// openApp opens and migrates the database at path and wires the services.
func openApp(ctx context.Context, path string) (*app, error) {
	store, err := storage.NewSQLiteStorage(path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	settings := store.Settings()
	bus := events.New()
	resolver := household.NewResolver(settings)
	env, opts := config.LoadSync()
	engine := replication.NewEngine(store, settings, bus, env, opts)

	user, err := household.LoadProfile(ctx, settings)
	if err != nil {
		slog.Warn("Ignoring unreadable auth profile", "error", err)
	}

	return &app{
		store:    store,
		settings: settings,
		bus:      bus,
		resolver: resolver,
		ledger:   ledger.New(store, bus, nil),
		sync:     engine,
		guests:   guest.NewManager(store, settings, resolver, engine, bus),
		user:     user,
	}, nil
}

// initApp opens the configured database.
func initApp(ctx context.Context) (*app, error) {
	return openApp(ctx, config.DatabasePath())
}

func (a *app) Close() {
	a.sync.Stop()
	if err := a.store.Close(); err != nil {
		slog.Error("failed to close storage", "error", err)
	}
}

// scope is the acting household and user for writes.
func (a *app) scope(ctx context.Context) model.Scope {
	return a.resolver.Scope(ctx, a.user)
}

// tenant is the household whose remote databases this device syncs.
func (a *app) tenant(ctx context.Context) string {
	if a.user != nil && !a.user.IsGuest() {
		return a.user.TenantID()
	}
	return a.resolver.GetHouseholdID(ctx)
}

// tokens is the bearer token source for the remote server.
func tokens() replication.TokenProvider {
	return replication.StaticToken(viper.GetString("auth.token"))
}

// parseAmount parses a positive money amount.
func parseAmount(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return amount, nil
}

// parseDate accepts YYYY-MM-DD or RFC 3339. Empty means today.
func parseDate(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return now.UTC().Truncate(24 * time.Hour), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: use YYYY-MM-DD", s)
	}
	return t.UTC(), nil
}

// expandFiles resolves glob patterns, keeping literal paths that exist.
func expandFiles(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(config.ExpandPath(pattern))
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			// If no glob matches, check if it's a direct file
			if _, err := os.Stat(pattern); err == nil {
				files = append(files, pattern)
			} else {
				slog.Warn("No files found matching pattern", "pattern", pattern)
			}
			continue
		}
		files = append(files, matches...)
	}
	return files, nil
}

// newProgress returns a progress bar on stderr and the callback that
// advances it.
func newProgress(total int, description string) (*progressbar.ProgressBar, func()) {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	return bar, func() { _ = bar.Add(1) }
}
