package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/importer/internal/config"
	"github.com/JonMunkholm/importer/internal/core"
	_ "github.com/JonMunkholm/importer/internal/kinds" // register import kinds
	"github.com/JonMunkholm/importer/internal/logging"
	"github.com/JonMunkholm/importer/internal/source"
	"github.com/JonMunkholm/importer/internal/store"
	"github.com/JonMunkholm/importer/internal/web"
)

// drainTimeout bounds each shutdown step after the imports had their chance.
const drainTimeout = 10 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logFile := logging.Setup(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logFile.Close()

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"import_max_concurrent", cfg.Import.MaxConcurrent,
		"import_max_rows", cfg.Import.MaxRows,
		"rate_limit_enabled", cfg.Rate.Enabled,
		"auth_required", cfg.Security.RequireAuth,
	)

	ctx := context.Background()
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		slog.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	db := store.New(pool)
	if err := db.Migrate(ctx); err != nil {
		slog.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	catalogue, err := core.LoadCatalogue(cfg.Import.MessagesFile)
	if err != nil {
		slog.Error("failed to load messages", "error", err)
		os.Exit(1)
	}

	opts := core.OptionsFromConfig(cfg.Import)
	opts.Catalogue = catalogue
	service := core.NewService(db, db, opts)

	slog.Info("kinds registered", "count", core.KindCount(), "groups", len(core.Groups()))
	for _, group := range core.Groups() {
		slog.Debug("kind group", "group", group, "kinds", len(core.ByGroup(group)))
	}

	serverOpts := []web.Option{web.WithHistory(db)}
	if cfg.Storage.Enabled() {
		fetcher, err := source.NewS3Fetcher(source.S3Config{
			Region:    cfg.Storage.Region,
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			PathStyle: cfg.Storage.PathStyle,
		})
		if err != nil {
			slog.Error("failed to configure s3", "error", err)
			os.Exit(1)
		}
		serverOpts = append(serverOpts, web.WithS3(fetcher))
	}
	server := web.NewServer(service, cfg, serverOpts...)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if status := service.LimiterStatus(); status.Active > 0 {
			slog.Info("waiting for imports to complete", "active", status.Active)
			if err := service.WaitForImports(shutdownCtx); err != nil {
				slog.Warn("imports did not complete in time, cancelling", "error", err)
				service.CancelAll()

				drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
				service.WaitForImports(drainCtx)
				drainCancel()
			}
		}

		serverCtx, serverCancel := context.WithTimeout(context.Background(), drainTimeout)
		defer serverCancel()
		if err := server.Shutdown(serverCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-stopped
	slog.Info("server stopped")
}
