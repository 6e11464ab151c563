package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/importer/internal/config"
	"github.com/JonMunkholm/importer/internal/core"
	"github.com/JonMunkholm/importer/internal/logging"
	"github.com/JonMunkholm/importer/internal/source"
	"github.com/JonMunkholm/importer/internal/store"
)

var envFile string
var verbose bool

var rootCmd = &cobra.Command{
	Use:           "importctl",
	Short:         "Bulk import of tabular files",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := "warn"
		if verbose {
			level = "debug"
		}
		slog.SetDefault(logging.New(os.Stderr, level, "text"))
	},
}

func init() {
	rootCmd.AddCommand(
		kindsCmd,
		templateCmd,
		migrateCmd,
		runCmd,
		runsCmd,
	)
	rootCmd.PersistentFlags().StringVarP(&envFile, "env", "e", "", "Environment file (default .env)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if core.IsUserFacing(err) {
			color.Red("%s\n", core.FormatUserError(err))
		} else {
			color.Red("Error: %s\n", err)
		}
		os.Exit(1)
	}
}

// loadConfig reads the environment file, if any, and the configuration.
func loadConfig() (*config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	} else {
		godotenv.Load()
	}
	return config.Load()
}

// openStore connects to the configured database.
func openStore(ctx context.Context) (*config.Config, *pgxpool.Pool, *store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, pool, store.New(pool), nil
}

// s3Fetcher builds a fetcher from the storage settings.
func s3Fetcher(cfg config.StorageConfig) (*source.S3Fetcher, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("s3 locations need S3_ACCESS_KEY and S3_SECRET_KEY")
	}
	return source.NewS3Fetcher(source.S3Config{
		Region:    cfg.Region,
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		PathStyle: cfg.PathStyle,
	})
}
