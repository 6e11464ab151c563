package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/importer/internal/config"
	"github.com/JonMunkholm/importer/internal/core"
	"github.com/JonMunkholm/importer/internal/importer"
	"github.com/JonMunkholm/importer/internal/logging"
	"github.com/JonMunkholm/importer/internal/source"
)

var (
	runSheet     string
	runCharset   string
	runFailedOut string
	runNoSleep   bool
)

var runCmd = &cobra.Command{
	Use:   "run <kind> <file|s3://bucket/key>",
	Short: "Import a CSV or XLSX file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, location := args[0], args[1]
		def, ok := core.Get(kind)
		if !ok {
			return fmt.Errorf("%w: %s", core.ErrUnknownKind, kind)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, pool, db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		catalogue, err := core.LoadCatalogue(cfg.Import.MessagesFile)
		if err != nil {
			return err
		}

		fileName, table, err := readTable(ctx, cfg, location)
		if err != nil {
			return err
		}

		opts := core.OptionsFromConfig(cfg.Import)
		opts.Catalogue = catalogue
		opts.Logger = logging.WithFields(ctx, "client", "importctl")
		if runNoSleep {
			opts.SleepInterval = -1
		}
		service := core.NewService(db, db, opts)

		importID, err := service.StartImport(ctx, kind, fileName, table)
		if err != nil {
			return err
		}
		updates, err := service.SubscribeProgress(importID)
		if err != nil {
			return err
		}

		color.Cyan("Importing %s as %s (%s)\n", fileName, def.Info.Label, importID)
		follow(ctx, service, importID, updates)

		result, err := service.GetImportResult(context.Background(), importID)
		if err != nil {
			return err
		}
		printSummary(result)

		if runFailedOut != "" && len(result.FailedRows) > 0 {
			if err := writeFailedRows(runFailedOut, def.Columns, result.FailedRows); err != nil {
				return err
			}
			fmt.Printf("Failed rows written to %s\n", runFailedOut)
		}
		if result.Phase != core.PhaseComplete {
			return fmt.Errorf("import %s", result.Phase)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runSheet, "sheet", "", "XLSX sheet to read (default: the active sheet)")
	runCmd.Flags().StringVar(&runCharset, "charset", "", "CSV charset: utf-8, utf-16, windows-1251, windows-1252")
	runCmd.Flags().StringVarP(&runFailedOut, "failed-out", "f", "", "Write failed rows to this XLSX file")
	runCmd.Flags().BoolVar(&runNoSleep, "no-sleep", false, "Do not pause between created rows")
}

// readTable reads a local file or an s3:// object.
func readTable(ctx context.Context, cfg *config.Config, location string) (string, importer.Table, error) {
	opts := source.Options{
		Charset:  runCharset,
		Sheet:    runSheet,
		MaxRows:  cfg.Import.MaxRows,
		MaxBytes: cfg.Import.MaxFileSize,
	}

	if source.IsS3URL(location) {
		fetcher, err := s3Fetcher(cfg.Storage)
		if err != nil {
			return "", nil, err
		}
		table, name, err := fetcher.ReadS3(ctx, location, opts)
		return name, table, err
	}

	f, err := os.Open(location)
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	name := filepath.Base(location)
	table, err := source.Read(ctx, name, f, opts)
	return name, table, err
}

// follow prints progress until the job ends. An interrupt cancels the job
// and keeps following until it has stopped.
func follow(ctx context.Context, service *core.Service, importID string, updates <-chan core.ImportProgress) {
	interrupted := ctx.Done()
	for {
		select {
		case p, ok := <-updates:
			if !ok {
				fmt.Println()
				return
			}
			fmt.Printf("\r%5.1f%%  %d/%d rows, %d imported, %d failed ",
				p.Percent, p.Processed, p.Total, p.Imported, p.Failed)
		case <-interrupted:
			interrupted = nil
			fmt.Println()
			color.Yellow("Cancelling...\n")
			service.CancelImport(importID)
		}
	}
}

func printSummary(result *core.ImportResult) {
	duration := result.Duration.Round(time.Millisecond)
	switch result.Phase {
	case core.PhaseComplete:
		color.Green("✨ Imported %d of %d rows in %s\n", result.Imported, result.Total, duration)
	case core.PhaseCancelled:
		color.Yellow("Cancelled after %d of %d rows\n", result.Imported+result.Failed, result.Total)
	default:
		color.Red("%s: %s\n", result.ErrorTitle, result.Error)
	}
	if result.Failed > 0 {
		color.Red("%d rows failed\n", result.Failed)
		printFailedRows(result.FailedRows)
	}
}

func writeFailedRows(path string, columns []importer.Column, rows []core.FailedRow) error {
	out := make([]source.FailedRow, len(rows))
	for i, row := range rows {
		errs := row.Errors
		if len(errs) == 0 && row.Reason != "" {
			errs = []string{row.Reason}
		}
		out[i] = source.FailedRow{Cells: row.Data, Errors: errs}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := source.WriteFailedRows(f, columns, "Errors", out); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
