package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/importer/internal/core"
)

var (
	runsKind  string
	runsLimit int
)

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "Show past imports, or the failed rows of one import",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, pool, db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if len(args) == 1 {
			rows, err := db.ListFailedRows(ctx, args[0])
			if err != nil {
				return err
			}
			printFailedRows(rows)
			return nil
		}

		runs, err := db.ListRuns(ctx, runsKind, runsLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No imports yet")
			return nil
		}
		for _, run := range runs {
			fmt.Printf("%s  %s  %-18s %-30s %s  %d/%d imported, %d failed\n",
				run.ID, run.StartedAt.Local().Format("2006-01-02 15:04"),
				run.Kind, run.FileName, phaseColor(run.Phase).Sprintf("%-9s", run.Phase),
				run.Imported, run.Total, run.Failed)
			if run.Error != "" {
				fmt.Printf("    %s\n", run.Error)
			}
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().StringVarP(&runsKind, "kind", "k", "", "Only list imports of this kind")
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Number of imports to list")
}

func phaseColor(phase core.ImportPhase) *color.Color {
	switch phase {
	case core.PhaseComplete:
		return color.New(color.FgGreen)
	case core.PhaseFailed:
		return color.New(color.FgRed)
	case core.PhaseCancelled:
		return color.New(color.FgYellow)
	}
	return color.New(color.FgCyan)
}

func printFailedRows(rows []core.FailedRow) {
	if len(rows) == 0 {
		fmt.Println("No failed rows")
		return
	}
	for _, row := range rows {
		label := color.RedString("failed")
		if row.Reported {
			label = color.YellowString("reported")
		}
		fmt.Printf("line %-5d %s  %s\n", row.Line, label, strings.Join(row.Data, " | "))
		if row.Reason != "" && len(row.Errors) == 0 {
			fmt.Printf("           %s\n", row.Reason)
		}
		for _, e := range row.Errors {
			fmt.Printf("           - %s\n", e)
		}
	}
}
