package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/importer/internal/core"
	"github.com/JonMunkholm/importer/internal/source"
)

var kindsCmd = &cobra.Command{
	Use:   "kinds",
	Short: "List the import kinds and their columns",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, group := range core.Groups() {
			color.Cyan("%s\n", group)
			for _, def := range core.ByGroup(group) {
				fmt.Printf("  %-20s %s\n", def.Info.Key, def.Info.Label)
				if def.Info.Description != "" {
					fmt.Printf("  %-20s %s\n", "", color.New(color.FgHiBlack).Sprint(def.Info.Description))
				}
				names := make([]string, len(def.Columns))
				for i, col := range def.Columns {
					names[i] = col.Name
					if col.Required {
						names[i] += "*"
					}
				}
				fmt.Printf("  %-20s %s\n", "", strings.Join(names, ", "))
			}
		}
	},
}

var templateOut string

var templateCmd = &cobra.Command{
	Use:   "template <kind>",
	Short: "Write an empty upload template for a kind",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		def, ok := core.Get(args[0])
		if !ok {
			return fmt.Errorf("%w: %s", core.ErrUnknownKind, args[0])
		}
		out := templateOut
		if out == "" {
			out = def.Info.Key + "_template.xlsx"
		}

		f, err := os.Create(out)
		if err != nil {
			return err
		}
		if err := source.WriteTemplate(f, def.Columns); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		color.Green("✨ Template written to %s\n", out)
		return nil
	},
}

func init() {
	templateCmd.Flags().StringVarP(&templateOut, "out", "o", "", "Output file (default <kind>_template.xlsx)")
}
