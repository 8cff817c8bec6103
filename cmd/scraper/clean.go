package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/aluiziolira/go-scrape-phones/config"
	"github.com/aluiziolira/go-scrape-phones/pipeline"
	"github.com/spf13/cobra"
)

func newCleanCmd(cfg *config.Config) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "clean <input.csv>",
		Short: "Re-normalize an existing output file into a cleaned copy.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := args[0]
			if output == "" {
				output = cleanedName(input)
			}

			rows, err := pipeline.ReadCSV(input)
			if err != nil {
				return err
			}
			changed := pipeline.CleanRows(rows, cfg)

			writer, err := pipeline.NewCSVWriter(output)
			if err != nil {
				return err
			}
			if err := writer.Write(rows); err != nil {
				writer.Discard()
				return err
			}
			if err := writer.Close(); err != nil {
				return err
			}

			slog.Info("cleaned file written",
				slog.String("input", input),
				slog.String("output", output),
				slog.Int("rows", len(rows)),
				slog.Int("changed", changed),
			)
			fmt.Printf("Cleaned %d rows (%d changed) -> %s\n", len(rows), changed, output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Cleaned file path (default: <input>_cleaned.csv)")
	return cmd
}

func cleanedName(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + "_cleaned" + ext
}
