package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/aluiziolira/go-scrape-phones/catalog"
	"github.com/aluiziolira/go-scrape-phones/config"
	"github.com/aluiziolira/go-scrape-phones/pipeline"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var errNothingImported = errors.New("no record was imported")

func newImportCmd(cfg *config.Config) *cobra.Command {
	var createSchema bool

	cmd := &cobra.Command{
		Use:   "import [file.csv]",
		Short: "Upsert an output file into the catalog store.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := cfg.OutputFile
			if len(args) == 1 {
				input = args[0]
			}
			if cfg.DatabaseURL == "" {
				return errors.New("database URL is required (--database-url or DATABASE_URL)")
			}

			rows, err := pipeline.ReadCSV(input)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Printf("%s has no records, nothing to import\n", input)
				return nil
			}

			ctx := cmd.Context()
			store, err := catalog.NewPostgresStore(ctx, cfg.DatabaseURL, cfg.DefaultCategoryID)
			if err != nil {
				return err
			}
			defer store.Close()
			if createSchema {
				if err := store.EnsureSchema(ctx); err != nil {
					return err
				}
			}

			results, importErr := catalog.ImportAll(ctx, store, rows, cfg.ImportBatchSize)
			printImportReport(results)
			if importErr != nil {
				return importErr
			}
			if catalog.Summarize(results).Imported == 0 {
				return errNothingImported
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "PostgreSQL connection string")
	f.IntVar(&cfg.ImportBatchSize, "batch-size", cfg.ImportBatchSize, "Records sent per import batch")
	f.IntVar(&cfg.DefaultCategoryID, "default-category", cfg.DefaultCategoryID, "Category for records without one")
	f.BoolVar(&createSchema, "create-schema", false, "Create the devices table if it does not exist")
	return cmd
}

func printImportReport(results []catalog.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"#", "Name", "Brand", "ID", "Error"})
	for _, r := range results {
		id, reason := "", ""
		if r.OK() {
			id = fmt.Sprint(r.ID)
		} else {
			reason = r.Err.Error()
		}
		t.AppendRow(table.Row{r.Index + 1, r.Name, r.Brand, id, reason})
	}
	s := catalog.Summarize(results)
	t.AppendFooter(table.Row{"", "", "", fmt.Sprintf("%d imported", s.Imported), fmt.Sprintf("%d failed", s.Failed)})
	t.SetStyle(table.StyleRounded)
	t.Render()
}
