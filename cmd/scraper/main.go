package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aluiziolira/go-scrape-phones/config"
	"github.com/spf13/cobra"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(cfg).ExecuteContext(ctx); err != nil {
		slog.Error("command failed", slog.Any("error", err))
		os.Exit(1)
	}
}

// newRootCmd wires the subcommands. Flag defaults come from cfg, which
// already carries .env and environment overrides.
func newRootCmd(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "scraper",
		Short:         "Collects phone specifications from the catalog source and feeds the device catalog.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger, level := newLogger(cfg.Verbose)
			slog.SetDefault(logger)
			slog.SetLogLoggerLevel(level.Level())
		},
	}
	root.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Enable verbose logging")

	scrape := newScrapeCmd(cfg)
	root.AddCommand(scrape, newCleanCmd(cfg), newImportCmd(cfg))

	// Running the binary without a subcommand scrapes.
	root.RunE = scrape.RunE
	root.Flags().AddFlagSet(scrape.Flags())
	return root
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
