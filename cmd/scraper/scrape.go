package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-phones/config"
	"github.com/aluiziolira/go-scrape-phones/models"
	"github.com/aluiziolira/go-scrape-phones/pipeline"
	"github.com/aluiziolira/go-scrape-phones/scraper"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func newScrapeCmd(cfg *config.Config) *cobra.Command {
	var (
		brands   string
		required string
	)

	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Crawl every configured brand and write complete devices to the output file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if brands != "" {
				parsed, err := config.ParseBrands(brands)
				if err != nil {
					return fmt.Errorf("--brands: %w", err)
				}
				cfg.Brands = parsed
			}
			if cmd.Flags().Changed("required") {
				cfg.RequiredFields = config.ParseFieldList(required)
			}
			cfg.OutputFormat = strings.ToLower(cfg.OutputFormat)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runScrape(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "Catalog source base URL")
	f.StringVar(&brands, "brands", "", "Comma separated Name=slug brand list (default: built-in table)")
	f.IntVar(&cfg.ModelsPerBrand, "models", cfg.ModelsPerBrand, "Maximum models to scrape per brand")
	f.IntVar(&cfg.MaxListingPages, "listing-pages", cfg.MaxListingPages, "Maximum listing pages followed per brand")
	f.IntVar(&cfg.BrandParallelism, "parallel", cfg.BrandParallelism, "Brands crawled concurrently")
	f.DurationVar(&cfg.DelayMin, "delay-min", cfg.DelayMin, "Minimum pause before each request")
	f.DurationVar(&cfg.DelayMax, "delay-max", cfg.DelayMax, "Maximum pause before each request")
	f.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Per-request timeout")
	f.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "Maximum retry attempts per URL")
	f.DurationVar(&cfg.RetryBackoff, "retry-backoff", cfg.RetryBackoff, "Initial retry backoff")
	f.DurationVar(&cfg.RetryBackoffMax, "retry-backoff-max", cfg.RetryBackoffMax, "Maximum retry backoff")
	f.StringVar(&required, "required", strings.Join(cfg.RequiredFields, ","), `Required fields, or "none" to accept every record`)
	f.BoolVar(&cfg.RespectRobotsTxt, "respect-robots", cfg.RespectRobotsTxt, "Respect robots.txt directives")
	f.StringVarP(&cfg.OutputFile, "output", "o", cfg.OutputFile, "Output file path")
	f.StringVar(&cfg.OutputFormat, "format", cfg.OutputFormat, "Output format: csv, json, or dual")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	return cmd
}

func runScrape(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting scrape",
		slog.String("base_url", cfg.BaseURL),
		slog.Int("brands", len(cfg.Brands)),
		slog.Int("models_per_brand", cfg.ModelsPerBrand),
		slog.Any("required", cfg.RequiredFields),
	)

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		return fmt.Errorf("initialising scraper: %w", err)
	}

	writer, err := pipeline.NewWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		return fmt.Errorf("creating writer: %w", err)
	}
	p, err := pipeline.NewPipeline(writer, cfg)
	if err != nil {
		writer.Discard()
		return err
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, finishing in-flight request")
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" && s.Metrics != nil {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown failed", slog.Any("error", err))
			}
		}()
	}

	stopReporting := make(chan struct{})
	defer close(stopReporting)
	if cfg.Verbose {
		p.StartMetricsReporting(10*time.Second, stopReporting)
	}

	result, err := s.Run(ctx, p)
	if err != nil {
		p.Discard()
		return fmt.Errorf("scraping failed: %w", err)
	}
	if result.Interrupted {
		slog.Warn("run interrupted, writing records accepted so far")
	}

	if err := p.Close(); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	if err := writer.Validate(); err != nil {
		slog.Warn("output has no records", slog.Any("error", err))
	}

	printSummary(result, cfg)
	return nil
}

func printSummary(result *models.ScraperResult, cfg *config.Config) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Brand", "Scraped", "Complete", "Skipped", "Error"})
	for _, b := range result.Brands {
		t.AppendRow(table.Row{b.Brand, b.Total, b.Complete, b.Skipped, b.Error})
	}
	t.AppendFooter(table.Row{"Total", result.TotalCount, result.Complete, result.Skipped, fmt.Sprintf("%d failed", result.FailedBrands)})
	t.SetStyle(table.StyleRounded)
	t.Render()

	if len(result.Skips) > 0 {
		reasons := map[string]int{}
		missing := map[string]int{}
		for _, skip := range result.Skips {
			reasons[skip.Reason]++
			for _, field := range skip.Missing {
				missing[field]++
			}
		}
		fmt.Printf("  Skips:         %s\n", formatCounts(reasons))
		if len(missing) > 0 {
			fmt.Printf("  Missing:       %s\n", formatCounts(missing))
		}
	}
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %s\n", formatCounts(result.ErrorsByType))
	}
	fmt.Printf("  Requests:      %d (%d retries)\n", result.RequestCount, result.RetryCount)
	fmt.Printf("  Duration:      %v\n", result.EndTime.Sub(result.StartTime).Round(time.Millisecond))
	fmt.Printf("  Output file:   %s\n", cfg.OutputFile)
	if cfg.OutputFormat == "dual" {
		fmt.Printf("  JSON file:     %s\n", pipeline.JSONSibling(cfg.OutputFile))
	}
	if result.Interrupted {
		fmt.Println("  Run was interrupted before all brands finished.")
	}
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[k])
	}
	return strings.Join(parts, " ")
}
