// Package scraper fetches catalog pages and drives the per-brand crawl.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-phones/config"
	"github.com/aluiziolira/go-scrape-phones/models"
	"github.com/aluiziolira/go-scrape-phones/pipeline"
	"golang.org/x/sync/errgroup"
)

// Scraper runs discovery and extraction for every configured brand and feeds
// the results through the pipeline.
type Scraper struct {
	cfg        *config.Config
	fetcher    *Fetcher
	discoverer *Discoverer
	extractor  *Extractor
	Metrics    *Metrics

	mu           sync.Mutex
	brands       []models.BrandStats
	skips        []models.SkipEvent
	errorsByType map[string]int
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg *config.Config, opts ...FetcherOption) (*Scraper, error) {
	metrics := NewMetrics()
	fetcher, err := NewFetcher(cfg, append([]FetcherOption{WithMetrics(metrics)}, opts...)...)
	if err != nil {
		return nil, err
	}

	return &Scraper{
		cfg:          cfg,
		fetcher:      fetcher,
		discoverer:   NewDiscoverer(cfg, fetcher),
		extractor:    NewExtractor(fetcher),
		Metrics:      metrics,
		errorsByType: make(map[string]int),
	}, nil
}

// Run crawls all brands, at most cfg.BrandParallelism at a time. Candidates
// within a brand are always handled one after another. Candidate and brand
// failures are counted, not returned; the error is non-nil only when the
// pipeline refuses records.
func (s *Scraper) Run(ctx context.Context, p *pipeline.Pipeline) (*models.ScraperResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	s.mu.Lock()
	s.brands = make([]models.BrandStats, len(s.cfg.Brands))
	s.skips = nil
	s.errorsByType = make(map[string]int)
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.BrandParallelism)
	for i, brand := range s.cfg.Brands {
		g.Go(func() error {
			return s.runBrand(gctx, i, brand, p)
		})
	}
	runErr := g.Wait()

	result := s.result(start)
	result.Interrupted = ctx.Err() != nil
	slog.Info("run finished",
		slog.Int("total", result.TotalCount),
		slog.Int("complete", result.Complete),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed_brands", result.FailedBrands),
		slog.Bool("interrupted", result.Interrupted),
	)
	return result, runErr
}

func (s *Scraper) runBrand(ctx context.Context, idx int, brand config.Brand, p *pipeline.Pipeline) error {
	stats := models.BrandStats{Brand: brand.Name}
	defer func() {
		s.finishBrand(idx, stats)
	}()

	candidates, err := s.discoverer.Discover(ctx, brand, s.cfg.ModelsPerBrand)
	if err != nil && ctx.Err() == nil {
		stats.Error = err.Error()
		s.countError(err)
		slog.Warn("listing discovery failed",
			slog.String("brand", brand.Name),
			slog.Int("candidates", len(candidates)),
			slog.Any("error", err),
		)
	}
	slog.Info("brand discovered", slog.String("brand", brand.Name), slog.Int("candidates", len(candidates)))

	for i, c := range candidates {
		if ctx.Err() != nil {
			return nil
		}
		slog.Debug("extracting",
			slog.String("brand", brand.Name),
			slog.Int("index", i+1),
			slog.Int("of", len(candidates)),
			slog.String("url", c.URL),
		)

		if !p.Claim(c.URL) {
			s.skip(&stats, models.SkipEvent{Brand: brand.Name, URL: c.URL, Label: c.Label, Reason: models.ReasonDuplicateURL})
			continue
		}

		raw, err := s.extractor.Extract(ctx, brand.Name, c)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.Release(c.URL)
			s.countError(err)
			s.skip(&stats, models.SkipEvent{
				Brand:  brand.Name,
				URL:    c.URL,
				Label:  c.Label,
				Reason: models.ReasonFetchFailed,
				Detail: err.Error(),
			})
			continue
		}

		verdict, err := p.Process(brand.Name, c, raw)
		if err != nil {
			return fmt.Errorf("process %s: %w", c.URL, err)
		}
		if !verdict.Complete {
			s.skip(&stats, models.SkipEvent{
				Brand:   brand.Name,
				URL:     c.URL,
				Label:   c.Label,
				Reason:  models.ReasonIncomplete,
				Missing: verdict.Missing,
			})
			continue
		}

		stats.Total++
		stats.Complete++
		s.Metrics.IncRecord("complete")
		slog.Info("candidate accepted", slog.String("brand", brand.Name), slog.String("url", c.URL), slog.String("label", c.Label))
	}
	return nil
}

func (s *Scraper) skip(stats *models.BrandStats, event models.SkipEvent) {
	stats.Total++
	stats.Skipped++
	s.Metrics.IncRecord(event.Reason)

	s.mu.Lock()
	s.skips = append(s.skips, event)
	s.mu.Unlock()

	attrs := []any{
		slog.String("brand", event.Brand),
		slog.String("url", event.URL),
		slog.String("reason", event.Reason),
	}
	if len(event.Missing) > 0 {
		attrs = append(attrs, slog.Any("missing", event.Missing))
	}
	if event.Detail != "" {
		attrs = append(attrs, slog.String("detail", event.Detail))
	}
	slog.Info("candidate skipped", attrs...)
}

func (s *Scraper) countError(err error) {
	label := errorTypeLabel(err)
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		label = "parse"
	}
	s.mu.Lock()
	s.errorsByType[label]++
	s.mu.Unlock()
}

func (s *Scraper) finishBrand(idx int, stats models.BrandStats) {
	status := "ok"
	if stats.Error != "" {
		status = "failed"
	}
	s.Metrics.IncBrand(status)

	s.mu.Lock()
	s.brands[idx] = stats
	s.mu.Unlock()

	slog.Info("brand done",
		slog.String("brand", stats.Brand),
		slog.Int("scraped", stats.Total),
		slog.Int("complete", stats.Complete),
		slog.Int("skipped", stats.Skipped),
	)
}

func (s *Scraper) result(start time.Time) *models.ScraperResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &models.ScraperResult{
		StartTime:    start,
		EndTime:      time.Now(),
		Brands:       append([]models.BrandStats(nil), s.brands...),
		Skips:        append([]models.SkipEvent(nil), s.skips...),
		ErrorsByType: make(map[string]int, len(s.errorsByType)),
		RetryCount:   s.fetcher.RetryCount(),
		RequestCount: s.fetcher.RequestCount(),
	}
	for k, v := range s.errorsByType {
		result.ErrorsByType[k] = v
	}
	for _, b := range s.brands {
		result.TotalCount += b.Total
		result.Complete += b.Complete
		result.Skipped += b.Skipped
		if b.Error != "" {
			result.FailedBrands++
		}
	}
	return result
}
