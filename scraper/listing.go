package scraper

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/aluiziolira/go-scrape-phones/config"
	"github.com/aluiziolira/go-scrape-phones/models"
	"github.com/aluiziolira/go-scrape-phones/parser"
)

// PageFetcher is the fetch capability the discoverer and extractor need.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Page, error)
}

// Discoverer walks a brand's listing pages and collects detail page links.
type Discoverer struct {
	cfg     *config.Config
	fetcher PageFetcher
}

// NewDiscoverer builds a listing discoverer.
func NewDiscoverer(cfg *config.Config, fetcher PageFetcher) *Discoverer {
	return &Discoverer{cfg: cfg, fetcher: fetcher}
}

// Discover returns up to maxCount candidates in source order, following the
// next page link at most cfg.MaxListingPages times. The returned slice is
// always usable; a non-nil error only explains why it may be short or empty.
func (d *Discoverer) Discover(ctx context.Context, brand config.Brand, maxCount int) ([]models.Candidate, error) {
	var candidates []models.Candidate
	if maxCount <= 0 {
		return candidates, nil
	}

	pageURL := d.cfg.ListingURL(brand)
	for page := 1; page <= d.cfg.MaxListingPages && pageURL != ""; page++ {
		if err := ctx.Err(); err != nil {
			return candidates, err
		}

		fetched, err := d.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			return candidates, fmt.Errorf("listing page %d: %w", page, err)
		}

		listing, err := parser.ParseListing(bytes.NewReader(fetched.Body), fetched.URL, d.cfg.ListingSelector, d.cfg.NextPageSelector)
		if err != nil {
			return candidates, fmt.Errorf("listing page %d (%s): %w", page, pageURL, err)
		}

		for _, c := range listing.Candidates {
			candidates = append(candidates, c)
			if len(candidates) >= maxCount {
				return candidates, nil
			}
		}

		slog.Debug("listing page parsed",
			slog.String("brand", brand.Name),
			slog.Int("page", page),
			slog.Int("candidates", len(candidates)),
		)
		pageURL = listing.NextURL
	}
	return candidates, nil
}
