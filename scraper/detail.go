package scraper

import (
	"bytes"
	"context"

	"github.com/aluiziolira/go-scrape-phones/models"
	"github.com/aluiziolira/go-scrape-phones/parser"
)

// Extractor fetches detail pages and parses them into raw devices.
type Extractor struct {
	fetcher PageFetcher
}

// NewExtractor builds a detail extractor.
func NewExtractor(fetcher PageFetcher) *Extractor {
	return &Extractor{fetcher: fetcher}
}

// Extract fetches the candidate and returns its raw field set. Fetch failures
// come back as *FetchError; partial pages are not errors.
func (e *Extractor) Extract(ctx context.Context, brand string, c models.Candidate) (models.Device, error) {
	page, err := e.fetcher.Fetch(ctx, c.URL)
	if err != nil {
		return models.Device{}, err
	}
	return parser.ParseDetail(bytes.NewReader(page.Body), page.URL, brand)
}
