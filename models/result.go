package models

import "time"

// Skip reasons recorded against candidates.
const (
	ReasonIncomplete   = "incomplete"
	ReasonDuplicateURL = "duplicate_url"
	ReasonFetchFailed  = "fetch_failed"
)

// SkipEvent attributes one skipped candidate to its reference and reason.
type SkipEvent struct {
	Brand   string   `json:"brand"`
	URL     string   `json:"url"`
	Label   string   `json:"label"`
	Reason  string   `json:"reason"`
	Detail  string   `json:"detail,omitempty"`
	Missing []string `json:"missing,omitempty"`
}

// BrandStats are the counters for a single brand.
type BrandStats struct {
	Brand    string `json:"brand"`
	Total    int    `json:"total"`
	Complete int    `json:"complete"`
	Skipped  int    `json:"skipped"`
	// Error is set when the brand's listing could not be discovered.
	Error string `json:"error,omitempty"`
}

// ScraperResult holds the overall result of a scraping run.
type ScraperResult struct {
	StartTime    time.Time
	EndTime      time.Time
	Brands       []BrandStats
	TotalCount   int
	Complete     int
	Skipped      int
	FailedBrands int
	Skips        []SkipEvent
	ErrorsByType map[string]int
	RetryCount   int
	RequestCount int
	Interrupted  bool
}
