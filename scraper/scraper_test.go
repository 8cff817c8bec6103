package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/aluiziolira/go-scrape-phones/config"
	"github.com/aluiziolira/go-scrape-phones/models"
	"github.com/aluiziolira/go-scrape-phones/pipeline"
	"github.com/jarcoal/httpmock"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
		outcome    Outcome
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown", outcome: OutcomeOK},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout", outcome: OutcomeRetryable},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout", outcome: OutcomeRetryable},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection", outcome: OutcomeRetryable},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden", outcome: OutcomeFatal},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found", outcome: OutcomeFatal},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited", outcome: OutcomeRetryable},
		{name: "server", err: nil, statusCode: http.StatusBadGateway, expected: "server", outcome: OutcomeRetryable},
		{name: "gone", err: nil, statusCode: http.StatusGone, expected: "client_status", outcome: OutcomeFatal},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other", outcome: OutcomeFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := classifyError(tt.err, tt.statusCode)
			if got := errorTypeLabel(classified); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
			if got := outcomeOf(classified); got != tt.outcome {
				t.Fatalf("outcome = %s, want %s", got, tt.outcome)
			}
		})
	}
}

type collectingWriter struct {
	mu   sync.Mutex
	rows []*models.Row
}

func (cw *collectingWriter) Write(rows []*models.Row) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.rows = append(cw.rows, rows...)
	return nil
}

func (cw *collectingWriter) Close() error   { return nil }
func (cw *collectingWriter) Discard() error { return nil }
func (cw *collectingWriter) Validate() error {
	return nil
}

func (cw *collectingWriter) All() []*models.Row {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	out := make([]*models.Row, len(cw.rows))
	copy(out, cw.rows)
	return out
}

type site struct {
	t         *testing.T
	cfg       *config.Config
	transport *httpmock.MockTransport
}

func newSite(t *testing.T, brands ...config.Brand) *site {
	cfg := testConfig()
	cfg.Brands = brands
	cfg.BrandParallelism = 1
	return &site{t: t, cfg: cfg, transport: httpmock.NewMockTransport()}
}

func (s *site) listing(slug string, body string) {
	s.transport.RegisterResponder("GET", s.cfg.BaseURL+"/"+slug+".php", htmlResponder(body))
}

func (s *site) detail(path string, body string) {
	s.transport.RegisterResponder("GET", s.cfg.BaseURL+"/"+path, htmlResponder(body))
}

func (s *site) run(ctx context.Context) (*models.ScraperResult, []*models.Row) {
	s.t.Helper()
	sc, err := NewScraper(s.cfg,
		WithTransport(s.transport),
		WithDelayPolicy(FixedDelay(0)),
		WithIdentityPool(FixedIdentity("test-agent/1.0")),
	)
	if err != nil {
		s.t.Fatalf("new scraper: %v", err)
	}

	writer := &collectingWriter{}
	p, err := pipeline.NewPipeline(writer, s.cfg)
	if err != nil {
		s.t.Fatalf("new pipeline: %v", err)
	}
	result, err := sc.Run(ctx, p)
	if err != nil {
		s.t.Fatalf("run: %v", err)
	}
	if err := p.Close(); err != nil {
		s.t.Fatalf("close pipeline: %v", err)
	}
	return result, writer.All()
}

func TestScraperSkipsFatalCandidate(t *testing.T) {
	s := newSite(t, config.Brand{Name: "Samsung", Slug: "samsung-phones-9"})
	s.listing("samsung-phones-9", buildListingPage([]string{"galaxy_a-1.php", "galaxy_b-2.php", "galaxy_c-3.php"}, ""))
	s.detail("galaxy_a-1.php", buildDetailPage("Galaxy A", true))
	s.transport.RegisterResponder("GET", s.cfg.BaseURL+"/galaxy_b-2.php", httpmock.NewStringResponder(http.StatusNotFound, ""))
	s.detail("galaxy_c-3.php", buildDetailPage("Galaxy C", true))

	result, rows := s.run(context.Background())

	if len(result.Brands) != 1 {
		t.Fatalf("brands = %d", len(result.Brands))
	}
	stats := result.Brands[0]
	if stats.Total != 3 || stats.Complete != 2 || stats.Skipped != 1 || stats.Error != "" {
		t.Fatalf("unexpected brand stats: %+v", stats)
	}
	if len(result.Skips) != 1 {
		t.Fatalf("skips = %+v", result.Skips)
	}
	skip := result.Skips[0]
	if skip.Reason != models.ReasonFetchFailed || skip.URL != "http://example.test/galaxy_b-2.php" || skip.Brand != "Samsung" {
		t.Fatalf("unexpected skip: %+v", skip)
	}
	if result.ErrorsByType["not_found"] != 1 {
		t.Fatalf("errors by type = %v", result.ErrorsByType)
	}

	if len(rows) != 2 || rows[0].Name != "Galaxy A" || rows[1].Name != "Galaxy C" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
	row := rows[0]
	if row.Brand != "Samsung" || row.Storage != "128GB" || row.RAM != "8GB" {
		t.Fatalf("row not normalized: %+v", row.Device)
	}
	if row.SourceData != "http://example.test/galaxy_a-1.php" || row.CategoryID != 1 {
		t.Fatalf("unexpected row metadata: %+v", row)
	}
	if result.TotalCount != 3 || result.Complete != 2 || result.Skipped != 1 || result.Interrupted {
		t.Fatalf("unexpected totals: %+v", result)
	}
}

func TestScraperRespectsModelsPerBrand(t *testing.T) {
	s := newSite(t, config.Brand{Name: "Google", Slug: "google-phones-107"})
	s.cfg.ModelsPerBrand = 3

	links := make([]string, 10)
	for i := range links {
		links[i] = fmt.Sprintf("pixel_%d-%d.php", i+1, 100+i)
		s.detail(links[i], buildDetailPage(fmt.Sprintf("Pixel %d", i+1), true))
	}
	s.listing("google-phones-107", buildListingPage(links, ""))

	result, rows := s.run(context.Background())
	if result.Complete != 3 || len(rows) != 3 {
		t.Fatalf("complete=%d rows=%d, want 3", result.Complete, len(rows))
	}
	for i, row := range rows {
		if want := fmt.Sprintf("Pixel %d", i+1); row.Name != want {
			t.Fatalf("row %d = %q, want %q", i, row.Name, want)
		}
	}
	// one listing page and three detail pages
	if result.RequestCount != 4 {
		t.Fatalf("requests = %d, want 4", result.RequestCount)
	}
}

func TestScraperIncompleteAndDuplicate(t *testing.T) {
	s := newSite(t,
		config.Brand{Name: "Samsung", Slug: "samsung-phones-9"},
		config.Brand{Name: "Google", Slug: "google-phones-107"},
	)
	s.listing("samsung-phones-9", buildListingPage([]string{"shared-1.php", "galaxy_old-2.php"}, ""))
	s.listing("google-phones-107", buildListingPage([]string{"shared-1.php"}, ""))
	s.detail("shared-1.php", buildDetailPage("Shared Phone", true))
	s.detail("galaxy_old-2.php", buildDetailPage("Galaxy Old", false))

	result, rows := s.run(context.Background())

	if len(rows) != 1 || rows[0].Name != "Shared Phone" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
	reasons := map[string]models.SkipEvent{}
	for _, skip := range result.Skips {
		reasons[skip.Reason] = skip
	}
	incomplete, ok := reasons[models.ReasonIncomplete]
	if !ok || len(incomplete.Missing) != 1 || incomplete.Missing[0] != models.FieldBattery {
		t.Fatalf("expected incomplete skip missing battery, got %+v", result.Skips)
	}
	dup, ok := reasons[models.ReasonDuplicateURL]
	if !ok || dup.Brand != "Google" {
		t.Fatalf("expected Google duplicate skip, got %+v", result.Skips)
	}
	if result.Brands[1].Skipped != 1 || result.Brands[1].Complete != 0 {
		t.Fatalf("google stats = %+v", result.Brands[1])
	}
}

func TestScraperParallelBrandsKeepConfiguredOrder(t *testing.T) {
	names := []string{"Samsung", "Apple", "Google", "Xiaomi", "OnePlus", "Motorola"}
	brands := make([]config.Brand, len(names))
	for i, name := range names {
		brands[i] = config.Brand{Name: name, Slug: fmt.Sprintf("%s-phones-%d", strings.ToLower(name), i+1)}
	}
	s := newSite(t, brands...)
	s.cfg.BrandParallelism = len(brands)
	s.cfg.ModelsPerBrand = 5

	for _, b := range brands {
		links := make([]string, 5)
		for i := range links {
			links[i] = fmt.Sprintf("%s_%d-%d.php", strings.ToLower(b.Name), i, i+1)
			// every second model lacks a battery row
			s.detail(links[i], buildDetailPage(fmt.Sprintf("%s %d", b.Name, i), i%2 == 0))
		}
		s.listing(b.Slug, buildListingPage(links, ""))
	}

	result, rows := s.run(context.Background())

	if result.TotalCount != 30 || result.Complete != 18 || result.Skipped != 12 || result.FailedBrands != 0 {
		t.Fatalf("unexpected totals: total=%d complete=%d skipped=%d failed=%d",
			result.TotalCount, result.Complete, result.Skipped, result.FailedBrands)
	}
	if len(rows) != 18 {
		t.Fatalf("rows = %d, want 18", len(rows))
	}
	for i, b := range result.Brands {
		if b.Brand != names[i] || b.Total != 5 || b.Complete != 3 || b.Skipped != 2 {
			t.Fatalf("brand %d stats = %+v", i, b)
		}
	}
	for i, row := range rows {
		brand := names[i/3]
		want := fmt.Sprintf("%s %d", brand, (i%3)*2)
		if row.Brand != brand || row.Name != want {
			t.Fatalf("row %d = %s/%s, want %s/%s", i, row.Brand, row.Name, brand, want)
		}
	}
}

func TestScraperRetriesSharedURLAfterFetchFailure(t *testing.T) {
	s := newSite(t,
		config.Brand{Name: "Samsung", Slug: "samsung-phones-9"},
		config.Brand{Name: "Google", Slug: "google-phones-107"},
	)
	s.cfg.MaxRetries = 0
	s.listing("samsung-phones-9", buildListingPage([]string{"shared-1.php"}, ""))
	s.listing("google-phones-107", buildListingPage([]string{"shared-1.php"}, ""))

	var calls int
	s.transport.RegisterResponder("GET", s.cfg.BaseURL+"/shared-1.php", func(req *http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			return httpmock.NewStringResponse(http.StatusServiceUnavailable, ""), nil
		}
		resp := httpmock.NewStringResponse(http.StatusOK, buildDetailPage("Shared Phone", true))
		resp.Header.Set("Content-Type", "text/html")
		return resp, nil
	})

	result, rows := s.run(context.Background())

	if calls != 2 {
		t.Fatalf("detail requests = %d, want 2", calls)
	}
	if len(result.Skips) != 1 || result.Skips[0].Brand != "Samsung" || result.Skips[0].Reason != models.ReasonFetchFailed {
		t.Fatalf("unexpected skips: %+v", result.Skips)
	}
	if result.ErrorsByType["server"] != 1 {
		t.Fatalf("errors by type = %v", result.ErrorsByType)
	}
	if len(rows) != 1 || rows[0].Brand != "Google" || rows[0].Name != "Shared Phone" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
	if result.Brands[1].Complete != 1 {
		t.Fatalf("google stats = %+v", result.Brands[1])
	}
}

func TestScraperBrandFailureDoesNotHaltRun(t *testing.T) {
	s := newSite(t,
		config.Brand{Name: "Apple", Slug: "apple-phones-48"},
		config.Brand{Name: "OnePlus", Slug: "oneplus-phones-95"},
	)
	s.listing("apple-phones-48", "<html><body><p>maintenance</p></body></html>")
	s.listing("oneplus-phones-95", buildListingPage([]string{"oneplus_12-1.php"}, ""))
	s.detail("oneplus_12-1.php", buildDetailPage("OnePlus 12", true))

	result, rows := s.run(context.Background())

	if result.FailedBrands != 1 || result.Brands[0].Error == "" {
		t.Fatalf("expected Apple failure, got %+v", result.Brands)
	}
	if !strings.Contains(result.Brands[0].Error, "container") {
		t.Fatalf("error = %q", result.Brands[0].Error)
	}
	if result.ErrorsByType["parse"] != 1 {
		t.Fatalf("errors by type = %v", result.ErrorsByType)
	}
	if len(rows) != 1 || rows[0].Brand != "OnePlus" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestScraperFollowsListingPages(t *testing.T) {
	s := newSite(t, config.Brand{Name: "Xiaomi", Slug: "xiaomi-phones-80"})
	s.cfg.ModelsPerBrand = 3
	s.listing("xiaomi-phones-80", buildListingPage([]string{"mi_1-1.php", "mi_2-2.php"}, "xiaomi-phones-f-80-0-p2.php"))
	s.detail("xiaomi-phones-f-80-0-p2.php", buildListingPage([]string{"mi_3-3.php", "mi_4-4.php"}, ""))
	for i := 1; i <= 4; i++ {
		s.detail(fmt.Sprintf("mi_%d-%d.php", i, i), buildDetailPage(fmt.Sprintf("Mi %d", i), true))
	}

	result, rows := s.run(context.Background())
	if result.Complete != 3 || len(rows) != 3 || rows[2].Name != "Mi 3" {
		t.Fatalf("complete=%d rows=%+v", result.Complete, rows)
	}
}

func TestScraperCancelledRun(t *testing.T) {
	s := newSite(t, config.Brand{Name: "Samsung", Slug: "samsung-phones-9"})
	s.listing("samsung-phones-9", buildListingPage([]string{"galaxy_a-1.php"}, ""))
	s.detail("galaxy_a-1.php", buildDetailPage("Galaxy A", true))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, rows := s.run(ctx)

	if !result.Interrupted {
		t.Fatalf("expected interrupted result")
	}
	if len(rows) != 0 || result.RequestCount != 0 {
		t.Fatalf("rows=%d requests=%d, want none", len(rows), result.RequestCount)
	}
	if result.FailedBrands != 0 {
		t.Fatalf("cancellation should not count as brand failure: %+v", result.Brands)
	}
}

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "text/html")
	return httpmock.ResponderFromResponse(resp)
}

func buildListingPage(links []string, next string) string {
	var builder strings.Builder
	builder.WriteString(`<html><body><div class="makers"><ul>`)
	for i, link := range links {
		fmt.Fprintf(&builder, `<li><a href="%s"><img src="thumb-%d.jpg"><strong><span>Model %d</span></strong></a></li>`, link, i, i)
	}
	builder.WriteString(`</ul></div>`)
	if next != "" {
		fmt.Fprintf(&builder, `<div class="nav-pages"><a class="prevnextbutton" href="%s" title="Next page">&gt;</a></div>`, next)
	}
	builder.WriteString(`</body></html>`)
	return builder.String()
}

func buildDetailPage(name string, withBattery bool) string {
	var builder strings.Builder
	builder.WriteString(`<html><body>`)
	fmt.Fprintf(&builder, `<h1 class="specs-phone-name-title">%s</h1>`, name)
	builder.WriteString(`<div class="specs-photo-main"><img src="/bigpic/phone.jpg"></div>`)
	builder.WriteString(`<table>`)
	builder.WriteString(`<tr><td class="ttl">Chipset</td><td class="nfo">Snapdragon 8 Gen 3</td></tr>`)
	builder.WriteString(`<tr><td class="ttl">Internal</td><td class="nfo">128GB 8GB RAM</td></tr>`)
	builder.WriteString(`<tr><td class="ttl">Triple camera</td><td class="nfo">50 MP</td></tr>`)
	if withBattery {
		builder.WriteString(`<tr><td class="ttl">Battery type</td><td class="nfo">5000 mAh</td></tr>`)
	}
	builder.WriteString(`<tr><td class="ttl">Size</td><td class="nfo">6.2 inches</td></tr>`)
	builder.WriteString(`</table></body></html>`)
	return builder.String()
}
