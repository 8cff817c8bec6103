package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-scrape-phones/config"
	"github.com/cenkalti/backoff/v4"
	"github.com/gocolly/colly/v2"
)

var errEmptyIdentityPool = errors.New("identity pool is empty")

const (
	ctxKeyBody   = "body"
	ctxKeyStatus = "status"
	ctxKeyURL    = "final_url"
)

// Page is a successfully fetched document.
type Page struct {
	URL    *url.URL
	Status int
	Body   []byte
}

// Fetcher issues throttled, identity-rotated GET requests through a
// synchronous colly collector and retries transient failures.
type Fetcher struct {
	cfg        *config.Config
	collector  *colly.Collector
	delay      DelayPolicy
	identities IdentityPool
	metrics    *Metrics
	sleep      func(ctx context.Context, d time.Duration) error

	requestCount int64
	retryCount   int64
}

// FetcherOption customises a Fetcher.
type FetcherOption func(*Fetcher)

// WithDelayPolicy replaces the randomized pre-request delay.
func WithDelayPolicy(p DelayPolicy) FetcherOption {
	return func(f *Fetcher) { f.delay = p }
}

// WithIdentityPool replaces the identity pool.
func WithIdentityPool(p IdentityPool) FetcherOption {
	return func(f *Fetcher) { f.identities = p }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) FetcherOption {
	return func(f *Fetcher) { f.metrics = m }
}

// WithTransport swaps the HTTP transport, e.g. for a mock in tests.
func WithTransport(rt http.RoundTripper) FetcherOption {
	return func(f *Fetcher) { f.collector.WithTransport(rt) }
}

// NewFetcher builds a fetcher configured from cfg.
func NewFetcher(cfg *config.Config, opts ...FetcherOption) (*Fetcher, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.ParseHTTPErrorResponse = true
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
	})

	collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(ctxKeyBody, r.Body)
		r.Ctx.Put(ctxKeyStatus, r.StatusCode)
		r.Ctx.Put(ctxKeyURL, r.Request.URL)
	})

	f := &Fetcher{
		cfg:       cfg,
		collector: collector,
		delay:     UniformDelay{Min: cfg.DelayMin, Max: cfg.DelayMax},
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.identities == nil {
		source := StaticSource(cfg.UserAgents)
		if cfg.UserAgentsFile != "" {
			source = FileSource(cfg.UserAgentsFile)
		}
		pool, err := NewRotatingPool(context.Background(), source, cfg.UserAgentRefresh)
		if err != nil {
			return nil, fmt.Errorf("identity pool: %w", err)
		}
		f.identities = pool
	}
	return f, nil
}

// Fetch retrieves rawURL. Retryable failures are retried with exponential
// backoff up to cfg.MaxRetries times; the delay policy applies before every
// attempt. Failures are returned as *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = f.cfg.RetryBackoff
	if expo.InitialInterval <= 0 {
		expo.InitialInterval = 100 * time.Millisecond
	}
	if f.cfg.RetryBackoffMax > 0 {
		expo.MaxInterval = f.cfg.RetryBackoffMax
	}
	expo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(f.cfg.MaxRetries)), ctx)

	var (
		page     *Page
		attempts int
	)
	err := backoff.RetryNotify(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempts++
		p, err := f.fetchOnce(ctx, rawURL)
		if err != nil {
			if outcomeOf(err) == OutcomeFatal {
				return backoff.Permanent(err)
			}
			return err
		}
		page = p
		return nil
	}, policy, func(err error, wait time.Duration) {
		atomic.AddInt64(&f.retryCount, 1)
		f.metrics.IncRetries()
		slog.Debug("retrying request",
			slog.String("url", rawURL),
			slog.Int("attempt", attempts),
			slog.Duration("backoff", wait),
			slog.Any("error", err),
		)
	})
	if err != nil {
		return nil, &FetchError{URL: rawURL, Outcome: outcomeOf(err), Attempts: attempts, Err: err}
	}
	return page, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) (*Page, error) {
	if err := f.sleep(ctx, f.delay.Next()); err != nil {
		return nil, err
	}

	hdr := http.Header{}
	hdr.Set("User-Agent", f.identities.Pick())
	hdr.Set("Accept", "text/html,application/xhtml+xml")

	reqCtx := colly.NewContext()
	atomic.AddInt64(&f.requestCount, 1)
	start := time.Now()
	err := f.collector.Request(http.MethodGet, rawURL, nil, reqCtx, hdr)
	f.metrics.ObserveDuration(time.Since(start))

	status, _ := reqCtx.GetAny(ctxKeyStatus).(int)
	classified := classifyError(err, status)
	f.metrics.IncRequest(outcomeOf(classified))
	if classified != nil {
		category := errorTypeLabel(classified)
		f.metrics.IncError(category)
		slog.Debug("request error",
			slog.String("url", rawURL),
			slog.Int("status", status),
			slog.String("category", category),
			slog.Any("error", classified),
		)
		return nil, classified
	}

	body, _ := reqCtx.GetAny(ctxKeyBody).([]byte)
	final, _ := reqCtx.GetAny(ctxKeyURL).(*url.URL)
	if final == nil {
		final, _ = url.Parse(rawURL)
	}
	return &Page{URL: final, Status: status, Body: body}, nil
}

// RequestCount returns the number of requests issued so far.
func (f *Fetcher) RequestCount() int {
	return int(atomic.LoadInt64(&f.requestCount))
}

// RetryCount returns the number of retries scheduled so far.
func (f *Fetcher) RetryCount() int {
	return int(atomic.LoadInt64(&f.retryCount))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
