package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-phones/config"
	"github.com/aluiziolira/go-scrape-phones/models"
	"github.com/aluiziolira/go-scrape-phones/parser"
	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
)

// OutputWriter defines the interface for data output. Close commits the
// output; Discard drops everything written so far.
type OutputWriter interface {
	Write(rows []*models.Row) error
	Close() error
	Discard() error
	Validate() error
}

// Pipeline coordinates de-duplication, normalization, validation and output
// writing. It is safe for concurrent use by several brand workers.
type Pipeline struct {
	cfg    *config.Config
	writer OutputWriter
	policy parser.Policy

	seen *lru.Cache[string, struct{}]

	mu      sync.Mutex // guards rows/closed/err
	rows    map[string][]*models.Row
	closed  bool
	err     error
	metrics metrics
}

// NewPipeline builds a pipeline that commits accepted rows to writer.
func NewPipeline(writer OutputWriter, cfg *config.Config) (*Pipeline, error) {
	if writer == nil {
		return nil, errors.New("pipeline: nil writer")
	}
	size := cfg.DedupeMaxSize
	if size <= 0 {
		size = 10000
	}
	seen, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("dedupe cache: %w", err)
	}

	return &Pipeline{
		cfg:     cfg,
		writer:  writer,
		policy:  parser.NewPolicy(cfg.RequiredFields),
		seen:    seen,
		rows:    make(map[string][]*models.Row),
		metrics: newMetrics(),
	}, nil
}

// Claim reports whether url has not been seen before in this run and marks
// it as seen.
func (p *Pipeline) Claim(url string) bool {
	found, _ := p.seen.ContainsOrAdd(url, struct{}{})
	if found {
		p.metrics.addValidation(models.ReasonDuplicateURL)
		return false
	}
	return true
}

// Release forgets url so a later listing of the same page may claim it again.
func (p *Pipeline) Release(url string) {
	p.seen.Remove(url)
}

// Process normalizes and validates a raw device. Complete devices are kept
// for output; the verdict is returned either way.
func (p *Pipeline) Process(brand string, c models.Candidate, raw models.Device) (parser.Verdict, error) {
	closed, err := p.state()
	if err != nil {
		return parser.Verdict{}, err
	}
	if closed {
		return parser.Verdict{}, ErrPipelineClosed
	}

	device := parser.Normalize(raw)
	verdict := p.policy.Validate(device)
	if !verdict.Complete {
		p.metrics.addValidation(models.ReasonIncomplete)
		return verdict, nil
	}

	row := &models.Row{
		Device:     device,
		CategoryID: parser.ResolveCategory(device.Name, p.cfg.CategoryRules, p.cfg.DefaultCategoryID),
		SourceData: c.URL,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return parser.Verdict{}, ErrPipelineClosed
	}
	p.rows[brand] = append(p.rows[brand], row)
	p.metrics.incrementProcessed()
	return verdict, nil
}

// Rows returns the accepted rows, grouped in configured brand order. Rows for
// brands outside the configuration follow in first-seen order.
func (p *Pipeline) Rows() []*models.Row {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.orderedLocked()
}

// Close writes every accepted row and commits the writer. On a write failure
// the writer's partial output is discarded and the error returned.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return p.Err()
	}
	p.closed = true
	rows := p.orderedLocked()
	p.mu.Unlock()

	if err := p.writer.Write(rows); err != nil {
		p.setErr(fmt.Errorf("write rows: %w", err))
		if derr := p.writer.Discard(); derr != nil {
			slog.Warn("discard output failed", slog.Any("error", derr))
		}
		return p.Err()
	}
	if err := p.writer.Close(); err != nil {
		p.setErr(fmt.Errorf("commit output: %w", err))
		return p.Err()
	}
	slog.Info("output written", slog.Int("rows", len(rows)))
	return nil
}

// Discard drops all output without writing.
func (p *Pipeline) Discard() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.writer.Discard()
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

// StartMetricsReporting emits periodic progress logs until stop is closed.
func (p *Pipeline) StartMetricsReporting(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				metrics := p.GetMetrics()
				processed := metrics["accepted_records"].(int64)
				validation := metrics["rejections"].(map[string]int)
				slog.Info("pipeline progress",
					slog.Int64("accepted", processed),
					slog.Int("incomplete", validation[models.ReasonIncomplete]),
					slog.Int("duplicates", validation[models.ReasonDuplicateURL]),
				)
			case <-stop:
				return
			}
		}
	}()
}

func (p *Pipeline) orderedLocked() []*models.Row {
	var out []*models.Row
	done := make(map[string]bool, len(p.rows))
	for _, b := range p.cfg.Brands {
		if done[b.Name] {
			continue
		}
		done[b.Name] = true
		out = append(out, p.rows[b.Name]...)
	}
	for brand, rows := range p.rows {
		if !done[brand] {
			out = append(out, rows...)
		}
	}
	return out
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil {
		p.err = err
	}
	p.closed = true
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

type metrics struct {
	mu         sync.Mutex
	processed  int64
	validation map[string]int
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) incrementProcessed() {
	m.mu.Lock()
	m.processed++
	m.mu.Unlock()
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"accepted_records": m.processed,
		"rejections":       copyValidation,
	}
}
