// Package catalog hands accepted device rows to the downstream catalog
// store. The store assigns identifiers and owns deduplication across runs.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aluiziolira/go-scrape-phones/models"
)

// ErrMissingIdentity rejects a record without a usable name or brand.
var ErrMissingIdentity = errors.New("catalog: record needs a name and a brand")

// Result is the per-record outcome of an import. Exactly one of ID and Err
// is meaningful.
type Result struct {
	Index int
	Name  string
	Brand string
	ID    int64
	Err   error
}

// OK reports whether the record was stored.
func (r Result) OK() bool {
	return r.Err == nil
}

// Importer stores a batch of rows. Individual record failures are reported in
// the returned results; the error is reserved for the whole batch failing,
// e.g. an unreachable store.
type Importer interface {
	Import(ctx context.Context, rows []*models.Row) ([]Result, error)
}

// Summary counts import outcomes.
type Summary struct {
	Imported int
	Failed   int
}

// Summarize tallies results.
func Summarize(results []Result) Summary {
	var s Summary
	for _, r := range results {
		if r.OK() {
			s.Imported++
		} else {
			s.Failed++
		}
	}
	return s
}

// ImportAll sends rows to imp in batches of batchSize. Result indexes refer to
// positions in rows. On a batch-level failure the results gathered so far are
// returned together with the error.
func ImportAll(ctx context.Context, imp Importer, rows []*models.Row, batchSize int) ([]Result, error) {
	if batchSize <= 0 {
		batchSize = len(rows)
	}

	results := make([]Result, 0, len(rows))
	for start := 0; start < len(rows); start += batchSize {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		end := min(start+batchSize, len(rows))

		batch, err := imp.Import(ctx, rows[start:end])
		if err != nil {
			return results, fmt.Errorf("import batch %d-%d: %w", start, end-1, err)
		}
		for _, r := range batch {
			r.Index += start
			results = append(results, r)
		}

		s := Summarize(batch)
		slog.Info("batch imported",
			slog.Int("from", start),
			slog.Int("to", end-1),
			slog.Int("imported", s.Imported),
			slog.Int("failed", s.Failed),
		)
	}
	return results, nil
}
