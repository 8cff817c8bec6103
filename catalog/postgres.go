package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-phones/models"
	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"
)

const schema = `
	CREATE TABLE IF NOT EXISTS devices (
		id           SERIAL PRIMARY KEY,
		name         TEXT         NOT NULL,
		brand        TEXT         NOT NULL,
		category_id  INTEGER      NOT NULL DEFAULT 1,
		cpu          TEXT,
		gpu          TEXT,
		ram          TEXT,
		storage      TEXT,
		camera       TEXT,
		battery      TEXT,
		screen       TEXT,
		release_year INTEGER,
		price        NUMERIC(10,2),
		image_url    TEXT,
		source_data  TEXT,
		created_at   TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
		updated_at   TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
		UNIQUE (name, brand)
	);

	CREATE INDEX IF NOT EXISTS idx_devices_brand    ON devices(brand);
	CREATE INDEX IF NOT EXISTS idx_devices_category ON devices(category_id);
`

const upsertDevice = `
	INSERT INTO devices (name, brand, category_id, cpu, gpu, ram, storage, camera, battery, screen, release_year, price, image_url, source_data)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (name, brand) DO UPDATE SET
		category_id  = EXCLUDED.category_id,
		cpu          = EXCLUDED.cpu,
		gpu          = EXCLUDED.gpu,
		ram          = EXCLUDED.ram,
		storage      = EXCLUDED.storage,
		camera       = EXCLUDED.camera,
		battery      = EXCLUDED.battery,
		screen       = EXCLUDED.screen,
		release_year = EXCLUDED.release_year,
		price        = EXCLUDED.price,
		image_url    = EXCLUDED.image_url,
		source_data  = EXCLUDED.source_data,
		updated_at   = NOW()
	RETURNING id
`

var pricePattern = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

// PostgresStore upserts devices into PostgreSQL keyed by (name, brand).
type PostgresStore struct {
	db              *sql.DB
	defaultCategory int
}

// NewPostgresStore opens dsn and waits for the server to answer, retrying a
// few times while it starts up.
func NewPostgresStore(ctx context.Context, dsn string, defaultCategory int) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(2*time.Second), 5), ctx)
	err = backoff.RetryNotify(func() error {
		return db.PingContext(ctx)
	}, policy, func(err error, wait time.Duration) {
		slog.Warn("postgres not ready", slog.Duration("retry_in", wait), slog.Any("error", err))
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	return NewPostgresStoreFromDB(db, defaultCategory), nil
}

// NewPostgresStoreFromDB wraps an existing connection pool.
func NewPostgresStoreFromDB(db *sql.DB, defaultCategory int) *PostgresStore {
	return &PostgresStore{db: db, defaultCategory: defaultCategory}
}

// EnsureSchema creates the devices table when it does not exist.
func (ps *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := ps.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Import upserts each row on its own so one bad record does not sink the
// batch.
func (ps *PostgresStore) Import(ctx context.Context, rows []*models.Row) ([]Result, error) {
	if err := ps.db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("postgres: unreachable: %w", err)
	}

	results := make([]Result, 0, len(rows))
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res := Result{Index: i}
		if row == nil {
			res.Err = ErrMissingIdentity
			results = append(results, res)
			continue
		}
		res.Name, res.Brand = row.Name, row.Brand
		if isUnknown(row.Name) || isUnknown(row.Brand) {
			res.Err = ErrMissingIdentity
			results = append(results, res)
			continue
		}

		if err := ps.db.QueryRowContext(ctx, upsertDevice, ps.args(row)...).Scan(&res.ID); err != nil {
			res.Err = fmt.Errorf("postgres: upsert: %w", err)
			slog.Debug("record rejected",
				slog.String("name", row.Name),
				slog.String("brand", row.Brand),
				slog.Any("error", err),
			)
		}
		results = append(results, res)
	}
	return results, nil
}

// Close releases the connection pool.
func (ps *PostgresStore) Close() error {
	return ps.db.Close()
}

func (ps *PostgresStore) args(row *models.Row) []any {
	category := row.CategoryID
	if category <= 0 {
		category = ps.defaultCategory
	}
	d := row.Device
	return []any{
		strings.TrimSpace(d.Name),
		strings.TrimSpace(d.Brand),
		int64(category),
		nullable(d.CPU),
		nullable(d.GPU),
		nullable(d.RAM),
		nullable(d.Storage),
		nullable(d.Camera),
		nullable(d.Battery),
		nullable(d.Screen),
		parseYear(d.ReleaseYear),
		parsePrice(d.Price),
		nullable(d.ImageURL),
		nullable(row.SourceData),
	}
}

func isUnknown(value string) bool {
	v := strings.TrimSpace(value)
	return v == "" || v == models.Unknown
}

// nullable maps the sentinel and blanks to SQL NULL.
func nullable(value string) any {
	if isUnknown(value) {
		return nil
	}
	return strings.TrimSpace(value)
}

func parseYear(value string) any {
	if isUnknown(value) {
		return nil
	}
	year, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return nil
	}
	return year
}

func parsePrice(value string) any {
	if isUnknown(value) {
		return nil
	}
	match := pricePattern.FindString(value)
	if match == "" {
		return nil
	}
	price, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", ""), 64)
	if err != nil {
		return nil
	}
	return price
}
