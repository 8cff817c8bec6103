package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aluiziolira/go-scrape-phones/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStoreFromDB(db, 1), mock
}

func fullRow() *models.Row {
	return &models.Row{
		Device: models.Device{
			Name:        "Galaxy S24 Ultra",
			Brand:       "Samsung",
			CPU:         "Snapdragon 8 Gen 3",
			GPU:         models.Unknown,
			RAM:         "12GB",
			Storage:     "256GB",
			Camera:      "200 MP",
			Battery:     "5000 mAh",
			Screen:      "6.8 inches",
			ReleaseYear: "2024",
			Price:       "$ 1,299.99",
			ImageURL:    "https://img.example.test/s24u.jpg",
		},
		CategoryID: 0,
		SourceData: "https://www.example.test/samsung_galaxy_s24_ultra-12771.php",
	}
}

func TestEnsureSchema(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS devices`).WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImportPartialSuccess(t *testing.T) {
	store, mock := newMockStore(t)

	row := fullRow()
	mock.ExpectQuery(`INSERT INTO devices .* ON CONFLICT \(name, brand\) DO UPDATE`).
		WithArgs("Galaxy S24 Ultra", "Samsung", int64(1), "Snapdragon 8 Gen 3", nil, "12GB", "256GB",
			"200 MP", "5000 mAh", "6.8 inches", int64(2024), 1299.99, "https://img.example.test/s24u.jpg", row.SourceData).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	broken := fullRow()
	broken.Name = "Galaxy Broken"
	broken.ReleaseYear = "2024, February"
	broken.Price = "About 300 EUR"
	mock.ExpectQuery(`INSERT INTO devices`).
		WithArgs("Galaxy Broken", "Samsung", int64(1), sqlmock.AnyArg(), nil, sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), nil, float64(300), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(errors.New("value too long for type"))

	nameless := fullRow()
	nameless.Name = models.Unknown

	results, err := store.Import(context.Background(), []*models.Row{row, broken, nameless})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].OK())
	assert.Equal(t, int64(42), results[0].ID)
	assert.Equal(t, "Galaxy S24 Ultra", results[0].Name)

	assert.False(t, results[1].OK())
	assert.Contains(t, results[1].Err.Error(), "value too long")
	assert.Equal(t, 1, results[1].Index)

	assert.ErrorIs(t, results[2].Err, ErrMissingIdentity)

	assert.Equal(t, Summary{Imported: 1, Failed: 2}, Summarize(results))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImportUnreachableStore(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	store := NewPostgresStoreFromDB(db, 1)

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	results, err := store.Import(context.Background(), []*models.Row{fullRow()})
	assert.Error(t, err)
	assert.Empty(t, results)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type fakeImporter struct {
	batches [][]*models.Row
	failAt  int
}

func (f *fakeImporter) Import(_ context.Context, rows []*models.Row) ([]Result, error) {
	f.batches = append(f.batches, rows)
	if f.failAt > 0 && len(f.batches) == f.failAt {
		return nil, errors.New("store down")
	}
	out := make([]Result, len(rows))
	for i, r := range rows {
		out[i] = Result{Index: i, Name: r.Name, ID: int64(len(f.batches)*100 + i)}
	}
	return out, nil
}

func TestImportAllBatches(t *testing.T) {
	rows := make([]*models.Row, 5)
	for i := range rows {
		rows[i] = fullRow()
	}
	imp := &fakeImporter{}

	results, err := ImportAll(context.Background(), imp, rows, 2)
	require.NoError(t, err)
	require.Len(t, imp.batches, 3)
	assert.Len(t, imp.batches[2], 1)
	require.Len(t, results, 5)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
	}
}

func TestImportAllStopsOnBatchFailure(t *testing.T) {
	rows := make([]*models.Row, 4)
	for i := range rows {
		rows[i] = fullRow()
	}
	imp := &fakeImporter{failAt: 2}

	results, err := ImportAll(context.Background(), imp, rows, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store down")
	assert.Len(t, results, 2)
}

func TestValueCoercion(t *testing.T) {
	assert.Nil(t, nullable(models.Unknown))
	assert.Nil(t, nullable("  "))
	assert.Equal(t, "8GB", nullable(" 8GB "))

	assert.Equal(t, int64(2023), parseYear("2023"))
	assert.Nil(t, parseYear("Exp. release 2025"))
	assert.Nil(t, parseYear(models.Unknown))

	assert.Equal(t, 1299.99, parsePrice("$ 1,299.99"))
	assert.Equal(t, 349.0, parsePrice("349"))
	assert.Nil(t, parsePrice("Coming soon"))
}
