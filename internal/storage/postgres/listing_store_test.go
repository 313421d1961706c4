package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

var camry = crawler.Target{Make: "toyota", Model: "camry"}

func TestWriteBatchInsertsRowsInOneTransaction(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewListingStoreWithPool(mock, "cars", nil)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	listings := []crawler.EnrichedListing{
		{
			RawListing: crawler.RawListing{
				Title: "Used 2021 Toyota Camry SE", Make: "Toyota", Model: "toyota-camry",
				ModelTitle: "Toyota Camry SE", Condition: "Used", Year: "2021",
				Mileage: "31,204 mi.", Price: "$24,500", MonthlyPayment: "$412/mo",
				Dealer: "Sunrise Toyota", Region: "Austin, TX", State: "TX",
				Link: "https://www.cars.com/vehicledetail/a/", CapturedAt: now,
			},
			Value: 81.5,
		},
		{
			RawListing: crawler.RawListing{
				Title: "Camry", Make: "Toyota", Model: "toyota-camry",
				Link: "https://www.cars.com/vehicledetail/c/", CapturedAt: now,
			},
			Value:        0,
			UsedFallback: true,
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "cars" \("title", "make", "model", "model_title", "condition"`).
		WithArgs(
			"Used 2021 Toyota Camry SE", "Toyota", "toyota-camry", "Toyota Camry SE", "Used", "2021",
			"31,204 mi.", "$24,500", "$412/mo", "Sunrise Toyota", 81.5, "Austin, TX", "TX",
			"https://www.cars.com/vehicledetail/a/", now,
			"Camry", "Toyota", "toyota-camry", nil, nil, nil,
			nil, nil, nil, nil, 0.0, nil, nil,
			"https://www.cars.com/vehicledetail/c/", now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	require.NoError(t, store.WriteBatch(context.Background(), camry, listings))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteBatchRollsBackOnInsertError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewListingStoreWithPool(mock, "cars", nil)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "cars"`).WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	err = store.WriteBatch(context.Background(), camry, []crawler.EnrichedListing{{RawListing: crawler.RawListing{Link: "x"}}})
	require.ErrorContains(t, err, "duplicate key")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteBatchReportsBeginAndCommitErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewListingStoreWithPool(mock, "cars", nil)
	require.NoError(t, err)
	batch := []crawler.EnrichedListing{{RawListing: crawler.RawListing{Link: "x"}}}

	mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))
	require.ErrorContains(t, store.WriteBatch(context.Background(), camry, batch), "begin listing tx")

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "cars"`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))
	require.ErrorContains(t, store.WriteBatch(context.Background(), camry, batch), "commit listing tx")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteBatchChunksLargeBatches(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewListingStoreWithPool(mock, "cars", nil)
	require.NoError(t, err)

	listings := make([]crawler.EnrichedListing, maxRowsPerStatement+1)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "cars"`).WillReturnResult(pgxmock.NewResult("INSERT", maxRowsPerStatement))
	mock.ExpectExec(`INSERT INTO "cars"`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.WriteBatch(context.Background(), camry, listings))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteBatchEmptyIsNoop(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewListingStoreWithPool(mock, "", nil)
	require.NoError(t, err)
	require.NoError(t, store.WriteBatch(context.Background(), camry, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResetTruncatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewListingStoreWithPool(mock, "listings", nil)
	require.NoError(t, err)

	mock.ExpectExec(`TRUNCATE TABLE "listings"`).WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	require.NoError(t, store.Reset(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchemaCreatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewListingStoreWithPool(mock, "cars", nil)
	require.NoError(t, err)

	stmt := store.createStatement()
	require.True(t, strings.HasPrefix(stmt, `CREATE TABLE IF NOT EXISTS "cars" (id BIGSERIAL PRIMARY KEY, "title" TEXT`))
	require.Contains(t, stmt, `"value" DOUBLE PRECISION NOT NULL DEFAULT 0`)
	require.Contains(t, stmt, `"condition" TEXT`)
	require.Contains(t, stmt, `"time" TIMESTAMPTZ NOT NULL)`)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "cars"`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "cars"`).WillReturnError(errors.New("permission denied for schema public"))
	require.ErrorContains(t, store.EnsureSchema(context.Background()), "create cars")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewListingStoreWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewListingStoreWithPool(nil, "cars", nil)
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewListingStoreWithPool(mock, "cars; DROP TABLE x", nil)
	require.Error(t, err)

	_, err = NewListingStore(context.Background(), ListingStoreConfig{}, nil)
	require.Error(t, err)
}

func TestInsertStatementPlaceholders(t *testing.T) {
	t.Parallel()

	store := &ListingStore{table: "cars"}
	query, args := store.insertStatement(make([]crawler.EnrichedListing, 2))
	require.Len(t, args, 2*len(listingColumns))
	require.True(t, strings.HasSuffix(query, "($16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30)"))
	require.Contains(t, query, `"condition"`)
	require.Contains(t, query, `"time"`)
}
