package postgres

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/olx-listings-pipeline/internal/listing"
	"github.com/JakeFAU/olx-listings-pipeline/internal/storage"
)

func record(id string) listing.PropertyRecord {
	price := 350000.0
	rooms := 3
	region := "belo horizonte"
	return listing.PropertyRecord{
		ListingID:       id,
		Title:           "Flat " + id,
		PropertyURL:     "https://x/" + id,
		Price:           &price,
		Bedrooms:        &rooms,
		Region:          &region,
		ScrapingDate:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		PropertyDetails: []string{"Piscina"},
	}
}

func TestUpsertQuery(t *testing.T) {
	t.Parallel()

	q := UpsertQuery("properties_sale")
	require.True(t, strings.HasPrefix(q, "INSERT INTO properties_sale (listing_id, title, property_url,"))
	require.Contains(t, q, "$19)")
	require.Contains(t, q, "ON CONFLICT (listing_id) DO UPDATE SET title = EXCLUDED.title")
	require.NotContains(t, q, "listing_id = EXCLUDED.listing_id")
}

func TestBulkInsertBatchesUpserts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPropertyStoreWithPool(mock, storage.TableNames{}, 2)
	require.NoError(t, err)

	table, err := store.ResolveTable(listing.TableSale)
	require.NoError(t, err)
	require.Equal(t, "properties_sale", table)

	records := []listing.PropertyRecord{record("1"), record("2"), record("3")}
	pattern := regexp.QuoteMeta("INSERT INTO properties_sale")

	first := mock.ExpectBatch()
	first.ExpectExec(pattern).WithArgs(records[0].Values()...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	first.ExpectExec(pattern).WithArgs(records[1].Values()...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	second := mock.ExpectBatch()
	second.ExpectExec(pattern).WithArgs(records[2].Values()...).WillReturnResult(pgxmock.NewResult("INSERT", 1))

	n, err := store.BulkInsert(context.Background(), table, records)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkInsertReportsFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPropertyStoreWithPool(mock, storage.TableNames{Rent: "rentals"}, 0)
	require.NoError(t, err)

	rec := record("9")
	batch := mock.ExpectBatch()
	batch.ExpectExec(regexp.QuoteMeta("INSERT INTO rentals")).
		WithArgs(rec.Values()...).
		WillReturnError(errors.New("relation does not exist"))

	_, err = store.BulkInsert(context.Background(), "rentals", []listing.PropertyRecord{rec})
	require.Error(t, err)
	require.Contains(t, err.Error(), "upsert listing 9")
}

func TestBulkInsertRejectsUnknownTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPropertyStoreWithPool(mock, storage.TableNames{}, 10)
	require.NoError(t, err)
	_, err = store.BulkInsert(context.Background(), "users", []listing.PropertyRecord{record("1")})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkInsertEmptyIsNoop(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPropertyStoreWithPool(mock, storage.TableNames{}, 10)
	require.NoError(t, err)
	n, err := store.BulkInsert(context.Background(), storage.DefaultRentTable, nil)
	require.NoError(t, err)
	require.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreConstructorsValidate(t *testing.T) {
	t.Parallel()

	_, err := NewPropertyStore(context.Background(), Config{})
	require.Error(t, err)
	_, err = NewPropertyStore(context.Background(), Config{DSN: "postgres://x", Tables: storage.TableNames{Sale: "bad table"}})
	require.Error(t, err)
	_, err = NewPropertyStoreWithPool(nil, storage.TableNames{}, 1)
	require.Error(t, err)
}

func TestPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPropertyStoreWithPool(mock, storage.TableNames{}, 1)
	require.NoError(t, err)
	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
