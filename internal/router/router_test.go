package router

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/olx-listings-pipeline/internal/listing"
	"github.com/JakeFAU/olx-listings-pipeline/internal/pipeline"
	"github.com/JakeFAU/olx-listings-pipeline/internal/storage"
	"github.com/JakeFAU/olx-listings-pipeline/internal/storage/memory"
)

func TestRoute(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		url  string
		want listing.Table
	}{
		{"https://mg.olx.com.br/belo-horizonte/imoveis/venda/apartamentos", listing.TableSale},
		{"https://mg.olx.com.br/belo-horizonte/imoveis/aluguel/casas?rts=300", listing.TableRent},
	}
	for _, tc := range testCases {
		got, err := Route(tc.url)
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}

	_, err := Route("https://mg.olx.com.br/belo-horizonte/imoveis/temporada")
	require.ErrorIs(t, err, ErrUnroutable)
	_, err = Route("")
	require.ErrorIs(t, err, ErrUnroutable)
}

func TestRegion(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		url  string
		want *string
	}{
		{"plain", "https://x.com/imoveis/venda/apartamentos/belo-horizonte", ptr("belo horizonte")},
		{"query", "https://x.com/imoveis/venda/casas/nova-lima?rts=301", ptr("nova lima")},
		{"trailing slash", "https://x.com/imoveis/venda/contagem/", ptr("contagem")},
		{"host only", "https://x.com", nil},
		{"root", "https://x.com/", nil},
		{"unparsable", "::bad/path/sete-lagoas?x=1", ptr("sete lagoas")},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Region(tc.url))
		})
	}
}

func ptr(s string) *string { return &s }

type failingStore struct {
	resolveErr error
	insertErr  error
	inserted   int
}

func (s *failingStore) ResolveTable(listing.Table) (string, error) {
	if s.resolveErr != nil {
		return "", s.resolveErr
	}
	return "t", nil
}

func (s *failingStore) BulkInsert(_ context.Context, _ string, records []listing.PropertyRecord) (int, error) {
	s.inserted += len(records)
	return 0, s.insertErr
}

func TestPersistUnroutableWritesNothing(t *testing.T) {
	t.Parallel()

	store := &failingStore{}
	_, err := New(store, zap.NewNop()).Persist(context.Background(), "https://x.com/imoveis/lancamentos", []listing.PropertyRecord{{ListingID: "1"}})
	require.ErrorIs(t, err, ErrUnroutable)
	require.Zero(t, store.inserted)
}

func TestPersistSurfacesStoreErrors(t *testing.T) {
	t.Parallel()

	_, err := New(&failingStore{resolveErr: errors.New("no mapping")}, nil).
		Persist(context.Background(), "https://x.com/venda/a", []listing.PropertyRecord{{ListingID: "1"}})
	require.ErrorContains(t, err, "no mapping")

	_, err = New(&failingStore{insertErr: errors.New("disk full")}, nil).
		Persist(context.Background(), "https://x.com/venda/a", []listing.PropertyRecord{{ListingID: "1"}})
	require.ErrorContains(t, err, "disk full")
}

func TestPersistEmptyBatchSkipsInsert(t *testing.T) {
	t.Parallel()

	store := &failingStore{insertErr: errors.New("should not be called")}
	res, err := New(store, nil).Persist(context.Background(), "https://x.com/aluguel/x", nil)
	require.NoError(t, err)
	require.Equal(t, listing.TableRent, res.Table)
	require.Zero(t, store.inserted)
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestTransformAndPersistEndToEnd(t *testing.T) {
	t.Parallel()

	content, err := json.Marshal(map[string]any{
		"props": map[string]any{"pageProps": map[string]any{"ads": []any{
			map[string]any{
				"listId": 123,
				"title":  "Flat",
				"price":  "R$ 350.000",
				"url":    "https://mg.olx.com.br/belo-horizonte/imoveis/flat-123",
				"properties": []any{
					map[string]any{"label": "Quartos", "value": "3"},
					map[string]any{"label": "Banheiros", "value": "5 ou mais"},
				},
			},
		}}},
	})
	require.NoError(t, err)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	report, err := pipeline.New(fixedClock{now: now}).Transform(content)
	require.NoError(t, err)
	require.Len(t, report.Records, 1)

	store, err := memory.NewPropertyStore(storage.TableNames{})
	require.NoError(t, err)
	source := "https://mg.olx.com.br/belo-horizonte-e-regiao/imoveis/venda/apartamentos/belo-horizonte"
	res, err := New(store, zap.NewNop()).Persist(context.Background(), source, report.Records)
	require.NoError(t, err)
	require.Equal(t, listing.TableSale, res.Table)
	require.Equal(t, storage.DefaultSaleTable, res.Physical)
	require.Equal(t, 1, res.Written)

	rows := store.Records(storage.DefaultSaleTable)
	require.Len(t, rows, 1)
	got := rows[0]
	require.Equal(t, "123", got.ListingID)
	require.Equal(t, 350000.0, *got.Price)
	require.Equal(t, 3, *got.Bedrooms)
	require.Equal(t, 5, *got.Bathrooms)
	require.Equal(t, "belo horizonte", *got.Region)
	require.Equal(t, now, got.ScrapingDate)
	require.Nil(t, report.Records[0].Region, "input records are not mutated")
	require.Empty(t, store.Records(storage.DefaultRentTable))
}
