package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/olx-listings-pipeline/internal/config"
	"github.com/JakeFAU/olx-listings-pipeline/internal/crawler"
	"github.com/JakeFAU/olx-listings-pipeline/internal/linkgen"
	"github.com/JakeFAU/olx-listings-pipeline/internal/listing"
	"github.com/JakeFAU/olx-listings-pipeline/internal/storage"
	"github.com/JakeFAU/olx-listings-pipeline/internal/storage/memory"
)

const (
	saleURL  = "https://mg.olx.com.br/imoveis/venda/apartamentos/belo-horizonte"
	rentURL  = "https://sp.olx.com.br/imoveis/aluguel/casas/campinas"
	emptyURL = "https://rj.olx.com.br/imoveis/venda/casas/niteroi"
	doneURL  = "https://rj.olx.com.br/imoveis/aluguel/apartamentos/rio-de-janeiro"
)

// fakeBrowser serves a fixed sequence of result pages per URL.
type fakeBrowser struct {
	mu     sync.Mutex
	pages  map[string][]string
	opened []string
}

func (b *fakeBrowser) NewSession(context.Context) (crawler.Session, error) {
	return &fakeSession{browser: b}, nil
}

func (b *fakeBrowser) openedURLs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.opened...)
}

type fakeSession struct{ browser *fakeBrowser }

func (s *fakeSession) OpenPage(_ context.Context, url string) (crawler.Page, error) {
	s.browser.mu.Lock()
	defer s.browser.mu.Unlock()
	s.browser.opened = append(s.browser.opened, url)
	return &fakePage{url: url, contents: s.browser.pages[url]}, nil
}

func (s *fakeSession) Close() error { return nil }

type fakePage struct {
	url      string
	contents []string
	index    int
}

func (p *fakePage) Navigate(context.Context, string) error {
	p.index++
	return nil
}

func (p *fakePage) Reload(context.Context) error { return nil }

func (p *fakePage) WaitForSelector(_ context.Context, selector string, _ time.Duration) error {
	if p.index >= len(p.contents) {
		return crawler.ErrSelectorTimeout
	}
	return nil
}

func (p *fakePage) TextContent(context.Context, string) (string, error) {
	return p.contents[p.index], nil
}

func (p *fakePage) NextPageLink(context.Context) (string, error) {
	if p.index+1 < len(p.contents) {
		return p.url + "?o=2", nil
	}
	return "", nil
}

func (p *fakePage) URL() string { return p.url }

func (p *fakePage) Close() error { return nil }

func adsPage(t *testing.T, ads ...map[string]any) string {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"props": map[string]any{"pageProps": map[string]any{"ads": ads}},
	})
	require.NoError(t, err)
	return string(data)
}

func ad(id int, title, url string) map[string]any {
	return map[string]any{"listId": id, "title": title, "url": url}
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		WorkList: config.WorkListConfig{Path: filepath.Join(t.TempDir(), "links.csv")},
		Crawler: config.CrawlerConfig{
			Workers:          2,
			ExtractAttempts:  1,
			PaginateAttempts: 1,
			OpenAttempts:     1,
		},
		Queue: config.QueueConfig{
			Backend:      config.QueueMemory,
			PayloadTopic: "scraped-data",
			StatusTopic:  "scraping-progress",
			Capacity:     16,
		},
		Storage:   config.StorageConfig{Backend: config.StorageNone},
		Telemetry: config.TelemetryConfig{ServiceName: "olx-listings-test", SampleRatio: 1},
	}
}

func TestRunAllCrawlsIngestsAndTracks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	browser := &fakeBrowser{pages: map[string][]string{
		saleURL: {
			adsPage(t, ad(1, "Apartamento Savassi", saleURL+"/1"), ad(2, "Apartamento Centro", saleURL+"/2")),
			adsPage(t, ad(3, "Cobertura Lourdes", saleURL+"/3")),
		},
		rentURL: {adsPage(t, ad(10, "Casa Cambuí", rentURL+"/10"))},
	}}
	properties, err := memory.NewPropertyStore(storage.TableNames{})
	require.NoError(t, err)

	a, err := Build(ctx, testConfig(t), zap.NewNop(),
		WithBrowser(browser),
		WithPropertyStore(properties),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	require.NoError(t, a.WorkList().Save(ctx, []listing.WorkItem{
		{URL: saleURL, Status: listing.StatusPending},
		{URL: rentURL, Status: listing.StatusFailed},
		{URL: emptyURL, Status: listing.StatusPending},
		{URL: doneURL, Status: listing.StatusFinished},
	}))

	require.NoError(t, a.RunAll(ctx))

	sale := properties.Records(storage.DefaultSaleTable)
	require.Len(t, sale, 3)
	assert.Equal(t, "1", sale[0].ListingID)
	require.NotNil(t, sale[0].Region)
	assert.Equal(t, "belo horizonte", *sale[0].Region)
	rent := properties.Records(storage.DefaultRentTable)
	require.Len(t, rent, 1)
	assert.Equal(t, "Casa Cambuí", rent[0].Title)

	items, err := a.WorkList().Load(ctx)
	require.NoError(t, err)
	statuses := map[string]listing.Status{}
	for _, item := range items {
		statuses[item.URL] = item.Status
	}
	assert.Equal(t, map[string]listing.Status{
		saleURL:  listing.StatusFinished,
		rentURL:  listing.StatusFinished,
		emptyURL: listing.StatusNoData,
		doneURL:  listing.StatusFinished,
	}, statuses)
	assert.NotContains(t, browser.openedURLs(), doneURL)
}

func TestSingleStageCommandsRejectMemoryBroker(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a, err := Build(ctx, testConfig(t), zap.NewNop(), WithBrowser(&fakeBrowser{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(ctx) })

	assert.ErrorIs(t, a.Crawl(ctx), ErrInProcessBroker)
	assert.ErrorIs(t, a.Ingest(ctx), ErrInProcessBroker)
	assert.ErrorIs(t, a.Track(ctx), ErrInProcessBroker)
}

func TestSubscriptionsFollowBroker(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Queue.PayloadSubscription = "scraped-data-sub"
	cfg.Queue.StatusSubscription = "scraping-progress-sub"

	a, err := Build(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(ctx) })
	assert.True(t, a.InProcessBroker())
	assert.Equal(t, "scraped-data", a.PayloadSubscription())
	assert.Equal(t, "scraping-progress", a.StatusSubscription())

	cfg.Queue.Backend = config.QueueNoop
	b, err := Build(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close(ctx) })
	assert.False(t, b.InProcessBroker())
	assert.Equal(t, "scraped-data-sub", b.PayloadSubscription())
	assert.Equal(t, "scraping-progress-sub", b.StatusSubscription())
}

func TestGenerateLinksLeavesBrokerClosed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Queue.Backend = config.QueuePubSub
	cfg.Queue.ProjectID = "olx-listings-test"
	cfg.Links.Seeds = []string{saleURL}

	a, err := Build(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(ctx) })
	assert.False(t, a.InProcessBroker())

	added, err := a.GenerateLinks(ctx)
	require.NoError(t, err)
	assert.Positive(t, added)
	assert.Nil(t, a.broker)
}

func TestGenerateLinks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("SeedsAndMerges", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig(t)
		cfg.Links.Seeds = []string{saleURL}
		a, err := Build(ctx, cfg, zap.NewNop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = a.Close(ctx) })

		want := linkgen.Expand([]string{saleURL})
		added, err := a.GenerateLinks(ctx)
		require.NoError(t, err)
		assert.Equal(t, len(want), added)

		_, err = a.WorkList().UpdateStatus(ctx, saleURL, listing.StatusFinished)
		require.NoError(t, err)

		added, err = a.GenerateLinks(ctx)
		require.NoError(t, err)
		assert.Zero(t, added)

		items, err := a.WorkList().Load(ctx)
		require.NoError(t, err)
		require.Len(t, items, len(want))
		assert.Equal(t, listing.StatusFinished, items[0].Status)
	})

	t.Run("DiscoversRegions", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(`<html><body>
				<a class="region" href="/imoveis/venda/estado-mg/belo-horizonte">BH</a>
				<a class="region" href="/imoveis/venda/estado-sp/campinas">Campinas</a>
			</body></html>`))
		}))
		t.Cleanup(srv.Close)

		cfg := testConfig(t)
		cfg.Links.SeedPage = srv.URL
		cfg.Links.Selector = "a.region"
		cfg.Links.Timeout = 5 * time.Second
		a, err := Build(ctx, cfg, zap.NewNop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = a.Close(ctx) })

		added, err := a.GenerateLinks(ctx)
		require.NoError(t, err)
		want := linkgen.Expand([]string{
			srv.URL + "/imoveis/venda/estado-mg/belo-horizonte",
			srv.URL + "/imoveis/venda/estado-sp/campinas",
		})
		assert.Equal(t, len(want), added)
	})

	t.Run("NoSeeds", func(t *testing.T) {
		t.Parallel()
		a, err := Build(ctx, testConfig(t), zap.NewNop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = a.Close(ctx) })
		_, err = a.GenerateLinks(ctx)
		assert.Error(t, err)
	})
}

type failingStore struct{ *memory.PropertyStore }

func (failingStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestAPIServerReadiness(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	base, err := memory.NewPropertyStore(storage.TableNames{})
	require.NoError(t, err)

	for name, tc := range map[string]struct {
		store PropertyStore
		code  int
	}{
		"Healthy":  {store: base, code: http.StatusOK},
		"Degraded": {store: failingStore{base}, code: http.StatusServiceUnavailable},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			a, err := Build(ctx, testConfig(t), zap.NewNop(), WithPropertyStore(tc.store))
			require.NoError(t, err)
			t.Cleanup(func() { _ = a.Close(ctx) })
			_, err = a.NewIngestService(ctx)
			require.NoError(t, err)

			rec := httptest.NewRecorder()
			a.NewAPIServer().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestServeWithoutPortReturns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a, err := Build(ctx, testConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(ctx) })
	assert.NoError(t, a.Serve(ctx))
}

func TestIngestServiceUsesConfiguredStorage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Storage = config.StorageConfig{
		Backend:       config.StorageLocal,
		LocalDir:      t.TempDir(),
		Export:        true,
		ExportPrefix:  "exports",
		ArchiveRaw:    true,
		ArchivePrefix: "archive",
	}
	a, err := Build(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(ctx) })

	svc, err := a.NewIngestService(ctx)
	require.NoError(t, err)
	payload, err := json.Marshal(listing.RawPayload{URL: saleURL, Content: adsPage(t, ad(7, "Loft", saleURL+"/7"))})
	require.NoError(t, err)
	result, err := svc.Process(ctx, payload)
	require.NoError(t, err)
	assert.NotEmpty(t, result)

	matches, err := filepath.Glob(filepath.Join(cfg.Storage.LocalDir, "exports", storage.DefaultSaleTable, "*", "*.csv"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
	archived, err := filepath.Glob(filepath.Join(cfg.Storage.LocalDir, "archive", "raw", "*.json"))
	require.NoError(t, err)
	assert.Len(t, archived, 1)
}
