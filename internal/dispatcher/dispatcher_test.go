package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/olx-listings-pipeline/internal/crawler"
	"github.com/JakeFAU/olx-listings-pipeline/internal/listing"
	"github.com/JakeFAU/olx-listings-pipeline/internal/worker"
)

type stubPage struct {
	url string
}

func (p *stubPage) Navigate(_ context.Context, url string) error { p.url = url; return nil }
func (p *stubPage) Reload(context.Context) error                 { return nil }
func (p *stubPage) WaitForSelector(context.Context, string, time.Duration) error {
	return nil
}
func (p *stubPage) TextContent(context.Context, string) (string, error) { return "{}", nil }
func (p *stubPage) NextPageLink(context.Context) (string, error)        { return "", nil }
func (p *stubPage) URL() string                                         { return p.url }
func (p *stubPage) Close() error                                        { return nil }

// recordingSession remembers which URLs it opened.
type recordingSession struct {
	id     int
	opened []string
	closed bool
}

func (s *recordingSession) OpenPage(_ context.Context, url string) (crawler.Page, error) {
	s.opened = append(s.opened, url)
	return &stubPage{url: url}, nil
}

func (s *recordingSession) Close() error {
	s.closed = true
	return nil
}

type recordingBrowser struct {
	mu       sync.Mutex
	sessions []*recordingSession
	failures int
}

func (b *recordingBrowser) NewSession(context.Context) (crawler.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures > 0 {
		b.failures--
		return nil, errors.New("chrome not found")
	}
	s := &recordingSession{id: len(b.sessions)}
	b.sessions = append(b.sessions, s)
	return s, nil
}

type syncPublisher struct {
	mu       sync.Mutex
	statuses map[string][]listing.Status
}

func (p *syncPublisher) Publish(_ context.Context, _ string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ev, ok := payload.(listing.StatusEvent); ok {
		if p.statuses == nil {
			p.statuses = map[string][]listing.Status{}
		}
		p.statuses[ev.URL] = append(p.statuses[ev.URL], ev.Status)
	}
	return "id", nil
}

func testConfig() worker.Config {
	cfg := worker.DefaultConfig()
	cfg.PageDelay = 0
	return cfg
}

func TestPartitionRoundRobin(t *testing.T) {
	t.Parallel()

	urls := []string{"a", "b", "c", "d", "e"}
	require.Equal(t, [][]string{{"a", "c", "e"}, {"b", "d"}}, Partition(urls, 2))
	require.Equal(t, [][]string{{"a", "d"}, {"b", "e"}, {"c"}}, Partition(urls, 3))
	require.Equal(t, [][]string{{"a"}, {"b"}, nil}, Partition([]string{"a", "b"}, 3))
	require.Nil(t, Partition(urls, 0))
}

func TestPendingSkipsFinished(t *testing.T) {
	t.Parallel()

	items := []listing.WorkItem{
		{URL: "a", Status: listing.StatusFinished},
		{URL: "b", Status: listing.StatusPending},
		{URL: "c", Status: listing.StatusFailed},
		{URL: "d", Status: listing.StatusNoData},
		{URL: "e", Status: listing.StatusStarted},
	}
	require.Equal(t, []string{"b", "c", "d", "e"}, Pending(items))
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(&recordingBrowser{}, &syncPublisher{}, nil, 0, testConfig(), nil)
	require.Error(t, err)
	_, err = New(nil, &syncPublisher{}, nil, 1, testConfig(), nil)
	require.Error(t, err)
}

func TestRunGivesEachWorkerItsOwnSession(t *testing.T) {
	t.Parallel()

	browser := &recordingBrowser{}
	pub := &syncPublisher{}
	d, err := New(browser, pub, nil, 2, testConfig(), zap.NewNop())
	require.NoError(t, err)

	items := []listing.WorkItem{
		{URL: "u1", Status: listing.StatusPending},
		{URL: "u2", Status: listing.StatusFinished},
		{URL: "u3", Status: listing.StatusPending},
		{URL: "u4", Status: listing.StatusFailed},
		{URL: "u5", Status: listing.StatusPending},
	}
	require.NoError(t, d.Run(context.Background(), items))

	require.Len(t, browser.sessions, 2)
	seen := map[string]int{}
	for _, s := range browser.sessions {
		require.True(t, s.closed)
		for _, u := range s.opened {
			seen[u]++
		}
	}
	// Pending order is u1 u3 u4 u5, dealt as {u1 u4} and {u3 u5}.
	require.Equal(t, map[string]int{"u1": 1, "u3": 1, "u4": 1, "u5": 1}, seen)
	var openedSets [][]string
	for _, s := range browser.sessions {
		openedSets = append(openedSets, s.opened)
	}
	require.ElementsMatch(t, [][]string{{"u1", "u4"}, {"u3", "u5"}}, openedSets)

	require.NotContains(t, pub.statuses, "u2")
	require.Equal(t, []listing.Status{listing.StatusStarted, listing.StatusFinished}, pub.statuses["u1"])
}

func TestRunCollectsSessionFailures(t *testing.T) {
	t.Parallel()

	browser := &recordingBrowser{failures: 1}
	d, err := New(browser, &syncPublisher{}, nil, 2, testConfig(), zap.NewNop())
	require.NoError(t, err)

	items := []listing.WorkItem{{URL: "u1"}, {URL: "u2"}}
	err = d.Run(context.Background(), items)
	require.Error(t, err)
	require.Contains(t, err.Error(), "chrome not found")

	// The surviving worker still crawled its partition.
	require.Len(t, browser.sessions, 1)
	require.Len(t, browser.sessions[0].opened, 1)
}

func TestRunWithNothingPending(t *testing.T) {
	t.Parallel()

	browser := &recordingBrowser{}
	d, err := New(browser, &syncPublisher{}, nil, 4, testConfig(), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, d.Run(context.Background(), []listing.WorkItem{{URL: "u", Status: listing.StatusFinished}}))
	require.Empty(t, browser.sessions)
}
