package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/olx-listings-pipeline/internal/crawler"
	"github.com/JakeFAU/olx-listings-pipeline/internal/listing"
)

type fakePage struct {
	mu sync.Mutex

	url string
	// links maps a page URL to the next page URL; missing means last page.
	links       map[string]string
	contents    map[string]string
	extractErrs []error
	nextErrs    []error
	reloadErr   error

	waits   int
	reloads int
	nexts   int
	closed  bool
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	return nil
}

func (p *fakePage) Reload(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reloads++
	return p.reloadErr
}

func (p *fakePage) WaitForSelector(context.Context, string, time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waits++
	if len(p.extractErrs) > 0 {
		err := p.extractErrs[0]
		p.extractErrs = p.extractErrs[1:]
		return err
	}
	return nil
}

func (p *fakePage) TextContent(context.Context, string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if content, ok := p.contents[p.url]; ok {
		return content, nil
	}
	return `{"props":{"pageProps":{"ads":[]}}}`, nil
}

func (p *fakePage) NextPageLink(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nexts++
	if len(p.nextErrs) > 0 {
		err := p.nextErrs[0]
		p.nextErrs = p.nextErrs[1:]
		return "", err
	}
	return p.links[p.url], nil
}

func (p *fakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type fakeSession struct {
	mu       sync.Mutex
	page     *fakePage
	openErrs []error
	opens    int
}

func (s *fakeSession) OpenPage(_ context.Context, url string) (crawler.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if len(s.openErrs) > 0 {
		err := s.openErrs[0]
		s.openErrs = s.openErrs[1:]
		return nil, err
	}
	s.page.mu.Lock()
	s.page.url = url
	s.page.mu.Unlock()
	return s.page, nil
}

func (s *fakeSession) Close() error { return nil }

type published struct {
	topic   string
	payload any
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []published
	failOn   map[string]error
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failOn[topic]; err != nil {
		return "", err
	}
	p.messages = append(p.messages, published{topic: topic, payload: payload})
	return "msg", nil
}

func (p *fakePublisher) statuses() []listing.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []listing.Status
	for _, m := range p.messages {
		if ev, ok := m.payload.(listing.StatusEvent); ok {
			out = append(out, ev.Status)
		}
	}
	return out
}

func (p *fakePublisher) payloads() []listing.RawPayload {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []listing.RawPayload
	for _, m := range p.messages {
		if raw, ok := m.payload.(listing.RawPayload); ok {
			out = append(out, raw)
		}
	}
	return out
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []string
	retries  map[string]int
	pages    int
	active   int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{retries: map[string]int{}}
}

func (r *fakeRecorder) ObserveURL(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, status)
}

func (r *fakeRecorder) ObservePage() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pages++
}

func (r *fakeRecorder) ObserveRetry(stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries[stage]++
}

func (r *fakeRecorder) WorkerStarted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active++
}

func (r *fakeRecorder) WorkerStopped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active--
}

var errTransient = errors.New("transient")

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.SelectorTimeout = time.Millisecond
	cfg.ExtractBackoff = 0
	cfg.PaginateBackoff = 0
	cfg.NameResolutionBackoff = 0
	cfg.PageDelay = 0
	return cfg
}
