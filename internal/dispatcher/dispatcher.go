// Package dispatcher partitions the work list across browser-owning workers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/olx-listings-pipeline/internal/crawler"
	"github.com/JakeFAU/olx-listings-pipeline/internal/listing"
	"github.com/JakeFAU/olx-listings-pipeline/internal/worker"
)

// Dispatcher fans a work list out to a fixed pool of workers.
type Dispatcher struct {
	browser   crawler.Browser
	publisher crawler.Publisher
	recorder  worker.Recorder
	workers   int
	cfg       worker.Config
	logger    *zap.Logger
}

// New creates a Dispatcher running workers goroutines.
func New(
	browser crawler.Browser,
	publisher crawler.Publisher,
	recorder worker.Recorder,
	workers int,
	cfg worker.Config,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("worker count must be > 0, got %d", workers)
	}
	if browser == nil || publisher == nil {
		return nil, errors.New("dispatcher requires a browser and a publisher")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		browser:   browser,
		publisher: publisher,
		recorder:  recorder,
		workers:   workers,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Pending returns the URLs of items that still need crawling, in order.
func Pending(items []listing.WorkItem) []string {
	urls := make([]string, 0, len(items))
	for _, item := range items {
		if item.Status == listing.StatusFinished {
			continue
		}
		urls = append(urls, item.URL)
	}
	return urls
}

// Partition deals urls round-robin into n slices: slice i holds
// urls[i], urls[i+n], urls[i+2n], and so on.
func Partition(urls []string, n int) [][]string {
	if n <= 0 {
		return nil
	}
	parts := make([][]string, n)
	for i, url := range urls {
		parts[i%n] = append(parts[i%n], url)
	}
	return parts
}

// Run crawls every non-finished item and blocks until all workers return.
// A worker whose session fails does not stop its siblings; the failures are
// joined into the returned error.
func (d *Dispatcher) Run(ctx context.Context, items []listing.WorkItem) error {
	urls := Pending(items)
	if len(urls) == 0 {
		d.logger.Info("no pending work items", zap.Int("total", len(items)))
		return nil
	}
	d.logger.Info("dispatching work items",
		zap.Int("pending", len(urls)),
		zap.Int("skipped", len(items)-len(urls)),
		zap.Int("workers", d.workers),
	)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i, part := range Partition(urls, d.workers) {
		if len(part) == 0 {
			continue
		}
		wg.Add(1)
		go func(index int, urls []string) {
			defer wg.Done()
			if err := d.runWorker(ctx, index, urls); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(i, part)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (d *Dispatcher) runWorker(ctx context.Context, index int, urls []string) error {
	logger := d.logger.Named("worker").With(zap.Int("index", index))
	session, err := d.browser.NewSession(ctx)
	if err != nil {
		logger.Error("browser session failed", zap.Error(err))
		return fmt.Errorf("worker %d: new session: %w", index, err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			logger.Warn("close session failed", zap.Error(cerr))
		}
	}()

	logger.Info("worker started", zap.Int("urls", len(urls)))
	w := worker.New(session, d.publisher, d.recorder, d.cfg, logger)
	if err := w.Run(ctx, urls); err != nil {
		return fmt.Errorf("worker %d: %w", index, err)
	}
	logger.Info("worker finished")
	return nil
}
