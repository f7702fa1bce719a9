package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/olx-listings-pipeline/internal/linkgen"
)

// ErrInProcessBroker is returned by single-stage commands when the broker
// only delivers to consumers inside this process.
var ErrInProcessBroker = errors.New("the memory queue backend only connects stages inside one process; use the run command or a pubsub backend")

// GenerateLinks builds the work list from the configured seeds plus any
// regions discovered on the seed page, and merges it into the stored list.
// It returns the number of new work items.
func (a *App) GenerateLinks(ctx context.Context) (int, error) {
	seeds := append([]string(nil), a.cfg.Links.Seeds...)
	if a.cfg.Links.SeedPage != "" {
		discovered, err := a.NewDiscoverer().Discover(ctx, a.cfg.Links.SeedPage)
		if err != nil {
			return 0, fmt.Errorf("discover regions: %w", err)
		}
		a.logger.Info("regions discovered",
			zap.String("seed_page", a.cfg.Links.SeedPage),
			zap.Int("count", len(discovered)),
		)
		seeds = append(seeds, discovered...)
	}
	if len(seeds) == 0 {
		return 0, errors.New("no seeds configured; set links.seeds or links.seed_page")
	}

	urls := linkgen.Expand(seeds)
	added, err := a.workList.Seed(ctx, linkgen.WorkItems(urls))
	if err != nil {
		return 0, fmt.Errorf("seed work list: %w", err)
	}
	a.logger.Info("work list seeded",
		zap.String("path", a.workList.Path()),
		zap.Int("seeds", len(seeds)),
		zap.Int("urls", len(urls)),
		zap.Int("added", added),
	)
	return added, nil
}

// Crawl runs the dispatcher over the stored work list.
func (a *App) Crawl(ctx context.Context) error {
	if a.InProcessBroker() {
		return ErrInProcessBroker
	}
	return a.crawl(ctx)
}

func (a *App) crawl(ctx context.Context) error {
	items, err := a.workList.Load(ctx)
	if err != nil {
		return fmt.Errorf("load work list: %w", err)
	}
	d, err := a.NewDispatcher(ctx)
	if err != nil {
		return err
	}
	return d.Run(ctx, items)
}

// Ingest consumes payloads until ctx is done.
func (a *App) Ingest(ctx context.Context) error {
	if a.InProcessBroker() {
		return ErrInProcessBroker
	}
	broker, err := a.Broker(ctx)
	if err != nil {
		return err
	}
	svc, err := a.NewIngestService(ctx)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Serve(ctx) })
	g.Go(func() error { return broker.Receive(ctx, a.PayloadSubscription(), svc.Handle) })
	return g.Wait()
}

// Track consumes status events until ctx is done.
func (a *App) Track(ctx context.Context) error {
	if a.InProcessBroker() {
		return ErrInProcessBroker
	}
	broker, err := a.Broker(ctx)
	if err != nil {
		return err
	}
	t := a.NewTracker()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Serve(ctx) })
	g.Go(func() error { return broker.Receive(ctx, a.StatusSubscription(), t.Handle) })
	return g.Wait()
}

// RunAll crawls the work list while ingesting payloads and tracking status in
// the same process. With the in-memory broker it returns once every message
// has been consumed; otherwise the consumers run until ctx is done.
func (a *App) RunAll(ctx context.Context) error {
	broker, err := a.Broker(ctx)
	if err != nil {
		return err
	}
	svc, err := a.NewIngestService(ctx)
	if err != nil {
		return err
	}
	t := a.NewTracker()

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServe := context.WithCancel(gctx)
	defer stopServe()
	g.Go(func() error { return a.Serve(serveCtx) })

	consumers, cctx := errgroup.WithContext(gctx)
	consumers.Go(func() error { return broker.Receive(cctx, a.PayloadSubscription(), svc.Handle) })
	consumers.Go(func() error { return broker.Receive(cctx, a.StatusSubscription(), t.Handle) })

	g.Go(func() error {
		defer stopServe()
		crawlErr := a.crawl(gctx)
		if crawlErr != nil {
			a.logger.Error("crawl finished with errors", zap.Error(crawlErr))
		} else {
			a.logger.Info("crawl finished")
		}
		if a.InProcessBroker() {
			if err := broker.Close(); err != nil {
				a.logger.Warn("broker close failed", zap.Error(err))
			}
		} else {
			a.logger.Info("consuming until interrupted")
		}
		return errors.Join(crawlErr, consumers.Wait())
	})
	return g.Wait()
}
