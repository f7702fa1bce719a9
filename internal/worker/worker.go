// Package worker runs the per-URL crawl protocol on a single browser session.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/olx-listings-pipeline/internal/crawler"
	"github.com/JakeFAU/olx-listings-pipeline/internal/listing"
)

var tracer = otel.Tracer("github.com/JakeFAU/olx-listings-pipeline/internal/worker")

// Retry stages reported to the Recorder.
const (
	StageOpen     = "open"
	StageExtract  = "extract"
	StagePaginate = "paginate"
)

// Config controls Worker behavior.
type Config struct {
	PayloadTopic string
	StatusTopic  string
	// Selector locates the page's embedded data script.
	Selector              string
	SelectorTimeout       time.Duration
	ExtractAttempts       int
	ExtractBackoff        time.Duration
	PaginateAttempts      int
	PaginateBackoff       time.Duration
	OpenAttempts          int
	NameResolutionBackoff time.Duration
	PageDelay             time.Duration
}

// DefaultConfig returns the production retry schedule.
func DefaultConfig() Config {
	return Config{
		PayloadTopic:          "scraped-data",
		StatusTopic:           "scraping-progress",
		Selector:              "script#__NEXT_DATA__",
		SelectorTimeout:       20 * time.Second,
		ExtractAttempts:       3,
		ExtractBackoff:        3 * time.Second,
		PaginateAttempts:      5,
		PaginateBackoff:       5 * time.Second,
		OpenAttempts:          3,
		NameResolutionBackoff: 5 * time.Second,
		PageDelay:             2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.PayloadTopic == "" {
		c.PayloadTopic = def.PayloadTopic
	}
	if c.StatusTopic == "" {
		c.StatusTopic = def.StatusTopic
	}
	if c.Selector == "" {
		c.Selector = def.Selector
	}
	if c.SelectorTimeout <= 0 {
		c.SelectorTimeout = def.SelectorTimeout
	}
	if c.ExtractAttempts <= 0 {
		c.ExtractAttempts = def.ExtractAttempts
	}
	if c.PaginateAttempts <= 0 {
		c.PaginateAttempts = def.PaginateAttempts
	}
	if c.OpenAttempts <= 0 {
		c.OpenAttempts = def.OpenAttempts
	}
	return c
}

// Recorder receives crawl metrics.
type Recorder interface {
	ObserveURL(status string)
	ObservePage()
	ObserveRetry(stage string)
	WorkerStarted()
	WorkerStopped()
}

type nopRecorder struct{}

func (nopRecorder) ObserveURL(string)   {}
func (nopRecorder) ObservePage()        {}
func (nopRecorder) ObserveRetry(string) {}
func (nopRecorder) WorkerStarted()      {}
func (nopRecorder) WorkerStopped()      {}

// Worker crawls its URLs sequentially on one browser session.
type Worker struct {
	session   crawler.Session
	publisher crawler.Publisher
	recorder  Recorder
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. A nil recorder disables metrics.
func New(
	session crawler.Session,
	publisher crawler.Publisher,
	recorder Recorder,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		session:   session,
		publisher: publisher,
		recorder:  recorder,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// Run processes urls in order. It returns early only when ctx is done.
func (w *Worker) Run(ctx context.Context, urls []string) error {
	w.recorder.WorkerStarted()
	defer w.recorder.WorkerStopped()

	for _, url := range urls {
		if err := ctx.Err(); err != nil {
			return err
		}
		status, err := w.ProcessURL(ctx, url)
		if err != nil {
			return err
		}
		w.logger.Info("url processed", zap.String("url", url), zap.String("status", string(status)))
	}
	return nil
}

// ProcessURL runs the full crawl protocol for one work item and returns its
// terminal status. The error is non-nil only when ctx ends mid-crawl, in
// which case no terminal status is published.
func (w *Worker) ProcessURL(ctx context.Context, url string) (listing.Status, error) {
	ctx, span := tracer.Start(ctx, "crawl.url",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(attribute.String("url.full", url)),
	)
	defer span.End()

	w.publishStatus(ctx, url, listing.StatusStarted)

	page, err := w.openPage(ctx, url)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		w.logger.Error("open page failed", zap.String("url", url), zap.Error(err))
		return w.finish(ctx, url, listing.StatusFailed), nil
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			w.logger.Debug("close page failed", zap.String("url", url), zap.Error(cerr))
		}
	}()

	status, err := w.crawl(ctx, url, page)
	if err != nil {
		return "", err
	}
	return w.finish(ctx, url, status), nil
}

func (w *Worker) finish(ctx context.Context, url string, status listing.Status) listing.Status {
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("crawl.status", string(status)))
	w.recorder.ObserveURL(string(status))
	w.publishStatus(ctx, url, status)
	return status
}

// openPage opens a fresh page on url. A name-resolution failure backs off
// linearly with the attempt number.
func (w *Worker) openPage(ctx context.Context, url string) (crawler.Page, error) {
	var lastErr error
	for attempt := 1; attempt <= w.cfg.OpenAttempts; attempt++ {
		page, err := w.session.OpenPage(ctx, url)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == w.cfg.OpenAttempts {
			break
		}
		w.recorder.ObserveRetry(StageOpen)
		w.logger.Warn("open page attempt failed",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if errors.Is(err, crawler.ErrNameNotResolved) {
			if err := sleep(ctx, w.cfg.NameResolutionBackoff*time.Duration(attempt)); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("open page after %d attempts: %w", w.cfg.OpenAttempts, lastErr)
}

// crawl walks the pagination chain starting at the already loaded page.
func (w *Worker) crawl(ctx context.Context, url string, page crawler.Page) (listing.Status, error) {
	for pageNum := 1; ; pageNum++ {
		content, status, err := w.extract(ctx, url, page)
		if err != nil {
			return "", err
		}
		if status != "" {
			return status, nil
		}

		payload := listing.RawPayload{
			URL:     url,
			Content: content,
			PageURL: page.URL(),
			Page:    pageNum,
		}
		if _, err := w.publisher.Publish(ctx, w.cfg.PayloadTopic, payload); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			w.logger.Error("publish payload failed", zap.String("url", url), zap.Int("page", pageNum), zap.Error(err))
			return listing.StatusFailed, nil
		}
		w.recorder.ObservePage()
		w.logger.Debug("page published", zap.String("url", url), zap.Int("page", pageNum))

		more, err := w.paginate(ctx, url, page)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			w.logger.Error("pagination failed", zap.String("url", url), zap.Int("page", pageNum), zap.Error(err))
			return listing.StatusFailed, nil
		}
		if !more {
			return listing.StatusFinished, nil
		}
	}
}

// extract reads the embedded data script, reloading between attempts. A
// non-empty status ends the crawl for this URL.
func (w *Worker) extract(ctx context.Context, url string, page crawler.Page) (string, listing.Status, error) {
	for attempt := 1; ; attempt++ {
		content, err := w.readContent(ctx, page)
		if err == nil {
			return content, "", nil
		}
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		if attempt >= w.cfg.ExtractAttempts {
			w.logger.Warn("no data extracted", zap.String("url", url), zap.Int("attempts", attempt), zap.Error(err))
			return "", listing.StatusNoData, nil
		}
		w.recorder.ObserveRetry(StageExtract)
		w.logger.Debug("extract attempt failed", zap.String("url", url), zap.Int("attempt", attempt), zap.Error(err))
		if err := sleep(ctx, w.cfg.ExtractBackoff); err != nil {
			return "", "", err
		}
		if err := page.Reload(ctx); err != nil {
			if ctx.Err() != nil {
				return "", "", ctx.Err()
			}
			if crawler.IsPageClosed(err) {
				w.logger.Error("page closed during reload", zap.String("url", url), zap.Error(err))
				return "", listing.StatusFailed, nil
			}
			w.logger.Warn("reload failed", zap.String("url", url), zap.Error(err))
		}
	}
}

func (w *Worker) readContent(ctx context.Context, page crawler.Page) (string, error) {
	if err := page.WaitForSelector(ctx, w.cfg.Selector, w.cfg.SelectorTimeout); err != nil {
		return "", err
	}
	content, err := page.TextContent(ctx, w.cfg.Selector)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("empty %s", w.cfg.Selector)
	}
	return content, nil
}

// paginate moves page to the next results page. It reports false when the
// current page is the last one.
func (w *Worker) paginate(ctx context.Context, url string, page crawler.Page) (bool, error) {
	var lastErr error
	for attempt := 1; attempt <= w.cfg.PaginateAttempts; attempt++ {
		more, err := w.nextPage(ctx, page)
		if err == nil {
			return more, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if crawler.IsPageClosed(err) {
			return false, err
		}
		if attempt == w.cfg.PaginateAttempts {
			break
		}
		w.recorder.ObserveRetry(StagePaginate)
		w.logger.Warn("pagination attempt failed", zap.String("url", url), zap.Int("attempt", attempt), zap.Error(err))
		if err := sleep(ctx, w.cfg.PaginateBackoff); err != nil {
			return false, err
		}
		if err := page.Reload(ctx); err != nil {
			if crawler.IsPageClosed(err) || ctx.Err() != nil {
				return false, err
			}
			w.logger.Warn("reload failed", zap.String("url", url), zap.Error(err))
		}
	}
	return false, fmt.Errorf("paginate after %d attempts: %w", w.cfg.PaginateAttempts, lastErr)
}

func (w *Worker) nextPage(ctx context.Context, page crawler.Page) (bool, error) {
	link, err := page.NextPageLink(ctx)
	if err != nil {
		return false, err
	}
	if link == "" {
		return false, nil
	}
	if err := sleep(ctx, w.cfg.PageDelay); err != nil {
		return false, err
	}
	if err := page.Navigate(ctx, link); err != nil {
		return false, err
	}
	return true, nil
}

func (w *Worker) publishStatus(ctx context.Context, url string, status listing.Status) {
	event := listing.StatusEvent{URL: url, Status: status}
	if _, err := w.publisher.Publish(ctx, w.cfg.StatusTopic, event); err != nil {
		w.logger.Error("publish status failed",
			zap.String("url", url),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
