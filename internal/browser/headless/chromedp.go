// Package headless drives listing pages through a headless Chrome instance.
package headless

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/olx-listings-pipeline/internal/crawler"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultNextPageText      = "Próxima página"
	defaultAcceptLanguage    = "pt-BR,pt;q=0.9"
)

// Config controls the behavior of browser sessions.
type Config struct {
	UserAgent         string
	Headless          bool
	NavigationTimeout time.Duration
	// NavigationQPS caps navigations and reloads per session; zero disables pacing.
	NavigationQPS  float64
	ExecPath       string
	NextPageText   string
	AcceptLanguage string
}

// Browser implements crawler.Browser. Every session launches its own Chrome process.
type Browser struct {
	cfg    Config
	logger *zap.Logger
}

// New validates cfg and returns a chromedp-backed Browser.
func New(cfg Config, logger *zap.Logger) (*Browser, error) {
	if cfg.NavigationQPS < 0 {
		return nil, fmt.Errorf("navigation qps must be >= 0")
	}
	if cfg.NavigationTimeout < 0 {
		return nil, fmt.Errorf("navigation timeout must be >= 0")
	}
	if cfg.NavigationTimeout == 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if strings.TrimSpace(cfg.NextPageText) == "" {
		cfg.NextPageText = defaultNextPageText
	}
	if cfg.AcceptLanguage == "" {
		cfg.AcceptLanguage = defaultAcceptLanguage
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Browser{cfg: cfg, logger: logger}, nil
}

func (b *Browser) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if b.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if b.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.cfg.ExecPath))
	}
	if b.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(b.cfg.UserAgent))
	}
	return opts
}

// NewSession starts a browser process bound to ctx.
func (b *Browser) NewSession(ctx context.Context) (crawler.Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, b.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	var limiter *rate.Limiter
	if b.cfg.NavigationQPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(b.cfg.NavigationQPS), 1)
	}
	b.logger.Debug("browser session started")
	return &session{
		cfg:           b.cfg,
		logger:        b.logger,
		limiter:       limiter,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}

type session struct {
	cfg           Config
	logger        *zap.Logger
	limiter       *rate.Limiter
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	closeOnce     sync.Once
}

// OpenPage opens a tab in a fresh browser context and navigates it to url.
// On failure the half-open tab is closed before returning.
func (s *session) OpenPage(ctx context.Context, url string) (crawler.Page, error) {
	if s.browserCtx.Err() != nil {
		return nil, fmt.Errorf("open page: %w", crawler.ErrPageClosed)
	}
	tabCtx, tabCancel := chromedp.NewContext(s.browserCtx, chromedp.WithNewBrowserContext())
	p := &page{session: s, ctx: tabCtx, cancel: tabCancel}
	if err := chromedp.Run(tabCtx, s.networkSetupAction()); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("open tab: %w", classifyError(err))
	}
	if err := p.Navigate(ctx, url); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

func (s *session) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.cfg.UserAgent != "" {
			override := emulation.SetUserAgentOverride(s.cfg.UserAgent).WithAcceptLanguage(s.cfg.AcceptLanguage)
			if err := override.Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		headers := network.Headers{"Accept-Language": s.cfg.AcceptLanguage}
		if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
		return nil
	})
}

func (s *session) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("navigation pacing: %w", err)
	}
	return nil
}

// Close shuts down the browser process.
func (s *session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = chromedp.Cancel(s.browserCtx)
		s.browserCancel()
		s.allocCancel()
		s.logger.Debug("browser session closed")
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

type page struct {
	session   *session
	ctx       context.Context
	cancel    context.CancelFunc
	url       string
	closeOnce sync.Once
}

// run executes actions on the tab bounded by timeout and by the caller's ctx.
func (p *page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if p.ctx.Err() != nil {
		return crawler.ErrPageClosed
	}
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	switch {
	case err == nil:
		return nil
	case p.ctx.Err() != nil:
		return fmt.Errorf("%w: %v", crawler.ErrPageClosed, err)
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return classifyError(err)
	}
}

func (p *page) Navigate(ctx context.Context, url string) error {
	if err := p.session.wait(ctx); err != nil {
		return err
	}
	var location string
	if err := p.run(ctx, p.session.cfg.NavigationTimeout,
		chromedp.Navigate(url),
		chromedp.Location(&location),
	); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if location == "" {
		location = url
	}
	p.url = location
	return nil
}

func (p *page) Reload(ctx context.Context) error {
	if err := p.session.wait(ctx); err != nil {
		return err
	}
	if err := p.run(ctx, p.session.cfg.NavigationTimeout, chromedp.Reload()); err != nil {
		return fmt.Errorf("reload %s: %w", p.url, err)
	}
	return nil
}

func (p *page) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	err := p.run(ctx, timeout, chromedp.WaitReady(selector, chromedp.ByQuery))
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", crawler.ErrSelectorTimeout, selector)
	}
	if err != nil {
		return fmt.Errorf("wait for %s: %w", selector, err)
	}
	return nil
}

func (p *page) TextContent(ctx context.Context, selector string) (string, error) {
	var text string
	if err := p.run(ctx, p.session.cfg.NavigationTimeout,
		chromedp.TextContent(selector, &text, chromedp.ByQuery),
	); err != nil {
		return "", fmt.Errorf("text content %s: %w", selector, err)
	}
	return text, nil
}

func (p *page) NextPageLink(ctx context.Context) (string, error) {
	var (
		html     string
		location string
	)
	if err := p.run(ctx, p.session.cfg.NavigationTimeout,
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	if location == "" {
		location = p.url
	}
	return FindNextPageLink(html, location, p.session.cfg.NextPageText)
}

func (p *page) URL() string {
	return p.url
}

// Close closes the tab and its browser context. Subsequent calls are no-ops.
func (p *page) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if p.ctx.Err() == nil {
			err = chromedp.Cancel(p.ctx)
		}
		p.cancel()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close page: %w", err)
	}
	return nil
}

// classifyError maps browser failures onto crawler sentinel errors.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "ERR_NAME_NOT_RESOLVED"):
		return fmt.Errorf("%w: %v", crawler.ErrNameNotResolved, err)
	case errors.Is(err, chromedp.ErrInvalidContext),
		errors.Is(err, chromedp.ErrChannelClosed),
		strings.Contains(msg, "target closed"),
		strings.Contains(msg, "No target with given id"):
		return fmt.Errorf("%w: %v", crawler.ErrPageClosed, err)
	default:
		return err
	}
}
