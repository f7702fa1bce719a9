package linkgen

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// DefaultRegionSelector matches the region caption links on a state listing page.
const DefaultRegionSelector = "div > div.olx-d-flex.olx-fd-column:nth-of-type(1) > div > div > div > div > a.olx-link.olx-link--caption.olx-link--main"

// DiscoverConfig controls seed discovery.
type DiscoverConfig struct {
	UserAgent string
	Selector  string
	Timeout   time.Duration
}

// Discoverer collects region seed links from a listing page.
type Discoverer struct {
	cfg       DiscoverConfig
	transport http.RoundTripper
	logger    *zap.Logger
}

// NewDiscoverer builds a Discoverer. Empty config fields take defaults.
func NewDiscoverer(cfg DiscoverConfig, logger *zap.Logger) *Discoverer {
	if cfg.Selector == "" {
		cfg.Selector = DefaultRegionSelector
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{cfg: cfg, transport: newHTTPTransport(), logger: logger}
}

// Discover fetches pageURL and returns the absolute hrefs of every element
// matching the selector, de-duplicated in document order.
func (d *Discoverer) Discover(ctx context.Context, pageURL string) ([]string, error) {
	// The request carries ctx, so cancellation aborts it and Visit returns.
	c := colly.NewCollector(colly.Async(false), colly.StdlibContext(ctx))
	c.WithTransport(d.transport)
	c.SetRequestTimeout(d.cfg.Timeout)
	if d.cfg.UserAgent != "" {
		c.UserAgent = d.cfg.UserAgent
	}

	var (
		links    []string
		seen     = map[string]struct{}{}
		fetchErr error
	)
	c.OnHTML(d.cfg.Selector, func(e *colly.HTMLElement) {
		href := strings.TrimSpace(e.Attr("href"))
		if href == "" {
			return
		}
		abs := e.Request.AbsoluteURL(href)
		if abs == "" {
			return
		}
		if _, ok := seen[abs]; ok {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	})
	c.OnError(func(r *colly.Response, err error) {
		fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
	})

	if err := c.Visit(pageURL); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("discover canceled: %w", ctxErr)
		}
		return nil, fmt.Errorf("visit %s: %w", pageURL, err)
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, fetchErr)
	}
	d.logger.Info("seed links discovered", zap.String("page", pageURL), zap.Int("links", len(links)))
	return links, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}
