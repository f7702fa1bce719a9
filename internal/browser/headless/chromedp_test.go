package headless

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/olx-listings-pipeline/internal/crawler"
)

func TestNewValidatesAndDefaults(t *testing.T) {
	t.Parallel()

	_, err := New(Config{NavigationQPS: -1}, nil)
	require.Error(t, err)
	_, err = New(Config{NavigationTimeout: -time.Second}, nil)
	require.Error(t, err)

	b, err := New(Config{}, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, defaultNavigationTimeout, b.cfg.NavigationTimeout)
	require.Equal(t, defaultNextPageText, b.cfg.NextPageText)
	require.Equal(t, defaultAcceptLanguage, b.cfg.AcceptLanguage)

	b, err = New(Config{NavigationTimeout: time.Second, NextPageText: "Next"}, nil)
	require.NoError(t, err)
	require.Equal(t, time.Second, b.cfg.NavigationTimeout)
	require.Equal(t, "Next", b.cfg.NextPageText)
}

func TestAllocatorOptionsGrowWithConfig(t *testing.T) {
	t.Parallel()

	bare, err := New(Config{}, nil)
	require.NoError(t, err)
	full, err := New(Config{Headless: true, ExecPath: "/usr/bin/chromium", UserAgent: "ua"}, nil)
	require.NoError(t, err)
	require.Len(t, full.allocatorOptions(), len(bare.allocatorOptions())+2)
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	require.NoError(t, classifyError(nil))

	err := classifyError(errors.New("page load error net::ERR_NAME_NOT_RESOLVED"))
	require.ErrorIs(t, err, crawler.ErrNameNotResolved)

	err = classifyError(fmt.Errorf("run: %w", chromedp.ErrInvalidContext))
	require.ErrorIs(t, err, crawler.ErrPageClosed)

	err = classifyError(errors.New("rpc error: target closed"))
	require.True(t, crawler.IsPageClosed(err))

	plain := errors.New("net::ERR_CONNECTION_RESET")
	require.Equal(t, plain, classifyError(plain))
}

func TestNoopBrowser(t *testing.T) {
	t.Parallel()

	_, err := NewNoop().NewSession(context.Background())
	require.ErrorIs(t, err, ErrNotConfigured)
}
