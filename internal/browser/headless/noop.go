package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/olx-listings-pipeline/internal/crawler"
)

// ErrNotConfigured is returned by Noop sessions.
var ErrNotConfigured = errors.New("headless browser not configured")

// Noop implements crawler.Browser but never starts a session.
type Noop struct{}

// NewNoop creates a new Noop browser.
func NewNoop() *Noop {
	return &Noop{}
}

// NewSession returns ErrNotConfigured.
func (Noop) NewSession(context.Context) (crawler.Session, error) {
	return nil, ErrNotConfigured
}
