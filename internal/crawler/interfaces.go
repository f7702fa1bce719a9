package crawler

import (
	"context"
	"time"
)

// Browser creates isolated browser sessions. Each worker owns one session.
type Browser interface {
	NewSession(ctx context.Context) (Session, error)
}

// Session is a single browser process owned by one worker.
type Session interface {
	// OpenPage creates a fresh browser context and navigates it to url.
	OpenPage(ctx context.Context, url string) (Page, error)
	Close() error
}

// Page is one open tab inside a session.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	// WaitForSelector blocks until selector is attached to the DOM or timeout elapses.
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	TextContent(ctx context.Context, selector string) (string, error)
	// NextPageLink returns the absolute URL of the next results page, or "" when there is none.
	NextPageLink(ctx context.Context) (string, error)
	URL() string
	Close() error
}

// Publisher pushes messages to a named topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Hasher computes digests for archive keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces batch IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
