package crawler

import "errors"

var (
	// ErrPageClosed indicates the page or its browser context is gone; retrying is pointless.
	ErrPageClosed = errors.New("page closed")
	// ErrNameNotResolved indicates DNS resolution failed during navigation.
	ErrNameNotResolved = errors.New("name not resolved")
	// ErrSelectorTimeout indicates the awaited element never attached.
	ErrSelectorTimeout = errors.New("selector wait timed out")
)

// IsPageClosed reports whether err means the page can no longer be used.
func IsPageClosed(err error) bool {
	return errors.Is(err, ErrPageClosed)
}
