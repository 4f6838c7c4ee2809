package posting

import (
	"context"
	"time"
)

// Browser opens pages on the target surface. Implementations own the
// underlying browser process; each posting run gets its own page.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
}

// Page is the page-driving capability the composer and extractor rely on.
// Every call must honour ctx and return instead of blocking forever.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	CurrentURL(ctx context.Context) (string, error)

	// Find waits up to timeout for a visible, interactable element.
	Find(ctx context.Context, selector string, timeout time.Duration) (Element, error)
	// FindAll returns the elements currently matching selector, possibly none.
	FindAll(ctx context.Context, selector string) ([]Element, error)

	// Shortcut presses a key chord such as "Control+Enter".
	Shortcut(ctx context.Context, chord string) error

	// WatchResponses delivers bodies of responses whose URL contains one of
	// the fragments until stop is called or ctx ends.
	WatchResponses(ctx context.Context, urlFragments []string) (responses <-chan Response, stop func(), err error)

	Close() error
}

// Element is one located DOM node.
type Element interface {
	Click(ctx context.Context) error
	Clear(ctx context.Context) error
	Type(ctx context.Context, text string) error
	Text(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (string, error)
}

// Response is a captured network response.
type Response struct {
	URL    string
	Status int
	Body   []byte
}
