package posting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// PageRootVerifier decides whether a post is a root post by opening its
// permalink. On a reply's page the conversation above it renders first, so
// the first permalink on the page belongs to an ancestor rather than to the
// post itself.
type PageRootVerifier struct {
	browser Browser
	profile SurfaceProfile
	timeout time.Duration
	logger  *zap.Logger
}

func NewPageRootVerifier(browser Browser, profile SurfaceProfile, timeout time.Duration, logger *zap.Logger) *PageRootVerifier {
	return &PageRootVerifier{browser: browser, profile: profile, timeout: timeout, logger: logger.Named("root_verifier")}
}

func (v *PageRootVerifier) IsRoot(ctx context.Context, postID string) (bool, error) {
	if !v.profile.ValidID(postID) {
		return false, fmt.Errorf("malformed post id %q", postID)
	}
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	page, err := v.browser.NewPage(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to open page: %w", err)
	}
	defer page.Close()

	if err := page.Navigate(ctx, v.profile.StatusURL(postID)); err != nil {
		return false, fmt.Errorf("failed to open post %s: %w", postID, err)
	}
	links, err := page.FindAll(ctx, v.profile.TimelinePostLinks)
	if err != nil {
		return false, fmt.Errorf("failed to read conversation: %w", err)
	}
	for _, link := range links {
		href, err := link.Attribute(ctx, "href")
		if err != nil {
			continue
		}
		if id := v.profile.IDFromURL(href); id != "" {
			isRoot := id == postID
			v.logger.Debug("reply target inspected", zap.String("post_id", postID), zap.String("first_permalink", id), zap.Bool("root", isRoot))
			return isRoot, nil
		}
	}
	return false, errors.New("no permalinks rendered on the post page")
}
