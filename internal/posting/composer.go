package posting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	verifyPrefixRunes = 50
	verifyMinRatio    = 0.9
)

// ComposeResult is what one composer run achieved. Submitted is true as soon
// as the submit action was performed, even when the id was not captured.
type ComposeResult struct {
	ID         string
	Extraction string
	Submitted  bool
}

// Composer drives one page through focus, entry, verification, submission
// and id capture for a single post or reply.
type Composer struct {
	profile   SurfaceProfile
	extractor *Extractor
	settle    time.Duration
	logger    *zap.Logger
}

func NewComposer(profile SurfaceProfile, extractor *Extractor, settle time.Duration, logger *zap.Logger) *Composer {
	return &Composer{
		profile:   profile,
		extractor: extractor,
		settle:    settle,
		logger:    logger.Named("composer"),
	}
}

// Post publishes text as a root post, or as a reply when replyTo is set.
func (c *Composer) Post(ctx context.Context, page Page, text, replyTo string) (ComposeResult, error) {
	target := c.profile.ComposeURL()
	boxes, submits := c.profile.ComposeBox, c.profile.SubmitButtons
	if replyTo != "" {
		target = c.profile.StatusURL(replyTo)
		boxes, submits = c.profile.ReplyBox, c.profile.ReplySubmit
	}

	if err := page.Navigate(ctx, target); err != nil {
		return ComposeResult{}, stageErr(KindNavigation, "navigate", fmt.Errorf("%w: %v", ErrNavigation, err))
	}

	box, err := c.focus(ctx, page, boxes)
	if err != nil {
		return ComposeResult{}, err
	}
	if err := c.enter(ctx, box, text); err != nil {
		return ComposeResult{}, err
	}

	capture, err := c.extractor.Arm(ctx, page, 1)
	if err != nil {
		c.logger.Warn("network capture unavailable, relying on url and timeline", zap.Error(err))
	}
	if err := c.submit(ctx, page, submits); err != nil {
		capture.Close()
		return ComposeResult{}, err
	}

	ext, err := c.extractor.Extract(ctx, page, ExtractRequest{
		Capture:    capture,
		ExcludeID:  replyTo,
		ParentID:   replyTo,
		TextPrefix: text,
	})
	if err != nil {
		return ComposeResult{Submitted: true}, err
	}

	c.logger.Debug("post captured",
		zap.String("id", ext.ID),
		zap.String("extraction", ext.Strategy),
		zap.String("reply_to", replyTo))
	return ComposeResult{ID: ext.ID, Extraction: ext.Strategy, Submitted: true}, nil
}

// focus returns the first compose control any locator can reach and click.
func (c *Composer) focus(ctx context.Context, page Page, locators []Locator) (Element, error) {
	var tried []string
	for _, loc := range locators {
		el, err := page.Find(ctx, loc.Selector, loc.Timeout)
		if err == nil {
			err = el.Click(ctx)
		}
		if err == nil {
			return el, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		tried = append(tried, loc.Name)
	}
	return nil, stageErr(KindFocus, "focus", fmt.Errorf("%w: tried %s", ErrFocus, strings.Join(tried, ", ")))
}

// enter types text into box and verifies it, re-entering once on mismatch.
func (c *Composer) enter(ctx context.Context, box Element, text string) error {
	var lastErr error
	for try := 0; try < 2; try++ {
		if err := box.Clear(ctx); err != nil {
			lastErr = err
			continue
		}
		if err := box.Type(ctx, text); err != nil {
			lastErr = err
			continue
		}
		if err := sleep(ctx, c.settle); err != nil {
			return err
		}
		actual, err := box.Text(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		if matchesExpected(text, actual) {
			return nil
		}
		lastErr = fmt.Errorf("%w: got %q", ErrVerification, truncateRunes(normalize(actual), verifyPrefixRunes))
		c.logger.Debug("composed text mismatch", zap.Int("try", try+1))
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !errors.Is(lastErr, ErrVerification) {
		lastErr = fmt.Errorf("%w: %v", ErrVerification, lastErr)
	}
	return stageErr(KindVerification, "verify", lastErr)
}

// submit clicks the first usable submit control, falling back to the
// keyboard shortcut.
func (c *Composer) submit(ctx context.Context, page Page, locators []Locator) error {
	for _, loc := range locators {
		el, err := page.Find(ctx, loc.Selector, loc.Timeout)
		if err != nil {
			continue
		}
		if err := el.Click(ctx); err == nil {
			return nil
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if c.profile.SubmitChord == "" {
		return stageErr(KindSubmission, "submit", ErrSubmission)
	}
	if err := page.Shortcut(ctx, c.profile.SubmitChord); err != nil {
		return stageErr(KindSubmission, "submit", fmt.Errorf("%w: shortcut: %v", ErrSubmission, err))
	}
	return nil
}

// matchesExpected accepts actual when the normalized prefix of expected is
// contained in it, or when the normalized lengths agree within 90%.
func matchesExpected(expected, actual string) bool {
	exp, act := normalize(expected), normalize(actual)
	if exp == "" {
		return act == ""
	}
	if strings.Contains(act, truncateRunes(exp, verifyPrefixRunes)) {
		return true
	}
	e, a := utf8.RuneCountInString(exp), utf8.RuneCountInString(act)
	if e == 0 || a == 0 {
		return false
	}
	return float64(min(e, a))/float64(max(e, a)) >= verifyMinRatio
}

// startsLike is the strict form of matchesExpected used to attribute an
// already-published post: only prefix containment counts, never length.
func startsLike(expected, actual string) bool {
	exp, act := normalize(expected), normalize(actual)
	if exp == "" || act == "" {
		return false
	}
	return strings.Contains(act, truncateRunes(exp, verifyPrefixRunes))
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
