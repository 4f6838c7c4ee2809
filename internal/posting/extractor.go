package posting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Extraction strategies, in the order they are tried.
const (
	ExtractNetwork  = "network"
	ExtractURL      = "url"
	ExtractTimeline = "timeline"
)

// ExtractorTimeouts bounds each extraction strategy independently.
type ExtractorTimeouts struct {
	Network      time.Duration
	URL          time.Duration
	Timeline     time.Duration
	PollInterval time.Duration
	ScanDepth    int
}

func DefaultExtractorTimeouts() ExtractorTimeouts {
	return ExtractorTimeouts{
		Network:      8 * time.Second,
		URL:          5 * time.Second,
		Timeline:     25 * time.Second,
		PollInterval: 250 * time.Millisecond,
		ScanDepth:    5,
	}
}

// Extractor determines the platform id of a post that was just submitted.
// It never invents an id: when every strategy is exhausted it fails.
type Extractor struct {
	profile  SurfaceProfile
	timeouts ExtractorTimeouts
	logger   *zap.Logger
	recorder Recorder
}

func NewExtractor(profile SurfaceProfile, timeouts ExtractorTimeouts, logger *zap.Logger, recorder Recorder) *Extractor {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Extractor{
		profile:  profile,
		timeouts: timeouts,
		logger:   logger.Named("extractor"),
		recorder: recorder,
	}
}

// NetworkCapture is a pending set of ids from the page's post-creation
// responses. It must be closed.
type NetworkCapture struct {
	result chan string
	cancel context.CancelFunc
	done   chan struct{}
}

// Close stops the listener and waits for it to exit.
func (c *NetworkCapture) Close() {
	if c == nil {
		return
	}
	c.cancel()
	<-c.done
}

// Collect waits up to timeout for want ids and returns those that arrived,
// in response order.
func (c *NetworkCapture) Collect(ctx context.Context, want int, timeout time.Duration) []string {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var ids []string
	for len(ids) < want {
		select {
		case id := <-c.result:
			ids = append(ids, id)
		case <-timer.C:
			return ids
		case <-ctx.Done():
			return ids
		}
	}
	return ids
}

// Arm starts listening for up to want creation responses. It must be called
// before the submit action so no response can be missed.
func (x *Extractor) Arm(ctx context.Context, page Page, want int) (*NetworkCapture, error) {
	if want < 1 {
		want = 1
	}
	watchCtx, cancel := context.WithCancel(ctx)
	responses, stop, err := page.WatchResponses(watchCtx, x.profile.CreateEndpoints)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to watch responses: %w", err)
	}

	c := &NetworkCapture{
		result: make(chan string, want),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(c.done)
		defer stop()
		seen := make(map[string]bool)
		for len(seen) < want {
			select {
			case <-watchCtx.Done():
				return
			case resp, ok := <-responses:
				if !ok {
					return
				}
				if id := x.IDFromPayload(resp.Body); id != "" && !seen[id] {
					seen[id] = true
					c.result <- id
				}
			}
		}
	}()
	return c, nil
}

// IDFromPayload reads a post id from a creation response body using the
// profile's known field paths.
func (x *Extractor) IDFromPayload(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	for _, path := range x.profile.IDFieldPaths {
		if id := gjson.GetBytes(body, path).String(); x.profile.ValidID(id) {
			return id
		}
	}
	return ""
}

// ExtractRequest describes the post whose id is wanted.
type ExtractRequest struct {
	Capture    *NetworkCapture
	ExcludeID  string // reply target; never a valid answer
	ParentID   string // set for replies, checked during the timeline scan
	TextPrefix string // expected text, checked for root posts
}

type Extraction struct {
	ID       string
	Strategy string
}

// Extract tries network capture, then URL inspection, then a timeline scan.
// The capture in req is closed before returning.
func (x *Extractor) Extract(ctx context.Context, page Page, req ExtractRequest) (Extraction, error) {
	defer req.Capture.Close()

	var failures []string

	if req.Capture != nil {
		id, err := x.awaitCapture(ctx, req.Capture, req.ExcludeID)
		x.recorder.Extraction(ExtractNetwork, err == nil)
		if err == nil {
			return Extraction{ID: id, Strategy: ExtractNetwork}, nil
		}
		if ctx.Err() != nil {
			return Extraction{}, ctx.Err()
		}
		failures = append(failures, ExtractNetwork+": "+err.Error())
	}

	id, err := x.pollURL(ctx, page, req.ExcludeID)
	x.recorder.Extraction(ExtractURL, err == nil)
	if err == nil {
		return Extraction{ID: id, Strategy: ExtractURL}, nil
	}
	if ctx.Err() != nil {
		return Extraction{}, ctx.Err()
	}
	failures = append(failures, ExtractURL+": "+err.Error())

	id, err = x.scanTimeline(ctx, page, req)
	x.recorder.Extraction(ExtractTimeline, err == nil)
	if err == nil {
		return Extraction{ID: id, Strategy: ExtractTimeline}, nil
	}
	if ctx.Err() != nil {
		return Extraction{}, ctx.Err()
	}
	failures = append(failures, ExtractTimeline+": "+err.Error())

	x.logger.Warn("identifier extraction exhausted", zap.Strings("failures", failures))
	return Extraction{}, stageErr(KindExtraction, "extract", fmt.Errorf("%w (%s)", ErrExtraction, strings.Join(failures, "; ")))
}

func (x *Extractor) awaitCapture(ctx context.Context, c *NetworkCapture, exclude string) (string, error) {
	timer := time.NewTimer(x.timeouts.Network)
	defer timer.Stop()

	select {
	case id := <-c.result:
		if id == exclude {
			return "", errors.New("captured the reply target id")
		}
		return id, nil
	case <-timer.C:
		return "", fmt.Errorf("no creation response within %s", x.timeouts.Network)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (x *Extractor) pollURL(ctx context.Context, page Page, exclude string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, x.timeouts.URL)
	defer cancel()

	ticker := time.NewTicker(x.timeouts.PollInterval)
	defer ticker.Stop()

	for {
		if current, err := page.CurrentURL(ctx); err == nil {
			if id := x.profile.IDFromURL(current); id != "" && id != exclude {
				return id, nil
			}
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("no permalink within %s", x.timeouts.URL)
		case <-ticker.C:
		}
	}
}

func (x *Extractor) scanTimeline(ctx context.Context, page Page, req ExtractRequest) (string, error) {
	if x.profile.Handle == "" {
		return "", errors.New("no account handle configured")
	}
	ctx, cancel := context.WithTimeout(ctx, x.timeouts.Timeline)
	defer cancel()

	if err := page.Navigate(ctx, x.profile.ProfileURL()); err != nil {
		return "", fmt.Errorf("failed to open profile: %w", err)
	}
	links, err := page.FindAll(ctx, x.profile.TimelinePostLinks)
	if err != nil {
		return "", fmt.Errorf("failed to list recent posts: %w", err)
	}

	var candidates []string
	seen := make(map[string]bool)
	for _, link := range links {
		href, err := link.Attribute(ctx, "href")
		if err != nil {
			continue
		}
		id := x.profile.IDFromURL(href)
		if id == "" || id == req.ExcludeID || seen[id] {
			continue
		}
		seen[id] = true
		candidates = append(candidates, id)
		if len(candidates) == x.timeouts.ScanDepth {
			break
		}
	}

	for _, id := range candidates {
		ok, err := x.verifyCandidate(ctx, page, id, req)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			x.logger.Debug("timeline candidate check failed", zap.String("candidate", id), zap.Error(err))
			continue
		}
		if ok {
			return id, nil
		}
	}
	return "", fmt.Errorf("none of %d recent posts matched", len(candidates))
}

func (x *Extractor) verifyCandidate(ctx context.Context, page Page, id string, req ExtractRequest) (bool, error) {
	if err := page.Navigate(ctx, x.profile.StatusURL(id)); err != nil {
		return false, err
	}
	if req.ParentID != "" {
		refs, err := page.FindAll(ctx, fmt.Sprintf(x.profile.ParentReference, req.ParentID))
		if err != nil {
			return false, err
		}
		return len(refs) > 0, nil
	}
	if req.TextPrefix == "" {
		return false, errors.New("nothing to verify a root post against")
	}
	texts, err := page.FindAll(ctx, x.profile.PostText)
	if err != nil || len(texts) == 0 {
		return false, err
	}
	actual, err := texts[0].Text(ctx)
	if err != nil {
		return false, err
	}
	return startsLike(req.TextPrefix, actual), nil
}
