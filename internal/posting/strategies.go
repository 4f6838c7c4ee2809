package posting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shubh-37/x-autoposter/internal/models"
)

// Strategy names.
const (
	StrategyNative     = "native_thread"
	StrategyReplyChain = "reply_chain"
	StrategyHTTPDirect = "http_direct"
)

// Job is one publication handed to the orchestrator.
type Job struct {
	IntentID string
	Segments []string
	ReplyTo  string
}

// Progress accumulates what reached the platform during a run. It is shared
// by every strategy of the run; once Submitted is set nothing else may post.
type Progress struct {
	IDs         []string
	Submitted   bool
	Unconfirmed bool // the last submission has no captured id
	Complete    bool // every segment reached the platform
	Mode        models.StructuralMode
	Channel     models.Channel
	Extraction  string
	Warnings    []string
}

func (p *Progress) record(res ComposeResult) {
	if res.Submitted {
		p.Submitted = true
	}
	if res.ID != "" {
		p.IDs = append(p.IDs, res.ID)
		p.Extraction = res.Extraction
		p.Unconfirmed = false
	} else if res.Submitted {
		p.Unconfirmed = true
	}
}

// Strategy is one way of getting a job onto the platform.
type Strategy interface {
	Name() string
	Applies(job Job) bool
	NeedsPage() bool
	Run(ctx context.Context, page Page, job Job, progress *Progress) error
}

// NativeThread composes every segment as a card of one composer session and
// submits them together.
type NativeThread struct {
	profile   SurfaceProfile
	composer  *Composer
	extractor *Extractor
	logger    *zap.Logger
}

func NewNativeThread(profile SurfaceProfile, composer *Composer, extractor *Extractor, logger *zap.Logger) *NativeThread {
	return &NativeThread{profile: profile, composer: composer, extractor: extractor, logger: logger.Named(StrategyNative)}
}

func (s *NativeThread) Name() string    { return StrategyNative }
func (s *NativeThread) NeedsPage() bool { return true }

func (s *NativeThread) Applies(job Job) bool {
	return len(job.Segments) > 1 && job.ReplyTo == ""
}

func (s *NativeThread) Run(ctx context.Context, page Page, job Job, progress *Progress) error {
	progress.Mode = models.StructureNativeThread
	progress.Channel = models.ChannelBrowser

	if err := page.Navigate(ctx, s.profile.ComposeURL()); err != nil {
		return stageErr(KindNavigation, "navigate", fmt.Errorf("%w: %v", ErrNavigation, err))
	}

	first, err := s.composer.focus(ctx, page, s.profile.ComposeBox)
	if err != nil {
		return err
	}
	if err := s.composer.enter(ctx, first, job.Segments[0]); err != nil {
		return fmt.Errorf("card 0: %w", err)
	}

	for i := 1; i < len(job.Segments); i++ {
		if err := s.addCard(ctx, page); err != nil {
			return fmt.Errorf("card %d: %w", i, err)
		}
		card, err := page.Find(ctx, s.profile.CardBox(i), 5*time.Second)
		if err == nil {
			err = card.Click(ctx)
		}
		if err != nil {
			return fmt.Errorf("card %d: %w", i, stageErr(KindFocus, "focus_card", fmt.Errorf("%w: %v", ErrFocus, err)))
		}
		if err := s.composer.enter(ctx, card, job.Segments[i]); err != nil {
			return fmt.Errorf("card %d: %w", i, err)
		}
	}

	cards, err := page.FindAll(ctx, s.profile.CardBoxes)
	if err != nil {
		return stageErr(KindCardCount, "count_cards", err)
	}
	// Counted before submit, so a mismatch publishes nothing.
	if len(cards) != len(job.Segments) {
		return stageErr(KindCardCount, "count_cards",
			fmt.Errorf("%w: %d cards for %d segments", ErrCardCount, len(cards), len(job.Segments)))
	}

	capture, err := s.extractor.Arm(ctx, page, len(job.Segments))
	if err != nil {
		s.logger.Warn("network capture unavailable", zap.Error(err))
	}
	if err := s.composer.submit(ctx, page, s.profile.SubmitButtons); err != nil {
		capture.Close()
		return err
	}
	progress.Submitted = true

	if capture != nil {
		ids := capture.Collect(ctx, len(job.Segments), s.extractor.timeouts.Network)
		capture.Close()
		if len(ids) > 0 {
			progress.IDs = ids
			progress.Extraction = ExtractNetwork
			progress.Complete = true
			if len(ids) < len(job.Segments) {
				progress.Warnings = append(progress.Warnings,
					fmt.Sprintf("captured %d of %d thread ids", len(ids), len(job.Segments)))
			}
			return nil
		}
	}

	ext, err := s.extractor.Extract(ctx, page, ExtractRequest{TextPrefix: job.Segments[0]})
	if err != nil {
		progress.Unconfirmed = true
		return err
	}
	progress.IDs = []string{ext.ID}
	progress.Extraction = ext.Strategy
	progress.Complete = true
	progress.Warnings = append(progress.Warnings, "only the root id of the native thread was captured")
	return nil
}

func (s *NativeThread) addCard(ctx context.Context, page Page) error {
	for _, loc := range s.profile.AddCard {
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
	return stageErr(KindFocus, "add_card", fmt.Errorf("%w: no add-card control", ErrFocus))
}

// ReplyChain posts the first segment as a root (or as a reply to the job's
// target) and every following segment as a reply to the previous one.
type ReplyChain struct {
	composer   *Composer
	replyDelay time.Duration
	logger     *zap.Logger
}

func NewReplyChain(composer *Composer, replyDelay time.Duration, logger *zap.Logger) *ReplyChain {
	return &ReplyChain{composer: composer, replyDelay: replyDelay, logger: logger.Named(StrategyReplyChain)}
}

func (s *ReplyChain) Name() string         { return StrategyReplyChain }
func (s *ReplyChain) NeedsPage() bool      { return true }
func (s *ReplyChain) Applies(job Job) bool { return len(job.Segments) > 0 }

func (s *ReplyChain) Run(ctx context.Context, page Page, job Job, progress *Progress) error {
	progress.Mode = chainMode(job)
	progress.Channel = models.ChannelBrowser

	for i, segment := range job.Segments {
		target := job.ReplyTo
		if i > 0 {
			target = progress.IDs[i-1]
			if err := sleep(ctx, s.replyDelay); err != nil {
				return err
			}
		}

		res, err := s.composer.Post(ctx, page, segment, target)
		progress.record(res)
		if err != nil {
			return fmt.Errorf("segment %d of %d: %w", i+1, len(job.Segments), err)
		}
		s.logger.Info("✅ segment posted",
			zap.Int("segment", i+1),
			zap.Int("of", len(job.Segments)),
			zap.String("id", res.ID),
			zap.String("reply_to", target))
	}
	progress.Complete = true
	return nil
}

// DirectPoster creates posts through the platform's HTTP API.
type DirectPoster interface {
	CreatePost(ctx context.Context, text, replyToID string) (string, error)
}

// HTTPDirect posts the job as a reply chain over the HTTP API, bypassing the
// browser entirely.
type HTTPDirect struct {
	poster     DirectPoster
	replyDelay time.Duration
	logger     *zap.Logger
}

func NewHTTPDirect(poster DirectPoster, replyDelay time.Duration, logger *zap.Logger) *HTTPDirect {
	return &HTTPDirect{poster: poster, replyDelay: replyDelay, logger: logger.Named(StrategyHTTPDirect)}
}

func (s *HTTPDirect) Name() string         { return StrategyHTTPDirect }
func (s *HTTPDirect) NeedsPage() bool      { return false }
func (s *HTTPDirect) Applies(job Job) bool { return s.poster != nil && len(job.Segments) > 0 }

func (s *HTTPDirect) Run(ctx context.Context, _ Page, job Job, progress *Progress) error {
	progress.Mode = chainMode(job)
	progress.Channel = models.ChannelHTTP

	for i, segment := range job.Segments {
		target := job.ReplyTo
		if i > 0 {
			target = progress.IDs[i-1]
			if err := sleep(ctx, s.replyDelay); err != nil {
				return err
			}
		}
		id, err := s.poster.CreatePost(ctx, segment, target)
		if err != nil {
			if ambiguous(err) {
				progress.Submitted = true
				progress.Unconfirmed = true
			}
			return fmt.Errorf("segment %d of %d: %w", i+1, len(job.Segments), err)
		}
		progress.record(ComposeResult{ID: id, Extraction: StrategyHTTPDirect, Submitted: true})
	}
	progress.Complete = true
	return nil
}

// ambiguous reports whether err leaves open that the post was created.
func ambiguous(err error) bool {
	var a interface{ Ambiguous() bool }
	return errors.As(err, &a) && a.Ambiguous()
}

func chainMode(job Job) models.StructuralMode {
	switch {
	case len(job.Segments) > 1:
		return models.StructureReplyChain
	case job.ReplyTo != "":
		return models.StructureReply
	default:
		return models.StructureSingle
	}
}
