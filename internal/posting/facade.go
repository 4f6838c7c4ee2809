package posting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shubh-37/x-autoposter/internal/models"
)

// Plan is what the facade decided to do with an intent before executing it.
type Plan struct {
	Segmentation Segmentation
	Mode         models.PostMode
	Format       *FormatDecision
}

// Facade is the single entry point for publishing an intent.
type Facade struct {
	gate         Gate
	cadence      CadencePolicy
	segmenter    *Segmenter
	orchestrator *Orchestrator
	dryRun       bool
	logger       *zap.Logger
	recorder     Recorder
	now          func() time.Time
}

type FacadeOption func(*Facade)

// WithCadence gates posting on a cadence policy and lets it steer the format.
func WithCadence(c CadencePolicy) FacadeOption {
	return func(f *Facade) { f.cadence = c }
}

// WithDryRun simulates every effect: nothing is locked, persisted or posted.
func WithDryRun(dryRun bool) FacadeOption {
	return func(f *Facade) { f.dryRun = dryRun }
}

func WithRecorder(r Recorder) FacadeOption {
	return func(f *Facade) {
		if r != nil {
			f.recorder = r
		}
	}
}

func WithClock(now func() time.Time) FacadeOption {
	return func(f *Facade) { f.now = now }
}

func NewFacade(gate Gate, segmenter *Segmenter, orchestrator *Orchestrator, logger *zap.Logger, opts ...FacadeOption) *Facade {
	f := &Facade{
		gate:         gate,
		segmenter:    segmenter,
		orchestrator: orchestrator,
		logger:       logger.Named("facade"),
		recorder:     nopRecorder{},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Plan segments the intent's content and picks the publication mode. It
// has no side effects.
func (f *Facade) Plan(ctx context.Context, intent models.PostIntent, content string) (Plan, error) {
	var plan Plan
	preferThread := intent.Mode == models.ModeThread

	if f.cadence != nil && intent.Mode != models.ModeReply {
		decision, err := f.cadence.PreferredFormat(ctx, f.now())
		if err != nil {
			f.logger.Warn("format decision unavailable", zap.Error(err))
		} else {
			plan.Format = &decision
			if decision.Format == models.FormatThread {
				preferThread = true
			}
		}
	}

	var (
		seg Segmentation
		err error
	)
	if len(intent.Segments) > 0 {
		seg, err = f.segmenter.Presplit(intent.Segments)
	} else {
		seg, err = f.segmenter.Segment(content, preferThread)
	}
	if err != nil {
		return plan, err
	}
	plan.Segmentation = seg

	switch {
	case intent.Mode == models.ModeReply:
		plan.Mode = models.ModeReply
	case len(seg.Segments) > 1:
		plan.Mode = models.ModeThread
	default:
		plan.Mode = models.ModeSingle
	}
	return plan, nil
}

// Post publishes intent and always returns a structured result; it never
// panics. Lock release and permit settlement happen on every path once the
// lock is held.
func (f *Facade) Post(ctx context.Context, intent models.PostIntent) (result models.PostResult) {
	started := f.now()
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("posting panicked", zap.String("intent_id", intent.ID), zap.Any("panic", r))
			result = failedResult(intent.ID, KindChannel, fmt.Errorf("%w: internal panic: %v", ErrChannel, r), started)
		}
		f.recorder.Outcome(result)
	}()

	if f.dryRun {
		return f.simulate(ctx, intent, started)
	}

	if intent.Mode == models.ModeReply && intent.ReplyToID == "" {
		return failedResult(intent.ID, KindInvalidIntent, fmt.Errorf("%w: reply without a target", ErrInvalidIntent), started)
	}

	if f.cadence != nil {
		if ok, reason := f.cadence.Allowed(ctx, f.now()); !ok {
			f.logger.Info("⏸️ cadence blocked posting", zap.String("intent_id", intent.ID), zap.String("reason", reason))
			return failedResult(intent.ID, KindCadence, fmt.Errorf("cadence: %s", reason), started)
		}
	}

	auth, err := f.gate.Authorize(ctx, &intent)
	if err != nil {
		f.logger.Warn("🚫 intent not authorized", zap.String("intent_id", intent.ID), zap.Error(err))
		return failedResult(intent.ID, kindOr(err, KindPermitDenied), err, started)
	}

	intent.Segments = auth.Segments
	plan, err := f.Plan(ctx, intent, auth.Content)
	if err != nil {
		kind := KindOf(err)
		if rerr := f.gate.Reject(context.WithoutCancel(ctx), auth, string(kind)); rerr != nil {
			f.logger.Error("failed to reject permit", zap.String("intent_id", intent.ID), zap.Error(rerr))
		}
		f.logger.Warn("🛑 intent stopped before execution",
			zap.String("intent_id", intent.ID),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return failedResult(intent.ID, kind, err, started)
	}

	lease, err := f.gate.Acquire(ctx, auth)
	if err != nil {
		f.logger.Info("🔒 posting lock not acquired", zap.String("intent_id", intent.ID), zap.Error(err))
		return failedResult(intent.ID, kindOr(err, KindLockContention), err, started)
	}

	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("posting panicked", zap.String("intent_id", intent.ID), zap.Any("panic", r))
			result = failedResult(intent.ID, KindChannel, fmt.Errorf("%w: internal panic: %v", ErrChannel, r), started)
		}
		f.gate.Complete(context.WithoutCancel(ctx), lease, &result)
	}()

	f.logger.Info("🚀 posting intent",
		zap.String("intent_id", intent.ID),
		zap.String("mode", string(plan.Mode)),
		zap.String("segmentation", plan.Segmentation.Strategy),
		zap.Int("segments", len(plan.Segmentation.Segments)))

	result = f.orchestrator.Run(ctx, Job{
		IntentID: intent.ID,
		Segments: plan.Segmentation.Segments,
		ReplyTo:  intent.ReplyToID,
	})
	result.Segmentation = plan.Segmentation.Strategy
	result.StartedAt = started
	return result
}

func (f *Facade) simulate(ctx context.Context, intent models.PostIntent, started time.Time) models.PostResult {
	plan, err := f.Plan(ctx, intent, intent.Content)
	if err != nil {
		return failedResult(intent.ID, KindOf(err), err, started)
	}

	mode := models.StructureSingle
	switch {
	case len(plan.Segmentation.Segments) > 1:
		mode = models.StructureReplyChain
	case plan.Mode == models.ModeReply:
		mode = models.StructureReply
	}

	f.logger.Info("🧪 dry run: would post",
		zap.String("intent_id", intent.ID),
		zap.String("mode", string(plan.Mode)),
		zap.String("segmentation", plan.Segmentation.Strategy),
		zap.Strings("segments", plan.Segmentation.Segments),
		zap.String("reply_to", intent.ReplyToID))

	return models.PostResult{
		IntentID:     intent.ID,
		Success:      true,
		Mode:         mode,
		Channel:      models.ChannelDryRun,
		SegmentIDs:   []string{},
		SegmentCount: len(plan.Segmentation.Segments),
		Segmentation: plan.Segmentation.Strategy,
		DryRun:       true,
		StartedAt:    started,
		FinishedAt:   f.now(),
	}
}

func failedResult(intentID string, kind ErrorKind, err error, started time.Time) models.PostResult {
	res := models.Failed(intentID, string(kind), err)
	res.StartedAt = started
	return res
}

// kindOr classifies err, using fallback when err carries no kind of its own.
func kindOr(err error, fallback ErrorKind) ErrorKind {
	var stage *StageError
	var kinded interface{ ErrorKind() ErrorKind }
	if errors.As(err, &stage) || errors.As(err, &kinded) || errors.Is(err, context.DeadlineExceeded) {
		return KindOf(err)
	}
	return fallback
}
