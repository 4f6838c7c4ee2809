package posting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/shubh-37/x-autoposter/internal/models"
)

type OrchestratorConfig struct {
	MaxAttempts    int
	ThreadTimeout  time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Orchestrator runs a job through an ordered list of strategies, retrying
// whole attempts with exponential backoff. The run is bounded by
// ThreadTimeout, and once anything reached the platform no further strategy
// or attempt may post.
type Orchestrator struct {
	browser    Browser
	strategies []Strategy
	cfg        OrchestratorConfig
	logger     *zap.Logger
	recorder   Recorder
}

func NewOrchestrator(browser Browser, strategies []Strategy, cfg OrchestratorConfig, logger *zap.Logger, recorder Recorder) *Orchestrator {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 2 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Orchestrator{
		browser:    browser,
		strategies: strategies,
		cfg:        cfg,
		logger:     logger.Named("orchestrator"),
		recorder:   recorder,
	}
}

func (o *Orchestrator) newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.cfg.InitialBackoff
	b.MaxInterval = o.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Run executes job and always returns a structured result.
func (o *Orchestrator) Run(parent context.Context, job Job) models.PostResult {
	started := time.Now()
	ctx := parent
	cancel := func() {}
	if o.cfg.ThreadTimeout > 0 {
		ctx, cancel = context.WithTimeout(parent, o.cfg.ThreadTimeout)
	}
	defer cancel()

	var page Page
	defer func() {
		if page != nil {
			if err := page.Close(); err != nil {
				o.logger.Warn("failed to close page", zap.Error(err))
			}
		}
	}()

	progress := &Progress{}
	lastErrs := make(map[string]error)
	var order []string
	var finalErr error
	attempts := 0
	bo := o.newBackoff()

run:
	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		attempts = attempt
		if attempt > 1 {
			wait := bo.NextBackOff()
			o.logger.Info("🔄 retrying posting attempt",
				zap.String("intent_id", job.IntentID),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", wait))
			if err := sleep(ctx, wait); err != nil {
				finalErr = err
				break
			}
			if page != nil {
				if err := page.Reload(ctx); err != nil {
					o.logger.Warn("page reload failed", zap.Error(err))
				}
			}
		}

		ran := false
		for _, s := range o.strategies {
			if !s.Applies(job) {
				continue
			}
			ran = true
			if _, seen := lastErrs[s.Name()]; !seen {
				order = append(order, s.Name())
			}

			if s.NeedsPage() && page == nil {
				p, err := o.openPage(ctx)
				if err != nil {
					lastErrs[s.Name()] = err
					finalErr = err
					if ctx.Err() != nil {
						break run
					}
					continue
				}
				page = p
			}

			took := time.Now()
			err := o.runStrategy(ctx, s, page, job, progress)
			o.recorder.StrategyAttempt(s.Name(), KindOf(err), time.Since(took))
			if err == nil {
				finalErr = nil
				break run
			}

			lastErrs[s.Name()] = err
			finalErr = err
			o.logger.Warn("❌ strategy failed",
				zap.String("intent_id", job.IntentID),
				zap.String("strategy", s.Name()),
				zap.Int("attempt", attempt),
				zap.String("kind", string(KindOf(err))),
				zap.Error(err))

			if progress.Submitted || ctx.Err() != nil || !KindOf(err).Retryable() {
				break run
			}
		}
		if !ran {
			finalErr = fmt.Errorf("%w: no strategy applies to %d segment(s)", ErrChannel, len(job.Segments))
			break
		}
	}

	if finalErr != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
		finalErr = stageErr(KindTimeout, "run", fmt.Errorf("%w after %s: %v", ErrTimeout, o.cfg.ThreadTimeout, finalErr))
	}

	return o.result(job, progress, finalErr, lastErrs, order, attempts, started)
}

func (o *Orchestrator) openPage(ctx context.Context) (Page, error) {
	if o.browser == nil {
		return nil, stageErr(KindChannel, "open_page", fmt.Errorf("%w: no browser configured", ErrChannel))
	}
	page, err := o.browser.NewPage(ctx)
	if err != nil {
		return nil, stageErr(KindNavigation, "open_page", fmt.Errorf("%w: %v", ErrNavigation, err))
	}
	return page, nil
}

// runStrategy turns a panic inside a strategy into an ordinary failure.
func (o *Orchestrator) runStrategy(ctx context.Context, s Strategy, page Page, job Job, progress *Progress) (err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("strategy panicked", zap.String("strategy", s.Name()), zap.Any("panic", r))
			err = fmt.Errorf("%w: strategy %s panicked: %v", ErrChannel, s.Name(), r)
		}
	}()
	return s.Run(ctx, page, job, progress)
}

func (o *Orchestrator) result(job Job, progress *Progress, err error, lastErrs map[string]error, order []string, attempts int, started time.Time) models.PostResult {
	ids := append([]string{}, progress.IDs...)
	res := models.PostResult{
		IntentID:     job.IntentID,
		Mode:         progress.Mode,
		Channel:      progress.Channel,
		SegmentIDs:   ids,
		SegmentCount: len(job.Segments),
		Submitted:    progress.Submitted || len(ids) > 0,
		Attempts:     attempts,
		Warnings:     progress.Warnings,
		StartedAt:    started,
		FinishedAt:   time.Now(),
	}
	if len(ids) > 0 {
		res.RootID = ids[0]
	}

	switch {
	case progress.Complete:
		res.PostedCount = len(job.Segments)
	default:
		res.PostedCount = len(ids)
		if progress.Unconfirmed {
			res.PostedCount++
		}
	}

	for _, name := range order {
		if e := lastErrs[name]; e != nil {
			res.Strategies = append(res.Strategies, models.StrategyError{
				Strategy: name,
				Kind:     string(KindOf(e)),
				Message:  e.Error(),
			})
		}
	}

	if err == nil && progress.Complete {
		res.Success = true
		return res
	}
	if err == nil {
		err = fmt.Errorf("%w: run ended without completing", ErrChannel)
	}
	res.ErrorKind = string(KindOf(err))
	res.Error = err.Error()
	if len(ids) > 0 {
		res.Success = true
		res.Partial = true
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("partial thread: %d of %d segments posted", res.PostedCount, len(job.Segments)))
	}
	return res
}
