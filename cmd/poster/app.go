package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shubh-37/x-autoposter/config"
	"github.com/shubh-37/x-autoposter/internal/agents"
	"github.com/shubh-37/x-autoposter/internal/browser"
	"github.com/shubh-37/x-autoposter/internal/database"
	"github.com/shubh-37/x-autoposter/internal/guard"
	"github.com/shubh-37/x-autoposter/internal/kv"
	"github.com/shubh-37/x-autoposter/internal/metrics"
	"github.com/shubh-37/x-autoposter/internal/platform"
	"github.com/shubh-37/x-autoposter/internal/posting"
	slackpkg "github.com/shubh-37/x-autoposter/internal/slack"
)

const rootVerifyTimeout = 45 * time.Second

type appOptions struct {
	// browser starts the posting browser; only the post command needs it.
	browser bool
}

// app holds every wired component of one command invocation.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	db      *database.DB
	intents *database.IntentRepository
	permits *database.PermitRepository
	results *database.ResultRepository
	audits  *database.AuditRepository

	store     kv.Store
	redis     *kv.RedisStore
	lock      *guard.Lock
	gate      *guard.Gate
	scheduler *agents.SchedulerAgent
	recorder  *metrics.Recorder
	profile   posting.SurfaceProfile
	segmenter *posting.Segmenter
	browser   *browser.Session
	runner    *posting.Orchestrator
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts appOptions) (_ *app, err error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		recorder: metrics.NewRecorder(),
		profile:  posting.DefaultProfile(cfg.Platform.BaseURL, cfg.Platform.Username),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.segmenter, err = posting.NewSegmenter(cfg.Segment)
	if err != nil {
		return nil, fmt.Errorf("invalid segmentation config: %w", err)
	}

	if cfg.DatabaseURL != "" {
		a.db, err = database.NewDB(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.intents = database.NewIntentRepository(a.db)
		a.permits = database.NewPermitRepository(a.db)
		a.results = database.NewResultRepository(a.db)
		a.audits = database.NewAuditRepository(a.db)
		logger.Info("✅ database connected")
	}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	a.lock = guard.NewLock(a.store, guard.LockConfig{
		TTL:         cfg.Posting.LockTTL,
		MinInterval: cfg.Posting.MinPostInterval,
		Bootstrap:   cfg.Posting.BootstrapMode,
	}, logger)

	if a.results != nil {
		a.scheduler, err = agents.NewSchedulerAgent(a.results, cfg.Cadence, posting.NewFormatPolicy(cfg.Format), logger)
		if err != nil {
			return nil, fmt.Errorf("invalid cadence config: %w", err)
		}
	}

	var pageBrowser posting.Browser
	if opts.browser && !cfg.Posting.DryRun {
		a.browser, err = browser.Start(ctx, cfg.Browser, cfg.Platform, logger)
		switch {
		case err == nil:
			pageBrowser = a.browser
		case cfg.Platform.HTTPFallback:
			logger.Warn("⚠️ browser unavailable, posting over HTTP only", zap.Error(err))
			err = nil
		default:
			return nil, fmt.Errorf("failed to start browser: %w", err)
		}
	}

	deps := guard.Deps{
		Lock:   a.lock,
		Safety: guard.NewBasicSafetyChecker(cfg.BlockedTerms...),
	}
	if a.db != nil {
		deps.Intents = a.intents
		deps.Permits = a.permits
		deps.Results = a.results
		deps.Audits = a.audits
	}
	if pageBrowser != nil {
		deps.Verifier = posting.NewPageRootVerifier(pageBrowser, a.profile, rootVerifyTimeout, logger)
	}
	if cfg.SlackToken != "" {
		alerter, err := slackpkg.NewClient(ctx, cfg.SlackToken, cfg.SlackAlertChannel, logger)
		if err != nil {
			logger.Warn("⚠️ slack alerts disabled", zap.Error(err))
		} else {
			deps.Alerter = alerter
		}
	}
	a.gate = guard.NewGate(guard.Config{
		AllowedOrigins:    cfg.AllowedOrigins,
		PermitTTL:         cfg.Posting.PermitTTL,
		AuditFallbackFile: cfg.AuditFallbackFile,
	}, deps, logger)

	a.runner = a.newOrchestrator(pageBrowser)
	return a, nil
}

// openStore connects the shared lock store. Without REDIS_URL the lock is
// process-local, which is only safe for dry runs and single-instance use.
func (a *app) openStore(ctx context.Context) error {
	if a.cfg.RedisURL == "" || a.cfg.Posting.DryRun {
		if !a.cfg.Posting.DryRun {
			a.logger.Warn("⚠️ REDIS_URL not set, posting lock is local to this process")
		}
		a.store = kv.NewMemoryStore()
		return nil
	}
	r, err := kv.NewRedisStore(ctx, a.cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.redis = r
	a.store = r
	a.logger.Info("✅ redis connected")
	return nil
}

func (a *app) newOrchestrator(pageBrowser posting.Browser) *posting.Orchestrator {
	p := a.cfg.Posting
	extractor := posting.NewExtractor(a.profile, posting.DefaultExtractorTimeouts(), a.logger, a.recorder)
	composer := posting.NewComposer(a.profile, extractor, 750*time.Millisecond, a.logger)

	strategies := []posting.Strategy{
		posting.NewNativeThread(a.profile, composer, extractor, a.logger),
		posting.NewReplyChain(composer, p.ReplyDelay, a.logger),
	}
	if a.cfg.Platform.HTTPFallback {
		client := platform.NewClient(a.cfg.Platform, platform.Options{}, a.logger)
		strategies = append(strategies, posting.NewHTTPDirect(client, p.ReplyDelay, a.logger))
	}

	return posting.NewOrchestrator(pageBrowser, strategies, posting.OrchestratorConfig{
		MaxAttempts:   p.MaxRetryAttempts,
		ThreadTimeout: p.ThreadTimeout,
	}, a.logger, a.recorder)
}

// facade builds the posting entry point, deciding formats with hints.
func (a *app) facade(hints agents.Hints) *posting.Facade {
	opts := []posting.FacadeOption{
		posting.WithDryRun(a.cfg.Posting.DryRun),
		posting.WithRecorder(a.recorder),
	}
	if a.scheduler != nil {
		opts = append(opts, posting.WithCadence(a.scheduler.WithHints(hints)))
	}
	return posting.NewFacade(a.gate, a.segmenter, a.runner, a.logger, opts...)
}

// requireDB fails commands that cannot work without the intent store.
func (a *app) requireDB() error {
	if a.db == nil {
		return errors.New("this command needs DATABASE_URL")
	}
	return nil
}

func (a *app) healthChecks() map[string]metrics.HealthChecker {
	checks := map[string]metrics.HealthChecker{}
	if a.db != nil {
		checks["postgres"] = a.db
	}
	if a.redis != nil {
		checks["redis"] = a.redis
	}
	return checks
}

func (a *app) Close() {
	if a.browser != nil {
		if err := a.browser.Close(); err != nil {
			a.logger.Warn("failed to close browser", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
