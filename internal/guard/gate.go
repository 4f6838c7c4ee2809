// Package guard is the single authorization layer in front of posting. It
// owns the permit lifecycle, the pre-execution checks, the posting lock and
// the durable record of every attempt.
package guard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shubh-37/x-autoposter/internal/models"
	"github.com/shubh-37/x-autoposter/internal/posting"
)

type Config struct {
	AllowedOrigins    []string
	PermitTTL         time.Duration
	PersistAttempts   uint64
	PersistBackoff    time.Duration
	AuditFallbackFile string
}

// Gate implements posting.Gate.
type Gate struct {
	cfg      Config
	origins  map[string]bool
	intents  IntentStore
	permits  PermitStore
	results  ResultStore
	audits   AuditStore
	lock     *Lock
	safety   SafetyChecker
	verifier RootVerifier
	alerter  Alerter
	logger   *zap.Logger
	now      func() time.Time
}

// Deps groups the collaborators of a Gate. Audits and Alerter are optional.
type Deps struct {
	Intents  IntentStore
	Permits  PermitStore
	Results  ResultStore
	Audits   AuditStore
	Lock     *Lock
	Safety   SafetyChecker
	Verifier RootVerifier
	Alerter  Alerter
}

var _ posting.Gate = (*Gate)(nil)

func NewGate(cfg Config, deps Deps, logger *zap.Logger) *Gate {
	origins := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		origins[strings.ToLower(strings.TrimSpace(o))] = true
	}
	if cfg.PersistAttempts == 0 {
		cfg.PersistAttempts = 5
	}
	if cfg.PersistBackoff <= 0 {
		cfg.PersistBackoff = 500 * time.Millisecond
	}
	if deps.Safety == nil {
		deps.Safety = NewBasicSafetyChecker()
	}
	return &Gate{
		cfg:      cfg,
		origins:  origins,
		intents:  deps.Intents,
		permits:  deps.Permits,
		results:  deps.Results,
		audits:   deps.Audits,
		lock:     deps.Lock,
		safety:   deps.Safety,
		verifier: deps.Verifier,
		alerter:  deps.Alerter,
		logger:   logger.Named("guard"),
		now:      time.Now,
	}
}

// Register stores a new intent, or reuses a registered one, and issues a
// pending permit unless an active one already exists.
func (g *Gate) Register(ctx context.Context, intent *models.PostIntent) (*models.Permit, error) {
	if !g.origins[strings.ToLower(intent.Provenance.Source)] {
		return nil, denied(ReasonOriginNotAllowed, "source %q", intent.Provenance.Source)
	}
	if intent.ID == "" {
		intent.ID = uuid.NewString()
	}
	if !wellFormedID(intent.ID) {
		return nil, denied(ReasonInvalidIntentID, "%q", intent.ID)
	}

	existing, err := g.intents.GetIntent(ctx, intent.ID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		if intent.Status == "" {
			intent.Status = models.IntentRegistered
		}
		if err := g.intents.CreateIntent(ctx, intent); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	case existing.Status == models.IntentPosted || existing.Status == models.IntentPartial:
		return nil, denied(ReasonAlreadyPosted, "intent %s is %s", intent.ID, existing.Status)
	}

	if active, err := g.permits.ActivePermit(ctx, intent.ID); err == nil && active.Active(g.now()) {
		return active, nil
	} else if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	now := g.now()
	permit := models.NewPermit(intent.ID, g.cfg.PermitTTL)
	permit.ID = uuid.NewString()
	permit.CreatedAt = now
	permit.ExpiresAt = now.Add(g.cfg.PermitTTL)
	if err := g.permits.CreatePermit(ctx, permit); err != nil {
		return nil, err
	}
	g.logger.Info("📝 intent registered",
		zap.String("intent_id", intent.ID),
		zap.String("permit_id", permit.ID),
		zap.Time("expires_at", permit.ExpiresAt))
	return permit, nil
}

// Authorize runs every pre-execution check, in order, and approves the
// intent's permit. Any failure is a *PermitDeniedError.
func (g *Gate) Authorize(ctx context.Context, intent *models.PostIntent) (*posting.Authorization, error) {
	auth, err := g.authorize(ctx, intent)
	if err != nil {
		var pd *PermitDeniedError
		if errors.As(err, &pd) {
			g.auditDenial(ctx, intent, pd)
		}
		return nil, err
	}
	return auth, nil
}

func (g *Gate) authorize(ctx context.Context, intent *models.PostIntent) (*posting.Authorization, error) {
	if !g.origins[strings.ToLower(intent.Provenance.Source)] {
		return nil, denied(ReasonOriginNotAllowed, "source %q", intent.Provenance.Source)
	}
	if !wellFormedID(intent.ID) {
		return nil, denied(ReasonInvalidIntentID, "%q", intent.ID)
	}

	stored, err := g.intents.GetIntent(ctx, intent.ID)
	switch {
	case errors.Is(err, models.ErrNotFound) && intent.TestOnly:
		if _, err := g.Register(ctx, intent); err != nil {
			return nil, err
		}
	case errors.Is(err, models.ErrNotFound):
		return nil, denied(ReasonIntentNotRegistered, "no record for %s", intent.ID)
	case err != nil:
		return nil, denied(ReasonStoreUnavailable, "%v", err)
	case stored.Status == models.IntentPosted || stored.Status == models.IntentPartial:
		return nil, denied(ReasonAlreadyPosted, "intent %s is %s", intent.ID, stored.Status)
	case stored.Content != intent.Content || stored.ReplyToID != intent.ReplyToID || !slices.Equal(stored.Segments, intent.Segments):
		return nil, denied(ReasonIntentModified, "intent %s differs from its registered record", intent.ID)
	}

	content, err := g.checkSafety(ctx, "content", intent.Content)
	if err != nil {
		return nil, err
	}
	var segments []string
	for i, seg := range intent.Segments {
		clean, err := g.checkSafety(ctx, fmt.Sprintf("segment %d", i+1), seg)
		if err != nil {
			return nil, err
		}
		segments = append(segments, clean)
	}

	if intent.Mode == models.ModeReply {
		if err := g.verifyReplyTarget(ctx, intent.ReplyToID); err != nil {
			return nil, err
		}
	}

	permit, err := g.approve(ctx, intent.ID)
	if err != nil {
		return nil, err
	}

	g.logger.Info("✅ intent authorized",
		zap.String("intent_id", intent.ID),
		zap.String("permit_id", permit.ID),
		zap.String("source", intent.Provenance.Source),
		zap.String("run_id", intent.Provenance.RunID))
	return &posting.Authorization{Permit: permit, Intent: intent, Content: content, Segments: segments}, nil
}

// checkSafety returns the sanitized text, or a denial naming the part of
// the intent that failed.
func (g *Gate) checkSafety(ctx context.Context, part, text string) (string, error) {
	verdict, err := g.safety.Check(ctx, text)
	if err != nil {
		return "", denied(ReasonUnsafeContent, "%s: safety check failed: %v", part, err)
	}
	if !verdict.OK {
		return "", denied(ReasonUnsafeContent, "%s: %s", part, strings.Join(verdict.Reasons, "; "))
	}
	return verdict.Sanitized, nil
}

func (g *Gate) verifyReplyTarget(ctx context.Context, targetID string) error {
	if targetID == "" || g.verifier == nil {
		return denied(ReasonTargetUnverifiable, "no way to inspect reply target %q", targetID)
	}
	isRoot, err := g.verifier.IsRoot(ctx, targetID)
	if err != nil {
		return denied(ReasonTargetUnverifiable, "%v", err)
	}
	if !isRoot {
		return denied(ReasonTargetNotRoot, "post %s is itself a reply", targetID)
	}
	return nil
}

// approve moves the intent's permit PENDING -> APPROVED. An already
// approved, unexpired permit is reused so a lock-contended attempt can be
// retried.
func (g *Gate) approve(ctx context.Context, intentID string) (*models.Permit, error) {
	permit, err := g.permits.ActivePermit(ctx, intentID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, denied(ReasonPermitUnavailable, "no pending permit for %s", intentID)
	}
	if err != nil {
		return nil, denied(ReasonStoreUnavailable, "%v", err)
	}

	now := g.now()
	if permit.Expired(now) {
		if err := g.permits.Transition(ctx, permit.ID, permit.Status, models.PermitExpired, "ttl elapsed"); err != nil && !errors.Is(err, models.ErrConflict) {
			g.logger.Warn("failed to expire permit", zap.String("permit_id", permit.ID), zap.Error(err))
		}
		return nil, denied(ReasonPermitExpired, "permit %s expired at %s", permit.ID, permit.ExpiresAt.Format(time.RFC3339))
	}

	switch permit.Status {
	case models.PermitApproved:
		return permit, nil
	case models.PermitPending:
		err := g.permits.Transition(ctx, permit.ID, models.PermitPending, models.PermitApproved, "")
		if errors.Is(err, models.ErrConflict) {
			return nil, denied(ReasonPermitUnavailable, "permit %s changed concurrently", permit.ID)
		}
		if err != nil {
			return nil, denied(ReasonStoreUnavailable, "%v", err)
		}
		permit.Status = models.PermitApproved
		permit.ApprovedAt = &now
		return permit, nil
	}
	return nil, denied(ReasonPermitUnavailable, "permit %s is %s", permit.ID, permit.Status)
}

// Reject retires an approved permit after a policy stop before execution.
func (g *Gate) Reject(ctx context.Context, auth *posting.Authorization, reason string) error {
	err := g.permits.Transition(ctx, auth.Permit.ID, models.PermitApproved, models.PermitRejected, reason)
	if err != nil {
		return err
	}
	auth.Permit.Status = models.PermitRejected
	auth.Permit.Reason = reason
	if err := g.intents.UpdateIntentStatus(ctx, auth.Permit.IntentID, models.IntentFailed, nil, nil); err != nil {
		g.logger.Warn("failed to mark rejected intent", zap.String("intent_id", auth.Permit.IntentID), zap.Error(err))
	}
	g.logger.Info("🛑 permit rejected", zap.String("permit_id", auth.Permit.ID), zap.String("reason", reason))
	return nil
}

// Acquire takes the posting lock, then checks the permit is still approved
// and unexpired.
func (g *Gate) Acquire(ctx context.Context, auth *posting.Authorization) (*posting.Lease, error) {
	res, err := g.lock.CheckAndLock(ctx)
	if err != nil {
		return nil, &LockError{Reason: err.Error()}
	}
	if !res.Allowed {
		return nil, &LockError{Reason: res.Reason}
	}

	permit, err := g.permits.GetPermit(ctx, auth.Permit.ID)
	if err == nil && (permit.Status != models.PermitApproved || permit.Expired(g.now())) {
		reason := ReasonPermitUnavailable
		if permit.Expired(g.now()) {
			reason = ReasonPermitExpired
		}
		err = denied(reason, "permit %s is %s", permit.ID, permit.Status)
	}
	if err != nil {
		g.lock.release(context.WithoutCancel(ctx), res.Token)
		var pd *PermitDeniedError
		if !errors.As(err, &pd) {
			err = denied(ReasonStoreUnavailable, "%v", err)
		}
		return nil, err
	}

	return &posting.Lease{
		Key:        g.lock.key,
		Token:      res.Token,
		AcquiredAt: g.now(),
		Auth:       auth,
	}, nil
}

// Sweep expires every pending or approved permit whose TTL has elapsed.
func (g *Gate) Sweep(ctx context.Context) (int64, error) {
	n, err := g.permits.ExpireStale(ctx, g.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		g.logger.Info("⌛ expired stale permits", zap.Int64("count", n))
	}
	return n, nil
}

func (g *Gate) auditDenial(ctx context.Context, intent *models.PostIntent, pd *PermitDeniedError) {
	g.logger.Warn("🚫 permit denied",
		zap.String("intent_id", intent.ID),
		zap.String("reason", pd.Reason),
		zap.String("detail", pd.Detail))
	if g.audits == nil || !wellFormedID(intent.ID) {
		return
	}
	payload, _ := json.Marshal(map[string]string{
		"reason": pd.Reason,
		"detail": pd.Detail,
		"source": intent.Provenance.Source,
		"run_id": intent.Provenance.RunID,
	})
	record := &models.AuditRecord{
		ID:        uuid.NewString(),
		IntentID:  intent.ID,
		Kind:      models.AuditPermitDenied,
		Payload:   payload,
		CreatedAt: g.now(),
	}
	if err := g.audits.InsertAudit(context.WithoutCancel(ctx), record); err != nil {
		g.logger.Warn("failed to audit denial", zap.Error(err))
	}
}

var placeholderIDs = map[string]bool{
	uuid.Nil.String(): true,
	uuid.Max.String(): true,
}

// wellFormedID accepts canonical UUIDs that are not obvious placeholders.
func wellFormedID(id string) bool {
	parsed, err := uuid.Parse(id)
	if err != nil || parsed.String() != strings.ToLower(id) {
		return false
	}
	if placeholderIDs[parsed.String()] {
		return false
	}
	hex := strings.ReplaceAll(parsed.String(), "-", "")
	return strings.Count(hex, hex[:1]) != len(hex)
}
