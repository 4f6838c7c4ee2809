package guard

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shubh-37/x-autoposter/internal/models"
	"github.com/shubh-37/x-autoposter/internal/posting"
)

var fallbackMu sync.Mutex

// Complete consumes the permit, records the post time, persists the result
// and releases the lock. Failures to persist never flip result.Success; they
// are recorded as warnings, written to the audit trail and alerted on.
func (g *Gate) Complete(ctx context.Context, lease *posting.Lease, result *models.PostResult) {
	ctx = context.WithoutCancel(ctx)
	defer g.lock.release(ctx, lease.Token)

	permit := lease.Auth.Permit
	now := g.now()
	if err := g.permits.Transition(ctx, permit.ID, models.PermitApproved, models.PermitUsed, result.ErrorKind); err != nil {
		g.logger.Error("failed to consume permit", zap.String("permit_id", permit.ID), zap.Error(err))
		result.Warnings = append(result.Warnings, fmt.Sprintf("permit %s not marked used: %v", permit.ID, err))
	} else {
		permit.Status = models.PermitUsed
		permit.UsedAt = &now
	}

	if result.AnyPosted() {
		if err := g.lock.MarkPosted(ctx, now); err != nil {
			g.logger.Error("failed to record post time", zap.Error(err))
			result.Warnings = append(result.Warnings, err.Error())
		}
	}

	if result.Submitted && len(result.SegmentIDs) == 0 {
		g.audit(ctx, result.IntentID, models.AuditUnconfirmedPost, result)
		g.alert(ctx, "Post submitted without a confirmed id", result)
	}

	if err := g.persist(ctx, result); err != nil {
		g.logger.Error("❌ failed to persist result", zap.String("intent_id", result.IntentID), zap.Error(err))
		result.Warnings = append(result.Warnings, "result not persisted: "+err.Error())
		g.audit(ctx, result.IntentID, models.AuditPersistenceFallback, result)
		g.alert(ctx, "Posting result could not be persisted", result)
	}

	g.logger.Info("🏁 attempt completed",
		zap.String("intent_id", result.IntentID),
		zap.Bool("success", result.Success),
		zap.Bool("partial", result.Partial),
		zap.Int("posted", result.PostedCount),
		zap.Duration("held", now.Sub(lease.AcquiredAt)))
}

// persist saves the result and the intent status with exponential backoff.
func (g *Gate) persist(ctx context.Context, result *models.PostResult) error {
	var rootID *string
	var postedAt *time.Time
	if result.RootID != "" {
		rootID = &result.RootID
	}
	if result.AnyPosted() {
		at := result.FinishedAt
		postedAt = &at
	}

	op := func() error {
		if err := g.results.SaveResult(ctx, result); err != nil {
			return err
		}
		err := g.intents.UpdateIntentStatus(ctx, result.IntentID, result.IntentStatus(), rootID, postedAt)
		if errors.Is(err, models.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.cfg.PersistBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, g.cfg.PersistAttempts-1), ctx)

	return backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		g.logger.Warn("retrying result persistence", zap.Error(err), zap.Duration("backoff", wait))
	})
}

// audit writes an audit record to the store, falling back to the JSONL file.
func (g *Gate) audit(ctx context.Context, intentID, kind string, result *models.PostResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		g.logger.Error("failed to encode audit payload", zap.Error(err))
		return
	}
	record := &models.AuditRecord{
		ID:        uuid.NewString(),
		IntentID:  intentID,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: g.now(),
	}

	if g.audits != nil {
		err = g.audits.InsertAudit(ctx, record)
		if err == nil {
			return
		}
		g.logger.Warn("audit store unavailable, using fallback file", zap.Error(err))
	}
	if err := g.appendFallback(record); err != nil {
		g.logger.Error("🚨 audit record lost", zap.String("intent_id", intentID), zap.String("kind", kind), zap.Error(err))
	}
}

func (g *Gate) appendFallback(record *models.AuditRecord) error {
	if g.cfg.AuditFallbackFile == "" {
		return errors.New("no audit fallback file configured")
	}
	line, err := json.Marshal(record)
	if err != nil {
		return err
	}

	fallbackMu.Lock()
	defer fallbackMu.Unlock()

	f, err := os.OpenFile(g.cfg.AuditFallbackFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	w.Write(line)
	w.WriteByte('\n')
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (g *Gate) alert(ctx context.Context, subject string, result *models.PostResult) {
	if g.alerter == nil {
		return
	}
	fields := map[string]string{
		"intent":    result.IntentID,
		"success":   strconv.FormatBool(result.Success),
		"submitted": strconv.FormatBool(result.Submitted),
		"posted":    strconv.Itoa(result.PostedCount),
		"channel":   string(result.Channel),
	}
	if len(result.SegmentIDs) > 0 {
		fields["ids"] = strings.Join(result.SegmentIDs, ",")
	}
	if result.Error != "" {
		fields["error"] = result.Error
	}
	if err := g.alerter.Alert(ctx, subject, fields); err != nil {
		g.logger.Error("failed to send alert", zap.String("subject", subject), zap.Error(err))
	}
}
