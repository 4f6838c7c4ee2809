package guard

import (
	"context"
	"time"

	"github.com/shubh-37/x-autoposter/internal/models"
)

// IntentStore is the durable record of registered intents.
type IntentStore interface {
	CreateIntent(ctx context.Context, intent *models.PostIntent) error
	GetIntent(ctx context.Context, id string) (*models.PostIntent, error)
	UpdateIntentStatus(ctx context.Context, id, status string, rootPostID *string, postedAt *time.Time) error
}

// PermitStore persists permits. Transition is a status-conditional update
// and returns models.ErrConflict when the permit is no longer in from.
type PermitStore interface {
	CreatePermit(ctx context.Context, permit *models.Permit) error
	GetPermit(ctx context.Context, id string) (*models.Permit, error)
	ActivePermit(ctx context.Context, intentID string) (*models.Permit, error)
	Transition(ctx context.Context, id string, from, to models.PermitStatus, reason string) error
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

// ResultStore keeps the one result of an intent.
type ResultStore interface {
	SaveResult(ctx context.Context, result *models.PostResult) error
}

type AuditStore interface {
	InsertAudit(ctx context.Context, record *models.AuditRecord) error
}

// RootVerifier inspects the platform to tell whether a post is a root post.
type RootVerifier interface {
	IsRoot(ctx context.Context, postID string) (bool, error)
}

// Alerter delivers out-of-band alerts to an operator.
type Alerter interface {
	Alert(ctx context.Context, subject string, fields map[string]string) error
}
