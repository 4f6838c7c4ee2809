package posting

import (
	"context"
	"time"

	"github.com/shubh-37/x-autoposter/internal/models"
)

// Authorization is an approved permit together with the content that passed
// the safety check. Content replaces the caller's raw text.
type Authorization struct {
	Permit   *models.Permit
	Intent   *models.PostIntent
	Content  string
	Segments []string // sanitized pre-split segments, if the intent has any
}

// Lease is a held posting lock. Token proves ownership on release.
type Lease struct {
	Key        string
	Token      string
	AcquiredAt time.Time
	Auth       *Authorization
}

// Gate is the single authorization layer in front of every posting attempt.
// guard.Gate is the production implementation.
type Gate interface {
	// Authorize runs every pre-execution check and approves the intent's permit.
	Authorize(ctx context.Context, intent *models.PostIntent) (*Authorization, error)
	// Reject retires an approved permit after a policy stop before execution.
	Reject(ctx context.Context, auth *Authorization, reason string) error
	// Acquire takes the posting lock and applies the minimum interval.
	Acquire(ctx context.Context, auth *Authorization) (*Lease, error)
	// Complete consumes the permit, persists the result and releases the
	// lock. It may append warnings to result but never flips its success.
	Complete(ctx context.Context, lease *Lease, result *models.PostResult)
}

// CadencePolicy supplies when posting is allowed and which format to prefer.
type CadencePolicy interface {
	Allowed(ctx context.Context, now time.Time) (bool, string)
	PreferredFormat(ctx context.Context, now time.Time) (FormatDecision, error)
}
