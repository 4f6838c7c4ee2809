package guard

import (
	"fmt"

	"github.com/shubh-37/x-autoposter/internal/posting"
)

// Denial reasons reported by Authorize and Acquire.
const (
	ReasonOriginNotAllowed    = "origin_not_allowed"
	ReasonInvalidIntentID     = "invalid_intent_id"
	ReasonIntentNotRegistered = "intent_not_registered"
	ReasonIntentModified      = "intent_modified"
	ReasonAlreadyPosted       = "already_posted"
	ReasonUnsafeContent       = "unsafe_content"
	ReasonTargetNotRoot       = "target_not_root"
	ReasonTargetUnverifiable  = "target_unverifiable"
	ReasonPermitUnavailable   = "permit_unavailable"
	ReasonPermitExpired       = "permit_expired"
	ReasonStoreUnavailable    = "store_unavailable"
)

// ReasonLockHeld is the contention reason callers match on.
const ReasonLockHeld = "Another post is already in progress"

// PermitDeniedError is a hard stop: the intent must not be posted.
type PermitDeniedError struct {
	Reason string
	Detail string
}

func (e *PermitDeniedError) Error() string {
	if e.Detail == "" {
		return "permit denied: " + e.Reason
	}
	return fmt.Sprintf("permit denied: %s: %s", e.Reason, e.Detail)
}

func (e *PermitDeniedError) ErrorKind() posting.ErrorKind { return posting.KindPermitDenied }

func denied(reason, format string, args ...any) *PermitDeniedError {
	return &PermitDeniedError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// LockError means another attempt holds the posting lock or the minimum
// interval has not elapsed. It is retryable later.
type LockError struct {
	Reason string
}

func (e *LockError) Error() string { return "posting lock not acquired: " + e.Reason }

func (e *LockError) ErrorKind() posting.ErrorKind { return posting.KindLockContention }
