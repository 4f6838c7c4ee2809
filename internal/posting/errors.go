package posting

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a posting failure so callers can decide between retry,
// fallback and hard stop.
type ErrorKind string

const (
	KindFocus          ErrorKind = "focus_failure"
	KindVerification   ErrorKind = "verification_failure"
	KindSubmission     ErrorKind = "submission_failure"
	KindExtraction     ErrorKind = "identifier_extraction_failure"
	KindCardCount      ErrorKind = "card_count_mismatch"
	KindThreadGuard    ErrorKind = "thread_guard_violation"
	KindPermitDenied   ErrorKind = "permit_denied"
	KindLockContention ErrorKind = "lock_contention"
	KindTimeout        ErrorKind = "timeout_exceeded"
	KindPersistence    ErrorKind = "persistence_failure"
	KindCadence        ErrorKind = "cadence_blocked"
	KindNavigation     ErrorKind = "navigation_failure"
	KindChannel        ErrorKind = "channel_failure"
	KindInvalidIntent  ErrorKind = "invalid_intent"
)

var (
	ErrFocus           = errors.New("COMPOSER_FOCUS_FAILED")
	ErrVerification    = errors.New("composed text does not match expected content")
	ErrSubmission      = errors.New("no usable submit control")
	ErrExtraction      = errors.New("all identifier extraction strategies exhausted")
	ErrCardCount       = errors.New("native thread card count mismatch")
	ErrThreadGuard     = errors.New("multi-segment content produced a single segment")
	ErrTimeout         = errors.New("posting timeout exceeded")
	ErrNavigation      = errors.New("navigation failed")
	ErrChannel         = errors.New("posting channel unavailable")
	ErrStrategySkipped = errors.New("strategy does not apply")
	ErrInvalidIntent   = errors.New("intent cannot be posted as given")
)

var kindSentinels = map[ErrorKind]error{
	KindFocus:         ErrFocus,
	KindVerification:  ErrVerification,
	KindSubmission:    ErrSubmission,
	KindExtraction:    ErrExtraction,
	KindCardCount:     ErrCardCount,
	KindThreadGuard:   ErrThreadGuard,
	KindTimeout:       ErrTimeout,
	KindNavigation:    ErrNavigation,
	KindChannel:       ErrChannel,
	KindInvalidIntent: ErrInvalidIntent,
}

// StageError is a failure inside one stage of composing or threading.
type StageError struct {
	Kind  ErrorKind
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s at %s", e.Kind, e.Stage)
	}
	return fmt.Sprintf("%s at %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrFocus) match any focus StageError.
func (e *StageError) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

func stageErr(kind ErrorKind, stage string, err error) *StageError {
	return &StageError{Kind: kind, Stage: stage, Err: err}
}

// KindOf maps any error to its ErrorKind. Context deadline errors count as
// timeouts; unknown errors are reported as channel failures.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var stage *StageError
	if errors.As(err, &stage) {
		return stage.Kind
	}
	var kinded interface{ ErrorKind() ErrorKind }
	if errors.As(err, &kinded) {
		return kinded.ErrorKind()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindChannel
}

// Retryable reports whether a failure of this kind may be retried or fall back
// to another strategy. Policy violations and structural corruption are final.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindThreadGuard, KindPermitDenied, KindTimeout, KindInvalidIntent, KindCadence:
		return false
	}
	// KindCardCount stays retryable: the composer detects it before submitting,
	// so nothing is published and reply-chain can still post the thread.
	return true
}
