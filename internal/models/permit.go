package models

import "time"

// PermitStatus is the lifecycle state of a Permit
type PermitStatus string

const (
	PermitPending  PermitStatus = "pending"
	PermitApproved PermitStatus = "approved"
	PermitUsed     PermitStatus = "used"
	PermitRejected PermitStatus = "rejected"
	PermitExpired  PermitStatus = "expired"
)

// Terminal reports whether the status can never change again
func (s PermitStatus) Terminal() bool {
	switch s {
	case PermitUsed, PermitRejected, PermitExpired:
		return true
	}
	return false
}

// Permit is a time-bounded authorization to execute one PostIntent
type Permit struct {
	ID         string       `json:"id"`
	IntentID   string       `json:"intent_id"`
	Status     PermitStatus `json:"status"`
	Reason     string       `json:"reason,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	ApprovedAt *time.Time   `json:"approved_at,omitempty"`
	ExpiresAt  time.Time    `json:"expires_at"`
	UsedAt     *time.Time   `json:"used_at,omitempty"`
}

// NewPermit creates a pending permit that lapses after ttl
func NewPermit(intentID string, ttl time.Duration) *Permit {
	now := time.Now()
	return &Permit{
		IntentID:  intentID,
		Status:    PermitPending,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Expired reports whether the permit's TTL has elapsed at now
func (p *Permit) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// Active reports whether the permit can still be approved or consumed
func (p *Permit) Active(now time.Time) bool {
	return (p.Status == PermitPending || p.Status == PermitApproved) && !p.Expired(now)
}
