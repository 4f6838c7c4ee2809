package models

import (
	"encoding/json"
	"time"
)

// Audit record kinds
const (
	AuditPersistenceFallback = "persistence_fallback"
	AuditPermitDenied        = "permit_denied"
	AuditUnconfirmedPost     = "unconfirmed_post"
)

// AuditRecord is an append-only trace of something that must not be lost
type AuditRecord struct {
	ID        string          `json:"id"`
	IntentID  string          `json:"intent_id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
