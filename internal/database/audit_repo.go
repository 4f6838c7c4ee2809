package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shubh-37/x-autoposter/internal/models"
)

type AuditRepository struct {
	db *DB
}

func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// InsertAudit appends an audit record
func (r *AuditRepository) InsertAudit(ctx context.Context, record *models.AuditRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO posting_audit (id, intent_id, kind, payload, created_at)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		record.ID,
		record.IntentID,
		record.Kind,
		[]byte(record.Payload),
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}

	return nil
}

// ListAudit returns the audit trail of an intent, oldest first
func (r *AuditRepository) ListAudit(ctx context.Context, intentID string) ([]*models.AuditRecord, error) {
	query := `
		SELECT id, COALESCE(intent_id::text, ''), kind, payload, created_at
		FROM posting_audit
		WHERE intent_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, intentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	var records []*models.AuditRecord
	for rows.Next() {
		rec := &models.AuditRecord{}
		var payload []byte
		if err := rows.Scan(&rec.ID, &rec.IntentID, &rec.Kind, &payload, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		rec.Payload = payload
		records = append(records, rec)
	}

	return records, rows.Err()
}
