package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/shubh-37/x-autoposter/internal/models"
)

type PermitRepository struct {
	db *DB
}

func NewPermitRepository(db *DB) *PermitRepository {
	return &PermitRepository{db: db}
}

const permitColumns = `id, intent_id, status, COALESCE(reason, ''), created_at, approved_at, expires_at, used_at`

func scanPermit(row pgx.Row) (*models.Permit, error) {
	p := &models.Permit{}
	err := row.Scan(
		&p.ID,
		&p.IntentID,
		&p.Status,
		&p.Reason,
		&p.CreatedAt,
		&p.ApprovedAt,
		&p.ExpiresAt,
		&p.UsedAt,
	)
	return p, err
}

// CreatePermit inserts a pending permit. The partial unique index on live
// permits turns a second live permit for one intent into models.ErrConflict.
func (r *PermitRepository) CreatePermit(ctx context.Context, permit *models.Permit) error {
	query := `
		INSERT INTO permits (id, intent_id, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		permit.ID,
		permit.IntentID,
		permit.Status,
		permit.CreatedAt,
		permit.ExpiresAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("intent %s already has a live permit: %w", permit.IntentID, models.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create permit: %w", err)
	}

	return nil
}

// GetPermit retrieves a permit by its ID
func (r *PermitRepository) GetPermit(ctx context.Context, id string) (*models.Permit, error) {
	query := `SELECT ` + permitColumns + ` FROM permits WHERE id = $1`

	p, err := scanPermit(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("permit %s: %w", id, notFound(err))
	}
	return p, nil
}

// ActivePermit returns the intent's pending or approved permit
func (r *PermitRepository) ActivePermit(ctx context.Context, intentID string) (*models.Permit, error) {
	query := `
		SELECT ` + permitColumns + `
		FROM permits
		WHERE intent_id = $1 AND status IN ('pending', 'approved')
		ORDER BY created_at DESC
		LIMIT 1
	`

	p, err := scanPermit(r.db.Pool.QueryRow(ctx, query, intentID))
	if err != nil {
		return nil, fmt.Errorf("active permit for %s: %w", intentID, notFound(err))
	}
	return p, nil
}

// Transition moves a permit from one status to another in a single
// conditional update. It returns models.ErrConflict when the permit is no
// longer in from.
func (r *PermitRepository) Transition(ctx context.Context, id string, from, to models.PermitStatus, reason string) error {
	query := `
		UPDATE permits
		SET status = $3,
		    reason = NULLIF($4, ''),
		    approved_at = CASE WHEN $3 = 'approved' THEN NOW() ELSE approved_at END,
		    used_at = CASE WHEN $3 = 'used' THEN NOW() ELSE used_at END
		WHERE id = $1 AND status = $2
	`

	result, err := r.db.Pool.Exec(ctx, query, id, from, to, reason)
	if err != nil {
		return fmt.Errorf("failed to transition permit: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("permit %s is not %s: %w", id, from, models.ErrConflict)
	}

	return nil
}

// ExpireStale marks every live permit past its expiry as expired
func (r *PermitRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE permits
		SET status = 'expired', reason = 'ttl elapsed'
		WHERE status IN ('pending', 'approved') AND expires_at <= $1
	`

	result, err := r.db.Pool.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire permits: %w", err)
	}

	return result.RowsAffected(), nil
}
