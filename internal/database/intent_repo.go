package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shubh-37/x-autoposter/internal/models"
)

type IntentRepository struct {
	db *DB
}

func NewIntentRepository(db *DB) *IntentRepository {
	return &IntentRepository{db: db}
}

// CreateIntent inserts a new intent. A duplicate id is models.ErrConflict.
func (r *IntentRepository) CreateIntent(ctx context.Context, intent *models.PostIntent) error {
	if intent.ID == "" {
		intent.ID = uuid.New().String()
	}
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO post_intents (id, content, segments, mode, reply_to_id, source,
		                          build_id, run_id, test_only, status, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		intent.ID,
		intent.Content,
		intent.Segments,
		intent.Mode,
		intent.ReplyToID,
		intent.Provenance.Source,
		intent.Provenance.BuildID,
		intent.Provenance.RunID,
		intent.TestOnly,
		intent.Status,
		intent.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("intent %s: %w", intent.ID, models.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create intent: %w", err)
	}

	return nil
}

// GetIntent retrieves an intent by its ID
func (r *IntentRepository) GetIntent(ctx context.Context, id string) (*models.PostIntent, error) {
	query := `
		SELECT id, content, segments, mode, COALESCE(reply_to_id, ''), source,
		       COALESCE(build_id, ''), COALESCE(run_id, ''), test_only, status,
		       root_post_id, created_at, posted_at
		FROM post_intents
		WHERE id = $1
	`

	intent := &models.PostIntent{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&intent.ID,
		&intent.Content,
		&intent.Segments,
		&intent.Mode,
		&intent.ReplyToID,
		&intent.Provenance.Source,
		&intent.Provenance.BuildID,
		&intent.Provenance.RunID,
		&intent.TestOnly,
		&intent.Status,
		&intent.RootPostID,
		&intent.CreatedAt,
		&intent.PostedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("intent %s: %w", id, notFound(err))
	}

	return intent, nil
}

// UpdateIntentStatus records the outcome of an attempt on the intent
func (r *IntentRepository) UpdateIntentStatus(ctx context.Context, id, status string, rootPostID *string, postedAt *time.Time) error {
	query := `
		UPDATE post_intents
		SET status = $2,
		    root_post_id = COALESCE($3, root_post_id),
		    posted_at = COALESCE($4, posted_at)
		WHERE id = $1
	`

	result, err := r.db.Pool.Exec(ctx, query, id, status, rootPostID, postedAt)
	if err != nil {
		return fmt.Errorf("failed to update intent status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("intent %s: %w", id, models.ErrNotFound)
	}

	return nil
}
