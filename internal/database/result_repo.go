package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shubh-37/x-autoposter/internal/models"
)

type ResultRepository struct {
	db *DB
}

func NewResultRepository(db *DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// SaveResult stores the result of an intent. Saving again replaces it, so
// a retried persistence never duplicates the record.
func (r *ResultRepository) SaveResult(ctx context.Context, result *models.PostResult) error {
	strategiesJSON, err := json.Marshal(result.Strategies)
	if err != nil {
		return fmt.Errorf("failed to marshal strategy errors: %w", err)
	}
	segmentIDs := result.SegmentIDs
	if segmentIDs == nil {
		segmentIDs = []string{}
	}
	warnings := result.Warnings
	if warnings == nil {
		warnings = []string{}
	}

	query := `
		INSERT INTO post_results (intent_id, success, partial, mode, channel, root_id,
		                          segment_ids, segment_count, posted_count, submitted,
		                          segmentation, attempts, error_kind, error, strategies,
		                          warnings, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11, $12,
		        NULLIF($13, ''), NULLIF($14, ''), $15, $16, $17, $18)
		ON CONFLICT (intent_id) DO UPDATE SET
			success = EXCLUDED.success,
			partial = EXCLUDED.partial,
			mode = EXCLUDED.mode,
			channel = EXCLUDED.channel,
			root_id = EXCLUDED.root_id,
			segment_ids = EXCLUDED.segment_ids,
			segment_count = EXCLUDED.segment_count,
			posted_count = EXCLUDED.posted_count,
			submitted = EXCLUDED.submitted,
			segmentation = EXCLUDED.segmentation,
			attempts = EXCLUDED.attempts,
			error_kind = EXCLUDED.error_kind,
			error = EXCLUDED.error,
			strategies = EXCLUDED.strategies,
			warnings = EXCLUDED.warnings,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at
	`

	_, err = r.db.Pool.Exec(ctx, query,
		result.IntentID,
		result.Success,
		result.Partial,
		result.Mode,
		result.Channel,
		result.RootID,
		segmentIDs,
		result.SegmentCount,
		result.PostedCount,
		result.Submitted,
		result.Segmentation,
		result.Attempts,
		result.ErrorKind,
		result.Error,
		strategiesJSON,
		warnings,
		result.StartedAt,
		result.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}

	return nil
}

// RecordPerformance attaches the observed quality and engagement to a
// posted result so later format decisions can weigh them.
func (r *ResultRepository) RecordPerformance(ctx context.Context, intentID string, quality, engagement float64) error {
	query := `UPDATE post_results SET quality_score = $2, engagement_rate = $3 WHERE intent_id = $1`

	result, err := r.db.Pool.Exec(ctx, query, intentID, quality, engagement)
	if err != nil {
		return fmt.Errorf("failed to record performance: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("result for %s: %w", intentID, models.ErrNotFound)
	}

	return nil
}

// formatExpr classifies a stored result as a single post or a thread.
const formatExpr = `CASE WHEN segment_count > 1 THEN 'thread' ELSE 'single' END`

// FormatHistory returns the formats of posts published since, oldest first
func (r *ResultRepository) FormatHistory(ctx context.Context, since time.Time) ([]models.FormatRecord, error) {
	query := `
		SELECT ` + formatExpr + `, finished_at
		FROM post_results
		WHERE posted_count > 0 AND finished_at >= $1
		ORDER BY finished_at ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query format history: %w", err)
	}
	defer rows.Close()

	var history []models.FormatRecord
	for rows.Next() {
		var rec models.FormatRecord
		if err := rows.Scan(&rec.Format, &rec.At); err != nil {
			return nil, fmt.Errorf("failed to scan format history: %w", err)
		}
		history = append(history, rec)
	}

	return history, rows.Err()
}

// FormatStats aggregates attempts, successes and performance per format
// for results finished since.
func (r *ResultRepository) FormatStats(ctx context.Context, since time.Time) (map[string]models.FormatStats, error) {
	query := `
		SELECT ` + formatExpr + ` AS format,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE success AND NOT partial),
		       COALESCE(AVG(quality_score), 0)::float8,
		       COALESCE(AVG(engagement_rate), 0)::float8
		FROM post_results
		WHERE finished_at >= $1
		GROUP BY format
	`

	rows, err := r.db.Pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query format stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]models.FormatStats)
	for rows.Next() {
		var format string
		var s models.FormatStats
		if err := rows.Scan(&format, &s.Attempts, &s.Successes, &s.AvgQuality, &s.AvgEngagement); err != nil {
			return nil, fmt.Errorf("failed to scan format stats: %w", err)
		}
		stats[format] = s
	}

	return stats, rows.Err()
}

// CountPostedSince counts results that put at least one post on the platform
func (r *ResultRepository) CountPostedSince(ctx context.Context, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM post_results WHERE posted_count > 0 AND finished_at >= $1`

	var n int
	if err := r.db.Pool.QueryRow(ctx, query, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count posts: %w", err)
	}
	return n, nil
}
