package database

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shubh-37/x-autoposter/internal/models"
)

// setupTestDB connects to TEST_DATABASE_URL and runs migrations. Tests are
// skipped when no test database is configured.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := NewDB(ctx, dsn, zap.NewNop())
	require.NoError(t, err, "Failed to connect to test database")
	require.NoError(t, db.Migrate(ctx), "Failed to run migrations")
	t.Cleanup(db.Close)
	return db
}

func newRegisteredIntent(t *testing.T, db *DB) *models.PostIntent {
	t.Helper()
	intent := models.NewPostIntent("integration test post", models.ModeSingle, models.Provenance{Source: "cli", RunID: "it"})
	intent.ID = uuid.NewString()
	intent.TestOnly = true
	require.NoError(t, NewIntentRepository(db).CreateIntent(context.Background(), intent))
	t.Cleanup(func() {
		db.Pool.Exec(context.Background(), "DELETE FROM post_intents WHERE id = $1", intent.ID)
	})
	return intent
}

func TestIntentRepository_RoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := NewIntentRepository(db)
	intent := newRegisteredIntent(t, db)

	got, err := repo.GetIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, intent.Content, got.Content)
	assert.Equal(t, models.ModeSingle, got.Mode)
	assert.Equal(t, "cli", got.Provenance.Source)
	assert.True(t, got.TestOnly)
	assert.Equal(t, models.IntentRegistered, got.Status)

	err = repo.CreateIntent(ctx, intent)
	assert.ErrorIs(t, err, models.ErrConflict)

	root := "1790000000000000001"
	now := time.Now()
	require.NoError(t, repo.UpdateIntentStatus(ctx, intent.ID, models.IntentPosted, &root, &now))
	got, err = repo.GetIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IntentPosted, got.Status)
	require.NotNil(t, got.RootPostID)
	assert.Equal(t, root, *got.RootPostID)

	_, err = repo.GetIntent(ctx, uuid.NewString())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestPermitRepository_ConditionalTransitions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := NewPermitRepository(db)
	intent := newRegisteredIntent(t, db)

	permit := models.NewPermit(intent.ID, time.Minute)
	permit.ID = uuid.NewString()
	require.NoError(t, repo.CreatePermit(ctx, permit))

	second := models.NewPermit(intent.ID, time.Minute)
	second.ID = uuid.NewString()
	assert.ErrorIs(t, repo.CreatePermit(ctx, second), models.ErrConflict, "one live permit per intent")

	require.NoError(t, repo.Transition(ctx, permit.ID, models.PermitPending, models.PermitApproved, ""))
	assert.ErrorIs(t, repo.Transition(ctx, permit.ID, models.PermitPending, models.PermitApproved, ""), models.ErrConflict)

	active, err := repo.ActivePermit(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PermitApproved, active.Status)
	assert.NotNil(t, active.ApprovedAt)

	require.NoError(t, repo.Transition(ctx, permit.ID, models.PermitApproved, models.PermitUsed, ""))
	_, err = repo.ActivePermit(ctx, intent.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	got, err := repo.GetPermit(ctx, permit.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PermitUsed, got.Status)
	assert.NotNil(t, got.UsedAt)
}

func TestPermitRepository_ExpireStale(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := NewPermitRepository(db)
	intent := newRegisteredIntent(t, db)

	permit := models.NewPermit(intent.ID, time.Minute)
	permit.ID = uuid.NewString()
	require.NoError(t, repo.CreatePermit(ctx, permit))

	n, err := repo.ExpireStale(ctx, time.Now().Add(2*time.Minute))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	got, err := repo.GetPermit(ctx, permit.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PermitExpired, got.Status)
}

func TestResultRepository_SaveIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := NewResultRepository(db)
	intent := newRegisteredIntent(t, db)
	start := time.Now().Add(-time.Minute)

	result := &models.PostResult{
		IntentID:     intent.ID,
		Success:      true,
		Mode:         models.StructureReplyChain,
		Channel:      models.ChannelBrowser,
		RootID:       "1790000000000000001",
		SegmentIDs:   []string{"1790000000000000001", "1790000000000000002"},
		SegmentCount: 2,
		PostedCount:  2,
		Submitted:    true,
		Attempts:     1,
		Strategies:   []models.StrategyError{{Strategy: "native_thread", Kind: "focus_failure", Message: "COMPOSER_FOCUS_FAILED"}},
		StartedAt:    start,
		FinishedAt:   time.Now(),
	}
	require.NoError(t, repo.SaveResult(ctx, result))
	require.NoError(t, repo.SaveResult(ctx, result))

	require.NoError(t, repo.RecordPerformance(ctx, intent.ID, 80, 2.5))

	stats, err := repo.FormatStats(ctx, start)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats[models.FormatThread].Attempts, 1)

	history, err := repo.FormatHistory(ctx, start)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, models.FormatThread, history[len(history)-1].Format)

	n, err := repo.CountPostedSince(ctx, start)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
}

func TestAuditRepository_InsertAndList(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := NewAuditRepository(db)
	intent := newRegisteredIntent(t, db)
	t.Cleanup(func() {
		db.Pool.Exec(context.Background(), "DELETE FROM posting_audit WHERE intent_id = $1", intent.ID)
	})

	payload, _ := json.Marshal(map[string]string{"reason": "target_not_root"})
	require.NoError(t, repo.InsertAudit(ctx, &models.AuditRecord{
		IntentID: intent.ID,
		Kind:     models.AuditPermitDenied,
		Payload:  payload,
	}))

	records, err := repo.ListAudit(ctx, intent.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.AuditPermitDenied, records[0].Kind)
	assert.JSONEq(t, string(payload), string(records[0].Payload))
}
