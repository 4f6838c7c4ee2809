package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shubh-37/x-autoposter/internal/models"
	"github.com/shubh-37/x-autoposter/internal/posting"
)

func TestRecorder_StrategyAttempt(t *testing.T) {
	r := NewRecorder()

	r.StrategyAttempt("native_thread", "", 3*time.Second)
	r.StrategyAttempt("native_thread", posting.KindCardCount, time.Second)
	r.StrategyAttempt("native_thread", posting.KindCardCount, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.strategyTotal.WithLabelValues("native_thread", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.strategyTotal.WithLabelValues("native_thread", string(posting.KindCardCount))))
	assert.Equal(t, 1, testutil.CollectAndCount(r.strategyDuration))
}

func TestRecorder_Extraction(t *testing.T) {
	r := NewRecorder()

	r.Extraction("network", true)
	r.Extraction("url", false)
	r.Extraction("url", false)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.extractionTotal.WithLabelValues("network", "hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.extractionTotal.WithLabelValues("url", "miss")))
}

func TestRecorder_Outcome(t *testing.T) {
	r := NewRecorder()
	finished := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	r.Outcome(models.PostResult{
		Success:     true,
		Mode:        models.StructureNativeThread,
		Channel:     models.ChannelBrowser,
		SegmentIDs:  []string{"1", "2", "3"},
		PostedCount: 3,
		FinishedAt:  finished,
	})
	r.Outcome(models.PostResult{
		Partial:     true,
		Mode:        models.StructureReplyChain,
		Channel:     models.ChannelHTTP,
		SegmentIDs:  []string{"4"},
		PostedCount: 1,
	})
	r.Outcome(models.Failed("intent", string(posting.KindPermitDenied), errors.New("denied")))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.outcomeTotal.WithLabelValues(models.IntentPosted, "browser", "native_thread")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.outcomeTotal.WithLabelValues(models.IntentPartial, "http", "reply_chain")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.outcomeTotal.WithLabelValues(models.IntentFailed, "none", "none")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.segmentsPosted.WithLabelValues("browser")))
	assert.Equal(t, float64(finished.Unix()), testutil.ToFloat64(r.lastSuccess))
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder()
	r.Extraction("timeline", true)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `xposter_id_extractions_total{method="timeline",result="hit"} 1`)
}

type checkFunc func(context.Context) error

func (f checkFunc) Health(ctx context.Context) error { return f(ctx) }

func TestHealthHandler(t *testing.T) {
	healthy := checkFunc(func(context.Context) error { return nil })
	down := checkFunc(func(context.Context) error { return errors.New("connection refused") })

	tests := []struct {
		name   string
		checks map[string]HealthChecker
		status int
		body   string
	}{
		{name: "no checks", status: http.StatusOK, body: "OK"},
		{name: "all healthy", checks: map[string]HealthChecker{"postgres": healthy}, status: http.StatusOK, body: "OK"},
		{name: "dependency down", checks: map[string]HealthChecker{"redis": down}, status: http.StatusServiceUnavailable, body: "redis unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			healthHandler(tt.checks, zap.NewNop())(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			res := rec.Result()
			body, _ := io.ReadAll(res.Body)
			assert.Equal(t, tt.status, res.StatusCode)
			assert.Equal(t, tt.body, string(body))
		})
	}
}

func TestServer_RunStopsWithContext(t *testing.T) {
	s := NewServer("127.0.0.1:0", NewRecorder(), nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
