// Package metrics exposes posting telemetry in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shubh-37/x-autoposter/internal/models"
	"github.com/shubh-37/x-autoposter/internal/posting"
)

const namespace = "xposter"

var _ posting.Recorder = (*Recorder)(nil)

// Recorder implements posting.Recorder on its own registry so several
// instances can coexist in tests.
type Recorder struct {
	registry *prometheus.Registry

	strategyDuration *prometheus.HistogramVec
	strategyTotal    *prometheus.CounterVec
	extractionTotal  *prometheus.CounterVec
	outcomeTotal     *prometheus.CounterVec
	segmentsPosted   *prometheus.CounterVec
	lastSuccess      prometheus.Gauge
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		strategyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "strategy_duration_seconds",
				Help:      "Time spent in one posting strategy attempt.",
				Buckets:   []float64{1, 2.5, 5, 10, 20, 40, 80, 160},
			},
			[]string{"strategy"},
		),
		strategyTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "strategy_attempts_total",
				Help:      "Posting strategy attempts by result kind.",
			},
			[]string{"strategy", "kind"}, // kind is "ok" on success
		),
		extractionTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "id_extractions_total",
				Help:      "Post identifier extraction attempts by method.",
			},
			[]string{"method", "result"},
		),
		outcomeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "posts_total",
				Help:      "Finished posting requests by status and channel.",
			},
			[]string{"status", "channel", "mode"},
		),
		segmentsPosted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "segments_posted_total",
				Help:      "Segments confirmed on the platform.",
			},
			[]string{"channel"},
		),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last fully successful post.",
		}),
	}

	r.registry.MustRegister(
		r.strategyDuration, r.strategyTotal, r.extractionTotal,
		r.outcomeTotal, r.segmentsPosted, r.lastSuccess,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) StrategyAttempt(strategy string, kind posting.ErrorKind, took time.Duration) {
	label := string(kind)
	if label == "" {
		label = "ok"
	}
	r.strategyTotal.WithLabelValues(strategy, label).Inc()
	r.strategyDuration.WithLabelValues(strategy).Observe(took.Seconds())
}

func (r *Recorder) Extraction(method string, ok bool) {
	result := "miss"
	if ok {
		result = "hit"
	}
	r.extractionTotal.WithLabelValues(method, result).Inc()
}

func (r *Recorder) Outcome(result models.PostResult) {
	channel := string(result.Channel)
	if channel == "" {
		channel = "none"
	}
	mode := string(result.Mode)
	if mode == "" {
		mode = "none"
	}

	status := result.IntentStatus()
	if result.DryRun {
		status = "dry_run"
	}
	r.outcomeTotal.WithLabelValues(status, channel, mode).Inc()

	if result.PostedCount > 0 {
		r.segmentsPosted.WithLabelValues(channel).Add(float64(result.PostedCount))
	}
	if result.Success && !result.Partial && !result.DryRun {
		finished := result.FinishedAt
		if finished.IsZero() {
			finished = time.Now()
		}
		r.lastSuccess.Set(float64(finished.Unix()))
	}
}

// Handler serves the registry for scraping.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry exposes the underlying registry for callers that add collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}
