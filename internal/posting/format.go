package posting

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shubh-37/x-autoposter/config"
	"github.com/shubh-37/x-autoposter/internal/models"
)

// Context score adjustments.
const (
	contextBase           = 0.5
	urgencyBonus          = 0.2
	engagementBonus       = 0.15
	keywordBonus          = 0.15
	overuseShare          = 0.6
	overusePenalty        = 0.2
	contextWeight         = 0.2
	defaultHistoryWin     = 10
	defaultEngagementNorm = 5.0
)

var formatKeywords = map[string][]string{
	models.FormatThread: {"guide", "how to", "lessons", "breakdown", "step", "story", "deep dive", "explained"},
	models.FormatSingle: {"announcement", "news", "quick", "update", "reminder", "launch"},
}

// FormatPolicy holds the tunables of the format decision.
type FormatPolicy struct {
	MinInterval       map[string]time.Duration
	MaxConsecutive    int
	PerformanceWeight float64
	DiversityWeight   float64
	HistoryWindow     int
	EngagementNorm    float64 // engagement percent treated as a perfect score
}

func NewFormatPolicy(cfg config.FormatConfig) FormatPolicy {
	return FormatPolicy{
		MinInterval: map[string]time.Duration{
			models.FormatSingle: cfg.MinIntervalSingle,
			models.FormatThread: cfg.MinIntervalThread,
		},
		MaxConsecutive:    cfg.MaxConsecutive,
		PerformanceWeight: cfg.PerformanceWeight,
		DiversityWeight:   cfg.DiversityWeight,
		HistoryWindow:     defaultHistoryWin,
		EngagementNorm:    defaultEngagementNorm,
	}
}

// FormatContext is the state the decision is made over. History is ordered
// oldest first.
type FormatContext struct {
	Formats          []string
	History          []models.FormatRecord
	Stats            map[string]models.FormatStats
	Urgency          string // "high", "normal" or "low"
	TargetEngagement string // "high" asks for formats that drive replies
	Topic            string
}

type FormatDecision struct {
	Format     string             `json:"format"`
	Confidence float64            `json:"confidence"`
	Reasoning  string             `json:"reasoning"`
	Scores     map[string]float64 `json:"scores"`
	Blocked    map[string]string  `json:"blocked,omitempty"`
}

// DecideFormat picks the best available format. When every format is
// blocked it returns the one whose cooldown ends first with a floor
// confidence and the block reasons, leaving the caller to decide whether to
// wait.
func DecideFormat(fc FormatContext, policy FormatPolicy, now time.Time) FormatDecision {
	formats := fc.Formats
	if len(formats) == 0 {
		formats = []string{models.FormatSingle, models.FormatThread}
	}

	decision := FormatDecision{
		Scores:  make(map[string]float64),
		Blocked: make(map[string]string),
	}

	var available []string
	for _, f := range formats {
		if reason := blockReason(f, fc.History, policy, now); reason != "" {
			decision.Blocked[f] = reason
			continue
		}
		available = append(available, f)
	}

	if len(available) == 0 {
		decision.Format = soonestAvailable(formats, fc.History, policy, now)
		decision.Confidence = 0.3
		decision.Reasoning = "all formats blocked; " + joinReasons(decision.Blocked)
		return decision
	}

	type scored struct {
		format            string
		total             float64
		perf, div, ctxScr float64
	}
	var ranked []scored
	for _, f := range available {
		perf := performanceScore(fc.Stats[f], policy.EngagementNorm)
		div := diversityScore(f, fc.History, policy.HistoryWindow)
		ctxScr := contextScore(f, fc)
		total := policy.PerformanceWeight*perf + policy.DiversityWeight*div + contextWeight*ctxScr
		decision.Scores[f] = round3(total)
		ranked = append(ranked, scored{format: f, total: total, perf: perf, div: div, ctxScr: ctxScr})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].total > ranked[j].total })

	best := ranked[0]
	gap := best.total
	if len(ranked) > 1 {
		gap = best.total - ranked[1].total
	}
	decision.Format = best.format
	decision.Confidence = round3(clamp(0.5+gap, 0.3, 0.95))
	decision.Reasoning = fmt.Sprintf("%s scored %.2f (performance %.2f, diversity %.2f, context %.2f)",
		best.format, best.total, best.perf, best.div, best.ctxScr)
	if len(decision.Blocked) > 0 {
		decision.Reasoning += "; " + joinReasons(decision.Blocked)
	}
	return decision
}

func blockReason(format string, history []models.FormatRecord, policy FormatPolicy, now time.Time) string {
	if last, ok := lastUse(format, history); ok {
		if wait := policy.MinInterval[format] - now.Sub(last); wait > 0 {
			return fmt.Sprintf("cooldown: %s remaining", wait.Round(time.Minute))
		}
	}
	if policy.MaxConsecutive > 0 && trailingRun(format, history) >= policy.MaxConsecutive {
		return fmt.Sprintf("used %d times in a row (max %d)", trailingRun(format, history), policy.MaxConsecutive)
	}
	return ""
}

func lastUse(format string, history []models.FormatRecord) (time.Time, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Format == format {
			return history[i].At, true
		}
	}
	return time.Time{}, false
}

func trailingRun(format string, history []models.FormatRecord) int {
	n := 0
	for i := len(history) - 1; i >= 0 && history[i].Format == format; i-- {
		n++
	}
	return n
}

func soonestAvailable(formats []string, history []models.FormatRecord, policy FormatPolicy, now time.Time) string {
	best, bestWait := formats[0], time.Duration(math.MaxInt64)
	for _, f := range formats {
		var wait time.Duration
		if last, ok := lastUse(f, history); ok {
			wait = policy.MinInterval[f] - now.Sub(last)
		}
		if wait < bestWait {
			best, bestWait = f, wait
		}
	}
	return best
}

// performanceScore blends success rate, quality and engagement. A format
// with no attempts scores neutral so it can be explored.
func performanceScore(stats models.FormatStats, engagementNorm float64) float64 {
	if stats.Attempts == 0 {
		return 0.5
	}
	if engagementNorm <= 0 {
		engagementNorm = defaultEngagementNorm
	}
	return 0.5*stats.SuccessRate() + 0.3*clamp(stats.AvgQuality/100, 0, 1) + 0.2*math.Min(stats.AvgEngagement/engagementNorm, 1)
}

// diversityScore rewards formats that were rare in the trailing window.
func diversityScore(format string, history []models.FormatRecord, window int) float64 {
	if window <= 0 {
		window = defaultHistoryWin
	}
	if len(history) > window {
		history = history[len(history)-window:]
	}
	if len(history) == 0 {
		return 1
	}
	uses := 0
	for _, h := range history {
		if h.Format == format {
			uses++
		}
	}
	share := float64(uses) / float64(len(history))
	score := 1 - share
	if share > overuseShare {
		score -= overusePenalty
	}
	return clamp(score, 0, 1)
}

func contextScore(format string, fc FormatContext) float64 {
	score := contextBase
	switch strings.ToLower(fc.Urgency) {
	case "high":
		if format == models.FormatSingle {
			score += urgencyBonus
		} else {
			score -= urgencyBonus
		}
	case "low":
		if format == models.FormatThread {
			score += urgencyBonus / 2
		}
	}
	if strings.EqualFold(fc.TargetEngagement, "high") && format == models.FormatThread {
		score += engagementBonus
	}
	topic := strings.ToLower(fc.Topic)
	for _, kw := range formatKeywords[format] {
		if topic != "" && strings.Contains(topic, kw) {
			score += keywordBonus
			break
		}
	}
	return clamp(score, 0, 1)
}

func joinReasons(blocked map[string]string) string {
	keys := make([]string, 0, len(blocked))
	for k := range blocked {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" blocked ("+blocked[k]+")")
	}
	return strings.Join(parts, ", ")
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
