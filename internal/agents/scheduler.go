package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shubh-37/x-autoposter/config"
	"github.com/shubh-37/x-autoposter/internal/models"
	"github.com/shubh-37/x-autoposter/internal/posting"
)

// History is the posting record the scheduler decides over.
// database.ResultRepository implements it.
type History interface {
	FormatHistory(ctx context.Context, since time.Time) ([]models.FormatRecord, error)
	FormatStats(ctx context.Context, since time.Time) (map[string]models.FormatStats, error)
	CountPostedSince(ctx context.Context, since time.Time) (int, error)
}

// Hints steer the format decision for the content about to be posted.
type Hints struct {
	Urgency          string
	TargetEngagement string
	Topic            string
}

const (
	historyLookback = 7 * 24 * time.Hour
	statsLookback   = 30 * 24 * time.Hour
)

// SchedulerAgent is the cadence policy: it enforces the daily posting
// window and budget, and picks the preferred format from posting history.
type SchedulerAgent struct {
	history     History
	policy      posting.FormatPolicy
	postsPerDay int
	windowStart time.Duration // offset from local midnight
	windowEnd   time.Duration
	location    *time.Location
	hints       Hints
	logger      *zap.Logger
}

var _ posting.CadencePolicy = (*SchedulerAgent)(nil)

func NewSchedulerAgent(history History, cfg config.CadenceConfig, policy posting.FormatPolicy, logger *zap.Logger) (*SchedulerAgent, error) {
	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}

	start, end, err := parseWindow(cfg.PostingWindow)
	if err != nil {
		return nil, err
	}

	return &SchedulerAgent{
		history:     history,
		policy:      policy,
		postsPerDay: cfg.PostsPerDay,
		windowStart: start,
		windowEnd:   end,
		location:    location,
		logger:      logger.Named("scheduler"),
	}, nil
}

// WithHints returns a copy of the scheduler that decides formats for
// content with the given hints.
func (s *SchedulerAgent) WithHints(h Hints) *SchedulerAgent {
	cp := *s
	cp.hints = h
	return &cp
}

// Allowed reports whether a post may go out at now. Errors reading the
// history block posting.
func (s *SchedulerAgent) Allowed(ctx context.Context, now time.Time) (bool, string) {
	local := now.In(s.location)
	if !s.inWindow(local) {
		return false, fmt.Sprintf("outside posting window %s-%s %s",
			formatOffset(s.windowStart), formatOffset(s.windowEnd), s.location)
	}

	if s.postsPerDay <= 0 {
		return true, ""
	}

	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.location)
	posted, err := s.history.CountPostedSince(ctx, dayStart)
	if err != nil {
		s.logger.Error("failed to read posting history", zap.Error(err))
		return false, "posting history unavailable"
	}
	if posted >= s.postsPerDay {
		return false, fmt.Sprintf("daily budget reached: %d/%d posts", posted, s.postsPerDay)
	}
	return true, ""
}

// PreferredFormat runs the format decision over recent history.
func (s *SchedulerAgent) PreferredFormat(ctx context.Context, now time.Time) (posting.FormatDecision, error) {
	history, err := s.history.FormatHistory(ctx, now.Add(-historyLookback))
	if err != nil {
		return posting.FormatDecision{}, fmt.Errorf("failed to get format history: %w", err)
	}
	stats, err := s.history.FormatStats(ctx, now.Add(-statsLookback))
	if err != nil {
		return posting.FormatDecision{}, fmt.Errorf("failed to get format stats: %w", err)
	}

	decision := posting.DecideFormat(posting.FormatContext{
		History:          history,
		Stats:            stats,
		Urgency:          s.hints.Urgency,
		TargetEngagement: s.hints.TargetEngagement,
		Topic:            s.hints.Topic,
	}, s.policy, now)

	s.logger.Debug("format decided",
		zap.String("format", decision.Format),
		zap.Float64("confidence", decision.Confidence),
		zap.String("reasoning", decision.Reasoning))
	return decision, nil
}

// Slots returns the posting times of the local day containing date, spread
// evenly across the window.
func (s *SchedulerAgent) Slots(date time.Time) []time.Time {
	local := date.In(s.location)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.location)

	n := s.postsPerDay
	if n <= 0 {
		n = 1
	}
	span := s.windowEnd - s.windowStart
	if span <= 0 {
		span += 24 * time.Hour
	}
	step := span / time.Duration(n)

	slots := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		slots = append(slots, dayStart.Add(s.windowStart+time.Duration(i)*step))
	}
	return slots
}

// NextSlot returns the first slot strictly after now.
func (s *SchedulerAgent) NextSlot(now time.Time) time.Time {
	for _, day := range []time.Time{now, now.AddDate(0, 0, 1)} {
		for _, slot := range s.Slots(day) {
			if slot.After(now) {
				return slot
			}
		}
	}
	return s.Slots(now.AddDate(0, 0, 2))[0]
}

func (s *SchedulerAgent) inWindow(local time.Time) bool {
	if s.windowStart == s.windowEnd {
		return true
	}
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	offset := local.Sub(midnight)
	if s.windowStart < s.windowEnd {
		return offset >= s.windowStart && offset < s.windowEnd
	}
	// window wraps past midnight
	return offset >= s.windowStart || offset < s.windowEnd
}

func parseWindow(window string) (time.Duration, time.Duration, error) {
	if window == "" {
		return 0, 0, nil
	}
	from, to, ok := strings.Cut(window, "-")
	if !ok {
		return 0, 0, fmt.Errorf("invalid posting window %q: want HH:MM-HH:MM", window)
	}
	start, err := parseClock(from)
	if err != nil {
		return 0, 0, err
	}
	end, err := parseClock(to)
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

func parseClock(timeStr string) (time.Duration, error) {
	parsedTime, err := time.Parse("15:04", strings.TrimSpace(timeStr))
	if err != nil {
		return 0, fmt.Errorf("invalid time format: %w", err)
	}
	return time.Duration(parsedTime.Hour())*time.Hour + time.Duration(parsedTime.Minute())*time.Minute, nil
}

func formatOffset(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}
