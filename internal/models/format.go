package models

import "time"

// Post formats the cadence policy chooses between
const (
	FormatSingle = "single"
	FormatThread = "thread"
)

// FormatRecord is one past use of a format
type FormatRecord struct {
	Format string    `json:"format"`
	At     time.Time `json:"at"`
}

// FormatStats is the rolling performance of a format
type FormatStats struct {
	Attempts      int     `json:"attempts"`
	Successes     int     `json:"successes"`
	AvgQuality    float64 `json:"avg_quality"`    // 0-100
	AvgEngagement float64 `json:"avg_engagement"` // engagement rate, percent
}

// SuccessRate returns successes/attempts, or 0 with no attempts
func (s FormatStats) SuccessRate() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Attempts)
}
