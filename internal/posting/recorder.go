package posting

import (
	"time"

	"github.com/shubh-37/x-autoposter/internal/models"
)

// Recorder receives posting telemetry. internal/metrics implements it with
// prometheus collectors.
type Recorder interface {
	StrategyAttempt(strategy string, kind ErrorKind, took time.Duration)
	Extraction(strategy string, ok bool)
	Outcome(result models.PostResult)
}

type nopRecorder struct{}

func (nopRecorder) StrategyAttempt(string, ErrorKind, time.Duration) {}
func (nopRecorder) Extraction(string, bool)                         {}
func (nopRecorder) Outcome(models.PostResult)                       {}
