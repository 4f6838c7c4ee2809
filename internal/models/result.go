package models

import "time"

// StructuralMode is how a publication was actually laid out on the platform
type StructuralMode string

const (
	StructureSingle       StructuralMode = "single"
	StructureReply        StructuralMode = "reply"
	StructureNativeThread StructuralMode = "native_thread"
	StructureReplyChain   StructuralMode = "reply_chain"
)

// Channel is the transport used to reach the platform
type Channel string

const (
	ChannelBrowser Channel = "browser"
	ChannelHTTP    Channel = "http"
	ChannelDryRun  Channel = "dry_run"
)

// StrategyError is the last error a strategy produced during a run
type StrategyError struct {
	Strategy string `json:"strategy"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
}

// PostResult is the outcome of one execution attempt for an intent
type PostResult struct {
	IntentID     string          `json:"intent_id"`
	Success      bool            `json:"success"`
	Partial      bool            `json:"partial"` // some but not all segments posted
	Mode         StructuralMode  `json:"mode"`
	Channel      Channel         `json:"channel"`
	RootID       string          `json:"root_id,omitempty"`
	SegmentIDs   []string        `json:"segment_ids"`
	SegmentCount int             `json:"segment_count"`
	PostedCount  int             `json:"posted_count"`
	Submitted    bool            `json:"submitted"` // something reached the platform
	Segmentation string          `json:"segmentation,omitempty"`
	Attempts     int             `json:"attempts"`
	ErrorKind    string          `json:"error_kind,omitempty"`
	Error        string          `json:"error,omitempty"`
	Strategies   []StrategyError `json:"strategies,omitempty"`
	Warnings     []string        `json:"warnings,omitempty"`
	DryRun       bool            `json:"dry_run"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
}

// Failed builds a result for an attempt that never reached the platform
func Failed(intentID, kind string, err error) PostResult {
	now := time.Now()
	return PostResult{
		IntentID:   intentID,
		ErrorKind:  kind,
		Error:      err.Error(),
		SegmentIDs: []string{},
		StartedAt:  now,
		FinishedAt: now,
	}
}

// AnyPosted reports whether at least one post exists on the platform because of this attempt
func (r *PostResult) AnyPosted() bool {
	return r.PostedCount > 0 || len(r.SegmentIDs) > 0 || r.Submitted
}

// IntentStatus maps the result to the status recorded on the intent
func (r *PostResult) IntentStatus() string {
	switch {
	case r.Success && !r.Partial:
		return IntentPosted
	case r.AnyPosted():
		return IntentPartial
	default:
		return IntentFailed
	}
}
