package models

import "time"

// PostMode is the kind of publication the caller asked for
type PostMode string

const (
	ModeSingle PostMode = "single"
	ModeThread PostMode = "thread"
	ModeReply  PostMode = "reply"
)

// Intent statuses as stored in the intents table
const (
	IntentRegistered = "registered"
	IntentPosted     = "posted"
	IntentPartial    = "partial"
	IntentFailed     = "failed"
)

// Provenance records which system produced an intent
type Provenance struct {
	Source  string `json:"source"`   // "scheduler", "cli", ...
	BuildID string `json:"build_id"` // build or commit of the producing system
	RunID   string `json:"run_id"`
}

// PostIntent is a request to publish content, prior to any execution
type PostIntent struct {
	ID         string     `json:"id"`
	Content    string     `json:"content"`
	Segments   []string   `json:"segments,omitempty"` // optional pre-split thread
	Mode       PostMode   `json:"mode"`
	ReplyToID  string     `json:"reply_to_id,omitempty"`
	Provenance Provenance `json:"provenance"`
	TestOnly   bool       `json:"test_only"` // skips the registered-intent gate
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	PostedAt   *time.Time `json:"posted_at,omitempty"`
	RootPostID *string    `json:"root_post_id,omitempty"`
}

// NewPostIntent creates a new intent in the registered state
func NewPostIntent(content string, mode PostMode, provenance Provenance) *PostIntent {
	return &PostIntent{
		Content:    content,
		Mode:       mode,
		Provenance: provenance,
		Status:     IntentRegistered,
		CreatedAt:  time.Now(),
	}
}

// WithReplyTo turns the intent into a reply to the given post
func (i *PostIntent) WithReplyTo(postID string) *PostIntent {
	i.Mode = ModeReply
	i.ReplyToID = postID
	return i
}
