package posting

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Locator is one way of finding a control on the target surface.
type Locator struct {
	Name     string
	Selector string
	Timeout  time.Duration
}

// SurfaceProfile is the versioned strategy table for one target surface. It
// holds everything that changes when the platform ships a new UI, so the
// composer and extractor logic never hard-code selectors or URLs.
type SurfaceProfile struct {
	Version string

	BaseURL          string
	ComposePath      string
	StatusPathFormat string // fmt format taking handle and id
	ProfilePath      string // fmt format taking handle
	Handle           string

	ComposeBox    []Locator
	ReplyBox      []Locator
	SubmitButtons []Locator
	ReplySubmit   []Locator
	AddCard       []Locator
	SubmitChord   string

	// CardBoxFormat is a fmt format taking the zero-based card index.
	CardBoxFormat string
	CardBoxes     string

	TimelinePostLinks string
	ParentReference   string // fmt format taking the parent id
	PostText          string

	PermalinkPattern *regexp.Regexp // first capture group is the post id
	IDPattern        *regexp.Regexp

	CreateEndpoints []string
	IDFieldPaths    []string
}

// DefaultProfile is the strategy table for the x.com web client as of the
// last selector review.
func DefaultProfile(baseURL, handle string) SurfaceProfile {
	if baseURL == "" {
		baseURL = "https://x.com"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	return SurfaceProfile{
		Version:          "2026.09",
		BaseURL:          baseURL,
		ComposePath:      "/compose/post",
		StatusPathFormat: "/%s/status/%s",
		ProfilePath:      "/%s",
		Handle:           handle,

		ComposeBox: []Locator{
			{Name: "testid-textarea-0", Selector: `[data-testid="tweetTextarea_0"]`, Timeout: 8 * time.Second},
			{Name: "role-textbox", Selector: `div[role="textbox"][contenteditable="true"]`, Timeout: 5 * time.Second},
			{Name: "draftjs-editor", Selector: `.public-DraftEditor-content`, Timeout: 3 * time.Second},
		},
		ReplyBox: []Locator{
			{Name: "testid-textarea-0", Selector: `[data-testid="tweetTextarea_0"]`, Timeout: 8 * time.Second},
			{Name: "inline-reply-textbox", Selector: `[data-testid="inline_reply_offscreen"] div[role="textbox"]`, Timeout: 4 * time.Second},
			{Name: "role-textbox", Selector: `div[role="textbox"][contenteditable="true"]`, Timeout: 4 * time.Second},
		},
		SubmitButtons: []Locator{
			{Name: "testid-tweet-button", Selector: `[data-testid="tweetButton"]`, Timeout: 4 * time.Second},
			{Name: "testid-tweet-button-inline", Selector: `[data-testid="tweetButtonInline"]`, Timeout: 3 * time.Second},
		},
		ReplySubmit: []Locator{
			{Name: "testid-tweet-button-inline", Selector: `[data-testid="tweetButtonInline"]`, Timeout: 4 * time.Second},
			{Name: "testid-tweet-button", Selector: `[data-testid="tweetButton"]`, Timeout: 3 * time.Second},
		},
		AddCard: []Locator{
			{Name: "testid-add-button", Selector: `[data-testid="addButton"]`, Timeout: 4 * time.Second},
			{Name: "aria-add-post", Selector: `[aria-label="Add post"]`, Timeout: 2 * time.Second},
		},
		SubmitChord: "Control+Enter",

		CardBoxFormat: `[data-testid="tweetTextarea_%d"]`,
		CardBoxes:     `[data-testid^="tweetTextarea_"][role="textbox"]`,

		TimelinePostLinks: `article[data-testid="tweet"] a[href*="/status/"]:has(time)`,
		ParentReference:   `article[data-testid="tweet"] a[href*="/status/%s"]`,
		PostText:          `article[data-testid="tweet"] [data-testid="tweetText"]`,

		PermalinkPattern: regexp.MustCompile(`/status/(\d{5,25})`),
		IDPattern:        regexp.MustCompile(`^\d{5,25}$`),

		CreateEndpoints: []string{"/CreateTweet", "/CreateNoteTweet", "/2/tweets"},
		IDFieldPaths: []string{
			"data.create_tweet.tweet_results.result.rest_id",
			"data.notetweet_create.tweet_results.result.rest_id",
			"data.create_tweet.tweet_results.result.tweet.rest_id",
			"data.id",
			"rest_id",
			"id_str",
		},
	}
}

func (p SurfaceProfile) ComposeURL() string {
	return p.BaseURL + p.ComposePath
}

// StatusURL is the permalink of a post. The handle is optional for the
// platform, which redirects /i/status/<id>.
func (p SurfaceProfile) StatusURL(id string) string {
	handle := p.Handle
	if handle == "" {
		handle = "i"
	}
	return p.BaseURL + fmt.Sprintf(p.StatusPathFormat, handle, id)
}

func (p SurfaceProfile) ProfileURL() string {
	return p.BaseURL + fmt.Sprintf(p.ProfilePath, p.Handle)
}

func (p SurfaceProfile) CardBox(index int) string {
	return fmt.Sprintf(p.CardBoxFormat, index)
}

// ValidID reports whether id looks like a real platform identifier.
func (p SurfaceProfile) ValidID(id string) bool {
	return p.IDPattern != nil && p.IDPattern.MatchString(id)
}

// IDFromURL extracts a post id from a permalink, or "".
func (p SurfaceProfile) IDFromURL(url string) string {
	if p.PermalinkPattern == nil {
		return ""
	}
	m := p.PermalinkPattern.FindStringSubmatch(url)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}
