// Package platform posts through the platform's web GraphQL API with a
// logged-in session. It is the fallback channel when no browser is
// available.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shubh-37/x-autoposter/config"
)

// DefaultCreateTweetQueryID is the persisted-query id of the CreateTweet
// mutation used by the web client.
const DefaultCreateTweetQueryID = "oB-5XsHNAbjvARJEc8CZFw"

var postIDPattern = regexp.MustCompile(`^\d{5,25}$`)

type GraphQLRequest struct {
	Variables map[string]any `json:"variables"`
	Features  map[string]any `json:"features"`
	QueryID   string         `json:"queryId"`
}

type GraphQLError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type GraphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors,omitempty"`
}

var createTweetFeatures = map[string]any{
	"communities_web_enable_tweet_community_results_fetch":       true,
	"creator_subscriptions_tweet_preview_api_enabled":            true,
	"longform_notetweets_consumption_enabled":                    true,
	"longform_notetweets_inline_media_enabled":                   true,
	"responsive_web_edit_tweet_api_enabled":                      true,
	"responsive_web_graphql_exclude_directive_enabled":           true,
	"responsive_web_graphql_timeline_navigation_enabled":         true,
	"tweet_awards_web_tipping_enabled":                           false,
	"view_counts_everywhere_api_enabled":                         true,
	"freedom_of_speech_not_reach_fetch_enabled":                  true,
	"standardized_nudges_misinfo":                                true,
	"verified_phone_label_enabled":                               false,
	"responsive_web_enhance_cards_enabled":                       false,
	"graphql_is_translatable_rweb_tweet_is_translatable_enabled": true,
}

type Options struct {
	QueryID          string
	Timeout          time.Duration
	FailureThreshold int
	OpenDuration     time.Duration
}

// Client implements posting.DirectPoster.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	breaker *circuitBreaker
	queryID string
	logger  *zap.Logger
}

func NewClient(cfg config.PlatformConfig, opts Options, logger *zap.Logger) *Client {
	if opts.QueryID == "" {
		opts.QueryID = DefaultCreateTweetQueryID
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 3
	}
	if opts.OpenDuration <= 0 {
		opts.OpenDuration = 5 * time.Minute
	}

	// No automatic retries: a resent mutation can publish twice.
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer "+cfg.BearerToken).
		SetHeader("X-Csrf-Token", cfg.CSRFToken).
		SetHeader("X-Twitter-Auth-Type", "OAuth2Session").
		SetHeader("X-Twitter-Active-User", "yes").
		SetCookies([]*http.Cookie{
			{Name: "auth_token", Value: cfg.AuthToken},
			{Name: "ct0", Value: cfg.CSRFToken},
		})

	limit := rate.Inf
	if cfg.HTTPFallbackRPS > 0 {
		limit = rate.Limit(cfg.HTTPFallbackRPS)
	}

	logger = logger.Named("platform")
	return &Client{
		http:    client,
		limiter: rate.NewLimiter(limit, 1),
		breaker: newCircuitBreaker(opts.FailureThreshold, opts.OpenDuration, logger),
		queryID: opts.QueryID,
		logger:  logger,
	}
}

// CreatePost publishes text, as a reply when replyToID is set, and returns
// the new post's id. Failures after the request may have reached the
// platform are reported as ambiguous.
func (c *Client) CreatePost(ctx context.Context, text, replyToID string) (string, error) {
	if err := c.breaker.canAttempt(); err != nil {
		return "", &APIError{Op: "create", Err: err}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", &APIError{Op: "create", Err: fmt.Errorf("rate limit wait failed: %w", err)}
	}

	variables := map[string]any{
		"tweet_text":              text,
		"dark_request":            false,
		"media":                   map[string]any{"media_entities": []any{}, "possibly_sensitive": false},
		"semantic_annotation_ids": []any{},
	}
	if replyToID != "" {
		variables["reply"] = map[string]any{
			"in_reply_to_tweet_id":   replyToID,
			"exclude_reply_user_ids": []any{},
		}
	}

	var out GraphQLResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(GraphQLRequest{Variables: variables, Features: createTweetFeatures, QueryID: c.queryID}).
		SetResult(&out).
		SetError(&out).
		Post("/i/api/graphql/" + c.queryID + "/CreateTweet")
	if err != nil {
		apiErr := &APIError{Op: "create", Err: fmt.Errorf("failed to make request: %w", err), ambiguous: true}
		c.breaker.recordFailure(apiErr)
		return "", apiErr
	}

	if resp.StatusCode() != http.StatusOK {
		apiErr := &APIError{
			Op:        "create",
			Status:    resp.StatusCode(),
			Err:       fmt.Errorf("platform API error (status %d): %s", resp.StatusCode(), truncate(resp.String(), 200)),
			ambiguous: resp.StatusCode() >= http.StatusInternalServerError,
		}
		c.breaker.recordFailure(apiErr)
		return "", apiErr
	}

	if len(out.Errors) > 0 {
		// The API answered; a rejected mutation did not publish anything.
		c.breaker.recordSuccess()
		return "", &APIError{
			Op:     "create",
			Status: resp.StatusCode(),
			Code:   out.Errors[0].Code,
			Err:    fmt.Errorf("GraphQL error: %s", out.Errors[0].Message),
		}
	}

	c.breaker.recordSuccess()
	id := gjson.GetBytes(out.Data, "create_tweet.tweet_results.result.rest_id").String()
	if !postIDPattern.MatchString(id) {
		return "", &APIError{
			Op:        "create",
			Status:    resp.StatusCode(),
			Err:       fmt.Errorf("response carried no post id: %s", truncate(string(out.Data), 200)),
			ambiguous: true,
		}
	}

	c.logger.Info("✅ posted via API", zap.String("id", id), zap.String("reply_to", replyToID))
	return id, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
