package slack

import (
	"context"
	"fmt"
	"sort"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// poster is the part of the Slack API the client uses.
type poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

type Client struct {
	api     poster
	channel string
	logger  *zap.Logger
}

// NewClient authenticates with Slack and returns a client that posts to
// channel.
func NewClient(ctx context.Context, token, channel string, logger *zap.Logger) (*Client, error) {
	api := slack.New(token)

	authTest, err := api.AuthTestContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate with Slack: %w", err)
	}

	logger = logger.Named("slack")
	logger.Info("slack client initialized", zap.String("bot_id", authTest.UserID), zap.String("channel", channel))

	return &Client{api: api, channel: channel, logger: logger}, nil
}

func (c *Client) SendMessage(ctx context.Context, message string) error {
	_, _, err := c.api.PostMessageContext(ctx,
		c.channel,
		slack.MsgOptionText(message, false),
	)
	return err
}

func (c *Client) SendMessageWithBlocks(ctx context.Context, fallback string, blocks []slack.Block) error {
	_, _, err := c.api.PostMessageContext(ctx,
		c.channel,
		slack.MsgOptionText(fallback, false),
		slack.MsgOptionBlocks(blocks...),
	)
	return err
}

// Alert posts an operator alert: a header block with the subject and one
// field per entry, sorted by key. An alert without fields is plain text.
func (c *Client) Alert(ctx context.Context, subject string, fields map[string]string) error {
	if len(fields) == 0 {
		if err := c.SendMessage(ctx, "🚨 "+subject); err != nil {
			return fmt.Errorf("failed to send alert: %w", err)
		}
		c.logger.Info("alert sent", zap.String("subject", subject))
		return nil
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var textFields []*slack.TextBlockObject
	for _, k := range keys {
		textFields = append(textFields, slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*%s*\n%s", k, fields[k]), false, false))
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, "🚨 "+subject, false, false)),
	}
	// Slack caps a section at ten fields
	for start := 0; start < len(textFields); start += 10 {
		end := min(start+10, len(textFields))
		blocks = append(blocks, slack.NewSectionBlock(nil, textFields[start:end], nil))
	}

	if err := c.SendMessageWithBlocks(ctx, subject, blocks); err != nil {
		return fmt.Errorf("failed to send alert: %w", err)
	}
	c.logger.Info("alert sent", zap.String("subject", subject))
	return nil
}
