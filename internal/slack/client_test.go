package slack

import (
	"context"
	"errors"
	"testing"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePoster struct {
	channel string
	options int
	err     error
}

func (p *fakePoster) PostMessageContext(_ context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	p.channel = channelID
	p.options = len(options)
	return channelID, "1700000000.000100", p.err
}

func TestClient_Alert(t *testing.T) {
	api := &fakePoster{}
	c := &Client{api: api, channel: "C0ALERTS", logger: zap.NewNop()}

	err := c.Alert(context.Background(), "Posting result could not be persisted", map[string]string{
		"intent":  "5b0f1d9e-6f6c-4c1e-9a51-3f1f2f0a7c11",
		"ids":     "1790000000000000001",
		"success": "true",
	})
	require.NoError(t, err)
	assert.Equal(t, "C0ALERTS", api.channel)
	assert.Equal(t, 2, api.options, "fallback text plus blocks")
}

func TestClient_AlertWithoutFieldsIsPlainText(t *testing.T) {
	api := &fakePoster{}
	c := &Client{api: api, channel: "C0ALERTS", logger: zap.NewNop()}

	require.NoError(t, c.Alert(context.Background(), "Browser session expired", nil))
	assert.Equal(t, "C0ALERTS", api.channel)
	assert.Equal(t, 1, api.options, "text only")
}

func TestClient_AlertError(t *testing.T) {
	c := &Client{api: &fakePoster{err: errors.New("channel_not_found")}, channel: "C0", logger: zap.NewNop()}

	err := c.Alert(context.Background(), "subject", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
}
