package posting

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestExtractor_IDFromPayload(t *testing.T) {
	x := NewExtractor(DefaultProfile("", "bot"), fastTimeouts(), zap.NewNop(), nil)

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "graphql create", body: `{"data":{"create_tweet":{"tweet_results":{"result":{"rest_id":"1790000000000000042"}}}}}`, want: "1790000000000000042"},
		{name: "note tweet", body: `{"data":{"notetweet_create":{"tweet_results":{"result":{"rest_id":"1790000000000000043"}}}}}`, want: "1790000000000000043"},
		{name: "flat rest", body: `{"id_str":"1790000000000000044","text":"hi"}`, want: "1790000000000000044"},
		{name: "v2 api", body: `{"data":{"id":"1790000000000000045","text":"hi"}}`, want: "1790000000000000045"},
		{name: "placeholder rejected", body: `{"rest_id":"tweet_1712345678"}`, want: ""},
		{name: "error payload", body: `{"errors":[{"code":187,"message":"Status is a duplicate."}]}`, want: ""},
		{name: "not json", body: `<html>`, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, x.IDFromPayload([]byte(tt.body)))
		})
	}
}

func TestExtractor_URLInspection(t *testing.T) {
	h := newHarness()
	h.surface.silentNetwork = true
	h.surface.urlOnSubmit = true
	page, _ := h.surface.NewPage(context.Background())
	defer page.Close()

	res, err := h.composer.Post(context.Background(), page, "captured from the address bar", "")
	require.NoError(t, err)

	assert.Equal(t, ExtractURL, res.Extraction)
	assert.Equal(t, h.surface.published()[0].ID, res.ID)
}

func TestExtractor_ReplyFoundByTimelineNotParentURL(t *testing.T) {
	h := newHarness()
	parent := h.surface.seed("the thread root", "")
	h.surface.silentNetwork = true
	page, _ := h.surface.NewPage(context.Background())
	defer page.Close()

	res, err := h.composer.Post(context.Background(), page, "reply found by scanning", parent)
	require.NoError(t, err)

	assert.Equal(t, ExtractTimeline, res.Extraction)
	assert.NotEqual(t, parent, res.ID, "the reply target id must never be returned")
	reply, ok := h.surface.post(res.ID)
	require.True(t, ok)
	assert.Equal(t, parent, reply.ReplyTo)
}

func TestExtractor_RootFoundByTimelineText(t *testing.T) {
	h := newHarness()
	h.surface.seed("an older unrelated post", "")
	h.surface.silentNetwork = true
	page, _ := h.surface.NewPage(context.Background())
	defer page.Close()

	res, err := h.composer.Post(context.Background(), page, "fresh root post text", "")
	require.NoError(t, err)

	assert.Equal(t, ExtractTimeline, res.Extraction)
	posts := h.surface.published()
	assert.Equal(t, posts[len(posts)-1].ID, res.ID)
}

func TestExtractor_NeverFabricates(t *testing.T) {
	h := newHarness()
	h.surface.seed("something else entirely", "")
	h.surface.silentNetwork = true
	page, _ := h.surface.NewPage(context.Background())
	defer page.Close()
	require.NoError(t, page.Navigate(context.Background(), h.surface.profile.ComposeURL()))

	capture, err := h.extractor.Arm(context.Background(), page, 1)
	require.NoError(t, err)

	ext, err := h.extractor.Extract(context.Background(), page, ExtractRequest{
		Capture:    capture,
		TextPrefix: "a post that was never published",
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExtraction)
	assert.Equal(t, KindExtraction, KindOf(err))
	assert.Empty(t, ext.ID)
	assert.Empty(t, ext.Strategy)
}

func TestExtractor_SimilarLengthPostIsNotAttributed(t *testing.T) {
	h := newHarness()
	h.surface.seed("yesterday I shipped a new build", "")
	h.surface.silentNetwork = true
	page, _ := h.surface.NewPage(context.Background())
	defer page.Close()
	require.NoError(t, page.Navigate(context.Background(), h.surface.profile.ComposeURL()))

	capture, err := h.extractor.Arm(context.Background(), page, 1)
	require.NoError(t, err)

	ext, err := h.extractor.Extract(context.Background(), page, ExtractRequest{
		Capture:    capture,
		TextPrefix: "fresh root post text here abc",
	})

	assert.ErrorIs(t, err, ErrExtraction)
	assert.Empty(t, ext.ID, "an older post of similar length must not be taken for the new one")
}

func TestStartsLike(t *testing.T) {
	assert.True(t, startsLike("fresh  root post", "fresh root post and more"))
	assert.False(t, startsLike("fresh root post text here abc", "yesterday I shipped a new build"))
	assert.False(t, startsLike("", "anything"))
	assert.False(t, startsLike("expected", ""))
}

func TestExtractor_SubmittedButUncapturedIsReportedAsSubmitted(t *testing.T) {
	h := newHarness()
	h.surface.silentNetwork = true
	h.extractor.profile.Handle = ""
	page, _ := h.surface.NewPage(context.Background())
	defer page.Close()

	res, err := h.composer.Post(context.Background(), page, "posted but no id", "")

	assert.ErrorIs(t, err, ErrExtraction)
	assert.True(t, res.Submitted)
	assert.Empty(t, res.ID)
	assert.Len(t, h.surface.published(), 1)
}

func TestNetworkCapture_CollectsSeveral(t *testing.T) {
	h := newHarness()
	page, _ := h.surface.NewPage(context.Background())
	defer page.Close()

	capture, err := h.extractor.Arm(context.Background(), page, 2)
	require.NoError(t, err)
	defer capture.Close()

	fp := page.(*fakePage)
	require.NoError(t, page.Navigate(context.Background(), h.surface.profile.ComposeURL()))
	fp.s.mu.Lock()
	fp.cards = []string{"one", "two"}
	fp.submitLocked()
	fp.s.mu.Unlock()

	ids := capture.Collect(context.Background(), 2, fastTimeouts().Network)
	posts := h.surface.published()
	assert.Equal(t, []string{posts[0].ID, posts[1].ID}, ids)
}
