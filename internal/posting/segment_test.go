package posting

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shubh-37/x-autoposter/config"
)

func testSegmentConfig() config.SegmentConfig {
	return config.SegmentConfig{
		Delimiter:        "---",
		NumberingPattern: `(?m)^\s*\d+\s*/\s*\d+`,
		CharLimit:        280,
		ChunkSize:        270,
		ForceMinLength:   200,
	}
}

func newTestSegmenter(t *testing.T) *Segmenter {
	t.Helper()
	s, err := NewSegmenter(testSegmentConfig())
	require.NoError(t, err)
	return s
}

func TestSegment_Numbering(t *testing.T) {
	s := newTestSegmenter(t)

	got, err := s.Segment("1/3 intro\n2/3 middle\n3/3 end", false)
	require.NoError(t, err)

	assert.Equal(t, SegmentByNumbering, got.Strategy)
	if diff := cmp.Diff([]string{"1/3 intro", "2/3 middle", "3/3 end"}, got.Segments); diff != "" {
		t.Errorf("segments mismatch (-want +got):\n%s", diff)
	}
}

func TestSegment_NumberingKeepsPreamble(t *testing.T) {
	s := newTestSegmenter(t)

	got, err := s.Segment("A thread on caching\n1/2 first\n2/2 second", false)
	require.NoError(t, err)

	want := []string{"A thread on caching", "1/2 first", "2/2 second"}
	if diff := cmp.Diff(want, got.Segments); diff != "" {
		t.Errorf("segments mismatch (-want +got):\n%s", diff)
	}
}

func TestSegment_ShortPostIsSingle(t *testing.T) {
	s := newTestSegmenter(t)

	got, err := s.Segment("short post", false)
	require.NoError(t, err)

	assert.Equal(t, SegmentSingle, got.Strategy)
	assert.Equal(t, []string{"short post"}, got.Segments)
}

func TestSegment_OneOfOneIsNotAThread(t *testing.T) {
	s := newTestSegmenter(t)

	got, err := s.Segment("1/1 just one thing", false)
	require.NoError(t, err)
	assert.Equal(t, SegmentSingle, got.Strategy)
}

func TestSegment_Delimiter(t *testing.T) {
	s := newTestSegmenter(t)

	got, err := s.Segment("first part\n---\nsecond part\n---\n\n---\nthird", false)
	require.NoError(t, err)

	assert.Equal(t, SegmentByDelimiter, got.Strategy)
	if diff := cmp.Diff([]string{"first part", "second part", "third"}, got.Segments); diff != "" {
		t.Errorf("segments mismatch (-want +got):\n%s", diff)
	}
}

func TestSegment_LengthSplit(t *testing.T) {
	s := newTestSegmenter(t)
	content := strings.Repeat("a", 400)

	got, err := s.Segment(content, false)
	require.NoError(t, err)

	assert.Equal(t, SegmentByLength, got.Strategy)
	require.GreaterOrEqual(t, len(got.Segments), 2)
	for _, seg := range got.Segments {
		assert.LessOrEqual(t, utf8.RuneCountInString(seg), 270)
	}
	assert.Equal(t, content, strings.Join(got.Segments, ""))
}

func TestSegment_LengthSplitPrefersWordBoundaries(t *testing.T) {
	s := newTestSegmenter(t)
	content := strings.TrimSpace(strings.Repeat("lorem ipsum ", 40))

	got, err := s.Segment(content, false)
	require.NoError(t, err)

	for _, seg := range got.Segments {
		assert.LessOrEqual(t, utf8.RuneCountInString(seg), 270)
		assert.False(t, strings.HasPrefix(seg, "psum"), "segment starts mid-word: %q", seg)
		assert.Equal(t, strings.TrimSpace(seg), seg)
	}
	assert.Equal(t, strings.Fields(content), strings.Fields(strings.Join(got.Segments, " ")))
}

func TestSegment_CountsRunesNotBytes(t *testing.T) {
	s := newTestSegmenter(t)
	content := strings.Repeat("é", 250)

	got, err := s.Segment(content, false)
	require.NoError(t, err)
	assert.Equal(t, SegmentSingle, got.Strategy)
}

func TestSegment_OverLimitNumberedPartIsChunked(t *testing.T) {
	s := newTestSegmenter(t)
	content := "1/2 " + strings.Repeat("b", 300) + "\n2/2 done"

	got, err := s.Segment(content, false)
	require.NoError(t, err)

	assert.Equal(t, SegmentByNumbering, got.Strategy)
	assert.Len(t, got.Segments, 3)
	for _, seg := range got.Segments {
		assert.LessOrEqual(t, utf8.RuneCountInString(seg), 280)
	}
}

func TestSegment_Forced(t *testing.T) {
	s := newTestSegmenter(t)
	content := strings.Repeat("word ", 55) // 274 runes after trim, under the limit

	got, err := s.Segment(content, false)
	require.NoError(t, err)
	assert.Equal(t, SegmentSingle, got.Strategy)

	got, err = s.Segment(content, true)
	require.NoError(t, err)
	assert.Equal(t, SegmentForced, got.Strategy)
	assert.Len(t, got.Segments, 2)
}

func TestSegment_ForcedSplitsContentUnderChunkSize(t *testing.T) {
	s := newTestSegmenter(t)
	content := strings.TrimSpace(strings.Repeat("grow ", 50)) // 249 runes, under the chunk size

	got, err := s.Segment(content, true)
	require.NoError(t, err)

	assert.Equal(t, SegmentForced, got.Strategy)
	require.Len(t, got.Segments, 2)
	assert.Equal(t, content, got.Segments[0]+" "+got.Segments[1])

	short, err := s.Segment("too short to force", true)
	require.NoError(t, err)
	assert.Equal(t, SegmentSingle, short.Strategy)
}

func TestNewSegmenter_RejectsUnreachableForceMinimum(t *testing.T) {
	cfg := testSegmentConfig()
	cfg.ForceMinLength = cfg.CharLimit

	_, err := NewSegmenter(cfg)
	require.Error(t, err)
}

func TestSegment_ThreadGuard(t *testing.T) {
	s := newTestSegmenter(t)

	tests := []struct {
		name    string
		content string
	}{
		{name: "numbering marker with nothing to split", content: "2/5"},
		{name: "delimiter with one non-empty side", content: "only this part\n---\n   "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Segment(tt.content, false)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrThreadGuard)
			assert.Equal(t, KindThreadGuard, KindOf(err))
		})
	}
}

func TestSegment_FractionsThatAreNotPartNumbers(t *testing.T) {
	s := newTestSegmenter(t)

	tests := []string{
		"2024/2025 was the year we rebuilt the pipeline",
		"5/3 of the team agreed",
	}
	for _, content := range tests {
		t.Run(content, func(t *testing.T) {
			got, err := s.Segment(content, false)
			require.NoError(t, err)
			assert.Equal(t, SegmentSingle, got.Strategy)
			assert.Equal(t, []string{content}, got.Segments)
		})
	}
}

func TestSegment_Deterministic(t *testing.T) {
	s := newTestSegmenter(t)
	inputs := []string{
		"1/3 intro\n2/3 middle\n3/3 end",
		"a---b---c",
		strings.Repeat("deterministic output ", 40),
		"short post",
	}

	for _, in := range inputs {
		first, err1 := s.Segment(in, false)
		second, err2 := s.Segment(in, false)
		require.NoError(t, err1)
		require.NoError(t, err2)
		if diff := cmp.Diff(first, second); diff != "" {
			t.Errorf("segmentation not deterministic for %q:\n%s", in, diff)
		}
	}
}

func TestSegment_EmptyContent(t *testing.T) {
	s := newTestSegmenter(t)

	_, err := s.Segment("   \n ", false)
	assert.ErrorIs(t, err, ErrInvalidIntent)
}

func TestPresplit(t *testing.T) {
	s := newTestSegmenter(t)

	got, err := s.Presplit([]string{" one ", "", "two"})
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, got.Segments)
	assert.Equal(t, SegmentPresplit, got.Strategy)

	_, err = s.Presplit([]string{strings.Repeat("x", 281)})
	assert.ErrorIs(t, err, ErrInvalidIntent)
}
