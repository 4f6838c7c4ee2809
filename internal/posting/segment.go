package posting

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shubh-37/x-autoposter/config"
)

// Segmentation strategies, in priority order.
const (
	SegmentByNumbering = "numbering"
	SegmentByDelimiter = "delimiter"
	SegmentByLength    = "length"
	SegmentForced      = "forced"
	SegmentSingle      = "single"
	SegmentPresplit    = "presplit"
)

var fractionPattern = regexp.MustCompile(`(\d+)\s*/\s*(\d+)`)

// maxThreadParts bounds the total a lone "k/n" marker may announce.
const maxThreadParts = 25

// Segmentation is the ordered set of segments derived from one piece of content.
type Segmentation struct {
	Segments []string
	Strategy string
}

// Segmenter splits content into postable segments. It holds no mutable
// state, so the same content and flags always produce the same segments.
type Segmenter struct {
	delimiter      string
	numbering      *regexp.Regexp
	charLimit      int
	chunkSize      int
	force          bool
	forceMinLength int
}

func NewSegmenter(cfg config.SegmentConfig) (*Segmenter, error) {
	numbering, err := regexp.Compile(cfg.NumberingPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to compile numbering pattern: %w", err)
	}
	if cfg.CharLimit <= 0 || cfg.ChunkSize <= 0 || cfg.ChunkSize > cfg.CharLimit {
		return nil, fmt.Errorf("invalid segment widths: limit %d, chunk %d", cfg.CharLimit, cfg.ChunkSize)
	}
	if cfg.ForceMinLength < 0 || cfg.ForceMinLength >= cfg.CharLimit {
		return nil, fmt.Errorf("forced segmentation minimum %d must be below the limit %d", cfg.ForceMinLength, cfg.CharLimit)
	}
	return &Segmenter{
		delimiter:      cfg.Delimiter,
		numbering:      numbering,
		charLimit:      cfg.CharLimit,
		chunkSize:      cfg.ChunkSize,
		force:          cfg.Force,
		forceMinLength: cfg.ForceMinLength,
	}, nil
}

func (s *Segmenter) CharLimit() int { return s.charLimit }

// Segment derives segments from content. forceHint turns on forced chunking
// for this call in addition to the configured flag. Content that clearly
// asks to be a thread but yields one segment fails with ErrThreadGuard.
func (s *Segmenter) Segment(content string, forceHint bool) (Segmentation, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Segmentation{}, fmt.Errorf("%w: empty content", ErrInvalidIntent)
	}

	if markers := s.numbering.FindAllStringIndex(content, -1); len(markers) > 0 && s.numberedIntent(content, markers) {
		return s.guarded(SegmentByNumbering, s.refine(splitBefore(content, markers)))
	}

	if s.delimiter != "" && strings.Contains(content, s.delimiter) {
		return s.guarded(SegmentByDelimiter, s.refine(splitOn(content, s.delimiter)))
	}

	length := utf8.RuneCountInString(content)
	if length > s.charLimit {
		return s.guarded(SegmentByLength, chunk(content, s.chunkSize))
	}

	if (s.force || forceHint) && length > s.forceMinLength {
		// Content here fits one post; a width under its length forces two parts.
		width := max(1, min(s.chunkSize, 2*length/3))
		if parts := chunk(content, width); len(parts) > 1 {
			return Segmentation{Segments: parts, Strategy: SegmentForced}, nil
		}
	}

	return Segmentation{Segments: []string{content}, Strategy: SegmentSingle}, nil
}

// Presplit validates segments the caller already prepared.
func (s *Segmenter) Presplit(segments []string) (Segmentation, error) {
	out := make([]string, 0, len(segments))
	for i, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		if n := utf8.RuneCountInString(seg); n > s.charLimit {
			return Segmentation{}, fmt.Errorf("%w: segment %d has %d characters, limit is %d", ErrInvalidIntent, i, n, s.charLimit)
		}
		out = append(out, seg)
	}
	if len(out) == 0 {
		return Segmentation{}, fmt.Errorf("%w: no non-empty segments", ErrInvalidIntent)
	}
	return Segmentation{Segments: out, Strategy: SegmentPresplit}, nil
}

// numberedIntent reports whether the markers announce more than one part.
// A lone marker must read as a part number: "1/1" is not a thread and
// neither is "2024/2025 was a good year".
func (s *Segmenter) numberedIntent(content string, markers [][]int) bool {
	if len(markers) > 1 {
		return true
	}
	m := fractionPattern.FindStringSubmatch(content[markers[0][0]:markers[0][1]])
	if len(m) < 3 {
		return true
	}
	part, perr := strconv.Atoi(m[1])
	total, terr := strconv.Atoi(m[2])
	if perr != nil || terr != nil {
		return false
	}
	return part >= 1 && part <= total && total > 1 && total <= maxThreadParts
}

func (s *Segmenter) guarded(strategy string, segments []string) (Segmentation, error) {
	if len(segments) < 2 {
		return Segmentation{}, fmt.Errorf("%w: %s split produced %d segment(s)", ErrThreadGuard, strategy, len(segments))
	}
	return Segmentation{Segments: segments, Strategy: strategy}, nil
}

// refine chunks any segment still above the hard limit.
func (s *Segmenter) refine(segments []string) []string {
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		if utf8.RuneCountInString(seg) > s.charLimit {
			out = append(out, chunk(seg, s.chunkSize)...)
			continue
		}
		out = append(out, seg)
	}
	return out
}

func splitBefore(content string, markers [][]int) []string {
	var parts []string
	prev := 0
	for _, m := range markers {
		parts = append(parts, content[prev:m[0]])
		prev = m[0]
	}
	parts = append(parts, content[prev:])
	return compact(parts)
}

func splitOn(content, delimiter string) []string {
	return compact(strings.Split(content, delimiter))
}

func compact(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// chunk cuts text into pieces of at most width runes, preferring the last
// whitespace in the back half of each window.
func chunk(text string, width int) []string {
	var out []string
	runes := []rune(strings.TrimSpace(text))
	for len(runes) > 0 {
		if len(runes) <= width {
			out = append(out, string(runes))
			break
		}
		cut := width
		for i := width; i > width/2; i-- {
			if unicode.IsSpace(runes[i]) {
				cut = i
				break
			}
		}
		if piece := strings.TrimSpace(string(runes[:cut])); piece != "" {
			out = append(out, piece)
		}
		runes = []rune(strings.TrimLeftFunc(string(runes[cut:]), unicode.IsSpace))
	}
	return out
}
