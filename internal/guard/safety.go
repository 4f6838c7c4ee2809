package guard

import (
	"context"
	"regexp"
	"strings"
	"unicode"
)

// SafetyVerdict is the outcome of a content check. Sanitized replaces the
// raw content when OK.
type SafetyVerdict struct {
	OK        bool
	Sanitized string
	Reasons   []string
}

type SafetyChecker interface {
	Check(ctx context.Context, content string) (SafetyVerdict, error)
}

var credentialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{20,}\b`),
	regexp.MustCompile(`\bxox[abpr]-[A-Za-z0-9-]{10,}\b`),
	regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{30,}\b`),
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`),
}

// BasicSafetyChecker strips invisible characters and rejects content that
// leaks credentials or contains blocked terms.
type BasicSafetyChecker struct {
	BlockedTerms []string
}

func NewBasicSafetyChecker(blocked ...string) *BasicSafetyChecker {
	return &BasicSafetyChecker{BlockedTerms: blocked}
}

func (c *BasicSafetyChecker) Check(_ context.Context, content string) (SafetyVerdict, error) {
	sanitized := strings.TrimSpace(strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case r == '\u200b' || r == '\u200c' || r == '\u200d' || r == '\u2060' || r == '\ufeff':
			return -1
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, content))

	var reasons []string
	if sanitized == "" {
		reasons = append(reasons, "empty content")
	}
	for _, p := range credentialPatterns {
		if p.MatchString(sanitized) {
			reasons = append(reasons, "content contains a credential")
			break
		}
	}
	lower := strings.ToLower(sanitized)
	for _, term := range c.BlockedTerms {
		if term != "" && strings.Contains(lower, strings.ToLower(term)) {
			reasons = append(reasons, "blocked term: "+term)
		}
	}

	return SafetyVerdict{OK: len(reasons) == 0, Sanitized: sanitized, Reasons: reasons}, nil
}
