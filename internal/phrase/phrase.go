// Package phrase matches and strips the trigger phrase in recognized speech.
package phrase

import (
	"regexp"
	"strings"
)

// DefaultPhrase is the trigger phrase used when none is configured.
const DefaultPhrase = "super duper"

// Detector reports whether any candidate transcript contains the trigger phrase.
// Candidates are lowercased and stripped of spaces before matching, so only
// whitespace variation is tolerated.
type Detector struct {
	token string
}

func NewDetector(phrase string) Detector {
	return Detector{token: normalize(phrase)}
}

// Token returns the normalized form candidates are matched against.
func (d Detector) Token() string {
	return d.token
}

// Detect returns true iff some candidate contains the trigger token.
func (d Detector) Detect(candidates []string) bool {
	_, ok := d.Match(candidates)
	return ok
}

// Match returns the first candidate containing the trigger token.
func (d Detector) Match(candidates []string) (string, bool) {
	if d.token == "" {
		return "", false
	}
	for _, candidate := range candidates {
		if strings.Contains(normalize(candidate), d.token) {
			return candidate, true
		}
	}
	return "", false
}

func normalize(text string) string {
	return strings.ReplaceAll(strings.ToLower(text), " ", "")
}

// Sanitizer removes every occurrence of the trigger phrase from a transcript.
type Sanitizer struct {
	strip substitution
}

// NewSanitizer builds a sanitizer whose pattern joins the phrase words with \s*,
// matched case-insensitively.
func NewSanitizer(phrase string) Sanitizer {
	words := strings.Fields(phrase)
	quoted := make([]string, 0, len(words))
	for _, word := range words {
		quoted = append(quoted, regexp.QuoteMeta(word))
	}
	if len(quoted) == 0 {
		return Sanitizer{}
	}
	re := regexp.MustCompile("(?i)" + strings.Join(quoted, `\s*`))
	return Sanitizer{strip: substitution{re: re, global: true}}
}

// Sanitize strips the phrase and trims leading/trailing whitespace. Internal
// whitespace is left untouched. An empty result means nothing should be kept.
func (s Sanitizer) Sanitize(text string) string {
	if s.strip.re != nil {
		text, _ = s.strip.apply(text)
	}
	return strings.TrimSpace(text)
}
