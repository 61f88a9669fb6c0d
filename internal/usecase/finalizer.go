package usecase

import (
	"strings"

	"wakelog/internal/phrase"
)

// transcriptFinalizer turns the final candidates of a latched session into the
// text worth keeping.
type transcriptFinalizer struct {
	detector  phrase.Detector
	sanitizer phrase.Sanitizer
	rules     *phrase.Rules
}

func newTranscriptFinalizer(wakePhrase string, rules *phrase.Rules) transcriptFinalizer {
	return transcriptFinalizer{
		detector:  phrase.NewDetector(wakePhrase),
		sanitizer: phrase.NewSanitizer(wakePhrase),
		rules:     rules,
	}
}

// Finalize returns the sanitized best candidate. ok is false when nothing
// should be persisted: no candidates, no wake word this session, or nothing
// left after stripping the phrase. confirmed reports whether the final
// candidates still contain the phrase.
func (f transcriptFinalizer) Finalize(latched bool, candidates []string) (text string, confirmed bool, ok bool) {
	if len(candidates) == 0 || !latched {
		return "", false, false
	}

	confirmed = f.detector.Detect(candidates)
	text = f.sanitizer.Sanitize(candidates[0])
	text = strings.TrimSpace(f.rules.Apply(text))
	if text == "" {
		return "", confirmed, false
	}
	return text, confirmed, true
}
