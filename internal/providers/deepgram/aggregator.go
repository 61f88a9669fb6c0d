package deepgram

import (
	"strings"
)

// transcriptAggregator joins finalized segments of one utterance and keeps the
// latest interim text so partial results read as the whole utterance so far.
type transcriptAggregator struct {
	finals  []string
	interim string
}

func (a *transcriptAggregator) Add(text string, final bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if final {
		a.finals = append(a.finals, text)
		a.interim = ""
		return
	}
	a.interim = text
}

func (a *transcriptAggregator) Raw() string {
	parts := append([]string(nil), a.finals...)
	if a.interim != "" {
		parts = append(parts, a.interim)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func (a *transcriptAggregator) Empty() bool {
	return a.Raw() == ""
}
