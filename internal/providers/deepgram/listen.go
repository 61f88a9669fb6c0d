package deepgram

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"wakelog/internal/domain"
)

type deepgramResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	Description string `json:"description"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func extractTranscript(response deepgramResponse) string {
	if len(response.Channel.Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(response.Channel.Alternatives[0].Transcript)
}

func errorMessage(response deepgramResponse) string {
	for _, msg := range []string{response.Description, response.Message} {
		if trimmed := strings.TrimSpace(msg); trimmed != "" {
			return trimmed
		}
	}
	return "deepgram returned an unknown error"
}

// buildListenURL maps the recognizer settings onto Deepgram's live query:
// the complete-silence timeout becomes endpointing, the possibly-complete one
// utterance_end_ms.
func buildListenURL(cfg Config, rc domain.RecognizerConfig) (string, error) {
	base := strings.TrimSpace(cfg.APIBaseURL)
	if base == "" {
		base = defaultAPIBaseURL
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}

	sampleRate := cfg.Audio.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	channels := cfg.Audio.Channels
	if channels <= 0 {
		channels = 1
	}

	query := listenURL.Query()
	query.Set("model", cfg.Model)
	query.Set("encoding", "linear16")
	query.Set("sample_rate", strconv.Itoa(sampleRate))
	query.Set("channels", strconv.Itoa(channels))
	query.Set("interim_results", strconv.FormatBool(rc.PartialResults))
	query.Set("smart_format", strconv.FormatBool(cfg.SmartFormat))
	query.Set("vad_events", "true")
	if ms := rc.CompleteSilenceTimeout.Milliseconds(); ms > 0 {
		query.Set("endpointing", strconv.FormatInt(ms, 10))
	}
	if ms := rc.PossiblyCompleteSilenceTimeout.Milliseconds(); ms > 0 {
		// Deepgram rejects utterance_end_ms below 1000
		if ms < 1000 {
			ms = 1000
		}
		query.Set("utterance_end_ms", strconv.FormatInt(ms, 10))
	}
	if cfg.Language != "" {
		query.Set("language", cfg.Language)
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}

func classifyDialError(resp *http.Response, err error) domain.RecognitionErrorCode {
	if resp != nil {
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return domain.RecognitionErrorInsufficientPermissions
		case resp.StatusCode == http.StatusTooManyRequests:
			return domain.RecognitionErrorRecognizerBusy
		case resp.StatusCode >= 500:
			return domain.RecognitionErrorServer
		default:
			return domain.RecognitionErrorClient
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.RecognitionErrorNetworkTimeout
	}
	return domain.RecognitionErrorNetwork
}
