// Package tts turns single sentences into complete WAV containers using a
// remote speech synthesis backend.
package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lexiqai/voice-relay/internal/resilience"
)

// maxAudioBytes caps a single backend response
const maxAudioBytes = 32 << 20

// ErrEmptyAudio is returned when a backend answers successfully with no body
var ErrEmptyAudio = errors.New("backend returned empty audio")

// Synthesizer converts one sentence into a complete audio container.
// Implementations must be safe for concurrent use.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
	Name() string
}

// BackendError describes a failed synthesis call
type BackendError struct {
	Provider   string
	StatusCode int    // 0 when no HTTP response was received
	Message    string // Response body excerpt or reason
	Err        error
}

func (e *BackendError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s synthesis failed", e.Provider)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Temporary reports whether repeating the call may succeed
func (e *BackendError) Temporary() bool {
	switch {
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode >= 500:
		return true
	case e.StatusCode != 0:
		return false
	case errors.Is(e.Err, resilience.ErrCircuitOpen), errors.Is(e.Err, ErrEmptyAudio):
		return false
	default:
		return resilience.IsRetryableNetworkError(e.Err)
	}
}

// readAudio sends req and returns the response body of a successful call
func readAudio(client *http.Client, provider string, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, &BackendError{Provider: provider, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, &BackendError{Provider: provider, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &BackendError{Provider: provider, StatusCode: resp.StatusCode, Message: excerpt(body)}
	}
	if len(body) == 0 {
		return nil, &BackendError{Provider: provider, StatusCode: 0, Err: ErrEmptyAudio}
	}

	return body, nil
}

func excerpt(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}
