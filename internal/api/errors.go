package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lexiqai/voice-relay/internal/audio"
	"github.com/lexiqai/voice-relay/internal/pipeline"
)

// Error kinds reported to clients
const (
	KindInvalidRequest = "invalid_request"
	KindTooLarge       = "too_large"
	KindStream         = "stream"
	KindNoSentences    = "no_sentences"
	KindSynthesis      = "synthesis"
	KindDecode         = "audio_decode"
	KindFormatMismatch = "format_mismatch"
	KindEncode         = "audio_encode"
	KindTimeout        = "timeout"
	KindCancelled      = "cancelled"
	KindInternal       = "internal"
)

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	RequestID string `json:"request_id,omitempty"`
}

// classify maps a pipeline error to an HTTP status and error kind
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, pipeline.ErrStream):
		return http.StatusBadGateway, KindStream
	case errors.Is(err, pipeline.ErrNoSentences):
		return http.StatusBadGateway, KindNoSentences
	case errors.Is(err, pipeline.ErrTotalSynthesisFailure):
		return http.StatusBadGateway, KindSynthesis
	case errors.Is(err, audio.ErrDecode):
		return http.StatusBadGateway, KindDecode
	case errors.Is(err, audio.ErrFormatMismatch):
		return http.StatusBadGateway, KindFormatMismatch
	case errors.Is(err, audio.ErrEncode):
		return http.StatusInternalServerError, KindEncode
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, KindTimeout
	case errors.Is(err, context.Canceled):
		// nginx's "client closed request"
		return 499, KindCancelled
	default:
		return http.StatusInternalServerError, KindInternal
	}
}

func writeError(w http.ResponseWriter, status int, kind, message, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message, Kind: kind, RequestID: requestID})
}
