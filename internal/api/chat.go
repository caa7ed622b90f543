// Package api exposes the text-to-speech pipeline over HTTP and WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-relay/internal/llm"
	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/lexiqai/voice-relay/internal/pipeline"
)

const missingTextMessage = "Please provide 'text' in request body"

// Response headers set on a successful chat request
const (
	HeaderRequestID     = "X-Request-ID"
	HeaderSentenceCount = "X-Sentence-Count"
	HeaderSkippedChunks = "X-Skipped-Chunks"
)

// ChatRequest is the body of POST /api/chat and the first WebSocket message
type ChatRequest struct {
	Text string `json:"text"`
}

// Options configures a Server
type Options struct {
	SystemPrompt   string
	MaxTextLength  int           // Characters, 0 = unlimited
	RequestTimeout time.Duration // 0 = none
}

// Server answers chat requests with synthesized speech
type Server struct {
	chat         llm.Provider
	orchestrator *pipeline.Orchestrator
	opts         Options
}

// NewServer creates a Server
func NewServer(chat llm.Provider, orchestrator *pipeline.Orchestrator, opts Options) *Server {
	return &Server{chat: chat, orchestrator: orchestrator, opts: opts}
}

// Register adds the chat routes to mux
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/chat", s.HandleChat())
	mux.HandleFunc("/api/chat/ws", s.HandleChatWS())
}

// requestError is a client mistake detected before the pipeline runs
type requestError struct {
	status  int
	kind    string
	message string
}

func (e *requestError) Error() string {
	return e.message
}

// validate checks the text of a chat request and returns it trimmed
func (s *Server) validate(req ChatRequest) (string, *requestError) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return "", &requestError{http.StatusBadRequest, KindInvalidRequest, missingTextMessage}
	}
	if n := utf8.RuneCountInString(text); s.opts.MaxTextLength > 0 && n > s.opts.MaxTextLength {
		return "", &requestError{
			http.StatusRequestEntityTooLarge,
			KindTooLarge,
			fmt.Sprintf("Text is %d characters, the limit is %d", n, s.opts.MaxTextLength),
		}
	}
	return text, nil
}

// bodyLimit bounds the JSON body so oversized text is rejected without reading it all
func (s *Server) bodyLimit() int64 {
	if s.opts.MaxTextLength <= 0 {
		return 1 << 20
	}
	// Escaped JSON can take up to 6 bytes per character
	return int64(s.opts.MaxTextLength)*6 + 1024
}

// requestContext derives the pipeline context with a request logger and deadline
func (s *Server) requestContext(parent context.Context, requestID string) (context.Context, context.CancelFunc, zerolog.Logger) {
	logger := observability.WithRequestID(requestID)
	ctx := observability.ContextWithLogger(parent, logger)

	var cancel context.CancelFunc
	if s.opts.RequestTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	return ctx, cancel, logger
}

// synthesize streams a reply to text from the model through the pipeline
func (s *Server) synthesize(ctx context.Context, text string, metrics *observability.Metrics, opts ...pipeline.RunOption) (*pipeline.Artifact, error) {
	metrics.RecordLLMStart()
	tokens, err := s.chat.StreamChat(ctx, llm.Conversation(s.opts.SystemPrompt, text))
	if err != nil {
		metrics.RecordLLMEnd(false)
		return nil, fmt.Errorf("%w: %w", pipeline.ErrStream, err)
	}

	return s.orchestrator.Run(ctx, tokens, append(opts, pipeline.WithMetrics(metrics))...)
}

// HandleChat serves POST /api/chat and answers with a single WAV
func (s *Server) HandleChat() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = observability.NewRequestID()
		}
		w.Header().Set(HeaderRequestID, requestID)

		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeError(w, http.StatusMethodNotAllowed, KindInvalidRequest, "Method not allowed", requestID)
			return
		}

		metrics := observability.NewRequestMetrics()
		metrics.RecordRequestStart()
		status := "error"
		defer func() { metrics.RecordRequestEnd(status) }()

		var req ChatRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.bodyLimit())).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, KindTooLarge, "Request body too large", requestID)
				return
			}
			writeError(w, http.StatusBadRequest, KindInvalidRequest, missingTextMessage, requestID)
			return
		}

		text, reqErr := s.validate(req)
		if reqErr != nil {
			writeError(w, reqErr.status, reqErr.kind, reqErr.message, requestID)
			return
		}

		ctx, cancel, logger := s.requestContext(r.Context(), requestID)
		defer cancel()

		logger.Info().Int("text_length", len(text)).Msg("Chat request received")

		artifact, err := s.synthesize(ctx, text, metrics)
		if err != nil {
			code, kind := classify(err)
			metrics.RecordError(kind, "api")
			logger.Error().Err(err).Int("status", code).Str("kind", kind).Msg("Chat request failed")
			writeError(w, code, kind, err.Error(), requestID)
			return
		}

		status = "success"
		w.Header().Set("Content-Type", artifact.ContentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(artifact.Audio)))
		w.Header().Set(HeaderSentenceCount, strconv.Itoa(artifact.Sentences))
		w.Header().Set(HeaderSkippedChunks, strconv.Itoa(len(artifact.Failed)+len(artifact.Skipped)))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(artifact.Audio); err != nil {
			logger.Warn().Err(err).Msg("Failed to write audio response")
		}
	}
}
