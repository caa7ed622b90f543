package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-relay/internal/dispatch"
	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/lexiqai/voice-relay/internal/pipeline"
	"github.com/lexiqai/voice-relay/internal/segment"
)

const (
	writeWait   = 10 * time.Second
	requestWait = 30 * time.Second // Time allowed for the client to send its request
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Browser clients may be served from any origin
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 64 * 1024,
}

// WebSocket event types
const (
	EventSentence    = "sentence"
	EventSynthesized = "synthesized"
	EventDone        = "done"
	EventError       = "error"
)

// SentenceEvent announces a sentence handed to synthesis
type SentenceEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// SynthesizedEvent reports the outcome of one sentence
type SynthesizedEvent struct {
	Type      string `json:"type"`
	Index     int    `json:"index"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// DoneEvent follows the binary audio message
type DoneEvent struct {
	Type        string `json:"type"`
	RequestID   string `json:"request_id"`
	Text        string `json:"text"`
	Sentences   int    `json:"sentences"`
	Synthesized int    `json:"synthesized"`
	Skipped     int    `json:"skipped"`
	DurationMS  int64  `json:"duration_ms"`
	Bytes       int    `json:"bytes"`
}

// ErrorEvent ends a failed session
type ErrorEvent struct {
	Type      string `json:"type"`
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	RequestID string `json:"request_id"`
}

// wsSession serializes writes to one connection; the pipeline reports
// progress from several goroutines.
type wsSession struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	logger zerolog.Logger
}

func (s *wsSession) writeJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

func (s *wsSession) writeAudio(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.BinaryMessage, b)
}

func (s *wsSession) close(code int, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}

func (s *wsSession) OnSentence(u segment.Unit) {
	if err := s.writeJSON(SentenceEvent{Type: EventSentence, Index: u.Index, Text: u.Text}); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to send sentence event")
	}
}

func (s *wsSession) OnSynthesized(r dispatch.Result) {
	evt := SynthesizedEvent{Type: EventSynthesized, Index: r.Index, OK: r.OK(), LatencyMS: r.Latency.Milliseconds()}
	if r.Err != nil {
		evt.Error = r.Err.Error()
	}
	if err := s.writeJSON(evt); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to send synthesized event")
	}
}

// HandleChatWS serves GET /api/chat/ws. The client sends one ChatRequest and
// receives progress events, the WAV as a binary message, then a done or error event.
func (s *Server) HandleChatWS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger := observability.GetLogger()
			logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
			return
		}
		defer conn.Close()

		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = observability.NewRequestID()
		}

		ctx, cancel, logger := s.requestContext(r.Context(), requestID)
		defer cancel()

		session := &wsSession{conn: conn, logger: logger}
		fail := func(code int, kind, message string) {
			session.writeJSON(ErrorEvent{Type: EventError, Error: message, Kind: kind, RequestID: requestID})
			session.close(code, kind)
		}

		conn.SetReadLimit(s.bodyLimit())
		conn.SetReadDeadline(time.Now().Add(requestWait))

		var req ChatRequest
		if err := conn.ReadJSON(&req); err != nil {
			logger.Debug().Err(err).Msg("Failed to read WebSocket chat request")
			fail(websocket.ClosePolicyViolation, KindInvalidRequest, missingTextMessage)
			return
		}
		conn.SetReadDeadline(time.Time{})

		text, reqErr := s.validate(req)
		if reqErr != nil {
			fail(websocket.ClosePolicyViolation, reqErr.kind, reqErr.message)
			return
		}

		// A client that goes away cancels the pipeline
		go func() {
			for {
				if _, _, err := conn.NextReader(); err != nil {
					cancel()
					return
				}
			}
		}()

		metrics := observability.NewRequestMetrics()
		metrics.RecordRequestStart()
		status := "error"
		defer func() { metrics.RecordRequestEnd(status) }()

		logger.Info().Int("text_length", len(text)).Msg("WebSocket chat request received")

		artifact, err := s.synthesize(ctx, text, metrics, pipeline.WithObserver(session))
		if err != nil {
			_, kind := classify(err)
			metrics.RecordError(kind, "api")
			logger.Error().Err(err).Str("kind", kind).Msg("WebSocket chat request failed")
			fail(websocket.CloseInternalServerErr, kind, err.Error())
			return
		}

		if err := session.writeAudio(artifact.Audio); err != nil {
			logger.Warn().Err(err).Msg("Failed to send audio")
			return
		}
		session.writeJSON(DoneEvent{
			Type:        EventDone,
			RequestID:   requestID,
			Text:        artifact.Text,
			Sentences:   artifact.Sentences,
			Synthesized: artifact.Synthesized,
			Skipped:     len(artifact.Failed) + len(artifact.Skipped),
			DurationMS:  artifact.Duration.Milliseconds(),
			Bytes:       len(artifact.Audio),
		})
		session.close(websocket.CloseNormalClosure, "")
		status = "success"
	}
}
