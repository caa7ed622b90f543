package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lexiqai/voice-relay/internal/audio"
)

func dialChat(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	mux := http.NewServeMux()
	s.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readEvent(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var evt map[string]any
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("Invalid event %q: %v", data, err)
	}
	return evt
}

func TestHandleChatWS_Success(t *testing.T) {
	s := newTestServer(t, &fakeChat{fragments: []string{"Hello wor", "ld. How are", " you? Fine."}}, nil, Options{})
	conn := dialChat(t, s)

	if err := conn.WriteJSON(ChatRequest{Text: "Hi"}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	var sentences []string
	synthesized := 0
	var wav []byte
	var done map[string]any

	for done == nil {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage failed: %v", err)
		}
		if kind == websocket.BinaryMessage {
			wav = data
			continue
		}

		evt := readEvent(t, data)
		switch evt["type"] {
		case EventSentence:
			sentences = append(sentences, evt["text"].(string))
		case EventSynthesized:
			if evt["ok"] != true {
				t.Errorf("Expected successful synthesis, got %v", evt)
			}
			synthesized++
		case EventDone:
			done = evt
		case EventError:
			t.Fatalf("Unexpected error event %v", evt)
		}
	}

	want := []string{"Hello world.", "How are you?", "Fine."}
	if strings.Join(sentences, "|") != strings.Join(want, "|") {
		t.Errorf("Expected sentences %q, got %q", want, sentences)
	}
	if synthesized != 3 {
		t.Errorf("Expected 3 synthesized events, got %d", synthesized)
	}
	if wav == nil {
		t.Fatal("Expected a binary audio message before done")
	}
	if _, _, err := audio.Decode(wav); err != nil {
		t.Errorf("Audio message is not a WAV: %v", err)
	}
	if done["sentences"] != float64(3) || done["text"] != "Hello world. How are you? Fine." {
		t.Errorf("Unexpected done event %v", done)
	}
}

func TestHandleChatWS_InvalidRequest(t *testing.T) {
	s := newTestServer(t, &fakeChat{}, nil, Options{})
	conn := dialChat(t, s)

	if err := conn.WriteJSON(ChatRequest{Text: " "}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	evt := readEvent(t, data)
	if evt["type"] != EventError || evt["kind"] != KindInvalidRequest || evt["error"] != missingTextMessage {
		t.Errorf("Unexpected event %v", evt)
	}

	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("Expected policy violation close, got %v", err)
	}
}

func TestHandleChatWS_NotUpgraded(t *testing.T) {
	s := newTestServer(t, &fakeChat{}, nil, Options{})
	mux := http.NewServeMux()
	s.Register(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/chat/ws", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for a plain GET, got %d", rec.Code)
	}
}
