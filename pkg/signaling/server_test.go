package signaling

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"

	"github.com/lokutor-ai/lokutor-voiceagent/pkg/audio"
	"github.com/lokutor-ai/lokutor-voiceagent/pkg/orchestrator"
	"github.com/lokutor-ai/lokutor-voiceagent/pkg/reply"
	"github.com/lokutor-ai/lokutor-voiceagent/pkg/turn"
)

type stubASR struct{ text string }

func (s *stubASR) Transcribe(ctx context.Context, audio []byte, lang orchestrator.Language) (string, error) {
	return s.text, nil
}
func (s *stubASR) Name() string { return "stub" }

func newTestServer(t *testing.T) (*httptest.Server, *turn.Manager) {
	t.Helper()
	dir := t.TempDir()
	transcoder := audio.NewTranscoder("cat", "webm")
	mgr := turn.NewManager(dir, transcoder, &stubASR{text: ""}, turn.DefaultVADParams())
	pipeline := &reply.Pipeline{}
	srv := NewServer(mgr, pipeline, nil, nil)

	mux := http.NewServeMux()
	srv.Routes(mux)
	return httptest.NewServer(mux), mgr
}

func TestHandleStartAssignsSession(t *testing.T) {
	server, _ := newTestServer(t)
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/voice/start", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestWebsocketOfferGetsAnswer(t *testing.T) {
	server, mgr := newTestServer(t)
	defer server.Close()
	mgr.Start("sess-1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/voice/webrtc/sess-1"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	req, _ := sonic.Marshal(Inbound{Type: "offer"})
	if err := conn.Write(ctx, websocket.MessageText, req); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var out Outbound
	if err := sonic.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Type != outAnswer || out.SessionID != "sess-1" {
		t.Errorf("unexpected answer frame: %+v", out)
	}
}

func TestWebsocketPingGetsPong(t *testing.T) {
	server, mgr := newTestServer(t)
	defer server.Close()
	mgr.Start("sess-2")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/voice/webrtc/sess-2"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	req, _ := sonic.Marshal(Inbound{Type: "ping"})
	conn.Write(ctx, websocket.MessageText, req)

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var out Outbound
	sonic.Unmarshal(data, &out)
	if out.Type != outPong {
		t.Errorf("expected pong, got %+v", out)
	}
}

func TestHandleAudioNotFoundForUnknownSession(t *testing.T) {
	server, _ := newTestServer(t)
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/voice/audio/unknown-sess")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}
