// Package signaling implements the C6 browser-facing WebSocket loop: a
// per-connection turn session driven by inbound audio_chunk frames, plus
// the HTTP endpoint the browser polls to fetch synthesized reply audio.
package signaling

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/lokutor-ai/lokutor-voiceagent/pkg/orchestrator"
	"github.com/lokutor-ai/lokutor-voiceagent/pkg/prompt"
	"github.com/lokutor-ai/lokutor-voiceagent/pkg/reply"
	"github.com/lokutor-ai/lokutor-voiceagent/pkg/turn"
)

// Server wires the Turn Manager and Reply Pipeline to a WebSocket endpoint
// per session, plus the plain HTTP audio-fetch route.
type Server struct {
	Turn     *turn.Manager
	Pipeline *reply.Pipeline
	Prompt   *prompt.Assembler
	Logger   orchestrator.Logger

	// OriginPatterns lists extra accepted WebSocket origins; with nil, only
	// same-host origins and requests without an Origin header are accepted.
	OriginPatterns []string
}

// NewServer builds a Server. logger may be nil, in which case a no-op
// logger is used.
func NewServer(turnMgr *turn.Manager, pipeline *reply.Pipeline, assembler *prompt.Assembler, logger orchestrator.Logger) *Server {
	if logger == nil {
		logger = &orchestrator.NoOpLogger{}
	}
	return &Server{Turn: turnMgr, Pipeline: pipeline, Prompt: assembler, Logger: logger}
}

// Routes registers the voice endpoints on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/api/voice/start", s.handleStart)
	mux.HandleFunc("/api/voice/webrtc/", s.handleWebsocket)
	mux.HandleFunc("/api/voice/audio/", s.handleAudio)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	sid := uuid.NewString()
	s.Turn.Start(sid)
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "session_id": sid})
}

// conn wraps a websocket.Conn with a write mutex: the read loop and the
// fire-and-forget reply goroutine it spawns both send frames, and
// websocket.Conn does not allow concurrent writers.
type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *conn) send(ctx context.Context, out Outbound) error {
	payload, err := sonic.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal outbound frame: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.Write(ctx, websocket.MessageText, payload)
}

// handleWebsocket serves /api/voice/webrtc/{session_id}.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	sid := strings.TrimPrefix(r.URL.Path, "/api/voice/webrtc/")
	if sid == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.OriginPatterns})
	if err != nil {
		s.Logger.Error("signaling: accept failed", "session_id", sid, "error", err)
		return
	}
	c := &conn{ws: ws}
	defer c.ws.CloseNow()

	session := s.Turn.Get(sid)
	if session == nil {
		session = s.Turn.Start(sid)
	}
	s.Logger.Info("signaling: connected", "session_id", sid)

	ctx := r.Context()
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			s.Logger.Info("signaling: disconnected", "session_id", sid, "error", err)
			s.Turn.Remove(sid)
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var in Inbound
		if err := sonic.Unmarshal(data, &in); err != nil {
			s.Logger.Warn("signaling: invalid json", "session_id", sid)
			continue
		}

		if err := s.dispatch(ctx, c, sid, session, in); err != nil {
			s.Logger.Error("signaling: dispatch error", "session_id", sid, "error", err)
			c.send(ctx, Outbound{Type: outError, Error: err.Error()})
		}
	}
}

func (s *Server) dispatch(ctx context.Context, c *conn, sid string, session *turn.Session, in Inbound) error {
	switch in.Type {
	case inOffer:
		return c.send(ctx, Outbound{Type: outAnswer, SessionID: sid, Status: "ready"})

	case inAudio:
		chunk, err := base64.StdEncoding.DecodeString(in.Data)
		if err != nil {
			return fmt.Errorf("decode audio_chunk: %w", err)
		}
		result := session.PushChunk(ctx, chunk, in.Respond, s.Turn.VADParams())
		if err := c.send(ctx, Outbound{
			Type:       outProcessingResult,
			OK:         result.OK,
			Finalized:  result.Finalized,
			Transcript: result.Transcript,
			State:      string(result.State),
		}); err != nil {
			return err
		}
		if result.Finalized && in.Respond && result.Transcript != "" {
			go s.runReply(sid, c, session, result.Transcript)
		}
		return nil

	case inPing:
		return c.send(ctx, Outbound{Type: outPong})

	case inPlaybackOK:
		session.ClearProcessingFlag()
		return nil

	default:
		s.Logger.Warn("signaling: unknown message type", "session_id", sid, "type", in.Type)
		return nil
	}
}

// runReply executes the Reply Pipeline off the WebSocket read loop so a slow
// LLM/TTS round trip never blocks the next audio_chunk frame from being
// acknowledged, then emits audio_ready once the reply WAV is written. The
// browser also confirms readiness by polling /api/voice/audio/{session_id}
// with a cache-busting query parameter, so a lost audio_ready frame is not
// fatal to playback.
func (s *Server) runReply(sid string, c *conn, session *turn.Session, transcript string) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	systemPrompt, err := s.Prompt.Build()
	if err != nil {
		s.Logger.Error("signaling: prompt build failed", "session_id", sid, "error", err)
		session.ClearProcessingFlag()
		return
	}

	outcome := s.Pipeline.Run(ctx, session, systemPrompt, transcript)
	if outcome.Err != nil {
		s.Logger.Error("signaling: reply pipeline failed", "session_id", sid, "error", outcome.Err)
	}
	if !outcome.HasAudio {
		session.ClearProcessingFlag()
		return
	}

	audioURL := fmt.Sprintf("/api/voice/audio/%s?t=%d", sid, time.Now().UnixMilli())
	if err := c.send(ctx, Outbound{Type: outAudioReady, AudioPath: audioURL, AudioFile: outcome.AudioPath}); err != nil {
		s.Logger.Warn("signaling: audio_ready send failed", "session_id", sid, "error", err)
	}
}

// handleAudio serves GET /api/voice/audio/{session_id}, returning the most
// recently synthesized reply WAV for that session.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	sid := strings.TrimPrefix(r.URL.Path, "/api/voice/audio/")
	if sid == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}
	session := s.Turn.Get(sid)
	if session == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	path := session.LatestReplyWavPath()
	if path == "" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	payload, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(payload)
}
