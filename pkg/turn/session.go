// Package turn implements the per-connection turn state machine: buffering
// compressed audio, periodically transcoding and VAD-segmenting it, and
// finalizing a transcript once trailing silence crosses a threshold. It is
// distinct from pkg/orchestrator's streaming ManagedStream: this package
// models the buffered, segment-based protocol in SPEC_FULL.md §4.4, built
// for the WebSocket signaling loop in pkg/signaling rather than a
// continuous barge-in capable audio device loop.
package turn

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-voiceagent/pkg/audio"
	"github.com/lokutor-ai/lokutor-voiceagent/pkg/orchestrator"
)

// State is the turn session's externally observable status.
type State string

const (
	StateListening State = "listening"
	StateRecording State = "recording"
	StateSpeaking  State = "speaking"
)

// Message is one conversation-history entry.
type Message struct {
	Role    string
	Content string
}

const maxHistory = 20

// conversionThrottle bounds how often Transcode is attempted per session.
const conversionThrottle = 300 * time.Millisecond

// minBufferBytes is the smallest compressed buffer worth attempting a
// transcode on.
const minBufferBytes = 500

// minNewAudioS is the minimum newly-available audio duration, in seconds,
// required before VAD is re-run.
const minNewAudioS = 0.5

// checkInterval is the cadence at which push_chunk re-checks for silence
// when chunk_count isn't a multiple of 4.
const checkInterval = 500 * time.Millisecond

// VADParams tunes the C3 VAD Gate call from push_chunk.
type VADParams struct {
	Threshold    float64
	MinSpeechMs  int
	MinSilenceMs int
}

// DefaultVADParams matches SPEC_FULL.md §4.3's call-site defaults.
func DefaultVADParams() VADParams {
	return VADParams{Threshold: 0.3, MinSpeechMs: 100, MinSilenceMs: 1000}
}

// Result is what push_chunk returns to the signaling loop.
type Result struct {
	OK         bool
	Finalized  bool
	Transcript string
	State      State
}

// Session is the per-connection TurnSession described in SPEC_FULL.md §3.
// All mutation happens under mu except the conversion lock, which is its
// own try-lock so a concurrent transcode attempt fails fast rather than
// blocking the caller.
type Session struct {
	mu sync.Mutex

	id  string
	dir string

	segmentIndex int

	compressedBuffer []byte
	compressedHeader []byte

	pcmBytes []byte
	pcmAudio []float32

	chunkCount        int
	lastDurationS     float64
	lastConversionTS  time.Time
	segmentStartTS    time.Time
	processingActive  bool
	conversationHistory []Message
	turnNumber        int
	transcript        string
	finalized         bool
	lastReplyWavPath  string

	conversionLock sync.Mutex

	transcoder *audio.Transcoder
	asr        orchestrator.STTProvider
	echo       *orchestrator.EchoSuppressor
}

// New creates a Session rooted at filepath.Join(baseDir, id) for archival.
// Directory creation failures are non-fatal: archival is best-effort per
// SPEC_FULL.md §3's lifecycle note.
func New(id, baseDir string, transcoder *audio.Transcoder, asr orchestrator.STTProvider) *Session {
	dir := filepath.Join(baseDir, id)
	_ = os.MkdirAll(dir, 0o755)
	return &Session{
		id:             id,
		dir:            dir,
		segmentStartTS: time.Now(),
		transcoder:     transcoder,
		asr:            asr,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// EnableEchoSuppression attaches the optional cross-correlation echo filter
// (SPEC_FULL.md §9 "Echo suppression") as a pre-VAD pass over buffered PCM,
// for deployments where processing_active alone lets through enough tail
// energy from the speakers to confuse the next turn's VAD. Call once, before
// the session starts receiving chunks.
func (s *Session) EnableEchoSuppression(es *orchestrator.EchoSuppressor) {
	s.mu.Lock()
	s.echo = es
	s.mu.Unlock()
}

// RecordPlayedAudio feeds synthesized reply audio into the echo suppressor
// so later IsEcho checks recognize it coming back through the microphone.
// A no-op if echo suppression isn't enabled for this session.
func (s *Session) RecordPlayedAudio(chunk []byte) {
	s.mu.Lock()
	es := s.echo
	s.mu.Unlock()
	if es != nil {
		es.RecordPlayedAudio(chunk)
	}
}

// ProcessingActive reports the half-duplex gate's current value.
func (s *Session) ProcessingActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processingActive
}

// ClearProcessingFlag re-arms the session after a reply completes playback,
// failed, or produced no audio. Safe to call redundantly.
func (s *Session) ClearProcessingFlag() {
	s.mu.Lock()
	s.processingActive = false
	s.mu.Unlock()
}

// History returns a snapshot of the conversation history, capped at 20
// entries per SPEC_FULL.md §3's invariant.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.conversationHistory))
	copy(out, s.conversationHistory)
	return out
}

// AppendHistory appends a message and truncates to the trailing 20.
func (s *Session) AppendHistory(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversationHistory = append(s.conversationHistory, Message{Role: role, Content: content})
	if len(s.conversationHistory) > maxHistory {
		s.conversationHistory = s.conversationHistory[len(s.conversationHistory)-maxHistory:]
	}
}

// IncrementTurn bumps turn_number after a reply is appended to history.
func (s *Session) IncrementTurn() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnNumber++
	return s.turnNumber
}

// segmentWavPath is where the current segment's WAV archival copy lives.
func (s *Session) segmentWavPath(index int) string {
	return filepath.Join(s.dir, fmt.Sprintf("segment_%d.wav", index))
}

func (s *Session) segmentWebmPath(index int) string {
	return filepath.Join(s.dir, fmt.Sprintf("segment_%d.webm", index))
}

// appendChunk archives data to the current segment's raw file and the
// in-memory buffer, capturing the container header on first sight.
func (s *Session) appendChunk(data []byte) {
	if f, err := os.OpenFile(s.segmentWebmPath(s.segmentIndex), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
		_, _ = f.Write(data)
		_ = f.Close()
	}

	if s.compressedHeader == nil {
		if h := audio.CaptureHeader(data); h != nil {
			s.compressedHeader = h
		}
	}

	s.compressedBuffer = append(s.compressedBuffer, data...)
	s.chunkCount++
}

// PushChunk is the C4 push_chunk algorithm from SPEC_FULL.md §4.4. respond
// tells the caller (signaling loop) whether a finalized, non-empty
// transcript should trigger the reply pipeline; PushChunk itself only
// clears processing_active when no reply will follow.
func (s *Session) PushChunk(ctx context.Context, data []byte, respond bool, vad VADParams) Result {
	s.mu.Lock()

	if s.processingActive {
		s.mu.Unlock()
		return Result{OK: true, Finalized: false, State: StateSpeaking}
	}

	s.appendChunk(data)

	if s.chunkCount < 2 {
		s.mu.Unlock()
		return Result{OK: true, Finalized: false, State: StateListening}
	}

	now := time.Now()
	var sinceLastCheck time.Duration
	if !s.lastConversionTS.IsZero() {
		sinceLastCheck = now.Sub(s.lastConversionTS)
	} else {
		sinceLastCheck = now.Sub(s.segmentStartTS)
	}
	shouldCheck := (s.chunkCount%4 == 0) || sinceLastCheck >= checkInterval
	if !shouldCheck {
		s.mu.Unlock()
		return Result{OK: true, Finalized: false, State: StateListening}
	}

	buf := make([]byte, len(s.compressedBuffer))
	copy(buf, s.compressedBuffer)
	header := s.compressedHeader
	lastConv := s.lastConversionTS
	s.mu.Unlock()

	converted, pcm, sampleRate, ok := s.tryConvert(ctx, buf, header, lastConv)
	if !ok {
		return Result{OK: true, Finalized: false, State: StateListening}
	}

	s.mu.Lock()
	echo := s.echo
	s.mu.Unlock()
	if echo != nil && echo.IsEcho(converted) {
		return Result{OK: true, Finalized: false, State: StateListening}
	}

	s.mu.Lock()
	s.pcmBytes = converted
	s.pcmAudio = pcm
	s.lastConversionTS = time.Now()
	duration := float64(len(pcm)) / float64(sampleRate)

	if duration-s.lastDurationS < minNewAudioS {
		s.mu.Unlock()
		return Result{OK: true, Finalized: false, State: StateListening}
	}
	s.lastDurationS = duration
	s.mu.Unlock()

	segments := orchestrator.Segments(pcm, sampleRate, vad.Threshold, vad.MinSpeechMs, vad.MinSilenceMs)
	lastEnd := 0.0
	for _, seg := range segments {
		if seg.EndS > lastEnd {
			lastEnd = seg.EndS
		}
	}
	silence := duration - lastEnd
	if silence < 0 {
		silence = 0
	}

	if silence*1000 < float64(vad.MinSilenceMs) {
		state := StateListening
		if duration-lastEnd < float64(vad.MinSilenceMs)/1000.0 {
			state = StateRecording
		}
		return Result{OK: true, Finalized: false, State: state}
	}

	// Silence threshold reached: set the half-duplex gate before any slow
	// operation. This is the critical barrier from SPEC_FULL.md §4.4 step 9.
	s.mu.Lock()
	s.processingActive = true
	wavBytes := s.pcmBytes
	s.mu.Unlock()

	transcript := ""
	if s.asr != nil && len(wavBytes) > 0 {
		text, err := s.asr.Transcribe(ctx, wavBytes, orchestrator.LanguageEn)
		if err == nil {
			transcript = text
		}
	}

	s.mu.Lock()
	s.transcript = transcript
	s.finalized = true
	if !respond || transcript == "" {
		s.processingActive = false
	}
	s.mu.Unlock()

	s.advanceSegment()

	return Result{OK: true, Finalized: true, Transcript: transcript, State: StateSpeaking}
}

// tryConvert runs the throttled, lock-guarded transcode + decode + VAD-input
// preparation step (push_chunk steps 5). It returns ok=false whenever the
// caller should simply keep listening: throttled, lock held, buffer too
// small, or the subprocess/decoder failed.
func (s *Session) tryConvert(ctx context.Context, buf, header []byte, lastConv time.Time) (wav []byte, pcm []float32, sampleRate int, ok bool) {
	if !s.conversionLock.TryLock() {
		return nil, nil, 0, false
	}
	defer s.conversionLock.Unlock()

	if !lastConv.IsZero() && time.Since(lastConv) < conversionThrottle {
		return nil, nil, 0, false
	}
	if len(buf) < minBufferBytes {
		return nil, nil, 0, false
	}
	if s.transcoder == nil {
		return nil, nil, 0, false
	}

	wavBytes, err := s.transcoder.Transcode(ctx, buf, header)
	if err != nil {
		return nil, nil, 0, false
	}

	samples, sr, err := audio.DecodeWavPCM16(wavBytes)
	if err != nil {
		return nil, nil, 0, false
	}

	return wavBytes, samples, sr, true
}

// advanceSegment is the C4 advance_segment algorithm: archives the
// finalized segment, bumps segment_index, and resets per-segment state
// while preserving compressed_header.
func (s *Session) advanceSegment() {
	s.conversionLock.Lock()
	defer s.conversionLock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	oldIndex := s.segmentIndex

	if data, err := os.ReadFile(s.segmentWebmPath(oldIndex)); err == nil {
		_ = os.WriteFile(filepath.Join(s.dir, fmt.Sprintf("segment_%d_final.webm", oldIndex)), data, 0o644)
	}
	if len(s.pcmBytes) > 0 {
		_ = os.WriteFile(s.segmentWavPath(oldIndex), s.pcmBytes, 0o644)
		_ = os.WriteFile(filepath.Join(s.dir, fmt.Sprintf("segment_%d_final.wav", oldIndex)), s.pcmBytes, 0o644)
	}
	if s.transcript != "" {
		_ = os.WriteFile(filepath.Join(s.dir, fmt.Sprintf("segment_%d_transcript.txt", oldIndex)), []byte(s.transcript), 0o644)
	}

	s.segmentIndex++
	s.finalized = false
	s.transcript = ""
	s.chunkCount = 0
	s.lastDurationS = 0
	s.lastConversionTS = time.Time{}
	s.segmentStartTS = time.Now()
	s.compressedBuffer = nil
	s.pcmBytes = nil
	s.pcmAudio = nil
	// compressedHeader intentionally preserved across segments.
}

// ReplyWavPath is where the reply pipeline should write the synthesized
// audio for the turn that just finalized. Calling it records the path as
// the session's latest, for LatestReplyWavPath to serve.
func (s *Session) ReplyWavPath(turnIndex int) string {
	path := filepath.Join(s.dir, fmt.Sprintf("reply_segment_%d.wav", turnIndex))
	s.mu.Lock()
	s.lastReplyWavPath = path
	s.mu.Unlock()
	return path
}

// LatestReplyWavPath returns the most recently recorded reply WAV path, or
// "" if no reply has been synthesized yet for this session.
func (s *Session) LatestReplyWavPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReplyWavPath
}
