package turn

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/lokutor-ai/lokutor-voiceagent/pkg/audio"
	"github.com/lokutor-ai/lokutor-voiceagent/pkg/orchestrator"
)

type stubASR struct {
	text string
}

func (a *stubASR) Transcribe(ctx context.Context, pcm []byte, lang orchestrator.Language) (string, error) {
	return a.text, nil
}
func (a *stubASR) Name() string { return "stub-asr" }

func newTestSession(t *testing.T, asrText string) (*Session, string) {
	t.Helper()
	dir := t.TempDir()
	// "cat" stands in for ffmpeg: it echoes whatever's piped to it, so no
	// real transcoder binary is needed.
	tr := audio.NewTranscoder("cat", "webm")
	s := New("sess-1", dir, tr, &stubASR{text: asrText})
	return s, dir
}

func TestPushChunkDiscardsWhenProcessingActive(t *testing.T) {
	s, _ := newTestSession(t, "hello")
	s.processingActive = true

	res := s.PushChunk(context.Background(), []byte{0x01, 0x02}, true, DefaultVADParams())
	if res.Finalized {
		t.Errorf("expected not finalized while processing active")
	}
	if res.State != StateSpeaking {
		t.Errorf("expected state speaking, got %s", res.State)
	}
	if s.chunkCount != 0 {
		t.Errorf("expected chunk not buffered while processing active, got chunkCount=%d", s.chunkCount)
	}
}

func TestPushChunkListensBelowTwoChunks(t *testing.T) {
	s, _ := newTestSession(t, "hello")
	res := s.PushChunk(context.Background(), []byte{0x01}, true, DefaultVADParams())
	if res.Finalized || res.State != StateListening {
		t.Errorf("expected listening on first chunk, got %+v", res)
	}
}

func TestAppendChunkCapturesEBMLHeader(t *testing.T) {
	s, _ := newTestSession(t, "hello")
	header := append([]byte{0x1A, 0x45, 0xDF, 0xA3}, []byte("rest-of-header")...)

	s.mu.Lock()
	s.appendChunk(header)
	s.mu.Unlock()

	if s.compressedHeader == nil {
		t.Fatalf("expected header captured")
	}
	if string(s.compressedHeader) != string(header) {
		t.Errorf("expected captured header to match input")
	}
}

func TestClearProcessingFlagIsIdempotent(t *testing.T) {
	s, _ := newTestSession(t, "hello")
	s.ClearProcessingFlag()
	s.processingActive = true
	s.ClearProcessingFlag()
	if s.ProcessingActive() {
		t.Errorf("expected processing flag cleared")
	}
}

func TestAppendHistoryTruncatesAtTwenty(t *testing.T) {
	s, _ := newTestSession(t, "hello")
	for i := 0; i < 25; i++ {
		s.AppendHistory("user", "msg")
	}
	if len(s.History()) != 20 {
		t.Errorf("expected history capped at 20, got %d", len(s.History()))
	}
}

func TestAdvanceSegmentPreservesHeaderAndBumpsIndex(t *testing.T) {
	s, dir := newTestSession(t, "hello")
	header := append([]byte{0x1A, 0x45, 0xDF, 0xA3}, []byte("hdr")...)
	s.mu.Lock()
	s.compressedHeader = header
	s.transcript = "hi there"
	s.mu.Unlock()

	s.advanceSegment()

	if s.segmentIndex != 1 {
		t.Errorf("expected segment index 1, got %d", s.segmentIndex)
	}
	if string(s.compressedHeader) != string(header) {
		t.Errorf("expected header preserved across advance")
	}
	if s.transcript != "" {
		t.Errorf("expected transcript reset after advance")
	}

	if _, err := os.Stat(s.segmentWavPath(0)); err == nil {
		t.Errorf("no wav bytes were buffered so no archival file should exist")
	}
	_ = dir
}

func TestRecordPlayedAudioNoopWithoutEchoSuppression(t *testing.T) {
	s, _ := newTestSession(t, "hello")
	// Should not panic when no EchoSuppressor is attached.
	s.RecordPlayedAudio(bytes.Repeat([]byte{0x01, 0x00}, 1000))
}

func TestEnableEchoSuppressionFeedsRecordedAudio(t *testing.T) {
	s, _ := newTestSession(t, "hello")
	es := orchestrator.NewEchoSuppressor()
	s.EnableEchoSuppression(es)

	played := bytes.Repeat([]byte{0x11, 0x22}, 2000)
	s.RecordPlayedAudio(played)

	if !es.IsEcho(played) {
		t.Errorf("expected suppressor to recognize played-back audio as echo")
	}
}
