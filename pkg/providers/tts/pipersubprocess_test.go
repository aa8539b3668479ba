package tts

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lokutor-ai/lokutor-voiceagent/pkg/orchestrator"
)

// writeFakePiper writes a script that locates the -f output path in its argv
// and writes fixed WAV bytes there, standing in for the real piper binary.
// A nonzero delay makes the script sleep before writing, for tests that need
// to race it against a concurrent Abort call.
func writeFakePiper(t *testing.T, wav string, delay string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-piper.sh")
	sleep := ""
	if delay != "" {
		sleep = "sleep " + delay + "\n"
	}
	script := "#!/bin/sh\ncat >/dev/null\n" + sleep + "out=\"\"\nwhile [ \"$#\" -gt 0 ]; do\n" +
		"  if [ \"$1\" = \"-f\" ]; then shift; out=\"$1\"; fi\n  shift\ndone\n" +
		"printf '" + wav + "' > \"$out\"\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("writing fake piper binary: %v", err)
	}
	return path
}

func TestPiperSubprocessSynthesizeReturnsWavBytes(t *testing.T) {
	p := NewPiperSubprocessTTS(writeFakePiper(t, "RIFFfakewav", ""), "en_US-amy-medium", false)
	out, err := p.Synthesize(context.Background(), "hello there", orchestrator.VoiceF1, orchestrator.LanguageEn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(out, []byte("RIFFfakewav")) {
		t.Fatalf("unexpected output: %q", out)
	}
	if p.Name() != "piper-subprocess" {
		t.Errorf("unexpected name: %s", p.Name())
	}
}

func TestPiperSubprocessStreamSynthesizeChunksOutput(t *testing.T) {
	p := NewPiperSubprocessTTS(writeFakePiper(t, "0123456789", ""), "en_US-amy-medium", false)

	var got []byte
	err := p.StreamSynthesize(context.Background(), "hi", orchestrator.VoiceF1, orchestrator.LanguageEn, func(chunk []byte) error {
		got = append(got, chunk...)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "0123456789" {
		t.Fatalf("unexpected reassembled output: %q", got)
	}
}

func TestPiperSubprocessRequiresVoice(t *testing.T) {
	p := NewPiperSubprocessTTS(writeFakePiper(t, "x", ""), "", false)
	_, err := p.Synthesize(context.Background(), "hello", orchestrator.VoiceF1, orchestrator.LanguageEn)
	if err == nil {
		t.Fatalf("expected error for missing voice")
	}
}

func TestPiperSubprocessRejectsEmptyText(t *testing.T) {
	p := NewPiperSubprocessTTS(writeFakePiper(t, "x", ""), "en_US-amy-medium", false)
	_, err := p.Synthesize(context.Background(), "", orchestrator.VoiceF1, orchestrator.LanguageEn)
	if err == nil {
		t.Fatalf("expected error for empty text")
	}
}

func TestPiperSubprocessErrorsOnMissingBinary(t *testing.T) {
	p := NewPiperSubprocessTTS("definitely-not-a-real-binary", "en_US-amy-medium", false)
	_, err := p.Synthesize(context.Background(), "hello", orchestrator.VoiceF1, orchestrator.LanguageEn)
	if err == nil {
		t.Fatalf("expected error for missing binary")
	}
}

func TestPiperSubprocessAbortDiscardsInFlightResult(t *testing.T) {
	p := NewPiperSubprocessTTS(writeFakePiper(t, "somebytes", "0.2"), "en_US-amy-medium", false)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Synthesize(context.Background(), "hello", orchestrator.VoiceF1, orchestrator.LanguageEn)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if err := p.Abort(); err != nil {
		t.Fatalf("unexpected error from Abort: %v", err)
	}

	if err := <-errCh; err == nil {
		t.Fatalf("expected in-flight synthesis interrupted by Abort to be discarded")
	}
}

func TestPiperSubprocessAbortDoesNotBlockLaterSynthesis(t *testing.T) {
	p := NewPiperSubprocessTTS(writeFakePiper(t, "somebytes", ""), "en_US-amy-medium", false)
	if err := p.Abort(); err != nil {
		t.Fatalf("unexpected error from Abort: %v", err)
	}
	out, err := p.Synthesize(context.Background(), "hello", orchestrator.VoiceF1, orchestrator.LanguageEn)
	if err != nil {
		t.Fatalf("expected synthesis started after Abort to succeed, got: %v", err)
	}
	if string(out) != "somebytes" {
		t.Fatalf("unexpected output: %q", out)
	}
}
