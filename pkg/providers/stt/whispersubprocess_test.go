package stt

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/lokutor-ai/lokutor-voiceagent/pkg/orchestrator"
)

// writeFakeWhisper writes a script that ignores its argv and echoes a fixed
// transcript, standing in for a real whisper.cpp-style binary in tests.
func writeFakeWhisper(t *testing.T, transcript string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-whisper.sh")
	script := "#!/bin/sh\ncat >/dev/null\necho '" + transcript + "'\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("writing fake whisper binary: %v", err)
	}
	return path
}

func TestWhisperSubprocessReturnsTrimmedTranscript(t *testing.T) {
	w := NewWhisperSubprocessSTT(writeFakeWhisper(t, "hello world"), "fake-model")
	text, err := w.Transcribe(context.Background(), []byte("  some wav bytes  "), orchestrator.LanguageEn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("expected trimmed transcript, got %q", text)
	}
	if w.Name() != "whisper-subprocess" {
		t.Errorf("unexpected provider name: %s", w.Name())
	}
}

func TestWhisperSubprocessRequiresBinAndModel(t *testing.T) {
	w := NewWhisperSubprocessSTT("", "")
	_, err := w.Transcribe(context.Background(), []byte("x"), orchestrator.LanguageEn)
	if err == nil {
		t.Fatalf("expected error for missing bin/model")
	}
}

func TestWhisperSubprocessRejectsEmptyInput(t *testing.T) {
	w := NewWhisperSubprocessSTT(writeFakeWhisper(t, "unused"), "fake-model")
	_, err := w.Transcribe(context.Background(), nil, orchestrator.LanguageEn)
	if err == nil {
		t.Fatalf("expected error for empty input")
	}
}

func TestWhisperSubprocessErrorsOnMissingBinary(t *testing.T) {
	w := NewWhisperSubprocessSTT("definitely-not-a-real-binary", "m")
	_, err := w.Transcribe(context.Background(), []byte("x"), orchestrator.LanguageEn)
	if err == nil {
		t.Fatalf("expected error for missing binary")
	}
}
