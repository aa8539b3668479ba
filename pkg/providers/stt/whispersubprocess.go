package stt

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/lokutor-ai/lokutor-voiceagent/pkg/orchestrator"
)

// whisperTimeout is the ASR safety cap from SPEC_FULL.md §5.
const whisperTimeout = 300 * time.Second

// WhisperSubprocessSTT transcribes by piping WAV bytes into a local
// whisper.cpp-style binary over stdin and reading the transcript from
// stdout, mirroring pkg/audio.Transcoder's subprocess pattern (C2) rather
// than a cloud API client.
type WhisperSubprocessSTT struct {
	// Bin is the WHISPER_BIN binary path.
	Bin string
	// Model is passed as the model argument (WHISPER_MODEL), e.g. a ggml
	// model path or name understood by Bin.
	Model string
}

// NewWhisperSubprocessSTT builds a WhisperSubprocessSTT. bin and model are
// required; callers should check both are non-empty before wiring this
// provider, since there's no sane default local binary to fall back to.
func NewWhisperSubprocessSTT(bin, model string) *WhisperSubprocessSTT {
	return &WhisperSubprocessSTT{Bin: bin, Model: model}
}

// Transcribe runs the subprocess once per call; faster-whisper-style model
// residency/caching is out of scope for a CLI wrapper, the binary itself is
// responsible for any model caching it wants to do between invocations.
func (w *WhisperSubprocessSTT) Transcribe(ctx context.Context, wav []byte, lang orchestrator.Language) (string, error) {
	if w.Bin == "" || w.Model == "" {
		return "", fmt.Errorf("whisper subprocess: WHISPER_BIN and WHISPER_MODEL must both be set")
	}
	if len(wav) == 0 {
		return "", fmt.Errorf("whisper subprocess: empty wav input")
	}

	ctx, cancel := context.WithTimeout(ctx, whisperTimeout)
	defer cancel()

	args := []string{"-m", w.Model, "-f", "-", "-l", string(lang), "-nt"}
	cmd := exec.CommandContext(ctx, w.Bin, args...)
	cmd.Stdin = bytes.NewReader(wav)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("whisper subprocess: transcription failed: %w (stderr: %s)", err, lastBytes(stderr.Bytes(), 500))
	}

	return strings.TrimSpace(stdout.String()), nil
}

func (w *WhisperSubprocessSTT) Name() string {
	return "whisper-subprocess"
}

func lastBytes(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[len(b)-n:]
}
