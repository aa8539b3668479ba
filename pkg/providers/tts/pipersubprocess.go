package tts

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-voiceagent/pkg/orchestrator"
)

// piperTimeout bounds a single synthesis invocation.
const piperTimeout = 30 * time.Second

// streamChunkBytes is the size StreamSynthesize slices the finished WAV into
// before handing it to onChunk, since the piper CLI writes a complete file
// rather than streaming frames itself.
const streamChunkBytes = 4096

// PiperSubprocessTTS synthesizes speech by invoking the piper CLI once per
// call with -f pointed at a scratch WAV file, mirroring how piper_runner.py
// drives the same binary through its Python bindings. It implements
// orchestrator.TTSProvider as a local, non-cloud alternative to LokutorTTS.
type PiperSubprocessTTS struct {
	// Bin is the piper binary path (default "piper").
	Bin string
	// Voice is the PIPER_VOICE model path/name.
	Voice string
	// UseCUDA requests GPU acceleration (USE_CUDA), passed through as
	// --cuda when supported by the binary.
	UseCUDA bool

	mu        sync.Mutex
	abortedAt time.Time
}

// NewPiperSubprocessTTS builds a PiperSubprocessTTS. bin defaults to "piper".
func NewPiperSubprocessTTS(bin, voice string, useCUDA bool) *PiperSubprocessTTS {
	if bin == "" {
		bin = "piper"
	}
	return &PiperSubprocessTTS{Bin: bin, Voice: voice, UseCUDA: useCUDA}
}

func (t *PiperSubprocessTTS) Synthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language) ([]byte, error) {
	if t.Voice == "" {
		return nil, fmt.Errorf("piper subprocess: PIPER_VOICE must be set")
	}
	if text == "" {
		return nil, fmt.Errorf("piper subprocess: empty text")
	}

	start := time.Now()

	dir, err := os.MkdirTemp("", "piper-tts-*")
	if err != nil {
		return nil, fmt.Errorf("piper subprocess: scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	outPath := filepath.Join(dir, "out.wav")

	ctx, cancel := context.WithTimeout(ctx, piperTimeout)
	defer cancel()

	args := []string{"-m", t.Voice, "-f", outPath}
	if t.UseCUDA {
		args = append(args, "--cuda")
	}

	cmd := exec.CommandContext(ctx, t.Bin, args...)
	cmd.Stdin = bytes.NewReader([]byte(text))

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("piper subprocess: synthesis failed: %w (stderr: %s)", err, lastBytes(stderr.Bytes(), 500))
	}

	if t.synthesisAbortedSince(start) {
		return nil, fmt.Errorf("piper subprocess: synthesis aborted")
	}

	wav, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("piper subprocess: reading output: %w", err)
	}
	if len(wav) == 0 {
		return nil, fmt.Errorf("piper subprocess: empty output file")
	}
	return wav, nil
}

// StreamSynthesize runs the same subprocess-backed synthesis as Synthesize
// and then replays the finished WAV to onChunk in fixed-size slices, since
// piper's CLI mode produces a complete file rather than a frame stream.
func (t *PiperSubprocessTTS) StreamSynthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language, onChunk func([]byte) error) error {
	streamStart := time.Now()
	wav, err := t.Synthesize(ctx, text, voice, lang)
	if err != nil {
		return err
	}

	for off := 0; off < len(wav); off += streamChunkBytes {
		end := off + streamChunkBytes
		if end > len(wav) {
			end = len(wav)
		}
		if t.synthesisAbortedSince(streamStart) {
			return fmt.Errorf("piper subprocess: synthesis aborted")
		}
		if err := onChunk(wav[off:end]); err != nil {
			return err
		}
	}
	return nil
}

// Abort marks any synthesis started before now as stale. The piper CLI
// subprocess itself can't be cancelled mid-write without corrupting the
// output file, so in-flight calls finish writing and then discard their
// result instead of returning it.
func (t *PiperSubprocessTTS) Abort() error {
	t.mu.Lock()
	t.abortedAt = time.Now()
	t.mu.Unlock()
	return nil
}

func (t *PiperSubprocessTTS) synthesisAbortedSince(start time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.abortedAt.After(start)
}

func (t *PiperSubprocessTTS) Name() string {
	return "piper-subprocess"
}

func lastBytes(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[len(b)-n:]
}
