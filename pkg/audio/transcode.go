package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// ebmlMagic is the first four bytes of a well-formed WebM/Matroska
// container, used to recognize a usable header chunk.
var ebmlMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}

// MaxHeaderBytes bounds how much of the first chunk is retained as a
// reusable container header.
const MaxHeaderBytes = 8192

// TranscodeTimeout is the hard ceiling on the external encoder subprocess.
const TranscodeTimeout = 5 * time.Second

// HasEBMLHeader reports whether data begins with a WebM/Matroska EBML
// magic sequence.
func HasEBMLHeader(data []byte) bool {
	return len(data) >= len(ebmlMagic) && bytes.Equal(data[:len(ebmlMagic)], ebmlMagic)
}

// CaptureHeader returns the portion of data (capped at MaxHeaderBytes) to
// retain as the session's reusable container header, or nil if data isn't
// a recognizable container header.
func CaptureHeader(data []byte) []byte {
	if !HasEBMLHeader(data) {
		return nil
	}
	n := len(data)
	if n > MaxHeaderBytes {
		n = MaxHeaderBytes
	}
	out := make([]byte, n)
	copy(out, data[:n])
	return out
}

// Transcoder runs a short-lived external encoder process to turn a
// compressed-audio buffer into 16 kHz mono PCM WAV. It is the C2 contract:
// transcode(compressed, header) -> pcm_wav | error.
type Transcoder struct {
	// Bin is the encoder binary path (FFMPEG_BIN), default "ffmpeg".
	Bin string
	// InputFormat is the container format ffmpeg should assume for stdin,
	// e.g. "webm".
	InputFormat string
}

// NewTranscoder builds a Transcoder. An empty bin defaults to "ffmpeg".
func NewTranscoder(bin, inputFormat string) *Transcoder {
	if bin == "" {
		bin = "ffmpeg"
	}
	if inputFormat == "" {
		inputFormat = "webm"
	}
	return &Transcoder{Bin: bin, InputFormat: inputFormat}
}

// Transcode converts compressed audio to 16kHz mono PCM16 WAV bytes. If
// header is non-empty and compressed does not already start with it, header
// is prepended first — mid-stream container fragments from a browser
// MediaRecorder typically lack the initial segment header.
func (t *Transcoder) Transcode(ctx context.Context, compressed []byte, header []byte) ([]byte, error) {
	payload := compressed
	if len(header) > 0 && (len(compressed) < len(header) || !bytes.Equal(compressed[:len(header)], header)) {
		payload = make([]byte, 0, len(header)+len(compressed))
		payload = append(payload, header...)
		payload = append(payload, compressed...)
	}

	ctx, cancel := context.WithTimeout(ctx, TranscodeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.Bin,
		"-y",
		"-err_detect", "ignore_err",
		"-f", t.InputFormat,
		"-i", "pipe:0",
		"-ar", "16000", "-ac", "1", "-c:a", "pcm_s16le",
		"-f", "wav",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("transcode: ffmpeg failed: %w (stderr: %s)", err, lastBytes(stderr.Bytes(), 500))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("transcode: no output produced")
	}
	return stdout.Bytes(), nil
}

func lastBytes(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[len(b)-n:]
}
