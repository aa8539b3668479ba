package orchestrator

import (
	"math"
	"time"
)

// RMSVAD is a simple Root Mean Square based Voice Activity Detector
// It's useful as a lightweight, no-dependency default.
type RMSVAD struct {
	threshold    float64
	silenceLimit time.Duration
	isSpeaking   bool
	silenceStart time.Time

	// Hysteresis and confirmed speech detection
	consecutiveFrames int
	minConfirmed      int
	lastRMS           float64

	// Adaptive noise floor tracking. When enabled, the effective threshold
	// drifts toward 3x the running noise floor observed during non-speech
	// (frames at or below the current cutoff), so it rises with background
	// noise that stays under that cutoff.
	adaptiveMode bool
	noiseFloor   float64
}

// NewRMSVAD creates a new RMS-based VAD
func NewRMSVAD(threshold float64, silenceLimit time.Duration) *RMSVAD {
	return &RMSVAD{
		threshold:    threshold,
		silenceLimit: silenceLimit,
		minConfirmed: 7, // Require ~70-100ms of continuous sound to trigger snappier barge-in
		adaptiveMode: true,
	}
}

// SetMinConfirmed sets the number of consecutive frames needed to confirm speech start
func (v *RMSVAD) SetMinConfirmed(count int) {
	v.minConfirmed = count
}

// MinConfirmed returns the number of consecutive frames needed to confirm speech start
func (v *RMSVAD) MinConfirmed() int {
	return v.minConfirmed
}

// SetAdaptiveMode enables or disables noise-floor-relative threshold drift.
func (v *RMSVAD) SetAdaptiveMode(enabled bool) {
	v.adaptiveMode = enabled
}

// SetThreshold updates the RMS threshold
func (v *RMSVAD) SetThreshold(threshold float64) {
	v.threshold = threshold
}

// Threshold returns the current RMS threshold
func (v *RMSVAD) Threshold() float64 {
	return v.threshold
}

// LastRMS returns the RMS of the last processed chunk
func (v *RMSVAD) LastRMS() float64 {
	return v.lastRMS
}

// IsSpeaking returns true if speech is currently detected
func (v *RMSVAD) IsSpeaking() bool {
	return v.isSpeaking
}

func (v *RMSVAD) Process(chunk []byte) (*VADEvent, error) {
	rms := v.calculateRMS(chunk)
	v.lastRMS = rms
	now := time.Now()

	effectiveThreshold := v.threshold
	if v.adaptiveMode {
		if floor := v.noiseFloor * 3; floor > effectiveThreshold {
			effectiveThreshold = floor
		}
		// Frames above the cutoff count toward speech, not toward the floor.
		if !v.isSpeaking && rms <= effectiveThreshold {
			if v.noiseFloor == 0 {
				v.noiseFloor = rms
			} else {
				v.noiseFloor = 0.95*v.noiseFloor + 0.05*rms
			}
		}
	}

	if rms > effectiveThreshold {
		v.consecutiveFrames++
		if !v.isSpeaking {
			// Require a sequence of frames above threshold to filter out spikes and echo-onset pops
			if v.consecutiveFrames >= v.minConfirmed {
				v.isSpeaking = true
				return &VADEvent{Type: VADSpeechStart, Timestamp: now.UnixMilli()}, nil
			}
			return nil, nil // Still confirming
		}
		v.silenceStart = time.Time{} // Reset silence timer
		return nil, nil
	}

	// Below threshold
	v.consecutiveFrames = 0

	if v.isSpeaking {
		if v.silenceStart.IsZero() {
			v.silenceStart = now
		}

		if now.Sub(v.silenceStart) >= v.silenceLimit {
			v.isSpeaking = false
			v.silenceStart = time.Time{}
			return &VADEvent{Type: VADSpeechEnd, Timestamp: now.UnixMilli()}, nil
		}
	}

	return &VADEvent{Type: VADSilence, Timestamp: now.UnixMilli()}, nil
}

func (v *RMSVAD) Name() string {
	return "rms_vad"
}

func (v *RMSVAD) Reset() {
	v.isSpeaking = false
	v.silenceStart = time.Time{}
	v.consecutiveFrames = 0
}

func (v *RMSVAD) Clone() VADProvider {
	return &RMSVAD{
		threshold:    v.threshold,
		silenceLimit: v.silenceLimit,
		minConfirmed: v.minConfirmed,
		adaptiveMode: v.adaptiveMode,
	}
}

// Span is an ordered speech interval, in seconds, within a PCM buffer.
type Span struct {
	StartS float64
	EndS   float64
}

// Segments is the stateless VAD-gate contract: given a mono float32 PCM
// buffer sampled at sr Hz, it returns the ordered speech spans using the same
// RMS-energy technique RMSVAD uses for its streaming event form, just
// windowed over a fixed buffer instead of a running stream. No state is
// shared across calls.
//
// threshold is compared against RMS energy per fixed 20 ms frame;
// minSilenceMs of consecutive below-threshold frames ends
// a span. Runs of speech shorter than minSpeechMs are dropped.
func Segments(pcm []float32, sr int, threshold float64, minSpeechMs, minSilenceMs int) []Span {
	if len(pcm) == 0 || sr <= 0 {
		return nil
	}
	if minSpeechMs <= 0 {
		minSpeechMs = 100
	}
	if minSilenceMs <= 0 {
		minSilenceMs = 500
	}

	frameSamples := sr * 20 / 1000 // 20ms frames
	if frameSamples <= 0 {
		frameSamples = 1
	}
	minSpeechFrames := (minSpeechMs + 19) / 20
	minSilenceFrames := (minSilenceMs + 19) / 20

	type rawSpan struct{ startFrame, endFrame int }
	var raw []rawSpan
	inSpeech := false
	silenceRun := 0
	speechStart := 0

	numFrames := (len(pcm) + frameSamples - 1) / frameSamples
	for f := 0; f < numFrames; f++ {
		start := f * frameSamples
		end := start + frameSamples
		if end > len(pcm) {
			end = len(pcm)
		}
		frame := pcm[start:end]

		var sum float64
		for _, s := range frame {
			sv := float64(s)
			sum += sv * sv
		}
		rms := 0.0
		if len(frame) > 0 {
			rms = math.Sqrt(sum / float64(len(frame)))
		}

		if rms > threshold {
			if !inSpeech {
				inSpeech = true
				speechStart = f
			}
			silenceRun = 0
		} else if inSpeech {
			silenceRun++
			if silenceRun >= minSilenceFrames {
				endFrame := f - silenceRun + 1
				if endFrame-speechStart >= minSpeechFrames {
					raw = append(raw, rawSpan{speechStart, endFrame})
				}
				inSpeech = false
				silenceRun = 0
			}
		}
	}
	if inSpeech {
		endFrame := numFrames - silenceRun
		if endFrame-speechStart >= minSpeechFrames {
			raw = append(raw, rawSpan{speechStart, endFrame})
		}
	}

	spans := make([]Span, 0, len(raw))
	for _, r := range raw {
		spans = append(spans, Span{
			StartS: float64(r.startFrame*frameSamples) / float64(sr),
			EndS:   float64(r.endFrame*frameSamples) / float64(sr),
		})
	}
	return spans
}

func (v *RMSVAD) calculateRMS(chunk []byte) float64 {
	if len(chunk) == 0 {
		return 0
	}

	var sum float64
	// Assuming 16-bit PCM (2 bytes per sample)
	for i := 0; i < len(chunk)-1; i += 2 {
		sample := int16(chunk[i]) | (int16(chunk[i+1]) << 8)
		f := float64(sample) / 32768.0
		sum += f * f
	}

	return math.Sqrt(sum / float64(len(chunk)/2))
}
