package audio

import (
	"encoding/binary"
	"fmt"
)

// DecodeWavPCM16 parses a canonical 16-bit PCM WAV file (the shape produced
// by Transcoder.Transcode and NewWavBuffer) into mono float32 samples in
// [-1, 1] plus the declared sample rate. Multi-channel input is downmixed
// by averaging channels.
func DecodeWavPCM16(wav []byte) (samples []float32, sampleRate int, err error) {
	if len(wav) < 44 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("decode wav: not a RIFF/WAVE file")
	}

	var channels int
	var bitsPerSample int
	var dataOffset, dataLen int

	pos := 12
	for pos+8 <= len(wav) {
		chunkID := string(wav[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[pos+4 : pos+8]))
		body := pos + 8

		switch chunkID {
		case "fmt ":
			if body+16 > len(wav) {
				return nil, 0, fmt.Errorf("decode wav: truncated fmt chunk")
			}
			channels = int(binary.LittleEndian.Uint16(wav[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(wav[body+4 : body+8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(wav[body+14 : body+16]))
		case "data":
			dataOffset = body
			dataLen = chunkSize
		}

		pos = body + chunkSize
		if chunkSize%2 == 1 {
			pos++ // chunks are word-aligned
		}
	}

	if dataOffset == 0 || dataLen == 0 {
		return nil, 0, fmt.Errorf("decode wav: missing data chunk")
	}
	if bitsPerSample != 16 {
		return nil, 0, fmt.Errorf("decode wav: unsupported bit depth %d", bitsPerSample)
	}
	if dataOffset+dataLen > len(wav) {
		dataLen = len(wav) - dataOffset
	}
	if channels < 1 {
		channels = 1
	}

	data := wav[dataOffset : dataOffset+dataLen]
	frameBytes := 2 * channels
	numFrames := len(data) / frameBytes
	samples = make([]float32, numFrames)

	for i := 0; i < numFrames; i++ {
		var sum int32
		for c := 0; c < channels; c++ {
			off := i*frameBytes + c*2
			v := int16(binary.LittleEndian.Uint16(data[off : off+2]))
			sum += int32(v)
		}
		avg := float32(sum) / float32(channels)
		samples[i] = avg / 32768.0
	}

	return samples, sampleRate, nil
}
