package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// pcmScale converts between float samples and 16-bit signed integers.
const pcmScale = 32768.0

// DecodeError reports an inbound audio payload that cannot be turned into a
// playable buffer.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("audio decode: %s: %v", e.Reason, e.Err)
	}
	return "audio decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Buffer is a block of de-interleaved float samples ready for playback.
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

// Frames returns the number of sample frames per channel.
func (b *Buffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the playback length in seconds.
func (b *Buffer) Duration() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// Float32ToPCM16 quantizes samples to little-endian signed 16-bit PCM.
//
// Samples are scaled by 32768 and truncated. Nothing is clamped: a sample
// outside [-1, 1] wraps around the int16 range.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(int32(float64(s) * pcmScale))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// EncodeOutbound turns captured microphone samples into the base64 payload
// sent to the speech service.
func EncodeOutbound(samples []float32) string {
	return base64.StdEncoding.EncodeToString(Float32ToPCM16(samples))
}

// DecodeInbound reverses EncodeOutbound for audio received from the speech
// service. Interleaved channels are split into separate slices.
func DecodeInbound(payload string, sampleRate, channels int) (*Buffer, error) {
	if channels < 1 {
		return nil, &DecodeError{Reason: fmt.Sprintf("invalid channel count %d", channels)}
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, &DecodeError{Reason: "invalid base64", Err: err}
	}
	if len(raw)%(2*channels) != 0 {
		return nil, &DecodeError{Reason: fmt.Sprintf("payload length %d is not a multiple of %d", len(raw), 2*channels)}
	}

	frames := len(raw) / (2 * channels)
	buf := &Buffer{SampleRate: sampleRate, Channels: make([][]float32, channels)}
	for ch := range buf.Channels {
		buf.Channels[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * 2
			sample := int16(binary.LittleEndian.Uint16(raw[off:]))
			buf.Channels[ch][i] = float32(float64(sample) / pcmScale)
		}
	}
	return buf, nil
}

// RMS returns the root mean square level of samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}
