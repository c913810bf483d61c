package audio

import (
	"fmt"
	"time"
)

// BytesPerSample is the size of one 16-bit PCM sample.
const BytesPerSample = 2

// Format describes the sample rate and channel count of a 16-bit PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns e.g. "48000Hz stereo".
func (f Format) String() string { return formatString(f.SampleRate, f.Channels) }

// Valid reports whether f describes a usable stream.
func (f Format) Valid() bool { return f.SampleRate > 0 && f.Channels > 0 }

// Duration returns the playback length of n bytes of PCM in this format.
func (f Format) Duration(n int) time.Duration {
	if !f.Valid() {
		return 0
	}
	bytesPerSec := f.SampleRate * f.Channels * BytesPerSample
	return time.Duration(int64(n) * int64(time.Second) / int64(bytesPerSec))
}

// Frame is a single chunk of 16-bit little-endian PCM captured from a
// microphone or produced by a synthesiser.
type Frame struct {
	// Data holds interleaved PCM samples.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for browser capture, 16000 for STT).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format returns the format of f.
func (f Frame) Format() Format { return Format{SampleRate: f.SampleRate, Channels: f.Channels} }

func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
