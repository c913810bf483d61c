// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription service (e.g., Deepgram, OpenAI, or a
// local whisper.cpp server) and exposes a uniform streaming interface. The
// central abstraction is SessionHandle: once opened, a session accepts raw PCM
// audio frames and emits two streams of Transcript values. Partials are
// low-latency interim guesses that the caller shows and then replaces; finals
// are committed segments that the caller appends to its transcript.
//
// Implementations must be safe for concurrent use. Audio input and transcript
// output channels are goroutine-safe by construction.
package stt

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by SendAudio after the session has been closed.
var ErrSessionClosed = errors.New("stt: session is closed")

// StreamConfig describes the audio format and recognition behaviour for a new
// STT session. All fields must be compatible with what the underlying provider
// supports; see each provider's documentation for valid ranges.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Common values: 16000 (STT-optimised
	// mono), 48000 (browser capture).
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (required by most STT
	// providers). Implementors may downmix stereo internally.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US", "de-DE").
	// An empty string lets the provider auto-detect the language, if supported.
	Language string

	// Continuous keeps the session open across pauses in speech. When false the
	// provider may end the session after the first final segment.
	Continuous bool

	// InterimResults requests partial transcripts on the Partials channel.
	// Providers that cannot produce interim results leave Partials silent.
	InterimResults bool

	// MaxAlternatives caps the number of alternatives attached to each
	// transcript. Zero means one.
	MaxAlternatives int
}

// Alternatives returns the effective alternative count (at least one).
func (c StreamConfig) Alternatives() int {
	if c.MaxAlternatives < 1 {
		return 1
	}
	return c.MaxAlternatives
}

// SessionHandle represents an open STT streaming session. It is an interface so
// that test code can provide mock implementations without requiring a live provider
// connection.
//
// Callers must call Close when the session is no longer needed. Failing to do so
// may leak goroutines and network connections inside the provider implementation.
// All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw 16-bit little-endian PCM audio to the
	// provider. The chunk should match the SampleRate and Channels agreed in
	// StreamConfig. Calling SendAudio after Close returns ErrSessionClosed.
	SendAudio(chunk []byte) error

	// Partials returns a read-only channel that emits interim Transcript values
	// as the provider makes preliminary guesses. Each value supersedes the
	// previous one. The channel is closed when the session ends.
	Partials() <-chan Transcript

	// Finals returns a read-only channel that emits committed Transcript values
	// in recognition order. The channel is closed when the session ends.
	Finals() <-chan Transcript

	// Err reports why the session ended. It returns nil while the session is
	// running and after a normal end (Close or provider-side end of stream).
	Err() error

	// Close terminates the session, flushes any pending audio, and releases all
	// associated resources. After Close returns, the Partials and Finals channels
	// will be closed. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use. Multiple sessions may be open
// simultaneously (one per connected client).
type Provider interface {
	// StartStream opens a new streaming transcription session with the given audio
	// format and recognition configuration. The returned SessionHandle is ready to
	// accept audio immediately.
	//
	// Returns an error if the provider cannot establish the session (e.g.,
	// authentication failure, unsupported configuration, or ctx already cancelled).
	// The caller owns the SessionHandle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
