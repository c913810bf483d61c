// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs, OpenAI,
// Coqui, or a local Piper binary) and presents a uniform streaming interface.
// Synthesize accepts one Utterance and returns a channel of raw PCM audio bytes
// that emits as soon as the backend produces audio, so playback can begin
// before the whole utterance has been rendered.
//
// All providers emit 16-bit little-endian mono PCM at the sample rate they were
// constructed with.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis requests may
// run in parallel (one per connected client).
type Provider interface {
	// Synthesize renders u and returns a channel that emits raw PCM audio byte
	// slices as they are synthesised.
	//
	// The returned audio channel is closed by the implementation when the whole
	// utterance has been delivered or when ctx is cancelled. The caller must drain
	// the audio channel to avoid blocking the provider's internal goroutines.
	//
	// Returns a non-nil error only if synthesis cannot be started. Errors
	// encountered during synthesis are signalled by closing the audio channel early;
	// callers should check ctx.Err() to distinguish cancellation from provider errors.
	Synthesize(ctx context.Context, u Utterance) (<-chan []byte, error)

	// ListVoices returns all voices available from this provider. The list
	// reflects the provider's current catalogue and may change between calls if the
	// underlying service adds or removes voices.
	//
	// Returns an error if the provider cannot be reached or if ctx is cancelled
	// before the list is retrieved.
	ListVoices(ctx context.Context) ([]Voice, error)
}
