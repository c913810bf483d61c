// Package audio holds the PCM plumbing shared by the speech panels and the
// provider backends: microphone capture abstractions, format conversion, WAV
// framing, Opus decoding and the frequency analyser behind the level meter.
//
// All sample data is 16-bit signed little-endian PCM.
package audio

import (
	"context"
	"errors"
)

var (
	// ErrPermissionDenied is returned by Source.Open when the user refused
	// microphone access.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")

	// ErrCaptureUnavailable is returned by Source.Open when no microphone can
	// be acquired (no device, client gone, capture already open).
	ErrCaptureUnavailable = errors.New("audio: capture unavailable")
)

// Source is a microphone that can be opened on demand. Each Open asks the
// user agent for access, so it may block until the user answers.
type Source interface {
	// Open acquires the microphone and starts delivering frames. It returns
	// ErrPermissionDenied if access is refused and ErrCaptureUnavailable if
	// no device can be opened. The caller owns the Stream and must Close it.
	Open(ctx context.Context) (Stream, error)
}

// Stream is an open microphone capture.
type Stream interface {
	// Format reports the format of the delivered frames.
	Format() Format

	// Frames returns the capture channel. It is closed when the capture ends,
	// either because Close was called or because the device went away.
	Frames() <-chan Frame

	// Close releases the microphone. Calling Close more than once is safe.
	Close() error
}
