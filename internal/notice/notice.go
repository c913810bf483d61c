// Package notice defines the user-facing error taxonomy shared by both panels
// and the messages shown to the client for each kind.
package notice

import (
	"errors"

	"github.com/MrWong99/voxconv/pkg/audio"
	"github.com/MrWong99/voxconv/pkg/provider/tts"
)

// Kind classifies a notice.
type Kind string

const (
	// KindPermissionDenied: microphone access was refused. The session is aborted.
	KindPermissionDenied Kind = "permission_denied"

	// KindCapabilityUnavailable: no provider backs the panel.
	KindCapabilityUnavailable Kind = "capability_unavailable"

	// KindEmptyInput: speak was requested with blank text.
	KindEmptyInput Kind = "empty_input"

	// KindInvalid: a control value was rejected (unknown voice or language,
	// rate or pitch out of range, busy panel).
	KindInvalid Kind = "invalid"

	// KindInfo is a plain informational message.
	KindInfo Kind = "info"
)

// Sentinel errors returned by panel operations.
var (
	// ErrEmptyInput is returned by Speak for whitespace-only text.
	ErrEmptyInput = errors.New("empty input")

	// ErrCapabilityUnavailable is returned by every control of a panel whose
	// provider is not configured.
	ErrCapabilityUnavailable = errors.New("speech capability unavailable")

	// ErrBusy is returned by Speak while an utterance is active.
	ErrBusy = errors.New("an utterance is already active")

	// ErrUnknownVoice is returned when a voice id is not in the catalog.
	ErrUnknownVoice = errors.New("unknown voice")

	// ErrUnknownLanguage is returned when a language is not offered.
	ErrUnknownLanguage = errors.New("unknown language")
)

// Notice is a message surfaced to the client.
type Notice struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// Static messages, matching what the client shows.
const (
	MsgPermissionDenied   = "Microphone access denied. Please allow microphone access to use speech recognition."
	MsgSynthesisMissing   = "Text-to-speech is not available on this server."
	MsgRecognitionMissing = "Speech recognition is not available on this server."
	MsgEmptyInput         = "Please enter some text to convert to speech."
)

// New returns a notice of the given kind.
func New(kind Kind, msg string) Notice {
	return Notice{Kind: kind, Message: msg}
}

// FromError maps an operation error to the notice shown to the client. The
// second result is false for errors that are not surfaced (transient
// recognition failures return silently to Idle).
func FromError(err error) (Notice, bool) {
	switch {
	case err == nil:
		return Notice{}, false
	case errors.Is(err, audio.ErrPermissionDenied):
		return New(KindPermissionDenied, MsgPermissionDenied), true
	case errors.Is(err, ErrEmptyInput), errors.Is(err, tts.ErrEmptyText):
		return New(KindEmptyInput, MsgEmptyInput), true
	case errors.Is(err, ErrCapabilityUnavailable):
		return New(KindCapabilityUnavailable, err.Error()), true
	case errors.Is(err, ErrBusy), errors.Is(err, ErrUnknownVoice),
		errors.Is(err, ErrUnknownLanguage), errors.Is(err, tts.ErrOutOfRange):
		return New(KindInvalid, err.Error()), true
	}
	return Notice{}, false
}
