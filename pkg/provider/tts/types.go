package tts

import (
	"errors"
	"fmt"
	"strings"
)

// Rate and pitch bounds accepted by Utterance.Validate. 1.0 is the natural
// speaking rate and pitch of the voice.
const (
	MinRate  = 0.5
	MaxRate  = 2.0
	MinPitch = 0.5
	MaxPitch = 2.0
)

var (
	// ErrEmptyText is returned when an utterance has no speakable text.
	ErrEmptyText = errors.New("tts: text is empty")

	// ErrOutOfRange is returned when rate or pitch lies outside its bounds.
	ErrOutOfRange = errors.New("tts: value out of range")
)

// Voice describes one entry of a provider's voice catalogue.
type Voice struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Locale is the BCP-47 language tag of the voice, if known.
	Locale string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string
}

// Label renders the voice the way a picker shows it: "Name (locale)".
func (v Voice) Label() string {
	if v.Locale == "" {
		return v.Name
	}
	return fmt.Sprintf("%s (%s)", v.Name, v.Locale)
}

// Utterance is a single synthesis request. It is built when the user asks for
// speech and is not kept after it has been handed to a provider.
type Utterance struct {
	// Text is the text to speak.
	Text string

	// VoiceID selects the voice. Empty lets the provider pick its default.
	VoiceID string

	// Rate is the speaking rate multiplier in [MinRate, MaxRate].
	Rate float64

	// Pitch is the pitch multiplier in [MinPitch, MaxPitch]. Providers without
	// pitch control ignore it.
	Pitch float64
}

// Validate reports whether u can be synthesised.
func (u Utterance) Validate() error {
	if strings.TrimSpace(u.Text) == "" {
		return ErrEmptyText
	}
	if err := CheckRate(u.Rate); err != nil {
		return err
	}
	return CheckPitch(u.Pitch)
}

// CheckRate returns ErrOutOfRange when r is not a valid speaking rate.
func CheckRate(r float64) error {
	if r < MinRate || r > MaxRate {
		return fmt.Errorf("rate %.2f not in [%.1f, %.1f]: %w", r, MinRate, MaxRate, ErrOutOfRange)
	}
	return nil
}

// CheckPitch returns ErrOutOfRange when p is not a valid pitch.
func CheckPitch(p float64) error {
	if p < MinPitch || p > MaxPitch {
		return fmt.Errorf("pitch %.2f not in [%.1f, %.1f]: %w", p, MinPitch, MaxPitch, ErrOutOfRange)
	}
	return nil
}
