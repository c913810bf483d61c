package resilience

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/voxconv/pkg/provider/stt"
	"github.com/MrWong99/voxconv/pkg/provider/tts"
)

// ── Recognition ─────────────────────────────────────────────────────────────

// STTFallback is an [stt.Provider] that opens each recognition session on the
// first healthy backend of a [FallbackGroup].
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback returns an [STTFallback] preferring primary.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a backend.
func (f *STTFallback) AddFallback(name string, p stt.Provider) { f.group.AddFallback(name, p) }

// Names lists backends in failover order.
func (f *STTFallback) Names() []string { return f.group.Names() }

// StartStream covers only session setup. Once a session is running, its
// failure is reported through Err and ends the listening session; audio
// already sent cannot be replayed to another backend.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}

// ── Synthesis ───────────────────────────────────────────────────────────────

// TTSFallback is a [tts.Provider] over a [FallbackGroup] of synthesis
// backends. All backends must emit PCM at the same sample rate.
//
// Voice IDs are backend specific and the catalog shows the voices of
// whichever backend answered ListVoices. When a request reaches a backend
// that does not know the selected voice, that backend's first voice is used.
type TTSFallback struct {
	group   *FallbackGroup[tts.Provider]
	primary string

	mu     sync.Mutex
	voices map[string][]tts.Voice
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback returns a [TTSFallback] preferring primary.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group:   NewFallbackGroup(primary, primaryName, cfg),
		primary: primaryName,
		voices:  make(map[string][]tts.Voice),
	}
}

// AddFallback appends a backend.
func (f *TTSFallback) AddFallback(name string, p tts.Provider) { f.group.AddFallback(name, p) }

// Names lists backends in failover order.
func (f *TTSFallback) Names() []string { return f.group.Names() }

// Synthesize starts the utterance on the first healthy backend. A stream
// that breaks after it started is not retried, since part of it was
// already played.
func (f *TTSFallback) Synthesize(ctx context.Context, u tts.Utterance) (<-chan []byte, error) {
	return ExecuteNamed(f.group, func(name string, p tts.Provider) (<-chan []byte, error) {
		req := u
		if name != f.primary {
			req.VoiceID = f.voiceFor(ctx, name, p, u.VoiceID)
		}
		return p.Synthesize(ctx, req)
	})
}

// ListVoices returns the voices of the first healthy backend.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	return ExecuteNamed(f.group, func(name string, p tts.Provider) ([]tts.Voice, error) {
		voices, err := p.ListVoices(ctx)
		if err == nil {
			f.remember(name, voices)
		}
		return voices, err
	})
}

func (f *TTSFallback) remember(name string, voices []tts.Voice) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.voices[name] = slices.Clone(voices)
}

// voiceFor maps id onto a voice the named backend can speak. Lookup
// failures keep id and let the backend decide.
func (f *TTSFallback) voiceFor(ctx context.Context, name string, p tts.Provider, id string) string {
	f.mu.Lock()
	voices, ok := f.voices[name]
	f.mu.Unlock()
	if !ok {
		listed, err := p.ListVoices(ctx)
		if err != nil {
			return id
		}
		f.remember(name, listed)
		voices = listed
	}
	if len(voices) == 0 {
		return id
	}
	if slices.ContainsFunc(voices, func(v tts.Voice) bool { return v.ID == id }) {
		return id
	}
	return voices[0].ID
}
