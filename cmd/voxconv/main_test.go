package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxconv/internal/config"
	"github.com/MrWong99/voxconv/internal/observe"
	"github.com/MrWong99/voxconv/internal/resilience"
	"github.com/MrWong99/voxconv/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxconv/pkg/provider/stt/mock"
	"github.com/MrWong99/voxconv/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voxconv/pkg/provider/tts/mock"
)

func TestOptHelpers(t *testing.T) {
	t.Parallel()

	opts := map[string]any{
		"language":   "de",
		"silence_ms": 700,
		"threshold":  250.5,
		"timeout":    "45s",
		"bad":        "forever",
	}
	if got := optString(opts, "language"); got != "de" {
		t.Errorf("optString = %q, want de", got)
	}
	if got := optString(opts, "silence_ms"); got != "" {
		t.Errorf("optString on int = %q, want empty", got)
	}
	if got := optInt(opts, "silence_ms"); got != 700 {
		t.Errorf("optInt = %d, want 700", got)
	}
	if got := optFloat(opts, "threshold"); got != 250.5 {
		t.Errorf("optFloat = %v, want 250.5", got)
	}
	if got := optDuration(opts, "timeout"); got != 45*time.Second {
		t.Errorf("optDuration = %s, want 45s", got)
	}
	if got := optDuration(opts, "bad"); got != 0 {
		t.Errorf("optDuration(bad) = %s, want 0", got)
	}
	if got := optInt(nil, "missing"); got != 0 {
		t.Errorf("optInt(nil) = %d, want 0", got)
	}
}

func TestSegmenter(t *testing.T) {
	t.Parallel()

	seg := segmenter(map[string]any{"silence_ms": 900, "rms_threshold": 120})
	if seg.SilenceMs != 900 || seg.RMSThreshold != 120 {
		t.Errorf("segmenter = %+v", seg)
	}
	if seg.MaxBufferMs == 0 {
		t.Error("unset max_buffer_ms should keep the default")
	}
}

func testRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterTTS("a", func(config.ProviderEntry) (tts.Provider, error) { return &ttsmock.Provider{}, nil })
	reg.RegisterTTS("b", func(config.ProviderEntry) (tts.Provider, error) { return &ttsmock.Provider{}, nil })
	reg.RegisterSTT("a", func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil })
	return reg
}

func TestBuildProviders(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Providers: config.ProvidersConfig{
		TTS:          config.ProviderEntry{Name: "a"},
		TTSFallbacks: []config.ProviderEntry{{Name: "b"}},
		STT:          config.ProviderEntry{Name: "a"},
	}}
	ps, err := buildProviders(cfg, testRegistry(), observe.DefaultMetrics())
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	fb, ok := ps.TTS.(*resilience.TTSFallback)
	if !ok {
		t.Fatalf("TTS = %T, want *resilience.TTSFallback", ps.TTS)
	}
	if names := fb.Names(); len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("fallback order = %v", names)
	}
	if _, ok := ps.STT.(*sttmock.Provider); !ok {
		t.Errorf("STT = %T, want the plain provider without fallbacks", ps.STT)
	}
	if ps.TTSName != "a" || ps.STTName != "a" {
		t.Errorf("names = %q/%q", ps.TTSName, ps.STTName)
	}
	// Voices flow through the failover group.
	if _, err := ps.TTS.ListVoices(context.Background()); err != nil {
		t.Errorf("ListVoices: %v", err)
	}
}

func TestBuildProviders_UnknownName(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Providers: config.ProvidersConfig{
		TTS:          config.ProviderEntry{Name: "a"},
		TTSFallbacks: []config.ProviderEntry{{Name: "nope"}},
	}}
	_, err := buildProviders(cfg, testRegistry(), observe.DefaultMetrics())
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
	if err != nil && !strings.Contains(err.Error(), "known tts backends: a, b") {
		t.Errorf("err = %v, want the known backends listed", err)
	}
}

func TestBuildProviders_Empty(t *testing.T) {
	t.Parallel()

	ps, err := buildProviders(&config.Config{}, testRegistry(), observe.DefaultMetrics())
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if ps.TTS != nil || ps.STT != nil {
		t.Errorf("expected no providers, got %+v", ps)
	}
}
