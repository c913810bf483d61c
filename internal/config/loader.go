package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"deepgram", "whisper", "whisper-native", "openai"},
	"tts": {"elevenlabs", "coqui", "openai", "piper"},
}

// maxLinkTTL is the longest validity S3 accepts for a presigned URL.
const maxLinkTTL = 7 * 24 * time.Hour

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// ${VAR} and $VAR references are replaced from the process environment
// before decoding so secrets can stay out of the file.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit %d must not be negative", cfg.Server.RateLimit))
	}
	if cfg.Server.RateWindow < 0 {
		errs = append(errs, fmt.Errorf("server.rate_window %s must not be negative", cfg.Server.RateWindow))
	}
	if cfg.Server.SendBuffer < 0 {
		errs = append(errs, fmt.Errorf("server.send_buffer %d must not be negative", cfg.Server.SendBuffer))
	}

	// Providers
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	for i, fb := range cfg.Providers.TTSFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_fallbacks[%d].name is required", i))
		}
		validateProviderName("tts", fb.Name)
	}
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
		}
		validateProviderName("stt", fb.Name)
	}
	if cfg.Providers.TTS.Name == "" && len(cfg.Providers.TTSFallbacks) > 0 {
		errs = append(errs, errors.New("providers.tts_fallbacks requires providers.tts"))
	}
	if cfg.Providers.STT.Name == "" && len(cfg.Providers.STTFallbacks) > 0 {
		errs = append(errs, errors.New("providers.stt_fallbacks requires providers.stt"))
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("providers.tts is not configured; the text-to-speech panel will report unsupported")
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("providers.stt is not configured; the speech-to-text panel will report unsupported")
	}

	// Synthesis
	syn := cfg.Synthesis
	if syn.Rate != 0 && (syn.Rate < 0.5 || syn.Rate > 2.0) {
		errs = append(errs, fmt.Errorf("synthesis.rate %.2f is out of range [0.5, 2.0]", syn.Rate))
	}
	if syn.Pitch != 0 && (syn.Pitch < 0.5 || syn.Pitch > 2.0) {
		errs = append(errs, fmt.Errorf("synthesis.pitch %.2f is out of range [0.5, 2.0]", syn.Pitch))
	}
	if syn.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("synthesis.sample_rate %d must not be negative", syn.SampleRate))
	}
	if syn.VoiceRefresh < 0 {
		errs = append(errs, fmt.Errorf("synthesis.voice_refresh %s must not be negative", syn.VoiceRefresh))
	}

	// Transcription
	errs = append(errs, validateTranscription(cfg.Transcription)...)

	// Share
	if sh := cfg.Share; sh.Endpoint != "" {
		if sh.Bucket == "" {
			errs = append(errs, errors.New("share.bucket is required when share.endpoint is set"))
		}
		if sh.LinkTTL < 0 || sh.LinkTTL > maxLinkTTL {
			errs = append(errs, fmt.Errorf("share.link_ttl %s is out of range (0, %s]", sh.LinkTTL, maxLinkTTL))
		}
	}

	// Telemetry
	if r := cfg.Telemetry.TracesSampleRate; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.traces_sample_rate %.2f is out of range [0, 1]", r))
	}

	return errors.Join(errs...)
}

func validateTranscription(tc TranscriptionConfig) []error {
	var errs []error

	seen := make(map[string]int, len(tc.Languages))
	for i, l := range tc.Languages {
		prefix := fmt.Sprintf("transcription.languages[%d]", i)
		if l.Code == "" {
			errs = append(errs, fmt.Errorf("%s.code is required", prefix))
			continue
		}
		if l.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if prev, ok := seen[l.Code]; ok {
			errs = append(errs, fmt.Errorf("%s.code %q is a duplicate of transcription.languages[%d]", prefix, l.Code, prev))
		}
		seen[l.Code] = i
	}
	if tc.Language != "" && len(tc.Languages) > 0 {
		if _, ok := seen[tc.Language]; !ok {
			errs = append(errs, fmt.Errorf("transcription.language %q is not in transcription.languages", tc.Language))
		}
	}

	if tc.MeterInterval < 0 {
		errs = append(errs, fmt.Errorf("transcription.meter_interval %s must not be negative", tc.MeterInterval))
	}
	if n := tc.FFTSize; n != 0 && (n < 32 || n > 32768 || n&(n-1) != 0) {
		errs = append(errs, fmt.Errorf("transcription.fft_size %d must be a power of two in [32, 32768]", n))
	}
	if s := tc.Smoothing; s < 0 || s >= 1 {
		errs = append(errs, fmt.Errorf("transcription.smoothing %.2f is out of range [0, 1)", s))
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
