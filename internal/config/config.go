// Package config provides the configuration schema, loader, and provider registry
// for the voxconv voice converter.
package config

import "time"

// LogLevel controls log verbosity for the voxconv server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for voxconv.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Synthesis     SynthesisConfig     `yaml:"synthesis"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Share         ShareConfig         `yaml:"share"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings for the voxconv server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins lists the CORS origins of the browser client. Empty
	// allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// WebSocketOrigins lists host patterns accepted for cross-origin
	// WebSocket upgrades (e.g., "app.example.com", "*.example.com").
	WebSocketOrigins []string `yaml:"websocket_origins"`

	// RateLimit caps REST requests per client IP within RateWindow.
	// Zero disables rate limiting.
	RateLimit int `yaml:"rate_limit"`

	// RateWindow is the rate limiting window. Default: 1m.
	RateWindow time.Duration `yaml:"rate_window"`

	// SendBuffer is the per-connection outbound frame queue. Default: 256.
	SendBuffer int `yaml:"send_buffer"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation backs each speech
// capability. Each entry selects a named provider registered in the [Registry].
// Fallback entries are tried in order when the primary's circuit breaker opens.
type ProvidersConfig struct {
	TTS          ProviderEntry   `yaml:"tts"`
	STT          ProviderEntry   `yaml:"stt"`
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "tts-1", "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// SynthesisConfig holds the defaults of the text-to-speech panel.
type SynthesisConfig struct {
	// PrepareDelay is the pause between Speak and the provider request.
	// Default: 300ms. Negative disables it.
	PrepareDelay time.Duration `yaml:"prepare_delay"`

	// Rate is the initial speaking rate in [0.5, 2.0]. Default: 1.0.
	Rate float64 `yaml:"rate"`

	// Pitch is the initial pitch in [0.5, 2.0]. Default: 1.0.
	Pitch float64 `yaml:"pitch"`

	// SampleRate is the PCM rate the TTS provider emits. Default: 24000.
	SampleRate int `yaml:"sample_rate"`

	// VoiceRefresh is how often the voice catalog is re-fetched. Zero
	// fetches once at startup.
	VoiceRefresh time.Duration `yaml:"voice_refresh"`
}

// TranscriptionConfig holds the defaults of the speech-to-text panel.
type TranscriptionConfig struct {
	// Language is the initially selected recognition language. Default: en-US.
	Language string `yaml:"language"`

	// Languages replaces the built-in language list when non-empty.
	Languages []LanguageEntry `yaml:"languages"`

	// MeterInterval is how often the level meter is sampled. Default: 16ms.
	MeterInterval time.Duration `yaml:"meter_interval"`

	// FFTSize is the analyser window in samples (power of two). Default: 256.
	FFTSize int `yaml:"fft_size"`

	// Smoothing is the analyser smoothing constant in [0, 1). Default: 0.8.
	Smoothing float64 `yaml:"smoothing"`
}

// LanguageEntry is one selectable recognition language.
type LanguageEntry struct {
	// Code is a BCP-47 tag (e.g., "en-US").
	Code string `yaml:"code"`

	// Name is the display name (e.g., "English (US)").
	Name string `yaml:"name"`
}

// ShareConfig configures the S3-compatible store that backs transcript
// sharing. Sharing is disabled when Endpoint is empty.
type ShareConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`

	// Secure selects HTTPS for the store connection.
	Secure bool `yaml:"secure"`

	// Prefix is prepended to every object key.
	Prefix string `yaml:"prefix"`

	// LinkTTL bounds presigned link validity. Default: 24h.
	LinkTTL time.Duration `yaml:"link_ttl"`

	// PublicURL, when set, is used to build permanent links instead of
	// presigning (e.g., a CDN in front of a public bucket).
	PublicURL string `yaml:"public_url"`
}

// TelemetryConfig configures tracing, metrics and error reporting.
type TelemetryConfig struct {
	// ServiceName is reported in telemetry. Default: "voxconv".
	ServiceName string `yaml:"service_name"`

	// SentryDSN enables Sentry error reporting when set.
	SentryDSN string `yaml:"sentry_dsn"`

	// Environment tags Sentry events (e.g., "production").
	Environment string `yaml:"environment"`

	// TracesSampleRate is the fraction of transactions sent to Sentry.
	TracesSampleRate float64 `yaml:"traces_sample_rate"`
}
