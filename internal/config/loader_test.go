package config_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/voxconv/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "invalid log level",
			yaml:    "server:\n  log_level: verbose\n",
			wantErr: "server.log_level",
		},
		{
			name:    "tls without key",
			yaml:    "server:\n  tls:\n    cert_file: cert.pem\n",
			wantErr: "server.tls",
		},
		{
			name:    "negative rate limit",
			yaml:    "server:\n  rate_limit: -1\n",
			wantErr: "server.rate_limit",
		},
		{
			name:    "fallback without name",
			yaml:    "providers:\n  tts:\n    name: openai\n  tts_fallbacks:\n    - api_key: x\n",
			wantErr: "providers.tts_fallbacks[0].name",
		},
		{
			name:    "fallback without primary",
			yaml:    "providers:\n  stt_fallbacks:\n    - name: whisper\n",
			wantErr: "requires providers.stt",
		},
		{
			name:    "rate out of range",
			yaml:    "synthesis:\n  rate: 3\n",
			wantErr: "synthesis.rate",
		},
		{
			name:    "pitch out of range",
			yaml:    "synthesis:\n  pitch: 0.1\n",
			wantErr: "synthesis.pitch",
		},
		{
			name:    "language not offered",
			yaml:    "transcription:\n  language: fr-FR\n  languages:\n    - code: en-US\n      name: English\n",
			wantErr: "transcription.language",
		},
		{
			name:    "duplicate language",
			yaml:    "transcription:\n  languages:\n    - code: en-US\n      name: A\n    - code: en-US\n      name: B\n",
			wantErr: "duplicate",
		},
		{
			name:    "language without name",
			yaml:    "transcription:\n  languages:\n    - code: en-US\n",
			wantErr: "transcription.languages[0].name",
		},
		{
			name:    "fft size not a power of two",
			yaml:    "transcription:\n  fft_size: 300\n",
			wantErr: "transcription.fft_size",
		},
		{
			name:    "smoothing out of range",
			yaml:    "transcription:\n  smoothing: 1\n",
			wantErr: "transcription.smoothing",
		},
		{
			name:    "share without bucket",
			yaml:    "share:\n  endpoint: minio:9000\n",
			wantErr: "share.bucket",
		},
		{
			name:    "share link ttl too long",
			yaml:    "share:\n  endpoint: minio:9000\n  bucket: b\n  link_ttl: 200h\n",
			wantErr: "share.link_ttl",
		},
		{
			name:    "sample rate out of range",
			yaml:    "telemetry:\n  traces_sample_rate: 2\n",
			wantErr: "telemetry.traces_sample_rate",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatalf("expected error mentioning %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should mention %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_ValidEdgeValues(t *testing.T) {
	t.Parallel()
	yaml := `
synthesis:
  rate: 0.5
  pitch: 2.0
  prepare_delay: -1s
transcription:
  fft_size: 32768
  smoothing: 0
share:
  endpoint: minio:9000
  bucket: b
  link_ttl: 168h
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
synthesis:
  rate: 9
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	// Should contain both failures, not just the first.
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") || !strings.Contains(errStr, "synthesis.rate") {
		t.Errorf("error should mention both problems, got: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	// Sanity-check that the map is populated.
	for _, kind := range []string{"tts", "stt"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Fatalf("ValidProviderNames[%q] should not be empty", kind)
		}
	}
	if !slices.Contains(config.ValidProviderNames["tts"], "openai") {
		t.Error(`ValidProviderNames["tts"] should contain "openai"`)
	}
	if !slices.Contains(config.ValidProviderNames["stt"], "deepgram") {
		t.Error(`ValidProviderNames["stt"] should contain "deepgram"`)
	}
}
