// Package openai provides an STT provider backed by the OpenAI transcription
// API. The API transcribes whole files, so sessions are batch sessions: audio
// is segmented on silence and each utterance is uploaded as a WAV file.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/voxconv/pkg/audio"
	"github.com/MrWong99/voxconv/pkg/provider/stt"
	"github.com/MrWong99/voxconv/pkg/provider/stt/batch"
)

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = "whisper-1"

// Ensure Provider implements the stt.Provider interface.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
	seg    batch.Segmenter
}

type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	seg          batch.Segmenter
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithSegmenter overrides the silence segmentation thresholds.
func WithSegmenter(seg batch.Segmenter) Option {
	return func(c *config) {
		c.seg = seg
	}
}

// New constructs a new OpenAI STT Provider. If model is empty, DefaultModel is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{seg: batch.DefaultSegmenter()}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model, seg: cfg.seg}, nil
}

// StartStream implements stt.Provider.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("openai stt: context already cancelled: %w", err)
	}
	return batch.Start(ctx, batch.TranscriberFunc(p.transcribe), cfg, p.seg), nil
}

func (p *Provider) transcribe(ctx context.Context, pcm []byte, f audio.Format, language string) (string, error) {
	params := oai.AudioTranscriptionNewParams{
		File:           wavFile{bytes.NewReader(audio.EncodeWAV(pcm, f))},
		Model:          p.model,
		ResponseFormat: oai.AudioResponseFormatJSON,
	}
	if lang := isoLanguage(language); lang != "" {
		params.Language = param.NewOpt(lang)
	}
	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai stt: transcribe: %w", err)
	}
	return resp.Text, nil
}

// wavFile names the upload so the API can detect the container format.
type wavFile struct{ *bytes.Reader }

func (wavFile) Filename() string    { return "audio.wav" }
func (wavFile) Name() string        { return "audio.wav" }
func (wavFile) ContentType() string { return "audio/wav" }

// isoLanguage reduces a BCP-47 tag to ISO 639-1 ("pt-BR" → "pt").
func isoLanguage(tag string) string {
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}
